// CLAUDE:SUMMARY Durable alert outbox: visibility-timeout claims, soft acks, recent-alert queries, retention.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Alert kinds.
const (
	AlertTransition       = "transition"
	AlertDegraded         = "degraded"
	AlertPermanentFailure = "permanent_failure"
)

// AlertEvent is one row in the alert outbox. Watchers produce them (inside
// RecordTransition for content transitions, via EnqueueAlert for health
// events); the dispatcher is the single consumer.
type AlertEvent struct {
	ID         string `json:"id"`
	TargetID   string `json:"target_id"`
	TargetName string `json:"target_name"`
	Kind       string `json:"kind"`
	Previous   string `json:"previous,omitempty"`
	New        string `json:"new,omitempty"`
	Message    string `json:"message"`
	Evidence   string `json:"evidence,omitempty"` // markdown excerpt of the matched region

	CreatedAt   int64 `json:"created_at"`
	Attempts    int   `json:"attempts,omitempty"`
	DeliveredAt int64 `json:"delivered_at,omitempty"` // 0 while pending
}

const insertAlertSQL = `
INSERT INTO alert_outbox (id, target_id, target_name, kind, prev_value,
    new_value, message, evidence, created_at)
VALUES (?,?,?,?,?,?,?,?,?)`

func insertAlertTx(ctx context.Context, tx *sql.Tx, a *AlertEvent) error {
	if _, err := tx.ExecContext(ctx, insertAlertSQL,
		a.ID, a.TargetID, a.TargetName, a.Kind, a.Previous, a.New,
		a.Message, a.Evidence, a.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// EnqueueAlert inserts an immediately-visible alert outside any state
// transaction. Health events (degraded, permanent failure) use this path.
func (s *Store) EnqueueAlert(ctx context.Context, a *AlertEvent) error {
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().UnixMilli()
	}
	if _, err := s.DB.ExecContext(ctx, insertAlertSQL,
		a.ID, a.TargetID, a.TargetName, a.Kind, a.Previous, a.New,
		a.Message, a.Evidence, a.CreatedAt,
	); err != nil {
		return fmt.Errorf("enqueue alert: %w", err)
	}
	return nil
}

// ClaimAlerts atomically claims up to n pending alerts, hiding them from
// other claims for the visibility duration. A claimed row that is never
// acked (crash mid-dispatch) reappears after the timeout. Returns an empty
// slice when nothing is pending.
func (s *Store) ClaimAlerts(ctx context.Context, n int, visibility time.Duration) ([]*AlertEvent, error) {
	now := time.Now()
	hideUntil := now.Add(visibility).UnixMilli()

	rows, err := s.DB.QueryContext(ctx, `
		UPDATE alert_outbox
		SET visible_at = ?, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM alert_outbox
			WHERE delivered_at IS NULL AND visible_at <= ?
			ORDER BY created_at ASC
			LIMIT ?
		)
		RETURNING id, target_id, target_name, kind, prev_value, new_value,
			message, evidence, created_at, attempts`,
		hideUntil, now.UnixMilli(), n,
	)
	if err != nil {
		return nil, fmt.Errorf("claim alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*AlertEvent
	for rows.Next() {
		var a AlertEvent
		if err := rows.Scan(
			&a.ID, &a.TargetID, &a.TargetName, &a.Kind, &a.Previous, &a.New,
			&a.Message, &a.Evidence, &a.CreatedAt, &a.Attempts,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// AckAlert marks an alert delivered. The row stays for the recent-alerts
// view until retention prunes it; it is never claimed again.
func (s *Store) AckAlert(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE alert_outbox SET delivered_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("ack alert: %w", err)
	}
	return nil
}

// PendingAlerts counts undelivered outbox rows.
func (s *Store) PendingAlerts(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alert_outbox WHERE delivered_at IS NULL`,
	).Scan(&n)
	return n, err
}

// RecentAlerts returns the newest alerts, delivered or pending.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]*AlertEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, target_id, target_name, kind, prev_value, new_value,
			message, evidence, created_at, attempts, delivered_at
		FROM alert_outbox
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*AlertEvent
	for rows.Next() {
		var a AlertEvent
		var delivered sql.NullInt64
		if err := rows.Scan(
			&a.ID, &a.TargetID, &a.TargetName, &a.Kind, &a.Previous, &a.New,
			&a.Message, &a.Evidence, &a.CreatedAt, &a.Attempts, &delivered,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if delivered.Valid {
			a.DeliveredAt = delivered.Int64
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// PruneDelivered deletes delivered alerts older than the retention window.
func (s *Store) PruneDelivered(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := time.Now().Add(-olderThan).UnixMilli()
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM alert_outbox WHERE delivered_at IS NOT NULL AND delivered_at < ?`,
		threshold,
	)
	if err != nil {
		return 0, fmt.Errorf("prune alerts: %w", err)
	}
	return res.RowsAffected()
}
