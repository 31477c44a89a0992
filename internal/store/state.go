package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/guet/dbopen"
	"github.com/hazyhaar/guet/internal/extract"
)

// WatcherState is the persisted per-target record. It carries the comparison
// baseline (the last known signal), the alert cooldown anchor, cache
// validators for conditional GET, and failure counters.
type WatcherState struct {
	TargetID    string `json:"target_id"`
	SignalKind  string `json:"signal_kind"`  // "" until a signal is known
	SignalValue string `json:"signal_value"`

	ObservedAt  int64 `json:"observed_at,omitempty"`   // ms; signal last confirmed
	CheckedAt   int64 `json:"checked_at,omitempty"`    // ms; last completed cycle
	LastAlertAt int64 `json:"last_alert_at,omitempty"` // ms; cooldown anchor

	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	ContentHash  string `json:"content_hash,omitempty"`

	ConsecutiveFailures int    `json:"consecutive_failures"`
	UnknownStreak       int    `json:"unknown_streak"`
	LastError           string `json:"last_error,omitempty"`
	UpdatedAt           int64  `json:"updated_at"`
}

// Signal rehydrates the last known signal. The zero (unknown) signal is
// returned when no signal has been recorded yet.
func (s *WatcherState) Signal() (extract.Signal, error) {
	return extract.ParseSignal(s.SignalKind, s.SignalValue)
}

// SetSignal records sig as the last known signal. Unknown signals are
// rejected: the baseline only ever moves to a known value.
func (s *WatcherState) SetSignal(sig extract.Signal) {
	if !sig.Known() {
		return
	}
	s.SignalKind = string(sig.Kind)
	s.SignalValue = sig.Value
}

const upsertStateSQL = `
INSERT INTO watcher_states (target_id, signal_kind, signal_value,
    observed_at, checked_at, last_alert_at, etag, last_modified, content_hash,
    consecutive_failures, unknown_streak, last_error, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(target_id) DO UPDATE SET
    signal_kind=excluded.signal_kind,
    signal_value=excluded.signal_value,
    observed_at=excluded.observed_at,
    checked_at=excluded.checked_at,
    last_alert_at=excluded.last_alert_at,
    etag=excluded.etag,
    last_modified=excluded.last_modified,
    content_hash=excluded.content_hash,
    consecutive_failures=excluded.consecutive_failures,
    unknown_streak=excluded.unknown_streak,
    last_error=excluded.last_error,
    updated_at=excluded.updated_at`

func stateArgs(s *WatcherState) []any {
	return []any{
		s.TargetID, s.SignalKind, s.SignalValue,
		s.ObservedAt, s.CheckedAt, s.LastAlertAt,
		s.ETag, s.LastModified, s.ContentHash,
		s.ConsecutiveFailures, s.UnknownStreak, s.LastError, s.UpdatedAt,
	}
}

// GetState retrieves the persisted state for a target. Returns ErrNotFound
// when the target has never been persisted.
func (s *Store) GetState(ctx context.Context, targetID string) (*WatcherState, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT target_id, signal_kind, signal_value, observed_at, checked_at,
		last_alert_at, etag, last_modified, content_hash,
		consecutive_failures, unknown_streak, last_error, updated_at
		FROM watcher_states WHERE target_id = ?`, targetID)

	var st WatcherState
	err := row.Scan(
		&st.TargetID, &st.SignalKind, &st.SignalValue, &st.ObservedAt, &st.CheckedAt,
		&st.LastAlertAt, &st.ETag, &st.LastModified, &st.ContentHash,
		&st.ConsecutiveFailures, &st.UnknownStreak, &st.LastError, &st.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan state: %w", err)
	}
	return &st, nil
}

// PutState atomically replaces the full state row for a target.
func (s *Store) PutState(ctx context.Context, st *WatcherState) error {
	st.UpdatedAt = time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx, upsertStateSQL, stateArgs(st)...)
	if err != nil {
		return fmt.Errorf("put state: %w", err)
	}
	return nil
}

// DeleteState removes the persisted state for a target that left the
// configuration.
func (s *Store) DeleteState(ctx context.Context, targetID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM watcher_states WHERE target_id = ?`, targetID)
	if err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// RecordTransition persists the new state and enqueues the alert in one
// transaction. The alert row exists iff the state that gates its re-emission
// is committed, which is what makes each transition alert fire exactly once.
func (s *Store) RecordTransition(ctx context.Context, st *WatcherState, alert *AlertEvent) error {
	st.UpdatedAt = time.Now().UnixMilli()
	if alert.CreatedAt == 0 {
		alert.CreatedAt = st.UpdatedAt
	}
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertStateSQL, stateArgs(st)...); err != nil {
			return fmt.Errorf("put state: %w", err)
		}
		if err := insertAlertTx(ctx, tx, alert); err != nil {
			return err
		}
		return nil
	})
}
