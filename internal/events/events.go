// Package events records business events (transitions, degradations, reload
// results, diagnostics) to the monitor_events table.
//
// Writes are best-effort by contract: a failed insert is logged and
// swallowed, because no watcher cycle or dispatch may stall on
// observability.
package events

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/guet/idgen"
)

// Event kinds.
const (
	KindTransition        = "transition"
	KindAlertDispatched   = "alert_dispatched"
	KindDegraded          = "degraded"
	KindRecovered         = "recovered"
	KindPermanentFailure  = "permanent_failure"
	KindExtractionUnknown = "extraction_unknown"
	KindReload            = "reload"
	KindWatcherRestart    = "watcher_restart"
	KindNotifierError     = "notifier_error"
	KindHeartbeat         = "heartbeat"
)

// Event is one row in the monitor event log.
type Event struct {
	ID        string `json:"id"`
	TargetID  string `json:"target_id,omitempty"`
	Kind      string `json:"kind"`
	Message   string `json:"message,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Log writes and queries monitor events.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
	newID  idgen.Generator
}

// Option configures a Log.
type Option func(*Log)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(lg *Log) { lg.logger = l }
}

// WithIDGenerator sets a custom ID generator for event IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(lg *Log) { lg.newID = gen }
}

// New creates an event log over an opened database (monitor_events table
// applied).
func New(db *sql.DB, opts ...Option) *Log {
	l := &Log{
		db:     db,
		logger: slog.Default(),
		newID:  idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Record inserts an event. Failures are logged, never returned.
func (l *Log) Record(ctx context.Context, kind, targetID, message string) {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO monitor_events (id, target_id, kind, message, created_at)
		VALUES (?,?,?,?,?)`,
		l.newID(), targetID, kind, message, time.Now().UnixMilli(),
	)
	if err != nil {
		l.logger.Warn("events: record failed", "kind", kind, "target_id", targetID, "error", err)
	}
}

// Recordf is Record with a formatted message.
func (l *Log) Recordf(ctx context.Context, kind, targetID, format string, args ...any) {
	l.Record(ctx, kind, targetID, fmt.Sprintf(format, args...))
}

// Recent returns the newest events, newest first. An empty targetID returns
// events for all targets.
func (l *Log) Recent(ctx context.Context, targetID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT id, target_id, kind, message, created_at FROM monitor_events`
	args := []any{}
	if targetID != "" {
		q += ` WHERE target_id = ?`
		args = append(args, targetID)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TargetID, &e.Kind, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Prune enforces retention: events older than maxAge go, then the newest
// maxRows are kept. Zero disables the respective limit.
func (l *Log) Prune(ctx context.Context, maxAge time.Duration, maxRows int) (int64, error) {
	var total int64

	if maxAge > 0 {
		threshold := time.Now().Add(-maxAge).UnixMilli()
		res, err := l.db.ExecContext(ctx,
			`DELETE FROM monitor_events WHERE created_at < ?`, threshold)
		if err != nil {
			return total, fmt.Errorf("prune by age: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if maxRows > 0 {
		res, err := l.db.ExecContext(ctx, `
			DELETE FROM monitor_events WHERE id NOT IN (
				SELECT id FROM monitor_events ORDER BY created_at DESC LIMIT ?
			)`, maxRows)
		if err != nil {
			return total, fmt.Errorf("prune by count: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	return total, nil
}
