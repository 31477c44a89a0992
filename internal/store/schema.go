// CLAUDE:SUMMARY Applies the complete monitor SQL schema: watcher_states, alert_outbox, monitor_events.
package store

// Schema is the complete monitor schema. Idempotent; dbopen applies it at
// open time. All timestamps are milliseconds since epoch; 0 or NULL means
// "never".
const Schema = `
-- Per-target watcher state. One row per target, single writer.
CREATE TABLE IF NOT EXISTS watcher_states (
    target_id            TEXT PRIMARY KEY,
    signal_kind          TEXT NOT NULL DEFAULT '',
    signal_value         TEXT NOT NULL DEFAULT '',
    observed_at          INTEGER NOT NULL DEFAULT 0,
    checked_at           INTEGER NOT NULL DEFAULT 0,
    last_alert_at        INTEGER NOT NULL DEFAULT 0,
    etag                 TEXT NOT NULL DEFAULT '',
    last_modified        TEXT NOT NULL DEFAULT '',
    content_hash         TEXT NOT NULL DEFAULT '',
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    unknown_streak       INTEGER NOT NULL DEFAULT 0,
    last_error           TEXT NOT NULL DEFAULT '',
    updated_at           INTEGER NOT NULL
);

-- Durable alert queue, drained by the dispatcher. Rows are claimed with a
-- visibility timeout and soft-acked (delivered_at set) so recent alerts
-- stay queryable until retention prunes them.
CREATE TABLE IF NOT EXISTS alert_outbox (
    id           TEXT PRIMARY KEY,
    target_id    TEXT NOT NULL,
    target_name  TEXT NOT NULL DEFAULT '',
    kind         TEXT NOT NULL DEFAULT 'transition',
    prev_value   TEXT NOT NULL DEFAULT '',
    new_value    TEXT NOT NULL DEFAULT '',
    message      TEXT NOT NULL DEFAULT '',
    evidence     TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    visible_at   INTEGER NOT NULL DEFAULT 0,
    attempts     INTEGER NOT NULL DEFAULT 0,
    delivered_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON alert_outbox (delivered_at, visible_at);
CREATE INDEX IF NOT EXISTS idx_outbox_time ON alert_outbox (created_at DESC);

-- Business event log (observability): transitions, degradations, reload
-- results, diagnostics. Best-effort writes.
CREATE TABLE IF NOT EXISTS monitor_events (
    id         TEXT PRIMARY KEY,
    target_id  TEXT NOT NULL DEFAULT '',
    kind       TEXT NOT NULL,
    message    TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_time ON monitor_events (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_target ON monitor_events (target_id, created_at DESC);
`
