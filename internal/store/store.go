// Package store is the persistence layer for the monitor: per-target watcher
// state, the durable alert outbox, and the business event log, all in one
// SQLite database.
//
// Watcher state rows have a single writer (the owning watcher); the outbox is
// multi-producer, single-consumer (the dispatcher). Nothing here holds locks
// above the storage engine.
package store

import (
	"database/sql"
	"errors"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the monitor database.
type Store struct {
	DB *sql.DB
}

// New creates a Store from an already-opened database connection. The caller
// is expected to have applied Schema (dbopen.WithSchema does).
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}
