// Package reload provides the "poll a file, detect change, debounce,
// reload" loop behind runtime configuration updates.
//
// Change detection is content-hash based, so touching the file without
// editing it does not trigger a reload, and editors that write in several
// passes are absorbed by the debounce window.
package reload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ChangeDetector reads a version token. Two calls that return different
// values mean "something changed". For files the token is a content hash.
type ChangeDetector func(ctx context.Context) (string, error)

// Options tunes the watcher behaviour.
type Options struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change is detected before the
	// action fires. More changes during the window reset the timer.
	// 0 means fire immediately. Default: 0.
	Debounce time.Duration
	// Detector overrides the default FileHash detector.
	Detector ChangeDetector
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults(path string) {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Debounce < 0 {
		o.Debounce = 0
	}
	if o.Detector == nil {
		o.Detector = FileHash(path)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a configuration file for changes and runs an action when
// one is detected. Safe for concurrent use.
type Watcher struct {
	opts Options

	mu      sync.Mutex
	version string // last successfully processed token

	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	reloads atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks          int64 `json:"checks"`
	ChangesDetected int64 `json:"changes_detected"`
	Errors          int64 `json:"errors"`
	Reloads         int64 `json:"reloads"`
}

// New creates a Watcher over path. Call OnChange to start the loop.
func New(path string, opts Options) *Watcher {
	opts.defaults(path)
	return &Watcher{opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		Reloads:         w.reloads.Load(),
	}
}

// Version returns the last successfully processed token.
func (w *Watcher) Version() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.version
}

func (w *Watcher) setVersion(v string) {
	w.mu.Lock()
	w.version = v
	w.mu.Unlock()
}

// OnChange blocks until ctx is cancelled, polling at opts.Interval. When
// the detector reports a new token and the debounce window passes without
// further changes, action runs.
//
// If action returns an error the version is NOT advanced, so the reload
// retries on the next poll cycle until the file is corrected.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger

	// Seed so the file present at startup does not count as a change;
	// the initial load is the caller's explicit first step.
	v, err := w.opts.Detector(ctx)
	if err != nil {
		log.Warn("reload: initial check failed", "error", err)
	} else {
		w.setVersion(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := "" // a content hash is never empty

	log.Info("reload: watching", "interval", w.opts.Interval, "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			log.Info("reload: stopped")
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(ctx)
			if err != nil {
				w.errors.Add(1)
				log.Warn("reload: check failed", "error", err)
				continue
			}
			if cur != w.Version() && cur != pending {
				w.changes.Add(1)
				pending = cur

				if w.opts.Debounce <= 0 {
					w.fire(log, action, pending)
					pending = ""
				} else {
					if debounceTimer != nil {
						debounceTimer.Stop()
					}
					debounceTimer = time.NewTimer(w.opts.Debounce)
					debounceCh = debounceTimer.C
					log.Debug("reload: change detected, debouncing")
				}
			}

		case <-debounceCh:
			debounceCh = nil
			if pending != "" {
				w.fire(log, action, pending)
				pending = ""
			}
		}
	}
}

func (w *Watcher) fire(log *slog.Logger, action func() error, token string) {
	log.Info("reload: configuration changed, reloading")
	start := time.Now()
	if err := action(); err != nil {
		w.errors.Add(1)
		log.Error("reload: reload failed", "error", err)
		return
	}
	w.reloads.Add(1)
	w.setVersion(token)
	log.Info("reload: reload complete", "duration", time.Since(start))
}

// FileHash returns a ChangeDetector that hashes the file's contents.
func FileHash(path string) ChangeDetector {
	return func(_ context.Context) (string, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		sum := sha256.Sum256(b)
		return hex.EncodeToString(sum[:]), nil
	}
}
