// Package supervise owns the live set of watchers and reconciles it
// against the configured targets.
//
// Each target runs in its own goroutine with its own cancel; one target
// failing, stalling, or crashing never affects another. The supervisor is
// also the only component that deletes persisted watcher state, and it
// does so only when a target leaves the configuration.
package supervise

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/guet/internal/events"
	"github.com/hazyhaar/guet/internal/store"
	"github.com/hazyhaar/guet/internal/watcher"
)

// task holds one running watcher and its lifecycle handles.
type task struct {
	watcher *watcher.Watcher
	target  watcher.Target
	cancel  context.CancelFunc
	done    chan struct{}
}

// Config configures a Supervisor.
type Config struct {
	// RestartBackoff is the delay before reviving a watcher whose
	// goroutine died, doubling per consecutive crash up to
	// RestartBackoffMax. Defaults 30s and 5m.
	RestartBackoff    time.Duration
	RestartBackoffMax time.Duration

	// Watcher is handed to every watcher the supervisor starts.
	Watcher watcher.Config

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = 30 * time.Second
	}
	if c.RestartBackoffMax <= 0 {
		c.RestartBackoffMax = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Supervisor manages one watcher goroutine per configured target.
type Supervisor struct {
	fetcher watcher.Fetcher
	store   *store.Store
	events  *events.Log
	cfg     Config
	logger  *slog.Logger

	mu    sync.Mutex
	tasks map[string]*task

	// lifecycleCtx parents every watcher's run context, so watchers
	// survive the short-lived contexts Apply is typically called with
	// (an HTTP handler, a reload tick).
	lifecycleCtx    context.Context
	lifecycleCancel context.CancelFunc
}

// New creates a Supervisor. Watchers start on the first Apply.
func New(fetcher watcher.Fetcher, st *store.Store, ev *events.Log, cfg Config) *Supervisor {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		fetcher:         fetcher,
		store:           st,
		events:          ev,
		cfg:             cfg,
		logger:          cfg.Logger,
		tasks:           make(map[string]*task),
		lifecycleCtx:    ctx,
		lifecycleCancel: cancel,
	}
}

// Apply reconciles the running watcher set against targets. New targets
// start, seeded from persisted state when present. Removed targets stop
// and their state row is deleted. Targets whose definition changed are
// stopped and restarted; their persisted state survives as the comparison
// baseline. A target that fails to start is logged and skipped, leaving
// the rest of the set untouched.
func (s *Supervisor) Apply(ctx context.Context, targets []watcher.Target) {
	desired := make(map[string]watcher.Target, len(targets))
	for _, tg := range targets {
		desired[tg.ID] = tg
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.tasks {
		tg, exists := desired[id]
		switch {
		case !exists:
			s.stopLocked(id, t)
			delete(s.tasks, id)
			if err := s.store.DeleteState(ctx, id); err != nil {
				s.logger.Error("supervise: delete state", "target_id", id, "error", err)
			}
			s.logger.Info("supervise: target removed", "target_id", id)
		case !t.target.Equal(tg):
			s.stopLocked(id, t)
			delete(s.tasks, id)
		}
	}

	for _, tg := range desired {
		if _, running := s.tasks[tg.ID]; running {
			continue
		}
		s.startLocked(ctx, tg)
	}

	s.logger.Info("supervise: configuration applied",
		"running", len(s.tasks), "configured", len(desired))
}

// Statuses returns a snapshot of every running watcher, ordered by target id.
func (s *Supervisor) Statuses() []watcher.Status {
	s.mu.Lock()
	out := make([]watcher.Status, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.watcher.Status())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}

// Status returns the status of one target's watcher.
func (s *Supervisor) Status(targetID string) (watcher.Status, bool) {
	s.mu.Lock()
	t, ok := s.tasks[targetID]
	s.mu.Unlock()

	if !ok {
		return watcher.Status{}, false
	}
	return t.watcher.Status(), true
}

// Close stops every watcher and waits for in-flight cycles to finish.
func (s *Supervisor) Close() {
	s.lifecycleCancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		s.stopLocked(id, t)
	}
	s.tasks = make(map[string]*task)
}

func (s *Supervisor) startLocked(ctx context.Context, tg watcher.Target) {
	w, err := watcher.New(tg, s.fetcher, s.store, s.events, s.cfg.Watcher)
	if err != nil {
		s.logger.Error("supervise: start watcher",
			"target_id", tg.ID, "error", err)
		return
	}

	seed, err := s.store.GetState(ctx, tg.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// First time this target is seen: fresh baseline.
	case err != nil:
		s.logger.Warn("supervise: load persisted state, starting fresh",
			"target_id", tg.ID, "error", err)
	default:
		w.Restore(seed)
	}

	runCtx, cancel := context.WithCancel(s.lifecycleCtx)
	t := &task{watcher: w, target: tg, cancel: cancel, done: make(chan struct{})}
	s.tasks[tg.ID] = t

	go s.run(runCtx, t)
	s.logger.Info("supervise: watcher started", "target_id", tg.ID, "url", tg.URL)
}

// stopLocked cancels a task and waits for its goroutine to exit, so a
// rapid remove/re-add cannot leave two cycles writing the same state row.
func (s *Supervisor) stopLocked(id string, t *task) {
	t.cancel()
	<-t.done
	s.logger.Info("supervise: watcher stopped", "target_id", id)
}

// run keeps one watcher alive until its context is cancelled. A panic is
// contained to this goroutine: it is recorded and the watcher revived
// after a backoff, without touching other targets.
func (s *Supervisor) run(ctx context.Context, t *task) {
	defer close(t.done)

	backoff := s.cfg.RestartBackoff
	for {
		if s.runOnce(ctx, t) || ctx.Err() != nil {
			return
		}

		s.events.Recordf(ctx, events.KindWatcherRestart, t.target.ID,
			"watcher crashed, restarting in %s", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.cfg.RestartBackoffMax {
			backoff = s.cfg.RestartBackoffMax
		}
	}
}

// runOnce reports true when the watcher returned normally (context
// cancelled) and false when it panicked.
func (s *Supervisor) runOnce(ctx context.Context, t *task) (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("supervise: watcher panicked",
				"target_id", t.target.ID,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	t.watcher.Run(ctx)
	return true
}
