// CLAUDE:SUMMARY Per-target poll loop: fetch, extract, compare against the persisted baseline, alert through the outbox.
// Package watcher runs the per-target monitoring cycle.
//
// Each Watcher owns exactly one target: it polls on a fixed ticker, reduces
// the fetched page to a Signal, compares it with the last known signal and,
// when the transition is alert-worthy under the target's policy, commits the
// new state together with an outbox row in one transaction. The supervisor
// runs one Watcher goroutine per target; nothing here is shared between
// targets except the store.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/guet/idgen"
	"github.com/hazyhaar/guet/internal/events"
	"github.com/hazyhaar/guet/internal/extract"
	"github.com/hazyhaar/guet/internal/fetch"
	"github.com/hazyhaar/guet/internal/store"
)

// Phase is the watcher's observable position in its poll cycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseFetching   Phase = "fetching"
	PhaseExtracting Phase = "extracting"
	PhaseComparing  Phase = "comparing"
	PhaseAlerting   Phase = "alerting"
	PhasePersisting Phase = "persisting"
	PhaseStopped    Phase = "stopped"
)

// Observation is one poll cycle's outcome, consumed immediately by the
// comparison step.
type Observation struct {
	TargetID   string
	Signal     extract.Signal
	ObservedAt time.Time
	FetchOK    bool
}

// Fetcher retrieves target content. *fetch.Fetcher implements it; tests
// substitute fakes.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (*fetch.Result, error)
}

// Config tunes behaviour shared by all watchers.
type Config struct {
	Thresholds Thresholds
	// DegradationPause suspends polling after a degraded crossing so a
	// struggling site gets room to recover. Default: 180s.
	DegradationPause time.Duration
	Logger           *slog.Logger
	// Now is the clock, injectable for tests.
	Now func() time.Time
	// NewID generates alert event ids.
	NewID func() string
}

func (c *Config) defaults() {
	c.Thresholds.defaults()
	if c.DegradationPause <= 0 {
		c.DegradationPause = 180 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewID == nil {
		c.NewID = idgen.Prefixed("alr_", idgen.Default)
	}
}

// Status is a point-in-time snapshot for the status surface.
type Status struct {
	TargetID            string        `json:"target_id"`
	TargetName          string        `json:"target_name"`
	URL                 string        `json:"url"`
	PollInterval        time.Duration `json:"poll_interval"`
	Phase               Phase         `json:"phase"`
	Health              Health        `json:"health"`
	Signal              string        `json:"signal,omitempty"`
	ObservedAt          int64         `json:"observed_at,omitempty"`
	CheckedAt           int64         `json:"checked_at,omitempty"`
	LastAlertAt         int64         `json:"last_alert_at,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	UnknownStreak       int           `json:"unknown_streak"`
	LastError           string        `json:"last_error,omitempty"`
	PausedUntil         int64         `json:"paused_until,omitempty"`
}

// Watcher runs the poll cycle for one target. Run is the single writer of
// the watcher's state; the mutex only serves the Status readers.
type Watcher struct {
	target  Target
	fetcher Fetcher
	store   *store.Store
	events  *events.Log
	cfg     Config
	logger  *slog.Logger

	mu          sync.Mutex
	phase       Phase
	state       store.WatcherState
	pausedUntil time.Time

	// Cycle-local bookkeeping, touched only by the Run goroutine.
	lastForcedAt      time.Time
	reportedPermanent string
	unknownReported   bool
}

// New creates a Watcher. The target is validated (defaults filled in);
// fetcher, st and ev must be non-nil.
func New(target Target, fetcher Fetcher, st *store.Store, ev *events.Log, cfg Config) (*Watcher, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	cfg.defaults()
	return &Watcher{
		target:  target,
		fetcher: fetcher,
		store:   st,
		events:  ev,
		cfg:     cfg,
		logger:  cfg.Logger.With("target_id", target.ID),
		phase:   PhaseIdle,
		state:   store.WatcherState{TargetID: target.ID},
	}, nil
}

// Restore seeds the comparison baseline from a previous run's persisted
// state. Call before Run; a nil seed keeps the fresh zero baseline.
func (w *Watcher) Restore(seed *store.WatcherState) {
	if seed == nil {
		return
	}
	w.mu.Lock()
	w.state = *seed
	w.state.TargetID = w.target.ID
	w.mu.Unlock()

	if seed.SignalKind != "" && extract.SignalKind(seed.SignalKind) != w.target.Rule.SignalKind() {
		w.logger.Warn("watcher: restored baseline kind differs from the rule's output, next comparison reads as a transition",
			"stored_kind", seed.SignalKind, "rule_kind", string(w.target.Rule.Kind))
	}
}

// Target returns the immutable target definition.
func (w *Watcher) Target() Target { return w.target }

// Status returns a snapshot for the status surface.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{
		TargetID:            w.target.ID,
		TargetName:          w.target.Name,
		URL:                 w.target.URL,
		PollInterval:        w.target.PollInterval,
		Phase:               w.phase,
		Health:              w.cfg.Thresholds.HealthOf(w.state.ConsecutiveFailures, w.state.UnknownStreak),
		ObservedAt:          w.state.ObservedAt,
		CheckedAt:           w.state.CheckedAt,
		LastAlertAt:         w.state.LastAlertAt,
		ConsecutiveFailures: w.state.ConsecutiveFailures,
		UnknownStreak:       w.state.UnknownStreak,
		LastError:           w.state.LastError,
	}
	if sig, err := w.state.Signal(); err == nil && sig.Known() {
		s.Signal = sig.String()
	}
	if !w.pausedUntil.IsZero() && w.cfg.Now().Before(w.pausedUntil) {
		s.PausedUntil = w.pausedUntil.UnixMilli()
	}
	return s
}

// Run executes poll cycles until ctx is cancelled. The first cycle runs
// immediately so a fresh target gets its baseline without waiting out one
// interval. Missed ticks are dropped; the schedule never drifts to catch
// up. An in-flight cycle finishes (bounded by the fetch timeout) rather
// than being hard-killed.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info("watcher: started",
		"url", w.target.URL,
		"interval", w.target.PollInterval,
		"rule", string(w.target.Rule.Kind))

	ticker := time.NewTicker(w.target.PollInterval)
	defer ticker.Stop()

	if ctx.Err() == nil {
		w.cycle(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			w.setPhase(PhaseStopped)
			w.logger.Info("watcher: stopped")
			return
		case <-ticker.C:
			if w.pausedNow() {
				continue
			}
			w.cycle(ctx)
		}
	}
}

// cycle runs one fetch → extract → compare → persist pass over a local
// copy of the state, committed back at each exit point.
func (w *Watcher) cycle(ctx context.Context) {
	now := w.cfg.Now()
	st := w.snapshotState()
	st.CheckedAt = now.UnixMilli()

	w.setPhase(PhaseFetching)
	defer w.setPhase(PhaseIdle)

	res, err := w.fetcher.Fetch(ctx, w.buildRequest(&st, now))
	if err != nil {
		w.handleFetchError(ctx, &st, res, err, now)
		w.setPhase(PhasePersisting)
		w.persist(ctx, &st)
		w.commitState(st)
		return
	}

	if st.ConsecutiveFailures >= w.cfg.Thresholds.Degraded {
		w.events.Recordf(ctx, events.KindRecovered, w.target.ID,
			"fetch recovered after %d consecutive failures", st.ConsecutiveFailures)
	}
	st.ConsecutiveFailures = 0
	st.LastError = ""
	w.reportedPermanent = ""
	w.updateValidators(&st, res)

	if !res.Changed {
		// Content identical to the previous observation: the signal
		// cannot have moved, so only the check timestamp advances.
		w.setPhase(PhasePersisting)
		w.persist(ctx, &st)
		w.commitState(st)
		return
	}

	w.setPhase(PhaseExtracting)
	sig := extract.Evaluate(w.target.Rule, res.Body)
	if !sig.Known() {
		w.handleUnknown(ctx, &st, now)
		w.setPhase(PhasePersisting)
		w.persist(ctx, &st)
		w.commitState(st)
		return
	}
	st.UnknownStreak = 0
	w.unknownReported = false

	obs := Observation{TargetID: w.target.ID, Signal: sig, ObservedAt: now, FetchOK: true}
	w.compare(ctx, &st, obs, res.Body)
}

// buildRequest assembles the fetch request, attaching conditional-GET
// validators unless the force-refresh cadence is due.
func (w *Watcher) buildRequest(st *store.WatcherState, now time.Time) fetch.Request {
	req := fetch.Request{URL: w.target.URL, Render: w.target.Render}
	if w.target.ForceRefreshEvery > 0 && now.Sub(w.lastForcedAt) >= w.target.ForceRefreshEvery {
		w.lastForcedAt = now
		return req
	}
	req.ETag = st.ETag
	req.LastModified = st.LastModified
	req.PrevHash = st.ContentHash
	return req
}

// updateValidators carries the response validators into the state. On an
// unchanged response only non-empty values overwrite: a 304 without an
// ETag echo must not drop the stored validators.
func (w *Watcher) updateValidators(st *store.WatcherState, res *fetch.Result) {
	if res.Changed {
		st.ETag = res.ETag
		st.LastModified = res.LastModified
		st.ContentHash = res.Hash
		return
	}
	if res.ETag != "" {
		st.ETag = res.ETag
	}
	if res.LastModified != "" {
		st.LastModified = res.LastModified
	}
	if res.Hash != "" {
		st.ContentHash = res.Hash
	}
}

// handleFetchError books a failed fetch: transient errors ride the normal
// schedule until the degraded threshold crosses; permanent errors are
// reported once per distinct error and never escalate.
func (w *Watcher) handleFetchError(ctx context.Context, st *store.WatcherState, res *fetch.Result, err error, now time.Time) {
	st.ConsecutiveFailures++
	st.LastError = err.Error()

	status := 0
	if res != nil {
		status = res.StatusCode
	}
	if fetch.Classify(status, err) == fetch.ClassPermanent {
		if w.reportedPermanent == err.Error() {
			return
		}
		w.reportedPermanent = err.Error()
		w.logger.Error("watcher: permanent fetch failure", "error", err)
		alert := &store.AlertEvent{
			ID:         w.cfg.NewID(),
			TargetID:   w.target.ID,
			TargetName: w.target.Name,
			Kind:       store.AlertPermanentFailure,
			Message:    fmt.Sprintf("%s: unrecoverable fetch error: %v", w.target.Name, err),
			CreatedAt:  now.UnixMilli(),
		}
		if qerr := w.store.EnqueueAlert(ctx, alert); qerr != nil {
			w.logger.Error("watcher: enqueue permanent-failure alert failed", "error", qerr)
		}
		w.events.Record(ctx, events.KindPermanentFailure, w.target.ID, err.Error())
		return
	}

	w.logger.Warn("watcher: fetch failed",
		"error", err, "consecutive_failures", st.ConsecutiveFailures)
	if st.ConsecutiveFailures == w.cfg.Thresholds.Degraded {
		alert := &store.AlertEvent{
			ID:         w.cfg.NewID(),
			TargetID:   w.target.ID,
			TargetName: w.target.Name,
			Kind:       store.AlertDegraded,
			Message: fmt.Sprintf("%s: %d consecutive fetch failures, backing off %s",
				w.target.Name, st.ConsecutiveFailures, w.cfg.DegradationPause),
			CreatedAt: now.UnixMilli(),
		}
		if qerr := w.store.EnqueueAlert(ctx, alert); qerr != nil {
			w.logger.Error("watcher: enqueue degraded alert failed", "error", qerr)
		}
		w.events.Recordf(ctx, events.KindDegraded, w.target.ID,
			"%d consecutive fetch failures", st.ConsecutiveFailures)
		w.pause(now.Add(w.cfg.DegradationPause))
	}
}

// handleUnknown books an extraction that produced no signal. The baseline
// is left untouched; one diagnostic event per streak, and a degraded
// alert once the streak crosses the threshold.
func (w *Watcher) handleUnknown(ctx context.Context, st *store.WatcherState, now time.Time) {
	st.UnknownStreak++
	if !w.unknownReported {
		w.unknownReported = true
		w.logger.Debug("watcher: extraction yielded no signal",
			"rule", string(w.target.Rule.Kind), "selector", w.target.Rule.Selector)
		w.events.Recordf(ctx, events.KindExtractionUnknown, w.target.ID,
			"rule %s produced no signal", w.target.Rule.Kind)
	}
	if st.UnknownStreak == w.cfg.Thresholds.Unknown {
		alert := &store.AlertEvent{
			ID:         w.cfg.NewID(),
			TargetID:   w.target.ID,
			TargetName: w.target.Name,
			Kind:       store.AlertDegraded,
			Message: fmt.Sprintf("%s: no signal extracted for %d consecutive checks (page layout changed?)",
				w.target.Name, st.UnknownStreak),
			CreatedAt: now.UnixMilli(),
		}
		if qerr := w.store.EnqueueAlert(ctx, alert); qerr != nil {
			w.logger.Error("watcher: enqueue degraded alert failed", "error", qerr)
		}
		w.events.Recordf(ctx, events.KindDegraded, w.target.ID,
			"%d consecutive empty extractions", st.UnknownStreak)
		w.pause(now.Add(w.cfg.DegradationPause))
	}
}

// compare moves the baseline to the observed signal and, when the
// transition is alert-worthy, records state and alert atomically.
func (w *Watcher) compare(ctx context.Context, st *store.WatcherState, obs Observation, body []byte) {
	w.setPhase(PhaseComparing)
	now := obs.ObservedAt
	prev, perr := st.Signal()
	if perr != nil {
		// A baseline that no longer parses is treated as absent.
		w.logger.Warn("watcher: stored signal invalid, re-baselining", "error", perr)
	}

	alertWorthy := w.target.Policy.Differs(prev, obs.Signal) && w.cooldownElapsed(st, now)

	if !alertWorthy {
		switch {
		case !prev.Known():
			w.events.Recordf(ctx, events.KindTransition, w.target.ID,
				"baseline established: %s", obs.Signal)
		case !prev.Equal(obs.Signal):
			w.events.Recordf(ctx, events.KindTransition, w.target.ID,
				"%s -> %s (no alert)", prev, obs.Signal)
		}
		st.SetSignal(obs.Signal)
		st.ObservedAt = now.UnixMilli()
		w.setPhase(PhasePersisting)
		w.persist(ctx, st)
		w.commitState(*st)
		return
	}

	w.setPhase(PhaseAlerting)
	alert := &store.AlertEvent{
		ID:         w.cfg.NewID(),
		TargetID:   w.target.ID,
		TargetName: w.target.Name,
		Kind:       store.AlertTransition,
		Previous:   prev.String(),
		New:        obs.Signal.String(),
		Message:    transitionMessage(w.target, prev, obs.Signal),
		Evidence:   extract.Excerpt(body, w.target.Rule.Selector, extract.DefaultExcerptLen),
		CreatedAt:  now.UnixMilli(),
	}

	preAlert := *st
	st.SetSignal(obs.Signal)
	st.ObservedAt = now.UnixMilli()
	st.LastAlertAt = now.UnixMilli()

	w.setPhase(PhasePersisting)
	if err := w.store.RecordTransition(ctx, st, alert); err != nil {
		// Revert so the next cycle re-detects the transition; clearing
		// the validators forces a full refetch and re-extraction.
		w.logger.Error("watcher: persist transition failed, retrying next cycle", "error", err)
		*st = preAlert
		st.ETag, st.LastModified, st.ContentHash = "", "", ""
		w.commitState(*st)
		return
	}

	w.logger.Info("watcher: transition",
		"previous", alert.Previous, "new", alert.New)
	w.events.Recordf(ctx, events.KindTransition, w.target.ID,
		"%s -> %s (alert %s)", alert.Previous, alert.New, alert.ID)
	w.commitState(*st)

	if w.target.Policy.ResumePause > 0 {
		w.pause(now.Add(w.target.Policy.ResumePause))
	}
}

func (w *Watcher) cooldownElapsed(st *store.WatcherState, now time.Time) bool {
	if st.LastAlertAt == 0 {
		return true
	}
	return now.Sub(time.UnixMilli(st.LastAlertAt)) >= w.target.Policy.Cooldown
}

// persist writes st through to the store. Failures are logged only: the
// in-memory copy stays authoritative for the rest of the run.
func (w *Watcher) persist(ctx context.Context, st *store.WatcherState) {
	if err := w.store.PutState(ctx, st); err != nil {
		w.logger.Error("watcher: persist state failed", "error", err)
	}
}

func transitionMessage(t Target, prev, next extract.Signal) string {
	if next.Kind == extract.KindPrice {
		return fmt.Sprintf("%s: price %s -> %s", t.Name, prev, next)
	}
	return fmt.Sprintf("%s: %s -> %s", t.Name, prev, next)
}

func (w *Watcher) setPhase(p Phase) {
	w.mu.Lock()
	w.phase = p
	w.mu.Unlock()
}

func (w *Watcher) snapshotState() store.WatcherState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) commitState(st store.WatcherState) {
	w.mu.Lock()
	w.state = st
	w.mu.Unlock()
}

func (w *Watcher) pausedNow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg.Now().Before(w.pausedUntil)
}

// pause suspends cycles until the given time. Pauses only ever extend.
func (w *Watcher) pause(until time.Time) {
	w.mu.Lock()
	if until.After(w.pausedUntil) {
		w.pausedUntil = until
	}
	w.mu.Unlock()
	w.logger.Debug("watcher: paused", "until", until)
}
