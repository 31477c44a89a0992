// CLAUDE:SUMMARY Engine wiring: store, fetcher, supervisor, dispatcher, reloader and the status API behind one lifecycle.
package guet

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hazyhaar/guet/dbopen"
	"github.com/hazyhaar/guet/internal/api"
	"github.com/hazyhaar/guet/internal/dispatch"
	"github.com/hazyhaar/guet/internal/events"
	"github.com/hazyhaar/guet/internal/fetch"
	"github.com/hazyhaar/guet/internal/notify"
	"github.com/hazyhaar/guet/internal/reload"
	"github.com/hazyhaar/guet/internal/store"
	"github.com/hazyhaar/guet/internal/supervise"
	"github.com/hazyhaar/guet/internal/watcher"
	"github.com/hazyhaar/guet/netguard"
)

// Engine assembles the monitoring pipeline and owns its lifecycle:
// one supervisor over per-target watchers, one dispatcher draining the
// alert outbox, a config reloader, a retention sweeper, and the HTTP
// status surface.
type Engine struct {
	configPath string
	logger     *slog.Logger

	mu  sync.Mutex
	cfg *Config

	db         *sql.DB
	store      *store.Store
	events     *events.Log
	fetcher    *fetch.Fetcher
	notifier   notify.Notifier
	supervisor *supervise.Supervisor
	dispatcher *dispatch.Dispatcher
	reloader   *reload.Watcher
	status     *api.Server

	startupSkips []TargetError
}

// Option configures an Engine during creation.
type Option func(*Engine)

// WithNotifier replaces the config-derived notifier stack. Useful for
// embedding the engine behind a custom alert sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// New loads the configuration at path and assembles an Engine. Invalid
// target entries are logged and skipped; they never fail construction.
// A config with zero valid targets still constructs, so an operator can
// fix the file while the process keeps serving status.
func New(path string, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	db, err := dbopen.Open(cfg.DB, dbopen.WithSchema(store.Schema), dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	e := &Engine{
		configPath: path,
		logger:     logger,
		cfg:        cfg,
		db:         db,
		store:      store.New(db),
		events:     events.New(db, events.WithLogger(logger)),
	}

	targets, skipped := cfg.BuildTargets()
	e.startupSkips = skipped

	fetchCfg := fetch.Config{
		Timeout:       cfg.Fetch.Timeout,
		RenderTimeout: cfg.Fetch.RenderTimeout,
		MaxBytes:      cfg.Fetch.MaxBytes,
		UserAgent:     cfg.Fetch.UserAgent,
	}
	if cfg.Fetch.AllowPrivate {
		fetchCfg.URLValidator = netguard.ValidateScheme
	}
	if anyRender(targets) {
		fetchCfg.Renderer = fetch.NewRenderer(logger)
	}
	e.fetcher = fetch.New(fetchCfg)

	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = buildNotifier(cfg.Notify, logger)
	}

	e.supervisor = supervise.New(e.fetcher, e.store, e.events, supervise.Config{
		Logger: logger,
		Watcher: watcher.Config{
			Thresholds: watcher.Thresholds{
				Degraded: cfg.Health.DegradedAfter,
				Failing:  cfg.Health.FailingAfter,
				Unknown:  cfg.Health.UnknownAfter,
			},
			DegradationPause: cfg.Health.DegradationPause,
			Logger:           logger,
		},
	})
	e.dispatcher = dispatch.New(e.store, e.events, e.notifier, dispatch.Config{
		PollInterval: cfg.Dispatch.Poll,
		BatchSize:    cfg.Dispatch.BatchSize,
		Visibility:   cfg.Dispatch.Visibility,
		Logger:       logger,
	})
	e.reloader = reload.New(path, reload.Options{
		Interval: cfg.Reload.Poll,
		Debounce: cfg.Reload.Debounce,
		Logger:   logger,
	})
	e.status = api.New(e.supervisor, e.store, e.events)

	return e, nil
}

// Start applies the initial target set and launches the background
// loops. Non-blocking; every loop stops when ctx is cancelled. Call
// Close afterwards to wait for in-flight work.
func (e *Engine) Start(ctx context.Context) {
	cfg := e.config()
	targets, _ := cfg.BuildTargets()

	for _, sk := range e.startupSkips {
		e.logger.Warn("config: target skipped", "error", sk.Error())
		e.events.Recordf(ctx, events.KindReload, sk.ID, "target skipped: %v", sk.Err)
	}
	if len(targets) == 0 {
		e.logger.Error("config: no valid targets, engine idle until a corrected reload")
		e.events.Record(ctx, events.KindReload, "", "configuration has no valid targets")
	}

	e.supervisor.Apply(ctx, targets)
	e.events.Recordf(ctx, events.KindReload, "", "configuration applied: %d targets", len(targets))

	go e.dispatcher.Run(ctx)
	go e.reloader.OnChange(ctx, func() error { return e.reloadConfig(ctx) })
	go e.maintenanceLoop(ctx)

	e.logger.Info("guet: started", "targets", len(targets), "db", cfg.DB)
}

// Handler returns the read-only HTTP status surface. The caller owns
// the http.Server wrapped around it.
func (e *Engine) Handler() http.Handler { return e.status }

// ListenAddr returns the configured status listen address.
func (e *Engine) ListenAddr() string { return e.config().Listen }

// Statuses snapshots every running watcher.
func (e *Engine) Statuses() []Status { return e.supervisor.Statuses() }

// Close stops all watchers, waits for their in-flight cycles, flushes
// whatever their final cycles left in the outbox, then releases the
// browser (if one was launched) and the database.
func (e *Engine) Close() error {
	e.supervisor.Close()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	e.dispatcher.Drain(flushCtx)
	cancel()

	var firstErr error
	if err := e.fetcher.Close(); err != nil {
		firstErr = err
	}
	if err := e.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	e.logger.Info("guet: closed")
	return firstErr
}

func (e *Engine) config() *Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) setConfig(cfg *Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// reloadConfig re-reads the file and reconciles the watcher set. A file
// that does not parse is rejected and retried on the next poll (the
// reloader does not advance its version on error). A parseable file
// with zero valid targets is reported but keeps the current set
// running; stopping every watcher over a typo would also delete their
// baselines.
func (e *Engine) reloadConfig(ctx context.Context) error {
	cfg, err := LoadFile(e.configPath)
	if err != nil {
		e.events.Recordf(ctx, events.KindReload, "", "reload rejected: %v", err)
		return err
	}

	targets, skipped := cfg.BuildTargets()
	for _, sk := range skipped {
		e.logger.Warn("config: target skipped", "error", sk.Error())
		e.events.Recordf(ctx, events.KindReload, sk.ID, "target skipped: %v", sk.Err)
	}
	if len(targets) == 0 {
		e.logger.Error("config: reload has no valid targets, keeping the current set")
		e.events.Record(ctx, events.KindReload, "", "reload has no valid targets, keeping the current set")
		return nil
	}

	cur := e.config()
	if cfg.DB != cur.DB || cfg.Listen != cur.Listen {
		// The store and listener are bound at startup.
		e.logger.Warn("config: db/listen changes need a restart, ignoring",
			"db", cfg.DB, "listen", cfg.Listen)
		cfg.DB = cur.DB
		cfg.Listen = cur.Listen
	}

	e.supervisor.Apply(ctx, targets)
	e.setConfig(cfg)
	e.events.Recordf(ctx, events.KindReload, "", "configuration applied: %d targets", len(targets))
	return nil
}

// maintenanceLoop prunes delivered alerts and old events on the sweep
// cadence and records a heartbeat so the event log shows liveness.
func (e *Engine) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config().Retention.Sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Engine) sweep(ctx context.Context) {
	cfg := e.config()
	if n, err := e.store.PruneDelivered(ctx, cfg.Retention.Alerts); err != nil {
		e.logger.Warn("maintenance: prune alerts", "error", err)
	} else if n > 0 {
		e.logger.Debug("maintenance: pruned delivered alerts", "rows", n)
	}
	if n, err := e.events.Prune(ctx, cfg.Retention.Events, cfg.Retention.EventRows); err != nil {
		e.logger.Warn("maintenance: prune events", "error", err)
	} else if n > 0 {
		e.logger.Debug("maintenance: pruned events", "rows", n)
	}

	pending, err := e.store.PendingAlerts(ctx)
	if err != nil {
		return
	}
	e.events.Recordf(ctx, events.KindHeartbeat, "", "alive: %d watchers, %d pending alerts",
		len(e.supervisor.Statuses()), pending)
}

func anyRender(targets []watcher.Target) bool {
	for _, t := range targets {
		if t.Render {
			return true
		}
	}
	return false
}

// buildNotifier assembles the alert sinks named in the configuration.
// Multiple sinks fan out; zero sinks fall back to the log so alerts are
// never silently dropped.
func buildNotifier(nc NotifyConfig, logger *slog.Logger) notify.Notifier {
	var sinks []notify.Notifier
	if nc.Log {
		sinks = append(sinks, notify.NewLog(logger))
	}
	if nc.Webhook != "" {
		sinks = append(sinks, notify.NewWebhook(nc.Webhook, notify.WithWebhookLogger(logger)))
	}
	if len(nc.Command) > 0 {
		sinks = append(sinks, notify.NewCommand(nc.Command[0], nc.Command[1:]))
	}
	switch len(sinks) {
	case 0:
		return notify.NewLog(logger)
	case 1:
		return sinks[0]
	default:
		return notify.NewMulti(logger, sinks...)
	}
}
