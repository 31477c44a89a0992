// Package dispatch drains the durable alert outbox and fans alerts out to
// the configured notifiers.
//
// An alert is considered delivered once dispatched, not once a device
// acknowledged it: notifier failures are logged and recorded as events,
// and the row is acked regardless. The claim visibility timeout exists
// only so a crash between claim and ack re-delivers on the next run.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/guet/internal/events"
	"github.com/hazyhaar/guet/internal/notify"
	"github.com/hazyhaar/guet/internal/store"
)

// Config configures a Dispatcher.
type Config struct {
	// PollInterval is how often the outbox is checked for pending
	// alerts. Default: 2s.
	PollInterval time.Duration
	// BatchSize is the maximum number of alerts claimed per query.
	// Default: 16.
	BatchSize int
	// Visibility is how long a claimed alert stays invisible before a
	// crashed dispatcher's claims become re-deliverable. Default: 30s.
	Visibility time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.Visibility <= 0 {
		c.Visibility = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Dispatcher is the single consumer of the alert outbox.
type Dispatcher struct {
	store    *store.Store
	events   *events.Log
	notifier notify.Notifier
	cfg      Config
	logger   *slog.Logger
}

// New creates a Dispatcher delivering through n.
func New(st *store.Store, ev *events.Log, n notify.Notifier, cfg Config) *Dispatcher {
	cfg.defaults()
	if n == nil {
		n = notify.Nop{}
	}
	return &Dispatcher{
		store:    st,
		events:   ev,
		notifier: n,
		cfg:      cfg,
		logger:   cfg.Logger,
	}
}

// Run polls the outbox until ctx is cancelled. The first drain happens
// immediately, which is what re-delivers rows a previous process claimed
// but never acked.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatch: started",
		"poll", d.cfg.PollInterval, "batch", d.cfg.BatchSize, "visibility", d.cfg.Visibility)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatch: stopped")
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

// Drain performs one synchronous pass over the outbox. Shutdown calls it
// after the watchers have stopped so alerts enqueued by their final cycles
// still go out before the store closes.
func (d *Dispatcher) Drain(ctx context.Context) {
	d.drain(ctx)
}

// drain claims and dispatches batches until nothing is visible.
func (d *Dispatcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		batch, err := d.store.ClaimAlerts(ctx, d.cfg.BatchSize, d.cfg.Visibility)
		if err != nil {
			d.logger.Warn("dispatch: claim failed", "error", err)
			return
		}
		if len(batch) == 0 {
			return
		}
		for _, a := range batch {
			d.dispatch(ctx, a)
		}
	}
}

// dispatch delivers one alert and acks it, fan-out sequential per event.
func (d *Dispatcher) dispatch(ctx context.Context, a *store.AlertEvent) {
	if err := d.notifier.Notify(ctx, notification(a)); err != nil {
		d.logger.Error("dispatch: notify failed",
			"alert_id", a.ID, "target_id", a.TargetID, "error", err)
		d.events.Recordf(ctx, events.KindNotifierError, a.TargetID,
			"alert %s: %v", a.ID, err)
	}

	if err := d.store.AckAlert(ctx, a.ID); err != nil {
		// Left claimed; the visibility timeout re-delivers it.
		d.logger.Error("dispatch: ack failed", "alert_id", a.ID, "error", err)
		return
	}

	d.events.Recordf(ctx, events.KindAlertDispatched, a.TargetID,
		"%s (%s)", a.Message, a.ID)
	d.logger.Info("dispatch: alert dispatched",
		"alert_id", a.ID, "target_id", a.TargetID, "kind", a.Kind, "attempt", a.Attempts)
}

// notification formats an outbox row for the notifier interface.
func notification(a *store.AlertEvent) notify.Notification {
	return notify.Notification{
		TargetID:   a.TargetID,
		TargetName: a.TargetName,
		Message:    a.Message,
		Severity:   severityFor(a.Kind),
	}
}

func severityFor(kind string) notify.Severity {
	switch kind {
	case store.AlertTransition:
		return notify.SeverityCritical
	case store.AlertDegraded, store.AlertPermanentFailure:
		return notify.SeverityWarning
	default:
		return notify.SeverityInfo
	}
}
