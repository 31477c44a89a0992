// CLAUDE:SUMMARY Re-exports watcher/extract/store types (Target, Rule, Status, AlertEvent) as the guet public API.
// Package guet provides multi-target web page monitoring.
//
// It polls product and status pages, extracts stock/price/text signals
// from the HTML, detects state transitions against a persisted baseline,
// and delivers deduplicated alerts through pluggable notifiers. All
// state lives in a single SQLite file, so a restart resumes from the
// last observed baseline without re-alerting.
package guet

import (
	"github.com/hazyhaar/guet/internal/extract"
	"github.com/hazyhaar/guet/internal/notify"
	"github.com/hazyhaar/guet/internal/store"
	"github.com/hazyhaar/guet/internal/watcher"
)

// Re-export the monitoring types for public API.
type (
	Target       = watcher.Target
	Policy       = watcher.Policy
	Thresholds   = watcher.Thresholds
	Status       = watcher.Status
	Health       = watcher.Health
	PriceMode    = watcher.PriceMode
	Direction    = watcher.Direction
	Rule         = extract.Rule
	RuleKind     = extract.RuleKind
	Signal       = extract.Signal
	WatcherState = store.WatcherState
	AlertEvent   = store.AlertEvent
	Notification = notify.Notification
	Notifier     = notify.Notifier
	Severity     = notify.Severity
)

// Re-exported constants, since internal packages are not importable by
// hosting shells.
const (
	Healthy  = watcher.Healthy
	Degraded = watcher.Degraded
	Failing  = watcher.Failing

	PriceAnyChange = watcher.PriceAnyChange
	PriceThreshold = watcher.PriceThreshold

	DirectionAny  = watcher.DirectionAny
	DirectionUp   = watcher.DirectionUp
	DirectionDown = watcher.DirectionDown

	RuleMarkerPresence = extract.RuleMarkerPresence
	RuleTextEquals     = extract.RuleTextEquals
	RulePrice          = extract.RulePrice

	InStock    = extract.InStock
	OutOfStock = extract.OutOfStock

	SeverityInfo     = notify.SeverityInfo
	SeverityWarning  = notify.SeverityWarning
	SeverityCritical = notify.SeverityCritical
)
