// Package notify defines delivery backends for alerts. Implementations
// deliver notifications to different surfaces (log, webhook, external
// command, in-process callback); the dispatcher fans out through Multi.
package notify

import "context"

// Severity grades a notification for the receiving surface.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notification is one alert handed to a Notifier. Message is already
// formatted for display; TargetID and TargetName let the receiver group
// or route without parsing it.
type Notification struct {
	TargetID   string   `json:"target_id"`
	TargetName string   `json:"target_name"`
	Message    string   `json:"message"`
	Severity   Severity `json:"severity"`
}

// Notifier delivers a notification. Implementations must be safe for
// concurrent use. A returned error means this delivery failed; callers
// treat delivery as best-effort and never retry through the Notifier.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a plain function to the Notifier interface. This is the
// in-process path: when the hosting shell lives in the same binary,
// alerts are delivered as function calls with zero serialisation.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, n)
}

// Nop discards every notification. Useful in tests and as a default.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }
