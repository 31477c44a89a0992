package notify

import (
	"context"
	"log/slog"
)

// Multi fans out notifications to all configured notifiers. One notifier
// error does not block the others; errors are logged and the first
// encountered is returned.
type Multi struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewMulti creates a fan-out notifier delivering to all notifiers.
func NewMulti(logger *slog.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{notifiers: notifiers, logger: logger}
}

func (m *Multi) Notify(ctx context.Context, n Notification) error {
	var firstErr error
	for _, nt := range m.notifiers {
		if err := nt.Notify(ctx, n); err != nil {
			m.logger.Warn("notify: delivery failed", "target_id", n.TargetID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
