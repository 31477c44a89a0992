package notify

import (
	"context"
	"log/slog"
)

// Log writes notifications to a slog.Logger, mapping severity to the
// closest log level. It never fails.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log notifier. If logger is nil, slog.Default is used.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, n Notification) error {
	level := slog.LevelInfo
	switch n.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, "alert",
		"target_id", n.TargetID,
		"target", n.TargetName,
		"message", n.Message,
		"severity", string(n.Severity))
	return nil
}
