// CLAUDE:SUMMARY Runs an external program per notification, passing alert fields through GUET_* environment variables.
package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command runs an external program for each notification. The alert is
// passed through environment variables (GUET_TARGET_ID, GUET_TARGET_NAME,
// GUET_MESSAGE, GUET_SEVERITY), so the hosting shell can hook sound or
// toast tooling without the engine knowing about either.
type Command struct {
	program string
	args    []string
	timeout time.Duration
}

// CommandOption configures a Command notifier.
type CommandOption func(*Command)

// WithCommandTimeout bounds a single program run. Default: 10s.
func WithCommandTimeout(d time.Duration) CommandOption {
	return func(c *Command) { c.timeout = d }
}

// NewCommand creates a Command notifier running program with args.
func NewCommand(program string, args []string, opts ...CommandOption) *Command {
	c := &Command{
		program: program,
		args:    args,
		timeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Command) Notify(ctx context.Context, n Notification) error {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.program, c.args...)
	cmd.Env = append(os.Environ(),
		"GUET_TARGET_ID="+n.TargetID,
		"GUET_TARGET_NAME="+n.TargetName,
		"GUET_MESSAGE="+n.Message,
		"GUET_SEVERITY="+string(n.Severity),
	)

	out, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("command %s: %w: %s", c.program, err, msg)
		}
		return fmt.Errorf("command %s: %w", c.program, err)
	}
	return nil
}
