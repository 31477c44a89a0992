package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// Renderer is the rod-backed ContentSource. Chrome launches lazily on the
// first render request and is shared across targets; each retrieval gets a
// fresh stealth page that is closed when done.
type Renderer struct {
	logger *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewRenderer creates a Renderer. The browser is not launched until the
// first HTML call.
func NewRenderer(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{logger: logger}
}

// HTML navigates to url in a new stealth page and serializes the DOM after
// the load event.
func (r *Renderer) HTML(ctx context.Context, url string) (string, error) {
	b, err := r.ensureBrowser()
	if err != nil {
		return "", err
	}

	page, err := stealth.Page(b)
	if err != nil {
		return "", fmt.Errorf("browser: create page: %w", err)
	}
	defer page.Close()

	if err := page.Context(ctx).Navigate(url); err != nil {
		return "", fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	// Load timeouts are tolerable: a partially loaded DOM is still worth
	// extracting from.
	if err := page.Context(ctx).WaitLoad(); err != nil {
		r.logger.Warn("browser: wait load", "url", url, "error", err)
	}

	res, err := page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: serialize dom: %w", err)
	}
	return res.Value.Str(), nil
}

// Close shuts the shared browser down. Further HTML calls fail.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.browser != nil {
		r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Cleanup()
		r.lnch = nil
	}
	return nil
}

func (r *Renderer) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("browser: renderer is closed")
	}
	if r.browser != nil {
		return r.browser, nil
	}

	l := launcher.New().Headless(true)
	// Anti-detection flags.
	l = l.Set("disable-blink-features", "AutomationControlled")

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("browser: launch: %w", err)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	r.lnch = l
	r.browser = b
	r.logger.Info("browser: launched local chrome", "url", wsURL)
	return b, nil
}
