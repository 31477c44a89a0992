// CLAUDE:SUMMARY Target content retrieval: conditional-GET HTTP fetcher plus a headless-browser render path.
// Package fetch retrieves raw page content for monitored targets.
//
// Plain HTTP fetches use conditional GET (ETag, If-Modified-Since) and
// SHA-256 hash dedup so an unchanged page costs nothing downstream. Targets
// that need JavaScript execution render through a ContentSource instead.
package fetch

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/guet/netguard"
)

// ErrNoRenderer is returned for render requests when no ContentSource is
// configured.
var ErrNoRenderer = errors.New("fetch: no renderer configured")

// Result contains the outcome of a fetch.
type Result struct {
	Body         []byte
	StatusCode   int
	Hash         string // SHA-256 of body
	ETag         string // from response header
	LastModified string // from response header
	Changed      bool   // false when content is known-identical to the previous fetch
}

// Request describes one retrieval. The conditional fields carry tokens from
// the previous observation of the same target; callers zero them to force a
// full refresh.
type Request struct {
	URL    string
	Render bool // retrieve through the browser renderer

	ETag         string
	LastModified string
	PrevHash     string
}

// ContentSource renders a page in a real browser engine and returns the
// serialized DOM. Implementations own the browser lifecycle.
type ContentSource interface {
	HTML(ctx context.Context, url string) (string, error)
	Close() error
}

// Config configures the fetcher.
type Config struct {
	Timeout       time.Duration // HTTP request ceiling. Default: 10s.
	RenderTimeout time.Duration // browser navigation ceiling. Default: 30s.
	// MaxBytes caps response bodies. A larger page fails the fetch rather
	// than being truncated: extracting from a cut-off page could read as a
	// signal change. Default: 10MiB.
	MaxBytes int64
	// UserAgent sent with requests.
	UserAgent string
	// URLValidator validates URLs before fetch and on every redirect hop
	// (SSRF prevention). Default: netguard.ValidateURL.
	URLValidator func(string) error
	// Renderer serves Render requests. Nil makes render targets fail
	// with ErrNoRenderer.
	Renderer ContentSource
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024 // 10MiB
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.URLValidator == nil {
		c.URLValidator = netguard.ValidateURL
	}
}

// Retail availability pages increasingly gate on a browser-like agent.
const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Fetcher performs retrievals with conditional GET and SSRF-guarded
// redirects.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Fetch retrieves req.URL. On 304 Not Modified, or when the body hash
// matches req.PrevHash, the result reports Changed=false.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	if err := f.config.URLValidator(req.URL); err != nil {
		return nil, fmt.Errorf("url blocked: %w", err)
	}
	if req.Render {
		return f.fetchRendered(ctx, req)
	}
	return f.fetchHTTP(ctx, req)
}

// Close releases the renderer, if any.
func (f *Fetcher) Close() error {
	if f.config.Renderer != nil {
		return f.config.Renderer.Close()
	}
	return nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, req Request) (*Result, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	hreq.Header.Set("User-Agent", f.config.UserAgent)
	if req.ETag != "" {
		hreq.Header.Set("If-None-Match", req.ETag)
	}
	if req.LastModified != "" {
		hreq.Header.Set("If-Modified-Since", req.LastModified)
	}

	resp, err := f.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &Result{
			StatusCode:   http.StatusNotModified,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return &Result{StatusCode: resp.StatusCode}, fmt.Errorf("http %d", resp.StatusCode)
	}

	body, err := netguard.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return f.finish(resp.StatusCode, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), body, req.PrevHash), nil
}

// fetchRendered has no conditional-GET equivalent; hash dedup still applies.
func (f *Fetcher) fetchRendered(ctx context.Context, req Request) (*Result, error) {
	if f.config.Renderer == nil {
		return nil, ErrNoRenderer
	}

	rctx, cancel := context.WithTimeout(ctx, f.config.RenderTimeout)
	defer cancel()

	html, err := f.config.Renderer.HTML(rctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	body := []byte(html)
	if int64(len(body)) > f.config.MaxBytes {
		return nil, fmt.Errorf("render: %w (%d bytes max)", netguard.ErrResponseTooLarge, f.config.MaxBytes)
	}
	return f.finish(http.StatusOK, "", "", body, req.PrevHash), nil
}

func (f *Fetcher) finish(status int, etag, lastMod string, body []byte, prevHash string) *Result {
	h := sha256.Sum256(body)
	hash := fmt.Sprintf("%x", h)
	return &Result{
		Body:         body,
		StatusCode:   status,
		Hash:         hash,
		ETag:         etag,
		LastModified: lastMod,
		Changed:      prevHash == "" || hash != prevHash,
	}
}
