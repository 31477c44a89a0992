package guet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

const (
	pageInStock  = `<html><body><div class="in-stock-badge">Add to cart</div></body></html>`
	pageOutStock = `<html><body><div class="sold-out">Out of stock</div></body></html>`
)

// flipServer serves mutable pages keyed by path, standing in for the
// shop being monitored.
type flipServer struct {
	mu    sync.Mutex
	pages map[string]string
}

func newFlipServer() *flipServer {
	return &flipServer{pages: make(map[string]string)}
}

func (s *flipServer) set(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = body
}

func (s *flipServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	body, ok := s.pages[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, body)
}

// captureNotifier records notifications instead of delivering them.
type captureNotifier struct {
	mu  sync.Mutex
	got []Notification
}

func (c *captureNotifier) Notify(ctx context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	return nil
}

func (c *captureNotifier) all() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.got...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func targetYAML(id, name, url string) string {
	return fmt.Sprintf(`  - id: %s
    name: %s
    url: "%s"
    poll_interval: 1s
    rule: {kind: marker_presence, marker: in-stock-badge}
    policy: {cooldown: 1ms}
`, id, name, url)
}

func writeEngineConfig(t *testing.T, dir, targets string) string {
	t.Helper()
	cfg := fmt.Sprintf(`db: "%s"
listen: 127.0.0.1:0
fetch:
  allow_private: true
  timeout: 5s
dispatch:
  poll: 20ms
reload:
  poll: 20ms
  debounce: 1ms
notify:
  log: true
targets:
%s`, filepath.Join(dir, "state.db"), targets)
	path := filepath.Join(dir, "guet.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEngine_EndToEnd(t *testing.T) {
	// WHAT: Page flips out-of-stock -> in-stock; exactly one alert reaches
	// the notifier and the HTTP surface reflects it.
	shop := newFlipServer()
	shop.set("/gpu", pageOutStock)
	srv := httptest.NewServer(shop)
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := writeEngineConfig(t, dir, targetYAML("tgt_gpu", "RTX 5090", srv.URL+"/gpu"))

	sink := &captureNotifier{}
	eng, err := New(cfgPath, quietLogger(), WithNotifier(sink))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)
	defer func() {
		cancel()
		eng.Close()
	}()

	waitFor(t, "first cycle", func() bool {
		sts := eng.Statuses()
		return len(sts) == 1 && sts[0].CheckedAt > 0
	})
	if got := sink.all(); len(got) != 0 {
		t.Fatalf("baseline observation alerted: %+v", got)
	}

	shop.set("/gpu", pageInStock)
	waitFor(t, "transition alert", func() bool { return len(sink.all()) == 1 })

	n := sink.all()[0]
	if n.TargetID != "tgt_gpu" || n.Severity != SeverityCritical {
		t.Errorf("notification = %+v", n)
	}
	if want := "RTX 5090: out_of_stock -> in_stock"; n.Message != want {
		t.Errorf("message = %q, want %q", n.Message, want)
	}

	// The flip must alert exactly once.
	time.Sleep(150 * time.Millisecond)
	if got := sink.all(); len(got) != 1 {
		t.Fatalf("got %d notifications, want 1: %+v", len(got), got)
	}

	api := httptest.NewServer(eng.Handler())
	defer api.Close()

	var status struct {
		Targets       []Status `json:"targets"`
		PendingAlerts int      `json:"pending_alerts"`
	}
	getJSON(t, api.URL+"/status", &status)
	if len(status.Targets) != 1 || status.Targets[0].Signal != "in_stock" {
		t.Errorf("status = %+v", status)
	}
	if status.PendingAlerts != 0 {
		t.Errorf("pending_alerts = %d, want 0 after dispatch", status.PendingAlerts)
	}

	var alerts []AlertEvent
	getJSON(t, api.URL+"/alerts/recent", &alerts)
	if len(alerts) != 1 || alerts[0].DeliveredAt == 0 {
		t.Errorf("alerts = %+v, want one delivered alert", alerts)
	}
}

func TestEngine_RestartDoesNotRealert(t *testing.T) {
	// WHAT: A restart against an unchanged page resumes the persisted
	// baseline instead of treating it as a fresh transition.
	shop := newFlipServer()
	shop.set("/gpu", pageInStock)
	srv := httptest.NewServer(shop)
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := writeEngineConfig(t, dir, targetYAML("tgt_gpu", "RTX 5090", srv.URL+"/gpu"))

	run := func(sink *captureNotifier) {
		eng, err := New(cfgPath, quietLogger(), WithNotifier(sink))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		eng.Start(ctx)
		waitFor(t, "a cycle", func() bool {
			sts := eng.Statuses()
			return len(sts) == 1 && sts[0].CheckedAt > 0
		})
		time.Sleep(100 * time.Millisecond)
		cancel()
		if err := eng.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	first := &captureNotifier{}
	run(first)
	if got := first.all(); len(got) != 0 {
		t.Fatalf("first run alerted on baseline: %+v", got)
	}

	second := &captureNotifier{}
	run(second)
	if got := second.all(); len(got) != 0 {
		t.Fatalf("restart re-alerted without a state change: %+v", got)
	}
}

func TestEngine_ReloadRespectsRunningSet(t *testing.T) {
	// WHAT: A config edit adds a watcher; a broken edit and a zero-target
	// edit both leave the running set untouched.
	shop := newFlipServer()
	shop.set("/a", pageOutStock)
	shop.set("/b", pageOutStock)
	srv := httptest.NewServer(shop)
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := writeEngineConfig(t, dir, targetYAML("tgt_a", "A", srv.URL+"/a"))

	eng, err := New(cfgPath, quietLogger(), WithNotifier(&captureNotifier{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)
	defer func() {
		cancel()
		eng.Close()
	}()

	waitFor(t, "initial target", func() bool { return len(eng.Statuses()) == 1 })

	// Add a second target.
	writeEngineConfig(t, dir,
		targetYAML("tgt_a", "A", srv.URL+"/a")+targetYAML("tgt_b", "B", srv.URL+"/b"))
	waitFor(t, "reload to add tgt_b", func() bool { return len(eng.Statuses()) == 2 })

	// A file that does not parse is rejected; watchers keep running.
	if err := os.WriteFile(cfgPath, []byte("targets: [unclosed"), 0o644); err != nil {
		t.Fatalf("write broken config: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := len(eng.Statuses()); got != 2 {
		t.Fatalf("broken reload changed the running set: %d watchers", got)
	}

	// A parseable file with zero valid targets is reported but ignored.
	writeEngineConfig(t, dir, targetYAML("tgt_bad", "Bad", "ftp://nope/x"))
	time.Sleep(200 * time.Millisecond)
	if got := len(eng.Statuses()); got != 2 {
		t.Fatalf("zero-target reload changed the running set: %d watchers", got)
	}

	api := httptest.NewServer(eng.Handler())
	defer api.Close()
	var evs []struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
	getJSON(t, api.URL+"/events/recent?limit=100", &evs)
	var rejected, kept bool
	for _, ev := range evs {
		if ev.Kind != "reload" {
			continue
		}
		if strings.Contains(ev.Message, "reload rejected") {
			rejected = true
		}
		if strings.Contains(ev.Message, "no valid targets") {
			kept = true
		}
	}
	if !rejected || !kept {
		t.Errorf("reload events missing (rejected=%v kept=%v): %+v", rejected, kept, evs)
	}
}

func getJSON(t *testing.T, url string, into any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
