package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestWebhook_Delivers(t *testing.T) {
	// WHAT: a notification arrives as a JSON POST with all fields.
	// WHY: the hosting shell routes on target_id and severity.
	var got Notification
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL)
	n := Notification{
		TargetID:   "tgt_1",
		TargetName: "RTX 5090",
		Message:    "back in stock",
		Severity:   SeverityCritical,
	}
	if err := wh.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("content type: got %q", contentType)
	}
	if got != n {
		t.Errorf("payload: got %+v, want %+v", got, n)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	// WHAT: a 500 on the first attempt is retried and the retry succeeds.
	// WHY: the shell may restart; one failed POST must not lose the alert.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookRetries(1))
	if err := wh.Notify(context.Background(), Notification{Message: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls: got %d, want 2", n)
	}
}

func TestWebhook_ExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookRetries(0))
	err := wh.Notify(context.Background(), Notification{Message: "x"})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !strings.Contains(err.Error(), "status 502") {
		t.Errorf("error: got %v, want status 502 mention", err)
	}
}

func TestWebhook_ContextCancelled(t *testing.T) {
	// WHAT: cancellation during backoff returns promptly with ctx.Err().
	// WHY: shutdown must not wait out the retry schedule.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	wh := NewWebhook(srv.URL, WithWebhookRetries(3))
	start := time.Now()
	err := wh.Notify(ctx, Notification{Message: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error: got %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("returned after %v, want prompt cancellation", elapsed)
	}
}

func TestLog_MapsSeverity(t *testing.T) {
	// WHAT: severity maps to the slog level (info/warn/error).
	// WHY: operators filter alert noise by level.
	cases := []struct {
		severity Severity
		level    string
	}{
		{SeverityInfo, "INFO"},
		{SeverityWarning, "WARN"},
		{SeverityCritical, "ERROR"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		l := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))
		err := l.Notify(context.Background(), Notification{
			TargetID: "tgt_1",
			Message:  "hello",
			Severity: tc.severity,
		})
		if err != nil {
			t.Fatalf("%s: Notify: %v", tc.severity, err)
		}
		var line map[string]any
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("%s: parse log line: %v", tc.severity, err)
		}
		if line["level"] != tc.level {
			t.Errorf("%s: level: got %v, want %s", tc.severity, line["level"], tc.level)
		}
		if line["target_id"] != "tgt_1" {
			t.Errorf("%s: target_id: got %v", tc.severity, line["target_id"])
		}
	}
}

func TestCommand_PassesEnv(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	// The script exits non-zero unless both env vars carry the alert.
	script := `test "$GUET_TARGET_ID" = tgt_1 && test "$GUET_SEVERITY" = critical`
	c := NewCommand("sh", []string{"-c", script})
	err := c.Notify(context.Background(), Notification{
		TargetID: "tgt_1",
		Severity: SeverityCritical,
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
}

func TestCommand_FailureIncludesOutput(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	c := NewCommand("sh", []string{"-c", "echo boom >&2; exit 1"})
	err := c.Notify(context.Background(), Notification{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error: got %v, want stderr output included", err)
	}
}

func TestCommand_Timeout(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	c := NewCommand("sh", []string{"-c", "sleep 5"}, WithCommandTimeout(50*time.Millisecond))
	start := time.Now()
	if err := c.Notify(context.Background(), Notification{}); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("returned after %v, want prompt timeout", elapsed)
	}
}

func TestMulti_FanOut(t *testing.T) {
	// WHAT: every notifier is invoked even when one fails, and the
	// first error comes back.
	// WHY: one broken surface must not silence the others.
	var calls []string
	rec := func(name string, fail bool) Notifier {
		return Func(func(_ context.Context, _ Notification) error {
			calls = append(calls, name)
			if fail {
				return fmt.Errorf("%s down", name)
			}
			return nil
		})
	}
	m := NewMulti(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		rec("a", false), rec("b", true), rec("c", false))

	err := m.Notify(context.Background(), Notification{Message: "x"})
	if err == nil || !strings.Contains(err.Error(), "b down") {
		t.Fatalf("error: got %v, want first failure", err)
	}
	if len(calls) != 3 {
		t.Errorf("calls: got %v, want all three notifiers", calls)
	}
}

func TestNopAndNilFunc(t *testing.T) {
	if err := (Nop{}).Notify(context.Background(), Notification{}); err != nil {
		t.Errorf("Nop: %v", err)
	}
	var f Func
	if err := f.Notify(context.Background(), Notification{}); err != nil {
		t.Errorf("nil Func: %v", err)
	}
}
