package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/guet/dbopen"
	"github.com/hazyhaar/guet/internal/events"
	"github.com/hazyhaar/guet/internal/store"
	"github.com/hazyhaar/guet/internal/watcher"
)

type fakeSource []watcher.Status

func (f fakeSource) Statuses() []watcher.Status { return f }

func (f fakeSource) Status(id string) (watcher.Status, bool) {
	for _, s := range f {
		if s.TargetID == id {
			return s, true
		}
	}
	return watcher.Status{}, false
}

func newServer(t *testing.T) (*httptest.Server, *store.Store, *events.Log) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	st := store.New(db)
	ev := events.New(db, events.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	src := fakeSource{
		{TargetID: "tgt_a", TargetName: "A", Health: watcher.Healthy},
		{TargetID: "tgt_b", TargetName: "B", Health: watcher.Degraded},
	}
	ts := httptest.NewServer(New(src, st, ev))
	t.Cleanup(ts.Close)
	return ts, st, ev
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newServer(t)

	var got map[string]string
	if code := getJSON(t, ts.URL+"/healthz", &got); code != 200 {
		t.Fatalf("status: got %d, want 200", code)
	}
	if got["status"] != "ok" {
		t.Errorf("body: %v", got)
	}
}

func TestStatus_Snapshot(t *testing.T) {
	ts, st, _ := newServer(t)

	err := st.EnqueueAlert(context.Background(), &store.AlertEvent{
		ID: "alr_1", TargetID: "tgt_a", Kind: store.AlertTransition, Message: "m",
	})
	if err != nil {
		t.Fatalf("EnqueueAlert: %v", err)
	}

	var got struct {
		Uptime  string `json:"uptime"`
		Targets []struct {
			TargetID string `json:"target_id"`
		} `json:"targets"`
		PendingAlerts int `json:"pending_alerts"`
	}
	if code := getJSON(t, ts.URL+"/status", &got); code != 200 {
		t.Fatalf("status: got %d, want 200", code)
	}
	if len(got.Targets) != 2 || got.Targets[0].TargetID != "tgt_a" {
		t.Errorf("targets: %+v", got.Targets)
	}
	if got.PendingAlerts != 1 {
		t.Errorf("pending_alerts: got %d, want 1", got.PendingAlerts)
	}
	if got.Uptime == "" {
		t.Error("uptime: empty")
	}
}

func TestTargetStatus(t *testing.T) {
	ts, _, _ := newServer(t)

	var got watcher.Status
	if code := getJSON(t, ts.URL+"/status/tgt_b", &got); code != 200 {
		t.Fatalf("status: got %d, want 200", code)
	}
	if got.TargetID != "tgt_b" || got.Health != watcher.Degraded {
		t.Errorf("body: %+v", got)
	}

	var fail map[string]string
	if code := getJSON(t, ts.URL+"/status/tgt_zzz", &fail); code != 404 {
		t.Fatalf("unknown target: got %d, want 404", code)
	}
	if fail["error"] == "" {
		t.Error("404 body: want an error field")
	}
}

func TestRecentAlerts_Limit(t *testing.T) {
	ts, st, _ := newServer(t)
	ctx := context.Background()

	for i, id := range []string{"alr_old", "alr_new"} {
		err := st.EnqueueAlert(ctx, &store.AlertEvent{
			ID: id, TargetID: "tgt_a", Kind: store.AlertTransition,
			Message: "m", CreatedAt: int64(1000 * (i + 1)),
		})
		if err != nil {
			t.Fatalf("EnqueueAlert: %v", err)
		}
	}

	var got []store.AlertEvent
	if code := getJSON(t, ts.URL+"/alerts/recent?limit=1", &got); code != 200 {
		t.Fatalf("status: got %d, want 200", code)
	}
	if len(got) != 1 || got[0].ID != "alr_new" {
		t.Fatalf("alerts: %+v, want only alr_new", got)
	}
}

func TestRecentEvents_TargetFilter(t *testing.T) {
	ts, _, ev := newServer(t)
	ctx := context.Background()

	ev.Record(ctx, events.KindTransition, "tgt_a", "a moved")
	ev.Record(ctx, events.KindDegraded, "tgt_b", "b degraded")

	var got []events.Event
	if code := getJSON(t, ts.URL+"/events/recent?target=tgt_a", &got); code != 200 {
		t.Fatalf("status: got %d, want 200", code)
	}
	if len(got) != 1 || got[0].TargetID != "tgt_a" {
		t.Fatalf("events: %+v, want only tgt_a", got)
	}
}
