package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/guet/dbopen"
	"github.com/hazyhaar/guet/internal/extract"
	_ "modernc.org/sqlite"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(db)
}

func TestSchema(t *testing.T) {
	// WHAT: Schema creates all monitor tables.
	// WHY: Everything downstream assumes these exist.
	s := openTestStore(t)
	for _, table := range []string{"watcher_states", "alert_outbox", "monitor_events"} {
		var name string
		err := s.DB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestGetState_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetState(context.Background(), "never-seen")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error: got %v, want ErrNotFound", err)
	}
}

func TestPutAndGetState(t *testing.T) {
	// WHAT: Full-row upsert and read-back.
	// WHY: The watcher's baseline must survive a restart intact.
	s := openTestStore(t)
	ctx := context.Background()

	st := &WatcherState{
		TargetID:    "rtx-5090",
		ObservedAt:  time.Now().UnixMilli(),
		CheckedAt:   time.Now().UnixMilli(),
		ETag:        `"v1"`,
		ContentHash: "abc",
	}
	st.SetSignal(extract.Availability(extract.OutOfStock))

	if err := s.PutState(ctx, st); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.GetState(ctx, "rtx-5090")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	sig, err := got.Signal()
	if err != nil {
		t.Fatalf("signal: %v", err)
	}
	if !sig.Equal(extract.Availability(extract.OutOfStock)) {
		t.Errorf("signal: got %s, want out_of_stock", sig)
	}
	if got.ETag != `"v1"` || got.ContentHash != "abc" {
		t.Errorf("validators: got %+v", got)
	}
	if got.UpdatedAt == 0 {
		t.Error("updated_at not set")
	}

	// Upsert replaces in place.
	st.SetSignal(extract.Availability(extract.InStock))
	st.ConsecutiveFailures = 2
	if err := s.PutState(ctx, st); err != nil {
		t.Fatalf("re-put: %v", err)
	}
	got, _ = s.GetState(ctx, "rtx-5090")
	sig, _ = got.Signal()
	if !sig.Equal(extract.Availability(extract.InStock)) {
		t.Errorf("after upsert: got %s, want in_stock", sig)
	}
	if got.ConsecutiveFailures != 2 {
		t.Errorf("failures: got %d, want 2", got.ConsecutiveFailures)
	}

	var count int
	s.DB.QueryRow(`SELECT COUNT(*) FROM watcher_states`).Scan(&count)
	if count != 1 {
		t.Errorf("rows: got %d, want 1", count)
	}
}

func TestSetSignal_IgnoresUnknown(t *testing.T) {
	// WHAT: An unknown signal never replaces a known baseline.
	// WHY: Page glitches must not reset comparison state.
	st := &WatcherState{TargetID: "t"}
	st.SetSignal(extract.Availability(extract.InStock))
	st.SetSignal(extract.Unknown())

	sig, err := st.Signal()
	if err != nil {
		t.Fatal(err)
	}
	if !sig.Equal(extract.Availability(extract.InStock)) {
		t.Fatalf("baseline lost: got %s", sig)
	}
}

func TestDeleteState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	st := &WatcherState{TargetID: "gone-soon"}
	if err := s.PutState(ctx, st); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteState(ctx, "gone-soon"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetState(ctx, "gone-soon"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete: got %v, want ErrNotFound", err)
	}
}

func TestRecordTransition_Atomic(t *testing.T) {
	// WHAT: State upsert and alert insert land in one transaction.
	// WHY: The alert exists iff the state gating its re-emission committed;
	// this is what makes a transition alert fire exactly once.
	s := openTestStore(t)
	ctx := context.Background()

	st := &WatcherState{TargetID: "rtx-5090", LastAlertAt: time.Now().UnixMilli()}
	st.SetSignal(extract.Availability(extract.InStock))
	alert := &AlertEvent{
		ID:         "alr_1",
		TargetID:   "rtx-5090",
		TargetName: "RTX 5090 @ MegaStore",
		Kind:       AlertTransition,
		Previous:   "out_of_stock",
		New:        "in_stock",
		Message:    "RTX 5090 @ MegaStore: out_of_stock -> in_stock",
	}

	if err := s.RecordTransition(ctx, st, alert); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := s.GetState(ctx, "rtx-5090")
	if err != nil {
		t.Fatalf("state missing: %v", err)
	}
	if got.LastAlertAt == 0 {
		t.Error("last_alert_at not persisted")
	}
	pending, err := s.PendingAlerts(ctx)
	if err != nil || pending != 1 {
		t.Fatalf("pending: got %d (%v), want 1", pending, err)
	}
}

func TestRecordTransition_RollsBackTogether(t *testing.T) {
	// WHAT: A failed alert insert rolls the state write back.
	// WHY: A persisted state without its alert would silently drop the alert;
	// an alert without its state would double-fire after restart.
	s := openTestStore(t)
	ctx := context.Background()

	st := &WatcherState{TargetID: "t1"}
	st.SetSignal(extract.Availability(extract.InStock))
	alert := &AlertEvent{ID: "alr_dup", TargetID: "t1", Kind: AlertTransition}

	if err := s.RecordTransition(ctx, st, alert); err != nil {
		t.Fatalf("first record: %v", err)
	}

	// Same alert ID again: the insert violates the primary key, so the
	// state change must not land either.
	st2 := &WatcherState{TargetID: "t1", ConsecutiveFailures: 99}
	st2.SetSignal(extract.Availability(extract.OutOfStock))
	if err := s.RecordTransition(ctx, st2, &AlertEvent{ID: "alr_dup", TargetID: "t1"}); err == nil {
		t.Fatal("expected primary key violation")
	}

	got, _ := s.GetState(ctx, "t1")
	if got.ConsecutiveFailures == 99 {
		t.Error("state write was not rolled back")
	}
	sig, _ := got.Signal()
	if !sig.Equal(extract.Availability(extract.InStock)) {
		t.Errorf("baseline: got %s, want in_stock", sig)
	}
}

func TestOutbox_ClaimAckRedeliver(t *testing.T) {
	// WHAT: Claimed rows are invisible until the timeout, acked rows never
	// redeliver, unacked rows reappear.
	// WHY: Crash mid-dispatch must redeliver; successful dispatch must not.
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"alr_a", "alr_b"} {
		if err := s.EnqueueAlert(ctx, &AlertEvent{ID: id, TargetID: "t", Kind: AlertTransition}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
		time.Sleep(2 * time.Millisecond) // distinct created_at for ordering
	}

	claimed, err := s.ClaimAlerts(ctx, 1, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != "alr_a" {
		t.Fatalf("claim: got %+v, want alr_a first", claimed)
	}
	if claimed[0].Attempts != 1 {
		t.Errorf("attempts: got %d, want 1", claimed[0].Attempts)
	}

	// alr_a is hidden; the next claim sees only alr_b.
	second, err := s.ClaimAlerts(ctx, 10, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 1 || second[0].ID != "alr_b" {
		t.Fatalf("second claim: got %+v, want alr_b", second)
	}

	// Ack b; let a's visibility expire. Only a comes back.
	if err := s.AckAlert(ctx, "alr_b"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)

	third, err := s.ClaimAlerts(ctx, 10, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(third) != 1 || third[0].ID != "alr_a" {
		t.Fatalf("redelivery: got %+v, want alr_a", third)
	}
	if third[0].Attempts != 2 {
		t.Errorf("attempts after redelivery: got %d, want 2", third[0].Attempts)
	}
}

func TestOutbox_RecentAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.EnqueueAlert(ctx, &AlertEvent{ID: "alr_old", TargetID: "t", Kind: AlertTransition})
	s.EnqueueAlert(ctx, &AlertEvent{ID: "alr_new", TargetID: "t", Kind: AlertDegraded})
	if err := s.AckAlert(ctx, "alr_old"); err != nil {
		t.Fatal(err)
	}

	recent, err := s.RecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent: got %d rows, want 2", len(recent))
	}

	var delivered *AlertEvent
	for _, a := range recent {
		if a.ID == "alr_old" {
			delivered = a
		}
	}
	if delivered == nil || delivered.DeliveredAt == 0 {
		t.Fatal("delivered alert should carry delivered_at")
	}

	time.Sleep(5 * time.Millisecond)
	n, err := s.PruneDelivered(ctx, 0)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned: got %d, want 1", n)
	}
	if pending, _ := s.PendingAlerts(ctx); pending != 1 {
		t.Errorf("pending after prune: got %d, want 1", pending)
	}
}
