package sla

import (
	"context"
	"testing"
)

func TestDispatchCreateThenClose(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ck := &clock{t: mon(9, 0)}
	tr := newTestTracker(store, ck)
	h := NewHooks(tr, "")

	h.Dispatch(ctx, LifecycleEvent{Type: EventTicketCreated, Context: TicketContext{TicketID: "t1"}})
	rec, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("record not created: %v", err)
	}
	if rec.RuleID != "std" {
		t.Fatalf("rule = %q", rec.RuleID)
	}

	ck.set(mon(11, 0))
	h.Dispatch(ctx, LifecycleEvent{Type: EventTicketClosed, Context: TicketContext{TicketID: "t1"}, FinalStatus: "resolved"})
	rec, _ = store.Get(ctx, "t1")
	if !rec.Closed() || rec.FinalStatus != "resolved" {
		t.Fatalf("record not stopped: %+v", rec)
	}
}

func TestDispatchStatusChangePausesAndResumes(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ck := &clock{t: mon(9, 0)}
	tr := newTestTracker(store, ck)
	h := NewHooks(tr, "")

	h.Dispatch(ctx, LifecycleEvent{Type: EventTicketCreated, Context: TicketContext{TicketID: "t1"}})

	ck.set(mon(10, 0))
	h.Dispatch(ctx, LifecycleEvent{
		Type: EventStatusChanged, Context: TicketContext{TicketID: "t1"},
		OldStatus: "open", NewStatus: "on_hold", Actor: "agent",
	})
	rec, _ := store.Get(ctx, "t1")
	if !rec.Paused {
		t.Fatalf("expected paused after on_hold: %+v", rec)
	}

	ck.set(mon(11, 0))
	h.Dispatch(ctx, LifecycleEvent{
		Type: EventStatusChanged, Context: TicketContext{TicketID: "t1"},
		OldStatus: "on_hold", NewStatus: "in_progress", Actor: "agent",
	})
	rec, _ = store.Get(ctx, "t1")
	if rec.Paused {
		t.Fatalf("expected resumed after in_progress: %+v", rec)
	}
	if rec.PausedMinutes != 60 {
		t.Fatalf("paused minutes = %d, want 60", rec.PausedMinutes)
	}
}

func TestDispatchIdenticalStatusNoop(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ck := &clock{t: mon(9, 0)}
	tr := newTestTracker(store, ck)
	h := NewHooks(tr, "")

	h.Dispatch(ctx, LifecycleEvent{Type: EventTicketCreated, Context: TicketContext{TicketID: "t1"}})
	h.Dispatch(ctx, LifecycleEvent{
		Type: EventStatusChanged, Context: TicketContext{TicketID: "t1"},
		OldStatus: "open", NewStatus: "open",
	})
	rec, _ := store.Get(ctx, "t1")
	if rec.Paused {
		t.Fatalf("identical status must not pause: %+v", rec)
	}
}

func TestDispatchReopenDefaultsToContinue(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ck := &clock{t: mon(9, 0)}
	tr := newTestTracker(store, ck)
	h := NewHooks(tr, "")

	h.Dispatch(ctx, LifecycleEvent{Type: EventTicketCreated, Context: TicketContext{TicketID: "t1"}})
	ck.set(mon(11, 0))
	h.Dispatch(ctx, LifecycleEvent{Type: EventTicketClosed, Context: TicketContext{TicketID: "t1"}, FinalStatus: "resolved"})
	ck.set(mon(15, 0))
	h.Dispatch(ctx, LifecycleEvent{Type: EventTicketReopened, Context: TicketContext{TicketID: "t1"}})

	rec, _ := store.Get(ctx, "t1")
	if rec.Closed() {
		t.Fatalf("expected reopened record: %+v", rec)
	}
	// clock continues: the closed interval is logged, not accrued
	rec, err := tr.RecomputeElapsed(ctx, "t1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if rec.ElapsedMinutes != 120 {
		t.Fatalf("elapsed = %d, want 120", rec.ElapsedMinutes)
	}
}

func TestDispatchUnknownEventIgnored(t *testing.T) {
	store := newMemStore()
	ck := &clock{t: mon(9, 0)}
	h := NewHooks(newTestTracker(store, ck), "")
	h.Dispatch(context.Background(), LifecycleEvent{Type: "mystery", Context: TicketContext{TicketID: "t1"}})
	if _, err := store.Get(context.Background(), "t1"); err == nil {
		t.Fatal("unknown event must not create tracking")
	}
}
