package sla

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory TrackingStore + NotificationLogStore for tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]*Tracking
	pauses  []*PauseEntry
	logs    []*NotificationLog
	nextID  int64
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*Tracking{}}
}

func (m *memStore) Get(_ context.Context, id string) (*Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotTracked
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) Create(_ context.Context, t *Tracking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.records[t.TicketID] = &cp
	return nil
}

func (m *memStore) Update(_ context.Context, t *Tracking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[t.TicketID]; !ok {
		return ErrNotTracked
	}
	cp := *t
	m.records[t.TicketID] = &cp
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrNotTracked
	}
	delete(m.records, id)
	return nil
}

func (m *memStore) ListActive(_ context.Context) ([]Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Tracking
	for _, r := range m.records {
		if r.ResolvedAt == nil && !r.Paused {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) OpenPause(_ context.Context, e *PauseEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pauses {
		if p.TicketID == e.TicketID && p.End == nil {
			return errors.New("pause already open")
		}
	}
	m.nextID++
	e.ID = m.nextID
	cp := *e
	m.pauses = append(m.pauses, &cp)
	return nil
}

func (m *memStore) ClosePause(_ context.Context, id string, end time.Time) (*PauseEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pauses {
		if p.TicketID == id && p.End == nil {
			e := end
			p.End = &e
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) Pauses(_ context.Context, id string) ([]PauseEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PauseEntry
	for _, p := range m.pauses {
		if p.TicketID == id {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) HasFired(_ context.Context, id string, trigger TriggerType, level int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		if l.TicketID == id && l.Trigger == trigger && l.Level == level {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) Record(_ context.Context, l *NotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	l.ID = m.nextID
	cp := *l
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *memStore) UpdateDelivery(_ context.Context, id int64, status, details string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		if l.ID == id {
			l.DeliveryStatus = status
			l.Details = details
			return nil
		}
	}
	return errors.New("log entry not found")
}

// memRules is a fixed RuleSource.
type memRules struct{ rules []Rule }

func (m *memRules) ActiveRules(context.Context) ([]Rule, error) {
	if len(m.rules) == 0 {
		return nil, nil
	}
	return m.rules, nil
}

func (m *memRules) Rule(_ context.Context, id string) (*Rule, error) {
	for i := range m.rules {
		if m.rules[i].ID == id {
			return &m.rules[i], nil
		}
	}
	return nil, errors.New("rule not found: " + id)
}

// memCals serves a fixed calendar for every schedule.
type memCals struct{ cal *EffectiveCalendar }

func (m *memCals) Calendar(context.Context, string, string) (*EffectiveCalendar, error) {
	return m.cal, nil
}

// clock is a settable test clock.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func stdRule() Rule {
	return Rule{
		ID: "std", Name: "Standard", PriorityOrder: 1,
		MinTAT: 60, AvgTAT: 240, MaxTAT: 480,
		ScheduleID: "std",
		Escalations: []EscalationStep{
			{Level: 1, Trigger: TriggerWarningZone, Recipients: []Recipient{{Email: "lead@example.com", Name: "Lead"}}},
			{Level: 2, Trigger: TriggerBreached, Recipients: []Recipient{{Email: "mgr@example.com", Name: "Manager"}}},
		},
	}
}

func newTestTracker(store *memStore, ck *clock) *Tracker {
	tr := NewTracker(store, &memRules{rules: []Rule{stdRule()}}, &memCals{cal: weekdayCal()})
	tr.SetClock(ck.now)
	return tr
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ck := &clock{t: mon(16, 30)}
	tr := newTestTracker(store, ck)

	rec, err := tr.Initialize(ctx, TicketContext{TicketID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.RuleID != "std" || rec.Status != StatusOnTrack || rec.ElapsedMinutes != 0 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	// 30 min Monday + 30 min Tuesday
	if !rec.MinTarget.Equal(day(2, 9, 30)) {
		t.Fatalf("min target = %v, want Tue 09:30", rec.MinTarget)
	}
	if !rec.MaxTarget.Equal(day(3, 9, 30)) {
		t.Fatalf("max target = %v, want Wed 09:30", rec.MaxTarget)
	}
}

func TestInitializeNoRules(t *testing.T) {
	tr := NewTracker(newMemStore(), &memRules{}, &memCals{cal: weekdayCal()})
	if _, err := tr.Initialize(context.Background(), TicketContext{TicketID: "t1"}); !errors.Is(err, ErrNoActiveRules) {
		t.Fatalf("expected ErrNoActiveRules, got %v", err)
	}
}

func TestRecomputeElapsed(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ck := &clock{t: mon(16, 30)}
	tr := newTestTracker(store, ck)
	if _, err := tr.Initialize(ctx, TicketContext{TicketID: "t1"}); err != nil {
		t.Fatalf("init: %v", err)
	}

	ck.set(day(2, 10, 0))
	rec, err := tr.RecomputeElapsed(ctx, "t1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if rec.ElapsedMinutes != 90 || rec.Status != StatusWarning {
		t.Fatalf("elapsed = %d status = %s, want 90 warning", rec.ElapsedMinutes, rec.Status)
	}

	// idempotent
	rec2, err := tr.RecomputeElapsed(ctx, "t1")
	if err != nil {
		t.Fatalf("recompute again: %v", err)
	}
	if rec2.ElapsedMinutes != rec.ElapsedMinutes || rec2.Status != rec.Status {
		t.Fatalf("recompute not idempotent: %+v vs %+v", rec, rec2)
	}
}

func TestRecomputeNotTracked(t *testing.T) {
	tr := newTestTracker(newMemStore(), &clock{t: mon(9, 0)})
	if _, err := tr.RecomputeElapsed(context.Background(), "ghost"); !errors.Is(err, ErrNotTracked) {
		t.Fatalf("expected ErrNotTracked, got %v", err)
	}
}

func TestPauseResumeNoDoubleCounting(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ck := &clock{t: mon(10, 0)}
	tr := newTestTracker(store, ck)
	if _, err := tr.Initialize(ctx, TicketContext{TicketID: "t1"}); err != nil {
		t.Fatalf("init: %v", err)
	}

	ck.set(mon(11, 0))
	if err := tr.Pause(ctx, "t1", "waiting parts", "alice"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	// repeated pause is a no-op
	if err := tr.Pause(ctx, "t1", "again", "bob"); err != nil {
		t.Fatalf("second pause: %v", err)
	}

	// clock frozen while paused
	ck.set(mon(15, 0))
	rec, err := tr.RecomputeElapsed(ctx, "t1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if rec.ElapsedMinutes != 60 {
		t.Fatalf("elapsed while paused = %d, want 60", rec.ElapsedMinutes)
	}

	if err := tr.Resume(ctx, "t1", "alice"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	// resume is a no-op when not paused
	if err := tr.Resume(ctx, "t1", "alice"); err != nil {
		t.Fatalf("second resume: %v", err)
	}
	rec, err = tr.store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Paused || rec.PausedMinutes != 240 {
		t.Fatalf("after resume: paused=%v pausedMinutes=%d, want false 240", rec.Paused, rec.PausedMinutes)
	}

	// counting continues from the pre-pause value; the break is skipped
	ck.set(mon(16, 0))
	rec, err = tr.RecomputeElapsed(ctx, "t1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if rec.ElapsedMinutes != 120 {
		t.Fatalf("elapsed after resume = %d, want 120", rec.ElapsedMinutes)
	}
}

func TestPauseResumeZeroWallClock(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ck := &clock{t: mon(10, 0)}
	tr := newTestTracker(store, ck)
	if _, err := tr.Initialize(ctx, TicketContext{TicketID: "t1"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := tr.Pause(ctx, "t1", "blip", "alice"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := tr.Resume(ctx, "t1", "alice"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	rec, _ := store.Get(ctx, "t1")
	if rec.PausedMinutes != 0 {
		t.Fatalf("paused minutes = %d, want 0", rec.PausedMinutes)
	}
	ck.set(mon(11, 0))
	rec, err := tr.RecomputeElapsed(ctx, "t1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if rec.ElapsedMinutes != 60 {
		t.Fatalf("elapsed = %d, want 60", rec.ElapsedMinutes)
	}
}

func TestPausedTicketNeverBreaches(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ck := &clock{t: mon(9, 0)}
	tr := newTestTracker(store, ck)
	if _, err := tr.Initialize(ctx, TicketContext{TicketID: "t1"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	ck.set(mon(9, 30))
	if err := tr.Pause(ctx, "t1", "waiting customer", "alice"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	// a week passes while paused, far beyond maxTAT
	ck.set(day(8, 9, 0))
	rec, err := tr.RecomputeElapsed(ctx, "t1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if rec.Status == StatusBreached {
		t.Fatalf("paused ticket breached: %+v", rec)
	}
	if rec.ElapsedMinutes != 30 {
		t.Fatalf("elapsed = %d, want 30", rec.ElapsedMinutes)
	}
}

func TestStopFreezesRecord(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ck := &clock{t: mon(9, 0)}
	tr := newTestTracker(store, ck)
	if _, err := tr.Initialize(ctx, TicketContext{TicketID: "t1"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	ck.set(mon(10, 0))
	if err := tr.Stop(ctx, "t1", "resolved"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	ck.set(mon(16, 0))
	rec, err := tr.RecomputeElapsed(ctx, "t1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if rec.ElapsedMinutes != 0 || rec.FinalStatus != "resolved" || rec.ResolvedAt == nil {
		t.Fatalf("stopped record mutated: %+v", rec)
	}
	active, _ := store.ListActive(ctx)
	if len(active) != 0 {
		t.Fatalf("closed record still active: %+v", active)
	}
}

func TestReopenModes(t *testing.T) {
	ctx := context.Background()
	tc := TicketContext{TicketID: "t1"}

	setup := func() (*memStore, *clock, *Tracker) {
		store := newMemStore()
		ck := &clock{t: mon(9, 0)}
		tr := newTestTracker(store, ck)
		if _, err := tr.Initialize(ctx, tc); err != nil {
			t.Fatalf("init: %v", err)
		}
		ck.set(mon(11, 0))
		if _, err := tr.RecomputeElapsed(ctx, "t1"); err != nil {
			t.Fatalf("recompute: %v", err)
		}
		if err := tr.Stop(ctx, "t1", "resolved"); err != nil {
			t.Fatalf("stop: %v", err)
		}
		ck.set(day(2, 9, 0))
		return store, ck, tr
	}

	t.Run("reset discards history", func(t *testing.T) {
		_, _, tr := setup()
		rec, err := tr.Reopen(ctx, tc, ReopenReset)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		if rec.ElapsedMinutes != 0 || rec.PausedMinutes != 0 || !rec.StartTime.Equal(day(2, 9, 0)) {
			t.Fatalf("reset kept state: %+v", rec)
		}
	})

	t.Run("continue preserves elapsed", func(t *testing.T) {
		_, ck, tr := setup()
		rec, err := tr.Reopen(ctx, tc, ReopenContinue)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		if rec.ResolvedAt != nil || rec.FinalStatus != "" {
			t.Fatalf("continue left record closed: %+v", rec)
		}
		if rec.ElapsedMinutes != 120 {
			t.Fatalf("elapsed = %d, want 120", rec.ElapsedMinutes)
		}
		// the closed interval does not accrue; the clock continues from
		// where it stopped
		ck.set(day(2, 10, 0))
		rec, err = tr.RecomputeElapsed(ctx, "t1")
		if err != nil {
			t.Fatalf("recompute: %v", err)
		}
		if rec.ElapsedMinutes != 180 {
			t.Fatalf("elapsed = %d, want 180", rec.ElapsedMinutes)
		}
	})

	t.Run("new_sla restarts the clock", func(t *testing.T) {
		_, _, tr := setup()
		rec, err := tr.Reopen(ctx, tc, ReopenNewSLA)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		if rec.RuleID != "std" {
			t.Fatalf("rule assignment lost: %+v", rec)
		}
		if rec.ElapsedMinutes != 0 || rec.PausedMinutes != 0 || !rec.StartTime.Equal(day(2, 9, 0)) {
			t.Fatalf("new_sla kept counters: %+v", rec)
		}
		if !rec.MaxTarget.Equal(day(3, 10, 0)) {
			t.Fatalf("max target = %v, want Wed 10:00", rec.MaxTarget)
		}
	})
}

func TestHandleStatusChange(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ck := &clock{t: mon(9, 0)}
	rules := &memRules{rules: []Rule{func() Rule {
		r := stdRule()
		r.PauseConditions = map[string]bool{"waiting_approval": true, "on_hold": false}
		return r
	}()}}
	tr := NewTracker(store, rules, &memCals{cal: weekdayCal()})
	tr.SetClock(ck.now)
	if _, err := tr.Initialize(ctx, TicketContext{TicketID: "t1"}); err != nil {
		t.Fatalf("init: %v", err)
	}

	if err := tr.HandleStatusChange(ctx, "t1", "waiting_approval", "alice"); err != nil {
		t.Fatalf("status change: %v", err)
	}
	rec, _ := store.Get(ctx, "t1")
	if !rec.Paused || rec.PauseReason != "status:waiting_approval" {
		t.Fatalf("expected status pause, got %+v", rec)
	}

	// repeated identical status is idempotent
	if err := tr.HandleStatusChange(ctx, "t1", "waiting_approval", "alice"); err != nil {
		t.Fatalf("repeat status change: %v", err)
	}
	pauses, _ := store.Pauses(ctx, "t1")
	if len(pauses) != 1 {
		t.Fatalf("expected one pause entry, got %d", len(pauses))
	}

	// rule overrides the default pause status list
	if err := tr.HandleStatusChange(ctx, "t1", "on_hold", "alice"); err != nil {
		t.Fatalf("status change: %v", err)
	}
	rec, _ = store.Get(ctx, "t1")
	if rec.Paused {
		t.Fatalf("on_hold disabled by rule but still paused: %+v", rec)
	}

	// manual pause is not auto-resumed by status churn
	if err := tr.Pause(ctx, "t1", "vendor call", "alice"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := tr.HandleStatusChange(ctx, "t1", "in_progress", "alice"); err != nil {
		t.Fatalf("status change: %v", err)
	}
	rec, _ = store.Get(ctx, "t1")
	if !rec.Paused {
		t.Fatal("manual pause released by status change")
	}
}

func TestSnapshotNotTracked(t *testing.T) {
	tr := newTestTracker(newMemStore(), &clock{t: mon(9, 0)})
	snap, err := tr.Snapshot(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Tracked {
		t.Fatalf("expected untracked snapshot, got %+v", snap)
	}
}

func TestBulkSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ck := &clock{t: mon(9, 0)}
	tr := newTestTracker(store, ck)
	if _, err := tr.Initialize(ctx, TicketContext{TicketID: "t1"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	ck.set(mon(11, 0))
	out := tr.BulkSnapshot(ctx, []string{"t1", "ghost"})
	if len(out) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(out))
	}
	if !out["t1"].Tracked || out["t1"].ElapsedMinutes != 120 {
		t.Fatalf("unexpected t1 snapshot: %+v", out["t1"])
	}
	if out["ghost"].Tracked {
		t.Fatalf("ghost reported as tracked: %+v", out["ghost"])
	}
}

func TestApplyRuleChangePreservesElapsed(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ck := &clock{t: mon(9, 0)}
	fast := stdRule()
	fast.ID, fast.Name = "fast", "Fast"
	fast.MinTAT, fast.AvgTAT, fast.MaxTAT = 30, 60, 120
	fast.TicketType = "hardware"
	fast.PriorityOrder = 0
	rules := &memRules{rules: []Rule{stdRule(), fast}}
	tr := NewTracker(store, rules, &memCals{cal: weekdayCal()})
	tr.SetClock(ck.now)

	if _, err := tr.Initialize(ctx, TicketContext{TicketID: "t1"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	ck.set(mon(10, 30))
	if _, err := tr.RecomputeElapsed(ctx, "t1"); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	res, changed, err := tr.ReEvaluateTicket(ctx, TicketContext{TicketID: "t1", TicketType: "hardware"})
	if err != nil || !changed {
		t.Fatalf("re-evaluate: changed=%v err=%v", changed, err)
	}
	rec, err := tr.ApplyRuleChange(ctx, "t1", res.Rule)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rec.RuleID != "fast" || rec.ElapsedMinutes != 90 {
		t.Fatalf("rule change lost elapsed: %+v", rec)
	}
	if rec.Status != StatusCritical {
		t.Fatalf("status = %s, want critical under the new thresholds", rec.Status)
	}
	// targets recomputed from the original start under the new rule
	if !rec.MaxTarget.Equal(mon(11, 0)) {
		t.Fatalf("max target = %v, want Mon 11:00", rec.MaxTarget)
	}
}
