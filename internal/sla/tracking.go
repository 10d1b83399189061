package sla

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TrackingStore persists tracking records and the append-only pause log.
// Get returns ErrNotTracked when no record exists. Implementations must
// make concurrent read-modify-write on the same ticket last-writer-wins
// without double-counting paused minutes: ClosePause closes the single
// open entry for the ticket and reports whether one existed.
type TrackingStore interface {
	Get(ctx context.Context, ticketID string) (*Tracking, error)
	Create(ctx context.Context, t *Tracking) error
	Update(ctx context.Context, t *Tracking) error
	Delete(ctx context.Context, ticketID string) error
	// ListActive returns records that are neither closed nor paused.
	ListActive(ctx context.Context) ([]Tracking, error)
	OpenPause(ctx context.Context, e *PauseEntry) error
	ClosePause(ctx context.Context, ticketID string, end time.Time) (*PauseEntry, error)
	Pauses(ctx context.Context, ticketID string) ([]PauseEntry, error)
}

// RuleSource supplies the active rule set and individual rules.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]Rule, error)
	Rule(ctx context.Context, id string) (*Rule, error)
}

// CalendarSource is the CalendarStore surface the tracker depends on.
type CalendarSource interface {
	Calendar(ctx context.Context, scheduleID, holidayCalID string) (*EffectiveCalendar, error)
}

// Statuses that pause the clock even when a rule configures no
// pauseConditions of its own.
var defaultPauseStatuses = map[string]bool{
	"on_hold":          true,
	"waiting_customer": true,
	"waiting_vendor":   true,
}

const statusPausePrefix = "status:"

// Tracker owns the lifecycle of one SLA-tracking record per ticket.
type Tracker struct {
	store TrackingStore
	rules RuleSource
	cals  CalendarSource
	now   func() time.Time
}

// NewTracker wires a Tracker. now defaults to time.Now.
func NewTracker(store TrackingStore, rules RuleSource, cals CalendarSource) *Tracker {
	return &Tracker{store: store, rules: rules, cals: cals, now: time.Now}
}

// SetClock overrides the clock, for tests.
func (tr *Tracker) SetClock(now func() time.Time) { tr.now = now }

// Initialize matches a rule for the context, computes the three target
// instants and persists a fresh tracking record.
func (tr *Tracker) Initialize(ctx context.Context, tc TicketContext) (*Tracking, error) {
	rules, err := tr.rules.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	res, err := Match(rules, tc)
	if err != nil {
		return nil, err
	}
	rec, err := tr.buildRecord(ctx, tc.TicketID, res.Rule, tr.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := tr.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create tracking: %w", err)
	}
	return rec, nil
}

func (tr *Tracker) buildRecord(ctx context.Context, ticketID string, rule *Rule, start time.Time) (*Tracking, error) {
	cal, err := tr.cals.Calendar(ctx, rule.ScheduleID, rule.HolidayCalendarID)
	if err != nil {
		return nil, err
	}
	rec := &Tracking{
		TicketID:  ticketID,
		RuleID:    rule.ID,
		StartTime: start,
		Status:    StatusOnTrack,
	}
	for _, t := range []struct {
		mins   int
		target *time.Time
	}{
		{rule.MinTAT, &rec.MinTarget},
		{rule.AvgTAT, &rec.AvgTarget},
		{rule.MaxTAT, &rec.MaxTarget},
	} {
		at, err := AdvanceWorkingMinutes(start, t.mins, cal)
		if err != nil {
			return nil, err
		}
		*t.target = at
	}
	return rec, nil
}

// pauseIntervals converts the pause log into absolute intervals. Open
// entries stay open; the calculator clips them with "now".
func pauseIntervals(entries []PauseEntry) []Interval {
	out := make([]Interval, 0, len(entries))
	for _, e := range entries {
		iv := Interval{Start: e.Start}
		if e.End != nil {
			iv.End = *e.End
		}
		out = append(out, iv)
	}
	return out
}

// RecomputeElapsed refreshes elapsed working minutes and the status
// classification from the current pause log. Idempotent; closed records
// are returned unchanged.
func (tr *Tracker) RecomputeElapsed(ctx context.Context, ticketID string) (*Tracking, error) {
	rec, err := tr.store.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if rec.Closed() {
		return rec, nil
	}
	rule, err := tr.rules.Rule(ctx, rec.RuleID)
	if err != nil {
		return nil, fmt.Errorf("load rule %s: %w", rec.RuleID, err)
	}
	cal, err := tr.cals.Calendar(ctx, rule.ScheduleID, rule.HolidayCalendarID)
	if err != nil {
		return nil, err
	}
	pauses, err := tr.store.Pauses(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("load pause log: %w", err)
	}
	rec.ElapsedMinutes = ElapsedWorkingMinutes(rec.StartTime, tr.now().UTC(), cal, pauseIntervals(pauses))
	rec.Status = Classify(rec.ElapsedMinutes, rule.MinTAT, rule.AvgTAT, rule.MaxTAT).Status
	if err := tr.store.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("update tracking: %w", err)
	}
	return rec, nil
}

// Pause opens a pause entry and freezes accrual. No-op when already paused.
func (tr *Tracker) Pause(ctx context.Context, ticketID, reason, actor string) error {
	rec, err := tr.store.Get(ctx, ticketID)
	if err != nil {
		return err
	}
	if rec.Paused || rec.Closed() {
		return nil
	}
	now := tr.now().UTC()
	if err := tr.store.OpenPause(ctx, &PauseEntry{TicketID: ticketID, Start: now, Reason: reason, Actor: actor}); err != nil {
		return fmt.Errorf("open pause: %w", err)
	}
	rec.Paused = true
	rec.PauseStartedAt = &now
	rec.PauseReason = reason
	return tr.store.Update(ctx, rec)
}

// Resume closes the ticket's open pause entry and accumulates its duration.
// No-op when not paused. The closed entry, not the record's flag, is the
// authority on how many minutes were paused.
func (tr *Tracker) Resume(ctx context.Context, ticketID, actor string) error {
	rec, err := tr.store.Get(ctx, ticketID)
	if err != nil {
		return err
	}
	if !rec.Paused {
		return nil
	}
	now := tr.now().UTC()
	entry, err := tr.store.ClosePause(ctx, ticketID, now)
	if err != nil {
		return fmt.Errorf("close pause: %w", err)
	}
	if entry != nil {
		rec.PausedMinutes += int(now.Sub(entry.Start) / time.Minute)
	}
	rec.Paused = false
	rec.PauseStartedAt = nil
	rec.PauseReason = ""
	return tr.store.Update(ctx, rec)
}

// Stop freezes the record on ticket close/cancel. A still-open pause is
// closed so the log stays consistent.
func (tr *Tracker) Stop(ctx context.Context, ticketID, finalStatus string) error {
	rec, err := tr.store.Get(ctx, ticketID)
	if err != nil {
		return err
	}
	if rec.Closed() {
		return nil
	}
	now := tr.now().UTC()
	if rec.Paused {
		if entry, err := tr.store.ClosePause(ctx, ticketID, now); err == nil && entry != nil {
			rec.PausedMinutes += int(now.Sub(entry.Start) / time.Minute)
		}
		rec.Paused = false
		rec.PauseStartedAt = nil
		rec.PauseReason = ""
	}
	rec.ResolvedAt = &now
	rec.FinalStatus = finalStatus
	return tr.store.Update(ctx, rec)
}

// Reopen restarts tracking for a closed ticket.
//
//	reset:    discard the record and initialize from scratch
//	continue: unfreeze and let the clock continue where it stopped
//	new_sla:  keep the rule assignment, restart the clock from now
func (tr *Tracker) Reopen(ctx context.Context, tc TicketContext, mode ReopenMode) (*Tracking, error) {
	switch mode {
	case ReopenReset:
		if err := tr.store.Delete(ctx, tc.TicketID); err != nil && !errors.Is(err, ErrNotTracked) {
			return nil, err
		}
		return tr.Initialize(ctx, tc)
	case ReopenContinue:
		rec, err := tr.store.Get(ctx, tc.TicketID)
		if err != nil {
			return nil, err
		}
		now := tr.now().UTC()
		if rec.ResolvedAt != nil && now.After(*rec.ResolvedAt) {
			// the closed interval must not accrue: log it as a pause so
			// the clock continues from where it stopped
			gap := &PauseEntry{TicketID: tc.TicketID, Start: *rec.ResolvedAt, Reason: "closed", Actor: "reopen"}
			if err := tr.store.OpenPause(ctx, gap); err != nil {
				return nil, fmt.Errorf("log closed gap: %w", err)
			}
			if _, err := tr.store.ClosePause(ctx, tc.TicketID, now); err != nil {
				return nil, fmt.Errorf("log closed gap: %w", err)
			}
			// totalPausedMinutes counts explicit pauses only; the closed
			// gap lives in the pause log for the elapsed-time math
		}
		rec.ResolvedAt = nil
		rec.FinalStatus = ""
		if err := tr.store.Update(ctx, rec); err != nil {
			return nil, err
		}
		if rec.Paused {
			if err := tr.Resume(ctx, tc.TicketID, "reopen"); err != nil {
				return nil, err
			}
			return tr.store.Get(ctx, tc.TicketID)
		}
		return rec, nil
	case ReopenNewSLA:
		rec, err := tr.store.Get(ctx, tc.TicketID)
		if err != nil {
			return nil, err
		}
		rule, err := tr.rules.Rule(ctx, rec.RuleID)
		if err != nil {
			return nil, fmt.Errorf("load rule %s: %w", rec.RuleID, err)
		}
		fresh, err := tr.buildRecord(ctx, tc.TicketID, rule, tr.now().UTC())
		if err != nil {
			return nil, err
		}
		if err := tr.store.Update(ctx, fresh); err != nil {
			return nil, err
		}
		return fresh, nil
	default:
		return nil, fmt.Errorf("unknown reopen mode %q", mode)
	}
}

// statusPauses reports whether a ticket status pauses the clock under the
// given rule.
func statusPauses(rule *Rule, status string) bool {
	if v, ok := rule.PauseConditions[status]; ok {
		return v
	}
	return defaultPauseStatuses[status]
}

// HandleStatusChange applies the rule's pause conditions when a ticket
// moves between statuses. Idempotent for repeated identical statuses.
func (tr *Tracker) HandleStatusChange(ctx context.Context, ticketID, newStatus, actor string) error {
	rec, err := tr.store.Get(ctx, ticketID)
	if err != nil {
		return err
	}
	if rec.Closed() {
		return nil
	}
	rule, err := tr.rules.Rule(ctx, rec.RuleID)
	if err != nil {
		return fmt.Errorf("load rule %s: %w", rec.RuleID, err)
	}
	if statusPauses(rule, newStatus) {
		return tr.Pause(ctx, ticketID, statusPausePrefix+newStatus, actor)
	}
	// only auto-resume pauses that a status transition opened; manual
	// pauses are released manually
	if rec.Paused && len(rec.PauseReason) > len(statusPausePrefix) && rec.PauseReason[:len(statusPausePrefix)] == statusPausePrefix {
		return tr.Resume(ctx, ticketID, actor)
	}
	return nil
}

// ReEvaluateTicket repeats matching against the current context and
// reports whether the assigned rule would change. Tracking state is not
// mutated; call ApplyRuleChange to adopt the new rule.
func (tr *Tracker) ReEvaluateTicket(ctx context.Context, tc TicketContext) (*MatchResult, bool, error) {
	rec, err := tr.store.Get(ctx, tc.TicketID)
	if err != nil {
		return nil, false, err
	}
	rules, err := tr.rules.ActiveRules(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("load rules: %w", err)
	}
	return ReEvaluate(rules, tc, rec.RuleID)
}

// ApplyRuleChange reassigns the rule and recomputes targets from the
// original start time. Already-elapsed minutes are preserved: rule changes
// apply only to future accrual.
func (tr *Tracker) ApplyRuleChange(ctx context.Context, ticketID string, rule *Rule) (*Tracking, error) {
	rec, err := tr.store.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	cal, err := tr.cals.Calendar(ctx, rule.ScheduleID, rule.HolidayCalendarID)
	if err != nil {
		return nil, err
	}
	rec.RuleID = rule.ID
	for _, t := range []struct {
		mins   int
		target *time.Time
	}{
		{rule.MinTAT, &rec.MinTarget},
		{rule.AvgTAT, &rec.AvgTarget},
		{rule.MaxTAT, &rec.MaxTarget},
	} {
		at, err := AdvanceWorkingMinutes(rec.StartTime, t.mins, cal)
		if err != nil {
			return nil, err
		}
		*t.target = at
	}
	rec.Status = Classify(rec.ElapsedMinutes, rule.MinTAT, rule.AvgTAT, rule.MaxTAT).Status
	if err := tr.store.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// StatusSnapshot is the read-only view served to UI and reporting callers.
type StatusSnapshot struct {
	TicketID         string `json:"ticket_id"`
	Tracked          bool   `json:"tracked"`
	Status           Status `json:"status,omitempty"`
	ElapsedMinutes   int    `json:"elapsed_minutes"`
	RemainingMinutes int    `json:"remaining_minutes"`
	OverageMinutes   int    `json:"overage_minutes,omitempty"`
	PercentUsed      int    `json:"percent_used"`
	Paused           bool   `json:"paused"`
	PauseReason      string `json:"pause_reason,omitempty"`
	RuleName         string `json:"rule_name,omitempty"`
	MinTAT           int    `json:"min_tat,omitempty"`
	AvgTAT           int    `json:"avg_tat,omitempty"`
	MaxTAT           int    `json:"max_tat,omitempty"`
}

// Snapshot returns the current SLA view for one ticket. Untracked tickets
// yield Tracked=false instead of an error.
func (tr *Tracker) Snapshot(ctx context.Context, ticketID string) (StatusSnapshot, error) {
	rec, err := tr.RecomputeElapsed(ctx, ticketID)
	if err != nil {
		if errors.Is(err, ErrNotTracked) {
			return StatusSnapshot{TicketID: ticketID}, nil
		}
		return StatusSnapshot{}, err
	}
	rule, err := tr.rules.Rule(ctx, rec.RuleID)
	if err != nil {
		return StatusSnapshot{}, fmt.Errorf("load rule %s: %w", rec.RuleID, err)
	}
	c := Classify(rec.ElapsedMinutes, rule.MinTAT, rule.AvgTAT, rule.MaxTAT)
	return StatusSnapshot{
		TicketID:         ticketID,
		Tracked:          true,
		Status:           c.Status,
		ElapsedMinutes:   rec.ElapsedMinutes,
		RemainingMinutes: c.RemainingMinutes,
		OverageMinutes:   c.OverageMinutes,
		PercentUsed:      c.PercentUsed,
		Paused:           rec.Paused,
		PauseReason:      rec.PauseReason,
		RuleName:         rule.Name,
		MinTAT:           rule.MinTAT,
		AvgTAT:           rule.AvgTAT,
		MaxTAT:           rule.MaxTAT,
	}, nil
}

// BulkSnapshot returns per-ticket snapshots, degrading per ticket: a
// failed or missing ticket never fails the batch.
func (tr *Tracker) BulkSnapshot(ctx context.Context, ticketIDs []string) map[string]StatusSnapshot {
	out := make(map[string]StatusSnapshot, len(ticketIDs))
	for _, id := range ticketIDs {
		snap, err := tr.Snapshot(ctx, id)
		if err != nil {
			snap = StatusSnapshot{TicketID: id}
		}
		out[id] = snap
	}
	return out
}
