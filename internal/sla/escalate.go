package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// imminentPercent is where the imminent_breach zone starts, as a share of
// maxTAT.
const imminentPercent = 90

// Event is one escalation firing handed to the notification-dispatch
// collaborator.
type Event struct {
	ID             string      `json:"id"`
	TicketID       string      `json:"ticket_id"`
	Trigger        TriggerType `json:"trigger"`
	Level          int         `json:"level"`
	RuleName       string      `json:"rule_name"`
	TemplateID     string      `json:"template_id,omitempty"`
	Recipients     []Recipient `json:"recipients"`
	Subject        string      `json:"subject"`
	Body           string      `json:"body"`
	ElapsedMinutes int         `json:"elapsed_minutes"`
	LogID          int64       `json:"log_id"`
}

// Notifier hands escalation events to the external dispatch collaborator.
// The engine never retries sends itself.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotificationLogStore persists escalation firings. HasFired backs
// edge-triggered crossing detection and survives restarts.
type NotificationLogStore interface {
	HasFired(ctx context.Context, ticketID string, trigger TriggerType, level int) (bool, error)
	Record(ctx context.Context, l *NotificationLog) error
	UpdateDelivery(ctx context.Context, id int64, status, details string) error
}

// Engine is the periodic evaluator that sweeps active tracking records and
// emits escalation events on threshold crossings.
type Engine struct {
	tracker  *Tracker
	store    TrackingStore
	rules    RuleSource
	nlog     NotificationLogStore
	notifier Notifier
	now      func() time.Time
}

// NewEngine wires an Engine around an existing Tracker.
func NewEngine(tracker *Tracker, store TrackingStore, rules RuleSource, nlog NotificationLogStore, notifier Notifier) *Engine {
	return &Engine{tracker: tracker, store: store, rules: rules, nlog: nlog, notifier: notifier, now: time.Now}
}

// SetClock overrides the clock, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SweepResult reports a sweep's outcome. One ticket's failure never halts
// the sweep for others.
type SweepResult struct {
	Checked   int `json:"checked"`
	Escalated int `json:"escalated"`
	Failed    int `json:"failed"`
}

// Sweep recomputes every active record, detects threshold crossings and
// emits escalation events. warning_zone, imminent_breach and breached fire
// once per level per ticket; recurring_breach re-fires on every sweep
// while the ticket stays breached.
func (e *Engine) Sweep(ctx context.Context) SweepResult {
	SweepsTotal.Inc()
	var res SweepResult
	records, err := e.store.ListActive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("sla sweep: list active")
		res.Failed++
		return res
	}
	for _, rec := range records {
		res.Checked++
		if err := e.sweepOne(ctx, rec.TicketID, &res); err != nil {
			SweepTicketFailures.Inc()
			res.Failed++
			log.Error().Err(err).Str("ticket", rec.TicketID).Msg("sla sweep: ticket")
		}
	}
	return res
}

func (e *Engine) sweepOne(ctx context.Context, ticketID string, res *SweepResult) error {
	rec, err := e.tracker.RecomputeElapsed(ctx, ticketID)
	if err != nil {
		return err
	}
	rule, err := e.rules.Rule(ctx, rec.RuleID)
	if err != nil {
		return fmt.Errorf("load rule %s: %w", rec.RuleID, err)
	}
	for _, step := range rule.Escalations {
		crossed := e.crossed(step.Trigger, rec.ElapsedMinutes, rule)
		if !crossed {
			continue
		}
		if step.Trigger != TriggerRecurringBreach {
			fired, err := e.nlog.HasFired(ctx, ticketID, step.Trigger, step.Level)
			if err != nil {
				return fmt.Errorf("check fired: %w", err)
			}
			if fired {
				continue
			}
		}
		if err := e.fire(ctx, rec, rule, step); err != nil {
			return err
		}
		res.Escalated++
	}
	return nil
}

// crossed maps each trigger type onto its implicit threshold.
func (e *Engine) crossed(trigger TriggerType, elapsed int, rule *Rule) bool {
	switch trigger {
	case TriggerWarningZone:
		return elapsed >= rule.MinTAT
	case TriggerImminentBreach:
		return rule.MaxTAT > 0 && elapsed*100 >= rule.MaxTAT*imminentPercent && elapsed < rule.MaxTAT
	case TriggerBreached, TriggerRecurringBreach:
		return elapsed >= rule.MaxTAT
	}
	return false
}

func (e *Engine) fire(ctx context.Context, rec *Tracking, rule *Rule, step EscalationStep) error {
	c := Classify(rec.ElapsedMinutes, rule.MinTAT, rule.AvgTAT, rule.MaxTAT)
	entry := &NotificationLog{
		TicketID:       rec.TicketID,
		Trigger:        step.Trigger,
		Level:          step.Level,
		Recipients:     step.Recipients,
		DeliveryStatus: "queued",
		Details:        fmt.Sprintf("rule=%s elapsed=%s", rule.Name, FormatMinutes(rec.ElapsedMinutes)),
		CreatedAt:      e.now().UTC(),
	}
	if err := e.nlog.Record(ctx, entry); err != nil {
		return fmt.Errorf("record escalation: %w", err)
	}
	ev := Event{
		ID:             uuid.New().String(),
		TicketID:       rec.TicketID,
		Trigger:        step.Trigger,
		Level:          step.Level,
		RuleName:       rule.Name,
		TemplateID:     step.TemplateID,
		Recipients:     step.Recipients,
		Subject:        subject(rec.TicketID, step.Trigger),
		Body:           body(rec.TicketID, rule.Name, step, c),
		ElapsedMinutes: rec.ElapsedMinutes,
		LogID:          entry.ID,
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		_ = e.nlog.UpdateDelivery(ctx, entry.ID, "failed", err.Error())
		return fmt.Errorf("notify: %w", err)
	}
	EscalationsFired.WithLabelValues(string(step.Trigger)).Inc()
	return nil
}

func subject(ticketID string, trigger TriggerType) string {
	switch trigger {
	case TriggerWarningZone:
		return fmt.Sprintf("SLA warning for ticket %s", ticketID)
	case TriggerImminentBreach:
		return fmt.Sprintf("SLA breach imminent for ticket %s", ticketID)
	case TriggerRecurringBreach:
		return fmt.Sprintf("SLA still breached for ticket %s", ticketID)
	default:
		return fmt.Sprintf("SLA breached for ticket %s", ticketID)
	}
}

func body(ticketID, ruleName string, step EscalationStep, c Classification) string {
	remaining := "remaining " + FormatMinutes(c.RemainingMinutes)
	if c.Status == StatusBreached {
		remaining = "over by " + FormatMinutes(c.OverageMinutes)
	}
	return fmt.Sprintf("Ticket %s is %s under rule %q (level %d): %d%% of the SLA window used, %s.",
		ticketID, c.Status, ruleName, step.Level, c.PercentUsed, remaining)
}

// DeliveryOutcome is the per-recipient result the dispatch collaborator
// reports back.
type DeliveryOutcome struct {
	Email  string `json:"email"`
	Status string `json:"status"` // sent|failed|logged
}

// ReportDelivery aggregates per-recipient outcomes into the notification
// log: all sent => sent, none sent => failed, otherwise partial.
func (e *Engine) ReportDelivery(ctx context.Context, logID int64, outcomes []DeliveryOutcome) error {
	sent, failed := 0, 0
	details := ""
	for _, o := range outcomes {
		switch o.Status {
		case "sent", "logged":
			sent++
		default:
			failed++
			if details != "" {
				details += "; "
			}
			details += o.Email + ": " + o.Status
		}
	}
	status := "sent"
	switch {
	case sent == 0 && failed > 0:
		status = "failed"
	case failed > 0:
		status = "partial"
	}
	return e.nlog.UpdateDelivery(ctx, logID, status, details)
}

// FormatMinutes renders working minutes as "7h 30m".
func FormatMinutes(m int) string {
	if m < 0 {
		m = -m
	}
	if m < 60 {
		return fmt.Sprintf("%dm", m)
	}
	if m%60 == 0 {
		return fmt.Sprintf("%dh", m/60)
	}
	return fmt.Sprintf("%dh %dm", m/60, m%60)
}
