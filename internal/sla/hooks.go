package sla

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Hooks adapts ticket-lifecycle events onto the tracker. Every method is
// best-effort: failures are logged and never propagate, so a tracking
// problem cannot fail the originating ticket mutation.
type Hooks struct {
	tracker    *Tracker
	reopenMode ReopenMode
}

// NewHooks wires lifecycle hooks. reopenMode selects how tracking restarts
// on reopen; empty defaults to continue.
func NewHooks(tracker *Tracker, reopenMode ReopenMode) *Hooks {
	if reopenMode == "" {
		reopenMode = ReopenContinue
	}
	return &Hooks{tracker: tracker, reopenMode: reopenMode}
}

func (h *Hooks) OnTicketCreated(ctx context.Context, tc TicketContext) {
	if _, err := h.tracker.Initialize(ctx, tc); err != nil {
		log.Error().Err(err).Str("ticket", tc.TicketID).Msg("sla: initialize on create")
	}
}

func (h *Hooks) OnStatusChanged(ctx context.Context, ticketID, oldStatus, newStatus, actor string) {
	if oldStatus == newStatus {
		return
	}
	if err := h.tracker.HandleStatusChange(ctx, ticketID, newStatus, actor); err != nil {
		log.Error().Err(err).Str("ticket", ticketID).Str("status", newStatus).Msg("sla: status change")
	}
}

// reEvaluateAndApply repeats matching after a context change and adopts a
// differing rule for future accrual only.
func (h *Hooks) reEvaluateAndApply(ctx context.Context, tc TicketContext, cause string) {
	res, changed, err := h.tracker.ReEvaluateTicket(ctx, tc)
	if err != nil {
		log.Error().Err(err).Str("ticket", tc.TicketID).Str("cause", cause).Msg("sla: re-evaluate")
		return
	}
	if !changed {
		return
	}
	if _, err := h.tracker.ApplyRuleChange(ctx, tc.TicketID, res.Rule); err != nil {
		log.Error().Err(err).Str("ticket", tc.TicketID).Str("rule", res.Rule.ID).Msg("sla: apply rule change")
		return
	}
	log.Info().Str("ticket", tc.TicketID).Str("rule", res.Rule.ID).Str("cause", cause).Msg("sla: rule reassigned")
}

func (h *Hooks) OnPriorityChanged(ctx context.Context, tc TicketContext, oldPriority string) {
	if oldPriority == tc.Priority {
		return
	}
	h.reEvaluateAndApply(ctx, tc, "priority change")
}

func (h *Hooks) OnAssetLinked(ctx context.Context, tc TicketContext, assetID string) {
	h.reEvaluateAndApply(ctx, tc, "asset link "+assetID)
}

// OnTicketAssigned refreshes the elapsed clock so the new engineer sees a
// current status; assignment does not affect rule selection.
func (h *Hooks) OnTicketAssigned(ctx context.Context, ticketID, oldEngineerID, newEngineerID string) {
	if _, err := h.tracker.RecomputeElapsed(ctx, ticketID); err != nil {
		log.Error().Err(err).Str("ticket", ticketID).Msg("sla: recompute on assign")
	}
}

func (h *Hooks) OnTicketClosed(ctx context.Context, ticketID, finalStatus string) {
	if err := h.tracker.Stop(ctx, ticketID, finalStatus); err != nil {
		log.Error().Err(err).Str("ticket", ticketID).Msg("sla: stop on close")
	}
}

func (h *Hooks) OnTicketReopened(ctx context.Context, tc TicketContext) {
	if _, err := h.tracker.Reopen(ctx, tc, h.reopenMode); err != nil {
		log.Error().Err(err).Str("ticket", tc.TicketID).Str("mode", string(h.reopenMode)).Msg("sla: reopen")
	}
}

// Lifecycle event types published by the ticket collaborator.
const (
	EventTicketCreated   = "ticket_created"
	EventStatusChanged   = "status_changed"
	EventPriorityChanged = "priority_changed"
	EventAssetLinked     = "asset_linked"
	EventTicketAssigned  = "ticket_assigned"
	EventTicketClosed    = "ticket_closed"
	EventTicketReopened  = "ticket_reopened"
)

// LifecycleEvent is the message the ticket-lifecycle collaborator publishes
// and the worker consumes. Context carries the attributes rule matching
// needs; fields beyond the event's type are ignored.
type LifecycleEvent struct {
	ID            string        `json:"id"`
	Type          string        `json:"type"`
	Context       TicketContext `json:"context"`
	OldStatus     string        `json:"old_status,omitempty"`
	NewStatus     string        `json:"new_status,omitempty"`
	OldPriority   string        `json:"old_priority,omitempty"`
	AssetID       string        `json:"asset_id,omitempty"`
	OldEngineerID string        `json:"old_engineer_id,omitempty"`
	NewEngineerID string        `json:"new_engineer_id,omitempty"`
	FinalStatus   string        `json:"final_status,omitempty"`
	Actor         string        `json:"actor,omitempty"`
}

// Dispatch routes a lifecycle event to the matching hook. Unknown types
// are logged and dropped.
func (h *Hooks) Dispatch(ctx context.Context, ev LifecycleEvent) {
	switch ev.Type {
	case EventTicketCreated:
		h.OnTicketCreated(ctx, ev.Context)
	case EventStatusChanged:
		h.OnStatusChanged(ctx, ev.Context.TicketID, ev.OldStatus, ev.NewStatus, ev.Actor)
	case EventPriorityChanged:
		h.OnPriorityChanged(ctx, ev.Context, ev.OldPriority)
	case EventAssetLinked:
		h.OnAssetLinked(ctx, ev.Context, ev.AssetID)
	case EventTicketAssigned:
		h.OnTicketAssigned(ctx, ev.Context.TicketID, ev.OldEngineerID, ev.NewEngineerID)
	case EventTicketClosed:
		h.OnTicketClosed(ctx, ev.Context.TicketID, ev.FinalStatus)
	case EventTicketReopened:
		h.OnTicketReopened(ctx, ev.Context)
	default:
		log.Warn().Str("type", ev.Type).Str("ticket", ev.Context.TicketID).Msg("sla: unknown lifecycle event")
	}
}
