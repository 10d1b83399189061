// Package slas serves the SLA status, configuration and admin endpoints.
package slas

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apppkg "github.com/ticketops/sla-engine/cmd/api/app"
	"github.com/ticketops/sla-engine/internal/sla"
)

// bindError reports a binding failure, surfacing per-field validation tags
// when present.
func bindError(c *gin.Context, err error) {
	var fields map[string]string
	if ve, ok := err.(validator.ValidationErrors); ok {
		fields = make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	apppkg.AbortError(c, http.StatusBadRequest, "bad_request", err.Error(), fields)
}

// Status returns the SLA snapshot for one ticket. Untracked tickets get a
// tracked=false snapshot, not an error.
func Status(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := a.Tracker.Snapshot(c.Request.Context(), c.Param("id"))
		if err != nil {
			apppkg.AbortError(c, http.StatusInternalServerError, "sla_status", err.Error(), nil)
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

type bulkStatusReq struct {
	TicketIDs []string `json:"ticket_ids" binding:"required,min=1,max=500"`
}

// BulkStatus returns snapshots for a list of tickets, degrading per ticket.
func BulkStatus(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in bulkStatusReq
		if err := c.ShouldBindJSON(&in); err != nil {
			bindError(c, err)
			return
		}
		c.JSON(http.StatusOK, a.Tracker.BulkSnapshot(c.Request.Context(), in.TicketIDs))
	}
}

// Recompute refreshes one ticket's elapsed time on demand.
func Recompute(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := a.Tracker.RecomputeElapsed(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, sla.ErrNotTracked) {
				c.JSON(http.StatusOK, gin.H{"tracked": false})
				return
			}
			apppkg.AbortError(c, http.StatusInternalServerError, "sla_recompute", err.Error(), nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tracked": true, "status": rec.Status, "elapsed_minutes": rec.ElapsedMinutes})
	}
}

type pauseReq struct {
	Reason string `json:"reason" binding:"required"`
	Actor  string `json:"actor" binding:"required"`
}

// Pause pauses a ticket's SLA clock with an explicit reason.
func Pause(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in pauseReq
		if err := c.ShouldBindJSON(&in); err != nil {
			bindError(c, err)
			return
		}
		if err := a.Tracker.Pause(c.Request.Context(), c.Param("id"), in.Reason, in.Actor); err != nil {
			if errors.Is(err, sla.ErrNotTracked) {
				c.JSON(http.StatusOK, gin.H{"tracked": false})
				return
			}
			apppkg.AbortError(c, http.StatusInternalServerError, "sla_pause", err.Error(), nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"paused": true})
	}
}

type resumeReq struct {
	Actor string `json:"actor" binding:"required"`
}

// Resume releases an explicit pause.
func Resume(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in resumeReq
		if err := c.ShouldBindJSON(&in); err != nil {
			bindError(c, err)
			return
		}
		if err := a.Tracker.Resume(c.Request.Context(), c.Param("id"), in.Actor); err != nil {
			if errors.Is(err, sla.ErrNotTracked) {
				c.JSON(http.StatusOK, gin.H{"tracked": false})
				return
			}
			apppkg.AbortError(c, http.StatusInternalServerError, "sla_resume", err.Error(), nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"paused": false})
	}
}

// Sweep triggers an escalation sweep manually and reports counts instead
// of aborting on first failure.
func Sweep(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, a.Engine.Sweep(c.Request.Context()))
	}
}

// Rules lists the active SLA rules, read-only.
func Rules(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		rules, err := a.Rules.ActiveRules(c.Request.Context())
		if err != nil {
			apppkg.AbortError(c, http.StatusInternalServerError, "sla_rules", err.Error(), nil)
			return
		}
		out := make([]gin.H, 0, len(rules))
		for _, r := range rules {
			out = append(out, gin.H{
				"id":             r.ID,
				"name":           r.Name,
				"priority_order": r.PriorityOrder,
				"vip_override":   r.VIPOverride,
				"min_tat":        r.MinTAT,
				"avg_tat":        r.AvgTAT,
				"max_tat":        r.MaxTAT,
				"schedule_id":    r.ScheduleID,
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

type invalidateReq struct {
	ScheduleID string `json:"schedule_id"`
}

// InvalidateCache drops cached calendars after a configuration edit. With
// no schedule_id every entry is dropped (holiday-calendar edits).
func InvalidateCache(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in invalidateReq
		if err := c.ShouldBindJSON(&in); err != nil && err.Error() != "EOF" {
			apppkg.AbortError(c, http.StatusBadRequest, "bad_request", err.Error(), nil)
			return
		}
		if in.ScheduleID != "" {
			a.Calendars.InvalidateSchedule(in.ScheduleID)
		} else {
			a.Calendars.InvalidateAll()
		}
		c.JSON(http.StatusOK, gin.H{"invalidated": true})
	}
}

type deliveryReq struct {
	Outcomes []sla.DeliveryOutcome `json:"outcomes" binding:"required,min=1"`
}

// ReportDelivery records the dispatch collaborator's per-recipient
// outcomes for a notification log entry.
func ReportDelivery(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			apppkg.AbortError(c, http.StatusBadRequest, "bad_request", "invalid notification id", nil)
			return
		}
		var in deliveryReq
		if err := c.ShouldBindJSON(&in); err != nil {
			bindError(c, err)
			return
		}
		if err := a.Engine.ReportDelivery(c.Request.Context(), id, in.Outcomes); err != nil {
			apppkg.AbortError(c, http.StatusInternalServerError, "sla_delivery", err.Error(), nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"recorded": true})
	}
}
