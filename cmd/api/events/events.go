// Package events publishes ticket-lifecycle events onto the Redis queue
// the SLA worker consumes. Publishing keeps ticket mutations decoupled
// from tracking side effects: a queue problem never fails the mutation.
package events

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	apppkg "github.com/ticketops/sla-engine/cmd/api/app"
	"github.com/ticketops/sla-engine/internal/sla"
)

// Emit pushes a lifecycle event onto the queue. Best effort; errors are
// logged, never returned.
func Emit(ctx context.Context, q *redis.Client, queue string, ev sla.LifecycleEvent) {
	if q == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("marshal lifecycle event")
		return
	}
	if err := q.RPush(ctx, queue, b).Err(); err != nil {
		log.Error().Err(err).Str("type", ev.Type).Str("ticket", ev.Context.TicketID).Msg("publish lifecycle event")
	}
}

// Ingest accepts a lifecycle event over HTTP and enqueues it for the
// worker. The ticket collaborator posts here when it cannot publish to
// Redis directly.
func Ingest(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ev sla.LifecycleEvent
		if err := c.ShouldBindJSON(&ev); err != nil {
			apppkg.AbortError(c, http.StatusBadRequest, "bad_event", err.Error(), nil)
			return
		}
		if ev.Type == "" || ev.Context.TicketID == "" {
			apppkg.AbortError(c, http.StatusBadRequest, "bad_event", "type and context.ticket_id are required", nil)
			return
		}
		Emit(c.Request.Context(), a.Q, a.Cfg.EventQueue, ev)
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
	}
}
