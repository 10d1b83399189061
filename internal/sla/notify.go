package sla

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// QueueNotifier hands escalation events to the dispatch collaborator over
// a Redis list. Delivery itself (mail, chat) happens downstream; the
// engine only needs the handoff to succeed.
type QueueNotifier struct {
	rdb   *redis.Client
	queue string
}

func NewQueueNotifier(rdb *redis.Client, queue string) *QueueNotifier {
	return &QueueNotifier{rdb: rdb, queue: queue}
}

func (n *QueueNotifier) Notify(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal escalation event: %w", err)
	}
	if err := n.rdb.RPush(ctx, n.queue, b).Err(); err != nil {
		return fmt.Errorf("enqueue escalation event: %w", err)
	}
	return nil
}

// LogNotifier is the fallback when no queue is configured: escalations are
// logged instead of dispatched, so dev environments still show firings.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev Event) error {
	log.Warn().
		Str("ticket", ev.TicketID).
		Str("trigger", string(ev.Trigger)).
		Int("level", ev.Level).
		Str("subject", ev.Subject).
		Msg("escalation (no dispatch queue configured)")
	return nil
}
