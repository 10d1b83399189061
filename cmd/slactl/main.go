// slactl is a small operator tool for the SLA queues: it publishes ticket
// lifecycle events and drains pending escalation notifications, which is
// handy in development when no ticket system or dispatcher is attached.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ticketops/sla-engine/internal/sla"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: slactl emit <type> <ticket_id> | drain")
		return
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	eventQueue := os.Getenv("EVENT_QUEUE")
	if eventQueue == "" {
		eventQueue = "ticket_events"
	}
	notifyQueue := os.Getenv("NOTIFY_QUEUE")
	if notifyQueue == "" {
		notifyQueue = "sla_notifications"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	switch os.Args[1] {
	case "emit":
		if len(os.Args) < 4 {
			fmt.Println("usage: slactl emit <type> <ticket_id>")
			return
		}
		ev := sla.LifecycleEvent{
			ID:      uuid.New().String(),
			Type:    os.Args[2],
			Context: sla.TicketContext{TicketID: os.Args[3]},
			Actor:   "slactl",
		}
		b, _ := json.Marshal(ev)
		if err := rdb.RPush(ctx, eventQueue, b).Err(); err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println(ev.ID)
	case "drain":
		for {
			raw, err := rdb.LPop(ctx, notifyQueue).Result()
			if err == redis.Nil {
				return
			}
			if err != nil {
				fmt.Println("error:", err)
				return
			}
			fmt.Println(raw)
		}
	default:
		fmt.Println("unknown command")
	}
}
