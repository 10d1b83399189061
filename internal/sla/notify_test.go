package sla

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestQueueNotifier(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	n := NewQueueNotifier(rdb, "sla_notifications")

	ev := Event{
		ID:       "ev-1",
		TicketID: "T-1",
		Trigger:  TriggerBreached,
		Level:    1,
		Subject:  "SLA breached for ticket T-1",
	}
	if err := n.Notify(context.Background(), ev); err != nil {
		t.Fatalf("notify: %v", err)
	}

	raw, err := rdb.LPop(context.Background(), "sla_notifications").Bytes()
	if err != nil {
		t.Fatalf("lpop: %v", err)
	}
	var got Event
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TicketID != "T-1" || got.Trigger != TriggerBreached {
		t.Fatalf("event = %+v", got)
	}
}

func TestQueueNotifierDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()
	n := NewQueueNotifier(rdb, "sla_notifications")
	if err := n.Notify(context.Background(), Event{TicketID: "T-1"}); err == nil {
		t.Fatal("expected error when redis is down")
	}
}
