package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	apppkg "github.com/ticketops/sla-engine/cmd/api/app"
	"github.com/ticketops/sla-engine/internal/sla"
)

func newEventsApp(t *testing.T) (*apppkg.App, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	a := apppkg.NewApp(apppkg.Config{Env: "test", EventQueue: "ticket_events"}, nil, rdb)
	a.R.POST("/events/ticket", Ingest(a))
	return a, mr
}

func TestIngest(t *testing.T) {
	a, mr := newEventsApp(t)

	body := `{"type":"status_changed","context":{"ticket_id":"T-1"},"old_status":"open","new_status":"on_hold"}`
	req := httptest.NewRequest(http.MethodPost, "/events/ticket", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.R.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}

	raw, err := mr.Lpop("ticket_events")
	if err != nil {
		t.Fatalf("queue empty: %v", err)
	}
	var ev sla.LifecycleEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != sla.EventStatusChanged || ev.Context.TicketID != "T-1" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.ID == "" {
		t.Fatal("expected generated event id")
	}
}

func TestIngestRejectsIncomplete(t *testing.T) {
	a, _ := newEventsApp(t)
	for _, body := range []string{
		`{"context":{"ticket_id":"T-1"}}`,
		`{"type":"status_changed"}`,
		`not json`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/events/ticket", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		a.R.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d", body, w.Code)
		}
	}
}

func TestEmitBestEffort(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()
	// must not panic or block when the queue is down, or with no client
	Emit(context.Background(), rdb, "ticket_events", sla.LifecycleEvent{Type: sla.EventTicketCreated})
	Emit(context.Background(), nil, "ticket_events", sla.LifecycleEvent{Type: sla.EventTicketCreated})
}
