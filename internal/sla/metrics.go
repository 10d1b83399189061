package sla

import "github.com/prometheus/client_golang/prometheus"

// Package-level metrics, registered by the binaries via RegisterMetrics.
// Tests swap these for fresh collectors.
var (
	SweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sla_sweeps_total",
		Help: "Escalation sweeps executed.",
	})
	SweepTicketFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sla_sweep_ticket_failures_total",
		Help: "Per-ticket recompute failures inside sweeps.",
	})
	EscalationsFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_escalations_fired_total",
		Help: "Escalation events emitted, by trigger type.",
	}, []string{"trigger"})
	CalendarCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sla_calendar_cache_hits_total",
		Help: "Calendar cache hits.",
	})
	CalendarCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sla_calendar_cache_misses_total",
		Help: "Calendar cache misses.",
	})
)

// RegisterMetrics registers the package metrics on r.
func RegisterMetrics(r prometheus.Registerer) {
	r.MustRegister(SweepsTotal, SweepTicketFailures, EscalationsFired, CalendarCacheHits, CalendarCacheMisses)
}
