package sla

import "errors"

var (
	// ErrNoActiveRules means matching was attempted against an empty rule set.
	ErrNoActiveRules = errors.New("sla: no active rules configured")

	// ErrNotTracked means the ticket has no tracking record. Callers that
	// tolerate absence report it instead of failing.
	ErrNotTracked = errors.New("sla: ticket not tracked")

	// ErrNoSchedule means the referenced business-hours schedule does not exist.
	ErrNoSchedule = errors.New("sla: business-hours schedule not found")

	// ErrCalendarExhausted means the deadline walk hit its iteration bound
	// without finding working time, i.e. the calendar has no working days.
	ErrCalendarExhausted = errors.New("sla: calendar has no reachable working time")
)
