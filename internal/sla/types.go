package sla

import (
	"strings"
	"time"
)

// Status is the SLA zone a ticket currently occupies.
type Status string

const (
	StatusOnTrack  Status = "on_track"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusBreached Status = "breached"
)

// TriggerType identifies which threshold crossing fires an escalation.
type TriggerType string

const (
	TriggerWarningZone     TriggerType = "warning_zone"
	TriggerImminentBreach  TriggerType = "imminent_breach"
	TriggerBreached        TriggerType = "breached"
	TriggerRecurringBreach TriggerType = "recurring_breach"
)

// ReopenMode selects how tracking restarts when a closed ticket reopens.
type ReopenMode string

const (
	ReopenReset    ReopenMode = "reset"
	ReopenContinue ReopenMode = "continue"
	ReopenNewSLA   ReopenMode = "new_sla"
)

// EndOfDay is minute 1440; a window ending at "24:00" never wraps to 0.
const EndOfDay = 24 * 60

// DayWindow is one weekday's working window in minutes from midnight.
type DayWindow struct {
	Working  bool
	StartMin int
	EndMin   int
}

// BreakWindow is subtracted from working time on the weekdays it applies to.
type BreakWindow struct {
	StartMin int
	EndMin   int
	Days     [7]bool
}

// Holiday zeroes a whole day or subtracts a partial interval from it.
type Holiday struct {
	FullDay  bool
	StartMin int
	EndMin   int
}

// EffectiveCalendar is the assembled schedule + breaks + holidays consumed
// by the pure calculator functions. Built once per cache load; immutable
// afterwards.
type EffectiveCalendar struct {
	ScheduleID string
	Is24x7     bool
	Days       [7]DayWindow
	Breaks     []BreakWindow
	Holidays   map[string]Holiday // keyed by YYYY-MM-DD in UTC
}

// Interval is an absolute wall-clock span. A nil-equivalent zero End means
// the interval is still open.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Recipient is one escalation notification target.
type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// EscalationStep is one rung of a rule's escalation ladder.
type EscalationStep struct {
	Level                int
	Trigger              TriggerType
	Recipients           []Recipient
	TemplateID           string
	IncludeTicketDetails bool
}

// Rule is an SLA rule with its applicability filters and thresholds.
// Filter fields hold a comma-separated set, the wildcard "all", or are
// empty when unset.
type Rule struct {
	ID                string
	Name              string
	PriorityOrder     int
	VIPOverride       bool
	AssetImportance   string
	AssetCategories   string
	UserCategory      string
	TicketType        string
	TicketChannels    string
	Priority          string
	MinTAT            int
	AvgTAT            int
	MaxTAT            int
	ScheduleID        string
	HolidayCalendarID string
	PauseConditions   map[string]bool
	Escalations       []EscalationStep
}

// hasFilters reports whether any applicability filter is configured.
func (r *Rule) hasFilters() bool {
	return r.AssetImportance != "" || r.AssetCategories != "" || r.UserCategory != "" ||
		r.TicketType != "" || r.TicketChannels != "" || r.Priority != ""
}

// TicketContext carries the ticket attributes rule matching runs against.
type TicketContext struct {
	TicketID        string   `json:"ticket_id"`
	VIP             bool     `json:"vip"`
	AssetImportance string   `json:"asset_importance,omitempty"`
	AssetCategories []string `json:"asset_categories,omitempty"`
	TicketType      string   `json:"ticket_type,omitempty"`
	Channel         string   `json:"channel,omitempty"`
	Priority        string   `json:"priority,omitempty"`
	Status          string   `json:"status,omitempty"`
}

// Tracking is the one-per-ticket SLA tracking record.
type Tracking struct {
	TicketID       string
	RuleID         string
	StartTime      time.Time
	MinTarget      time.Time
	AvgTarget      time.Time
	MaxTarget      time.Time
	ElapsedMinutes int
	PausedMinutes  int
	Paused         bool
	PauseStartedAt *time.Time
	PauseReason    string
	Status         Status
	ResolvedAt     *time.Time
	FinalStatus    string
}

// Closed reports whether accrual has been frozen by stop.
func (t *Tracking) Closed() bool { return t.ResolvedAt != nil }

// PauseEntry is one row of the append-only pause log.
type PauseEntry struct {
	ID       int64
	TicketID string
	Start    time.Time
	End      *time.Time
	Reason   string
	Actor    string
}

// NotificationLog records one escalation firing and its delivery outcome.
type NotificationLog struct {
	ID             int64
	TicketID       string
	Trigger        TriggerType
	Level          int
	Recipients     []Recipient
	DeliveryStatus string // queued|sent|partial|failed
	Details        string
	CreatedAt      time.Time
}

// splitSet parses a comma-separated filter value into its members.
func splitSet(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// dateKey normalizes an instant to its UTC civil date.
func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
