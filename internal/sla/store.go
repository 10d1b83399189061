package sla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// PgStore implements TrackingStore, RuleSource and NotificationLogStore on
// Postgres through the narrow DB interface.
type PgStore struct {
	db DB
}

func NewPgStore(db DB) *PgStore { return &PgStore{db: db} }

const trackingCols = `ticket_id, rule_id, sla_start_time, min_target_time, avg_target_time, max_target_time,
	business_elapsed_minutes, total_paused_minutes, is_paused, pause_started_at, pause_reason,
	sla_status, resolved_at, final_status`

func scanTracking(row pgx.Row) (*Tracking, error) {
	var t Tracking
	var status string
	var finalStatus *string
	var pauseReason *string
	if err := row.Scan(&t.TicketID, &t.RuleID, &t.StartTime, &t.MinTarget, &t.AvgTarget, &t.MaxTarget,
		&t.ElapsedMinutes, &t.PausedMinutes, &t.Paused, &t.PauseStartedAt, &pauseReason,
		&status, &t.ResolvedAt, &finalStatus); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotTracked
		}
		return nil, err
	}
	t.Status = Status(status)
	if pauseReason != nil {
		t.PauseReason = *pauseReason
	}
	if finalStatus != nil {
		t.FinalStatus = *finalStatus
	}
	return &t, nil
}

func (s *PgStore) Get(ctx context.Context, ticketID string) (*Tracking, error) {
	row := s.db.QueryRow(ctx, `select `+trackingCols+` from ticket_sla_tracking where ticket_id=$1`, ticketID)
	return scanTracking(row)
}

func (s *PgStore) Create(ctx context.Context, t *Tracking) error {
	_, err := s.db.Exec(ctx, `insert into ticket_sla_tracking (`+trackingCols+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,nullif($11,''),$12,$13,nullif($14,''))`,
		t.TicketID, t.RuleID, t.StartTime, t.MinTarget, t.AvgTarget, t.MaxTarget,
		t.ElapsedMinutes, t.PausedMinutes, t.Paused, t.PauseStartedAt, t.PauseReason,
		string(t.Status), t.ResolvedAt, t.FinalStatus)
	return err
}

func (s *PgStore) Update(ctx context.Context, t *Tracking) error {
	tag, err := s.db.Exec(ctx, `update ticket_sla_tracking set rule_id=$2, sla_start_time=$3,
		min_target_time=$4, avg_target_time=$5, max_target_time=$6, business_elapsed_minutes=$7,
		total_paused_minutes=$8, is_paused=$9, pause_started_at=$10, pause_reason=nullif($11,''),
		sla_status=$12, resolved_at=$13, final_status=nullif($14,''), updated_at=now()
		where ticket_id=$1`,
		t.TicketID, t.RuleID, t.StartTime, t.MinTarget, t.AvgTarget, t.MaxTarget,
		t.ElapsedMinutes, t.PausedMinutes, t.Paused, t.PauseStartedAt, t.PauseReason,
		string(t.Status), t.ResolvedAt, t.FinalStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotTracked
	}
	return nil
}

func (s *PgStore) Delete(ctx context.Context, ticketID string) error {
	tag, err := s.db.Exec(ctx, `delete from ticket_sla_tracking where ticket_id=$1`, ticketID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotTracked
	}
	return nil
}

func (s *PgStore) ListActive(ctx context.Context) ([]Tracking, error) {
	rows, err := s.db.Query(ctx, `select `+trackingCols+` from ticket_sla_tracking
		where resolved_at is null and not is_paused`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tracking
	for rows.Next() {
		t, err := scanTracking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PgStore) OpenPause(ctx context.Context, e *PauseEntry) error {
	// at most one open entry per ticket; a concurrent duplicate pause
	// loses to the existing open entry
	return s.db.QueryRow(ctx, `insert into sla_pause_log (ticket_id, pause_start, reason, actor)
		select $1, $2, $3, $4
		where not exists (select 1 from sla_pause_log where ticket_id=$1 and pause_end is null)
		returning id`,
		e.TicketID, e.Start, e.Reason, e.Actor).Scan(&e.ID)
}

func (s *PgStore) ClosePause(ctx context.Context, ticketID string, end time.Time) (*PauseEntry, error) {
	row := s.db.QueryRow(ctx, `update sla_pause_log set pause_end=$2
		where ticket_id=$1 and pause_end is null
		returning id, ticket_id, pause_start, pause_end, reason, actor`, ticketID, end)
	var e PauseEntry
	if err := row.Scan(&e.ID, &e.TicketID, &e.Start, &e.End, &e.Reason, &e.Actor); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (s *PgStore) Pauses(ctx context.Context, ticketID string) ([]PauseEntry, error) {
	rows, err := s.db.Query(ctx, `select id, ticket_id, pause_start, pause_end, reason, actor
		from sla_pause_log where ticket_id=$1 order by pause_start`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PauseEntry
	for rows.Next() {
		var e PauseEntry
		if err := rows.Scan(&e.ID, &e.TicketID, &e.Start, &e.End, &e.Reason, &e.Actor); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const ruleCols = `id::text, name, priority_order, is_vip_override, coalesce(asset_importance,''),
	coalesce(asset_categories,''), coalesce(user_category,''), coalesce(ticket_type,''),
	coalesce(ticket_channels,''), coalesce(priority,''), min_tat, avg_tat, max_tat,
	schedule_id::text, coalesce(holiday_calendar_id::text,''), coalesce(pause_conditions,'{}')`

func scanRule(row pgx.Row) (*Rule, error) {
	var r Rule
	var pauseJSON []byte
	if err := row.Scan(&r.ID, &r.Name, &r.PriorityOrder, &r.VIPOverride, &r.AssetImportance,
		&r.AssetCategories, &r.UserCategory, &r.TicketType, &r.TicketChannels, &r.Priority,
		&r.MinTAT, &r.AvgTAT, &r.MaxTAT, &r.ScheduleID, &r.HolidayCalendarID, &pauseJSON); err != nil {
		return nil, err
	}
	if len(pauseJSON) > 0 {
		if err := json.Unmarshal(pauseJSON, &r.PauseConditions); err != nil {
			return nil, fmt.Errorf("rule %s pause_conditions: %w", r.ID, err)
		}
	}
	return &r, nil
}

func (s *PgStore) loadEscalations(ctx context.Context, r *Rule) error {
	rows, err := s.db.Query(ctx, `select escalation_level, trigger_type, recipients,
		coalesce(template_id,''), include_ticket_details
		from escalation_rules where rule_id=$1 order by escalation_level`, r.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var st EscalationStep
		var trigger string
		var recipientsJSON []byte
		if err := rows.Scan(&st.Level, &trigger, &recipientsJSON, &st.TemplateID, &st.IncludeTicketDetails); err != nil {
			return err
		}
		st.Trigger = TriggerType(trigger)
		if len(recipientsJSON) > 0 {
			if err := json.Unmarshal(recipientsJSON, &st.Recipients); err != nil {
				return fmt.Errorf("rule %s recipients: %w", r.ID, err)
			}
		}
		r.Escalations = append(r.Escalations, st)
	}
	return rows.Err()
}

func (s *PgStore) ActiveRules(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.Query(ctx, `select `+ruleCols+` from sla_rules where is_active order by priority_order`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.loadEscalations(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PgStore) Rule(ctx context.Context, id string) (*Rule, error) {
	r, err := scanRule(s.db.QueryRow(ctx, `select `+ruleCols+` from sla_rules where id=$1`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadEscalations(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PgStore) HasFired(ctx context.Context, ticketID string, trigger TriggerType, level int) (bool, error) {
	var fired bool
	err := s.db.QueryRow(ctx, `select exists (select 1 from escalation_notifications
		where ticket_id=$1 and trigger_type=$2 and escalation_level=$3)`,
		ticketID, string(trigger), level).Scan(&fired)
	return fired, err
}

func (s *PgStore) Record(ctx context.Context, l *NotificationLog) error {
	recipients, err := json.Marshal(l.Recipients)
	if err != nil {
		return err
	}
	return s.db.QueryRow(ctx, `insert into escalation_notifications
		(ticket_id, trigger_type, escalation_level, recipients, delivery_status, details, created_at)
		values ($1,$2,$3,$4,$5,$6,$7) returning id`,
		l.TicketID, string(l.Trigger), l.Level, recipients, l.DeliveryStatus, l.Details, l.CreatedAt).Scan(&l.ID)
}

func (s *PgStore) UpdateDelivery(ctx context.Context, id int64, status, details string) error {
	_, err := s.db.Exec(ctx, `update escalation_notifications set delivery_status=$2, details=$3
		where id=$1`, id, status, details)
	return err
}
