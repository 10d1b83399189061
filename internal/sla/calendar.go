package sla

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the minimal pgx surface the SLA stores need, kept narrow so tests
// can substitute fakes.
type DB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// CalendarStore loads business-hours schedules and holiday calendars and
// assembles them into EffectiveCalendar values behind an injected cache.
type CalendarStore struct {
	db    DB
	cache Cache
}

// NewCalendarStore wires a CalendarStore. A nil cache disables caching.
func NewCalendarStore(db DB, cache Cache) *CalendarStore {
	return &CalendarStore{db: db, cache: cache}
}

func calendarKey(scheduleID, holidayCalID string) string {
	return scheduleID + "|" + holidayCalID
}

// Calendar returns the effective calendar for a schedule plus an optional
// holiday calendar (empty id means none). Results are cached until
// invalidated or expired.
func (s *CalendarStore) Calendar(ctx context.Context, scheduleID, holidayCalID string) (*EffectiveCalendar, error) {
	key := calendarKey(scheduleID, holidayCalID)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			CalendarCacheHits.Inc()
			return v.(*EffectiveCalendar), nil
		}
		CalendarCacheMisses.Inc()
	}
	cal, err := s.load(ctx, scheduleID, holidayCalID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(key, cal)
	}
	return cal, nil
}

func (s *CalendarStore) load(ctx context.Context, scheduleID, holidayCalID string) (*EffectiveCalendar, error) {
	cal := &EffectiveCalendar{
		ScheduleID: scheduleID,
		Holidays:   make(map[string]Holiday),
	}
	err := s.db.QueryRow(ctx,
		`select is_24x7 from business_hours_schedules where id=$1`, scheduleID,
	).Scan(&cal.Is24x7)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrNoSchedule, scheduleID)
		}
		return nil, fmt.Errorf("load schedule %s: %w", scheduleID, err)
	}

	rows, err := s.db.Query(ctx,
		`select day_of_week, is_working, start_min, end_min from schedule_days where schedule_id=$1`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("load schedule days: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dow, startMin, endMin int
		var working bool
		if err := rows.Scan(&dow, &working, &startMin, &endMin); err != nil {
			return nil, err
		}
		if dow < 0 || dow > 6 {
			continue
		}
		cal.Days[dow] = DayWindow{Working: working, StartMin: clampMinute(startMin), EndMin: clampMinute(endMin)}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	brows, err := s.db.Query(ctx,
		`select start_min, end_min, applies_to_days from schedule_breaks where schedule_id=$1`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("load schedule breaks: %w", err)
	}
	defer brows.Close()
	for brows.Next() {
		var startMin, endMin int
		var days string
		if err := brows.Scan(&startMin, &endMin, &days); err != nil {
			return nil, err
		}
		br := BreakWindow{StartMin: clampMinute(startMin), EndMin: clampMinute(endMin)}
		for _, d := range splitSet(days) {
			if d >= "0" && d <= "6" && len(d) == 1 {
				br.Days[int(d[0]-'0')] = true
			}
		}
		cal.Breaks = append(cal.Breaks, br)
	}
	if err := brows.Err(); err != nil {
		return nil, err
	}

	if holidayCalID != "" {
		hrows, err := s.db.Query(ctx,
			`select to_char(holiday_date, 'YYYY-MM-DD'), is_full_day, coalesce(start_min, 0), coalesce(end_min, 0) from holiday_dates where calendar_id=$1`, holidayCalID)
		if err != nil {
			return nil, fmt.Errorf("load holidays: %w", err)
		}
		defer hrows.Close()
		for hrows.Next() {
			var date string
			var full bool
			var startMin, endMin int
			if err := hrows.Scan(&date, &full, &startMin, &endMin); err != nil {
				return nil, err
			}
			cal.Holidays[date] = Holiday{FullDay: full, StartMin: clampMinute(startMin), EndMin: clampMinute(endMin)}
		}
		if err := hrows.Err(); err != nil {
			return nil, err
		}
	}
	return cal, nil
}

// clampMinute normalizes minute-of-day values into [0, 1440]. "24:00" is
// stored as 1440 and stays 1440.
func clampMinute(m int) int {
	if m < 0 {
		return 0
	}
	if m > EndOfDay {
		return EndOfDay
	}
	return m
}

// InvalidateSchedule drops cached calendars built from the schedule.
// Called by the configuration collaborator after schedule or break edits.
func (s *CalendarStore) InvalidateSchedule(scheduleID string) {
	if s.cache != nil {
		s.cache.DeletePrefix(scheduleID + "|")
	}
}

// InvalidateAll drops every cached calendar. Holiday-calendar edits use
// this since holiday calendars can be shared across schedules.
func (s *CalendarStore) InvalidateAll() {
	if s.cache != nil {
		s.cache.Purge()
	}
}
