package sla

import "time"

// maxWalkDays bounds the day-by-day deadline walk so a calendar with no
// working days fails instead of looping forever.
const maxWalkDays = 1100

// dayWindow resolves the working window for the weekday of dayStart,
// honoring the 24x7 flag. Returns ok=false on non-working days.
func (c *EffectiveCalendar) dayWindow(dayStart time.Time) (startMin, endMin int, ok bool) {
	if c.Is24x7 {
		return 0, EndOfDay, true
	}
	d := c.Days[int(dayStart.Weekday())]
	if !d.Working || d.EndMin <= d.StartMin {
		return 0, 0, false
	}
	return d.StartMin, d.EndMin, true
}

// overlap returns the length in minutes of the intersection of [aStart,aEnd)
// and [bStart,bEnd), clamped to zero.
func overlap(aStart, aEnd, bStart, bEnd int) int {
	lo := aStart
	if bStart > lo {
		lo = bStart
	}
	hi := aEnd
	if bEnd < hi {
		hi = bEnd
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// clipToDay converts an absolute interval into minutes-of-day relative to
// dayStart. An interval ending exactly at the next midnight clips to 1440
// on this day, never minute 0 of the next. Open intervals clip using now.
func clipToDay(iv Interval, dayStart, now time.Time) (startMin, endMin int, ok bool) {
	end := iv.End
	if end.IsZero() {
		end = now
	}
	dayEnd := dayStart.Add(24 * time.Hour)
	if !end.After(dayStart) || !iv.Start.Before(dayEnd) {
		return 0, 0, false
	}
	s := 0
	if iv.Start.After(dayStart) {
		s = int(iv.Start.Sub(dayStart) / time.Minute)
	}
	e := EndOfDay
	if end.Before(dayEnd) {
		e = int(end.Sub(dayStart) / time.Minute)
	}
	if e <= s {
		return 0, 0, false
	}
	return s, e, true
}

// midnight truncates t to the start of its UTC day.
func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ElapsedWorkingMinutes walks day by day from start to end and sums the
// working minutes in between. Each day contributes the overlap of
// [start,end] with the day's working sub-ranges (window minus breaks and
// any partial holiday), minus pause overlap inside those sub-ranges, so a
// pause spanning a break never double-subtracts. Full holidays and
// non-working days contribute nothing.
func ElapsedWorkingMinutes(start, end time.Time, cal *EffectiveCalendar, pauses []Interval) int {
	if !end.After(start) {
		return 0
	}
	start, end = start.UTC(), end.UTC()
	total := 0
	for day := midnight(start); day.Before(end); day = day.Add(24 * time.Hour) {
		segStart, segEnd, ok := clipToDay(Interval{Start: start, End: end}, day, end)
		if !ok {
			continue
		}
		for _, r := range cal.workingRanges(day) {
			mins := overlap(segStart, segEnd, r.Start, r.End)
			if mins == 0 {
				continue
			}
			lo := segStart
			if r.Start > lo {
				lo = r.Start
			}
			hi := segEnd
			if r.End < hi {
				hi = r.End
			}
			for _, p := range pauses {
				if ps, pe, ok := clipToDay(p, day, end); ok {
					mins -= overlap(lo, hi, ps, pe)
				}
			}
			if mins > 0 {
				total += mins
			}
		}
	}
	return total
}

// minuteRange is a half-open [Start,End) span in minutes from midnight.
type minuteRange struct{ Start, End int }

// workingRanges returns the day's working window minus breaks and any
// partial holiday, ordered and non-overlapping. Empty on non-working days
// and full holidays.
func (c *EffectiveCalendar) workingRanges(dayStart time.Time) []minuteRange {
	hol, isHoliday := c.Holidays[dateKey(dayStart)]
	if isHoliday && hol.FullDay && !c.Is24x7 {
		return nil
	}
	ws, we, ok := c.dayWindow(dayStart)
	if !ok {
		return nil
	}
	ranges := []minuteRange{{ws, we}}
	if c.Is24x7 {
		return ranges
	}
	cut := func(s, e int) {
		var next []minuteRange
		for _, r := range ranges {
			if e <= r.Start || s >= r.End {
				next = append(next, r)
				continue
			}
			if s > r.Start {
				next = append(next, minuteRange{r.Start, s})
			}
			if e < r.End {
				next = append(next, minuteRange{e, r.End})
			}
		}
		ranges = next
	}
	for _, br := range c.Breaks {
		if br.Days[int(dayStart.Weekday())] {
			cut(br.StartMin, br.EndMin)
		}
	}
	if isHoliday && !hol.FullDay {
		cut(hol.StartMin, hol.EndMin)
	}
	return ranges
}

// AdvanceWorkingMinutes returns the instant reached after consuming budget
// working minutes from start. The start is first snapped forward to the
// next in-window working moment; breaks and holidays occupy wall-clock
// time without consuming budget. Fails with ErrCalendarExhausted when the
// walk finds no working time within its iteration bound.
func AdvanceWorkingMinutes(start time.Time, budget int, cal *EffectiveCalendar) (time.Time, error) {
	if budget < 0 {
		budget = 0
	}
	start = start.UTC()
	day := midnight(start)
	pos := int(start.Sub(day) / time.Minute)
	for i := 0; i < maxWalkDays; i++ {
		for _, r := range cal.workingRanges(day) {
			if r.End <= pos {
				continue
			}
			from := r.Start
			if pos > from {
				from = pos
			}
			avail := r.End - from
			if budget <= avail {
				return day.Add(time.Duration(from+budget) * time.Minute), nil
			}
			budget -= avail
		}
		day = day.Add(24 * time.Hour)
		pos = 0
	}
	return time.Time{}, ErrCalendarExhausted
}

// Classification is the result of measuring elapsed time against a rule's
// thresholds.
type Classification struct {
	Status           Status `json:"status"`
	PercentUsed      int    `json:"percent_used"`
	RemainingMinutes int    `json:"remaining_minutes"`
	OverageMinutes   int    `json:"overage_minutes"`
}

// Classify maps elapsed working minutes onto the SLA zones. Thresholds are
// inclusive: elapsed equal to maxTAT is already breached.
func Classify(elapsed, minTAT, avgTAT, maxTAT int) Classification {
	c := Classification{Status: StatusOnTrack}
	switch {
	case elapsed >= maxTAT:
		c.Status = StatusBreached
	case elapsed >= avgTAT:
		c.Status = StatusCritical
	case elapsed >= minTAT:
		c.Status = StatusWarning
	}
	if maxTAT > 0 {
		c.PercentUsed = (elapsed*100 + maxTAT/2) / maxTAT
	}
	if c.Status == StatusBreached {
		c.OverageMinutes = elapsed - maxTAT
	} else {
		c.RemainingMinutes = maxTAT - elapsed
	}
	return c
}
