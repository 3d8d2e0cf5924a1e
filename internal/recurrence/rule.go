// Package recurrence computes occurrence dates for recurring series rules.
// Everything here is pure: no I/O, no database, no clock reads.
package recurrence

import (
	"time"

	"github.com/dealflow/internal/models"
)

// Rule is the evaluatable portion of a recurring series. Day is a weekday
// (0=Sunday..6=Saturday) for weekly/biweekly/monthly_weekday and a day of the
// month (1-31) otherwise. Week is the nth weekday occurrence (1-5), only for
// monthly_weekday. IntervalDays is only for custom.
type Rule struct {
	Frequency    models.Frequency
	Day          int
	Week         int
	IntervalDays int
	Loc          *time.Location
}

// FromSeries builds a Rule from a persisted series. An unknown timezone falls
// back to UTC rather than failing; the validator rejects bad zones upstream.
func FromSeries(s *models.RecurringSeries) Rule {
	r := Rule{Frequency: s.Frequency}
	if s.FrequencyDay != nil {
		r.Day = *s.FrequencyDay
	}
	if s.FrequencyWeek != nil {
		r.Week = *s.FrequencyWeek
	}
	if s.FrequencyInterval != nil {
		r.IntervalDays = *s.FrequencyInterval
	}
	if loc, err := time.LoadLocation(s.Timezone); err == nil {
		r.Loc = loc
	}
	return r
}

// NextOccurrence returns the first occurrence strictly after anchor's
// calendar day, as midnight in the rule's timezone. It is total: any
// structurally valid rule yields a date, and malformed numeric fields are
// clamped instead of panicking.
func NextOccurrence(r Rule, anchor time.Time) time.Time {
	loc := r.Loc
	if loc == nil {
		loc = time.UTC
	}
	day := midnight(anchor.In(loc))

	switch r.Frequency {
	case models.FrequencyWeekly, models.FrequencyBiweekly:
		wd := clampWeekday(r.Day)
		next := nextWeekday(day.AddDate(0, 0, 1), wd)
		// A biweekly anchor already on the rule weekday is itself an
		// occurrence, so the match one week out is the off week.
		if r.Frequency == models.FrequencyBiweekly && day.Weekday() == wd {
			next = next.AddDate(0, 0, 7)
		}
		return next

	case models.FrequencyMonthlyWeekday:
		wd := clampWeekday(r.Day)
		week := r.Week
		if week < 1 {
			week = 1
		} else if week > 5 {
			week = 5
		}
		cand := nthWeekdayOfMonth(day.Year(), day.Month(), wd, week, loc)
		if !cand.After(day) {
			first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
			cand = nthWeekdayOfMonth(first.Year(), first.Month(), wd, week, loc)
		}
		return cand

	case models.FrequencyMonthlyDate:
		return monthAdvance(day, 1, r.Day, loc)
	case models.FrequencyQuarterly:
		return monthAdvance(day, 3, r.Day, loc)
	case models.FrequencySemiAnnual:
		return monthAdvance(day, 6, r.Day, loc)
	case models.FrequencyAnnual:
		return monthAdvance(day, 12, r.Day, loc)

	case models.FrequencyCustom:
		interval := r.IntervalDays
		if interval < 1 {
			interval = 1
		}
		return day.AddDate(0, 0, interval)
	}

	// Unknown frequency: advance a day so callers still make progress.
	return day.AddDate(0, 0, 1)
}

// Occurrences returns the next n occurrence dates after anchor, feeding each
// result back in as the next anchor.
func Occurrences(r Rule, anchor time.Time, n int) []time.Time {
	dates := make([]time.Time, 0, n)
	cur := anchor
	for i := 0; i < n; i++ {
		cur = NextOccurrence(r, cur)
		dates = append(dates, cur)
	}
	return dates
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func clampWeekday(d int) time.Weekday {
	if d < 0 || d > 6 {
		return time.Sunday
	}
	return time.Weekday(d)
}

func nextWeekday(from time.Time, wd time.Weekday) time.Time {
	for from.Weekday() != wd {
		from = from.AddDate(0, 0, 1)
	}
	return from
}

// nthWeekdayOfMonth returns the week-th occurrence of wd in the given month.
// A month without a 5th occurrence clamps to its last occurrence.
func nthWeekdayOfMonth(year int, month time.Month, wd time.Weekday, week int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	dom := 1 + offset + (week-1)*7
	if last := daysIn(year, month, loc); dom > last {
		dom -= 7
	}
	return time.Date(year, month, dom, 0, 0, 0, 0, loc)
}

// monthAdvance moves day forward by months and lands on day-of-month dom,
// clamped to the target month's last day.
func monthAdvance(day time.Time, months, dom int, loc *time.Location) time.Time {
	first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, months, 0)
	last := daysIn(first.Year(), first.Month(), loc)
	if dom > last {
		dom = last
	}
	if dom < 1 {
		dom = 1
	}
	return time.Date(first.Year(), first.Month(), dom, 0, 0, 0, 0, loc)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
