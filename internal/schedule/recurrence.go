package schedule

import (
	"fmt"
	"time"

	"github.com/punchamoorthee/payflow/internal/domain"
)

// NextAfter computes the first firing time strictly after from for the
// recurrence. ONCE schedules have their single firing time set at
// creation, so NextAfter returns the zero time for them.
func NextAfter(r domain.Recurrence, from time.Time) time.Time {
	switch r.Frequency {
	case domain.FreqOnce:
		return time.Time{}

	case domain.FreqDaily:
		candidate := at(from, r.Hour, r.Minute)
		if !candidate.After(from) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate

	case domain.FreqWeekly:
		candidate := at(from, r.Hour, r.Minute)
		offset := (int(r.Weekday) - int(candidate.Weekday()) + 7) % 7
		candidate = candidate.AddDate(0, 0, offset)
		if !candidate.After(from) {
			candidate = candidate.AddDate(0, 0, 7)
		}
		return candidate

	case domain.FreqMonthly:
		candidate := monthly(from.Year(), from.Month(), r, from.Location())
		if !candidate.After(from) {
			candidate = monthly(from.Year(), from.Month()+1, r, from.Location())
		}
		return candidate

	case domain.FreqYearly:
		candidate := monthly(from.Year(), r.MonthOfYear, r, from.Location())
		if !candidate.After(from) {
			candidate = monthly(from.Year()+1, r.MonthOfYear, r, from.Location())
		}
		return candidate
	}
	return time.Time{}
}

// Validate rejects recurrence descriptors the engine cannot fire.
func Validate(r domain.Recurrence) error {
	if r.Hour < 0 || r.Hour > 23 || r.Minute < 0 || r.Minute > 59 {
		return fmt.Errorf("invalid time of day %02d:%02d", r.Hour, r.Minute)
	}
	switch r.Frequency {
	case domain.FreqOnce, domain.FreqDaily:
		return nil
	case domain.FreqWeekly:
		if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
			return fmt.Errorf("invalid weekday %d", r.Weekday)
		}
		return nil
	case domain.FreqMonthly:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return fmt.Errorf("invalid day of month %d", r.DayOfMonth)
		}
		return nil
	case domain.FreqYearly:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return fmt.Errorf("invalid day of month %d", r.DayOfMonth)
		}
		if r.MonthOfYear < time.January || r.MonthOfYear > time.December {
			return fmt.Errorf("invalid month %d", r.MonthOfYear)
		}
		return nil
	default:
		return fmt.Errorf("unknown frequency %q", r.Frequency)
	}
}

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

// monthly places the firing on the schedule's day of month, clamped to
// the month's last day so a day-31 schedule still fires in February.
func monthly(year int, month time.Month, r domain.Recurrence, loc *time.Location) time.Time {
	// Normalize month overflow (13 rolls into January) before clamping.
	base := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	day := r.DayOfMonth
	if last := lastDay(base.Year(), base.Month()); day > last {
		day = last
	}
	return time.Date(base.Year(), base.Month(), day, r.Hour, r.Minute, 0, 0, loc)
}

func lastDay(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
