package calendar

import (
	"time"

	"github.com/lumen-lms/lumen/internal/shared"
)

const (
	// MaxInterval is the largest accepted rule interval.
	MaxInterval = 30
	// MaxOccurrences caps a series, the parent anchor included.
	MaxOccurrences = 100
)

// Base is the first occurrence of a series.
type Base struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	AttendeeIDs []int64
}

// Validate checks the rule against the base start.
func (r Rule) Validate(start time.Time) error {
	switch r.Frequency {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return shared.NewValidationError("recurrence.frequency", "must be daily, weekly, monthly or yearly")
	}
	if r.Interval < 1 || r.Interval > MaxInterval {
		return shared.NewValidationError("recurrence.interval", "must be between 1 and 30")
	}
	if r.Count == 0 && r.Until == nil {
		return shared.NewValidationError("recurrence", "count or until is required")
	}
	if r.Count != 0 && (r.Count < 1 || r.Count > MaxOccurrences) {
		return shared.NewValidationError("recurrence.count", "must be between 1 and 100")
	}
	if r.Until != nil && r.Until.Before(start) {
		return shared.NewValidationError("recurrence.until", "must not be before start_time")
	}
	return nil
}

// Expand materialises the series described by rule. The first element is the base
// itself; every element keeps the base duration. Expansion stops at Count, at the first
// start after Until, or at MaxOccurrences, whichever comes first.
func Expand(rule Rule, base Base) ([]Base, error) {
	if err := rule.Validate(base.Start); err != nil {
		return nil, err
	}
	limit := MaxOccurrences
	if rule.Count > 0 {
		limit = rule.Count
	}
	duration := base.End.Sub(base.Start)
	out := make([]Base, 0, limit)
	for k := 0; len(out) < limit; k++ {
		start := advance(base.Start, rule.Frequency, k*rule.Interval)
		if rule.Until != nil && start.After(*rule.Until) {
			break
		}
		occ := base
		occ.Start = start
		if !base.End.IsZero() {
			occ.End = start.Add(duration)
		}
		occ.AttendeeIDs = append([]int64(nil), base.AttendeeIDs...)
		out = append(out, occ)
	}
	return out, nil
}

// advance moves t forward by n units. Months and years keep the base day of month,
// clamped to the last day of shorter months, so Jan 31 monthly gives Feb 28, Mar 31.
func advance(t time.Time, f Frequency, n int) time.Time {
	switch f {
	case Daily:
		return t.AddDate(0, 0, n)
	case Weekly:
		return t.AddDate(0, 0, 7*n)
	case Monthly:
		return addMonthsClamped(t, n)
	case Yearly:
		return addMonthsClamped(t, 12*n)
	default:
		return t
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
