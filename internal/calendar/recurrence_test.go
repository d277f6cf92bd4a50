package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-lms/lumen/internal/shared"
)

func starts(occ []Base) []string {
	out := make([]string, len(occ))
	for i, o := range occ {
		out[i] = o.Start.Format("2006-01-02T15:04")
	}
	return out
}

func TestExpandWeeklyEveryOtherWeek(t *testing.T) {
	start := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	base := Base{Title: "Seminar", Start: start, End: start.Add(90 * time.Minute), AttendeeIDs: []int64{4}}

	occ, err := Expand(Rule{Frequency: Weekly, Interval: 2, Count: 3}, base)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-06T10:00", "2025-01-20T10:00", "2025-02-03T10:00"}, starts(occ))
	for _, o := range occ {
		assert.Equal(t, 90*time.Minute, o.End.Sub(o.Start))
		assert.Equal(t, "Seminar", o.Title)
		assert.Equal(t, []int64{4}, o.AttendeeIDs)
	}
}

func TestExpandIsDeterministic(t *testing.T) {
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	until := start.AddDate(0, 2, 0)
	rule := Rule{Frequency: Daily, Interval: 3, Until: &until}
	first, err := Expand(rule, Base{Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)
	second, err := Expand(rule, Base{Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, starts(first), starts(second))
	assert.False(t, first[len(first)-1].Start.After(until))
}

func TestExpandMonthlyClampsToMonthEnd(t *testing.T) {
	start := time.Date(2024, 1, 31, 18, 0, 0, 0, time.UTC)
	occ, err := Expand(Rule{Frequency: Monthly, Interval: 1, Count: 4}, Base{Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-31T18:00", "2024-02-29T18:00", "2024-03-31T18:00", "2024-04-30T18:00"}, starts(occ))

	leap := time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC)
	occ, err = Expand(Rule{Frequency: Yearly, Interval: 1, Count: 2}, Base{Start: leap, End: leap.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02-29T08:00", "2025-02-28T08:00"}, starts(occ))
}

func TestExpandCountIncludesAnchorAndIsCapped(t *testing.T) {
	start := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	occ, err := Expand(Rule{Frequency: Daily, Interval: 1, Count: 100}, Base{Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, occ, 100)

	far := start.AddDate(5, 0, 0)
	occ, err = Expand(Rule{Frequency: Daily, Interval: 1, Until: &far}, Base{Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, occ, MaxOccurrences)
}

func TestExpandRejectsMalformedRules(t *testing.T) {
	start := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	before := start.Add(-time.Hour)
	base := Base{Start: start, End: start.Add(time.Hour)}
	cases := map[string]Rule{
		"unbounded":     {Frequency: Weekly, Interval: 1},
		"zero interval": {Frequency: Weekly, Interval: 0, Count: 3},
		"big interval":  {Frequency: Weekly, Interval: 31, Count: 3},
		"big count":     {Frequency: Weekly, Interval: 1, Count: 101},
		"negative":      {Frequency: Weekly, Interval: 1, Count: -1},
		"until before":  {Frequency: Weekly, Interval: 1, Until: &before},
		"frequency":     {Frequency: "hourly", Interval: 1, Count: 3},
	}
	for name, rule := range cases {
		_, err := Expand(rule, base)
		assert.ErrorIs(t, err, shared.ErrValidation, name)
	}
}
