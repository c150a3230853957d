package rrule

import (
	"fmt"
	"time"
)

// Cadence is the human-facing recurrence intent.
type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// Default check-in time, applied when a cadence spec carries no preference.
const (
	DefaultHour   = 9
	DefaultMinute = 0
)

const (
	minInterval = 1
	maxInterval = 30
)

// ValidationError reports a cadence spec the caller contract rejects
// before any rule is built or persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CadenceSpec is a cadence request. Weekdays use 0=Monday .. 6=Sunday.
type CadenceSpec struct {
	Cadence         Cadence
	PreferredHour   *int
	PreferredMinute *int
	Weekdays        []int
	Interval        int        // 0 means 1
	StartAt         *time.Time // wall clock in the trigger's zone
}

// Build turns a cadence spec into a canonical rule string. Daily and
// monthly occurrences land at the preferred wall-clock time just like
// weekly ones; weekly cadences default to Monday.
func Build(spec CadenceSpec) (string, error) {
	r := &Rule{Interval: 1, ByHour: DefaultHour, ByMinute: DefaultMinute}

	switch spec.Cadence {
	case CadenceDaily:
		r.Freq = FreqDaily
	case CadenceWeekly:
		r.Freq = FreqWeekly
	case CadenceMonthly:
		r.Freq = FreqMonthly
	default:
		return "", ValidationError{Field: "cadence", Message: fmt.Sprintf("must be daily, weekly or monthly, got %q", spec.Cadence)}
	}

	if spec.Interval != 0 {
		if spec.Interval < minInterval || spec.Interval > maxInterval {
			return "", ValidationError{Field: "interval", Message: fmt.Sprintf("must be between %d and %d, got %d", minInterval, maxInterval, spec.Interval)}
		}
		r.Interval = spec.Interval
	}

	if spec.PreferredHour != nil {
		if *spec.PreferredHour < 0 || *spec.PreferredHour > 23 {
			return "", ValidationError{Field: "preferred_hour", Message: fmt.Sprintf("must be between 0 and 23, got %d", *spec.PreferredHour)}
		}
		r.ByHour = *spec.PreferredHour
	}
	if spec.PreferredMinute != nil {
		if *spec.PreferredMinute < 0 || *spec.PreferredMinute > 59 {
			return "", ValidationError{Field: "preferred_minute", Message: fmt.Sprintf("must be between 0 and 59, got %d", *spec.PreferredMinute)}
		}
		r.ByMinute = *spec.PreferredMinute
	}

	if spec.Cadence == CadenceWeekly {
		days, err := weekdaysFromSpec(spec.Weekdays)
		if err != nil {
			return "", err
		}
		r.ByDay = days
	} else if len(spec.Weekdays) > 0 {
		return "", ValidationError{Field: "weekdays", Message: "only valid for weekly cadence"}
	}

	if spec.StartAt != nil {
		// Anchoring the rule keeps interval phase stable across advances.
		start := time.Date(spec.StartAt.Year(), spec.StartAt.Month(), spec.StartAt.Day(),
			r.ByHour, r.ByMinute, 0, 0, time.UTC)
		r.DTStart = &start
	}

	return r.String(), nil
}

func weekdaysFromSpec(weekdays []int) ([]time.Weekday, error) {
	if len(weekdays) == 0 {
		// Weekly check-ins land on Monday unless told otherwise.
		return []time.Weekday{time.Monday}, nil
	}
	var seen [7]bool
	for _, d := range weekdays {
		if d < 0 || d > 6 {
			return nil, ValidationError{Field: "weekdays", Message: fmt.Sprintf("must be between 0 (Monday) and 6 (Sunday), got %d", d)}
		}
		seen[d] = true
	}
	var days []time.Weekday
	for i, ok := range seen {
		if ok {
			days = append(days, weekdayFromMonday(i))
		}
	}
	return days, nil
}

// BuildOneOff builds the single-fire rule for a run-at instant expressed
// as wall clock in the trigger's zone.
func BuildOneOff(runAt time.Time) string {
	return fmt.Sprintf("DTSTART:%s\nFREQ=DAILY;COUNT=1", runAt.Format(compactLayout))
}
