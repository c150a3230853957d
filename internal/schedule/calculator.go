// Package schedule computes trigger occurrence instants from rule strings.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/carepulse/carepulse/internal/rrule"
)

// ErrNoFutureOccurrence is returned when a rule has no occurrence left
// (COUNT consumed or UNTIL passed). It is expected and recoverable: the
// store converts it into the exhausted state instead of propagating.
var ErrNoFutureOccurrence = errors.New("rule has no future occurrence")

// Calculator resolves rule strings against IANA zones. All wall-clock
// matching and DST transitions are resolved in the trigger's zone; the
// returned instant is normalized to UTC for storage and comparison.
type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// Next returns the earliest occurrence of the rule at or after `after`
// when inclusive (seeding a new trigger), or strictly after it otherwise
// (advancing a fired trigger, so the same instant never re-fires).
func (c *Calculator) Next(ruleStr, timezone string, after time.Time, inclusive bool) (time.Time, error) {
	rule, err := rrule.Parse(ruleStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse rule: %w", err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone: %w", err)
	}

	next, ok := rule.Next(after, loc, inclusive)
	if !ok {
		return time.Time{}, ErrNoFutureOccurrence
	}
	return next.UTC(), nil
}

// Validate checks that a rule string parses and the zone resolves,
// without computing an occurrence.
func (c *Calculator) Validate(ruleStr, timezone string) error {
	if _, err := rrule.Parse(ruleStr); err != nil {
		return fmt.Errorf("parse rule: %w", err)
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	return nil
}
