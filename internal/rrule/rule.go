// Package rrule implements the RFC 5545 subset used for check-in
// scheduling: FREQ (DAILY/WEEKLY/MONTHLY), INTERVAL, BYDAY, BYHOUR,
// BYMINUTE, COUNT and UNTIL, plus an optional DTSTART line for one-off
// and phase-anchored rules. It is deliberately not a general RFC 5545
// evaluator.
package rrule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Freq string

const (
	FreqDaily   Freq = "DAILY"
	FreqWeekly  Freq = "WEEKLY"
	FreqMonthly Freq = "MONTHLY"
)

// compactLayout is the DTSTART/UNTIL wall-clock format, e.g. 20241201T140000.
const compactLayout = "20060102T150405"

// maxIterations bounds occurrence expansion for pathological rules
// (e.g. MONTHLY on day 31 with a large interval).
const maxIterations = 10000

// Rule is a parsed recurrence rule. DTStart and Until hold wall-clock
// components; they are resolved against a concrete zone at evaluation time.
type Rule struct {
	Freq     Freq
	Interval int            // >= 1
	ByDay    []time.Weekday // weekly expansion days, chronological from Monday
	ByHour   int            // -1 when unset
	ByMinute int            // -1 when unset
	Count    int            // 0 = unbounded
	Until    *time.Time     // wall clock unless UntilUTC
	UntilUTC bool           // UNTIL carried a trailing Z
	DTStart  *time.Time     // wall clock in the trigger's zone
}

// Parse parses a canonical rule string. Accepted forms:
//
//	FREQ=WEEKLY;INTERVAL=1;BYDAY=MO,WE,FR;BYHOUR=10;BYMINUTE=0
//	DTSTART:20241201T140000\nFREQ=DAILY;COUNT=1
//	DTSTART:20241201T140000\nRRULE:FREQ=DAILY;COUNT=1
func Parse(s string) (*Rule, error) {
	r := &Rule{Interval: 1, ByHour: -1, ByMinute: -1}

	body := strings.TrimSpace(s)
	if body == "" {
		return nil, fmt.Errorf("empty rule")
	}

	if strings.HasPrefix(body, "DTSTART:") {
		line, rest, found := strings.Cut(body, "\n")
		if !found {
			return nil, fmt.Errorf("DTSTART line without rule body")
		}
		raw := strings.TrimPrefix(strings.TrimSpace(line), "DTSTART:")
		t, err := time.Parse(compactLayout, strings.TrimSuffix(raw, "Z"))
		if err != nil {
			return nil, fmt.Errorf("parse DTSTART %q: %w", raw, err)
		}
		r.DTStart = &t
		body = strings.TrimSpace(rest)
	}

	// The original emitter prefixes the body with RRULE:, the canonical
	// form does not. Accept both.
	body = strings.TrimPrefix(body, "RRULE:")

	for _, part := range strings.Split(body, ";") {
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("malformed rule part %q", part)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "FREQ":
			switch Freq(strings.ToUpper(value)) {
			case FreqDaily, FreqWeekly, FreqMonthly:
				r.Freq = Freq(strings.ToUpper(value))
			default:
				return nil, fmt.Errorf("unsupported FREQ %q", value)
			}
		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid INTERVAL %q", value)
			}
			r.Interval = n
		case "BYDAY":
			days, err := parseByDay(value)
			if err != nil {
				return nil, err
			}
			r.ByDay = days
		case "BYHOUR":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 || n > 23 {
				return nil, fmt.Errorf("invalid BYHOUR %q", value)
			}
			r.ByHour = n
		case "BYMINUTE":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 || n > 59 {
				return nil, fmt.Errorf("invalid BYMINUTE %q", value)
			}
			r.ByMinute = n
		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid COUNT %q", value)
			}
			r.Count = n
		case "UNTIL":
			r.UntilUTC = strings.HasSuffix(value, "Z")
			t, err := time.Parse(compactLayout, strings.TrimSuffix(value, "Z"))
			if err != nil {
				return nil, fmt.Errorf("parse UNTIL %q: %w", value, err)
			}
			r.Until = &t
		default:
			return nil, fmt.Errorf("unsupported rule part %q", key)
		}
	}

	if r.Freq == "" {
		return nil, fmt.Errorf("rule is missing FREQ")
	}
	return r, nil
}

// weekday codes indexed from Monday, matching the cadence weekday contract.
var weekdayCodes = [7]string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}

func parseByDay(value string) ([]time.Weekday, error) {
	var seen [7]bool
	for _, code := range strings.Split(value, ",") {
		code = strings.ToUpper(strings.TrimSpace(code))
		idx := -1
		for i, c := range weekdayCodes {
			if c == code {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("unsupported BYDAY code %q", code)
		}
		seen[idx] = true
	}

	var days []time.Weekday
	for i, ok := range seen {
		if ok {
			days = append(days, weekdayFromMonday(i))
		}
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("empty BYDAY")
	}
	return days, nil
}

// weekdayFromMonday converts a Monday-based index (0=Monday) to time.Weekday.
func weekdayFromMonday(i int) time.Weekday {
	return time.Weekday((i + 1) % 7)
}

// mondayIndex converts a time.Weekday to a Monday-based index (0=Monday).
func mondayIndex(w time.Weekday) int {
	return (int(w) + 6) % 7
}

// Next returns the first occurrence of the rule in loc strictly after
// `after` (or at/after it when inclusive), expressed in UTC. ok is false
// when the rule has no matching occurrence left (COUNT consumed, UNTIL
// passed, or the expansion guard tripped).
//
// Without a DTSTART the expansion is anchored at the reference instant,
// which matches the original scheduler's library defaulting dtstart to
// "now": interval phase and COUNT are then relative to each evaluation.
func (r *Rule) Next(after time.Time, loc *time.Location, inclusive bool) (time.Time, bool) {
	anchor := r.anchor(after, loc)
	untilInstant, hasUntil := r.untilInstant(loc)

	hour, minute, sec := anchor.Hour(), anchor.Minute(), anchor.Second()
	if r.ByHour >= 0 {
		hour = r.ByHour
	}
	if r.ByMinute >= 0 {
		minute = r.ByMinute
		sec = 0
	}

	matched := 0
	for i := 0; i < maxIterations; i++ {
		day, ok := r.nthDay(anchor, i)
		if !ok {
			continue
		}
		occ := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, sec, 0, loc)
		if occ.Before(anchor) {
			// Same-period slots earlier than the anchor are not occurrences.
			continue
		}

		matched++
		if r.Count > 0 && matched > r.Count {
			return time.Time{}, false
		}
		if hasUntil && occ.After(untilInstant) {
			return time.Time{}, false
		}

		if inclusive {
			if !occ.Before(after) {
				return occ.UTC(), true
			}
		} else if occ.After(after) {
			return occ.UTC(), true
		}
	}
	return time.Time{}, false
}

// anchor resolves the expansion origin in loc.
func (r *Rule) anchor(after time.Time, loc *time.Location) time.Time {
	if r.DTStart != nil {
		d := *r.DTStart
		return time.Date(d.Year(), d.Month(), d.Day(), d.Hour(), d.Minute(), d.Second(), 0, loc)
	}
	return after.In(loc)
}

func (r *Rule) untilInstant(loc *time.Location) (time.Time, bool) {
	if r.Until == nil {
		return time.Time{}, false
	}
	u := *r.Until
	if r.UntilUTC {
		return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second(), 0, time.UTC), true
	}
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second(), 0, loc), true
}

// nthDay returns the i-th candidate date of the expansion (midnight in
// anchor's zone). ok is false for slots skipped by the frequency rules,
// e.g. a 31st in a 30-day month.
func (r *Rule) nthDay(anchor time.Time, i int) (time.Time, bool) {
	y, m, d := anchor.Date()
	base := time.Date(y, m, d, 0, 0, 0, 0, anchor.Location())

	switch r.Freq {
	case FreqDaily:
		return base.AddDate(0, 0, i*r.Interval), true

	case FreqWeekly:
		days := r.ByDay
		if len(days) == 0 {
			days = []time.Weekday{anchor.Weekday()}
		}
		week, slot := i/len(days), i%len(days)
		weekStart := base.AddDate(0, 0, -mondayIndex(anchor.Weekday()))
		return weekStart.AddDate(0, 0, week*r.Interval*7+mondayIndex(days[slot])), true

	case FreqMonthly:
		target := base.AddDate(0, i*r.Interval, 0)
		// AddDate normalizes overflow (Jan 31 + 1 month = Mar 2/3);
		// such months have no occurrence.
		if target.Day() != d {
			return time.Time{}, false
		}
		return target, true
	}
	return time.Time{}, false
}

// String renders the rule in canonical form.
func (r *Rule) String() string {
	var b strings.Builder
	if r.DTStart != nil {
		b.WriteString("DTSTART:")
		b.WriteString(r.DTStart.Format(compactLayout))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "FREQ=%s", r.Freq)
	if r.Interval > 1 {
		fmt.Fprintf(&b, ";INTERVAL=%d", r.Interval)
	}
	if len(r.ByDay) > 0 {
		codes := make([]string, len(r.ByDay))
		for i, d := range r.ByDay {
			codes[i] = weekdayCodes[mondayIndex(d)]
		}
		fmt.Fprintf(&b, ";BYDAY=%s", strings.Join(codes, ","))
	}
	if r.ByHour >= 0 {
		fmt.Fprintf(&b, ";BYHOUR=%d", r.ByHour)
	}
	if r.ByMinute >= 0 {
		fmt.Fprintf(&b, ";BYMINUTE=%d", r.ByMinute)
	}
	if r.Count > 0 {
		fmt.Fprintf(&b, ";COUNT=%d", r.Count)
	}
	if r.Until != nil {
		b.WriteString(";UNTIL=")
		b.WriteString(r.Until.Format(compactLayout))
		if r.UntilUTC {
			b.WriteString("Z")
		}
	}
	return b.String()
}
