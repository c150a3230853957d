package api

import (
	"fmt"
	"time"
)

// wallClockLayout accepts zone-less ISO8601 timestamps, read as wall
// clock in the request's timezone. This mirrors how a DTSTART line in a
// rule is interpreted.
const wallClockLayout = "2006-01-02T15:04:05"

// parseInstant parses an RFC3339 instant, falling back to a zone-less
// wall-clock timestamp resolved in tz (UTC when empty).
func parseInstant(value, tz string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(wallClockLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
}

func validateCreateOnce(req CreateOnceRequest) (time.Time, error) {
	if req.UserRef == "" {
		return time.Time{}, fmt.Errorf("user_ref is required")
	}
	if req.RunAt == "" {
		return time.Time{}, fmt.Errorf("run_at is required")
	}
	if req.Timezone != "" {
		if err := validateTimezone(req.Timezone); err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
		}
	}
	runAt, err := parseInstant(req.RunAt, req.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid run_at: %w", err)
	}
	return runAt, nil
}

func validateCreateTrigger(req CreateTriggerRequest) error {
	if req.UserRef == "" {
		return fmt.Errorf("user_ref is required")
	}
	if req.Rule == "" {
		return fmt.Errorf("rule is required")
	}
	if req.Timezone != "" {
		if err := validateTimezone(req.Timezone); err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
	}
	return nil
}

func validateCreateCadence(req CreateCadenceRequest) error {
	if req.UserRef == "" {
		return fmt.Errorf("user_ref is required")
	}
	if req.Cadence == "" {
		return fmt.Errorf("cadence is required")
	}
	if req.Timezone != "" {
		if err := validateTimezone(req.Timezone); err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
	}
	return nil
}

func validateTimezone(tz string) error {
	_, err := time.LoadLocation(tz)
	return err
}
