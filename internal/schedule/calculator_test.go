package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestCalculator_Next_ReturnsUTC(t *testing.T) {
	calc := NewCalculator()

	after := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	next, err := calc.Next("FREQ=DAILY;BYHOUR=9;BYMINUTE=0", "America/New_York", after, false)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if next.Location() != time.UTC {
		t.Errorf("result location = %v, want UTC", next.Location())
	}
	// June: New York is UTC-4, 9am local = 13:00 UTC.
	want := time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %s, want %s", next, want)
	}
}

func TestCalculator_Next_InclusiveVsExclusive(t *testing.T) {
	calc := NewCalculator()

	occurrence := time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC) // 9am New York

	inclusive, err := calc.Next("FREQ=DAILY;BYHOUR=9;BYMINUTE=0", "America/New_York", occurrence, true)
	if err != nil {
		t.Fatalf("inclusive Next: %v", err)
	}
	if !inclusive.Equal(occurrence) {
		t.Errorf("inclusive Next = %s, want the boundary instant %s", inclusive, occurrence)
	}

	exclusive, err := calc.Next("FREQ=DAILY;BYHOUR=9;BYMINUTE=0", "America/New_York", occurrence, false)
	if err != nil {
		t.Fatalf("exclusive Next: %v", err)
	}
	if !exclusive.After(occurrence) {
		t.Errorf("exclusive Next = %s, must be strictly after %s", exclusive, occurrence)
	}
}

func TestCalculator_Next_NoFutureOccurrence(t *testing.T) {
	calc := NewCalculator()

	after := time.Date(2024, 12, 1, 15, 0, 0, 0, time.UTC)
	_, err := calc.Next("DTSTART:20241201T140000\nFREQ=DAILY;COUNT=1", "UTC", after, false)
	if !errors.Is(err, ErrNoFutureOccurrence) {
		t.Errorf("err = %v, want ErrNoFutureOccurrence", err)
	}
}

func TestCalculator_Next_BadInputs(t *testing.T) {
	calc := NewCalculator()
	now := time.Now()

	if _, err := calc.Next("FREQ=NOPE", "UTC", now, false); err == nil {
		t.Error("expected error for bad rule")
	} else if errors.Is(err, ErrNoFutureOccurrence) {
		t.Error("parse failure must not masquerade as exhaustion")
	}

	if _, err := calc.Next("FREQ=DAILY", "Mars/Olympus", now, false); err == nil {
		t.Error("expected error for bad timezone")
	}
}

func TestCalculator_Validate(t *testing.T) {
	calc := NewCalculator()

	if err := calc.Validate("FREQ=WEEKLY;BYDAY=MO;BYHOUR=9;BYMINUTE=0", "Europe/Berlin"); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := calc.Validate("FREQ=YEARLY", "UTC"); err == nil {
		t.Error("expected error for unsupported FREQ")
	}
	if err := calc.Validate("FREQ=DAILY", "Not/AZone"); err == nil {
		t.Error("expected error for unknown zone")
	}
}
