package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carepulse/carepulse/internal/domain"
	"github.com/carepulse/carepulse/internal/schedule"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", schedule.NewCalculator())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTrigger(userRef string, nextRun time.Time) domain.Trigger {
	now := nextRun.Add(-time.Hour).UTC()
	return domain.Trigger{
		ID:        uuid.New(),
		UserRef:   userRef,
		Kind:      domain.TriggerKindRecurring,
		Rule:      "FREQ=DAILY;INTERVAL=1;BYHOUR=9;BYMINUTE=0",
		Timezone:  "UTC",
		NextRun:   nextRun.UTC(),
		Payload:   map[string]any{"note": "medication"},
		Status:    domain.TriggerStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := newTrigger("user-1", time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	if err := s.CreateTrigger(ctx, want); err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}

	got, err := s.GetTrigger(ctx, want.ID)
	if err != nil {
		t.Fatalf("GetTrigger: %v", err)
	}
	if got.ID != want.ID || got.UserRef != want.UserRef || got.Rule != want.Rule {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if !got.NextRun.Equal(want.NextRun) {
		t.Errorf("NextRun = %v, want %v", got.NextRun, want.NextRun)
	}
	if got.Status != domain.TriggerStatusActive {
		t.Errorf("Status = %v", got.Status)
	}
	if got.Payload["note"] != "medication" {
		t.Errorf("Payload = %v", got.Payload)
	}
	if got.ClaimedAt != nil {
		t.Errorf("ClaimedAt = %v, want nil", got.ClaimedAt)
	}
}

func TestGetTriggerNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetTrigger(context.Background(), uuid.New())
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestListTriggersByUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		tr := newTrigger("user-a", base.Add(time.Duration(i)*time.Hour))
		tr.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		tr.UpdatedAt = tr.CreatedAt
		if err := s.CreateTrigger(ctx, tr); err != nil {
			t.Fatalf("CreateTrigger: %v", err)
		}
	}
	if err := s.CreateTrigger(ctx, newTrigger("user-b", base)); err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}

	got, err := s.ListTriggers(ctx, "user-a", 10, 0)
	if err != nil {
		t.Fatalf("ListTriggers: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Newest first.
	if got[0].CreatedAt.Before(got[1].CreatedAt) {
		t.Errorf("not sorted newest first: %v then %v", got[0].CreatedAt, got[1].CreatedAt)
	}

	page, err := s.ListTriggers(ctx, "user-a", 2, 2)
	if err != nil {
		t.Fatalf("ListTriggers offset: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("paged len = %d, want 1", len(page))
	}
}

func TestCancelTrigger(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tr := newTrigger("user-1", time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	if err := s.CreateTrigger(ctx, tr); err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}

	if err := s.CancelTrigger(ctx, tr.ID); err != nil {
		t.Fatalf("CancelTrigger: %v", err)
	}
	got, err := s.GetTrigger(ctx, tr.ID)
	if err != nil {
		t.Fatalf("GetTrigger: %v", err)
	}
	if got.Status != domain.TriggerStatusCanceled {
		t.Fatalf("Status = %v, want canceled", got.Status)
	}

	// Repeat cancel is a no-op, not an error.
	if err := s.CancelTrigger(ctx, tr.ID); err != nil {
		t.Fatalf("repeat CancelTrigger: %v", err)
	}

	if err := s.CancelTrigger(ctx, uuid.New()); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("unknown id err = %v, want sql.ErrNoRows", err)
	}
}

func TestListDueOrderLimitAndClaim(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	second := newTrigger("user-1", now.Add(-time.Minute))
	first := newTrigger("user-2", now.Add(-2*time.Hour))
	future := newTrigger("user-3", now.Add(time.Hour))
	canceled := newTrigger("user-4", now.Add(-time.Hour))
	canceled.Status = domain.TriggerStatusCanceled

	for _, tr := range []domain.Trigger{second, first, future, canceled} {
		if err := s.CreateTrigger(ctx, tr); err != nil {
			t.Fatalf("CreateTrigger: %v", err)
		}
	}

	due, err := s.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("len = %d, want 2", len(due))
	}
	if due[0].ID != first.ID || due[1].ID != second.ID {
		t.Fatalf("order = [%s %s], want [%s %s]", due[0].ID, due[1].ID, first.ID, second.ID)
	}

	// The batch is claimed: an overlapping sweep sees nothing.
	again, err := s.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDue again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("overlapping sweep got %d triggers, want 0", len(again))
	}

	// Once the lease lapses the claim no longer hides the row.
	later := now.Add(DefaultClaimLease + time.Minute)
	retry, err := s.ListDue(ctx, later, 10)
	if err != nil {
		t.Fatalf("ListDue after lease: %v", err)
	}
	if len(retry) != 2 {
		t.Fatalf("post-lease len = %d, want 2", len(retry))
	}
}

func TestListDueLeaseBoundary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tr := newTrigger("user-1", now.Add(-time.Minute))
	if err := s.CreateTrigger(ctx, tr); err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}

	due, err := s.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("len = %d, want 1", len(due))
	}

	// At exactly lease expiry the claim still holds.
	atBoundary, err := s.ListDue(ctx, now.Add(DefaultClaimLease), 10)
	if err != nil {
		t.Fatalf("ListDue at boundary: %v", err)
	}
	if len(atBoundary) != 0 {
		t.Fatalf("boundary len = %d, want 0", len(atBoundary))
	}

	// One second past it the row is claimable again.
	past, err := s.ListDue(ctx, now.Add(DefaultClaimLease+time.Second), 10)
	if err != nil {
		t.Fatalf("ListDue past boundary: %v", err)
	}
	if len(past) != 1 {
		t.Fatalf("post-boundary len = %d, want 1", len(past))
	}
}

func TestListDueLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		tr := newTrigger("user", now.Add(-time.Duration(i+1)*time.Minute))
		if err := s.CreateTrigger(ctx, tr); err != nil {
			t.Fatalf("CreateTrigger: %v", err)
		}
	}

	due, err := s.ListDue(ctx, now, 3)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("len = %d, want 3", len(due))
	}
	// The limit keeps the earliest rows, not an arbitrary subset.
	rest, err := s.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDue rest: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("rest len = %d, want 2", len(rest))
	}
	latestClaimed := due[len(due)-1].NextRun
	for _, r := range rest {
		if r.NextRun.Before(latestClaimed) {
			t.Fatalf("claimed batch skipped earlier trigger %s", r.ID)
		}
	}
}

func TestAdvanceRecurring(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

	tr := newTrigger("user-1", time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	if err := s.CreateTrigger(ctx, tr); err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}

	if err := s.AdvanceTrigger(ctx, tr.ID, now); err != nil {
		t.Fatalf("AdvanceTrigger: %v", err)
	}

	got, err := s.GetTrigger(ctx, tr.ID)
	if err != nil {
		t.Fatalf("GetTrigger: %v", err)
	}
	want := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	if !got.NextRun.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", got.NextRun, want)
	}
	if got.Status != domain.TriggerStatusActive {
		t.Fatalf("Status = %v, want active", got.Status)
	}
	if got.LastFiredAt == nil || !got.LastFiredAt.Equal(now) {
		t.Fatalf("LastFiredAt = %v, want %v", got.LastFiredAt, now)
	}
	if got.ClaimedAt != nil {
		t.Fatalf("ClaimedAt = %v, want cleared", got.ClaimedAt)
	}
}

func TestAdvanceOneOffExhausts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 9, 5, 0, 0, time.UTC)

	tr := newTrigger("user-1", time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	tr.Kind = domain.TriggerKindOneOff
	tr.Rule = "DTSTART:20240601T090000\nFREQ=DAILY;COUNT=1"
	if err := s.CreateTrigger(ctx, tr); err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}

	if err := s.AdvanceTrigger(ctx, tr.ID, now); err != nil {
		t.Fatalf("AdvanceTrigger: %v", err)
	}
	got, err := s.GetTrigger(ctx, tr.ID)
	if err != nil {
		t.Fatalf("GetTrigger: %v", err)
	}
	if got.Status != domain.TriggerStatusExhausted {
		t.Fatalf("Status = %v, want exhausted", got.Status)
	}
}

func TestAdvanceExhaustsOnNoFutureOccurrence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tr := newTrigger("user-1", time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	tr.Rule = "FREQ=DAILY;INTERVAL=1;BYHOUR=9;BYMINUTE=0;UNTIL=20240601T120000Z"
	if err := s.CreateTrigger(ctx, tr); err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}

	// Past UNTIL there is no next occurrence.
	now := time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)
	if err := s.AdvanceTrigger(ctx, tr.ID, now); err != nil {
		t.Fatalf("AdvanceTrigger: %v", err)
	}
	got, err := s.GetTrigger(ctx, tr.ID)
	if err != nil {
		t.Fatalf("GetTrigger: %v", err)
	}
	if got.Status != domain.TriggerStatusExhausted {
		t.Fatalf("Status = %v, want exhausted", got.Status)
	}
}

func TestAdvanceCanceledIsNoOp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

	tr := newTrigger("user-1", time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	if err := s.CreateTrigger(ctx, tr); err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}
	if err := s.CancelTrigger(ctx, tr.ID); err != nil {
		t.Fatalf("CancelTrigger: %v", err)
	}

	if err := s.AdvanceTrigger(ctx, tr.ID, now); err != nil {
		t.Fatalf("AdvanceTrigger: %v", err)
	}
	got, err := s.GetTrigger(ctx, tr.ID)
	if err != nil {
		t.Fatalf("GetTrigger: %v", err)
	}
	if got.Status != domain.TriggerStatusCanceled {
		t.Fatalf("Status = %v, want canceled", got.Status)
	}
	if !got.NextRun.Equal(tr.NextRun) {
		t.Fatalf("NextRun moved on canceled trigger: %v", got.NextRun)
	}
}

func TestAdvanceUnknownTrigger(t *testing.T) {
	s := openTestStore(t)
	err := s.AdvanceTrigger(context.Background(), uuid.New(), time.Now())
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestInsertAlert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := domain.Alert{
		ID:       uuid.New(),
		UserRef:  "user-1",
		Type:     domain.AlertTypeScheduledTrigger,
		Severity: domain.AlertSeverityMedium,
		Message:  domain.AlertMessageCheckin,
		Channel:  domain.AlertChannelEmail,
		Payload:  map[string]any{"note": "call"},
		Context: domain.AlertContext{
			Payload:  map[string]any{"note": "call"},
			Timezone: "America/New_York",
		},
		Status:    domain.AlertStatusPending,
		CreatedAt: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := s.InsertAlert(ctx, a); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts WHERE user_ref = ?`, "user-1").Scan(&count); err != nil {
		t.Fatalf("count alerts: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}
