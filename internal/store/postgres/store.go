// Package postgres implements the trigger store on PostgreSQL.
//
// Per-trigger atomicity under overlapping sweep invocations is a contract
// of this store, not an inherited platform property: ListDue claims rows
// under FOR UPDATE SKIP LOCKED, and Advance runs its read-compute-write
// inside a row-locking transaction.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carepulse/carepulse/internal/api"
	"github.com/carepulse/carepulse/internal/domain"
	"github.com/carepulse/carepulse/internal/schedule"
	"github.com/carepulse/carepulse/internal/sweeper"
)

// DefaultClaimLease is how long a claimed trigger stays invisible to
// other sweep invocations. It must exceed the worst-case time between
// claiming a batch and advancing its last trigger.
const DefaultClaimLease = 5 * time.Minute

// Calculator computes the next occurrence for a rule. Satisfied by
// schedule.Calculator.
type Calculator interface {
	Next(rule, timezone string, after time.Time, inclusive bool) (time.Time, error)
}

// Store implements sweeper.Store and api.Store using PostgreSQL.
type Store struct {
	db         *sql.DB
	calc       Calculator
	opTimeout  time.Duration
	claimLease time.Duration
}

// New creates a PostgreSQL store. opTimeout bounds each statement;
// zero disables the per-operation timeout.
func New(db *sql.DB, calc Calculator, opTimeout time.Duration) *Store {
	return &Store{
		db:         db,
		calc:       calc,
		opTimeout:  opTimeout,
		claimLease: DefaultClaimLease,
	}
}

// WithClaimLease overrides the sweep claim lease.
func (s *Store) WithClaimLease(lease time.Duration) *Store {
	s.claimLease = lease
	return s
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// CreateTrigger persists a new trigger. The caller seeds NextRun.
func (s *Store) CreateTrigger(ctx context.Context, t domain.Trigger) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	payload, err := marshalPayload(t.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, queryInsertTrigger,
		t.ID,
		t.UserRef,
		string(t.Kind),
		t.Rule,
		t.Timezone,
		t.NextRun.UTC(),
		payload,
		string(t.Status),
		t.CreatedAt,
		t.UpdatedAt,
	)
	return err
}

// GetTrigger returns a trigger by ID. Returns sql.ErrNoRows when absent.
func (s *Store) GetTrigger(ctx context.Context, id uuid.UUID) (domain.Trigger, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, queryGetTrigger, id)
	return scanTrigger(row)
}

// ListTriggers returns a subject's triggers, newest first.
func (s *Store) ListTriggers(ctx context.Context, userRef string, limit, offset int) ([]domain.Trigger, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListTriggers, userRef, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// CancelTrigger flips an active trigger to canceled. Canceling a
// non-active trigger is a no-op; an unknown ID returns sql.ErrNoRows.
func (s *Store) CancelTrigger(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryCancelTrigger, id, time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	// Not updated: distinguish "already terminal" (no-op) from "unknown id".
	var one int
	err = s.db.QueryRowContext(ctx, queryTriggerExists, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.ErrNoRows
	}
	return err
}

// ListDue returns up to limit active triggers with next_run <= now, in
// ascending next_run order, claiming each so overlapping invocations
// skip them until the lease expires.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Trigger, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cutoff := now.UTC().Add(-s.claimLease)
	rows, err := s.db.QueryContext(ctx, queryClaimDue, now.UTC(), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// AdvanceTrigger recomputes next_run strictly after now and clears the
// claim. One-off triggers and rules with no future occurrence transition
// to exhausted. Advancing a non-active trigger is a no-op, so a cancel
// racing an in-flight sweep wins.
func (s *Store) AdvanceTrigger(ctx context.Context, id uuid.UUID, now time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var kind, rule, timezone, status string
	err = tx.QueryRowContext(ctx, queryGetTriggerForAdvance, id).Scan(&kind, &rule, &timezone, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		return err
	}
	if domain.TriggerStatus(status) != domain.TriggerStatusActive {
		return tx.Commit()
	}

	nowUTC := now.UTC()

	if domain.TriggerKind(kind) == domain.TriggerKindOneOff {
		if _, err := tx.ExecContext(ctx, queryExhaustTrigger, id, nowUTC); err != nil {
			return err
		}
		return tx.Commit()
	}

	next, err := s.calc.Next(rule, timezone, nowUTC, false)
	if err != nil {
		if errors.Is(err, schedule.ErrNoFutureOccurrence) {
			if _, err := tx.ExecContext(ctx, queryExhaustTrigger, id, nowUTC); err != nil {
				return err
			}
			return tx.Commit()
		}
		return fmt.Errorf("compute next occurrence: %w", err)
	}

	if _, err := tx.ExecContext(ctx, queryAdvanceTrigger, id, next, nowUTC); err != nil {
		return err
	}
	return tx.Commit()
}

// InsertAlert persists the alert side effect; ownership passes to the
// notification subsystem once the row exists.
func (s *Store) InsertAlert(ctx context.Context, a domain.Alert) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	payload, err := marshalPayload(a.Payload)
	if err != nil {
		return err
	}
	alertCtx, err := json.Marshal(a.Context)
	if err != nil {
		return fmt.Errorf("marshal alert context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryInsertAlert,
		a.ID,
		a.UserRef,
		a.Type,
		a.Severity,
		a.Message,
		a.Channel,
		payload,
		alertCtx,
		a.Status,
		a.CreatedAt,
	)
	return err
}

func marshalPayload(p map[string]any) ([]byte, error) {
	if p == nil {
		p = map[string]any{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (domain.Trigger, error) {
	var (
		t           domain.Trigger
		kind        string
		status      string
		payload     []byte
		claimedAt   sql.NullTime
		lastFiredAt sql.NullTime
	)

	err := row.Scan(
		&t.ID,
		&t.UserRef,
		&kind,
		&t.Rule,
		&t.Timezone,
		&t.NextRun,
		&payload,
		&status,
		&claimedAt,
		&lastFiredAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return domain.Trigger{}, err
	}

	t.Kind = domain.TriggerKind(kind)
	t.Status = domain.TriggerStatus(status)
	t.NextRun = t.NextRun.UTC()
	if claimedAt.Valid {
		at := claimedAt.Time.UTC()
		t.ClaimedAt = &at
	}
	if lastFiredAt.Valid {
		at := lastFiredAt.Time.UTC()
		t.LastFiredAt = &at
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t.Payload); err != nil {
			return domain.Trigger{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return t, nil
}

// Compile-time interface assertions
var (
	_ sweeper.Store = (*Store)(nil)
	_ api.Store     = (*Store)(nil)
)
