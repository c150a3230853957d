// Package sqlite implements the trigger store on SQLite via
// modernc.org/sqlite. It is meant for single-node deployments and
// local development; the PostgreSQL store is the production path.
//
// The pool is capped at one connection, which both avoids SQLITE_BUSY
// under write contention and makes claim/advance serialization a
// property of the connection rather than of row locks.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/carepulse/carepulse/internal/api"
	"github.com/carepulse/carepulse/internal/domain"
	"github.com/carepulse/carepulse/internal/schedule"
	"github.com/carepulse/carepulse/internal/sweeper"
)

// DefaultClaimLease mirrors the PostgreSQL store's lease.
const DefaultClaimLease = 5 * time.Minute

// timeLayout is fixed-width UTC so that string comparison in SQL agrees
// with time order.
const timeLayout = "2006-01-02T15:04:05Z"

// Calculator computes the next occurrence for a rule. Satisfied by
// schedule.Calculator.
type Calculator interface {
	Next(rule, timezone string, after time.Time, inclusive bool) (time.Time, error)
}

// Store implements sweeper.Store and api.Store using SQLite.
type Store struct {
	db         *sql.DB
	calc       Calculator
	claimLease time.Duration
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for tests.
func Open(path string, calc Calculator) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, calc: calc, claimLease: DefaultClaimLease}, nil
}

// WithClaimLease overrides the sweep claim lease.
func (s *Store) WithClaimLease(lease time.Duration) *Store {
	s.claimLease = lease
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateTrigger(ctx context.Context, t domain.Trigger) error {
	payload, err := marshalPayload(t.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, queryInsertTrigger,
		t.ID.String(),
		t.UserRef,
		string(t.Kind),
		t.Rule,
		t.Timezone,
		formatTime(t.NextRun),
		string(payload),
		string(t.Status),
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
	)
	return err
}

// GetTrigger returns a trigger by ID. Returns sql.ErrNoRows when absent.
func (s *Store) GetTrigger(ctx context.Context, id uuid.UUID) (domain.Trigger, error) {
	row := s.db.QueryRowContext(ctx, queryGetTrigger, id.String())
	return scanTrigger(row)
}

// ListTriggers returns a subject's triggers, newest first.
func (s *Store) ListTriggers(ctx context.Context, userRef string, limit, offset int) ([]domain.Trigger, error) {
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
	result, err := s.db.ExecContext(ctx, queryCancelTrigger, formatTime(time.Now()), id.String())
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

	var one int
	err = s.db.QueryRowContext(ctx, queryTriggerExists, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.ErrNoRows
	}
	return err
}

// ListDue returns up to limit active triggers with next_run <= now in
// ascending next_run order, claiming each against overlapping sweeps.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Trigger, error) {
	cutoff := now.UTC().Add(-s.claimLease)
	rows, err := s.db.QueryContext(ctx, queryClaimDue,
		formatTime(now), formatTime(now), formatTime(cutoff), limit)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING order is unspecified; the inner SELECT only bounds the
	// set, so re-sort here.
	sort.Slice(result, func(i, j int) bool {
		return result[i].NextRun.Before(result[j].NextRun)
	})
	return result, nil
}

// AdvanceTrigger recomputes next_run strictly after now and clears the
// claim. One-off triggers and rules with no future occurrence transition
// to exhausted. Advancing a non-active trigger is a no-op, so a cancel
// racing an in-flight sweep wins.
func (s *Store) AdvanceTrigger(ctx context.Context, id uuid.UUID, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var kind, rule, timezone, status string
	err = tx.QueryRowContext(ctx, queryGetTriggerForAdvance, id.String()).Scan(&kind, &rule, &timezone, &status)
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
	fired := formatTime(nowUTC)

	if domain.TriggerKind(kind) == domain.TriggerKindOneOff {
		if _, err := tx.ExecContext(ctx, queryExhaustTrigger, fired, fired, id.String()); err != nil {
			return err
		}
		return tx.Commit()
	}

	next, err := s.calc.Next(rule, timezone, nowUTC, false)
	if err != nil {
		if errors.Is(err, schedule.ErrNoFutureOccurrence) {
			if _, err := tx.ExecContext(ctx, queryExhaustTrigger, fired, fired, id.String()); err != nil {
				return err
			}
			return tx.Commit()
		}
		return fmt.Errorf("compute next occurrence: %w", err)
	}

	if _, err := tx.ExecContext(ctx, queryAdvanceTrigger, formatTime(next), fired, fired, id.String()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) InsertAlert(ctx context.Context, a domain.Alert) error {
	payload, err := marshalPayload(a.Payload)
	if err != nil {
		return err
	}
	alertCtx, err := json.Marshal(a.Context)
	if err != nil {
		return fmt.Errorf("marshal alert context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryInsertAlert,
		a.ID.String(),
		a.UserRef,
		a.Type,
		a.Severity,
		a.Message,
		a.Channel,
		string(payload),
		string(alertCtx),
		a.Status,
		formatTime(a.CreatedAt),
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

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (domain.Trigger, error) {
	var (
		t           domain.Trigger
		id          string
		kind        string
		status      string
		nextRun     string
		payload     string
		claimedAt   sql.NullString
		lastFiredAt sql.NullString
		createdAt   string
		updatedAt   string
	)

	err := row.Scan(
		&id,
		&t.UserRef,
		&kind,
		&t.Rule,
		&t.Timezone,
		&nextRun,
		&payload,
		&status,
		&claimedAt,
		&lastFiredAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return domain.Trigger{}, err
	}

	t.ID, err = uuid.Parse(id)
	if err != nil {
		return domain.Trigger{}, fmt.Errorf("parse trigger id: %w", err)
	}
	t.Kind = domain.TriggerKind(kind)
	t.Status = domain.TriggerStatus(status)

	if t.NextRun, err = parseTime(nextRun); err != nil {
		return domain.Trigger{}, fmt.Errorf("parse next_run: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Trigger{}, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Trigger{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if claimedAt.Valid {
		ts, err := parseTime(claimedAt.String)
		if err != nil {
			return domain.Trigger{}, fmt.Errorf("parse claimed_at: %w", err)
		}
		t.ClaimedAt = &ts
	}
	if lastFiredAt.Valid {
		ts, err := parseTime(lastFiredAt.String)
		if err != nil {
			return domain.Trigger{}, fmt.Errorf("parse last_fired_at: %w", err)
		}
		t.LastFiredAt = &ts
	}

	if err := json.Unmarshal([]byte(payload), &t.Payload); err != nil {
		return domain.Trigger{}, fmt.Errorf("unmarshal payload: %w", err)
	}

	return t, nil
}

var (
	_ sweeper.Store = (*Store)(nil)
	_ api.Store     = (*Store)(nil)
)
