// Package sweeper detects due triggers and processes each exactly once
// per sweep: emit one alert, then advance the trigger.
//
// Both the token-gated HTTP endpoint and the internal periodic runner
// call Sweep; there is a single implementation of the batch semantics.
package sweeper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/carepulse/carepulse/internal/domain"
)

// DefaultBatchSize bounds worst-case per-sweep work.
const DefaultBatchSize = 25

// DefaultStaleAfter is how far past its nextRun a trigger may be before
// the sweep advances it without emitting. A trigger that overdue almost
// always means scheduler downtime, and waking a caregiver with a stack
// of backdated nudges helps no one.
const DefaultStaleAfter = 24 * time.Hour

type Store interface {
	// ListDue returns up to limit active triggers with nextRun <= now in
	// ascending nextRun order, claimed against overlapping invocations.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Trigger, error)
	// AdvanceTrigger recomputes nextRun strictly after now, or marks the
	// trigger exhausted when the rule has no future occurrence.
	AdvanceTrigger(ctx context.Context, id uuid.UUID, now time.Time) error
	InsertAlert(ctx context.Context, alert domain.Alert) error
}

// DedupCache limits proactive alerts per subject. Optional.
type DedupCache interface {
	// PutOnce stores key with ttl if absent. Returns false when the key
	// already exists, i.e. the window is already consumed.
	PutOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MetricsSink records sweep metrics. All methods are fire-and-forget.
type MetricsSink interface {
	SweepStarted()
	SweepCompleted(duration time.Duration, processed int, err error)
	AlertEmitted()
	AlertEmitError()
	StaleTriggerSkipped()
	DedupSkipped()
}

type Config struct {
	// StaleAfter is the overdue age past which a trigger is advanced
	// without an alert. Zero means DefaultStaleAfter.
	StaleAfter time.Duration

	// DedupWindow enables the per-subject alert window when positive.
	DedupWindow time.Duration
}

type Sweeper struct {
	config  Config
	store   Store
	dedup   DedupCache  // optional, nil = disabled
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(config Config, store Store) *Sweeper {
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultStaleAfter
	}
	return &Sweeper{
		config: config,
		store:  store,
		clock:  time.Now,
	}
}

// WithDedup attaches the per-subject alert window cache.
func (s *Sweeper) WithDedup(cache DedupCache) *Sweeper {
	s.dedup = cache
	return s
}

// WithMetrics attaches a metrics sink.
func (s *Sweeper) WithMetrics(sink MetricsSink) *Sweeper {
	s.metrics = sink
	return s
}

// WithClock overrides the time source. Intended for tests.
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// Sweep runs one batch. It returns the number of triggers that emitted
// an alert and advanced; a failure on one trigger is logged and never
// aborts the rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	now := s.clock().UTC()
	start := now
	if s.metrics != nil {
		s.metrics.SweepStarted()
	}

	due, err := s.store.ListDue(ctx, now, batchSize)
	if err != nil {
		err = fmt.Errorf("list due triggers: %w", err)
		s.finish(start, 0, err)
		return 0, err
	}
	if len(due) == 0 {
		s.finish(start, 0, nil)
		return 0, nil
	}

	log.Printf("sweeper: found %d due triggers", len(due))

	processed := 0
	skipped := 0
	failed := 0

	for _, trigger := range due {
		if ctx.Err() != nil {
			log.Printf("sweeper: sweep interrupted, processed %d/%d triggers", processed, len(due))
			break
		}

		switch s.processTrigger(ctx, trigger, now) {
		case outcomeProcessed:
			processed++
		case outcomeSkipped:
			skipped++
		case outcomeFailed:
			failed++
		}
	}

	log.Printf("sweeper: sweep complete, processed=%d skipped=%d failed=%d", processed, skipped, failed)
	s.finish(start, processed, nil)
	return processed, nil
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (s *Sweeper) processTrigger(ctx context.Context, trigger domain.Trigger, now time.Time) outcome {
	// Triggers overdue past the stale window are advanced silently;
	// the missed occurrences were lost to downtime, not to load.
	if now.Sub(trigger.NextRun) > s.config.StaleAfter {
		log.Printf("sweeper: skipping stale trigger=%s user=%s overdue=%s",
			trigger.ID, trigger.UserRef, now.Sub(trigger.NextRun).Round(time.Minute))
		if s.metrics != nil {
			s.metrics.StaleTriggerSkipped()
		}
		if err := s.store.AdvanceTrigger(ctx, trigger.ID, now); err != nil {
			log.Printf("sweeper: advance stale trigger=%s: %v", trigger.ID, err)
			return outcomeFailed
		}
		return outcomeSkipped
	}

	if s.dedup != nil && s.config.DedupWindow > 0 {
		fresh, err := s.dedup.PutOnce(ctx, dedupKey(trigger.UserRef, now, s.config.DedupWindow), s.config.DedupWindow)
		if err != nil {
			// A broken cache must not silence check-ins; emit anyway.
			log.Printf("sweeper: dedup cache error for trigger=%s: %v", trigger.ID, err)
		} else if !fresh {
			log.Printf("sweeper: dedup window consumed for user=%s, skipping alert trigger=%s",
				trigger.UserRef, trigger.ID)
			if s.metrics != nil {
				s.metrics.DedupSkipped()
			}
			if err := s.store.AdvanceTrigger(ctx, trigger.ID, now); err != nil {
				log.Printf("sweeper: advance deduped trigger=%s: %v", trigger.ID, err)
				return outcomeFailed
			}
			return outcomeSkipped
		}
	}

	alert := buildAlert(trigger, now)
	if err := s.store.InsertAlert(ctx, alert); err != nil {
		// Leave the trigger un-advanced: the claim lease expires and a
		// later sweep retries the occurrence (at-least-once emission).
		log.Printf("sweeper: emit alert for trigger=%s user=%s: %v", trigger.ID, trigger.UserRef, err)
		if s.metrics != nil {
			s.metrics.AlertEmitError()
		}
		return outcomeFailed
	}
	if s.metrics != nil {
		s.metrics.AlertEmitted()
	}

	if err := s.store.AdvanceTrigger(ctx, trigger.ID, now); err != nil {
		log.Printf("sweeper: advance trigger=%s: %v", trigger.ID, err)
		return outcomeFailed
	}

	return outcomeProcessed
}

func (s *Sweeper) finish(start time.Time, processed int, err error) {
	if s.metrics != nil {
		s.metrics.SweepCompleted(s.clock().UTC().Sub(start), processed, err)
	}
}

func buildAlert(trigger domain.Trigger, now time.Time) domain.Alert {
	return domain.Alert{
		ID:       uuid.New(),
		UserRef:  trigger.UserRef,
		Type:     domain.AlertTypeScheduledTrigger,
		Severity: domain.AlertSeverityMedium,
		Message:  domain.AlertMessageCheckin,
		Channel:  domain.AlertChannelEmail,
		Payload:  trigger.Payload,
		Context: domain.AlertContext{
			Payload:  trigger.Payload,
			Timezone: trigger.Timezone,
		},
		Status:    domain.AlertStatusPending,
		CreatedAt: now,
	}
}

// dedupKey buckets by user and window index so the guard resets on
// window boundaries rather than a sliding TTL alone.
func dedupKey(userRef string, now time.Time, window time.Duration) string {
	bucket := now.Unix() / int64(window.Seconds())
	return fmt.Sprintf("alert:%s:%d", userRef, bucket)
}
