// Package runner drives the periodic sweep. It is the internal caller
// of the same batch logic the /v1/sweep endpoint exposes; no token is
// involved on this path.
package runner

import (
	"context"
	"log"
	"time"

	"github.com/carepulse/carepulse/internal/cron"
)

// Sweeper runs one due-processing batch. Satisfied by sweeper.Sweeper.
type Sweeper interface {
	Sweep(ctx context.Context, batchSize int) (int, error)
}

type Config struct {
	// Interval between sweeps. Ignored when Schedule is set.
	Interval time.Duration

	// Schedule overrides Interval with a cron cadence.
	Schedule cron.Schedule

	// BatchSize caps triggers per sweep. Zero uses the sweeper default.
	BatchSize int
}

type Runner struct {
	config  Config
	sweeper Sweeper
	clock   func() time.Time
}

func New(config Config, sweeper Sweeper) *Runner {
	return &Runner{
		config:  config,
		sweeper: sweeper,
		clock:   time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// Run sweeps on the configured cadence until ctx is cancelled. A failed
// sweep is logged and the cadence continues; transient store outages
// must not kill the loop.
func (r *Runner) Run(ctx context.Context) error {
	if r.config.Schedule != nil {
		return r.runCron(ctx)
	}
	return r.runTicker(ctx)
}

func (r *Runner) runTicker(ctx context.Context) error {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("runner: started, interval=%s batch=%d", r.config.Interval, r.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			log.Println("runner: stopped")
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Runner) runCron(ctx context.Context) error {
	log.Printf("runner: started on cron schedule, batch=%d", r.config.BatchSize)

	for {
		next := r.config.Schedule.Next(r.clock())
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("runner: stopped")
			return ctx.Err()
		case <-timer.C:
			r.sweep(ctx)
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	processed, err := r.sweeper.Sweep(ctx, r.config.BatchSize)
	if err != nil {
		log.Printf("runner: sweep error: %v", err)
		return
	}
	if processed > 0 {
		log.Printf("runner: sweep processed %d triggers", processed)
	}
}
