package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeper struct {
	calls     atomic.Int32
	batchSize atomic.Int32
	err       error
}

func (c *countingSweeper) Sweep(ctx context.Context, batchSize int) (int, error) {
	c.calls.Add(1)
	c.batchSize.Store(int32(batchSize))
	if c.err != nil {
		return 0, c.err
	}
	return 1, nil
}

func TestRunnerSweepsOnInterval(t *testing.T) {
	sw := &countingSweeper{}
	r := New(Config{Interval: 10 * time.Millisecond, BatchSize: 7}, sw)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v, want context.DeadlineExceeded", err)
	}

	if calls := sw.calls.Load(); calls < 2 {
		t.Fatalf("sweeps = %d, want at least 2", calls)
	}
	if got := sw.batchSize.Load(); got != 7 {
		t.Fatalf("batchSize = %d, want 7", got)
	}
}

func TestRunnerSurvivesSweepErrors(t *testing.T) {
	sw := &countingSweeper{err: errors.New("store down")}
	r := New(Config{Interval: 10 * time.Millisecond}, sw)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	_ = r.Run(ctx)

	// The loop keeps ticking through failures.
	if calls := sw.calls.Load(); calls < 2 {
		t.Fatalf("sweeps = %d, want at least 2 despite errors", calls)
	}
}

type fixedSchedule struct {
	step time.Duration
}

func (f fixedSchedule) Next(after time.Time) time.Time {
	return after.Add(f.step)
}

func TestRunnerCronSchedule(t *testing.T) {
	sw := &countingSweeper{}
	r := New(Config{Schedule: fixedSchedule{step: 10 * time.Millisecond}}, sw)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_ = r.Run(ctx)

	if calls := sw.calls.Load(); calls < 2 {
		t.Fatalf("sweeps = %d, want at least 2", calls)
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	sw := &countingSweeper{}
	r := New(Config{Interval: time.Hour}, sw)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
