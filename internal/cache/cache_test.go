package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryPutOnce(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()

	ok, err := c.PutOnce(ctx, "alert:user-1:0", time.Hour)
	if err != nil {
		t.Fatalf("PutOnce: %v", err)
	}
	if !ok {
		t.Fatal("first PutOnce = false, want true")
	}

	ok, err = c.PutOnce(ctx, "alert:user-1:0", time.Hour)
	if err != nil {
		t.Fatalf("PutOnce: %v", err)
	}
	if ok {
		t.Fatal("second PutOnce = true, want false")
	}

	// Different key is independent.
	ok, err = c.PutOnce(ctx, "alert:user-2:0", time.Hour)
	if err != nil {
		t.Fatalf("PutOnce: %v", err)
	}
	if !ok {
		t.Fatal("other key PutOnce = false, want true")
	}
}

func TestMemoryExpiry(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()

	if ok, _ := c.PutOnce(ctx, "k", time.Minute); !ok {
		t.Fatal("first PutOnce = false")
	}

	now = now.Add(61 * time.Second)
	ok, err := c.PutOnce(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("PutOnce: %v", err)
	}
	if !ok {
		t.Fatal("PutOnce after expiry = false, want true")
	}
}
