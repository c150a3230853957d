package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisPutOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewRedis(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer c.Close()

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
}

func TestRedisPutOnceTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewRedis(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer c.Close()

	if ok, _ := c.PutOnce(ctx, "k", time.Minute); !ok {
		t.Fatal("first PutOnce = false")
	}

	mr.FastForward(61 * time.Second)

	ok, err := c.PutOnce(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("PutOnce: %v", err)
	}
	if !ok {
		t.Fatal("PutOnce after TTL = false, want true")
	}
}

func TestRedisConnectFailure(t *testing.T) {
	_, err := NewRedis(context.Background(), "127.0.0.1:1")
	if err == nil {
		t.Fatal("want error when redis is unreachable")
	}
}
