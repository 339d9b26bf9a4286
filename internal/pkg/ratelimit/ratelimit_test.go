package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiter_BurstThenDeny(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewLimiter(rdb, 1, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "a@aubg.edu")
		if err != nil {
			t.Fatalf("allow #%d: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("expected attempt #%d within burst to pass", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, "a@aubg.edu")
	if err != nil {
		t.Fatalf("allow over burst: %v", err)
	}
	if allowed {
		t.Fatalf("expected attempt over burst to be denied")
	}
}

func TestLimiter_SubjectsIndependent(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewLimiter(rdb, 1, 1)
	ctx := context.Background()

	if allowed, err := limiter.Allow(ctx, "a@aubg.edu"); err != nil || !allowed {
		t.Fatalf("first subject: allowed=%v err=%v", allowed, err)
	}
	if allowed, err := limiter.Allow(ctx, "a@aubg.edu"); err != nil || allowed {
		t.Fatalf("first subject drained: allowed=%v err=%v", allowed, err)
	}

	// 另一个主体的桶不受影响
	if allowed, err := limiter.Allow(ctx, "b@aubg.edu"); err != nil || !allowed {
		t.Fatalf("second subject: allowed=%v err=%v", allowed, err)
	}
}

func TestLimiter_Refill(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewLimiter(rdb, 100, 1)
	ctx := context.Background()

	if allowed, err := limiter.Allow(ctx, "a@aubg.edu"); err != nil || !allowed {
		t.Fatalf("drain: allowed=%v err=%v", allowed, err)
	}

	time.Sleep(50 * time.Millisecond)

	allowed, err := limiter.Allow(ctx, "a@aubg.edu")
	if err != nil {
		t.Fatalf("after refill: %v", err)
	}
	if !allowed {
		t.Fatalf("expected bucket refilled")
	}
}

func TestLimiter_DisabledAlwaysAllows(t *testing.T) {
	limiter := NewLimiter(nil, 0, 0)

	for i := 0; i < 10; i++ {
		allowed, err := limiter.Allow(context.Background(), "a@aubg.edu")
		if err != nil || !allowed {
			t.Fatalf("disabled limiter must always allow: allowed=%v err=%v", allowed, err)
		}
	}
}

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return redis.NewClient(&redis.Options{Addr: s.Addr()})
}

func closeRedis(t *testing.T, rdb *redis.Client) {
	t.Helper()
	if err := rdb.Close(); err != nil {
		t.Fatalf("close redis: %v", err)
	}
}
