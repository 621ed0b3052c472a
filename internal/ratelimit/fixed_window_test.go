package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) *FixedWindowLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l, err := NewFixedWindowLimiter(client, "test:ratelimit", limit, window)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return l
}

func TestAllowWithinLimit(t *testing.T) {
	l := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !l.Allow(ctx, "user-1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow(ctx, "user-1") {
		t.Fatal("request over limit should be denied")
	}
}

func TestAllowSeparateKeys(t *testing.T) {
	l := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if !l.Allow(ctx, "user-1") {
		t.Fatal("first key should be allowed")
	}
	if !l.Allow(ctx, "user-2") {
		t.Fatal("other keys have their own quota")
	}
	if l.Allow(ctx, "user-1") {
		t.Fatal("first key should now be exhausted")
	}
}

func TestNewFixedWindowLimiterValidation(t *testing.T) {
	if _, err := NewFixedWindowLimiter(nil, "", 1, time.Second); err == nil {
		t.Fatal("expected error for nil client")
	}
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()
	if _, err := NewFixedWindowLimiter(client, "", 0, time.Second); err == nil {
		t.Fatal("expected error for zero limit")
	}
}
