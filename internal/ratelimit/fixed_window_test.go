package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowLimiterRedis(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 2, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	if !limiter.Allow("buyer-1") {
		t.Fatalf("first send should pass")
	}
	if !limiter.Allow("buyer-1") {
		t.Fatalf("second send should pass")
	}
	if limiter.Allow("buyer-1") {
		t.Fatalf("third send should be blocked")
	}
	if !limiter.Allow("buyer-2") {
		t.Fatalf("other sender should have its own quota")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	redis.Close()
	if limiter.Allow("buyer-1") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresRedisAddr(t *testing.T) {
	if _, err := NewRedisFixedWindowLimiter("", "", "test:ratelimit", 1, time.Second); err == nil {
		t.Fatalf("expected missing addr to fail")
	}
}

func TestFixedWindowLimiterRequiresPositiveLimit(t *testing.T) {
	redis := miniredis.RunT(t)
	if _, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 0, time.Second); err == nil {
		t.Fatalf("expected zero limit to fail")
	}
}
