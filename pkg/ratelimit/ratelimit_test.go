package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucket_Burst(t *testing.T) {
	tb := NewTokenBucket(3, 1)

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("request %d within capacity should be allowed", i)
		}
	}
	if tb.Allow() {
		t.Fatal("request beyond capacity should be denied")
	}
	if got := tb.Remaining(); got != 0 {
		t.Fatalf("expected 0 remaining, got %d", got)
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	tb := NewTokenBucket(1, 10)
	if !tb.Allow() {
		t.Fatal("first request should be allowed")
	}
	time.Sleep(1100 * time.Millisecond)
	if !tb.Allow() {
		t.Fatal("request after refill interval should be allowed")
	}
}

func TestSlidingWindow_Limit(t *testing.T) {
	sw := NewSlidingWindow(2, 100*time.Millisecond)

	if !sw.Allow() || !sw.Allow() {
		t.Fatal("requests within limit should be allowed")
	}
	if sw.Allow() {
		t.Fatal("third request inside window should be denied")
	}

	time.Sleep(150 * time.Millisecond)
	if !sw.Allow() {
		t.Fatal("request after window expiry should be allowed")
	}
}

func TestSlidingWindow_WaitRespectsContext(t *testing.T) {
	sw := NewSlidingWindow(1, time.Minute)
	if !sw.Allow() {
		t.Fatal("first request should be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := sw.Wait(ctx); err == nil {
		t.Fatal("Wait should return the context error when saturated")
	}
}

func TestManager_GroupsAndFallback(t *testing.T) {
	m := NewManager()

	if !m.Allow("rpc:read") {
		t.Fatal("fresh rpc:read budget should allow a request")
	}
	if !m.Allow("unknown:group") {
		t.Fatal("fallback limiter should allow a request")
	}

	m.Register("tight", NewSlidingWindow(1, time.Minute))
	if !m.Allow("tight") {
		t.Fatal("first tight request should pass")
	}
	if m.Allow("tight") {
		t.Fatal("second tight request should be denied")
	}
}
