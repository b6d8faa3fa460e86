package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is the interface shared by the token bucket and sliding window
// implementations.
type Limiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	Remaining() int
}

// TokenBucket refills at a fixed rate and allows bursts up to its capacity.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     int
	refillRate int // tokens per second
	lastRefill time.Time
}

func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	add := int(now.Sub(tb.lastRefill).Seconds()) * tb.refillRate
	if add > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+add)
		tb.lastRefill = now
	}
}

func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}
		wait := time.Second
		if tb.refillRate > 0 {
			wait = time.Second / time.Duration(tb.refillRate)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}

// SlidingWindow allows at most limit requests inside a rolling window.
type SlidingWindow struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	requests []time.Time
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
	}
}

func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	cutoff := time.Now().Add(-sw.window)
	kept := sw.requests[:0]
	for _, ts := range sw.requests {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	sw.requests = kept

	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, time.Now())
	return true
}

func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}
		sw.mu.Lock()
		wait := 100 * time.Millisecond
		if len(sw.requests) > 0 {
			if d := sw.window - time.Since(sw.requests[0]); d > wait {
				wait = d
			}
		}
		sw.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (sw *SlidingWindow) Remaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	cutoff := time.Now().Add(-sw.window)
	n := 0
	for _, ts := range sw.requests {
		if ts.After(cutoff) {
			n++
		}
	}
	return max(0, sw.limit-n)
}

// Manager holds one limiter per named endpoint group.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]Limiter
	fallback Limiter
}

// NewManager creates a Manager preloaded with the limits the bot actually
// hits: public Solana RPC (~100 req / 10s per endpoint) and the Jupiter quote
// API (600 req/min advertised, kept below that on purpose).
func NewManager() *Manager {
	m := &Manager{
		limiters: make(map[string]Limiter),
		fallback: NewSlidingWindow(60, time.Minute),
	}
	m.limiters["rpc:read"] = NewSlidingWindow(100, 10*time.Second)
	m.limiters["rpc:send"] = NewTokenBucket(20, 2)
	m.limiters["jupiter:quote"] = NewSlidingWindow(500, time.Minute)
	m.limiters["jupiter:swap"] = NewTokenBucket(30, 1)
	return m
}

// Register installs or replaces a limiter for a group.
func (m *Manager) Register(group string, l Limiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[group] = l
}

func (m *Manager) limiter(group string) Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.limiters[group]; ok {
		return l
	}
	return m.fallback
}

// Wait blocks until the group's limiter admits the request or ctx expires.
func (m *Manager) Wait(ctx context.Context, group string) error {
	return m.limiter(group).Wait(ctx)
}

// Allow reports whether a request in the group may proceed immediately.
func (m *Manager) Allow(group string) bool {
	return m.limiter(group).Allow()
}

// Remaining returns the group's remaining budget in the current window.
func (m *Manager) Remaining(group string) int {
	return m.limiter(group).Remaining()
}
