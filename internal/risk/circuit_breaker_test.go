package risk

import "testing"

func TestCircuitBreaker_TripsOnConsecutiveErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 3})

	if err := cb.AllowTrading(); err != nil {
		t.Fatalf("fresh breaker should allow trading: %v", err)
	}

	cb.OnError()
	cb.OnError()
	if err := cb.AllowTrading(); err != nil {
		t.Fatalf("below threshold should allow trading: %v", err)
	}

	cb.OnError()
	if err := cb.AllowTrading(); err != ErrCircuitBreakerOpen {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if !cb.Halted() {
		t.Fatal("breaker should latch halted")
	}

	cb.Resume()
	if err := cb.AllowTrading(); err != nil {
		t.Fatalf("resume should clear the breaker: %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsErrorStreak(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 2})
	cb.OnError()
	cb.OnSuccess()
	cb.OnError()
	if err := cb.AllowTrading(); err != nil {
		t.Fatalf("streak was broken, trading should be allowed: %v", err)
	}
}

func TestCircuitBreaker_DailyLossLimit(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{DailyLossLimitLamports: 1_000_000_000})

	cb.AddPnLLamports(-500_000_000)
	if err := cb.AllowTrading(); err != nil {
		t.Fatalf("half the limit should allow trading: %v", err)
	}

	cb.AddPnLLamports(-600_000_000)
	if err := cb.AllowTrading(); err != ErrCircuitBreakerOpen {
		t.Fatalf("expected open breaker after loss limit, got %v", err)
	}
}

func TestCircuitBreaker_DisabledLimits(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	for i := 0; i < 100; i++ {
		cb.OnError()
	}
	cb.AddPnLLamports(-1 << 40)
	if err := cb.AllowTrading(); err != nil {
		t.Fatalf("disabled thresholds must never trip: %v", err)
	}
}

func TestCircuitBreaker_ManualHalt(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	cb.Halt()
	if err := cb.AllowTrading(); err != ErrCircuitBreakerOpen {
		t.Fatalf("expected open breaker, got %v", err)
	}
}

func TestCircuitBreaker_NilSafe(t *testing.T) {
	var cb *CircuitBreaker
	if err := cb.AllowTrading(); err != nil {
		t.Fatal("nil breaker should allow trading")
	}
	cb.OnError()
	cb.OnSuccess()
	cb.Halt()
	cb.Resume()
	cb.AddPnLLamports(-1)
}
