package risk

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ErrCircuitBreakerOpen means trading is halted until Resume.
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// CircuitBreakerConfig holds the trip thresholds. A threshold <= 0 disables
// that limit.
type CircuitBreakerConfig struct {
	// MaxConsecutiveErrors trips after this many swap failures in a row.
	MaxConsecutiveErrors int64

	// DailyLossLimitLamports trips when the day's realized loss reaches
	// this many lamports.
	DailyLossLimitLamports int64
}

// CircuitBreaker gates the copy-trade execution path. The hot path uses
// atomics only; config updates go through SetConfig.
type CircuitBreaker struct {
	halted atomic.Bool

	consecutiveErrors atomic.Int64
	dailyPnlLamports  atomic.Int64
	dayKey            atomic.Int64 // YYYYMMDD

	maxConsecutiveErrors   atomic.Int64
	dailyLossLimitLamports atomic.Int64
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{}
	cb.SetConfig(cfg)
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveErrors.Store(cfg.MaxConsecutiveErrors)
	cb.dailyLossLimitLamports.Store(cfg.DailyLossLimitLamports)
}

// Halt trips the breaker manually.
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.halted.Store(true)
}

// Resume clears the halt and the consecutive error count.
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.consecutiveErrors.Store(0)
}

// Halted reports the current breaker state without evaluating limits.
func (cb *CircuitBreaker) Halted() bool {
	if cb == nil {
		return false
	}
	return cb.halted.Load()
}

// AllowTrading is the fast-path check before executing a copy trade.
func (cb *CircuitBreaker) AllowTrading() error {
	if cb == nil {
		return nil
	}

	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}

	maxErr := cb.maxConsecutiveErrors.Load()
	if maxErr > 0 && cb.consecutiveErrors.Load() >= maxErr {
		cb.halted.Store(true)
		return ErrCircuitBreakerOpen
	}

	limit := cb.dailyLossLimitLamports.Load()
	if limit > 0 {
		cb.rollDayIfNeeded()
		if cb.dailyPnlLamports.Load() <= -limit {
			cb.halted.Store(true)
			return ErrCircuitBreakerOpen
		}
	}

	return nil
}

// OnSuccess resets the consecutive error count after a successful execution.
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
}

// OnError bumps the consecutive error count after a failed execution.
func (cb *CircuitBreaker) OnError() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Add(1)
}

// AddPnLLamports updates the day's realized PnL. Negative means loss.
func (cb *CircuitBreaker) AddPnLLamports(delta int64) {
	if cb == nil {
		return
	}
	cb.rollDayIfNeeded()
	cb.dailyPnlLamports.Add(delta)
}

func (cb *CircuitBreaker) rollDayIfNeeded() {
	// Local day is fine for risk accounting.
	now := time.Now()
	key := int64(now.Year()*10000 + int(now.Month())*100 + now.Day())
	prev := cb.dayKey.Load()
	if prev == key {
		return
	}
	if cb.dayKey.CompareAndSwap(prev, key) {
		cb.dailyPnlLamports.Store(0)
	}
}
