package pricewatch

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/copybot/gosol/pkg/logger"
)

var log = logger.M("pricewatch")

// PriceSource provides spot prices for a mint, denominated in SOL.
type PriceSource interface {
	GetPriceInSOL(ctx context.Context, mint string, amount uint64) (decimal.Decimal, error)
}

// PriceHandler receives every fresh price sample.
type PriceHandler func(mint string, price decimal.Decimal)

// sample is one observed price point.
type sample struct {
	at    time.Time
	price decimal.Decimal
}

// Watcher polls prices for a dynamic set of mints and keeps a bounded history
// per mint so exit rules can evaluate short-horizon price change.
type Watcher struct {
	source   PriceSource
	interval time.Duration
	window   time.Duration
	probe    uint64 // raw unit amount used for SOL-route quotes

	mu      sync.RWMutex
	history map[string][]sample

	handler   PriceHandler
	handlerMu sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
}

// Config configures the Watcher.
type Config struct {
	Interval    time.Duration
	Window      time.Duration
	ProbeAmount uint64
}

// New creates a Watcher.
func New(source PriceSource, cfg Config) *Watcher {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Window == 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.ProbeAmount == 0 {
		cfg.ProbeAmount = 1_000_000
	}
	return &Watcher{
		source:   source,
		interval: cfg.Interval,
		window:   cfg.Window,
		probe:    cfg.ProbeAmount,
		history:  make(map[string][]sample),
	}
}

// OnPrice sets the handler called for every sample.
func (w *Watcher) OnPrice(h PriceHandler) {
	w.handlerMu.Lock()
	w.handler = h
	w.handlerMu.Unlock()
}

// Watch starts tracking mint. Idempotent.
func (w *Watcher) Watch(mint string) {
	w.mu.Lock()
	if _, ok := w.history[mint]; !ok {
		w.history[mint] = nil
		log.Debugf("watching %s", mint)
	}
	w.mu.Unlock()
}

// Unwatch drops mint and its history.
func (w *Watcher) Unwatch(mint string) {
	w.mu.Lock()
	delete(w.history, mint)
	w.mu.Unlock()
}

// Watched returns the currently tracked mints.
func (w *Watcher) Watched() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.history))
	for m := range w.history {
		out = append(out, m)
	}
	return out
}

// Start launches the poll loop.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.pollOnce(ctx)
			}
		}
	}()
}

// Stop halts the poll loop.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.done != nil {
		<-w.done
	}
}

func (w *Watcher) pollOnce(ctx context.Context) {
	for _, mint := range w.Watched() {
		price, err := w.source.GetPriceInSOL(ctx, mint, w.probe)
		if err != nil {
			log.Debugf("price %s: %v", mint, err)
			continue
		}
		// Normalize to SOL per single raw unit of the probe.
		unit := price.Div(decimal.NewFromInt(int64(w.probe)))
		w.Record(mint, unit)
	}
}

// Record appends a price sample for mint and trims history past the window.
// Exposed so transaction-derived prices can feed the same history.
func (w *Watcher) Record(mint string, price decimal.Decimal) {
	now := time.Now()

	w.mu.Lock()
	hist, ok := w.history[mint]
	if !ok {
		w.mu.Unlock()
		return
	}
	hist = append(hist, sample{at: now, price: price})
	cutoff := now.Add(-w.window)
	for len(hist) > 1 && hist[0].at.Before(cutoff) {
		hist = hist[1:]
	}
	w.history[mint] = hist
	w.mu.Unlock()

	w.handlerMu.RLock()
	h := w.handler
	w.handlerMu.RUnlock()
	if h != nil {
		h(mint, price)
	}
}

// Latest returns the most recent price for mint.
func (w *Watcher) Latest(mint string) (decimal.Decimal, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	hist := w.history[mint]
	if len(hist) == 0 {
		return decimal.Zero, false
	}
	return hist[len(hist)-1].price, true
}

// ChangePercent returns the percent move of mint over the lookback duration,
// comparing the latest sample against the oldest one inside the lookback.
func (w *Watcher) ChangePercent(mint string, lookback time.Duration) (decimal.Decimal, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	hist := w.history[mint]
	if len(hist) < 2 {
		return decimal.Zero, false
	}
	cutoff := time.Now().Add(-lookback)
	var base *sample
	for i := range hist {
		if !hist[i].at.Before(cutoff) {
			base = &hist[i]
			break
		}
	}
	if base == nil || base.price.IsZero() {
		return decimal.Zero, false
	}
	latest := hist[len(hist)-1].price
	return latest.Sub(base.price).Div(base.price).Mul(decimal.NewFromInt(100)), true
}
