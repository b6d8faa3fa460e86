package positions

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/copybot/gosol/pkg/logger"
	"github.com/copybot/gosol/pkg/persistence"
)

var log = logger.M("positions")

// Status of a position.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Position is one open (or recently closed) token holding.
type Position struct {
	Mint          string          `json:"mint"`
	SourceWallet  string          `json:"source_wallet"`
	Platform      string          `json:"platform"`
	TokenAmount   decimal.Decimal `json:"token_amount"` // raw token units
	TokenDecimals int             `json:"token_decimals"`
	SOLInvested   decimal.Decimal `json:"sol_invested"`
	EntryPrice    decimal.Decimal `json:"entry_price"` // SOL per raw token unit
	CurrentPrice  decimal.Decimal `json:"current_price"`
	PeakGainPct   decimal.Decimal `json:"peak_gain_pct"`
	OpenedAt      time.Time       `json:"opened_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
	Status        Status          `json:"status"`
	OpenSig       string          `json:"open_sig"`
	CloseSig      string          `json:"close_sig,omitempty"`
	SOLReturned   decimal.Decimal `json:"sol_returned"`
}

// GainPercent returns the unrealized gain at the last known price.
func (p *Position) GainPercent() decimal.Decimal {
	if p.SOLInvested.IsZero() {
		return decimal.Zero
	}
	current := p.TokenAmount.Mul(p.CurrentPrice)
	return current.Sub(p.SOLInvested).Div(p.SOLInvested).Mul(decimal.NewFromInt(100))
}

// HoldTime returns how long the position has been (or was) held.
func (p *Position) HoldTime(now time.Time) time.Duration {
	end := now
	if p.ClosedAt != nil {
		end = *p.ClosedAt
	}
	return end.Sub(p.OpenedAt)
}

// RealizedPnL returns SOL profit for a closed position.
func (p *Position) RealizedPnL() decimal.Decimal {
	if p.Status != StatusClosed {
		return decimal.Zero
	}
	return p.SOLReturned.Sub(p.SOLInvested)
}

// Book tracks open positions keyed by mint, one per mint, and persists them
// across restarts.
type Book struct {
	mu      sync.RWMutex
	open    map[string]*Position
	closed  []*Position
	maxOpen int
	store   persistence.Store
}

// NewBook creates a Book capped at maxOpen concurrent positions (0 = no cap).
// store may be nil to disable persistence.
func NewBook(maxOpen int, store persistence.Store) *Book {
	return &Book{
		open:    make(map[string]*Position),
		maxOpen: maxOpen,
		store:   store,
	}
}

// ErrBookFull is returned by Open when the position cap is reached.
var ErrBookFull = errors.New("positions: max open positions reached")

// ErrDuplicate is returned by Open when a position for the mint exists.
var ErrDuplicate = errors.New("positions: position already open for mint")

// Open records a new position.
func (b *Book) Open(p *Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.open[p.Mint]; exists {
		return ErrDuplicate
	}
	if b.maxOpen > 0 && len(b.open) >= b.maxOpen {
		return ErrBookFull
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now()
	}
	p.Status = StatusOpen
	p.CurrentPrice = p.EntryPrice
	b.open[p.Mint] = p

	log.Infof("opened %s: %s tokens for %s SOL (src=%s)", p.Mint, p.TokenAmount, p.SOLInvested, p.SourceWallet)
	b.persistLocked()
	return nil
}

// Close marks the position for mint closed and records the proceeds.
func (b *Book) Close(mint, closeSig string, solReturned decimal.Decimal) (*Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.open[mint]
	if !ok {
		return nil, errors.Errorf("positions: no open position for %s", mint)
	}
	delete(b.open, mint)

	now := time.Now()
	p.Status = StatusClosed
	p.ClosedAt = &now
	p.CloseSig = closeSig
	p.SOLReturned = solReturned
	b.closed = append(b.closed, p)

	log.Infof("closed %s: pnl=%s SOL after %s", mint, p.RealizedPnL(), p.HoldTime(now).Round(time.Second))
	b.persistLocked()
	return p, nil
}

// ReduceHalf halves the token amount and invested basis of the position, used
// by sell_half exits. Returns the sold token amount.
func (b *Book) ReduceHalf(mint string) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.open[mint]
	if !ok {
		return decimal.Zero, errors.Errorf("positions: no open position for %s", mint)
	}
	half := p.TokenAmount.Div(decimal.NewFromInt(2))
	p.TokenAmount = p.TokenAmount.Sub(half)
	p.SOLInvested = p.SOLInvested.Div(decimal.NewFromInt(2))
	b.persistLocked()
	return half, nil
}

// UpdatePrice records the latest price for mint and maintains the peak gain
// watermark. Returns the updated position, or nil when no position exists.
func (b *Book) UpdatePrice(mint string, price decimal.Decimal) *Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.open[mint]
	if !ok {
		return nil
	}
	p.CurrentPrice = price
	if gain := p.GainPercent(); gain.GreaterThan(p.PeakGainPct) {
		p.PeakGainPct = gain
	}
	return p
}

// Get returns the open position for mint, or nil.
func (b *Book) Get(mint string) *Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.open[mint]
}

// Has reports whether an open position exists for mint.
func (b *Book) Has(mint string) bool {
	return b.Get(mint) != nil
}

// OpenPositions returns a snapshot of open positions, oldest first.
func (b *Book) OpenPositions() []*Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Position, 0, len(b.open))
	for _, p := range b.open {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// ClosedPositions returns a snapshot of positions closed this session.
func (b *Book) ClosedPositions() []*Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Position, len(b.closed))
	for i, p := range b.closed {
		cp := *p
		out[i] = &cp
	}
	return out
}

// Count returns the number of open positions.
func (b *Book) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.open)
}

// Stats summarizes session performance.
type Stats struct {
	Open        int             `json:"open"`
	Closed      int             `json:"closed"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	RealizedPnL decimal.Decimal `json:"realized_pnl_sol"`
	Invested    decimal.Decimal `json:"invested_sol"`
}

// Stats computes aggregate session statistics.
func (b *Book) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{Open: len(b.open), Closed: len(b.closed), RealizedPnL: decimal.Zero, Invested: decimal.Zero}
	for _, p := range b.open {
		s.Invested = s.Invested.Add(p.SOLInvested)
	}
	for _, p := range b.closed {
		pnl := p.RealizedPnL()
		s.RealizedPnL = s.RealizedPnL.Add(pnl)
		if pnl.IsPositive() {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	return s
}

// snapshot is the persisted form of the book.
type snapshot struct {
	Open []*Position `json:"open"`
}

func (b *Book) persistLocked() {
	if b.store == nil {
		return
	}
	snap := snapshot{Open: make([]*Position, 0, len(b.open))}
	for _, p := range b.open {
		snap.Open = append(snap.Open, p)
	}
	if err := b.store.Save(snap); err != nil {
		log.Errorf("persist positions: %v", err)
	}
}

// Restore loads previously persisted open positions. Call once at startup.
func (b *Book) Restore() error {
	if b.store == nil {
		return nil
	}
	var snap snapshot
	if err := b.store.Load(&snap); err != nil {
		if errors.Is(err, persistence.ErrNotExists) {
			return nil
		}
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range snap.Open {
		b.open[p.Mint] = p
	}
	if len(snap.Open) > 0 {
		log.Infof("restored %d open position(s)", len(snap.Open))
	}
	return nil
}
