package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/copybot/gosol/pkg/logger"
)

var log = logger.M("events")

// Type enumerates bus event kinds.
type Type string

const (
	TypeTradeDetected  Type = "trade_detected"
	TypeCopyExecuted   Type = "copy_executed"
	TypeCopySkipped    Type = "copy_skipped"
	TypePositionOpened Type = "position_opened"
	TypePositionClosed Type = "position_closed"
	TypeExitTriggered  Type = "exit_triggered"
	TypeWalletStatus   Type = "wallet_status"
	TypePriceUpdated   Type = "price_updated"
	TypeVolumeSpike    Type = "volume_spike"
	TypeError          Type = "error"
)

// Event is one bus message. Fields beyond Type/At are populated per kind.
type Event struct {
	ID        string
	Type      Type
	At        time.Time
	Wallet    string
	Mint      string
	Signature string
	Side      string
	Platform  string
	Rule      string
	SOL       decimal.Decimal
	Tokens    decimal.Decimal
	Price     decimal.Decimal // SOL per raw token unit, price_updated only
	Message   string
	Err       error
}

// New creates an event with id and timestamp filled in.
func New(t Type) Event {
	return Event{ID: uuid.NewString(), Type: t, At: time.Now()}
}

// Bus is a fan-out event bus. Subscribers get buffered channels; a slow
// subscriber drops events rather than stalling the trading path.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Event)}
}

// Subscribe registers a subscriber and returns its channel plus an
// unsubscribe func.
func (b *Bus) Subscribe(name string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if _, exists := b.subs[name]; exists {
		name = name + "-" + uuid.NewString()[:8]
	}
	b.subs[name] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if c, ok := b.subs[name]; ok {
			delete(b.subs, name)
			close(c)
		}
		b.mu.Unlock()
	}
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for name, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Warnf("subscriber %s is full, dropping %s", name, ev.Type)
		}
	}
}
