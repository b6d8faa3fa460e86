package dashboard

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"

	"github.com/copybot/gosol/internal/events"
	"github.com/copybot/gosol/internal/positions"
	"github.com/copybot/gosol/internal/tracker"
)

// Sources provides the live data the dashboard renders.
type Sources struct {
	Book    *positions.Book
	Tracker *tracker.Tracker
	Bus     *events.Bus
	Paused  func() bool
	Balance func() decimal.Decimal
	DryRun  bool
}

// Dashboard owns the bubbletea program and the snapshot producer loop.
type Dashboard struct {
	src       Sources
	startedAt time.Time
	activity  []ActivityLine
}

// New creates a Dashboard.
func New(src Sources) *Dashboard {
	return &Dashboard{src: src, startedAt: time.Now()}
}

// Run blocks until the UI exits or ctx is cancelled.
func (d *Dashboard) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updateCh := make(chan *Snapshot, 1)
	program := tea.NewProgram(newModel(updateCh), tea.WithAltScreen())

	var evCh <-chan events.Event
	unsubscribe := func() {}
	if d.src.Bus != nil {
		evCh, unsubscribe = d.src.Bus.Subscribe("dashboard", 128)
	}
	defer unsubscribe()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				program.Quit()
				return
			case ev, ok := <-evCh:
				if ok {
					d.appendActivity(ev)
				}
			case <-ticker.C:
				select {
				case updateCh <- d.snapshot():
				default:
				}
			}
		}
	}()

	log.Debug("dashboard started")
	_, err := program.Run()
	return err
}

func (d *Dashboard) appendActivity(ev events.Event) {
	text := ""
	switch ev.Type {
	case events.TypeTradeDetected:
		text = fmt.Sprintf("%s %s %s SOL of %s", shorten(ev.Wallet), ev.Side, ev.SOL, shorten(ev.Mint))
	case events.TypeCopyExecuted:
		text = fmt.Sprintf("copied: %s SOL into %s", ev.SOL, shorten(ev.Mint))
	case events.TypeCopySkipped:
		text = fmt.Sprintf("skipped %s: %s", shorten(ev.Mint), ev.Message)
	case events.TypeExitTriggered:
		text = fmt.Sprintf("exit %s: %s", shorten(ev.Mint), ev.Rule)
	case events.TypePositionClosed:
		text = fmt.Sprintf("closed %s: %s SOL back (%s)", shorten(ev.Mint), ev.SOL, ev.Rule)
	case events.TypeError:
		text = fmt.Sprintf("error %s: %v", ev.Message, ev.Err)
	default:
		return
	}
	d.activity = append(d.activity, ActivityLine{At: ev.At, Text: text})
	if len(d.activity) > 64 {
		d.activity = d.activity[len(d.activity)-64:]
	}
}

func (d *Dashboard) snapshot() *Snapshot {
	snap := &Snapshot{
		DryRun:      d.src.DryRun,
		Uptime:      time.Since(d.startedAt),
		BalanceSOL:  decimal.Zero,
		RealizedPnL: decimal.Zero,
		Activity:    append([]ActivityLine(nil), d.activity...),
	}
	if d.src.Paused != nil {
		snap.Paused = d.src.Paused()
	}
	if d.src.Balance != nil {
		snap.BalanceSOL = d.src.Balance()
	}
	if d.src.Book != nil {
		stats := d.src.Book.Stats()
		snap.RealizedPnL = stats.RealizedPnL
		snap.Wins = stats.Wins
		snap.Losses = stats.Losses
		now := time.Now()
		for _, p := range d.src.Book.OpenPositions() {
			snap.Positions = append(snap.Positions, PositionRow{
				Mint:        p.Mint,
				GainPct:     p.GainPercent(),
				PeakPct:     p.PeakGainPct,
				InvestedSOL: p.SOLInvested,
				HoldTime:    p.HoldTime(now),
				Source:      p.SourceWallet,
			})
		}
	}
	if d.src.Tracker != nil {
		for _, w := range d.src.Tracker.Stats() {
			snap.Wallets = append(snap.Wallets, WalletRow{
				Wallet:       w.Wallet,
				TradesSeen:   w.TradesSeen,
				Buys:         w.Buys,
				Sells:        w.Sells,
				LastActivity: w.LastActivity,
			})
		}
	}
	return snap
}
