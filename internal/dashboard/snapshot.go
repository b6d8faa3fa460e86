package dashboard

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionRow is one open position rendered by the dashboard.
type PositionRow struct {
	Mint        string
	GainPct     decimal.Decimal
	PeakPct     decimal.Decimal
	InvestedSOL decimal.Decimal
	HoldTime    time.Duration
	Source      string
}

// WalletRow is one tracked wallet rendered by the dashboard.
type WalletRow struct {
	Wallet       string
	TradesSeen   int
	Buys         int
	Sells        int
	LastActivity time.Time
}

// ActivityLine is one recent event for the activity feed.
type ActivityLine struct {
	At   time.Time
	Text string
}

// Snapshot is everything one render frame needs.
type Snapshot struct {
	Paused      bool
	DryRun      bool
	Uptime      time.Duration
	BalanceSOL  decimal.Decimal
	RealizedPnL decimal.Decimal
	Wins        int
	Losses      int
	Positions   []PositionRow
	Wallets     []WalletRow
	Activity    []ActivityLine
}
