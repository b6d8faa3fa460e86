// Package engine drives the copy-trade lifecycle: sizing and executing entry
// buys when a tracked wallet buys, and running the exit loop over open
// positions.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/copybot/gosol/internal/engine/rules"
	"github.com/copybot/gosol/internal/events"
	"github.com/copybot/gosol/internal/journal"
	"github.com/copybot/gosol/internal/positions"
	"github.com/copybot/gosol/internal/pricewatch"
	"github.com/copybot/gosol/internal/pumpfun"
	"github.com/copybot/gosol/internal/risk"
	"github.com/copybot/gosol/jupiter"
	"github.com/copybot/gosol/pkg/config"
	"github.com/copybot/gosol/pkg/logger"
	"github.com/copybot/gosol/solana/rpc"
)

var log = logger.M("engine")

// Executor performs swaps. Satisfied by *jupiter.Swapper and by the dry-run
// executor.
type Executor interface {
	BuySOL(ctx context.Context, outputMint string, lamports uint64, slippageBps int) (*jupiter.SwapResult, error)
	SellForSOL(ctx context.Context, inputMint string, amount uint64, slippageBps int) (*jupiter.SwapResult, error)
}

// BalanceReader reads the bot wallet's SOL balance.
type BalanceReader interface {
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
}

// Recorder journals executed trades. Satisfied by *journal.Journal.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Minimum viable entry sizes per venue, in SOL. Below these the venue (or
// the route) rejects or dusts the order.
var platformMinimums = map[pumpfun.Platform]decimal.Decimal{
	pumpfun.PlatformJupiter: decimal.RequireFromString("0.0001"),
	pumpfun.PlatformRaydium: decimal.RequireFromString("0.001"),
	pumpfun.PlatformPumpFun: decimal.RequireFromString("0.01"),
}

var defaultMinimum = decimal.RequireFromString("0.001")

// Per-venue slippage tolerances in basis points.
var platformSlippageBps = map[pumpfun.Platform]int{
	pumpfun.PlatformJupiter: 100,
	pumpfun.PlatformRaydium: 200,
	pumpfun.PlatformPumpFun: 500,
}

const defaultSlippageBps = 200

// Config is the engine's working configuration, derived from settings.json
// and sell_strategy.yaml.
type Config struct {
	WalletPubkey        string
	CopyEnabled         bool
	DryRun              bool
	CopyTradePct        decimal.Decimal
	MaxPositionSize     decimal.Decimal // SOL
	MaxBuyAmountSOL     decimal.Decimal
	MinBalanceSOL       decimal.Decimal
	TakeProfitPct       decimal.Decimal
	StopLossPct         decimal.Decimal
	TrailingStopPct     decimal.Decimal
	TimeBasedStop       time.Duration
	MaxHoldTime         time.Duration
	EmergencyStopPct    decimal.Decimal
	ExitCheckInterval   time.Duration
	PriceChangeLookback time.Duration
}

// ConfigFromSettings maps the loaded configuration onto engine knobs.
func ConfigFromSettings(s *config.Settings, ss *config.SellStrategy, walletPubkey string, dryRun bool) Config {
	return Config{
		WalletPubkey:        walletPubkey,
		CopyEnabled:         s.Trading.CopyEnabled(),
		DryRun:              dryRun,
		CopyTradePct:        decimal.NewFromFloat(s.Trading.CopyTradePercentage),
		MaxPositionSize:     decimal.NewFromFloat(s.Trading.MaxPositionSize),
		MaxBuyAmountSOL:     decimal.NewFromFloat(s.Trading.MaxBuyAmountSOL),
		MinBalanceSOL:       decimal.NewFromFloat(s.Trading.MinBalanceSOL),
		TakeProfitPct:       decimal.NewFromFloat(s.Trading.TakeProfitPercentage),
		StopLossPct:         decimal.NewFromFloat(s.Trading.StopLossPercentage),
		TrailingStopPct:     decimal.NewFromFloat(s.Trading.TrailingStopPercentage),
		TimeBasedStop:       time.Duration(s.Trading.TimeBasedStopLossMinutes) * time.Minute,
		MaxHoldTime:         time.Duration(ss.Settings.MaxHoldTime) * time.Second,
		EmergencyStopPct:    decimal.NewFromFloat(ss.Settings.EmergencyStopLoss),
		ExitCheckInterval:   time.Duration(ss.Settings.CheckIntervalMS) * time.Millisecond,
		PriceChangeLookback: 5 * time.Minute,
	}
}

// Engine wires the trade path together.
type Engine struct {
	cfg      Config
	executor Executor
	balances BalanceReader
	book     *positions.Book
	watcher  *pricewatch.Watcher
	ruleSet  *rules.Set
	breaker  *risk.CircuitBreaker
	recorder Recorder
	bus      *events.Bus

	paused   bool
	pausedMu sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Engine. recorder, breaker and bus may be nil.
func New(cfg Config, executor Executor, balances BalanceReader, book *positions.Book,
	watcher *pricewatch.Watcher, ruleSet *rules.Set, breaker *risk.CircuitBreaker,
	recorder Recorder, bus *events.Bus) (*Engine, error) {
	if executor == nil {
		return nil, errors.New("engine: executor is required")
	}
	if book == nil || watcher == nil {
		return nil, errors.New("engine: position book and price watcher are required")
	}
	if cfg.ExitCheckInterval == 0 {
		cfg.ExitCheckInterval = 5 * time.Second
	}
	if cfg.PriceChangeLookback == 0 {
		cfg.PriceChangeLookback = 5 * time.Minute
	}
	e := &Engine{
		cfg:      cfg,
		executor: executor,
		balances: balances,
		book:     book,
		watcher:  watcher,
		ruleSet:  ruleSet,
		breaker:  breaker,
		recorder: recorder,
		bus:      bus,
	}
	// Every price sample flows into the book so gain and peak-gain metrics
	// are current when the exit loop runs.
	watcher.OnPrice(func(mint string, price decimal.Decimal) {
		book.UpdatePrice(mint, price)
		if bus != nil {
			ev := events.New(events.TypePriceUpdated)
			ev.Mint = mint
			ev.Price = price
			bus.Publish(ev)
		}
	})
	return e, nil
}

// Pause suspends new entries. Open positions are still managed.
func (e *Engine) Pause() {
	e.pausedMu.Lock()
	e.paused = true
	e.pausedMu.Unlock()
	log.Warn("copy trading paused")
}

// Resume re-enables entries.
func (e *Engine) Resume() {
	e.pausedMu.Lock()
	e.paused = false
	e.pausedMu.Unlock()
	log.Info("copy trading resumed")
}

// Paused reports whether new entries are suspended.
func (e *Engine) Paused() bool {
	e.pausedMu.RLock()
	defer e.pausedMu.RUnlock()
	return e.paused
}

// CopySize computes the entry size for an observed buy: the source amount
// scaled by the copy percentage, clamped to the venue minimum and the
// configured caps. Returns zero when the trade should not be copied at all.
func (e *Engine) CopySize(observed decimal.Decimal, platform pumpfun.Platform) decimal.Decimal {
	size := observed.Mul(e.cfg.CopyTradePct)

	min, ok := platformMinimums[platform]
	if !ok {
		min = defaultMinimum
	}
	if size.LessThan(min) {
		size = min
	}
	if e.cfg.MaxPositionSize.IsPositive() && size.GreaterThan(e.cfg.MaxPositionSize) {
		size = e.cfg.MaxPositionSize
	}
	if e.cfg.MaxBuyAmountSOL.IsPositive() && size.GreaterThan(e.cfg.MaxBuyAmountSOL) {
		size = e.cfg.MaxBuyAmountSOL
	}
	return size
}

func slippageFor(platform pumpfun.Platform) int {
	if bps, ok := platformSlippageBps[platform]; ok {
		return bps
	}
	return defaultSlippageBps
}

// HandleTrade reacts to a classified trade from the tracker: buys are copied,
// sells of tokens we hold are followed.
func (e *Engine) HandleTrade(ctx context.Context, ev *pumpfun.TradeEvent) {
	switch ev.Side {
	case pumpfun.SideBuy:
		if err := e.copyBuy(ctx, ev); err != nil {
			e.publishError("copy buy", ev, err)
		}
	case pumpfun.SideSell:
		if !e.book.Has(ev.Mint) {
			return
		}
		log.Infof("source wallet %s sold %s, following", ev.Wallet, ev.Mint)
		if err := e.exitPosition(ctx, ev.Mint, "source_sold", rules.ActionSellAll); err != nil {
			e.publishError("follow sell", ev, err)
		}
	}
}

func (e *Engine) copyBuy(ctx context.Context, ev *pumpfun.TradeEvent) error {
	if !e.cfg.CopyEnabled {
		return nil
	}
	if e.Paused() {
		e.publishSkip(ev, "paused")
		return nil
	}
	if err := e.breaker.AllowTrading(); err != nil {
		e.publishSkip(ev, "circuit breaker open")
		return nil
	}
	if ev.Mint == "" {
		e.publishSkip(ev, "no mint attributed")
		return nil
	}
	if e.book.Has(ev.Mint) {
		e.publishSkip(ev, "position already open")
		return nil
	}

	size := e.CopySize(ev.SOLAmount, ev.Platform)
	if size.IsZero() {
		e.publishSkip(ev, "size clamped to zero")
		return nil
	}

	if e.balances != nil && e.cfg.MinBalanceSOL.IsPositive() {
		lamports, err := e.balances.GetBalance(ctx, e.cfg.WalletPubkey)
		if err != nil {
			return errors.Wrap(err, "read balance")
		}
		balance := decimal.NewFromInt(int64(lamports)).Div(decimal.NewFromInt(rpc.LamportsPerSOL))
		if balance.Sub(size).LessThan(e.cfg.MinBalanceSOL) {
			e.publishSkip(ev, "insufficient balance")
			return nil
		}
	}

	lamports := uint64(size.Mul(decimal.NewFromInt(rpc.LamportsPerSOL)).IntPart())
	res, err := e.executor.BuySOL(ctx, ev.Mint, lamports, slippageFor(ev.Platform))
	if err != nil {
		e.breaker.OnError()
		return errors.Wrap(err, "execute buy")
	}
	e.breaker.OnSuccess()

	invested := size
	pos := &positions.Position{
		Mint:          ev.Mint,
		SourceWallet:  ev.Wallet,
		Platform:      string(ev.Platform),
		TokenAmount:   res.OutAmount,
		TokenDecimals: ev.TokenDecimals,
		SOLInvested:   invested,
		OpenSig:       res.Signature,
	}
	if res.OutAmount.IsPositive() {
		pos.EntryPrice = invested.Div(res.OutAmount)
	}
	if err := e.book.Open(pos); err != nil {
		// The swap happened; an unexpected book rejection is a real
		// inconsistency, not a skip.
		return errors.Wrap(err, "open position")
	}
	e.watcher.Watch(ev.Mint)

	e.record(ctx, journal.Entry{
		Side:         "buy",
		Mint:         ev.Mint,
		SourceWallet: ev.Wallet,
		Platform:     string(ev.Platform),
		SOLAmount:    invested,
		TokenAmount:  res.OutAmount,
		Signature:    res.Signature,
		DryRun:       e.cfg.DryRun,
	})
	e.publish(events.TypeCopyExecuted, ev.Mint, ev.Wallet, "", invested, res.OutAmount, res.Signature)
	e.publish(events.TypePositionOpened, ev.Mint, ev.Wallet, "", invested, res.OutAmount, res.Signature)
	log.Infof("copied buy: %s SOL into %s (src=%s sig=%s)", invested, ev.Mint, ev.Wallet, res.Signature)
	return nil
}

func (e *Engine) record(ctx context.Context, entry journal.Entry) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(ctx, entry); err != nil {
		log.Errorf("journal: %v", err)
	}
}

func (e *Engine) publish(t events.Type, mint, wallet, rule string, sol, tokens decimal.Decimal, sig string) {
	if e.bus == nil {
		return
	}
	ev := events.New(t)
	ev.Mint = mint
	ev.Wallet = wallet
	ev.Rule = rule
	ev.SOL = sol
	ev.Tokens = tokens
	ev.Signature = sig
	e.bus.Publish(ev)
}

func (e *Engine) publishSkip(src *pumpfun.TradeEvent, reason string) {
	log.Debugf("skip %s %s: %s", src.Wallet, src.Mint, reason)
	if e.bus == nil {
		return
	}
	ev := events.New(events.TypeCopySkipped)
	ev.Mint = src.Mint
	ev.Wallet = src.Wallet
	ev.Message = reason
	e.bus.Publish(ev)
}

func (e *Engine) publishError(op string, src *pumpfun.TradeEvent, err error) {
	log.Errorf("%s %s: %v", op, src.Mint, err)
	if e.bus == nil {
		return
	}
	ev := events.New(events.TypeError)
	ev.Mint = src.Mint
	ev.Wallet = src.Wallet
	ev.Message = op
	ev.Err = err
	e.bus.Publish(ev)
}
