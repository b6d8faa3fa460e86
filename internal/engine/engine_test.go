package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/copybot/gosol/internal/engine/rules"
	"github.com/copybot/gosol/internal/events"
	"github.com/copybot/gosol/internal/positions"
	"github.com/copybot/gosol/internal/pricewatch"
	"github.com/copybot/gosol/internal/pumpfun"
	"github.com/copybot/gosol/internal/risk"
	"github.com/copybot/gosol/jupiter"
	"github.com/copybot/gosol/pkg/config"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type swapCall struct {
	mint     string
	amount   uint64
	slippage int
	sell     bool
}

type fakeExecutor struct {
	mu       sync.Mutex
	calls    []swapCall
	buyOut   decimal.Decimal // raw token units returned per buy
	sellOut  decimal.Decimal // lamports returned per sell
	failNext bool
}

func (f *fakeExecutor) BuySOL(_ context.Context, mint string, lamports uint64, slippageBps int) (*jupiter.SwapResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, context.DeadlineExceeded
	}
	f.calls = append(f.calls, swapCall{mint: mint, amount: lamports, slippage: slippageBps})
	return &jupiter.SwapResult{
		Signature:  "buy-sig",
		OutputMint: mint,
		InAmount:   decimal.NewFromInt(int64(lamports)),
		OutAmount:  f.buyOut,
	}, nil
}

func (f *fakeExecutor) SellForSOL(_ context.Context, mint string, amount uint64, slippageBps int) (*jupiter.SwapResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, context.DeadlineExceeded
	}
	f.calls = append(f.calls, swapCall{mint: mint, amount: amount, slippage: slippageBps, sell: true})
	return &jupiter.SwapResult{
		Signature: "sell-sig",
		InAmount:  decimal.NewFromInt(int64(amount)),
		OutAmount: f.sellOut,
	}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeBalances struct{ lamports uint64 }

func (f *fakeBalances) GetBalance(context.Context, string) (uint64, error) {
	return f.lamports, nil
}

type nullSource struct{}

func (nullSource) GetPriceInSOL(context.Context, string, uint64) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func testConfig() Config {
	return Config{
		WalletPubkey:      "BotWallet",
		CopyEnabled:       true,
		CopyTradePct:      dec("0.85"),
		MaxPositionSize:   dec("0.1"),
		MaxBuyAmountSOL:   dec("0.05"),
		MinBalanceSOL:     dec("0.005"),
		TakeProfitPct:     dec("50"),
		StopLossPct:       dec("25"),
		TrailingStopPct:   dec("10"),
		TimeBasedStop:     time.Hour,
		MaxHoldTime:       2 * time.Hour,
		EmergencyStopPct:  dec("50"),
		ExitCheckInterval: time.Hour,
	}
}

func newTestEngine(t *testing.T, cfg Config, exec *fakeExecutor, bal *fakeBalances) (*Engine, *positions.Book, *pricewatch.Watcher) {
	t.Helper()
	book := positions.NewBook(5, nil)
	watcher := pricewatch.New(nullSource{}, pricewatch.Config{Interval: time.Hour})
	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{MaxConsecutiveErrors: 3})

	ruleSet, err := rules.Compile([]config.SellRule{
		{Name: "crash_exit", Priority: 1, Action: "sell_all", Conditions: map[string]string{
			"price_change": "<= -40",
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	eng, err := New(cfg, exec, bal, book, watcher, ruleSet, breaker, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return eng, book, watcher
}

func buyEvent(sol string) *pumpfun.TradeEvent {
	return &pumpfun.TradeEvent{
		Wallet:    "SrcWallet",
		Signature: "src-sig",
		Side:      pumpfun.SideBuy,
		Platform:  pumpfun.PlatformPumpFun,
		Mint:      "MintA",
		SOLAmount: dec(sol),
	}
}

func TestCopySize_ScalesAndClamps(t *testing.T) {
	eng, _, _ := newTestEngine(t, testConfig(), &fakeExecutor{}, nil)

	// 0.02 * 0.85 = 0.017
	if got := eng.CopySize(dec("0.02"), pumpfun.PlatformJupiter); got.String() != "0.017" {
		t.Fatalf("expected 0.017, got %s", got)
	}
	// Below the pump.fun floor: bumped to 0.01.
	if got := eng.CopySize(dec("0.001"), pumpfun.PlatformPumpFun); got.String() != "0.01" {
		t.Fatalf("expected 0.01 floor, got %s", got)
	}
	// Above the per-trade cap: clamped to max_buy_amount_sol.
	if got := eng.CopySize(dec("5"), pumpfun.PlatformJupiter); got.String() != "0.05" {
		t.Fatalf("expected 0.05 cap, got %s", got)
	}
	// Unknown platform uses the default floor.
	if got := eng.CopySize(dec("0.0001"), pumpfun.PlatformUnknown); got.String() != "0.001" {
		t.Fatalf("expected default floor 0.001, got %s", got)
	}
}

func TestHandleTrade_CopiesBuy(t *testing.T) {
	exec := &fakeExecutor{buyOut: dec("1000000")}
	bal := &fakeBalances{lamports: 1_000_000_000}
	eng, book, _ := newTestEngine(t, testConfig(), exec, bal)

	eng.HandleTrade(context.Background(), buyEvent("0.02"))

	if exec.callCount() != 1 {
		t.Fatalf("expected one swap, got %d", exec.callCount())
	}
	call := exec.calls[0]
	if call.amount != 17_000_000 {
		t.Fatalf("expected 0.017 SOL in lamports, got %d", call.amount)
	}
	if call.slippage != 500 {
		t.Fatalf("expected pump.fun slippage 500bps, got %d", call.slippage)
	}

	p := book.Get("MintA")
	if p == nil {
		t.Fatal("position should be open")
	}
	if p.TokenAmount.String() != "1000000" || p.SOLInvested.String() != "0.017" {
		t.Fatalf("unexpected position %+v", p)
	}
	if p.EntryPrice.IsZero() {
		t.Fatal("entry price should be set")
	}
}

func TestHandleTrade_SkipsDuplicateAndPaused(t *testing.T) {
	exec := &fakeExecutor{buyOut: dec("1000000")}
	eng, _, _ := newTestEngine(t, testConfig(), exec, &fakeBalances{lamports: 1_000_000_000})

	eng.HandleTrade(context.Background(), buyEvent("0.02"))
	eng.HandleTrade(context.Background(), buyEvent("0.02")) // duplicate mint
	if exec.callCount() != 1 {
		t.Fatalf("duplicate should be skipped, got %d swaps", exec.callCount())
	}

	eng.Pause()
	ev := buyEvent("0.02")
	ev.Mint = "MintB"
	eng.HandleTrade(context.Background(), ev)
	if exec.callCount() != 1 {
		t.Fatal("paused engine must not open positions")
	}

	eng.Resume()
	eng.HandleTrade(context.Background(), ev)
	if exec.callCount() != 2 {
		t.Fatal("resumed engine should trade again")
	}
}

func TestHandleTrade_SkipsOnLowBalance(t *testing.T) {
	exec := &fakeExecutor{buyOut: dec("1000000")}
	// 0.02 SOL total: buying 0.017 would leave less than min_balance 0.005.
	eng, _, _ := newTestEngine(t, testConfig(), exec, &fakeBalances{lamports: 20_000_000})

	eng.HandleTrade(context.Background(), buyEvent("0.02"))
	if exec.callCount() != 0 {
		t.Fatal("low balance must skip the trade")
	}
}

func TestHandleTrade_FollowsSourceSell(t *testing.T) {
	exec := &fakeExecutor{buyOut: dec("1000000"), sellOut: dec("25000000")}
	eng, book, _ := newTestEngine(t, testConfig(), exec, &fakeBalances{lamports: 1_000_000_000})

	eng.HandleTrade(context.Background(), buyEvent("0.02"))

	sell := buyEvent("0.02")
	sell.Side = pumpfun.SideSell
	eng.HandleTrade(context.Background(), sell)

	if book.Has("MintA") {
		t.Fatal("position should be closed after following the source sell")
	}
	if exec.callCount() != 2 || !exec.calls[1].sell {
		t.Fatalf("expected a sell call, calls=%+v", exec.calls)
	}
	closed := book.ClosedPositions()
	if len(closed) != 1 || closed[0].SOLReturned.String() != "0.025" {
		t.Fatalf("unexpected closed position %+v", closed)
	}
}

func TestEngine_PublishesBusEvents(t *testing.T) {
	exec := &fakeExecutor{buyOut: dec("1000000")}
	bus := events.NewBus()
	ch, unsub := bus.Subscribe("test", 16)
	defer unsub()

	book := positions.NewBook(5, nil)
	watcher := pricewatch.New(nullSource{}, pricewatch.Config{Interval: time.Hour})
	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{MaxConsecutiveErrors: 3})
	ruleSet, err := rules.Compile([]config.SellRule{
		{Name: "crash_exit", Priority: 1, Action: "sell_all", Conditions: map[string]string{
			"price_change": "<= -40",
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	eng, err := New(testConfig(), exec, &fakeBalances{lamports: 1_000_000_000}, book, watcher, ruleSet, breaker, nil, bus)
	if err != nil {
		t.Fatal(err)
	}

	eng.HandleTrade(context.Background(), buyEvent("0.02"))

	// A copied buy emits both the execution and the opened-position events.
	seen := map[events.Type]events.Event{}
	for len(seen) < 2 {
		select {
		case ev := <-ch:
			seen[ev.Type] = ev
		case <-time.After(time.Second):
			t.Fatalf("missing bus events, got %v", seen)
		}
	}
	if _, ok := seen[events.TypeCopyExecuted]; !ok {
		t.Fatal("copy_executed not published")
	}
	opened, ok := seen[events.TypePositionOpened]
	if !ok {
		t.Fatal("position_opened not published")
	}
	if opened.Mint != "MintA" || opened.SOL.String() != "0.017" {
		t.Fatalf("unexpected position_opened %+v", opened)
	}

	// Every price sample the watcher records is republished on the bus.
	watcher.Record("MintA", dec("0.00000002"))
	select {
	case ev := <-ch:
		if ev.Type != events.TypePriceUpdated {
			t.Fatalf("expected price_updated, got %s", ev.Type)
		}
		if ev.Mint != "MintA" || ev.Price.String() != "0.00000002" {
			t.Fatalf("unexpected price_updated %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("price_updated not published")
	}
}

func TestHandleTrade_IgnoresSellOfUnknownMint(t *testing.T) {
	exec := &fakeExecutor{}
	eng, _, _ := newTestEngine(t, testConfig(), exec, nil)

	sell := buyEvent("0.02")
	sell.Side = pumpfun.SideSell
	eng.HandleTrade(context.Background(), sell)
	if exec.callCount() != 0 {
		t.Fatal("sell of a token we do not hold must be ignored")
	}
}
