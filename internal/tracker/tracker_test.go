package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"github.com/copybot/gosol/internal/events"
	"github.com/copybot/gosol/internal/pumpfun"
	"github.com/copybot/gosol/solana/rpc"
)

const wallet = "TrackedWa11et111111111111111111111111111111"

var buyData = base58.Encode([]byte{102, 6, 61, 18, 1, 218, 235, 234, 0})

func buyTx(sig string) *rpc.ConfirmedTransaction {
	return buyTxFor(wallet, sig)
}

func buyTxFor(owner, sig string) *rpc.ConfirmedTransaction {
	raw := `{
		"slot": 10,
		"meta": {
			"err": null,
			"fee": 5000,
			"preBalances": [1000000000],
			"postBalances": [899995000],
			"preTokenBalances": [],
			"postTokenBalances": [
				{"accountIndex": 0, "mint": "MintX", "owner": "` + owner + `",
				 "uiTokenAmount": {"amount": "1000000", "decimals": 6, "uiAmountString": "1"}}
			],
			"logMessages": [],
			"innerInstructions": []
		},
		"transaction": {
			"message": {
				"accountKeys": [{"pubkey": "` + owner + `", "signer": true, "writable": true}],
				"instructions": [{"programId": "` + pumpfun.PumpFunProgramID + `", "data": "` + buyData + `"}]
			},
			"signatures": ["` + sig + `"]
		}
	}`
	var tx rpc.ConfirmedTransaction
	if err := json.Unmarshal([]byte(raw), &tx); err != nil {
		panic(err)
	}
	return &tx
}

type fakeChain struct {
	mu     sync.Mutex
	sigs   map[string][]rpc.SignatureInfo
	txs    map[string]*rpc.ConfirmedTransaction
	failTx map[string]int // remaining GetTransaction failures per sig
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		sigs:   map[string][]rpc.SignatureInfo{},
		txs:    map[string]*rpc.ConfirmedTransaction{},
		failTx: map[string]int{},
	}
}

func (f *fakeChain) GetSignaturesForAddress(_ context.Context, address string, _ int) ([]rpc.SignatureInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rpc.SignatureInfo(nil), f.sigs[address]...), nil
}

func (f *fakeChain) GetTransaction(_ context.Context, sig string) (*rpc.ConfirmedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTx[sig] > 0 {
		f.failTx[sig]--
		return nil, errors.New("rpc: too many requests")
	}
	return f.txs[sig], nil
}

func (f *fakeChain) push(addr, sig string, tx *rpc.ConfirmedTransaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sigs[addr] = append([]rpc.SignatureInfo{{Signature: sig, Slot: 10}}, f.sigs[addr]...)
	f.txs[sig] = tx
}

func newTestTracker(t *testing.T, chain *fakeChain) *Tracker {
	t.Helper()
	dedup, err := OpenDedup("", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = dedup.Close() })

	tr, err := New(Config{
		Wallets:        []string{wallet},
		PollInterval:   20 * time.Millisecond,
		SignatureLimit: 10,
	}, chain, nil, pumpfun.NewClassifier("", ""), dedup, nil)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestTracker_DetectsFreshBuy(t *testing.T) {
	chain := newFakeChain()
	tr := newTestTracker(t, chain)

	got := make(chan *pumpfun.TradeEvent, 4)
	tr.OnTrade(func(ev *pumpfun.TradeEvent) { got <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop(context.Background())

	chain.push(wallet, "sig-new", buyTx("sig-new"))

	select {
	case ev := <-got:
		if ev.Side != pumpfun.SideBuy || ev.Mint != "MintX" {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.SOLAmount.String() != "0.1" {
			t.Fatalf("expected 0.1 SOL, got %s", ev.SOLAmount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trade event")
	}

	stats := tr.Stats()
	if len(stats) != 1 || stats[0].Buys != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestTracker_SeedsHistoryWithoutReplaying(t *testing.T) {
	chain := newFakeChain()
	chain.push(wallet, "sig-old", buyTx("sig-old"))
	tr := newTestTracker(t, chain)

	got := make(chan *pumpfun.TradeEvent, 4)
	tr.OnTrade(func(ev *pumpfun.TradeEvent) { got <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop(context.Background())

	select {
	case ev := <-got:
		t.Fatalf("pre-existing trade replayed: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestTracker_DeduplicatesAcrossPolls(t *testing.T) {
	chain := newFakeChain()
	tr := newTestTracker(t, chain)

	var mu sync.Mutex
	count := 0
	tr.OnTrade(func(*pumpfun.TradeEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop(context.Background())

	chain.push(wallet, "sig-a", buyTx("sig-a"))
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", count)
	}
}

func TestTracker_RetriesAfterFetchFailure(t *testing.T) {
	chain := newFakeChain()
	tr := newTestTracker(t, chain)

	got := make(chan *pumpfun.TradeEvent, 4)
	tr.OnTrade(func(ev *pumpfun.TradeEvent) { got <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop(context.Background())

	// First fetch fails; the signature must not be consumed by the
	// failed attempt, so a later poll picks it up.
	chain.mu.Lock()
	chain.failTx["sig-flaky"] = 1
	chain.mu.Unlock()
	chain.push(wallet, "sig-flaky", buyTx("sig-flaky"))

	select {
	case ev := <-got:
		if ev.Signature != "sig-flaky" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("trade dropped after transient fetch failure")
	}
}

func TestTracker_AddWalletAtRuntime(t *testing.T) {
	const wallet2 = "SecondWa11et2222222222222222222222222222222"
	chain := newFakeChain()
	tr := newTestTracker(t, chain)

	got := make(chan *pumpfun.TradeEvent, 4)
	tr.OnTrade(func(ev *pumpfun.TradeEvent) { got <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop(context.Background())

	if err := tr.AddWallet(wallet2); err != nil {
		t.Fatal(err)
	}
	if err := tr.AddWallet(wallet2); err != nil {
		t.Fatal("re-adding a tracked wallet should be a no-op")
	}
	if err := tr.AddWallet("  "); err == nil {
		t.Fatal("blank wallet must be rejected")
	}
	if len(tr.Stats()) != 2 {
		t.Fatalf("expected 2 tracked wallets, got %d", len(tr.Stats()))
	}

	chain.push(wallet2, "sig-w2", buyTxFor(wallet2, "sig-w2"))

	select {
	case ev := <-got:
		if ev.Wallet != wallet2 {
			t.Fatalf("expected trade from %s, got %+v", wallet2, ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for added wallet's trade")
	}
}

func TestTracker_PublishesWalletStatus(t *testing.T) {
	const wallet2 = "SecondWa11et2222222222222222222222222222222"
	chain := newFakeChain()
	dedup, err := OpenDedup("", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = dedup.Close() })

	bus := events.NewBus()
	ch, unsub := bus.Subscribe("test", 8)
	defer unsub()

	tr, err := New(Config{
		Wallets:      []string{wallet},
		PollInterval: 20 * time.Millisecond,
	}, chain, nil, pumpfun.NewClassifier("", ""), dedup, bus)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop(context.Background())

	waitStatus := func(want string) {
		t.Helper()
		for {
			select {
			case ev := <-ch:
				if ev.Type != events.TypeWalletStatus {
					continue
				}
				if ev.Wallet != want {
					t.Fatalf("wallet_status for %s, want %s", ev.Wallet, want)
				}
				return
			case <-time.After(2 * time.Second):
				t.Fatalf("no wallet_status for %s", want)
			}
		}
	}

	waitStatus(wallet)

	if err := tr.AddWallet(wallet2); err != nil {
		t.Fatal(err)
	}
	waitStatus(wallet2)
}

func TestDedup_MarkOnce(t *testing.T) {
	d, err := OpenDedup("", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if !d.Mark("sig") {
		t.Fatal("first mark should be fresh")
	}
	if d.Mark("sig") {
		t.Fatal("second mark should not be fresh")
	}
	if !d.Seen("sig") {
		t.Fatal("sig should be seen")
	}
	if d.Seen("other") {
		t.Fatal("other should not be seen")
	}
}
