package tracker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/copybot/gosol/internal/events"
	"github.com/copybot/gosol/internal/pumpfun"
	"github.com/copybot/gosol/pkg/logger"
	"github.com/copybot/gosol/pkg/syncgroup"
	"github.com/copybot/gosol/solana/rpc"
	"github.com/copybot/gosol/solana/ws"
)

var log = logger.M("tracker")

// ChainReader is the slice of the RPC client the tracker needs.
type ChainReader interface {
	GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]rpc.SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*rpc.ConfirmedTransaction, error)
}

// LogSubscriber is the slice of the websocket client the tracker needs. May
// be absent; the tracker then runs on polling alone.
type LogSubscriber interface {
	SubscribeLogs(ctx context.Context, pubkey string, handler ws.NotificationHandler) (int64, error)
	Unsubscribe(ctx context.Context, id int64) error
}

// TradeHandler receives classified trades by tracked wallets.
type TradeHandler func(ev *pumpfun.TradeEvent)

// Config configures the Tracker.
type Config struct {
	Wallets        []string
	PollInterval   time.Duration
	SignatureLimit int
}

// WalletStats is per-wallet activity accounting.
type WalletStats struct {
	Wallet       string    `json:"wallet"`
	TradesSeen   int       `json:"trades_seen"`
	Buys         int       `json:"buys"`
	Sells        int       `json:"sells"`
	LastActivity time.Time `json:"last_activity"`
}

// Tracker watches a set of wallets for pump.fun activity. Each wallet gets a
// polling loop over getSignaturesForAddress, and, when a subscriber is
// available, a logsSubscribe stream for lower latency; the dedup store
// reconciles the two paths.
type Tracker struct {
	cfg        Config
	chain      ChainReader
	subscriber LogSubscriber
	classifier *pumpfun.Classifier
	dedup      *Dedup
	bus        *events.Bus

	handler   TradeHandler
	handlerMu sync.RWMutex

	stats   map[string]*WalletStats
	statsMu sync.RWMutex

	subIDs []int64
	subMu  sync.Mutex
	group  *syncgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Tracker. subscriber and bus may be nil.
func New(cfg Config, chain ChainReader, subscriber LogSubscriber, classifier *pumpfun.Classifier, dedup *Dedup, bus *events.Bus) (*Tracker, error) {
	if len(cfg.Wallets) == 0 {
		return nil, errors.New("tracker: no wallets to track")
	}
	if chain == nil {
		return nil, errors.New("tracker: chain reader is required")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.SignatureLimit == 0 {
		cfg.SignatureLimit = 5
	}

	stats := make(map[string]*WalletStats, len(cfg.Wallets))
	for _, w := range cfg.Wallets {
		stats[w] = &WalletStats{Wallet: w}
	}

	return &Tracker{
		cfg:        cfg,
		chain:      chain,
		subscriber: subscriber,
		classifier: classifier,
		dedup:      dedup,
		bus:        bus,
		stats:      stats,
	}, nil
}

// OnTrade sets the handler invoked for every fresh classified trade.
func (t *Tracker) OnTrade(h TradeHandler) {
	t.handlerMu.Lock()
	t.handler = h
	t.handlerMu.Unlock()
}

// Start launches the per-wallet loops. Blocks until all loops have started.
func (t *Tracker) Start(ctx context.Context) error {
	ctx, t.cancel = context.WithCancel(ctx)
	t.ctx = ctx
	t.group = syncgroup.New()

	// Seed the dedup store with current history so startup does not copy
	// stale trades.
	for _, wallet := range t.cfg.Wallets {
		sigs, err := t.chain.GetSignaturesForAddress(ctx, wallet, t.cfg.SignatureLimit)
		if err != nil {
			log.Warnf("seed %s: %v", wallet, err)
			continue
		}
		for _, s := range sigs {
			t.dedup.Mark(s.Signature)
		}
	}

	for _, wallet := range t.cfg.Wallets {
		wallet := wallet
		t.group.Add(func() {
			t.pollLoop(ctx, wallet)
		})
		t.subscribeWallet(ctx, wallet)
		t.publishWalletStatus(wallet, "tracking")
	}
	t.group.Run()

	log.Infof("tracking %d wallet(s), poll=%s", len(t.cfg.Wallets), t.cfg.PollInterval)
	return nil
}

// Stop cancels all loops and unsubscribes the log streams.
func (t *Tracker) Stop(ctx context.Context) {
	if t.cancel != nil {
		t.cancel()
	}
	if t.subscriber != nil {
		t.subMu.Lock()
		ids := append([]int64(nil), t.subIDs...)
		t.subMu.Unlock()
		for _, id := range ids {
			if err := t.subscriber.Unsubscribe(ctx, id); err != nil {
				log.Debugf("unsubscribe %d: %v", id, err)
			}
		}
	}
	if t.group != nil {
		t.group.Wait()
	}
}

func (t *Tracker) subscribeWallet(ctx context.Context, wallet string) {
	if t.subscriber == nil {
		return
	}
	id, err := t.subscriber.SubscribeLogs(ctx, wallet, func(result json.RawMessage) {
		t.handleLogNotification(ctx, wallet, result)
	})
	if err != nil {
		log.Warnf("logsSubscribe %s: %v, polling only", wallet, err)
		return
	}
	t.subMu.Lock()
	t.subIDs = append(t.subIDs, id)
	t.subMu.Unlock()
}

// AddWallet starts tracking wallet at runtime. Before Start it only extends
// the configured list; after Start it seeds the dedup store with current
// history and launches the usual loops. Adding a tracked wallet is a no-op.
func (t *Tracker) AddWallet(wallet string) error {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return errors.New("tracker: empty wallet address")
	}

	t.statsMu.Lock()
	if _, exists := t.stats[wallet]; exists {
		t.statsMu.Unlock()
		return nil
	}
	t.stats[wallet] = &WalletStats{Wallet: wallet}
	t.cfg.Wallets = append(t.cfg.Wallets, wallet)
	ctx := t.ctx
	t.statsMu.Unlock()

	if ctx == nil {
		return nil
	}

	if sigs, err := t.chain.GetSignaturesForAddress(ctx, wallet, t.cfg.SignatureLimit); err == nil {
		for _, s := range sigs {
			t.dedup.Mark(s.Signature)
		}
	}
	t.group.Go(func() {
		t.pollLoop(ctx, wallet)
	})
	t.subscribeWallet(ctx, wallet)
	t.publishWalletStatus(wallet, "tracking")
	log.Infof("now tracking %s", wallet)
	return nil
}

func (t *Tracker) publishWalletStatus(wallet, status string) {
	if t.bus == nil {
		return
	}
	ev := events.New(events.TypeWalletStatus)
	ev.Wallet = wallet
	ev.Message = status
	t.bus.Publish(ev)
}

// Stats returns a snapshot of per-wallet activity.
func (t *Tracker) Stats() []WalletStats {
	t.statsMu.RLock()
	defer t.statsMu.RUnlock()
	out := make([]WalletStats, 0, len(t.stats))
	for _, w := range t.cfg.Wallets {
		if s, ok := t.stats[w]; ok {
			out = append(out, *s)
		}
	}
	return out
}

func (t *Tracker) pollLoop(ctx context.Context, wallet string) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.pollOnce(ctx, wallet)
		}
	}
}

func (t *Tracker) pollOnce(ctx context.Context, wallet string) {
	sigs, err := t.chain.GetSignaturesForAddress(ctx, wallet, t.cfg.SignatureLimit)
	if err != nil {
		log.Warnf("poll %s: %v", wallet, err)
		return
	}
	// Oldest first so trades replay in chain order.
	for i := len(sigs) - 1; i >= 0; i-- {
		s := sigs[i]
		if s.Failed() {
			continue
		}
		t.processSignature(ctx, wallet, s.Signature)
	}
}

func (t *Tracker) handleLogNotification(ctx context.Context, wallet string, result json.RawMessage) {
	var n ws.LogsNotification
	if err := json.Unmarshal(result, &n); err != nil {
		log.Debugf("bad logs notification: %v", err)
		return
	}
	if n.Failed() || n.Value.Signature == "" {
		return
	}
	t.processSignature(ctx, wallet, n.Value.Signature)
}

// processSignature fetches, classifies and dispatches one signature exactly
// once across both ingestion paths.
func (t *Tracker) processSignature(ctx context.Context, wallet, sig string) {
	if !t.dedup.Mark(sig) {
		return
	}

	// A failed or not-yet-visible fetch must not consume the signature:
	// release the dedup claim so the next poll retries it.
	tx, err := t.chain.GetTransaction(ctx, sig)
	if err != nil {
		log.Warnf("getTransaction %s: %v", sig, err)
		t.dedup.Forget(sig)
		return
	}
	if tx == nil {
		t.dedup.Forget(sig)
		return
	}

	ev := t.classifier.Classify(tx, wallet)
	if ev == nil {
		return
	}

	t.recordTrade(ev)
	log.Infof("%s %s %s SOL of %s on %s (sig=%s)", wallet, ev.Side, ev.SOLAmount, ev.Mint, ev.Platform, sig)

	if t.bus != nil {
		bev := events.New(events.TypeTradeDetected)
		bev.Wallet = ev.Wallet
		bev.Mint = ev.Mint
		bev.Signature = ev.Signature
		bev.Side = string(ev.Side)
		bev.Platform = string(ev.Platform)
		bev.SOL = ev.SOLAmount
		bev.Tokens = ev.TokenAmount
		t.bus.Publish(bev)
	}

	t.handlerMu.RLock()
	h := t.handler
	t.handlerMu.RUnlock()
	if h != nil {
		h(ev)
	}
}

func (t *Tracker) recordTrade(ev *pumpfun.TradeEvent) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	s, ok := t.stats[ev.Wallet]
	if !ok {
		s = &WalletStats{Wallet: ev.Wallet}
		t.stats[ev.Wallet] = s
	}
	s.TradesSeen++
	switch ev.Side {
	case pumpfun.SideBuy:
		s.Buys++
	case pumpfun.SideSell:
		s.Sells++
	}
	s.LastActivity = time.Now()
}
