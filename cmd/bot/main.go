package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/copybot/gosol/internal/dashboard"
	"github.com/copybot/gosol/internal/engine"
	"github.com/copybot/gosol/internal/engine/rules"
	"github.com/copybot/gosol/internal/events"
	"github.com/copybot/gosol/internal/journal"
	"github.com/copybot/gosol/internal/positions"
	"github.com/copybot/gosol/internal/pricewatch"
	"github.com/copybot/gosol/internal/pumpfun"
	"github.com/copybot/gosol/internal/risk"
	"github.com/copybot/gosol/internal/telegram"
	"github.com/copybot/gosol/internal/tracker"
	"github.com/copybot/gosol/internal/webmonitor"
	"github.com/copybot/gosol/jupiter"
	"github.com/copybot/gosol/pkg/config"
	"github.com/copybot/gosol/pkg/logger"
	"github.com/copybot/gosol/pkg/persistence"
	"github.com/copybot/gosol/pkg/ratelimit"
	"github.com/copybot/gosol/pkg/shutdown"
	"github.com/copybot/gosol/pkg/sigchan"
	"github.com/copybot/gosol/solana/keys"
	"github.com/copybot/gosol/solana/rpc"
	"github.com/copybot/gosol/solana/ws"
)

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func main() {
	var (
		configDir = flag.String("config", getenv("COPYBOT_CONFIG_DIR", "config"), "config directory (settings.json, wallet.json, sell_strategy.yaml)")
		dataDir   = flag.String("data", getenv("COPYBOT_DATA_DIR", "data"), "data directory (dedup store, position snapshots, trade journal)")
		keystore  = flag.String("keystore", getenv("COPYBOT_KEYSTORE", ""), "load the wallet keypair from this keystore instead of wallet.json (see keystore-init)")
		dryRun    = flag.Bool("dry-run", false, "quote real routes but never sign or submit transactions")
		ui        = flag.Bool("ui", false, "render the terminal dashboard")
		webAddr   = flag.String("web", "", "serve the monitoring API on this address, e.g. :8080")
		useTG     = flag.Bool("telegram", false, "enable the Telegram controller (TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_IDS)")
	)
	flag.Parse()

	// Optional .env next to the binary; real env wins.
	_ = godotenv.Load()

	// With a keystore the key material lives outside the config directory, so
	// wallet.json is not read at all.
	var (
		cfg *config.Config
		err error
	)
	if *keystore != "" {
		cfg, err = loadConfigWithoutWallet(*configDir)
	} else {
		cfg, err = config.Load(*configDir)
	}
	if err != nil {
		fatal(err)
	}

	lcfg := logger.Config{
		Level:         cfg.Settings.Logging.Level,
		OutputFile:    cfg.Settings.Logging.FilePath,
		MaxFileSizeMB: cfg.Settings.Logging.MaxFileSizeMB,
		MaxBackups:    cfg.Settings.Logging.BackupCount,
		ConsoleOutput: cfg.Settings.Logging.ConsoleOutput && !*ui,
	}
	if err := logger.Init(lcfg); err != nil {
		fatal(err)
	}
	log := logger.M("main")

	var keypair *keys.Keypair
	if *keystore != "" {
		keypair, err = keypairFromStore(*keystore)
	} else {
		keypair, err = loadKeypair(&cfg.Wallet)
	}
	if err != nil {
		fatal(err)
	}
	log.Infof("wallet: %s", keypair.PublicKey())

	// One limiter manager shared by the RPC and aggregator clients. Public
	// endpoints throttle hard; stay under their documented limits.
	limiter := ratelimit.NewManager()
	limiter.Register("solana:rpc", ratelimit.NewTokenBucket(20, 10))
	limiter.Register("jupiter:quote", ratelimit.NewSlidingWindow(30, time.Minute))
	limiter.Register("jupiter:swap", ratelimit.NewSlidingWindow(10, time.Minute))

	rpcCfg := rpc.DefaultClientConfig(cfg.Settings.Solana.RPCEndpoints)
	rpcCfg.Commitment = cfg.Settings.Solana.Commitment
	rpcCfg.Timeout = time.Duration(cfg.Settings.Solana.TimeoutSeconds) * time.Second
	rpcCfg.Limiter = limiter
	chain, err := rpc.NewClient(rpcCfg)
	if err != nil {
		fatal(err)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	sd := shutdown.NewManager()

	// The websocket stream is a latency optimization; polling alone is a
	// complete ingestion path, so a failed connect only degrades.
	var subscriber tracker.LogSubscriber
	wsCfg := ws.DefaultClientConfig(cfg.Settings.Solana.WebsocketEndpoint)
	wsCfg.Commitment = cfg.Settings.Solana.Commitment
	wsClient, err := ws.NewClient(wsCfg)
	if err != nil {
		fatal(err)
	}
	if err := wsClient.Connect(); err != nil {
		log.Warnf("websocket connect failed, running on polling only: %v", err)
	} else {
		subscriber = wsClient
		sd.OnShutdown(func(ctx context.Context) { _ = wsClient.Close() })
	}

	jupCfg := jupiter.DefaultClientConfig()
	jupCfg.Limiter = limiter
	jup := jupiter.NewClient(jupCfg)

	var executor engine.Executor
	if *dryRun {
		log.Warn("dry-run mode: trades are simulated with live quotes")
		executor = engine.NewDryRunExecutor(jup)
	} else {
		executor = jupiter.NewSwapper(jup, keypair, chain)
	}

	dedup, err := tracker.OpenDedup(filepath.Join(*dataDir, "signatures.badger"), 24*time.Hour)
	if err != nil {
		fatal(err)
	}
	sd.OnShutdown(func(ctx context.Context) { _ = dedup.Close() })

	store := persistence.NewJSONFileService(*dataDir).NewStore("copybot", "bot", "positions")
	book := positions.NewBook(cfg.Settings.Trading.MaxPositions, store)
	if err := book.Restore(); err != nil {
		log.Warnf("restore positions: %v", err)
	}
	if n := book.Count(); n > 0 {
		log.Infof("restored %d open position(s)", n)
	}

	watcher := pricewatch.New(jup, pricewatch.Config{
		Interval: time.Duration(cfg.Settings.Monitoring.PriceCheckInterval) * time.Second,
	})
	for _, p := range book.OpenPositions() {
		watcher.Watch(p.Mint)
	}

	ruleSet, err := rules.Compile(cfg.SellStrategy.SellingRules)
	if err != nil {
		fatal(err)
	}

	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
		MaxConsecutiveErrors:   envInt64("COPYBOT_MAX_CONSECUTIVE_ERRORS", 5),
		DailyLossLimitLamports: envLamports("COPYBOT_DAILY_LOSS_LIMIT_SOL"),
	})

	jrnl, err := journal.Open(filepath.Join(*dataDir, "trades.db"))
	if err != nil {
		fatal(err)
	}
	sd.OnShutdown(func(ctx context.Context) { _ = jrnl.Close() })

	bus := events.NewBus()

	eng, err := engine.New(
		engine.ConfigFromSettings(&cfg.Settings, &cfg.SellStrategy, keypair.PublicKey(), *dryRun),
		executor, chain, book, watcher, ruleSet, breaker, jrnl, bus,
	)
	if err != nil {
		fatal(err)
	}

	classifier := pumpfun.NewClassifier(cfg.Settings.PumpFun.ProgramID, cfg.Settings.Raydium.ProgramID)
	trk, err := tracker.New(tracker.Config{
		Wallets:      cfg.Settings.Tracking.Wallets,
		PollInterval: time.Duration(cfg.Settings.Monitoring.NewTokenCheckInterval) * time.Second,
	}, chain, subscriber, classifier, dedup, bus)
	if err != nil {
		fatal(err)
	}
	trk.OnTrade(func(ev *pumpfun.TradeEvent) {
		eng.HandleTrade(rootCtx, ev)
	})

	watcher.Start(rootCtx)
	eng.Start(rootCtx)
	if err := trk.Start(rootCtx); err != nil {
		fatal(err)
	}
	sd.OnShutdown(func(ctx context.Context) { trk.Stop(ctx) })
	sd.OnShutdown(func(ctx context.Context) { eng.Stop() })
	sd.OnShutdown(func(ctx context.Context) { watcher.Stop() })

	if *webAddr != "" {
		web := webmonitor.New(*webAddr, eng, book, trk, jrnl)
		web.SetBalance(func() decimal.Decimal { return balanceSOL(rootCtx, chain, keypair.PublicKey()) })
		web.Start()
		sd.OnShutdown(func(ctx context.Context) { _ = web.Shutdown(ctx) })
		log.Infof("monitoring API on %s", *webAddr)
	}

	if *useTG {
		tg, err := telegram.New(telegram.Config{
			Token:          os.Getenv("TELEGRAM_BOT_TOKEN"),
			AllowedChatIDs: parseChatIDs(os.Getenv("TELEGRAM_CHAT_IDS")),
		}, eng, book, trk)
		if err != nil {
			fatal(err)
		}
		tg.Start(rootCtx)
		sd.OnShutdown(func(ctx context.Context) { tg.Stop() })
	}

	stop := sigchan.New(1)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		stop.Emit()
	}()

	log.Infof("copy trader running: %d wallet(s), dry_run=%v", len(cfg.Settings.Tracking.Wallets), *dryRun)

	if *ui {
		dash := dashboard.New(dashboard.Sources{
			Book:    book,
			Tracker: trk,
			Bus:     bus,
			Paused:  eng.Paused,
			Balance: func() decimal.Decimal { return balanceSOL(rootCtx, chain, keypair.PublicKey()) },
			DryRun:  *dryRun,
		})
		go func() {
			if err := dash.Run(rootCtx); err != nil {
				log.Errorf("dashboard: %v", err)
			}
		}()
	}

	<-stop.C()
	log.Info("stop signal received, shutting down")
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sd.Shutdown(shutdownCtx)
	log.Info("stopped")
}

// loadConfigWithoutWallet reads settings.json and sell_strategy.yaml only,
// for runs where the keypair comes from a keystore.
func loadConfigWithoutWallet(configDir string) (*config.Config, error) {
	s, err := config.LoadSettings(filepath.Join(configDir, "settings.json"))
	if err != nil {
		return nil, err
	}
	ss, err := config.LoadSellStrategy(filepath.Join(configDir, "sell_strategy.yaml"))
	if err != nil {
		return nil, err
	}
	return &config.Config{Settings: *s, SellStrategy: *ss}, nil
}

// keypairFromStore opens the keystore read-only and loads the keypair named
// "wallet". COPYBOT_KEYSTORE_KEY (hex or base64, 32 bytes) decrypts stores
// created with encryption.
func keypairFromStore(path string) (*keys.Keypair, error) {
	var enc []byte
	if v := strings.TrimSpace(os.Getenv("COPYBOT_KEYSTORE_KEY")); v != "" {
		var err error
		enc, err = keys.ParseKey(v)
		if err != nil {
			return nil, err
		}
	}
	store, err := keys.OpenStore(keys.StoreOptions{Path: path, EncryptionKey: enc, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer store.Close()

	kp, err := store.GetKeypair("wallet")
	if err != nil {
		return nil, err
	}
	if kp == nil {
		return nil, fmt.Errorf("keystore %s holds no wallet keypair; import one with keystore-init", path)
	}
	return kp, nil
}

func loadKeypair(w *config.Wallet) (*keys.Keypair, error) {
	var (
		kp  *keys.Keypair
		err error
	)
	if len(w.Keypair) > 0 {
		kp, err = keys.FromIntArray(w.Keypair)
	} else {
		kp, err = keys.FromBase58(w.PrivateKey)
	}
	if err != nil {
		return nil, err
	}
	if w.PublicKey != "" && w.PublicKey != kp.PublicKey() {
		return nil, fmt.Errorf("wallet: public_key %s does not match keypair %s", w.PublicKey, kp.PublicKey())
	}
	return kp, nil
}

func balanceSOL(ctx context.Context, chain *rpc.Client, pubkey string) decimal.Decimal {
	lamports, err := chain.GetBalance(ctx, pubkey)
	if err != nil {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(lamports)).Div(decimal.NewFromInt(rpc.LamportsPerSOL))
}

func parseChatIDs(s string) []int64 {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

func envInt64(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// envLamports reads a SOL amount from the environment and converts it to
// lamports. Absent or invalid means disabled.
func envLamports(key string) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	sol, err := decimal.NewFromString(v)
	if err != nil {
		return 0
	}
	return sol.Mul(decimal.NewFromInt(rpc.LamportsPerSOL)).IntPart()
}
