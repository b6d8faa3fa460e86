// Command monitor watches the configured wallets and prints classified
// trades without executing anything. Useful for vetting a wallet list
// before turning the copy engine loose on it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/copybot/gosol/internal/events"
	"github.com/copybot/gosol/internal/pumpfun"
	"github.com/copybot/gosol/internal/tracker"
	"github.com/copybot/gosol/pkg/config"
	"github.com/copybot/gosol/pkg/logger"
	"github.com/copybot/gosol/pkg/ratelimit"
	"github.com/copybot/gosol/solana/rpc"
	"github.com/copybot/gosol/solana/ws"
)

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func main() {
	var (
		configDir = flag.String("config", "config", "config directory")
		wallets   = flag.String("wallets", "", "comma-separated wallet override (default: tracking.wallets)")
	)
	flag.Parse()
	_ = godotenv.Load()

	settings, err := config.LoadSettings(*configDir + "/settings.json")
	if err != nil {
		fatal(err)
	}
	if err := logger.Init(logger.Config{Level: settings.Logging.Level, ConsoleOutput: true}); err != nil {
		fatal(err)
	}
	log := logger.M("monitor")

	tracked := settings.Tracking.Wallets
	if *wallets != "" {
		tracked = splitList(*wallets)
	}
	if len(tracked) == 0 {
		fatal(fmt.Errorf("no wallets to watch"))
	}

	limiter := ratelimit.NewManager()
	limiter.Register("solana:rpc", ratelimit.NewTokenBucket(20, 10))

	rpcCfg := rpc.DefaultClientConfig(settings.Solana.RPCEndpoints)
	rpcCfg.Commitment = settings.Solana.Commitment
	rpcCfg.Limiter = limiter
	chain, err := rpc.NewClient(rpcCfg)
	if err != nil {
		fatal(err)
	}

	var subscriber tracker.LogSubscriber
	wsClient, err := ws.NewClient(ws.DefaultClientConfig(settings.Solana.WebsocketEndpoint))
	if err == nil {
		if err := wsClient.Connect(); err != nil {
			log.Warnf("websocket connect failed, polling only: %v", err)
		} else {
			subscriber = wsClient
			defer wsClient.Close()
		}
	}

	dedup, err := tracker.OpenDedup("", 24*time.Hour)
	if err != nil {
		fatal(err)
	}
	defer dedup.Close()

	classifier := pumpfun.NewClassifier(settings.PumpFun.ProgramID, settings.Raydium.ProgramID)
	trk, err := tracker.New(tracker.Config{
		Wallets:      tracked,
		PollInterval: time.Duration(settings.Monitoring.NewTokenCheckInterval) * time.Second,
	}, chain, subscriber, classifier, dedup, events.NewBus())
	if err != nil {
		fatal(err)
	}
	trk.OnTrade(func(ev *pumpfun.TradeEvent) {
		log.Infof("%s | %-4s | %s SOL | %s tokens | %s | %s",
			ev.Wallet, ev.Side, ev.SOLAmount, ev.TokenAmount, ev.Platform, ev.Signature)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := trk.Start(ctx); err != nil {
		fatal(err)
	}
	log.Infof("watching %d wallet(s), ctrl+c to stop", len(tracked))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	trk.Stop(stopCtx)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
