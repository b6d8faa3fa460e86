// Package telegram provides remote control of the bot over a Telegram chat:
// status queries, position listing and pause/resume.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/copybot/gosol/internal/positions"
	"github.com/copybot/gosol/internal/tracker"
	"github.com/copybot/gosol/pkg/logger"
)

var log = logger.M("telegram")

// Controller is the slice of the engine the bot needs.
type Controller interface {
	Pause()
	Resume()
	Paused() bool
}

// Config configures the controller.
type Config struct {
	Token          string
	AllowedChatIDs []int64
}

// Bot answers commands from an allowlisted chat.
type Bot struct {
	api        *tgbotapi.BotAPI
	allowed    map[int64]bool
	controller Controller
	book       *positions.Book
	trk        *tracker.Tracker
	startedAt  time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Bot. Fails when the token is rejected by the API.
func New(cfg Config, controller Controller, book *positions.Book, trk *tracker.Tracker) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram: auth")
	}

	allowed := make(map[int64]bool, len(cfg.AllowedChatIDs))
	for _, id := range cfg.AllowedChatIDs {
		allowed[id] = true
	}

	return &Bot{
		api:        api,
		allowed:    allowed,
		controller: controller,
		book:       book,
		trk:        trk,
		startedAt:  time.Now(),
	}, nil
}

// Start begins polling for updates.
func (b *Bot) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	go func() {
		defer close(b.done)
		log.Infof("telegram controller online as @%s", b.api.Self.UserName)
		for {
			select {
			case <-ctx.Done():
				b.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				b.handleUpdate(update)
			}
		}
	}()
}

// Stop halts polling.
func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.done != nil {
		<-b.done
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	chatID := update.Message.Chat.ID
	if len(b.allowed) > 0 && !b.allowed[chatID] {
		log.Warnf("ignoring command from unauthorized chat %d", chatID)
		return
	}

	var reply string
	switch update.Message.Command() {
	case "status":
		reply = b.statusText()
	case "positions":
		reply = b.positionsText()
	case "stats":
		reply = b.statsText()
	case "pause":
		b.controller.Pause()
		reply = "⏸ Copy trading paused. Open positions are still managed."
	case "resume":
		b.controller.Resume()
		reply = "▶️ Copy trading resumed."
	case "help", "start":
		reply = helpText
	default:
		reply = "Unknown command. Try /help."
	}
	b.send(chatID, reply)
}

const helpText = `Commands:
/status - bot state and session PnL
/positions - open positions
/stats - tracked wallet activity
/pause - stop copying new trades
/resume - resume copying
`

func (b *Bot) statusText() string {
	stats := b.book.Stats()
	state := "running"
	if b.controller.Paused() {
		state = "paused"
	}
	return fmt.Sprintf(
		"State: %s\nUptime: %s\nOpen positions: %d\nClosed: %d (%dW / %dL)\nRealized PnL: %s SOL\nInvested: %s SOL",
		state,
		time.Since(b.startedAt).Round(time.Second),
		stats.Open, stats.Closed, stats.Wins, stats.Losses,
		stats.RealizedPnL, stats.Invested,
	)
}

func (b *Bot) positionsText() string {
	open := b.book.OpenPositions()
	if len(open) == 0 {
		return "No open positions."
	}
	var sb strings.Builder
	for _, p := range open {
		fmt.Fprintf(&sb, "%s\n  gain: %s%%  peak: %s%%  held: %s\n  invested: %s SOL (src %s)\n",
			shortMint(p.Mint),
			p.GainPercent().Round(2), p.PeakGainPct.Round(2),
			p.HoldTime(time.Now()).Round(time.Second),
			p.SOLInvested, shortMint(p.SourceWallet))
	}
	return sb.String()
}

func (b *Bot) statsText() string {
	if b.trk == nil {
		return "Wallet tracking is not active."
	}
	stats := b.trk.Stats()
	if len(stats) == 0 {
		return "No tracked wallets."
	}
	var sb strings.Builder
	for _, w := range stats {
		last := "never"
		if !w.LastActivity.IsZero() {
			last = time.Since(w.LastActivity).Round(time.Second).String() + " ago"
		}
		fmt.Fprintf(&sb, "%s\n  trades: %d (%d buys / %d sells), last: %s\n",
			shortMint(w.Wallet), w.TradesSeen, w.Buys, w.Sells, last)
	}
	return sb.String()
}

func shortMint(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}

func (b *Bot) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Errorf("send to %d: %v", chatID, err)
	}
}
