package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/copybot/gosol/internal/engine/rules"
	"github.com/copybot/gosol/internal/events"
	"github.com/copybot/gosol/internal/journal"
	"github.com/copybot/gosol/internal/positions"
	"github.com/copybot/gosol/internal/pumpfun"
	"github.com/copybot/gosol/solana/rpc"
)

// Start launches the exit loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.cfg.ExitCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.CheckExits(ctx)
			}
		}
	}()
	log.Infof("exit loop running every %s", e.cfg.ExitCheckInterval)
}

// Stop halts the exit loop.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

// CheckExits evaluates every open position once. Exposed for tests and for
// the telegram /check command.
func (e *Engine) CheckExits(ctx context.Context) {
	now := time.Now()
	for _, p := range e.book.OpenPositions() {
		rule, action := e.evaluateExit(p, now)
		if rule == "" {
			continue
		}
		e.publish(events.TypeExitTriggered, p.Mint, p.SourceWallet, rule, decimal.Zero, decimal.Zero, "")
		if err := e.exitPosition(ctx, p.Mint, rule, action); err != nil {
			log.Errorf("exit %s (%s): %v", p.Mint, rule, err)
		}
	}
}

// evaluateExit returns the name of the first triggered exit and its action,
// or "". Built-in protective exits run before the configured rule set.
func (e *Engine) evaluateExit(p *positions.Position, now time.Time) (string, rules.Action) {
	gain := p.GainPercent()
	hold := p.HoldTime(now)

	// Emergency stop loss overrides everything.
	if e.cfg.EmergencyStopPct.IsPositive() && gain.LessThanOrEqual(e.cfg.EmergencyStopPct.Neg()) {
		return "emergency_stop_loss", rules.ActionSellAll
	}
	if e.cfg.MaxHoldTime > 0 && hold >= e.cfg.MaxHoldTime {
		return "max_hold_time", rules.ActionSellAll
	}
	if e.cfg.TakeProfitPct.IsPositive() && gain.GreaterThanOrEqual(e.cfg.TakeProfitPct) {
		return "take_profit", rules.ActionSellAll
	}
	if e.cfg.StopLossPct.IsPositive() && gain.LessThanOrEqual(e.cfg.StopLossPct.Neg()) {
		return "stop_loss", rules.ActionSellAll
	}
	// Trailing stop arms only after the position has been in profit.
	if e.cfg.TrailingStopPct.IsPositive() && p.PeakGainPct.IsPositive() {
		drawdown := p.PeakGainPct.Sub(gain)
		if drawdown.GreaterThanOrEqual(e.cfg.TrailingStopPct) {
			return "trailing_stop", rules.ActionSellAll
		}
	}
	// Time-based stop applies only to losing positions.
	if e.cfg.TimeBasedStop > 0 && hold >= e.cfg.TimeBasedStop && gain.IsNegative() {
		return "time_based_stop_loss", rules.ActionSellAll
	}

	if e.ruleSet != nil {
		metrics := rules.Metrics{
			rules.MetricGainPercent:     gain,
			rules.MetricHoldTimeSeconds: decimal.NewFromFloat(hold.Seconds()),
		}
		if change, ok := e.watcher.ChangePercent(p.Mint, e.cfg.PriceChangeLookback); ok {
			metrics[rules.MetricPriceChange] = change
		}
		if r := e.ruleSet.Evaluate(metrics); r != nil {
			return r.Name, r.Action
		}
	}
	return "", rules.ActionSellAll
}

// exitPosition sells all or half of the position and updates the book.
func (e *Engine) exitPosition(ctx context.Context, mint, rule string, action rules.Action) error {
	p := e.book.Get(mint)
	if p == nil {
		return errors.Errorf("no open position for %s", mint)
	}

	sellAmount := p.TokenAmount
	if action == rules.ActionSellHalf {
		sellAmount = p.TokenAmount.Div(decimal.NewFromInt(2))
	}
	raw := uint64(sellAmount.IntPart())
	if raw == 0 {
		return errors.Errorf("position %s has no sellable amount", mint)
	}

	res, err := e.executor.SellForSOL(ctx, mint, raw, slippageFor(pumpfun.PlatformFromString(p.Platform)))
	if err != nil {
		e.breaker.OnError()
		return errors.Wrap(err, "execute sell")
	}
	e.breaker.OnSuccess()

	solReturned := res.OutAmount.Div(decimal.NewFromInt(rpc.LamportsPerSOL))

	if action == rules.ActionSellHalf {
		if _, err := e.book.ReduceHalf(mint); err != nil {
			return err
		}
		e.record(ctx, journal.Entry{
			Side: "sell", Mint: mint, SourceWallet: p.SourceWallet, Platform: p.Platform,
			Rule: rule, SOLAmount: solReturned, TokenAmount: sellAmount,
			Signature: res.Signature, DryRun: e.cfg.DryRun,
		})
		e.publish(events.TypePositionClosed, mint, p.SourceWallet, rule, solReturned, sellAmount, res.Signature)
		log.Infof("sold half of %s for %s SOL (%s)", mint, solReturned, rule)
		return nil
	}

	closed, err := e.book.Close(mint, res.Signature, solReturned)
	if err != nil {
		return err
	}
	e.watcher.Unwatch(mint)
	e.breaker.AddPnLLamports(closed.RealizedPnL().Mul(decimal.NewFromInt(rpc.LamportsPerSOL)).IntPart())

	e.record(ctx, journal.Entry{
		Side: "sell", Mint: mint, SourceWallet: p.SourceWallet, Platform: p.Platform,
		Rule: rule, SOLAmount: solReturned, TokenAmount: sellAmount,
		Signature: res.Signature, DryRun: e.cfg.DryRun,
	})
	e.publish(events.TypePositionClosed, mint, p.SourceWallet, rule, solReturned, sellAmount, res.Signature)
	log.Infof("closed %s: %s SOL back, pnl=%s (%s)", mint, solReturned, closed.RealizedPnL(), rule)
	return nil
}
