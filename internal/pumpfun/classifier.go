package pumpfun

import (
	"bytes"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/copybot/gosol/pkg/logger"
	"github.com/copybot/gosol/solana/rpc"
)

var log = logger.M("classifier")

// On-chain program ids the classifier attributes trades to.
const (
	PumpFunProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	RaydiumProgramID = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	JupiterProgramID = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
)

// Anchor instruction discriminators of the pump.fun program.
var (
	discriminatorBuy    = []byte{102, 6, 61, 18, 1, 218, 235, 234}
	discriminatorSell   = []byte{51, 230, 133, 164, 1, 127, 131, 173}
	discriminatorCreate = []byte{181, 157, 89, 67, 143, 182, 52, 72}
)

// Side is the direction of a classified trade.
type Side string

const (
	SideBuy    Side = "buy"
	SideSell   Side = "sell"
	SideCreate Side = "create"
)

// Platform names the venue a trade was routed through.
type Platform string

const (
	PlatformPumpFun Platform = "pump_fun"
	PlatformRaydium Platform = "raydium"
	PlatformJupiter Platform = "jupiter"
	PlatformUnknown Platform = "unknown"
)

// PlatformFromString parses a stored platform name.
func PlatformFromString(s string) Platform {
	switch Platform(s) {
	case PlatformPumpFun, PlatformRaydium, PlatformJupiter:
		return Platform(s)
	}
	return PlatformUnknown
}

// TradeEvent is a classified trade by a tracked wallet.
type TradeEvent struct {
	Wallet      string
	Signature   string
	Side        Side
	Platform    Platform
	Mint        string
	SOLAmount     decimal.Decimal // absolute SOL moved by the wallet
	TokenAmount   decimal.Decimal // absolute token units (ui amount)
	TokenDecimals int
	Slot          uint64
	BlockTime     *int64
}

// Classifier turns confirmed transactions into TradeEvents. Classification is
// layered: instruction discriminators first, log markers as a fallback, and
// amounts always come from pre/post balance deltas rather than heuristics.
type Classifier struct {
	pumpProgram    string
	raydiumProgram string
}

// NewClassifier creates a Classifier. Empty program ids fall back to mainnet
// defaults.
func NewClassifier(pumpProgram, raydiumProgram string) *Classifier {
	if pumpProgram == "" {
		pumpProgram = PumpFunProgramID
	}
	if raydiumProgram == "" {
		raydiumProgram = RaydiumProgramID
	}
	return &Classifier{pumpProgram: pumpProgram, raydiumProgram: raydiumProgram}
}

// Classify inspects tx for a trade made by wallet. Returns nil when the
// transaction is not a trade (or failed on chain).
func (c *Classifier) Classify(tx *rpc.ConfirmedTransaction, wallet string) *TradeEvent {
	if tx == nil || tx.Meta == nil || tx.Failed() {
		return nil
	}
	if tx.AccountIndex(wallet) < 0 {
		return nil
	}

	side, platform := c.classifyInstructions(tx)
	if side == "" {
		side, platform = c.classifyLogs(tx.Meta.LogMessages)
	}
	if side == "" {
		side, platform = c.classifyBareSwap(tx, wallet)
	}
	if side == "" {
		return nil
	}

	ev := &TradeEvent{
		Wallet:    wallet,
		Side:      side,
		Platform:  platform,
		Slot:      tx.Slot,
		BlockTime: tx.BlockTime,
	}
	if len(tx.Transaction.Signatures) > 0 {
		ev.Signature = tx.Transaction.Signatures[0]
	}

	// SOL moved by the wallet, fee excluded for buys so the copied size
	// reflects what actually went into the token.
	if delta, ok := tx.LamportDelta(wallet); ok {
		lamports := delta
		if lamports < 0 {
			lamports = -lamports
			if side == SideBuy && uint64(lamports) > tx.Meta.Fee {
				lamports -= int64(tx.Meta.Fee)
			}
		}
		ev.SOLAmount = decimal.NewFromInt(lamports).Div(decimal.NewFromInt(rpc.LamportsPerSOL))
	}

	ev.Mint, ev.TokenAmount, ev.TokenDecimals = tokenDelta(tx.Meta, wallet)
	return ev
}

// classifyInstructions walks outer and inner instructions looking for a known
// program with a decodable discriminator.
func (c *Classifier) classifyInstructions(tx *rpc.ConfirmedTransaction) (Side, Platform) {
	all := make([]rpc.ParsedInstruction, 0, len(tx.Transaction.Message.Instructions))
	all = append(all, tx.Transaction.Message.Instructions...)
	for _, inner := range tx.Meta.InnerInstructions {
		all = append(all, inner.Instructions...)
	}

	// A Jupiter route may CPI into pump.fun; remember the aggregator but
	// prefer the venue-level classification when present.
	sawJupiter := false
	for _, ins := range all {
		switch ins.ProgramID {
		case c.pumpProgram:
			if side := decodeDiscriminator(ins.Data); side != "" {
				return side, PlatformPumpFun
			}
		case c.raydiumProgram:
			// Raydium v4 has no anchor discriminators; direction comes
			// from the log fallback, venue from here.
			if side, _ := c.classifyLogs(tx.Meta.LogMessages); side != "" {
				return side, PlatformRaydium
			}
		case JupiterProgramID:
			sawJupiter = true
		}
	}
	if sawJupiter {
		if side, _ := c.classifyLogs(tx.Meta.LogMessages); side != "" {
			return side, PlatformJupiter
		}
	}
	return "", PlatformUnknown
}

func decodeDiscriminator(data string) Side {
	if data == "" {
		return ""
	}
	raw, err := base58.Decode(data)
	if err != nil || len(raw) < 8 {
		return ""
	}
	switch {
	case bytes.Equal(raw[:8], discriminatorBuy):
		return SideBuy
	case bytes.Equal(raw[:8], discriminatorSell):
		return SideSell
	case bytes.Equal(raw[:8], discriminatorCreate):
		return SideCreate
	}
	return ""
}

// classifyLogs falls back to the program log stream: an invoke line for a
// known program followed by an "Instruction:" marker.
func (c *Classifier) classifyLogs(logs []string) (Side, Platform) {
	platform := PlatformUnknown
	for _, line := range logs {
		switch {
		case strings.HasPrefix(line, "Program "+c.pumpProgram+" invoke"):
			platform = PlatformPumpFun
		case strings.HasPrefix(line, "Program "+c.raydiumProgram+" invoke"):
			if platform == PlatformUnknown {
				platform = PlatformRaydium
			}
		case strings.HasPrefix(line, "Program "+JupiterProgramID+" invoke"):
			if platform == PlatformUnknown {
				platform = PlatformJupiter
			}
		}
	}
	if platform == PlatformUnknown {
		return "", platform
	}
	for _, line := range logs {
		switch {
		case strings.Contains(line, "Instruction: Buy"):
			return SideBuy, platform
		case strings.Contains(line, "Instruction: Sell"):
			return SideSell, platform
		case strings.Contains(line, "Instruction: Create"):
			return SideCreate, platform
		}
	}
	return "", platform
}

// classifyBareSwap handles aggregator routes whose logs only say
// "Instruction: Swap" without naming a direction: the sign of the wallet's
// lamport delta decides it (SOL out means buy, SOL in means sell).
func (c *Classifier) classifyBareSwap(tx *rpc.ConfirmedTransaction, wallet string) (Side, Platform) {
	_, platform := c.classifyLogs(tx.Meta.LogMessages)
	if platform == PlatformUnknown {
		return "", platform
	}
	sawSwap := false
	for _, line := range tx.Meta.LogMessages {
		if strings.Contains(line, "Instruction: Swap") {
			sawSwap = true
			break
		}
	}
	if !sawSwap {
		return "", PlatformUnknown
	}
	delta, ok := tx.LamportDelta(wallet)
	if !ok || delta == 0 {
		return "", PlatformUnknown
	}
	if delta < 0 {
		return SideBuy, platform
	}
	return SideSell, platform
}

// tokenDelta finds the tracked wallet's largest token balance change, which
// identifies both the traded mint and the token amount.
func tokenDelta(meta *rpc.TransactionMeta, wallet string) (string, decimal.Decimal, int) {
	pre := map[string]decimal.Decimal{}
	decimals := map[string]int{}
	for _, b := range meta.PreTokenBalances {
		if b.Owner == wallet {
			pre[b.Mint] = uiAmount(b.UITokenAmount)
			decimals[b.Mint] = b.UITokenAmount.Decimals
		}
	}

	bestMint := ""
	bestDelta := decimal.Zero
	seen := map[string]bool{}
	for _, b := range meta.PostTokenBalances {
		if b.Owner != wallet {
			continue
		}
		seen[b.Mint] = true
		decimals[b.Mint] = b.UITokenAmount.Decimals
		delta := uiAmount(b.UITokenAmount).Sub(pre[b.Mint]).Abs()
		if delta.GreaterThan(bestDelta) {
			bestDelta = delta
			bestMint = b.Mint
		}
	}
	// Accounts fully drained can vanish from post balances.
	for mint, amount := range pre {
		if !seen[mint] && amount.Abs().GreaterThan(bestDelta) {
			bestDelta = amount.Abs()
			bestMint = mint
		}
	}
	return bestMint, bestDelta, decimals[bestMint]
}

func uiAmount(a rpc.TokenAmount) decimal.Decimal {
	if a.UIAmountString != "" {
		if d, err := decimal.NewFromString(a.UIAmountString); err == nil {
			return d
		}
	}
	if a.Amount != "" {
		if d, err := decimal.NewFromString(a.Amount); err == nil {
			return d.Shift(int32(-a.Decimals))
		}
	}
	log.Debugf("unparseable token amount %+v", a)
	return decimal.Zero
}
