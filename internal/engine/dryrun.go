package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/copybot/gosol/jupiter"
)

// DryRunExecutor quotes real routes but never signs or submits anything.
// Simulated fills use the quoted amounts so downstream accounting stays
// realistic.
type DryRunExecutor struct {
	client *jupiter.Client
}

// NewDryRunExecutor wraps a quote client.
func NewDryRunExecutor(client *jupiter.Client) *DryRunExecutor {
	return &DryRunExecutor{client: client}
}

func (d *DryRunExecutor) simulate(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*jupiter.SwapResult, error) {
	quote, err := d.client.GetQuote(ctx, inputMint, outputMint, amount, slippageBps)
	if err != nil {
		return nil, err
	}
	in, _ := decimal.NewFromString(quote.InAmount)
	out, _ := decimal.NewFromString(quote.OutAmount)
	sig := "dry-run-" + uuid.NewString()[:8]
	log.Infof("[dry-run] would swap %s %s -> %s %s", in, inputMint, out, outputMint)
	return &jupiter.SwapResult{
		Signature:   sig,
		InputMint:   inputMint,
		OutputMint:  outputMint,
		InAmount:    in,
		OutAmount:   out,
		PriceImpact: quote.PriceImpactPct,
	}, nil
}

func (d *DryRunExecutor) BuySOL(ctx context.Context, outputMint string, lamports uint64, slippageBps int) (*jupiter.SwapResult, error) {
	return d.simulate(ctx, jupiter.WSOLMint, outputMint, lamports, slippageBps)
}

func (d *DryRunExecutor) SellForSOL(ctx context.Context, inputMint string, amount uint64, slippageBps int) (*jupiter.SwapResult, error) {
	return d.simulate(ctx, inputMint, jupiter.WSOLMint, amount, slippageBps)
}
