package jupiter

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Signer signs swap transactions as the fee payer.
type Signer interface {
	PublicKey() string
	SignTransactionBase64(txBase64 string) (string, error)
}

// TxSender submits signed transactions to the chain.
type TxSender interface {
	SendTransaction(ctx context.Context, txBase64 string, skipPreflight bool) (string, error)
}

// Swapper executes full quote -> build -> sign -> send swap flows.
type Swapper struct {
	client *Client
	signer Signer
	sender TxSender
}

// NewSwapper wires a Swapper.
func NewSwapper(client *Client, signer Signer, sender TxSender) *Swapper {
	return &Swapper{client: client, signer: signer, sender: sender}
}

// SwapResult summarizes an executed swap.
type SwapResult struct {
	Signature   string
	InputMint   string
	OutputMint  string
	InAmount    decimal.Decimal // raw input units
	OutAmount   decimal.Decimal // raw output units, per quote
	PriceImpact string
}

// ExecuteSwap swaps amount raw units of inputMint into outputMint with the
// given slippage tolerance and returns the submitted signature.
func (s *Swapper) ExecuteSwap(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*SwapResult, error) {
	quote, err := s.client.GetQuote(ctx, inputMint, outputMint, amount, slippageBps)
	if err != nil {
		return nil, err
	}

	swap, err := s.client.BuildSwap(ctx, quote, s.signer.PublicKey())
	if err != nil {
		return nil, err
	}

	signed, err := s.signer.SignTransactionBase64(swap.SwapTransaction)
	if err != nil {
		return nil, errors.Wrap(err, "jupiter: sign swap")
	}

	sig, err := s.sender.SendTransaction(ctx, signed, false)
	if err != nil {
		return nil, errors.Wrap(err, "jupiter: send swap")
	}

	in, _ := decimal.NewFromString(quote.InAmount)
	out, _ := decimal.NewFromString(quote.OutAmount)
	log.Infof("swap submitted: %s %s -> %s %s (sig=%s impact=%s)",
		in, inputMint, out, outputMint, sig, quote.PriceImpactPct)

	return &SwapResult{
		Signature:   sig,
		InputMint:   inputMint,
		OutputMint:  outputMint,
		InAmount:    in,
		OutAmount:   out,
		PriceImpact: quote.PriceImpactPct,
	}, nil
}

// BuySOL buys outputMint with lamports of SOL.
func (s *Swapper) BuySOL(ctx context.Context, outputMint string, lamports uint64, slippageBps int) (*SwapResult, error) {
	return s.ExecuteSwap(ctx, WSOLMint, outputMint, lamports, slippageBps)
}

// SellForSOL sells amount raw units of inputMint back into SOL.
func (s *Swapper) SellForSOL(ctx context.Context, inputMint string, amount uint64, slippageBps int) (*SwapResult, error) {
	return s.ExecuteSwap(ctx, inputMint, WSOLMint, amount, slippageBps)
}
