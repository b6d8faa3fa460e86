package jupiter

import (
	"context"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/copybot/gosol/pkg/cache"
	"github.com/copybot/gosol/pkg/logger"
	"github.com/copybot/gosol/pkg/ratelimit"
)

var log = logger.M("jupiter")

// Default public API endpoints.
const (
	DefaultQuoteAPI = "https://quote-api.jup.ag/v6"
	DefaultPriceAPI = "https://api.jup.ag/price/v2"
)

// ClientConfig configures the aggregator client.
type ClientConfig struct {
	QuoteAPI      string
	PriceAPI      string
	Timeout       time.Duration
	RetryCount    int
	PriceCacheTTL time.Duration
	Limiter       *ratelimit.Manager // optional
}

// DefaultClientConfig returns a configuration for the public Jupiter API.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		QuoteAPI:      DefaultQuoteAPI,
		PriceAPI:      DefaultPriceAPI,
		Timeout:       15 * time.Second,
		RetryCount:    2,
		PriceCacheTTL: 3 * time.Second,
	}
}

// Client talks to the Jupiter aggregator: quotes, swap-transaction assembly
// and spot prices. Prices are cached briefly to keep the exit-rule loop from
// hammering the API.
type Client struct {
	http    *resty.Client
	cfg     *ClientConfig
	limiter *ratelimit.Manager
	prices  *cache.TTLCache[string, decimal.Decimal]
}

// NewClient creates a Client.
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	if cfg.QuoteAPI == "" {
		cfg.QuoteAPI = DefaultQuoteAPI
	}
	if cfg.PriceAPI == "" {
		cfg.PriceAPI = DefaultPriceAPI
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PriceCacheTTL == 0 {
		cfg.PriceCacheTTL = 3 * time.Second
	}

	http := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)

	return &Client{
		http:    http,
		cfg:     cfg,
		limiter: cfg.Limiter,
		prices:  cache.New[string, decimal.Decimal](cfg.PriceCacheTTL),
	}
}

func (c *Client) wait(ctx context.Context, group string) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx, group)
}

// GetQuote fetches a swap quote for amount (raw units of inputMint).
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error) {
	if err := c.wait(ctx, "jupiter:quote"); err != nil {
		return nil, err
	}

	var quote Quote
	var apiErr apiError
	r, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"inputMint":   inputMint,
			"outputMint":  outputMint,
			"amount":      strconv.FormatUint(amount, 10),
			"slippageBps": strconv.Itoa(slippageBps),
		}).
		SetResult(&quote).
		SetError(&apiErr).
		Get(c.cfg.QuoteAPI + "/quote")
	if err != nil {
		return nil, errors.Wrap(err, "jupiter: quote request")
	}
	if r.IsError() {
		return nil, errors.Errorf("jupiter: quote http %d: %s%s", r.StatusCode(), apiErr.Error, apiErr.Message)
	}
	if quote.OutAmount == "" {
		return nil, errors.Errorf("jupiter: no route for %s -> %s", inputMint, outputMint)
	}
	return &quote, nil
}

// BuildSwap turns a quote into an unsigned base64 transaction for userPubkey.
// Priority fees are left to the aggregator ("auto").
func (c *Client) BuildSwap(ctx context.Context, quote *Quote, userPubkey string) (*SwapResponse, error) {
	if err := c.wait(ctx, "jupiter:swap"); err != nil {
		return nil, err
	}

	var swap SwapResponse
	var apiErr apiError
	r, err := c.http.R().
		SetContext(ctx).
		SetBody(swapRequest{
			QuoteResponse:             quote,
			UserPublicKey:             userPubkey,
			WrapAndUnwrapSol:          true,
			DynamicComputeUnitLimit:   true,
			PrioritizationFeeLamports: "auto",
		}).
		SetResult(&swap).
		SetError(&apiErr).
		Post(c.cfg.QuoteAPI + "/swap")
	if err != nil {
		return nil, errors.Wrap(err, "jupiter: swap request")
	}
	if r.IsError() {
		return nil, errors.Errorf("jupiter: swap http %d: %s%s", r.StatusCode(), apiErr.Error, apiErr.Message)
	}
	if swap.SwapTransaction == "" {
		return nil, errors.New("jupiter: swap response missing transaction")
	}
	return &swap, nil
}

// GetPrice returns the USD price of mint from the price API, cached for
// PriceCacheTTL.
func (c *Client) GetPrice(ctx context.Context, mint string) (decimal.Decimal, error) {
	if p, ok := c.prices.Get(mint); ok {
		return p, nil
	}
	if err := c.wait(ctx, "jupiter:quote"); err != nil {
		return decimal.Zero, err
	}

	var resp priceResponse
	r, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("ids", mint).
		SetResult(&resp).
		Get(c.cfg.PriceAPI)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "jupiter: price request")
	}
	if r.IsError() {
		return decimal.Zero, errors.Errorf("jupiter: price http %d", r.StatusCode())
	}
	entry, ok := resp.Data[mint]
	if !ok || entry.Price == "" {
		return decimal.Zero, errors.Errorf("jupiter: no price for %s", mint)
	}
	p, err := decimal.NewFromString(entry.Price)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "jupiter: parse price %q", entry.Price)
	}
	c.prices.Set(mint, p, 0)
	return p, nil
}

// GetPriceInSOL quotes how much SOL one raw unit amount of mint is worth by
// asking for a mint -> WSOL route. Used for tokens the price API does not
// index yet (fresh pump.fun launches).
func (c *Client) GetPriceInSOL(ctx context.Context, mint string, amount uint64) (decimal.Decimal, error) {
	quote, err := c.GetQuote(ctx, mint, WSOLMint, amount, 100)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := decimal.NewFromString(quote.OutAmount)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "jupiter: parse out amount %q", quote.OutAmount)
	}
	return out.Div(decimal.NewFromInt(1_000_000_000)), nil
}
