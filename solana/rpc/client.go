package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/copybot/gosol/pkg/logger"
	"github.com/copybot/gosol/pkg/ratelimit"
)

var log = logger.M("rpc")

// ClientConfig configures the JSON-RPC client.
type ClientConfig struct {
	Endpoints  []string
	Commitment string
	Timeout    time.Duration
	RetryCount int
	Limiter    *ratelimit.Manager // optional
}

// DefaultClientConfig returns a configuration for public mainnet RPC.
func DefaultClientConfig(endpoints []string) *ClientConfig {
	return &ClientConfig{
		Endpoints:  endpoints,
		Commitment: CommitmentConfirmed,
		Timeout:    30 * time.Second,
		RetryCount: 2,
	}
}

// Client talks JSON-RPC 2.0 to a list of Solana nodes with automatic
// failover: a failed call advances to the next endpoint and retries once per
// endpoint before giving up.
type Client struct {
	http       *resty.Client
	endpoints  []string
	active     int
	mu         sync.Mutex
	commitment string
	limiter    *ratelimit.Manager
	reqID      atomic.Int64
}

// NewClient creates a Client. cfg.Endpoints must not be empty.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil || len(cfg.Endpoints) == 0 {
		return nil, errors.New("rpc: at least one endpoint is required")
	}
	commitment := cfg.Commitment
	if commitment == "" {
		commitment = CommitmentConfirmed
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	http := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp.StatusCode() == 429 {
				if ra := resp.Header().Get("Retry-After"); ra != "" {
					if d, err := time.ParseDuration(ra + "s"); err == nil {
						return d, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		})

	return &Client{
		http:       http,
		endpoints:  cfg.Endpoints,
		commitment: commitment,
		limiter:    cfg.Limiter,
	}, nil
}

// Commitment returns the configured commitment level.
func (c *Client) Commitment() string {
	return c.commitment
}

// ActiveEndpoint returns the endpoint the client currently prefers.
func (c *Client) ActiveEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoints[c.active]
}

func (c *Client) advanceEndpoint() {
	c.mu.Lock()
	c.active = (c.active + 1) % len(c.endpoints)
	log.Warnf("failing over to rpc endpoint %s", c.endpoints[c.active])
	c.mu.Unlock()
}

// call performs one JSON-RPC call with endpoint failover.
func (c *Client) call(ctx context.Context, group, method string, params []interface{}, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, group); err != nil {
			return err
		}
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	}

	var lastErr error
	for attempt := 0; attempt < len(c.endpoints); attempt++ {
		endpoint := c.ActiveEndpoint()

		var resp rpcResponse
		r, err := c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(req).
			SetResult(&resp).
			Post(endpoint)
		if err != nil {
			lastErr = errors.Wrapf(err, "rpc %s via %s", method, endpoint)
			c.advanceEndpoint()
			continue
		}
		if r.StatusCode() != 200 {
			lastErr = errors.Errorf("rpc %s via %s: http %d", method, endpoint, r.StatusCode())
			c.advanceEndpoint()
			continue
		}
		if resp.Error != nil {
			// Node-level errors are authoritative; do not fail over.
			return errors.Wrapf(resp.Error, "rpc %s", method)
		}
		if out != nil {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return errors.Wrapf(err, "rpc %s: decode result", method)
			}
		}
		return nil
	}
	return lastErr
}

// HealthCheck probes the active endpoint with getSlot.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.GetSlot(ctx)
	return err
}

// GetSlot returns the current slot at the configured commitment.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := c.call(ctx, "rpc:read", "getSlot", []interface{}{
		map[string]string{"commitment": c.commitment},
	}, &slot)
	return slot, err
}

// GetBalance returns the lamport balance of pubkey.
func (c *Client) GetBalance(ctx context.Context, pubkey string) (uint64, error) {
	var cv contextValue
	err := c.call(ctx, "rpc:read", "getBalance", []interface{}{
		pubkey,
		map[string]string{"commitment": c.commitment},
	}, &cv)
	if err != nil {
		return 0, err
	}
	var lamports uint64
	if err := json.Unmarshal(cv.Value, &lamports); err != nil {
		return 0, errors.Wrap(err, "getBalance: decode value")
	}
	return lamports, nil
}

// GetLatestBlockhash returns a recent blockhash for transaction assembly.
func (c *Client) GetLatestBlockhash(ctx context.Context) (*Blockhash, error) {
	var cv contextValue
	err := c.call(ctx, "rpc:read", "getLatestBlockhash", []interface{}{
		map[string]string{"commitment": c.commitment},
	}, &cv)
	if err != nil {
		return nil, err
	}
	var bh Blockhash
	if err := json.Unmarshal(cv.Value, &bh); err != nil {
		return nil, errors.Wrap(err, "getLatestBlockhash: decode value")
	}
	return &bh, nil
}

// GetSignaturesForAddress returns up to limit recent signatures for address,
// newest first.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	if limit <= 0 {
		limit = 10
	}
	var sigs []SignatureInfo
	err := c.call(ctx, "rpc:read", "getSignaturesForAddress", []interface{}{
		address,
		map[string]interface{}{"limit": limit, "commitment": c.commitment},
	}, &sigs)
	return sigs, err
}

// GetTransaction fetches a confirmed transaction in jsonParsed encoding.
// Returns (nil, nil) when the node has no record of the signature.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*ConfirmedTransaction, error) {
	var raw json.RawMessage
	err := c.call(ctx, "rpc:read", "getTransaction", []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     c.commitment,
			"maxSupportedTransactionVersion": 0,
		},
	}, &raw)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var tx ConfirmedTransaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, errors.Wrap(err, "getTransaction: decode")
	}
	return &tx, nil
}

// SendTransaction submits a base64-serialized signed transaction and returns
// its signature.
func (c *Client) SendTransaction(ctx context.Context, txBase64 string, skipPreflight bool) (string, error) {
	var sig string
	err := c.call(ctx, "rpc:send", "sendTransaction", []interface{}{
		txBase64,
		map[string]interface{}{
			"encoding":            "base64",
			"skipPreflight":       skipPreflight,
			"preflightCommitment": c.commitment,
			"maxRetries":          3,
		},
	}, &sig)
	return sig, err
}

// GetTokenAccountsByOwner returns the owner's token accounts for mint, with
// parsed balances.
func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner, mint string) ([]TokenAccount, error) {
	var cv contextValue
	err := c.call(ctx, "rpc:read", "getTokenAccountsByOwner", []interface{}{
		owner,
		map[string]string{"mint": mint},
		map[string]interface{}{"encoding": "jsonParsed", "commitment": c.commitment},
	}, &cv)
	if err != nil {
		return nil, err
	}
	var accounts []TokenAccount
	if err := json.Unmarshal(cv.Value, &accounts); err != nil {
		return nil, errors.Wrap(err, "getTokenAccountsByOwner: decode value")
	}
	return accounts, nil
}

// TokenAccount is one entry of getTokenAccountsByOwner (jsonParsed).
type TokenAccount struct {
	Pubkey  string `json:"pubkey"`
	Account struct {
		Data struct {
			Parsed struct {
				Info struct {
					Mint        string      `json:"mint"`
					Owner       string      `json:"owner"`
					TokenAmount TokenAmount `json:"tokenAmount"`
				} `json:"info"`
			} `json:"parsed"`
		} `json:"data"`
	} `json:"account"`
}

// Balance returns the raw token amount of the account.
func (a TokenAccount) Balance() string {
	return a.Account.Data.Parsed.Info.TokenAmount.Amount
}
