package rpc

import (
	"encoding/json"
	"fmt"
)

// Commitment levels accepted by the Solana JSON-RPC API.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// LamportsPerSOL is the lamport denomination of one SOL.
const LamportsPerSOL = 1_000_000_000

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is the JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// contextValue wraps responses of the form {"context": {...}, "value": ...}.
type contextValue struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value json.RawMessage `json:"value"`
}

// SignatureInfo is one entry of getSignaturesForAddress.
type SignatureInfo struct {
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	Err       interface{} `json:"err"`
	Memo      string      `json:"memo"`
	BlockTime *int64      `json:"blockTime"`
}

// Failed reports whether the transaction behind this signature errored.
func (s SignatureInfo) Failed() bool {
	return s.Err != nil
}

// Blockhash is the value of getLatestBlockhash.
type Blockhash struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// TokenAmount mirrors the RPC uiTokenAmount object.
type TokenAmount struct {
	Amount         string   `json:"amount"`
	Decimals       int      `json:"decimals"`
	UIAmount       *float64 `json:"uiAmount"`
	UIAmountString string   `json:"uiAmountString"`
}

// TokenBalance is one pre/post token balance entry of transaction meta.
type TokenBalance struct {
	AccountIndex int         `json:"accountIndex"`
	Mint         string      `json:"mint"`
	Owner        string      `json:"owner"`
	ProgramID    string      `json:"programId"`
	UITokenAmount TokenAmount `json:"uiTokenAmount"`
}

// ParsedInstruction is an instruction in jsonParsed encoding. Instructions of
// programs the node cannot decode carry base58 Data instead of Parsed.
type ParsedInstruction struct {
	ProgramID string          `json:"programId"`
	Program   string          `json:"program,omitempty"`
	Parsed    json.RawMessage `json:"parsed,omitempty"`
	Data      string          `json:"data,omitempty"`
	Accounts  []string        `json:"accounts,omitempty"`
}

// AccountKey is one message account in jsonParsed encoding.
type AccountKey struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

// TransactionMessage is the parsed message of a confirmed transaction.
type TransactionMessage struct {
	AccountKeys     []AccountKey        `json:"accountKeys"`
	Instructions    []ParsedInstruction `json:"instructions"`
	RecentBlockhash string              `json:"recentBlockhash"`
}

// InnerInstruction groups CPI instructions by their outer index.
type InnerInstruction struct {
	Index        int                 `json:"index"`
	Instructions []ParsedInstruction `json:"instructions"`
}

// TransactionMeta is the execution metadata of a confirmed transaction.
type TransactionMeta struct {
	Err               interface{}        `json:"err"`
	Fee               uint64             `json:"fee"`
	PreBalances       []uint64           `json:"preBalances"`
	PostBalances      []uint64           `json:"postBalances"`
	PreTokenBalances  []TokenBalance     `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance     `json:"postTokenBalances"`
	LogMessages       []string           `json:"logMessages"`
	InnerInstructions []InnerInstruction `json:"innerInstructions"`
}

// ConfirmedTransaction is the value of getTransaction (jsonParsed).
type ConfirmedTransaction struct {
	Slot        uint64           `json:"slot"`
	BlockTime   *int64           `json:"blockTime"`
	Meta        *TransactionMeta `json:"meta"`
	Transaction struct {
		Message    TransactionMessage `json:"message"`
		Signatures []string           `json:"signatures"`
	} `json:"transaction"`
}

// Failed reports whether the transaction errored on chain.
func (t *ConfirmedTransaction) Failed() bool {
	return t.Meta != nil && t.Meta.Err != nil
}

// AccountIndex returns the message index of pubkey, or -1.
func (t *ConfirmedTransaction) AccountIndex(pubkey string) int {
	for i, k := range t.Transaction.Message.AccountKeys {
		if k.Pubkey == pubkey {
			return i
		}
	}
	return -1
}

// LamportDelta returns postBalance-preBalance for pubkey (negative = spent).
func (t *ConfirmedTransaction) LamportDelta(pubkey string) (int64, bool) {
	if t.Meta == nil {
		return 0, false
	}
	idx := t.AccountIndex(pubkey)
	if idx < 0 || idx >= len(t.Meta.PreBalances) || idx >= len(t.Meta.PostBalances) {
		return 0, false
	}
	return int64(t.Meta.PostBalances[idx]) - int64(t.Meta.PreBalances[idx]), true
}
