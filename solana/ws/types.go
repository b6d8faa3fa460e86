package ws

import "encoding/json"

// wsRequest is a JSON-RPC 2.0 request over the websocket transport.
type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// wsMessage covers both subscription acks (Result) and notifications (Params).
type wsMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// notification is the params envelope of *Notification methods.
type notification struct {
	Subscription uint64          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// AccountNotification is the payload of accountNotification.
type AccountNotification struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value struct {
		Lamports uint64          `json:"lamports"`
		Owner    string          `json:"owner"`
		Data     json.RawMessage `json:"data"`
	} `json:"value"`
}

// LogsNotification is the payload of logsNotification.
type LogsNotification struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value struct {
		Signature string      `json:"signature"`
		Err       interface{} `json:"err"`
		Logs      []string    `json:"logs"`
	} `json:"value"`
}

// Failed reports whether the logged transaction errored on chain.
func (n *LogsNotification) Failed() bool {
	return n.Value.Err != nil
}

// NotificationHandler receives raw notification payloads for a subscription.
type NotificationHandler func(result json.RawMessage)
