package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func rpcServer(t *testing.T, handler func(method string, params []interface{}) (interface{}, *RPCError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64         `json:"id"`
			Method string        `json:"method"`
			Params []interface{} `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestClient_GetSlot(t *testing.T) {
	srv := rpcServer(t, func(method string, _ []interface{}) (interface{}, *RPCError) {
		if method != "getSlot" {
			t.Fatalf("unexpected method %s", method)
		}
		return uint64(123456789), nil
	})
	defer srv.Close()

	c, err := NewClient(DefaultClientConfig([]string{srv.URL}))
	if err != nil {
		t.Fatal(err)
	}
	slot, err := c.GetSlot(context.Background())
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if slot != 123456789 {
		t.Fatalf("expected slot 123456789, got %d", slot)
	}
}

func TestClient_GetBalance(t *testing.T) {
	srv := rpcServer(t, func(method string, params []interface{}) (interface{}, *RPCError) {
		if method != "getBalance" {
			t.Fatalf("unexpected method %s", method)
		}
		if params[0] != "SomePubkey" {
			t.Fatalf("unexpected pubkey param %v", params[0])
		}
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 1},
			"value":   2500000000,
		}, nil
	})
	defer srv.Close()

	c, _ := NewClient(DefaultClientConfig([]string{srv.URL}))
	lamports, err := c.GetBalance(context.Background(), "SomePubkey")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if lamports != 2500000000 {
		t.Fatalf("expected 2.5 SOL in lamports, got %d", lamports)
	}
}

func TestClient_GetSignaturesForAddress(t *testing.T) {
	srv := rpcServer(t, func(method string, _ []interface{}) (interface{}, *RPCError) {
		return []map[string]interface{}{
			{"signature": "sig1", "slot": 100, "err": nil},
			{"signature": "sig2", "slot": 99, "err": map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}},
		}, nil
	})
	defer srv.Close()

	c, _ := NewClient(DefaultClientConfig([]string{srv.URL}))
	sigs, err := c.GetSignaturesForAddress(context.Background(), "Wallet", 5)
	if err != nil {
		t.Fatalf("GetSignaturesForAddress: %v", err)
	}
	if len(sigs) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(sigs))
	}
	if sigs[0].Failed() {
		t.Fatal("sig1 should not be failed")
	}
	if !sigs[1].Failed() {
		t.Fatal("sig2 should be failed")
	}
}

func TestClient_GetTransaction_NullResult(t *testing.T) {
	srv := rpcServer(t, func(string, []interface{}) (interface{}, *RPCError) {
		return nil, nil
	})
	defer srv.Close()

	c, _ := NewClient(DefaultClientConfig([]string{srv.URL}))
	tx, err := c.GetTransaction(context.Background(), "unknown-sig")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx != nil {
		t.Fatal("expected nil transaction for null result")
	}
}

func TestClient_RPCErrorNotRetried(t *testing.T) {
	calls := 0
	srv := rpcServer(t, func(string, []interface{}) (interface{}, *RPCError) {
		calls++
		return nil, &RPCError{Code: -32602, Message: "invalid params"}
	})
	defer srv.Close()

	// Two copies of the same endpooint would allow a failover if the client
	// wrongly treated node errors as transport errors.
	c, _ := NewClient(DefaultClientConfig([]string{srv.URL, srv.URL}))
	_, err := c.GetSlot(context.Background())
	if err == nil {
		t.Fatal("expected rpc error")
	}
	if calls != 1 {
		t.Fatalf("node error should not fail over, got %d calls", calls)
	}
}

func TestClient_FailoverOnTransportError(t *testing.T) {
	good := rpcServer(t, func(string, []interface{}) (interface{}, *RPCError) {
		return uint64(7), nil
	})
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	cfg := DefaultClientConfig([]string{bad.URL, good.URL})
	cfg.RetryCount = 0
	c, _ := NewClient(cfg)

	slot, err := c.GetSlot(context.Background())
	if err != nil {
		t.Fatalf("expected failover to succeed, got %v", err)
	}
	if slot != 7 {
		t.Fatalf("expected slot 7, got %d", slot)
	}
	if c.ActiveEndpoint() != good.URL {
		t.Fatalf("expected active endpoint to advance to the healthy node")
	}
}

func TestConfirmedTransaction_LamportDelta(t *testing.T) {
	raw := `{
		"slot": 100,
		"meta": {
			"err": null,
			"fee": 5000,
			"preBalances": [1000000000, 50],
			"postBalances": [899995000, 50]
		},
		"transaction": {
			"message": {
				"accountKeys": [
					{"pubkey": "Wallet", "signer": true, "writable": true},
					{"pubkey": "Other", "signer": false, "writable": false}
				],
				"instructions": []
			},
			"signatures": ["sig"]
		}
	}`
	var tx ConfirmedTransaction
	if err := json.Unmarshal([]byte(raw), &tx); err != nil {
		t.Fatal(err)
	}

	delta, ok := tx.LamportDelta("Wallet")
	if !ok {
		t.Fatal("expected delta for known pubkey")
	}
	if delta != -100005000 {
		t.Fatalf("expected -100005000 lamports, got %d", delta)
	}
	if _, ok := tx.LamportDelta("Nope"); ok {
		t.Fatal("expected no delta for unknown pubkey")
	}
}
