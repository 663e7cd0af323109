package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func jsonRPCServer(t *testing.T, handler func(method string, params []any) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		result := handler(req.Method, req.Params)
		resultJSON, err := json.Marshal(result)
		if err != nil {
			t.Fatalf("marshal result: %v", err)
		}
		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: resultJSON}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestRPCClient_BlockNumber(t *testing.T) {
	srv := jsonRPCServer(t, func(method string, params []any) any {
		if method != "eth_blockNumber" {
			t.Fatalf("unexpected method %s", method)
		}
		return "0x10"
	})
	defer srv.Close()

	c := NewRPCClient(srv.URL)
	n, err := c.BlockNumber(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 16 {
		t.Fatalf("BlockNumber() = %d, want 16", n)
	}
}

func TestRPCClient_GetBlockByNumber(t *testing.T) {
	srv := jsonRPCServer(t, func(method string, params []any) any {
		return map[string]string{"number": "0x64", "timestamp": "0x5f5e100"}
	})
	defer srv.Close()

	c := NewRPCClient(srv.URL)
	header, err := c.GetBlockByNumber(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if header.Number != 100 {
		t.Fatalf("Number = %d, want 100", header.Number)
	}
}

func TestRPCClient_GetLogs(t *testing.T) {
	srv := jsonRPCServer(t, func(method string, params []any) any {
		return []map[string]any{
			{
				"address":         "0xABC0000000000000000000000000000000000D",
				"topics":          []string{"0x01"},
				"data":            "0x",
				"blockNumber":     "0x1",
				"transactionHash": "0xdead",
				"logIndex":        "0x0",
			},
		}
	})
	defer srv.Close()

	c := NewRPCClient(srv.URL)
	logs, err := c.GetLogs(context.Background(), LogFilter{FromBlock: 1, ToBlock: 1, Addresses: []string{"0xabc"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if logs[0].Address != "0xabc0000000000000000000000000000000000d" {
		t.Fatalf("expected lowercased address, got %s", logs[0].Address)
	}
}

func TestRPCClient_RPCErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := rpcResponse{JSONRPC: "2.0", ID: 1, Error: &rpcError{Code: -32000, Message: "boom"}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL)
	if _, err := c.BlockNumber(context.Background()); err == nil {
		t.Fatal("expected error from rpc error response")
	}
}
