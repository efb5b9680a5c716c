package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

func testKey(b byte) solanago.PublicKey {
	return solanago.PublicKeyFromBytes(bytes.Repeat([]byte{b}, 32))
}

func rpcServer(t *testing.T, result interface{}, check func(req rpcRequest)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if check != nil {
			check(req)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHTTPClient_GetTransaction_JSONParsed(t *testing.T) {
	program := testKey(1)
	payer := testKey(2)
	accounts := make([]string, 12)
	for i := range accounts {
		accounts[i] = testKey(byte(10 + i)).String()
	}
	data := []byte{1, 254, 0, 7}

	result := map[string]interface{}{
		"slot":      int64(123456),
		"blockTime": int64(1700000000),
		"meta": map[string]interface{}{
			"err":         nil,
			"logMessages": []string{"Program log: initialize2"},
		},
		"transaction": map[string]interface{}{
			"signatures": []string{"sig"},
			"message": map[string]interface{}{
				"accountKeys": []map[string]interface{}{
					{"pubkey": payer.String(), "signer": true, "writable": true, "source": "transaction"},
					{"pubkey": program.String(), "signer": false, "writable": false, "source": "transaction"},
				},
				"instructions": []map[string]interface{}{
					{
						"programId": solanago.SystemProgramID.String(),
						"program":   "system",
						"parsed":    map[string]interface{}{"type": "transfer"},
					},
					{
						"programId":   program.String(),
						"accounts":    accounts,
						"data":        base58.Encode(data),
						"stackHeight": nil,
					},
				},
			},
		},
	}

	server := rpcServer(t, result, func(req rpcRequest) {
		if req.Method != "getTransaction" {
			t.Errorf("expected method getTransaction, got %s", req.Method)
		}
		if len(req.Params) != 2 {
			t.Errorf("expected 2 params, got %d", len(req.Params))
			return
		}
		opts, _ := req.Params[1].(map[string]interface{})
		if opts["encoding"] != "jsonParsed" {
			t.Errorf("expected jsonParsed encoding, got %v", opts["encoding"])
		}
		if _, ok := opts["commitment"]; ok {
			t.Error("commitment must not be overridden")
		}
	})

	client := NewHTTPClient(server.URL)
	tx, err := client.GetTransaction(context.Background(), "sig")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}

	if tx.Slot != 123456 {
		t.Errorf("expected slot 123456, got %d", tx.Slot)
	}
	if tx.BlockTime != 1700000000 {
		t.Errorf("expected blockTime 1700000000, got %d", tx.BlockTime)
	}
	if tx.Failed() {
		t.Error("transaction should not be failed")
	}
	if got := tx.Message.AccountKeys; len(got) != 2 || !got[0].Equals(payer) {
		t.Errorf("unexpected account keys: %v", got)
	}

	ixs := tx.Instructions()
	if len(ixs) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(ixs))
	}
	if !ixs[0].ProgramID.Equals(solanago.SystemProgramID) || len(ixs[0].Accounts) != 0 {
		t.Errorf("parsed instruction decoded wrongly: %+v", ixs[0])
	}
	if !ixs[1].ProgramID.Equals(program) {
		t.Errorf("expected program %s, got %s", program, ixs[1].ProgramID)
	}
	if len(ixs[1].Accounts) != 12 {
		t.Fatalf("expected 12 accounts, got %d", len(ixs[1].Accounts))
	}
	if ixs[1].Accounts[8].String() != accounts[8] || ixs[1].Accounts[9].String() != accounts[9] {
		t.Error("account order not preserved")
	}
	if !bytes.Equal(ixs[1].Data, data) {
		t.Errorf("expected data %v, got %v", data, ixs[1].Data)
	}
}

func TestHTTPClient_GetTransaction_CompiledInstructions(t *testing.T) {
	keys := []string{testKey(1).String(), testKey(2).String(), testKey(3).String()}
	result := map[string]interface{}{
		"slot": int64(5),
		"meta": map[string]interface{}{"err": map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}},
		"transaction": map[string]interface{}{
			"message": map[string]interface{}{
				"accountKeys": keys,
				"instructions": []map[string]interface{}{
					{"programIdIndex": 2, "accounts": []int{1, 0}, "data": ""},
				},
			},
		},
	}
	server := rpcServer(t, result, nil)

	tx, err := NewHTTPClient(server.URL).GetTransaction(context.Background(), "sig")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !tx.Failed() {
		t.Error("transaction should be failed")
	}

	ix := tx.Instructions()[0]
	if !ix.ProgramID.Equals(testKey(3)) {
		t.Errorf("expected program %s, got %s", testKey(3), ix.ProgramID)
	}
	if len(ix.Accounts) != 2 || !ix.Accounts[0].Equals(testKey(2)) || !ix.Accounts[1].Equals(testKey(1)) {
		t.Errorf("unexpected accounts: %v", ix.Accounts)
	}
}

func TestHTTPClient_GetTransaction_NotFound(t *testing.T) {
	server := rpcServer(t, nil, nil)

	tx, err := NewHTTPClient(server.URL).GetTransaction(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, ErrTransport) {
		t.Error("not found must not be a transport error")
	}
	if tx != nil {
		t.Errorf("expected nil transaction, got %+v", tx)
	}
}

func TestHTTPClient_GetTransaction_MalformedPayload(t *testing.T) {
	result := map[string]interface{}{
		"slot": int64(1),
		"transaction": map[string]interface{}{
			"message": map[string]interface{}{
				"accountKeys": []string{"not-a-key"},
			},
		},
	}
	server := rpcServer(t, result, nil)

	_, err := NewHTTPClient(server.URL).GetTransaction(context.Background(), "sig")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestHTTPClient_GetTransaction_NoRetryWhenDisabled(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(0))
	_, err := client.GetTransaction(context.Background(), "sig")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts.Load())
	}
}

func TestHTTPClient_GetTransaction_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(0))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.GetTransaction(ctx, "sig")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  int64(999),
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	slot, err := client.GetSlot(context.Background())
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if slot != 999 {
		t.Errorf("expected slot 999, got %d", slot)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    -32600,
				"message": "Invalid Request",
			},
		})
	}))
	defer server.Close()

	_, err := NewHTTPClient(server.URL).GetSlot(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}

	var rpcErr *rpcError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected rpcError, got %T", err)
	}
	if rpcErr.Code != -32600 {
		t.Errorf("expected code -32600, got %d", rpcErr.Code)
	}
	if attempts.Load() != 1 {
		t.Errorf("rpc errors must not be retried, got %d attempts", attempts.Load())
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetSlot(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
