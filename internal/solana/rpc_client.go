package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements RPCClient using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts. Zero disables retries.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new Solana RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// call performs a JSON-RPC call with retries and exponential backoff.
// Every failure it returns matches ErrTransport.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if err := c.do(ctx, method, params, result); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransport, method, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			if ctx.Err() != nil {
				return lastErr
			}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = errors.New("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		// RPC errors are not retried
		if rpcResp.Error != nil {
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	if c.maxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetTransaction fetches a transaction in jsonParsed encoding without a
// commitment override, leaving the node's default in effect.
func (c *HTTPClient) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"maxSupportedTransactionVersion": 0,
		},
	}

	var raw json.RawMessage
	if err := c.call(ctx, "getTransaction", params, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, signature)
	}

	var result getTransactionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: decode transaction %s: %w", ErrTransport, signature, err)
	}

	tx, err := result.toTransaction(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: decode transaction %s: %w", ErrTransport, signature, err)
	}
	return tx, nil
}

// GetSlot retrieves the current slot.
func (c *HTTPClient) GetSlot(ctx context.Context) (uint64, error) {
	var result uint64
	if err := c.call(ctx, "getSlot", nil, &result); err != nil {
		return 0, err
	}
	return result, nil
}

// getTransactionResult is the raw RPC response for getTransaction.
type getTransactionResult struct {
	Slot        uint64              `json:"slot"`
	BlockTime   *int64              `json:"blockTime"`
	Meta        *getTransactionMeta `json:"meta"`
	Transaction *getTransactionTx   `json:"transaction"`
}

type getTransactionMeta struct {
	Err         interface{} `json:"err"`
	LogMessages []string    `json:"logMessages"`
}

type getTransactionTx struct {
	Signatures []string               `json:"signatures"`
	Message    *getTransactionMessage `json:"message"`
}

type getTransactionMessage struct {
	AccountKeys  []accountKey     `json:"accountKeys"`
	Instructions []rawInstruction `json:"instructions"`
}

// accountKey accepts both encodings: a bare base58 string ("json") and an
// object with a pubkey field ("jsonParsed").
type accountKey string

func (k *accountKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*k = accountKey(s)
		return nil
	}
	var obj struct {
		Pubkey string `json:"pubkey"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("account key: %w", err)
	}
	*k = accountKey(obj.Pubkey)
	return nil
}

// rawInstruction covers parsed-shape instructions (programId and account
// addresses) and compiled-shape ones (indexes into accountKeys).
type rawInstruction struct {
	ProgramID      string          `json:"programId"`
	ProgramIDIndex *int            `json:"programIdIndex"`
	Accounts       json.RawMessage `json:"accounts"`
	Data           string          `json:"data"`
	Parsed         json.RawMessage `json:"parsed"`
}

func (r *getTransactionResult) toTransaction(signature string) (*Transaction, error) {
	tx := &Transaction{
		Slot:      r.Slot,
		Signature: signature,
	}
	if r.BlockTime != nil {
		tx.BlockTime = *r.BlockTime
	}
	if r.Meta != nil {
		tx.Meta = &TransactionMeta{
			Err:         r.Meta.Err,
			LogMessages: r.Meta.LogMessages,
		}
	}
	if r.Transaction == nil || r.Transaction.Message == nil {
		return tx, nil
	}

	msg := r.Transaction.Message
	keys := make([]solanago.PublicKey, len(msg.AccountKeys))
	for i, k := range msg.AccountKeys {
		pk, err := solanago.PublicKeyFromBase58(string(k))
		if err != nil {
			return nil, fmt.Errorf("account key %d: %w", i, err)
		}
		keys[i] = pk
	}

	instructions := make([]Instruction, 0, len(msg.Instructions))
	for i := range msg.Instructions {
		ix, err := msg.Instructions[i].decode(keys)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		instructions = append(instructions, ix)
	}

	tx.Message = &TransactionMessage{
		AccountKeys:  keys,
		Instructions: instructions,
	}
	return tx, nil
}

func (r *rawInstruction) decode(keys []solanago.PublicKey) (Instruction, error) {
	var ix Instruction

	switch {
	case r.ProgramID != "":
		pk, err := solanago.PublicKeyFromBase58(r.ProgramID)
		if err != nil {
			return ix, fmt.Errorf("program id: %w", err)
		}
		ix.ProgramID = pk
	case r.ProgramIDIndex != nil:
		pk, err := keyAt(keys, *r.ProgramIDIndex)
		if err != nil {
			return ix, fmt.Errorf("program id: %w", err)
		}
		ix.ProgramID = pk
	default:
		return ix, errors.New("missing program id")
	}

	// Instructions of programs the node knows how to parse come back as a
	// "parsed" object without an account list.
	if len(r.Parsed) > 0 && len(r.Accounts) == 0 {
		return ix, nil
	}

	accounts, err := decodeAccounts(r.Accounts, keys)
	if err != nil {
		return ix, err
	}
	ix.Accounts = accounts

	if r.Data != "" {
		data, err := base58.Decode(r.Data)
		if err != nil {
			return ix, fmt.Errorf("data: %w", err)
		}
		ix.Data = data
	}
	return ix, nil
}

func decodeAccounts(raw json.RawMessage, keys []solanago.PublicKey) ([]solanago.PublicKey, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var addrs []string
	if err := json.Unmarshal(raw, &addrs); err == nil {
		out := make([]solanago.PublicKey, len(addrs))
		for i, a := range addrs {
			pk, err := solanago.PublicKeyFromBase58(a)
			if err != nil {
				return nil, fmt.Errorf("account %d: %w", i, err)
			}
			out[i] = pk
		}
		return out, nil
	}

	var idx []int
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("accounts: %w", err)
	}
	out := make([]solanago.PublicKey, len(idx))
	for i, n := range idx {
		pk, err := keyAt(keys, n)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		out[i] = pk
	}
	return out, nil
}

func keyAt(keys []solanago.PublicKey, i int) (solanago.PublicKey, error) {
	if i < 0 || i >= len(keys) {
		return solanago.PublicKey{}, fmt.Errorf("index %d out of range (%d keys)", i, len(keys))
	}
	return keys[i], nil
}
