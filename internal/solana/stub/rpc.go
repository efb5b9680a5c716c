package stub

import (
	"context"
	"fmt"
	"sync"

	"solana-pool-watch/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
// Unknown signatures resolve to solana.ErrNotFound.
type RPCClient struct {
	mu           sync.Mutex
	Transactions map[string]*solana.Transaction
	Errors       map[string]error
	Slot         uint64

	calls map[string]int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions: make(map[string]*solana.Transaction),
		Errors:       make(map[string]error),
		calls:        make(map[string]int),
	}
}

// GetTransaction retrieves a transaction by signature from the stub store.
func (c *RPCClient) GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls[signature]++
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", solana.ErrTransport, err)
	}
	if err, ok := c.Errors[signature]; ok {
		return nil, err
	}
	tx, ok := c.Transactions[signature]
	if !ok {
		return nil, fmt.Errorf("%w: %s", solana.ErrNotFound, signature)
	}
	return tx, nil
}

// GetSlot returns the configured slot.
func (c *RPCClient) GetSlot(_ context.Context) (uint64, error) {
	return c.Slot, nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// FailWith makes every lookup of signature return err.
func (c *RPCClient) FailWith(signature string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Errors[signature] = err
}

// Calls returns how many times signature was requested.
func (c *RPCClient) Calls(signature string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[signature]
}
