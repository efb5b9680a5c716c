package solana

import (
	"errors"
	"fmt"
)

var (
	// ErrSubscription is returned when a subscription could not be established.
	ErrSubscription = errors.New("subscription failed")

	// ErrNotFound is returned when the node has no record of a transaction.
	ErrNotFound = errors.New("transaction not found")

	// ErrTransport covers network, HTTP and decoding failures.
	ErrTransport = errors.New("rpc transport error")

	// ErrClientClosed is returned by calls made after Close.
	ErrClientClosed = errors.New("client closed")
)

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}
