package solana

import (
	"context"

	solanago "github.com/gagliardetto/solana-go"
)

// TransactionResolver fetches the full record behind a log notification.
type TransactionResolver interface {
	// GetTransaction returns ErrNotFound when the node has not indexed the
	// signature yet and ErrTransport for everything else that goes wrong.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)
}

// RPCClient defines Solana RPC HTTP interface.
type RPCClient interface {
	TransactionResolver

	// GetSlot returns the node's current slot.
	GetSlot(ctx context.Context) (uint64, error)
}

// Transaction represents a Solana transaction.
type Transaction struct {
	Slot      uint64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// Failed reports whether the transaction executed with an error.
func (tx *Transaction) Failed() bool {
	return tx.Meta != nil && tx.Meta.Err != nil
}

// Instructions returns the top-level instructions in transaction order.
func (tx *Transaction) Instructions() []Instruction {
	if tx.Message == nil {
		return nil
	}
	return tx.Message.Instructions
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err         interface{}
	LogMessages []string
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys  []solanago.PublicKey
	Instructions []Instruction
}

// Instruction is one program invocation with its ordered account list.
// Instructions the node rendered in parsed form carry no accounts or data.
type Instruction struct {
	ProgramID solanago.PublicKey
	Accounts  []solanago.PublicKey
	Data      []byte
}
