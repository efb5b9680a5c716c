package storage

import (
	"context"

	"solana-pool-watch/internal/domain"
)

// PoolEventStore provides access to pool_events storage.
type PoolEventStore interface {
	// Insert stores events. Events whose event_id already exists are skipped,
	// so re-inserting a redelivered transaction is a no-op.
	// Returns ErrInvalidInput if an event has no event_id.
	Insert(ctx context.Context, events []domain.PoolEvent) error

	// GetBySignature retrieves the events of one transaction, ordered by pair_index.
	GetBySignature(ctx context.Context, signature string) ([]domain.PoolEvent, error)

	// GetBySlotRange retrieves events within [from, to] (inclusive),
	// ordered by slot, signature and pair_index.
	GetBySlotRange(ctx context.Context, from, to uint64) ([]domain.PoolEvent, error)
}
