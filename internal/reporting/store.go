package reporting

import (
	"context"

	"solana-pool-watch/internal/domain"
	"solana-pool-watch/internal/storage"
)

// StoreReporter persists events to a PoolEventStore.
type StoreReporter struct {
	name  string
	store storage.PoolEventStore
	close func() error
}

// NewStoreReporter wraps store. closeFn releases the store's connection and may be nil.
func NewStoreReporter(name string, store storage.PoolEventStore, closeFn func() error) *StoreReporter {
	return &StoreReporter{name: name, store: store, close: closeFn}
}

func (r *StoreReporter) Name() string { return r.name }

// Report implements Reporter.
func (r *StoreReporter) Report(ctx context.Context, events []domain.PoolEvent) error {
	return r.store.Insert(ctx, events)
}

// Close releases the underlying connection.
func (r *StoreReporter) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}
