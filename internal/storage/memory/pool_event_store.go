package memory

import (
	"context"
	"sort"
	"sync"

	"solana-pool-watch/internal/domain"
	"solana-pool-watch/internal/storage"
)

// PoolEventStore is an in-memory implementation of storage.PoolEventStore.
type PoolEventStore struct {
	mu   sync.RWMutex
	data map[string]domain.PoolEvent // keyed by event_id
}

// NewPoolEventStore creates a new in-memory pool event store.
func NewPoolEventStore() *PoolEventStore {
	return &PoolEventStore{
		data: make(map[string]domain.PoolEvent),
	}
}

// Compile-time interface check.
var _ storage.PoolEventStore = (*PoolEventStore)(nil)

// Insert stores events, skipping event ids already present.
func (s *PoolEventStore) Insert(_ context.Context, events []domain.PoolEvent) error {
	if err := storage.ValidateEvents(events); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if _, exists := s.data[e.EventID]; exists {
			continue
		}
		s.data[e.EventID] = e
	}
	return nil
}

// GetBySignature retrieves the events of one transaction, ordered by pair_index.
func (s *PoolEventStore) GetBySignature(_ context.Context, signature string) ([]domain.PoolEvent, error) {
	return s.filter(func(e domain.PoolEvent) bool { return e.Signature == signature }), nil
}

// GetBySlotRange retrieves events within [from, to] (inclusive).
func (s *PoolEventStore) GetBySlotRange(_ context.Context, from, to uint64) ([]domain.PoolEvent, error) {
	return s.filter(func(e domain.PoolEvent) bool { return e.Slot >= from && e.Slot <= to }), nil
}

// Len returns the number of stored events.
func (s *PoolEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *PoolEventStore) filter(keep func(domain.PoolEvent) bool) []domain.PoolEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.PoolEvent
	for _, e := range s.data {
		if keep(e) {
			result = append(result, e)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Slot != result[j].Slot {
			return result[i].Slot < result[j].Slot
		}
		if result[i].Signature != result[j].Signature {
			return result[i].Signature < result[j].Signature
		}
		return result[i].PairIndex < result[j].PairIndex
	})
	return result
}
