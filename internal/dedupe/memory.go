package dedupe

import (
	"context"
	"sync"
)

// Memory is a process-local Deduplicator.
//
// With capacity 0 ids are kept for the lifetime of the process. A positive
// capacity bounds memory by forgetting the oldest id once the set is full,
// after which a very late redelivery of that id would be processed again.
type Memory struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	capacity int
	// ring holds ids in insertion order when capacity > 0
	ring []string
	next int
}

// NewMemory creates an in-memory deduplicator.
func NewMemory(capacity int) *Memory {
	if capacity < 0 {
		capacity = 0
	}
	m := &Memory{
		seen:     make(map[string]struct{}, 1024),
		capacity: capacity,
	}
	if capacity > 0 {
		m.ring = make([]string, 0, capacity)
	}
	return m
}

// Observe implements Deduplicator.
func (m *Memory) Observe(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[id]; ok {
		return false, nil
	}

	if m.capacity > 0 {
		if len(m.ring) < m.capacity {
			m.ring = append(m.ring, id)
		} else {
			delete(m.seen, m.ring[m.next])
			m.ring[m.next] = id
			m.next = (m.next + 1) % m.capacity
		}
	}
	m.seen[id] = struct{}{}
	return true, nil
}

// Len returns the number of ids currently remembered.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
