package metadata

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Get returns a copy of the stored record.
func (s *MemoryStore) Get(ctx context.Context, projectID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[projectID]; ok {
		return r.Clone(), nil
	}
	return New(projectID), nil
}

// Update applies mutate under the store lock.
func (s *MemoryStore) Update(ctx context.Context, projectID string, expectedVersion int64, mutate func(*Record) error) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := Apply(projectID, s.records[projectID], expectedVersion, mutate)
	if err != nil {
		return nil, err
	}
	s.records[projectID] = next
	return next.Clone(), nil
}

// Close does nothing for the memory store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
