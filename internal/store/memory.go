package store

import (
	"context"
	"sync"

	"github.com/mattjoyce/warmpool/internal/payload"
)

// MemoryStore is a payload.Store backed by a map. Suitable when the worker
// shim reads payloads back through the embedding application rather than an
// external store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]payload.Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]payload.Record)}
}

// Set stores rec under key.
func (s *MemoryStore) Set(_ context.Context, key string, rec payload.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec
	return nil
}

// Remove deletes key. Absent keys are a no-op.
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Get returns the record under key, for hosts serving payloads back to
// workers in-process.
func (s *MemoryStore) Get(key string) (payload.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
