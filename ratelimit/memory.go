package ratelimit

import (
	"context"
	"sync"
)

// DefaultMaxKeys caps the number of tracked keys of a MemoryStore
const DefaultMaxKeys = 4096

type memoryEntry struct {
	window Window
	count  int64
}

// MemoryStore is an in-process Store bounded to a maximum number of keys.
// Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	maxKeys int
}

// NewMemoryStore creates a MemoryStore. maxKeys <= 0 uses DefaultMaxKeys.
func NewMemoryStore(maxKeys int) *MemoryStore {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		maxKeys: maxKeys,
	}
}

// Increment implements Store
func (s *MemoryStore) Increment(_ context.Context, w Window) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[w.Key]
	if ok && e.window.Start.Equal(w.Start) {
		e.count++
		return e.count, nil
	}

	if !ok && len(s.entries) >= s.maxKeys {
		s.evict(w)
	}

	s.entries[w.Key] = &memoryEntry{window: w, count: 1}
	return 1, nil
}

// Len returns the number of tracked keys
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evict drops windows closed before w starts, then arbitrary keys while still at the cap
func (s *MemoryStore) evict(w Window) {
	for k, e := range s.entries {
		if !e.window.End().After(w.Start) {
			delete(s.entries, k)
		}
	}

	for len(s.entries) >= s.maxKeys {
		for k := range s.entries {
			delete(s.entries, k)
			break
		}
	}
}
