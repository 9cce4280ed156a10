package cache

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrCacheMiss indicates no validator is stored for the key
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a stored entry could not be decoded
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store holds validators keyed by request identity (see Key).
type Store interface {
	// Get returns ErrCacheMiss when nothing is stored for key.
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry) error
	// Delete is a no-op when nothing is stored for key.
	Delete(ctx context.Context, key string) error
}

// MemoryStore is the session-scoped default Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		ValidatorMisses.Inc()
		return nil, ErrCacheMiss
	}
	ValidatorHits.WithLabelValues("memory").Inc()
	return entry, nil
}

// Set implements Store. An existing entry for key is overwritten.
func (s *MemoryStore) Set(_ context.Context, key string, entry *Entry) error {
	if entry == nil {
		return errors.New("cache entry cannot be nil")
	}

	s.mu.Lock()
	_, existed := s.entries[key]
	s.entries[key] = entry
	s.mu.Unlock()

	if !existed {
		ValidatorEntries.WithLabelValues("memory").Inc()
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	_, existed := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if existed {
		ValidatorEntries.WithLabelValues("memory").Dec()
	}
	return nil
}

// Len returns the number of stored validators.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
