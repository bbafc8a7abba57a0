package memory

import (
	"context"
	"sync"

	"abtest-engine/internal/keyvalue"
)

// Store is an in-memory implementation of keyvalue.Store.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string][]byte),
	}
}

// Get retrieves the value for key. Returns ErrNotFound if not exists.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, keyvalue.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, exists := s.data[key]
	if !exists {
		return nil, keyvalue.ErrNotFound
	}

	// Return a copy to prevent external mutation
	valueCopy := make([]byte, len(v))
	copy(valueCopy, v)
	return valueCopy, nil
}

// Set writes the value for key, replacing any previous value.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return keyvalue.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	s.data[key] = valueCopy
	return nil
}

// Delete removes the key. Deleting a missing key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	if key == "" {
		return keyvalue.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Verify interface compliance at compile time.
var _ keyvalue.Store = (*Store)(nil)
