package statedb

import "sync"

// MemStore is an in-memory Store used by tests and by sessions that opt out
// of durable state. FailNextSet and FailNextDelete inject write failures so
// callers' quota/rollback paths can be exercised.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string][]byte

	FailNextSet    error
	FailNextDelete error
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string][]byte)}
}

// Get returns the value stored under key.
func (s *MemStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

// Set stores value under key, or returns the injected failure.
func (s *MemStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNextSet != nil {
		err := s.FailNextSet
		s.FailNextSet = nil
		return err
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.entries[key] = cp
	return nil
}

// Delete removes key, or returns the injected failure.
func (s *MemStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNextDelete != nil {
		err := s.FailNextDelete
		s.FailNextDelete = nil
		return err
	}
	delete(s.entries, key)
	return nil
}

// Close is a no-op.
func (s *MemStore) Close() error {
	return nil
}

// Len returns the number of stored entries.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
