// Package memory provides an in-process client.Storage. Entries live only as
// long as the process does, which suits tests and short-lived CLIs.
package memory

import (
	"sort"
	"sync"
)

// Store is a map-backed client.Storage safe for concurrent use
type Store struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// New creates an empty store
func New() *Store {
	return &Store{entries: make(map[string][]byte)}
}

// GetEntry returns a copy of the entry, or nil when absent
func (s *Store) GetEntry(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) SetEntry(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append([]byte(nil), data...)
	return nil
}

func (s *Store) DeleteEntry(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// ListKeys returns the stored keys in sorted order
func (s *Store) ListKeys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
