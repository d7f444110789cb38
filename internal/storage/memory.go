package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps values in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, owner, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[owner][key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, owner, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[owner] == nil {
		s.values[owner] = make(map[string]string)
	}
	s.values[owner][key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, owner, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values[owner], key)
	return nil
}
