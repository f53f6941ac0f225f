package store

import (
	"context"
	"sync"
)

// InMemoryKV is a process-local KV, used for guests, tests and DATABASE_URL=memory.
type InMemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewInMemoryKV creates an empty in-memory KV.
func NewInMemoryKV() *InMemoryKV {
	return &InMemoryKV{values: make(map[string]string)}
}

func (s *InMemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *InMemoryKV) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *InMemoryKV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryKV) Close() error {
	return nil
}
