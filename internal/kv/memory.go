package kv

import (
	"bytes"
	"context"
	"sync"
)

// MemoryStore keeps values in process memory. Used by tests and the
// "memory" backend.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	hub    *hub
	closed bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
		hub:    newHub(),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	v, ok := s.values[key]
	return cloneBytes(v), ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old, existed := s.values[key]
	s.values[key] = cloneBytes(value)
	s.mu.Unlock()

	if existed && bytes.Equal(old, value) {
		return nil
	}
	s.hub.publish(Change{Key: key, OldValue: old, NewValue: cloneBytes(value)})
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old, existed := s.values[key]
	delete(s.values, key)
	s.mu.Unlock()

	if existed {
		s.hub.publish(Change{Key: key, OldValue: old})
	}
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	return s.hub.subscribe(ctx)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.close()
	return nil
}
