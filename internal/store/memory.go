package store

import (
	"context"
	"sync"
)

// MemoryStatus is a process-local StatusStore for deployments without Redis.
type MemoryStatus struct {
	mu sync.RWMutex
	m  map[string]Status
}

func NewMemoryStatus() *MemoryStatus {
	return &MemoryStatus{m: make(map[string]Status)}
}

func (s *MemoryStatus) Set(_ context.Context, batchID string, st Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[batchID] = st
	return nil
}

func (s *MemoryStatus) Get(_ context.Context, batchID string) (Status, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.m[batchID]
	return st, ok, nil
}

func (s *MemoryStatus) Close() error { return nil }
