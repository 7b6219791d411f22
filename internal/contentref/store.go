// Package contentref tracks which content hashes the ledger has
// referenced. The actual content lives in an external
// content-addressed store; the engine only ever records and checks
// hashes, never the bytes behind them.
package contentref

import (
	"context"
	"sync"

	id "custodia/pkg/domain"
)

// Store is the hash -> exists boundary consumed by the ledger services.
type Store interface {
	Register(ctx context.Context, hash id.ContentHash) error
	Exists(ctx context.Context, hash id.ContentHash) (bool, error)
}

// InMemory is the development/test implementation.
type InMemory struct {
	mu     sync.RWMutex
	hashes map[id.ContentHash]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{hashes: make(map[id.ContentHash]struct{})}
}

func (s *InMemory) Register(_ context.Context, hash id.ContentHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[hash] = struct{}{}
	return nil
}

func (s *InMemory) Exists(_ context.Context, hash id.ContentHash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hashes[hash]
	return ok, nil
}
