package memory

import (
	"context"
	"sync"

	id "custodia/pkg/domain"
	audit "custodia/pkg/platform/audit"
)

// Store is an in-memory append-only audit store for development and tests.
type Store struct {
	mu     sync.RWMutex
	events []audit.Event
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *Store) ListByBatch(_ context.Context, batchID id.BatchID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.BatchID == batchID {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns a copy of every appended event, in order. Test helper.
func (s *Store) All() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events...)
}
