package authz

import (
	"context"
	"sync"

	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// InMemoryStore keeps principals in a map. Snapshot copies are returned
// so callers never observe partially-applied mutations.
type InMemoryStore struct {
	mu         sync.RWMutex
	principals map[id.PrincipalID]*Principal
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{principals: make(map[id.PrincipalID]*Principal)}
}

func (s *InMemoryStore) Create(_ context.Context, principal *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.principals[principal.ID]; exists {
		return sentinel.ErrConflict
	}
	s.principals[principal.ID] = principal.clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, principalID id.PrincipalID) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[principalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p.clone(), nil
}

func (s *InMemoryStore) Execute(_ context.Context, principalID id.PrincipalID,
	validate func(*Principal) error, apply func(*Principal)) (*Principal, error) {

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[principalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(p); err != nil {
		return nil, err
	}
	apply(p)
	return p.clone(), nil
}
