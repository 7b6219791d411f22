package store

import (
	"context"
	"sync"

	"custodia/internal/ledger/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// InMemory keeps batches in a map guarded by a single RWMutex. Reads
// return deep copies, so verification queries are snapshot-consistent
// against the last committed mutation and never observe a
// partially-applied Execute.
type InMemory struct {
	mu      sync.RWMutex
	batches map[id.BatchID]*models.Batch
}

func NewInMemory() *InMemory {
	return &InMemory{batches: make(map[id.BatchID]*models.Batch)}
}

func (s *InMemory) Create(_ context.Context, batch *models.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[batch.ID]; exists {
		return sentinel.ErrConflict
	}
	s.batches[batch.ID] = batch.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, batchID id.BatchID) (*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return b.Clone(), nil
}

func (s *InMemory) Execute(_ context.Context, batchID id.BatchID,
	validate func(*models.Batch) error, apply func(*models.Batch)) (*models.Batch, error) {

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(b); err != nil {
		return nil, err
	}
	apply(b)
	return b.Clone(), nil
}
