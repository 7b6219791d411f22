// Package store persists batch aggregates. Implementations return
// sentinel errors; services translate them into coded domain errors.
package store

import (
	"context"

	"custodia/internal/ledger/models"
	id "custodia/pkg/domain"
)

// Store is the batch persistence boundary.
type Store interface {
	// Create inserts a new batch. Returns sentinel.ErrConflict when the
	// batch id is already registered, regardless of argument
	// differences - duplicate registration is rejected, never merged.
	Create(ctx context.Context, batch *models.Batch) error

	// FindByID returns a snapshot copy of the batch.
	// Returns sentinel.ErrNotFound when absent.
	FindByID(ctx context.Context, batchID id.BatchID) (*models.Batch, error)

	// Execute atomically validates and mutates a batch. The store holds
	// its lock (mutex or FOR UPDATE) across both callbacks, so each
	// mutating ledger operation applies as a single atomic unit and no
	// two operations on the same batch interleave. A validation error
	// aborts with no mutation applied. Returns the post-mutation
	// snapshot.
	Execute(ctx context.Context, batchID id.BatchID,
		validate func(*models.Batch) error,
		apply func(*models.Batch)) (*models.Batch, error)
}
