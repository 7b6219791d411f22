package authz

import (
	"context"

	id "custodia/pkg/domain"
)

// Store persists principals. Implementations return sentinel errors;
// the service translates them into coded domain errors.
type Store interface {
	// Create inserts a new principal. Returns sentinel.ErrConflict if
	// the ID is already registered.
	Create(ctx context.Context, principal *Principal) error

	// FindByID returns a snapshot copy of the principal.
	// Returns sentinel.ErrNotFound when absent.
	FindByID(ctx context.Context, principalID id.PrincipalID) (*Principal, error)

	// Execute atomically validates and mutates a principal. The store
	// holds its lock (mutex or FOR UPDATE) across both callbacks so no
	// concurrent mutation interleaves. Returns the post-mutation
	// snapshot.
	Execute(ctx context.Context, principalID id.PrincipalID,
		validate func(*Principal) error,
		apply func(*Principal)) (*Principal, error)
}
