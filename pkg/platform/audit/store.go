package audit

import (
	"context"

	id "custodia/pkg/domain"
)

// Store is the append-only persistence boundary for audit events.
// Implementations must never mutate or delete appended events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByBatch(ctx context.Context, batchID id.BatchID) ([]Event, error)
}
