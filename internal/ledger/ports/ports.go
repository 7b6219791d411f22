// Package ports declares the consumer-side interfaces the ledger
// services depend on, keeping concrete registries and stores injectable.
package ports

import (
	"context"
	"time"

	id "custodia/pkg/domain"
	audit "custodia/pkg/platform/audit"
)

// Authorizer is the slice of the Identity & Authorization Registry the
// ledger consumes. Checks happen at call time, never cached.
type Authorizer interface {
	HasRole(ctx context.Context, principal id.PrincipalID, role id.Role) (bool, error)
	HasValidLicense(ctx context.Context, principal id.PrincipalID, licenseType id.LicenseType, at time.Time) (bool, error)
}

// ContentRefs is the opaque content-reference store boundary. The
// ledger only records hashes; it never dereferences content.
type ContentRefs interface {
	// Register notes that a hash was referenced by a ledger operation.
	Register(ctx context.Context, hash id.ContentHash) error
	// Exists reports whether a hash has been referenced before.
	Exists(ctx context.Context, hash id.ContentHash) (bool, error)
}

// AuditPublisher emits ledger state transitions to the append-only
// event log for external notifiers.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
