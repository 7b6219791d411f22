// Package transfer is the Transfer & Custody Engine: custody changes
// under compliance and authorization gates, plus the regulator
// operations (flag override, counterfeit confirmation).
package transfer

import (
	"context"
	"log/slog"
	"time"

	"custodia/internal/ledger"
	ledgermetrics "custodia/internal/ledger/metrics"
	"custodia/internal/ledger/models"
	"custodia/internal/ledger/ports"
	"custodia/internal/ledger/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	audit "custodia/pkg/platform/audit"
	"custodia/pkg/requestcontext"
)

// Service executes custody transfers and flag transitions.
type Service struct {
	batches     store.Store
	authorizer  ports.Authorizer
	contentRefs ports.ContentRefs
	audit       ports.AuditPublisher
	metrics     *ledgermetrics.Metrics
	logger      *slog.Logger
}

type Option func(*Service)

func WithMetrics(m *ledgermetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithContentRefs(refs ports.ContentRefs) Option {
	return func(s *Service) { s.contentRefs = refs }
}

func NewService(batches store.Store, authorizer ports.Authorizer, auditPublisher ports.AuditPublisher, opts ...Option) *Service {
	s := &Service{
		batches:    batches,
		authorizer: authorizer,
		audit:      auditPublisher,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TransferOwnership appends a custody entry and advances the owner.
//
// Preconditions, checked in full before any mutation:
//   - currentOwner matches the recorded owner (stale submissions are
//     rejected with owner_mismatch, never silently corrected)
//   - the recipient holds the next supply-chain tier's role and, where
//     that tier is licensed, a currently valid license - checked
//     against the registry at call time, not cached
//   - batch state is Active or Overridden
func (s *Service) TransferOwnership(ctx context.Context, batchID id.BatchID, currentOwner, newOwner id.PrincipalID, documentHash id.ContentHash) error {
	start := time.Now()
	now := requestcontext.Now(ctx)

	if currentOwner == newOwner {
		return dErrors.New(dErrors.CodeBadRequest, "cannot transfer a batch to its current owner")
	}

	// The recipient's tier depends on the sender's role, so resolve the
	// sender's tier first. Role checks hit the registry at call time.
	senderRole, err := s.roleOf(ctx, currentOwner)
	if err != nil {
		return err
	}
	nextTier, ok := senderRole.NextTier()
	if !ok {
		return dErrors.New(dErrors.CodeUnauthorized, "holder's tier cannot transfer custody onward")
	}

	holds, err := s.authorizer.HasRole(ctx, newOwner, nextTier)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "role check failed")
	}
	if !holds {
		return dErrors.Newf(dErrors.CodeUnauthorized, "recipient does not hold the %s role", nextTier)
	}

	if licenseType, needed := id.RequiredLicense(nextTier); needed {
		valid, err := s.authorizer.HasValidLicense(ctx, newOwner, licenseType, now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "license check failed")
		}
		if !valid {
			return dErrors.Newf(dErrors.CodeUnauthorized, "recipient lacks a valid %s license", licenseType)
		}
	}

	_, err = s.batches.Execute(ctx, batchID,
		func(b *models.Batch) error {
			return b.CanTransfer(currentOwner)
		},
		func(b *models.Batch) {
			b.AppendCustody(newOwner, documentHash, now)
		},
	)
	if err != nil {
		return ledger.WrapBatchErr(err)
	}

	s.registerRef(ctx, documentHash)

	if err := s.audit.Emit(ctx, audit.Event{
		Actor:     currentOwner,
		BatchID:   batchID,
		Action:    string(audit.EventOwnershipTransferred),
		Decision:  newOwner.String(),
		Evidence:  documentHash,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit transfer")
	}

	s.metrics.IncTransfers()
	s.metrics.ObserveOperation("transfer_ownership", time.Since(start).Seconds())
	s.logger.InfoContext(ctx, "custody transferred",
		"batch_id", batchID.String(),
		"from", currentOwner.String(),
		"to", newOwner.String(),
	)
	return nil
}

// OverrideFlag moves a Flagged batch to Overridden. Regulator-only; any
// other source state is invalid_transition. The override is recorded on
// the flag itself, so later transfers carry the justification reference.
func (s *Service) OverrideFlag(ctx context.Context, batchID id.BatchID, regulator id.PrincipalID, justificationHash id.ContentHash) error {
	now := requestcontext.Now(ctx)

	if err := s.requireRegulator(ctx, regulator); err != nil {
		return err
	}
	if justificationHash.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "justification hash is required")
	}

	_, err := s.batches.Execute(ctx, batchID,
		func(b *models.Batch) error {
			return b.CanOverride()
		},
		func(b *models.Batch) {
			b.ApplyOverride(regulator, justificationHash, now)
		},
	)
	if err != nil {
		return ledger.WrapBatchErr(err)
	}

	s.registerRef(ctx, justificationHash)

	if err := s.audit.Emit(ctx, audit.Event{
		Actor:     regulator,
		BatchID:   batchID,
		Action:    string(audit.EventFlagOverridden),
		Evidence:  justificationHash,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit override")
	}

	s.metrics.IncOverrides()
	s.logger.InfoContext(ctx, "flag overridden", "batch_id", batchID.String(), "regulator", regulator.String())
	return nil
}

// FlagCounterfeit moves any non-terminal batch to CounterfeitConfirmed.
// Regulator-only and irreversible: no operation ever transitions out.
func (s *Service) FlagCounterfeit(ctx context.Context, batchID id.BatchID, regulator id.PrincipalID, evidenceHash id.ContentHash) error {
	now := requestcontext.Now(ctx)

	if err := s.requireRegulator(ctx, regulator); err != nil {
		return err
	}
	if evidenceHash.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "evidence hash is required")
	}

	_, err := s.batches.Execute(ctx, batchID,
		func(b *models.Batch) error {
			return b.CanConfirmCounterfeit()
		},
		func(b *models.Batch) {
			b.ApplyCounterfeit(regulator, evidenceHash, now)
		},
	)
	if err != nil {
		return ledger.WrapBatchErr(err)
	}

	s.registerRef(ctx, evidenceHash)

	if err := s.audit.Emit(ctx, audit.Event{
		Actor:     regulator,
		BatchID:   batchID,
		Action:    string(audit.EventCounterfeitConfirmed),
		Evidence:  evidenceHash,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit counterfeit confirmation")
	}

	s.metrics.IncFlags(string(models.FlagCounterfeit))
	s.logger.WarnContext(ctx, "counterfeit confirmed", "batch_id", batchID.String(), "regulator", regulator.String())
	return nil
}

func (s *Service) requireRegulator(ctx context.Context, principal id.PrincipalID) error {
	ok, err := s.authorizer.HasRole(ctx, principal, id.RoleRegulator)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "role check failed")
	}
	if !ok {
		return dErrors.New(dErrors.CodeUnauthorized, "caller does not hold the regulator role")
	}
	return nil
}

// roleOf resolves the single supply-chain tier role a custody holder
// acts under. Holders with no tier role cannot move custody.
func (s *Service) roleOf(ctx context.Context, principal id.PrincipalID) (id.Role, error) {
	for _, role := range []id.Role{id.RoleManufacturer, id.RoleDistributor, id.RolePharmacy} {
		ok, err := s.authorizer.HasRole(ctx, principal, role)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "role check failed")
		}
		if ok {
			return role, nil
		}
	}
	return "", dErrors.New(dErrors.CodeUnauthorized, "holder has no supply-chain role")
}

func (s *Service) registerRef(ctx context.Context, hash id.ContentHash) {
	if s.contentRefs == nil || hash.IsNil() {
		return
	}
	if err := s.contentRefs.Register(ctx, hash); err != nil {
		s.logger.WarnContext(ctx, "content reference not recorded", "hash", hash.String(), "error", err)
	}
}
