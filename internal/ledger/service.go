// Package ledger is the Batch Registry: it owns batch records, their
// lifecycle state, and registration. Telemetry evaluation and custody
// transfers build on it from their own packages.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	ledgermetrics "custodia/internal/ledger/metrics"
	"custodia/internal/ledger/models"
	"custodia/internal/ledger/ports"
	"custodia/internal/ledger/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	audit "custodia/pkg/platform/audit"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// RegisterInput carries the registration fields from the transport layer.
type RegisterInput struct {
	Manufacturer    id.PrincipalID
	BatchID         id.BatchID
	Product         models.ProductDescriptor
	Quantity        int64
	Expiration      time.Time
	CertificateHash id.ContentHash
}

// Service orchestrates batch registration.
type Service struct {
	batches     store.Store
	authorizer  ports.Authorizer
	contentRefs ports.ContentRefs
	audit       ports.AuditPublisher
	metrics     *ledgermetrics.Metrics
	logger      *slog.Logger
}

// Option configures the Service.
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

// Store exposes the batch store to sibling services (telemetry,
// transfer, verify) so all of them mutate through the same arena.
func (s *Service) Store() store.Store {
	return s.batches
}

// Register creates a new Active batch owned by its manufacturer.
//
// Preconditions: caller holds the manufacturer role, the batch id is
// unregistered, quantity is positive, and expiration is in the future.
// Validation completes before any mutation is applied; a duplicate id
// is rejected with duplicate_batch regardless of argument differences.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Batch, error) {
	start := time.Now()
	now := requestcontext.Now(ctx)

	ok, err := s.authorizer.HasRole(ctx, in.Manufacturer, id.RoleManufacturer)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "role check failed")
	}
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller does not hold the manufacturer role")
	}

	batch, err := models.NewBatch(in.BatchID, in.Manufacturer, in.Product, in.Quantity, in.Expiration, in.CertificateHash, now)
	if err != nil {
		return nil, err
	}

	if err := s.batches.Create(ctx, batch); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeDuplicateBatch, "batch id is already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist batch")
	}

	// The certificate is an opaque reference; the engine records the
	// hash without ever fetching the content.
	s.registerRef(ctx, in.CertificateHash)

	if err := s.audit.Emit(ctx, audit.Event{
		Actor:     in.Manufacturer,
		BatchID:   batch.ID,
		Action:    string(audit.EventBatchRegistered),
		Evidence:  in.CertificateHash,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit registration")
	}

	s.metrics.IncBatchesRegistered()
	s.metrics.ObserveOperation("register_batch", time.Since(start).Seconds())
	s.logger.InfoContext(ctx, "batch registered",
		"batch_id", batch.ID.String(),
		"manufacturer", in.Manufacturer.String(),
	)
	return batch, nil
}

// Get returns a snapshot of a batch.
func (s *Service) Get(ctx context.Context, batchID id.BatchID) (*models.Batch, error) {
	batch, err := s.batches.FindByID(ctx, batchID)
	if err != nil {
		return nil, WrapBatchErr(err)
	}
	return batch, nil
}

func (s *Service) registerRef(ctx context.Context, hash id.ContentHash) {
	if s.contentRefs == nil || hash.IsNil() {
		return
	}
	// Content references are best-effort bookkeeping; a cache miss must
	// never fail a ledger mutation.
	if err := s.contentRefs.Register(ctx, hash); err != nil {
		s.logger.WarnContext(ctx, "content reference not recorded", "hash", hash.String(), "error", err)
	}
}

// WrapBatchErr translates store sentinels into coded domain errors.
// Shared by the telemetry, transfer, and verify services.
func WrapBatchErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "batch not found")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "batch store failure")
}
