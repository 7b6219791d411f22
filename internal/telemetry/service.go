// Package telemetry is the Compliance Evaluator: it ingests cold-chain
// readings, records them unconditionally, and drives the Active ->
// Flagged transition when a reading violates the temperature policy.
package telemetry

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

// ComplianceResult reports the outcome of one reading.
type ComplianceResult string

const (
	ResultCompliant   ComplianceResult = "compliant"
	ResultCompromised ComplianceResult = "compromised"
)

// Reading carries one sensor submission.
type Reading struct {
	Sensor      id.PrincipalID
	BatchID     id.BatchID
	ValueC      float64
	Timestamp   time.Time
	ContentHash id.ContentHash
}

// Service evaluates readings against the temperature policy.
type Service struct {
	batches     store.Store
	authorizer  ports.Authorizer
	contentRefs ports.ContentRefs
	audit       ports.AuditPublisher
	policy      *Policy
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

func NewService(batches store.Store, authorizer ports.Authorizer, auditPublisher ports.AuditPublisher, policy *Policy, opts ...Option) *Service {
	if policy == nil {
		policy = DefaultPolicy()
	}
	s := &Service{
		batches:    batches,
		authorizer: authorizer,
		audit:      auditPublisher,
		policy:     policy,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogReading appends a reading to the batch's telemetry log and
// evaluates it against the applicable temperature range.
//
// The reading is recorded whether or not it is compliant - the
// immutable audit trail takes priority over clean logs. An out-of-range
// reading moves Active/Overridden to Flagged (idempotent when already
// Flagged) and records a compromised flag referencing the reading.
//
// Out-of-order timestamps are rejected with non_monotonic_timestamp and
// do not appear in the log; reordering is the gateway's concern.
func (s *Service) LogReading(ctx context.Context, reading Reading) (ComplianceResult, error) {
	now := requestcontext.Now(ctx)

	ok, err := s.authorizer.HasRole(ctx, reading.Sensor, id.RoleSensor)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "role check failed")
	}
	if !ok {
		return "", dErrors.New(dErrors.CodeUnauthorized, "caller does not hold the sensor role")
	}
	if reading.Timestamp.IsZero() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "reading timestamp is required")
	}

	var (
		result     ComplianceResult
		wasFlagged bool
	)
	batch, err := s.batches.Execute(ctx, reading.BatchID,
		func(b *models.Batch) error {
			return b.CanAppendTelemetry(reading.Timestamp)
		},
		func(b *models.Batch) {
			r := s.policy.RangeFor(b.Product.Category)
			compliant := r.Contains(reading.ValueC)
			if compliant {
				result = ResultCompliant
			} else {
				result = ResultCompromised
			}
			wasFlagged = b.Status == models.StatusFlagged
			b.AppendTelemetry(models.TelemetryEntry{
				Sensor:      reading.Sensor,
				ReadingC:    reading.ValueC,
				Timestamp:   reading.Timestamp,
				ContentHash: reading.ContentHash,
				Compliant:   compliant,
			}, now)
		},
	)
	if err != nil {
		return "", ledger.WrapBatchErr(err)
	}

	s.registerRef(ctx, reading.ContentHash)

	if err := s.audit.Emit(ctx, audit.Event{
		Actor:     reading.Sensor,
		BatchID:   reading.BatchID,
		Action:    string(audit.EventReadingRecorded),
		Decision:  string(result),
		Evidence:  reading.ContentHash,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit reading")
	}

	s.metrics.IncReadings(string(result))

	// The flag transition is its own observable event so notifiers can
	// subscribe to it without filtering the reading firehose.
	if result == ResultCompromised && !wasFlagged {
		s.metrics.IncFlags(string(models.FlagCompromised))
		if err := s.audit.Emit(ctx, audit.Event{
			Actor:     reading.Sensor,
			BatchID:   reading.BatchID,
			Action:    string(audit.EventBatchFlagged),
			Reason:    "temperature excursion",
			Evidence:  reading.ContentHash,
			RequestID: requestcontext.RequestID(ctx),
		}); err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit flag")
		}
		s.logger.WarnContext(ctx, "batch flagged for temperature excursion",
			"batch_id", batch.ID.String(),
			"reading_c", reading.ValueC,
		)
	}

	return result, nil
}

func (s *Service) registerRef(ctx context.Context, hash id.ContentHash) {
	if s.contentRefs == nil || hash.IsNil() {
		return
	}
	if err := s.contentRefs.Register(ctx, hash); err != nil {
		s.logger.WarnContext(ctx, "content reference not recorded", "hash", hash.String(), "error", err)
	}
}
