// Package verify is the public Verification & Audit Query: read-only
// projections over the ledger for patients and regulators. No
// authorization is required - public verifiability is a functional
// requirement, not an oversight.
package verify

import (
	"context"
	"time"

	"custodia/internal/ledger"
	"custodia/internal/ledger/models"
	"custodia/internal/ledger/store"
	id "custodia/pkg/domain"
)

// DefaultComplianceWindow is how many recent telemetry outcomes the
// compliance summary reports.
const DefaultComplianceWindow = 10

// Report is the public projection of a batch. It exposes the full
// custody chain and flag state at all times, including while Flagged.
type Report struct {
	BatchID      id.BatchID               `json:"batch_id"`
	Status       models.Status            `json:"status"`
	Owner        id.PrincipalID           `json:"owner"`
	Product      models.ProductDescriptor `json:"product"`
	Expiration   time.Time                `json:"expiration"`
	CustodyChain []models.CustodyEntry    `json:"custody_chain"`
	Compliance   ComplianceSummary        `json:"compliance"`
	ActiveFlag   *models.Flag             `json:"active_flag,omitempty"`
}

// ComplianceSummary aggregates the last N telemetry outcomes.
type ComplianceSummary struct {
	TotalReadings int              `json:"total_readings"`
	Recent        []ReadingOutcome `json:"recent"`
}

// ReadingOutcome is one telemetry entry's public view.
type ReadingOutcome struct {
	Timestamp time.Time `json:"timestamp"`
	ReadingC  float64   `json:"reading_c"`
	Compliant bool      `json:"compliant"`
}

// Service serves verification queries. Reads are snapshot-consistent
// against the last committed state and never block writers.
type Service struct {
	batches store.Store
	window  int
}

func NewService(batches store.Store) *Service {
	return &Service{batches: batches, window: DefaultComplianceWindow}
}

// WithWindow overrides the compliance summary window.
func (s *Service) WithWindow(n int) *Service {
	if n > 0 {
		s.window = n
	}
	return s
}

// VerifyAuthenticity returns the public report for a batch. Never
// mutates; the only failure is not_found for an unknown batch.
func (s *Service) VerifyAuthenticity(ctx context.Context, batchID id.BatchID) (*Report, error) {
	batch, err := s.batches.FindByID(ctx, batchID)
	if err != nil {
		return nil, ledger.WrapBatchErr(err)
	}

	recent := batch.TelemetryLog
	if len(recent) > s.window {
		recent = recent[len(recent)-s.window:]
	}
	outcomes := make([]ReadingOutcome, 0, len(recent))
	for _, e := range recent {
		outcomes = append(outcomes, ReadingOutcome{
			Timestamp: e.Timestamp,
			ReadingC:  e.ReadingC,
			Compliant: e.Compliant,
		})
	}

	return &Report{
		BatchID:      batch.ID,
		Status:       batch.Status,
		Owner:        batch.Owner,
		Product:      batch.Product,
		Expiration:   batch.Expiration,
		CustodyChain: batch.CustodyLog,
		Compliance: ComplianceSummary{
			TotalReadings: len(batch.TelemetryLog),
			Recent:        outcomes,
		},
		ActiveFlag: batch.ActiveFlag(),
	}, nil
}
