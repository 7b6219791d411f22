package audit

import (
	"time"

	id "custodia/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance.
	// These require tamper-proof storage and long retention (e.g., 7 years).
	// Examples: batch registration, custody transfers, flag transitions.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring.
	// Examples: rejected mutations, role revocations.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational
	// visibility. These can be sampled with shorter retention.
	// Examples: compliant readings, verification queries.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key ledger actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// Actor is the principal that performed the action.
	Actor id.PrincipalID
	// BatchID is the batch the action concerns, when there is one.
	BatchID id.BatchID
	// Action is one of the AuditEvent names below.
	Action string
	// Decision records the outcome where the action has one
	// (e.g. "compliant", "compromised").
	Decision string
	// Reason names the violated invariant on rejections.
	Reason string
	// Evidence is the content hash attached to the action, if any.
	Evidence id.ContentHash
	// RequestID is the correlation ID from the request context.
	RequestID string
}

// AuditEvent names every action the ledger records.
type AuditEvent string

const (
	// Batch lifecycle events.
	EventBatchRegistered      AuditEvent = "batch_registered"
	EventReadingRecorded      AuditEvent = "reading_recorded"
	EventBatchFlagged         AuditEvent = "batch_flagged"
	EventFlagOverridden       AuditEvent = "flag_overridden"
	EventCounterfeitConfirmed AuditEvent = "counterfeit_confirmed"
	EventOwnershipTransferred AuditEvent = "ownership_transferred"

	// Authorization registry events.
	EventRoleGranted    AuditEvent = "role_granted"
	EventRoleRevoked    AuditEvent = "role_revoked"
	EventLicenseIssued  AuditEvent = "license_issued"
	EventLicenseRevoked AuditEvent = "license_revoked"
)

// eventCategories maps each audit event to its category.
// Compliance: legal/regulatory significance, long retention required.
// Security: security monitoring and alerting.
// Operations: debugging, operational visibility, can be sampled.
var eventCategories = map[AuditEvent]EventCategory{
	// Compliance events - the ledger's regulatory record.
	EventBatchRegistered:      CategoryCompliance,
	EventBatchFlagged:         CategoryCompliance,
	EventFlagOverridden:       CategoryCompliance,
	EventCounterfeitConfirmed: CategoryCompliance,
	EventOwnershipTransferred: CategoryCompliance,
	EventLicenseIssued:        CategoryCompliance,

	// Security events - capability changes feed alerting.
	EventRoleGranted:    CategorySecurity,
	EventRoleRevoked:    CategorySecurity,
	EventLicenseRevoked: CategorySecurity,

	// Operations events - routine telemetry volume, can be sampled.
	EventReadingRecorded: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
