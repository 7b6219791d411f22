package models

import (
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// ProductDescriptor identifies what a batch contains. Category selects
// the temperature policy applied to its telemetry.
type ProductDescriptor struct {
	ProductCode string `json:"product_code"` // NDC-equivalent code
	LotNumber   string `json:"lot_number"`
	Category    string `json:"category"` // temperature policy key
}

// CustodyEntry is one ownership transfer. The log is append-only and
// its from/to chain is contiguous by construction.
type CustodyEntry struct {
	From         id.PrincipalID `json:"from"`
	To           id.PrincipalID `json:"to"`
	Timestamp    time.Time      `json:"timestamp"`
	DocumentHash id.ContentHash `json:"document_hash"`
	// OverrideRef links the transfer to the flag override that permitted
	// it, for transfers executed after a Flagged -> Overridden move.
	OverrideRef id.ContentHash `json:"override_ref,omitempty"`
}

// TelemetryEntry is one recorded sensor reading. Readings are recorded
// whether or not they are compliant; the audit trail outranks clean logs.
type TelemetryEntry struct {
	Sensor      id.PrincipalID `json:"sensor"`
	ReadingC    float64        `json:"reading_c"`
	Timestamp   time.Time      `json:"timestamp"`
	ContentHash id.ContentHash `json:"content_hash"`
	Compliant   bool           `json:"compliant"`
}

// FlagKind distinguishes the two flag causes.
type FlagKind string

const (
	FlagCompromised FlagKind = "compromised"
	FlagCounterfeit FlagKind = "counterfeit"
)

// Flag marks a batch as compromised (automatic) or counterfeit
// (manual, terminal). At most one flag is active per cause.
type Flag struct {
	Kind         FlagKind       `json:"kind"`
	RaisedBy     id.PrincipalID `json:"raised_by"`
	EvidenceHash id.ContentHash `json:"evidence_hash"`
	Timestamp    time.Time      `json:"timestamp"`
	// ClearedAt is set when a regulator overrides a compromised flag.
	// Counterfeit flags are never cleared.
	ClearedAt *time.Time `json:"cleared_at,omitempty"`
	// ClearedBy and JustificationHash record the override.
	ClearedBy         id.PrincipalID `json:"cleared_by,omitempty"`
	JustificationHash id.ContentHash `json:"justification_hash,omitempty"`
}

// Batch is the central ledger entity. It is never deleted; retirement
// is a status, so the audit record is permanent.
//
// Invariants:
//   - Custody log chain is contiguous: entry[0].From == Manufacturer,
//     entry[i].From == entry[i-1].To.
//   - Owner always equals the last custody entry's To, or Manufacturer
//     when the log is empty.
//   - Telemetry timestamps are strictly increasing.
//   - StatusCounterfeitConfirmed is absorbing.
type Batch struct {
	ID              id.BatchID        `json:"id"`
	Manufacturer    id.PrincipalID    `json:"manufacturer"`
	Product         ProductDescriptor `json:"product"`
	Quantity        int64             `json:"quantity"`
	Expiration      time.Time         `json:"expiration"`
	CertificateHash id.ContentHash    `json:"certificate_hash"`
	Status          Status            `json:"status"`
	Owner           id.PrincipalID    `json:"owner"`
	CustodyLog      []CustodyEntry    `json:"custody_log"`
	TelemetryLog    []TelemetryEntry  `json:"telemetry_log"`
	Flags           []Flag            `json:"flags"`
	RegisteredAt    time.Time         `json:"registered_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NewBatch validates registration metadata and constructs an Active
// batch owned by its manufacturer with empty logs.
func NewBatch(batchID id.BatchID, manufacturer id.PrincipalID, product ProductDescriptor,
	quantity int64, expiration time.Time, certificateHash id.ContentHash, now time.Time) (*Batch, error) {

	if batchID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidMetadata, "batch id is required")
	}
	if manufacturer.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidMetadata, "manufacturer is required")
	}
	if quantity <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidMetadata, "quantity must be positive")
	}
	if !expiration.After(now) {
		return nil, dErrors.New(dErrors.CodeInvalidMetadata, "expiration must be in the future")
	}
	if certificateHash.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidMetadata, "certificate hash is required")
	}

	return &Batch{
		ID:              batchID,
		Manufacturer:    manufacturer,
		Product:         product,
		Quantity:        quantity,
		Expiration:      expiration,
		CertificateHash: certificateHash,
		Status:          StatusActive,
		Owner:           manufacturer,
		RegisteredAt:    now,
		UpdatedAt:       now,
	}, nil
}

// ActiveFlag returns the newest uncleared flag, or nil.
func (b *Batch) ActiveFlag() *Flag {
	for i := len(b.Flags) - 1; i >= 0; i-- {
		if b.Flags[i].ClearedAt == nil {
			return &b.Flags[i]
		}
	}
	return nil
}

// CanAppendTelemetry validates a reading against the terminal-state and
// monotonicity invariants. Out-of-order readings are rejected, not
// reordered.
func (b *Batch) CanAppendTelemetry(timestamp time.Time) error {
	if b.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeTerminalState, "batch is counterfeit-confirmed")
	}
	if n := len(b.TelemetryLog); n > 0 && !timestamp.After(b.TelemetryLog[n-1].Timestamp) {
		return dErrors.New(dErrors.CodeNonMonotonicTimestamp, "reading timestamp must be after the last recorded reading")
	}
	return nil
}

// AppendTelemetry records the reading unconditionally and, when it is
// out of range, moves the batch to Flagged with a compromised flag.
// Flagging an already-Flagged batch records the reading but raises no
// second flag (idempotent transition). Call CanAppendTelemetry first.
func (b *Batch) AppendTelemetry(entry TelemetryEntry, now time.Time) {
	b.TelemetryLog = append(b.TelemetryLog, entry)
	b.UpdatedAt = now

	if entry.Compliant {
		return
	}
	if b.Status == StatusFlagged {
		return
	}
	b.Status = StatusFlagged
	b.Flags = append(b.Flags, Flag{
		Kind:         FlagCompromised,
		RaisedBy:     entry.Sensor,
		EvidenceHash: entry.ContentHash,
		Timestamp:    now,
	})
}

// CanTransfer validates a custody change: the submitted owner must
// match the recorded owner (stale submissions are rejected, not
// corrected) and the state must permit transfers.
func (b *Batch) CanTransfer(currentOwner id.PrincipalID) error {
	if !b.Status.Transferable() {
		return dErrors.New(dErrors.CodeTransferBlocked, "batch state blocks transfers")
	}
	if b.Owner != currentOwner {
		return dErrors.New(dErrors.CodeOwnerMismatch, "submitted owner does not match recorded owner")
	}
	return nil
}

// AppendCustody appends a transfer and advances the owner. For a batch
// in Overridden state the entry is annotated with the override's
// justification hash, keeping the chain self-explaining. Call
// CanTransfer first.
func (b *Batch) AppendCustody(to id.PrincipalID, documentHash id.ContentHash, now time.Time) {
	entry := CustodyEntry{
		From:         b.Owner,
		To:           to,
		Timestamp:    now,
		DocumentHash: documentHash,
	}
	if b.Status == StatusOverridden {
		for i := len(b.Flags) - 1; i >= 0; i-- {
			if b.Flags[i].Kind == FlagCompromised && b.Flags[i].ClearedAt != nil {
				entry.OverrideRef = b.Flags[i].JustificationHash
				break
			}
		}
	}
	b.CustodyLog = append(b.CustodyLog, entry)
	b.Owner = to
	b.UpdatedAt = now
}

// CanOverride validates the Flagged -> Overridden transition.
func (b *Batch) CanOverride() error {
	if b.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidTransition, "batch is counterfeit-confirmed")
	}
	if b.Status != StatusFlagged {
		return dErrors.New(dErrors.CodeInvalidTransition, "only a flagged batch can be overridden")
	}
	return nil
}

// ApplyOverride clears the active compromised flag and moves the batch
// to Overridden. Call CanOverride first.
func (b *Batch) ApplyOverride(regulator id.PrincipalID, justificationHash id.ContentHash, now time.Time) {
	for i := len(b.Flags) - 1; i >= 0; i-- {
		if b.Flags[i].Kind == FlagCompromised && b.Flags[i].ClearedAt == nil {
			b.Flags[i].ClearedAt = &now
			b.Flags[i].ClearedBy = regulator
			b.Flags[i].JustificationHash = justificationHash
			break
		}
	}
	b.Status = StatusOverridden
	b.UpdatedAt = now
}

// CanConfirmCounterfeit validates the move to the terminal state.
func (b *Batch) CanConfirmCounterfeit() error {
	if b.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeTerminalState, "batch is already counterfeit-confirmed")
	}
	return nil
}

// ApplyCounterfeit moves the batch to CounterfeitConfirmed and records
// the flag. Irreversible. Call CanConfirmCounterfeit first.
func (b *Batch) ApplyCounterfeit(regulator id.PrincipalID, evidenceHash id.ContentHash, now time.Time) {
	b.Status = StatusCounterfeitConfirmed
	b.Flags = append(b.Flags, Flag{
		Kind:         FlagCounterfeit,
		RaisedBy:     regulator,
		EvidenceHash: evidenceHash,
		Timestamp:    now,
	})
	b.UpdatedAt = now
}

// Clone returns a deep copy so store snapshots never alias live state.
func (b *Batch) Clone() *Batch {
	cp := *b
	cp.CustodyLog = append([]CustodyEntry{}, b.CustodyLog...)
	cp.TelemetryLog = append([]TelemetryEntry{}, b.TelemetryLog...)
	cp.Flags = append([]Flag{}, b.Flags...)
	return &cp
}
