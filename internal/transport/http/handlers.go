package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/authz"
	"custodia/internal/ledger"
	"custodia/internal/ledger/models"
	"custodia/internal/telemetry"
	"custodia/internal/verify"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

// LedgerService registers batches.
type LedgerService interface {
	Register(ctx context.Context, in ledger.RegisterInput) (*models.Batch, error)
}

// TelemetryService ingests sensor readings.
type TelemetryService interface {
	LogReading(ctx context.Context, reading telemetry.Reading) (telemetry.ComplianceResult, error)
}

// TransferService executes custody and flag transitions.
type TransferService interface {
	TransferOwnership(ctx context.Context, batchID id.BatchID, currentOwner, newOwner id.PrincipalID, documentHash id.ContentHash) error
	OverrideFlag(ctx context.Context, batchID id.BatchID, regulator id.PrincipalID, justificationHash id.ContentHash) error
	FlagCounterfeit(ctx context.Context, batchID id.BatchID, regulator id.PrincipalID, evidenceHash id.ContentHash) error
}

// VerifyService serves the public verification query.
type VerifyService interface {
	VerifyAuthenticity(ctx context.Context, batchID id.BatchID) (*verify.Report, error)
}

// AuthzService administers principals, roles, and licenses.
type AuthzService interface {
	CreatePrincipal(ctx context.Context, principalID id.PrincipalID, name string) (*authz.Principal, error)
	GrantRole(ctx context.Context, principalID id.PrincipalID, role id.Role) error
	RevokeRole(ctx context.Context, principalID id.PrincipalID, role id.Role) error
	IssueLicense(ctx context.Context, principalID id.PrincipalID, licenseType id.LicenseType, authority string, expiresAt time.Time) error
}

// Handler delegates requests to the domain services.
type Handler struct {
	ledger    LedgerService
	telemetry TelemetryService
	transfer  TransferService
	verify    VerifyService
	authz     AuthzService
}

func NewHandler(ledgerSvc LedgerService, telemetrySvc TelemetryService, transferSvc TransferService, verifySvc VerifyService, authzSvc AuthzService) *Handler {
	return &Handler{
		ledger:    ledgerSvc,
		telemetry: telemetrySvc,
		transfer:  transferSvc,
		verify:    verifySvc,
		authz:     authzSvc,
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerBatchRequest struct {
	BatchID         string `json:"batch_id"`
	ProductCode     string `json:"product_code"`
	LotNumber       string `json:"lot_number"`
	Category        string `json:"category"`
	Quantity        int64  `json:"quantity"`
	Expiration      string `json:"expiration"`
	CertificateHash string `json:"certificate_hash"`
}

// handleRegisterBatch registers a batch owned by the calling
// manufacturer principal.
func (h *Handler) handleRegisterBatch(w http.ResponseWriter, r *http.Request) {
	var req registerBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "malformed JSON body"))
		return
	}

	batchID, err := id.ParseBatchID(req.BatchID)
	if err != nil {
		writeError(w, err)
		return
	}
	certHash, err := id.ParseContentHash(req.CertificateHash)
	if err != nil {
		writeError(w, err)
		return
	}
	expiration, err := time.Parse(time.RFC3339, req.Expiration)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidMetadata, "expiration must be RFC 3339"))
		return
	}

	batch, err := h.ledger.Register(r.Context(), ledger.RegisterInput{
		Manufacturer: requestcontext.PrincipalID(r.Context()),
		BatchID:      batchID,
		Product: models.ProductDescriptor{
			ProductCode: req.ProductCode,
			LotNumber:   req.LotNumber,
			Category:    req.Category,
		},
		Quantity:        req.Quantity,
		Expiration:      expiration,
		CertificateHash: certHash,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"batch_id": batch.ID.String(),
		"status":   batch.Status.String(),
	})
}

type logReadingRequest struct {
	ReadingC    float64 `json:"reading_c"`
	Timestamp   string  `json:"timestamp"`
	ContentHash string  `json:"content_hash"`
}

// handleLogReading records a cold-chain reading from the calling
// sensor principal.
func (h *Handler) handleLogReading(w http.ResponseWriter, r *http.Request) {
	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req logReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "malformed JSON body"))
		return
	}
	timestamp, err := time.Parse(time.RFC3339, req.Timestamp)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "timestamp must be RFC 3339"))
		return
	}
	contentHash, err := id.ParseContentHash(req.ContentHash)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.telemetry.LogReading(r.Context(), telemetry.Reading{
		Sensor:      requestcontext.PrincipalID(r.Context()),
		BatchID:     batchID,
		ValueC:      req.ReadingC,
		Timestamp:   timestamp,
		ContentHash: contentHash,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"result": string(result)})
}

type transferRequest struct {
	NewOwner     string `json:"new_owner"`
	DocumentHash string `json:"document_hash"`
}

// handleTransfer moves custody from the calling principal to the
// requested recipient.
func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "malformed JSON body"))
		return
	}
	newOwner, err := id.ParsePrincipalID(req.NewOwner)
	if err != nil {
		writeError(w, err)
		return
	}
	docHash, err := id.ParseContentHash(req.DocumentHash)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.transfer.TransferOwnership(r.Context(), batchID, requestcontext.PrincipalID(r.Context()), newOwner, docHash); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

type flagActionRequest struct {
	// Hash is the justification (override) or evidence (counterfeit)
	// content reference.
	Hash string `json:"hash"`
}

func (h *Handler) handleOverrideFlag(w http.ResponseWriter, r *http.Request) {
	batchID, hash, ok := h.parseFlagAction(w, r)
	if !ok {
		return
	}
	if err := h.transfer.OverrideFlag(r.Context(), batchID, requestcontext.PrincipalID(r.Context()), hash); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "overridden"})
}

func (h *Handler) handleFlagCounterfeit(w http.ResponseWriter, r *http.Request) {
	batchID, hash, ok := h.parseFlagAction(w, r)
	if !ok {
		return
	}
	if err := h.transfer.FlagCounterfeit(r.Context(), batchID, requestcontext.PrincipalID(r.Context()), hash); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "counterfeit_confirmed"})
}

func (h *Handler) parseFlagAction(w http.ResponseWriter, r *http.Request) (id.BatchID, id.ContentHash, bool) {
	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		writeError(w, err)
		return "", "", false
	}
	var req flagActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "malformed JSON body"))
		return "", "", false
	}
	hash, err := id.ParseContentHash(req.Hash)
	if err != nil {
		writeError(w, err)
		return "", "", false
	}
	return batchID, hash, true
}

// handleVerify serves the public verification query.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := h.verify.VerifyAuthenticity(r.Context(), batchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type createPrincipalRequest struct {
	PrincipalID string `json:"principal_id"`
	Name        string `json:"name"`
}

func (h *Handler) handleCreatePrincipal(w http.ResponseWriter, r *http.Request) {
	var req createPrincipalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "malformed JSON body"))
		return
	}
	principalID, err := id.ParsePrincipalID(req.PrincipalID)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.authz.CreatePrincipal(r.Context(), principalID, req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"principal_id": principalID.String()})
}

type roleRequest struct {
	PrincipalID string `json:"principal_id"`
	Role        string `json:"role"`
}

func (h *Handler) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	principalID, role, ok := parseRoleRequest(w, r)
	if !ok {
		return
	}
	if err := h.authz.GrantRole(r.Context(), principalID, role); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

func (h *Handler) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	principalID, role, ok := parseRoleRequest(w, r)
	if !ok {
		return
	}
	if err := h.authz.RevokeRole(r.Context(), principalID, role); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func parseRoleRequest(w http.ResponseWriter, r *http.Request) (id.PrincipalID, id.Role, bool) {
	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "malformed JSON body"))
		return id.PrincipalID{}, "", false
	}
	principalID, err := id.ParsePrincipalID(req.PrincipalID)
	if err != nil {
		writeError(w, err)
		return id.PrincipalID{}, "", false
	}
	role, err := id.ParseRole(req.Role)
	if err != nil {
		writeError(w, err)
		return id.PrincipalID{}, "", false
	}
	return principalID, role, true
}

type issueLicenseRequest struct {
	PrincipalID string `json:"principal_id"`
	LicenseType string `json:"license_type"`
	Authority   string `json:"authority"`
	ExpiresAt   string `json:"expires_at"`
}

func (h *Handler) handleIssueLicense(w http.ResponseWriter, r *http.Request) {
	var req issueLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "malformed JSON body"))
		return
	}
	principalID, err := id.ParsePrincipalID(req.PrincipalID)
	if err != nil {
		writeError(w, err)
		return
	}
	licenseType, err := id.ParseLicenseType(req.LicenseType)
	if err != nil {
		writeError(w, err)
		return
	}
	expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidMetadata, "expires_at must be RFC 3339"))
		return
	}
	if err := h.authz.IssueLicense(r.Context(), principalID, licenseType, req.Authority, expiresAt); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "issued"})
}
