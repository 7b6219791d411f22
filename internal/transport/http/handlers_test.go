package httptransport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodia/internal/authz"
	"custodia/internal/contentref"
	"custodia/internal/jwttoken"
	"custodia/internal/ledger"
	ledgerstore "custodia/internal/ledger/store"
	"custodia/internal/telemetry"
	"custodia/internal/transfer"
	"custodia/internal/verify"
	id "custodia/pkg/domain"
	audit "custodia/pkg/platform/audit"
	auditmemory "custodia/pkg/platform/audit/store/memory"
)

// HandlerSuite exercises the full HTTP surface against in-memory
// stores, token middleware included.
type HandlerSuite struct {
	suite.Suite

	server *httptest.Server
	tokens *jwttoken.Service

	manufacturer id.PrincipalID
	distributor  id.PrincipalID
	pharmacy     id.PrincipalID
	sensor       id.PrincipalID
	regulator    id.PrincipalID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	auditPub := audit.NewPublisher(auditmemory.New())
	authzSvc := authz.NewService(authz.NewInMemoryStore(), auditPub)

	s.manufacturer = s.newPrincipal(authzSvc, "Aurora Pharma", id.RoleManufacturer)
	s.distributor = s.newPrincipal(authzSvc, "MedFreight", id.RoleDistributor)
	s.pharmacy = s.newPrincipal(authzSvc, "Corner Pharmacy", id.RolePharmacy)
	s.sensor = s.newPrincipal(authzSvc, "probe-17", id.RoleSensor)
	s.regulator = s.newPrincipal(authzSvc, "FMD Authority", id.RoleRegulator)

	s.Require().NoError(authzSvc.IssueLicense(ctx, s.distributor, id.LicenseWholesale, "FMD Authority", time.Now().Add(365*24*time.Hour)))
	s.Require().NoError(authzSvc.IssueLicense(ctx, s.pharmacy, id.LicensePharmacy, "FMD Authority", time.Now().Add(365*24*time.Hour)))

	batches := ledgerstore.NewInMemory()
	refs := contentref.NewInMemory()

	ledgerSvc := ledger.NewService(batches, authzSvc, auditPub,
		ledger.WithLogger(logger), ledger.WithContentRefs(refs))
	telemetrySvc := telemetry.NewService(batches, authzSvc, auditPub, nil,
		telemetry.WithLogger(logger), telemetry.WithContentRefs(refs))
	transferSvc := transfer.NewService(batches, authzSvc, auditPub,
		transfer.WithLogger(logger), transfer.WithContentRefs(refs))
	verifySvc := verify.NewService(batches)

	s.tokens = jwttoken.NewService("test-signing-key-test-signing-key", "custodia", "custodia-api")

	handler := NewHandler(ledgerSvc, telemetrySvc, transferSvc, verifySvc, authzSvc)
	s.server = httptest.NewServer(NewRouter(handler, s.tokens, nil, logger))
	s.T().Cleanup(s.server.Close)
}

func (s *HandlerSuite) newPrincipal(svc *authz.Service, name string, role id.Role) id.PrincipalID {
	ctx := context.Background()
	principalID, err := id.ParsePrincipalID(uuid.NewString())
	s.Require().NoError(err)
	_, err = svc.CreatePrincipal(ctx, principalID, name)
	s.Require().NoError(err)
	s.Require().NoError(svc.GrantRole(ctx, principalID, role))
	return principalID
}

func (s *HandlerSuite) do(method, path string, principal *id.PrincipalID, body any) (*http.Response, map[string]any) {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	s.Require().NoError(err)
	if principal != nil {
		token, err := s.tokens.GeneratePrincipalToken(*principal, time.Hour)
		s.Require().NoError(err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var decoded map[string]any
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func hashOf(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func (s *HandlerSuite) registerBatch(batchID string) {
	resp, body := s.do(http.MethodPost, "/ledger/batches", &s.manufacturer, map[string]any{
		"batch_id":         batchID,
		"product_code":     "AMOX-500",
		"lot_number":       "L-2209",
		"category":         "antibiotic",
		"quantity":         1200,
		"expiration":       time.Now().Add(180 * 24 * time.Hour).Format(time.RFC3339),
		"certificate_hash": hashOf("certificate-" + batchID),
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode, "register %s: %v", batchID, body)
}

func (s *HandlerSuite) logReading(batchID string, valueC float64, at time.Time) (*http.Response, map[string]any) {
	return s.do(http.MethodPost, "/ledger/batches/"+batchID+"/readings", &s.sensor, map[string]any{
		"reading_c":    valueC,
		"timestamp":    at.Format(time.RFC3339),
		"content_hash": hashOf(batchID + at.String()),
	})
}

func (s *HandlerSuite) TestRegisterBatch() {
	s.Run("manufacturer registers a batch", func() {
		resp, body := s.do(http.MethodPost, "/ledger/batches", &s.manufacturer, map[string]any{
			"batch_id":         "BATCH-REG-1",
			"product_code":     "AMOX-500",
			"lot_number":       "L-2209",
			"category":         "antibiotic",
			"quantity":         1200,
			"expiration":       time.Now().Add(180 * 24 * time.Hour).Format(time.RFC3339),
			"certificate_hash": hashOf("certificate"),
		})

		s.Equal(http.StatusCreated, resp.StatusCode)
		s.Equal("BATCH-REG-1", body["batch_id"])
		s.Equal("active", body["status"])
	})

	s.Run("duplicate batch id is rejected", func() {
		s.registerBatch("BATCH-REG-DUP")
		resp, body := s.do(http.MethodPost, "/ledger/batches", &s.manufacturer, map[string]any{
			"batch_id":         "BATCH-REG-DUP",
			"product_code":     "OTHER",
			"lot_number":       "L-0001",
			"category":         "vaccine",
			"quantity":         10,
			"expiration":       time.Now().Add(24 * time.Hour).Format(time.RFC3339),
			"certificate_hash": hashOf("other certificate"),
		})

		s.Equal(http.StatusConflict, resp.StatusCode)
		s.Equal("duplicate_batch", body["error"])
	})

	s.Run("non-manufacturer is rejected", func() {
		resp, body := s.do(http.MethodPost, "/ledger/batches", &s.distributor, map[string]any{
			"batch_id":         "BATCH-REG-2",
			"product_code":     "AMOX-500",
			"lot_number":       "L-2209",
			"category":         "antibiotic",
			"quantity":         100,
			"expiration":       time.Now().Add(24 * time.Hour).Format(time.RFC3339),
			"certificate_hash": hashOf("certificate"),
		})

		s.Equal(http.StatusForbidden, resp.StatusCode)
		s.Equal("unauthorized", body["error"])
	})

	s.Run("missing token is rejected before the handler", func() {
		resp, _ := s.do(http.MethodPost, "/ledger/batches", nil, map[string]any{})
		s.Equal(http.StatusUnauthorized, resp.StatusCode)
	})

	s.Run("malformed batch id is rejected", func() {
		resp, body := s.do(http.MethodPost, "/ledger/batches", &s.manufacturer, map[string]any{
			"batch_id": "no spaces allowed",
		})
		s.Equal(http.StatusBadRequest, resp.StatusCode)
		s.Equal("invalid_input", body["error"])
	})
}

func (s *HandlerSuite) TestReadingsAndFlagging() {
	s.registerBatch("BATCH-TEMP-1")
	base := time.Now().Truncate(time.Second)

	s.Run("in-range reading is compliant", func() {
		resp, body := s.logReading("BATCH-TEMP-1", 5.0, base)
		s.Equal(http.StatusOK, resp.StatusCode)
		s.Equal("compliant", body["result"])
	})

	s.Run("excursion flags the batch", func() {
		resp, body := s.logReading("BATCH-TEMP-1", 12.4, base.Add(time.Minute))
		s.Equal(http.StatusOK, resp.StatusCode)
		s.Equal("compromised", body["result"])
	})

	s.Run("out-of-order timestamp is rejected", func() {
		resp, body := s.logReading("BATCH-TEMP-1", 4.0, base.Add(-time.Hour))
		s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
		s.Equal("non_monotonic_timestamp", body["error"])
	})

	s.Run("flagged batch refuses transfer", func() {
		resp, body := s.do(http.MethodPost, "/ledger/batches/BATCH-TEMP-1/transfer", &s.manufacturer, map[string]any{
			"new_owner":     s.distributor.String(),
			"document_hash": hashOf("shipping manifest"),
		})
		s.Equal(http.StatusConflict, resp.StatusCode)
		s.Equal("transfer_blocked", body["error"])
	})

	s.Run("non-sensor cannot submit readings", func() {
		resp, body := s.do(http.MethodPost, "/ledger/batches/BATCH-TEMP-1/readings", &s.manufacturer, map[string]any{
			"reading_c":    5.0,
			"timestamp":    base.Add(2 * time.Minute).Format(time.RFC3339),
			"content_hash": hashOf("spoofed"),
		})
		s.Equal(http.StatusForbidden, resp.StatusCode)
		s.Equal("unauthorized", body["error"])
	})
}

func (s *HandlerSuite) TestTransferChain() {
	s.registerBatch("BATCH-XFER-1")

	s.Run("manufacturer transfers to licensed distributor", func() {
		resp, _ := s.do(http.MethodPost, "/ledger/batches/BATCH-XFER-1/transfer", &s.manufacturer, map[string]any{
			"new_owner":     s.distributor.String(),
			"document_hash": hashOf("manifest-1"),
		})
		s.Equal(http.StatusOK, resp.StatusCode)
	})

	s.Run("distributor transfers to licensed pharmacy", func() {
		resp, _ := s.do(http.MethodPost, "/ledger/batches/BATCH-XFER-1/transfer", &s.distributor, map[string]any{
			"new_owner":     s.pharmacy.String(),
			"document_hash": hashOf("manifest-2"),
		})
		s.Equal(http.StatusOK, resp.StatusCode)
	})

	s.Run("custody chain is publicly visible", func() {
		resp, body := s.do(http.MethodGet, "/verify/BATCH-XFER-1", nil, nil)
		s.Equal(http.StatusOK, resp.StatusCode)
		s.Equal(s.pharmacy.String(), body["owner"])
		chain, ok := body["custody_chain"].([]any)
		s.Require().True(ok)
		s.Len(chain, 2)
	})

	s.Run("former owner can no longer transfer", func() {
		resp, body := s.do(http.MethodPost, "/ledger/batches/BATCH-XFER-1/transfer", &s.manufacturer, map[string]any{
			"new_owner":     s.distributor.String(),
			"document_hash": hashOf("stale manifest"),
		})
		s.Equal(http.StatusConflict, resp.StatusCode)
		s.Equal("owner_mismatch", body["error"])
	})
}

func (s *HandlerSuite) TestOverrideAndCounterfeit() {
	s.registerBatch("BATCH-FLAG-1")
	base := time.Now().Truncate(time.Second)
	resp, _ := s.logReading("BATCH-FLAG-1", 15.0, base)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	s.Run("non-regulator cannot override", func() {
		resp, body := s.do(http.MethodPost, "/ledger/batches/BATCH-FLAG-1/override", &s.manufacturer, map[string]any{
			"hash": hashOf("self-serving justification"),
		})
		s.Equal(http.StatusForbidden, resp.StatusCode)
		s.Equal("unauthorized", body["error"])
	})

	s.Run("regulator override unblocks transfers", func() {
		resp, _ := s.do(http.MethodPost, "/ledger/batches/BATCH-FLAG-1/override", &s.regulator, map[string]any{
			"hash": hashOf("inspection report 44-A"),
		})
		s.Equal(http.StatusOK, resp.StatusCode)

		resp, _ = s.do(http.MethodPost, "/ledger/batches/BATCH-FLAG-1/transfer", &s.manufacturer, map[string]any{
			"new_owner":     s.distributor.String(),
			"document_hash": hashOf("post-override manifest"),
		})
		s.Equal(http.StatusOK, resp.StatusCode)
	})

	s.Run("override of an unflagged batch is rejected", func() {
		resp, body := s.do(http.MethodPost, "/ledger/batches/BATCH-FLAG-1/override", &s.regulator, map[string]any{
			"hash": hashOf("pointless override"),
		})
		s.Equal(http.StatusConflict, resp.StatusCode)
		s.Equal("invalid_transition", body["error"])
	})

	s.Run("counterfeit confirmation is terminal", func() {
		resp, _ := s.do(http.MethodPost, "/ledger/batches/BATCH-FLAG-1/counterfeit", &s.regulator, map[string]any{
			"hash": hashOf("lab analysis 9-C"),
		})
		s.Equal(http.StatusOK, resp.StatusCode)

		resp, body := s.do(http.MethodPost, "/ledger/batches/BATCH-FLAG-1/transfer", &s.distributor, map[string]any{
			"new_owner":     s.pharmacy.String(),
			"document_hash": hashOf("doomed manifest"),
		})
		s.Equal(http.StatusConflict, resp.StatusCode)
		s.Equal("transfer_blocked", body["error"])

		readResp, readBody := s.logReading("BATCH-FLAG-1", 5.0, base.Add(time.Hour))
		s.Equal(http.StatusConflict, readResp.StatusCode)
		s.Equal("terminal_state", readBody["error"])

		verifyResp, verifyBody := s.do(http.MethodGet, "/verify/BATCH-FLAG-1", nil, nil)
		s.Equal(http.StatusOK, verifyResp.StatusCode)
		s.Equal("counterfeit_confirmed", verifyBody["status"])
	})
}

func (s *HandlerSuite) TestVerify() {
	s.Run("unknown batch is not found", func() {
		resp, body := s.do(http.MethodGet, "/verify/NO-SUCH-BATCH", nil, nil)
		s.Equal(http.StatusNotFound, resp.StatusCode)
		s.Equal("not_found", body["error"])
	})

	s.Run("report includes compliance summary", func() {
		s.registerBatch("BATCH-VERIFY-1")
		base := time.Now().Truncate(time.Second)
		for i := 0; i < 3; i++ {
			resp, _ := s.logReading("BATCH-VERIFY-1", 4.5, base.Add(time.Duration(i)*time.Minute))
			s.Require().Equal(http.StatusOK, resp.StatusCode)
		}

		resp, body := s.do(http.MethodGet, "/verify/BATCH-VERIFY-1", nil, nil)
		s.Equal(http.StatusOK, resp.StatusCode)
		s.Equal("active", body["status"])
		compliance, ok := body["compliance"].(map[string]any)
		s.Require().True(ok)
		s.EqualValues(3, compliance["total_readings"])
	})
}

func (s *HandlerSuite) TestAuthzEndpoints() {
	newID := uuid.NewString()

	s.Run("create principal", func() {
		resp, body := s.do(http.MethodPost, "/authz/principals", &s.regulator, map[string]any{
			"principal_id": newID,
			"name":         "Harbour Clinic",
		})
		s.Equal(http.StatusCreated, resp.StatusCode)
		s.Equal(newID, body["principal_id"])
	})

	s.Run("grant and revoke role", func() {
		resp, _ := s.do(http.MethodPost, "/authz/roles", &s.regulator, map[string]any{
			"principal_id": newID,
			"role":         "pharmacy",
		})
		s.Equal(http.StatusOK, resp.StatusCode)

		resp, _ = s.do(http.MethodDelete, "/authz/roles", &s.regulator, map[string]any{
			"principal_id": newID,
			"role":         "pharmacy",
		})
		s.Equal(http.StatusOK, resp.StatusCode)
	})

	s.Run("revoking an absent role is not found", func() {
		resp, body := s.do(http.MethodDelete, "/authz/roles", &s.regulator, map[string]any{
			"principal_id": newID,
			"role":         "distributor",
		})
		s.Equal(http.StatusNotFound, resp.StatusCode)
		s.Equal("not_found", body["error"])
	})

	s.Run("issue license", func() {
		resp, _ := s.do(http.MethodPost, "/authz/licenses", &s.regulator, map[string]any{
			"principal_id": newID,
			"license_type": "pharmacy_dispensing",
			"authority":    "FMD Authority",
			"expires_at":   time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		})
		s.Equal(http.StatusCreated, resp.StatusCode)
	})
}
