package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/cucumber/godog"
	"github.com/google/uuid"

	"custodia/internal/authz"
	"custodia/internal/contentref"
	"custodia/internal/jwttoken"
	"custodia/internal/ledger"
	ledgerstore "custodia/internal/ledger/store"
	"custodia/internal/telemetry"
	"custodia/internal/transfer"
	httptransport "custodia/internal/transport/http"
	"custodia/internal/verify"
	id "custodia/pkg/domain"
	audit "custodia/pkg/platform/audit"
	auditmemory "custodia/pkg/platform/audit/store/memory"
)

// testContext runs the whole engine in-process against in-memory
// stores and drives it over HTTP, token middleware included.
type testContext struct {
	server   *httptest.Server
	tokens   *jwttoken.Service
	registry *authz.Service

	principals map[string]id.PrincipalID
	clocks     map[string]time.Time

	lastStatus int
	lastBody   map[string]any
}

func newTestContext() *testContext {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := audit.NewPublisher(auditmemory.New())
	registry := authz.NewService(authz.NewInMemoryStore(), pub)

	batches := ledgerstore.NewInMemory()
	refs := contentref.NewInMemory()

	ledgerSvc := ledger.NewService(batches, registry, pub,
		ledger.WithLogger(logger), ledger.WithContentRefs(refs))
	telemetrySvc := telemetry.NewService(batches, registry, pub, nil,
		telemetry.WithLogger(logger), telemetry.WithContentRefs(refs))
	transferSvc := transfer.NewService(batches, registry, pub,
		transfer.WithLogger(logger), transfer.WithContentRefs(refs))
	verifySvc := verify.NewService(batches)

	tokens := jwttoken.NewService("e2e-signing-key-e2e-signing-key", "custodia", "custodia-api")
	handler := httptransport.NewHandler(ledgerSvc, telemetrySvc, transferSvc, verifySvc, registry)

	return &testContext{
		server:     httptest.NewServer(httptransport.NewRouter(handler, tokens, nil, logger)),
		tokens:     tokens,
		registry:   registry,
		principals: make(map[string]id.PrincipalID),
		clocks:     make(map[string]time.Time),
	}
}

func (tc *testContext) teardown(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
	tc.server.Close()
	return ctx, err
}

func (tc *testContext) createPrincipal(name string, role id.Role) error {
	ctx := context.Background()
	principalID, err := id.ParsePrincipalID(uuid.NewString())
	if err != nil {
		return err
	}
	if _, err := tc.registry.CreatePrincipal(ctx, principalID, name); err != nil {
		return err
	}
	if err := tc.registry.GrantRole(ctx, principalID, role); err != nil {
		return err
	}
	tc.principals[name] = principalID
	return nil
}

func (tc *testContext) issueLicense(name string, licenseType id.LicenseType) error {
	principalID, ok := tc.principals[name]
	if !ok {
		return fmt.Errorf("unknown principal %q", name)
	}
	return tc.registry.IssueLicense(context.Background(), principalID, licenseType,
		"FMD Authority", time.Now().Add(365*24*time.Hour))
}

func (tc *testContext) aManufacturer(name string) error {
	return tc.createPrincipal(name, id.RoleManufacturer)
}

func (tc *testContext) aLicensedDistributor(name string) error {
	if err := tc.createPrincipal(name, id.RoleDistributor); err != nil {
		return err
	}
	return tc.issueLicense(name, id.LicenseWholesale)
}

func (tc *testContext) aLicensedPharmacy(name string) error {
	if err := tc.createPrincipal(name, id.RolePharmacy); err != nil {
		return err
	}
	return tc.issueLicense(name, id.LicensePharmacy)
}

func (tc *testContext) aRegulator(name string) error {
	return tc.createPrincipal(name, id.RoleRegulator)
}

func (tc *testContext) aColdChainSensor(name string) error {
	return tc.createPrincipal(name, id.RoleSensor)
}

func (tc *testContext) do(method, path, as string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, tc.server.URL+path, &buf)
	if err != nil {
		return err
	}
	if as != "" {
		principalID, ok := tc.principals[as]
		if !ok {
			return fmt.Errorf("unknown principal %q", as)
		}
		token, err := tc.tokens.GeneratePrincipalToken(principalID, time.Hour)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := tc.server.Client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tc.lastStatus = resp.StatusCode
	tc.lastBody = nil
	return json.NewDecoder(resp.Body).Decode(&tc.lastBody)
}

func hashOf(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func (tc *testContext) registersBatch(as, batchID string) error {
	return tc.do(http.MethodPost, "/ledger/batches", as, map[string]any{
		"batch_id":         batchID,
		"product_code":     "AMOX-500",
		"lot_number":       "L-2209",
		"category":         "antibiotic",
		"quantity":         1200,
		"expiration":       time.Now().Add(180 * 24 * time.Hour).Format(time.RFC3339),
		"certificate_hash": hashOf("certificate-" + batchID),
	})
}

func (tc *testContext) reportsDegrees(as string, valueC float64, batchID string) error {
	ts, ok := tc.clocks[batchID]
	if !ok {
		ts = time.Now().Truncate(time.Second)
	}
	ts = ts.Add(time.Minute)
	tc.clocks[batchID] = ts

	return tc.do(http.MethodPost, "/ledger/batches/"+batchID+"/readings", as, map[string]any{
		"reading_c":    valueC,
		"timestamp":    ts.Format(time.RFC3339),
		"content_hash": hashOf(batchID + ts.String()),
	})
}

func (tc *testContext) transfersBatch(as, batchID, to string) error {
	recipient, ok := tc.principals[to]
	if !ok {
		return fmt.Errorf("unknown principal %q", to)
	}
	return tc.do(http.MethodPost, "/ledger/batches/"+batchID+"/transfer", as, map[string]any{
		"new_owner":     recipient.String(),
		"document_hash": hashOf("manifest-" + batchID + to),
	})
}

func (tc *testContext) overridesFlag(as, batchID string) error {
	return tc.do(http.MethodPost, "/ledger/batches/"+batchID+"/override", as, map[string]any{
		"hash": hashOf("justification-" + batchID),
	})
}

func (tc *testContext) confirmsCounterfeit(as, batchID string) error {
	return tc.do(http.MethodPost, "/ledger/batches/"+batchID+"/counterfeit", as, map[string]any{
		"hash": hashOf("evidence-" + batchID),
	})
}

func (tc *testContext) anonymousVerifies(batchID string) error {
	return tc.do(http.MethodGet, "/verify/"+batchID, "", nil)
}

func (tc *testContext) responseStatusIs(status int) error {
	if tc.lastStatus != status {
		return fmt.Errorf("expected status %d, got %d (body %v)", status, tc.lastStatus, tc.lastBody)
	}
	return nil
}

func (tc *testContext) rejectedWith(code string) error {
	got, _ := tc.lastBody["error"].(string)
	if got != code {
		return fmt.Errorf("expected rejection %q, got %q (status %d, body %v)", code, got, tc.lastStatus, tc.lastBody)
	}
	return nil
}

func (tc *testContext) readingResultIs(result string) error {
	got, _ := tc.lastBody["result"].(string)
	if got != result {
		return fmt.Errorf("expected reading result %q, got %q (body %v)", result, got, tc.lastBody)
	}
	return nil
}

func (tc *testContext) reportShowsStatus(batchID, status string) error {
	if err := tc.anonymousVerifies(batchID); err != nil {
		return err
	}
	got, _ := tc.lastBody["status"].(string)
	if got != status {
		return fmt.Errorf("expected status %q, got %q", status, got)
	}
	return nil
}

func (tc *testContext) reportShowsOwner(batchID, owner string) error {
	if err := tc.anonymousVerifies(batchID); err != nil {
		return err
	}
	principalID, ok := tc.principals[owner]
	if !ok {
		return fmt.Errorf("unknown principal %q", owner)
	}
	got, _ := tc.lastBody["owner"].(string)
	if got != principalID.String() {
		return fmt.Errorf("expected owner %q (%s), got %q", owner, principalID, got)
	}
	return nil
}

func (tc *testContext) reportListsCustody(count int) error {
	chain, _ := tc.lastBody["custody_chain"].([]any)
	if len(chain) != count {
		return fmt.Errorf("expected %d custody entries, got %d", count, len(chain))
	}
	return nil
}

func (tc *testContext) reportListsReadings(count int) error {
	compliance, _ := tc.lastBody["compliance"].(map[string]any)
	total, _ := compliance["total_readings"].(float64)
	if int(total) != count {
		return fmt.Errorf("expected %d readings, got %v", count, total)
	}
	return nil
}
