// Package httptransport is the thin HTTP layer. It delegates to domain
// services without embedding business logic so transport concerns
// remain isolated.
package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/internal/platform/metrics"
	"custodia/internal/platform/middleware"
	dErrors "custodia/pkg/domain-errors"
)

// NewRouter wires all endpoints. Mutating operations require a
// principal token; the verification query is public.
func NewRouter(h *Handler, validator middleware.TokenValidator, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.CountRequests(m))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Public verification: no authorization required.
	r.Get("/verify/{batchID}", h.handleVerify)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequirePrincipal(validator, logger))

		r.Route("/ledger/batches", func(r chi.Router) {
			r.Post("/", h.handleRegisterBatch)
			r.Post("/{batchID}/readings", h.handleLogReading)
			r.Post("/{batchID}/transfer", h.handleTransfer)
			r.Post("/{batchID}/override", h.handleOverrideFlag)
			r.Post("/{batchID}/counterfeit", h.handleFlagCounterfeit)
		})

		r.Route("/authz", func(r chi.Router) {
			r.Post("/principals", h.handleCreatePrincipal)
			r.Post("/roles", h.handleGrantRole)
			r.Delete("/roles", h.handleRevokeRole)
			r.Post("/licenses", h.handleIssueLicense)
		})
	})

	return r
}

// writeError translates a domain error into the JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(dErrors.ToHTTPStatus(code))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": string(code),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
