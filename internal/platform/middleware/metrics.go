package middleware

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"custodia/internal/platform/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// CountRequests records one counter increment per handled request,
// labelled by the matched chi route pattern rather than the raw path
// so batch IDs do not explode metric cardinality.
func CountRequests(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			m.IncRequest(route, strconv.Itoa(rec.status))
		})
	}
}
