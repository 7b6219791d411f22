package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for ledger operations.
type Metrics struct {
	BatchesRegistered prometheus.Counter
	ReadingsIngested  *prometheus.CounterVec
	Transfers         prometheus.Counter
	FlagsRaised       *prometheus.CounterVec
	FlagsOverridden   prometheus.Counter
	OperationDuration *prometheus.HistogramVec
}

// New creates and registers all ledger metrics.
func New() *Metrics {
	return &Metrics{
		BatchesRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_batches_registered_total",
			Help: "Total number of batches registered on the ledger",
		}),
		ReadingsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_readings_ingested_total",
			Help: "Total telemetry readings ingested, by compliance outcome",
		}, []string{"outcome"}),
		Transfers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_transfers_total",
			Help: "Total custody transfers appended",
		}),
		FlagsRaised: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_flags_raised_total",
			Help: "Total flags raised, by kind",
		}, []string{"kind"}),
		FlagsOverridden: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_flags_overridden_total",
			Help: "Total compromised flags cleared by regulator override",
		}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "custodia_operation_duration_seconds",
			Help:    "Duration of ledger mutating operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncBatchesRegistered() {
	if m == nil {
		return
	}
	m.BatchesRegistered.Inc()
}

func (m *Metrics) IncTransfers() {
	if m == nil {
		return
	}
	m.Transfers.Inc()
}

func (m *Metrics) IncOverrides() {
	if m == nil {
		return
	}
	m.FlagsOverridden.Inc()
}

func (m *Metrics) IncReadings(outcome string) {
	if m == nil {
		return
	}
	m.ReadingsIngested.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncFlags(kind string) {
	if m == nil {
		return
	}
	m.FlagsRaised.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveOperation(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation).Observe(seconds)
}
