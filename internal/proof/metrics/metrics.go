package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for proof generation and verification.
type Metrics struct {
	Verifications   *prometheus.CounterVec
	GenerateLatency prometheus.Histogram
}

// New registers proof metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaguard_proof_verifications_total",
			Help: "Ownership proof verifications by result",
		}, []string{"result"}), // result: "valid", "invalid", "revoked", "lookup_error"

		GenerateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediaguard_proof_generate_duration_seconds",
			Help:    "Duration of ownership proof generation",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
		}),
	}
}

func (m *Metrics) IncVerification(result string) {
	if m != nil {
		m.Verifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveGenerate(d time.Duration) {
	if m != nil {
		m.GenerateLatency.Observe(d.Seconds())
	}
}
