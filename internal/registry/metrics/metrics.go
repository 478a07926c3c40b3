package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ownership registry.
type Metrics struct {
	Registrations    *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
	EventsRecorded   *prometheus.CounterVec
	CASRetries       prometheus.Counter
	RiskScore        prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Registrations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaguard_registry_registrations_total",
			Help: "Registration attempts by outcome",
		}, []string{"outcome"}), // outcome: "created", "idempotent", "duplicate", "proof_invalid"

		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaguard_registry_state_transitions_total",
			Help: "Content record validation state transitions",
		}, []string{"from", "to"}),

		EventsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaguard_registry_events_recorded_total",
			Help: "Content events appended to the registry by type",
		}, []string{"event_type"}),

		CASRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mediaguard_registry_cas_retries_total",
			Help: "Compare-and-swap retries caused by concurrent state updates",
		}),

		RiskScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediaguard_registry_usage_risk_score",
			Help:    "Distribution of computed usage risk scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.8, 1},
		}),
	}
}

func (m *Metrics) IncRegistration(outcome string) {
	if m != nil {
		m.Registrations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncStateTransition(from, to string) {
	if m != nil {
		m.StateTransitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) IncEventRecorded(eventType string) {
	if m != nil {
		m.EventsRecorded.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) IncCASRetry() {
	if m != nil {
		m.CASRetries.Inc()
	}
}

func (m *Metrics) ObserveRiskScore(score float64) {
	if m != nil {
		m.RiskScore.Observe(score)
	}
}
