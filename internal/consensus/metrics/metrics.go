package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for consensus sessions.
type Metrics struct {
	Outcomes           *prometheus.CounterVec
	DiscardedJudgments prometheus.Counter
	QuorumUnavailable  prometheus.Counter
	DuplicateEvents    prometheus.Counter
	OracleFailures     prometheus.Counter
	Attestations       *prometheus.CounterVec
	OpenSessions       prometheus.Gauge
	CloseLatency       prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaguard_consensus_outcomes_total",
			Help: "Closed consensus sessions by outcome",
		}, []string{"outcome"}), // outcome: "validated", "disputed"

		DiscardedJudgments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mediaguard_consensus_discarded_judgments_total",
			Help: "Peer judgments discarded for unverifiable signatures",
		}),

		QuorumUnavailable: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mediaguard_consensus_quorum_unavailable_total",
			Help: "Sessions closed with no verified peer judgment",
		}),

		DuplicateEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mediaguard_consensus_duplicate_events_total",
			Help: "Redelivered content events ignored by the validator",
		}),

		OracleFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mediaguard_consensus_oracle_failures_total",
			Help: "Risk oracle calls that failed and fell back to an invalid judgment",
		}),

		Attestations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaguard_consensus_attestations_total",
			Help: "Co-signatures of consensus proofs by result",
		}, []string{"result"}), // result: "accepted", "duplicate", "rejected"

		OpenSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mediaguard_consensus_open_sessions",
			Help: "Consensus sessions currently accepting judgments",
		}),

		CloseLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediaguard_consensus_close_duration_seconds",
			Help:    "Duration of closing a consensus session, including registry and ledger writes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncOutcome(outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncDiscarded() {
	if m != nil {
		m.DiscardedJudgments.Inc()
	}
}

func (m *Metrics) IncQuorumUnavailable() {
	if m != nil {
		m.QuorumUnavailable.Inc()
	}
}

func (m *Metrics) IncDuplicateEvent() {
	if m != nil {
		m.DuplicateEvents.Inc()
	}
}

func (m *Metrics) IncOracleFailure() {
	if m != nil {
		m.OracleFailures.Inc()
	}
}

func (m *Metrics) IncAttestation(result string) {
	if m != nil {
		m.Attestations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.OpenSessions.Inc()
	}
}

func (m *Metrics) SessionClosed(d time.Duration) {
	if m != nil {
		m.OpenSessions.Dec()
		m.CloseLatency.Observe(d.Seconds())
	}
}
