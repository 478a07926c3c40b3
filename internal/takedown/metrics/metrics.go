package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the takedown orchestrator.
type Metrics struct {
	Submissions       *prometheus.CounterVec
	PlatformResponses *prometheus.CounterVec
	PlatformDuration  *prometheus.HistogramVec
	BreakerRejections *prometheus.CounterVec
	Escalations       prometheus.Counter
	EmergencyRequests prometheus.Counter
	StatusChanges     *prometheus.CounterVec
	Compliance        prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaguard_takedown_submissions_total",
			Help: "Takedown submissions by outcome",
		}, []string{"outcome"}), // outcome: "accepted", "unauthorized", "bad_request", "not_found"

		PlatformResponses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaguard_takedown_platform_responses_total",
			Help: "Platform responses by platform and status",
		}, []string{"platform_id", "status"}),

		PlatformDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mediaguard_takedown_platform_duration_seconds",
			Help:    "Duration of platform takedown submissions",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform_id"}),

		BreakerRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaguard_takedown_breaker_rejections_total",
			Help: "Platform calls skipped because the circuit was open",
		}, []string{"platform_id"}),

		Escalations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mediaguard_takedown_legal_escalations_total",
			Help: "Requests escalated for legal follow-up",
		}),

		EmergencyRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mediaguard_takedown_emergency_requests_total",
			Help: "Requests filed with emergency urgency",
		}),

		StatusChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaguard_takedown_status_changes_total",
			Help: "Request status changes by target status",
		}, []string{"status"}),

		Compliance: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediaguard_takedown_compliance_percentage",
			Help:    "Compliance percentage of settled requests",
			Buckets: []float64{0, 20, 40, 50, 60, 80, 100},
		}),
	}
}

func (m *Metrics) IncSubmission(outcome string) {
	if m != nil {
		m.Submissions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObservePlatformCall(platformID, status string, d time.Duration) {
	if m != nil {
		m.PlatformResponses.WithLabelValues(platformID, status).Inc()
		m.PlatformDuration.WithLabelValues(platformID).Observe(d.Seconds())
	}
}

func (m *Metrics) IncPlatformResponse(platformID, status string) {
	if m != nil {
		m.PlatformResponses.WithLabelValues(platformID, status).Inc()
	}
}

func (m *Metrics) IncBreakerRejection(platformID string) {
	if m != nil {
		m.BreakerRejections.WithLabelValues(platformID).Inc()
	}
}

func (m *Metrics) IncEscalation() {
	if m != nil {
		m.Escalations.Inc()
	}
}

func (m *Metrics) IncEmergency() {
	if m != nil {
		m.EmergencyRequests.Inc()
	}
}

func (m *Metrics) IncStatusChange(status string) {
	if m != nil {
		m.StatusChanges.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) ObserveCompliance(pct float64) {
	if m != nil {
		m.Compliance.Observe(pct)
	}
}
