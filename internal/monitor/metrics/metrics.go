package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the usage monitor.
type Metrics struct {
	Sweeps        prometheus.Counter
	SweepDuration prometheus.Histogram
	ScansRefused  prometheus.Counter
	ScanFailures  *prometheus.CounterVec
	Detections    *prometheus.CounterVec
	Alerts        *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Sweeps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mediaguard_monitor_sweeps_total",
			Help: "Completed scheduling sweeps",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediaguard_monitor_sweep_duration_seconds",
			Help:    "Time to schedule one sweep",
			Buckets: prometheus.DefBuckets,
		}),
		ScansRefused: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mediaguard_monitor_scans_refused_total",
			Help: "Scans not scheduled because the work queue was full",
		}),
		ScanFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaguard_monitor_scan_failures_total",
			Help: "Platform scans that failed",
		}, []string{"platform_id"}),
		Detections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaguard_monitor_detections_total",
			Help: "New sightings of registered content",
		}, []string{"platform_id"}),
		Alerts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaguard_monitor_security_alerts_total",
			Help: "Security alerts raised by severity",
		}, []string{"severity"}),
	}
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m != nil {
		m.Sweeps.Inc()
		m.SweepDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncScanRefused() {
	if m != nil {
		m.ScansRefused.Inc()
	}
}

func (m *Metrics) IncScanFailure(platformID string) {
	if m != nil {
		m.ScanFailures.WithLabelValues(platformID).Inc()
	}
}

func (m *Metrics) IncDetection(platformID string) {
	if m != nil {
		m.Detections.WithLabelValues(platformID).Inc()
	}
}

func (m *Metrics) IncAlert(severity string) {
	if m != nil {
		m.Alerts.WithLabelValues(severity).Inc()
	}
}
