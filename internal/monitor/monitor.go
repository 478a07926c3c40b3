// Package monitor periodically scans every platform for every registered
// content hash. New sightings are fed to the consensus validator as upload
// events, and sightings the owner has not permitted raise security alerts.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mediaguard/internal/monitor/metrics"
	"mediaguard/internal/platform/workqueue"
	registrymodels "mediaguard/internal/registry/models"
	"mediaguard/internal/takedown/platforms"
	"mediaguard/pkg/domain"
	"mediaguard/pkg/platform/audit"
	"mediaguard/pkg/platform/sentinel"
	"mediaguard/pkg/requestcontext"
)

// detectionNamespace derives stable event ids from platform sightings, so a
// sighting reported by several sweeps is one event.
var detectionNamespace = uuid.MustParse("5b0e8f8e-4c1a-4c36-9a59-6b1f0d2f3c11")

type Registry interface {
	ListContentHashes(ctx context.Context) ([]domain.ContentHash, error)
	FindByHash(ctx context.Context, hash domain.ContentHash) (*registrymodels.ContentRecord, error)
}

// Observer receives detections as content events.
type Observer interface {
	Observe(ctx context.Context, event *registrymodels.ContentEvent) (*registrymodels.ContentEvent, bool, error)
}

type PlatformLister interface {
	All() []platforms.Platform
}

type Queue interface {
	Submit(task workqueue.Task) error
}

type SecurityAuditor interface {
	EmitSecurity(ctx context.Context, event audit.SecurityEvent) error
}

// AlertUnauthorizedUsage is the only alert type the monitor raises.
const AlertUnauthorizedUsage = "unauthorized_usage"

// SecurityAlert reports content seen where its owner has not permitted it.
type SecurityAlert struct {
	Type        string             `json:"type"`
	Severity    audit.Severity     `json:"severity"`
	ContentHash domain.ContentHash `json:"content_hash"`
	PlatformID  string             `json:"platform_id"`
	EventID     domain.EventID     `json:"event_id"`
	ExternalID  string             `json:"external_id"`
	DetectedAt  time.Time          `json:"detected_at"`
}

type Monitor struct {
	registry  Registry
	observer  Observer
	platforms PlatformLister
	queue     Queue
	auditor   SecurityAuditor
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Monitor)

func WithSecurityAuditor(a SecurityAuditor) Option {
	return func(m *Monitor) {
		m.auditor = a
	}
}

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = mt
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

func New(registry Registry, observer Observer, lister PlatformLister, queue Queue, opts ...Option) *Monitor {
	m := &Monitor{
		registry:  registry,
		observer:  observer,
		platforms: lister,
		queue:     queue,
		interval:  30 * time.Second,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	return m
}

// Run sweeps every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.ErrorContext(ctx, "usage sweep failed", "error", err)
			}
		}
	}
}

// SweepResult counts the scans one sweep scheduled and the ones the queue
// refused.
type SweepResult struct {
	Scheduled int
	Refused   int
}

// Sweep schedules one scan per registered content hash and platform. A full
// queue drops the remaining scans of this sweep; the next sweep retries them.
func (m *Monitor) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	var res SweepResult
	hashes, err := m.registry.ListContentHashes(ctx)
	if err != nil {
		return res, err
	}
	targets := m.platforms.All()
	for _, hash := range hashes {
		for _, p := range targets {
			err := m.queue.Submit(workqueue.Task{
				Name: "scan:" + p.ID(),
				Run:  m.scanTask(p, hash),
			})
			switch {
			case err == nil:
				res.Scheduled++
			case errors.Is(err, sentinel.ErrQueueFull):
				res.Refused++
				m.metrics.IncScanRefused()
			default:
				return res, err
			}
		}
	}
	if res.Refused > 0 {
		m.logger.WarnContext(ctx, "work queue full, scans deferred to next sweep",
			"scheduled", res.Scheduled,
			"refused", res.Refused,
		)
	}
	m.metrics.ObserveSweep(time.Since(start))
	return res, nil
}

func (m *Monitor) scanTask(p platforms.Platform, hash domain.ContentHash) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := m.Scan(ctx, p, hash)
		return err
	}
}

// Scan looks for hash on one platform and records every new sighting. It
// returns the alerts raised.
func (m *Monitor) Scan(ctx context.Context, p platforms.Platform, hash domain.ContentHash) ([]SecurityAlert, error) {
	record, err := m.registry.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	detections, err := p.ScanForContent(ctx, hash)
	if err != nil {
		m.metrics.IncScanFailure(p.ID())
		m.logger.WarnContext(ctx, "platform scan failed",
			"platform_id", p.ID(),
			"content_hash", hash.String(),
			"category", string(platforms.GetCategory(err)),
			"error", err,
		)
		return nil, err
	}

	var alerts []SecurityAlert
	for _, d := range detections {
		if d.ContentHash != hash {
			continue
		}
		event, fresh, err := m.observer.Observe(ctx, detectionEvent(p.ID(), record, d, requestcontext.Now(ctx)))
		if err != nil {
			m.logger.WarnContext(ctx, "detection not recorded",
				"platform_id", p.ID(),
				"external_id", d.ExternalID,
				"error", err,
			)
			continue
		}
		if !fresh {
			continue
		}
		m.metrics.IncDetection(p.ID())

		permitted, err := p.ValidatePermission(ctx, hash, record.IdentityHash.String())
		if err != nil {
			m.logger.WarnContext(ctx, "permission check failed",
				"platform_id", p.ID(),
				"content_hash", hash.String(),
				"error", err,
			)
			continue
		}
		if permitted {
			continue
		}
		alert := SecurityAlert{
			Type:        AlertUnauthorizedUsage,
			Severity:    severityFor(record.PrivacyLevel),
			ContentHash: hash,
			PlatformID:  p.ID(),
			EventID:     event.EventID,
			ExternalID:  d.ExternalID,
			DetectedAt:  event.Timestamp,
		}
		m.raise(ctx, alert)
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func detectionEvent(platformID string, record *registrymodels.ContentRecord, d platforms.Detection, now time.Time) *registrymodels.ContentEvent {
	metadata := make(map[string]string, len(d.Metadata)+1)
	for k, v := range d.Metadata {
		metadata[k] = v
	}
	metadata["external_id"] = d.ExternalID
	at := d.Timestamp
	if at.IsZero() {
		at = now
	}
	return &registrymodels.ContentEvent{
		EventID:      domain.EventID(uuid.NewSHA1(detectionNamespace, []byte(platformID+"/"+d.ExternalID))),
		ContentHash:  record.ContentHash,
		IdentityHash: record.IdentityHash,
		Type:         registrymodels.EventUpload,
		PlatformID:   platformID,
		Timestamp:    at,
		Metadata:     metadata,
	}
}

func severityFor(privacy registrymodels.PrivacyLevel) audit.Severity {
	if privacy == registrymodels.PrivacyPublic {
		return audit.SeverityWarning
	}
	return audit.SeverityCritical
}

func (m *Monitor) raise(ctx context.Context, alert SecurityAlert) {
	m.metrics.IncAlert(string(alert.Severity))
	m.logger.WarnContext(ctx, "unauthorized usage detected",
		"content_hash", alert.ContentHash.String(),
		"platform_id", alert.PlatformID,
		"event_id", alert.EventID.String(),
		"severity", string(alert.Severity),
	)
	if m.auditor == nil {
		return
	}
	err := m.auditor.EmitSecurity(ctx, audit.SecurityEvent{
		Timestamp:  alert.DetectedAt,
		Subject:    alert.ContentHash.String(),
		Action:     audit.EventUnauthorizedUsage,
		PlatformID: alert.PlatformID,
		Reason:     alert.Type + " external_id=" + alert.ExternalID,
		Severity:   alert.Severity,
		RequestID:  requestcontext.RequestID(ctx),
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "security alert audit failed", "event_id", alert.EventID.String(), "error", err)
	}
}
