package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal significance: registrations,
	// takedown submissions and their outcomes. Long retention, fail-closed writes.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers unauthorized usage detections and rejected proofs.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// Subject is the primary key of the affected resource: a content hash or
	// a takedown request id.
	Subject      string
	Action       string
	IdentityHash string
	PlatformID   string
	Decision     string
	Reason       string
	Severity     Severity
	RequestID    string
	ActorID      string
}

type AuditEvent string

const (
	EventContentRegistered   AuditEvent = "content_registered"
	EventContentStateChanged AuditEvent = "content_state_changed"
	EventConsensusRecorded   AuditEvent = "consensus_recorded"

	EventTakedownSubmitted AuditEvent = "takedown_submitted"
	EventTakedownApproved  AuditEvent = "takedown_approved"
	EventTakedownEscalated AuditEvent = "takedown_escalated"
	EventTakedownRejected  AuditEvent = "takedown_rejected"
	EventTakedownCompleted AuditEvent = "takedown_completed"

	EventProofRejected     AuditEvent = "proof_rejected"
	EventUnauthorizedUsage AuditEvent = "unauthorized_usage_detected"

	EventPlatformResponse AuditEvent = "platform_response_recorded"
	EventScanCompleted    AuditEvent = "scan_completed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventContentRegistered:   CategoryCompliance,
	EventContentStateChanged: CategoryCompliance,
	EventConsensusRecorded:   CategoryCompliance,
	EventTakedownSubmitted:   CategoryCompliance,
	EventTakedownApproved:    CategoryCompliance,
	EventTakedownEscalated:   CategoryCompliance,
	EventTakedownRejected:    CategoryCompliance,
	EventTakedownCompleted:   CategoryCompliance,

	EventProofRejected:     CategorySecurity,
	EventUnauthorizedUsage: CategorySecurity,

	EventPlatformResponse: CategoryOperations,
	EventScanCompleted:    CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ComplianceEvent captures legally significant actions requiring guaranteed persistence.
type ComplianceEvent struct {
	Timestamp    time.Time
	Subject      string // content hash or request id (required)
	Action       AuditEvent
	IdentityHash string
	Decision     string
	Reason       string
	RequestID    string
	ActorID      string
}

func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:     CategoryCompliance,
		Timestamp:    e.Timestamp,
		Subject:      e.Subject,
		Action:       string(e.Action),
		IdentityHash: e.IdentityHash,
		Decision:     e.Decision,
		Reason:       e.Reason,
		RequestID:    e.RequestID,
		ActorID:      e.ActorID,
	}
}

// SecurityEvent captures detections that feed alerting.
type SecurityEvent struct {
	Timestamp  time.Time
	Subject    string
	Action     AuditEvent
	PlatformID string
	Reason     string
	Severity   Severity
	RequestID  string
}

func (e SecurityEvent) ToEvent() Event {
	return Event{
		Category:   CategorySecurity,
		Timestamp:  e.Timestamp,
		Subject:    e.Subject,
		Action:     string(e.Action),
		PlatformID: e.PlatformID,
		Reason:     e.Reason,
		Severity:   e.Severity,
		RequestID:  e.RequestID,
	}
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}
