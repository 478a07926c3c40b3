package models

import (
	"fmt"
	"time"

	"mediaguard/internal/proof"
	"mediaguard/pkg/domain"
	dErrors "mediaguard/pkg/domain-errors"
)

const (
	// ComplianceWindow is the fixed time platforms have to act on a request.
	ComplianceWindow = 48 * time.Hour
	// UrgentThreshold marks a deadline as urgent when less time remains.
	UrgentThreshold = 12 * time.Hour

	CompliantPercentage  = 80.0
	EscalationPercentage = 50.0
)

// LegalBasis is the ground a takedown is filed under.
type LegalBasis string

const (
	BasisNCII          LegalBasis = "ncii"
	BasisDeepfake      LegalBasis = "deepfake"
	BasisIdentityTheft LegalBasis = "identity_theft"
	BasisExtortion     LegalBasis = "extortion"
	BasisHarassment    LegalBasis = "harassment"
	BasisImpersonation LegalBasis = "impersonation"
)

func (b LegalBasis) IsValid() bool {
	switch b {
	case BasisNCII, BasisDeepfake, BasisIdentityTheft, BasisExtortion, BasisHarassment, BasisImpersonation:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyStandard  Urgency = "standard"
	UrgencyExpedited Urgency = "expedited"
	UrgencyEmergency Urgency = "emergency"
)

// UrgencyFor is the fixed lookup from legal basis to urgency.
func UrgencyFor(b LegalBasis) Urgency {
	switch b {
	case BasisExtortion, BasisHarassment:
		return UrgencyEmergency
	case BasisDeepfake, BasisNCII:
		return UrgencyExpedited
	default:
		return UrgencyStandard
	}
}

// Status is the lifecycle of a takedown request. Moves only go forward;
// completed and rejected are terminal.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusCompleted  Status = "completed"
)

func (s Status) rank() int {
	switch s {
	case StatusSubmitted:
		return 0
	case StatusProcessing:
		return 1
	case StatusApproved:
		return 2
	case StatusCompleted, StatusRejected:
		return 3
	}
	return -1
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// CanTransitionTo reports whether s may move to next. Any non-terminal
// status may be rejected; otherwise moves must advance.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() || next.rank() < 0 {
		return false
	}
	if next == StatusRejected {
		return true
	}
	return next.rank() > s.rank()
}

// ResponseStatus is a platform's answer to a takedown.
type ResponseStatus string

const (
	ResponsePending  ResponseStatus = "pending"
	ResponseRemoved  ResponseStatus = "removed"
	ResponseRejected ResponseStatus = "rejected"
	ResponseError    ResponseStatus = "error"
)

func (r ResponseStatus) IsValid() bool {
	switch r {
	case ResponsePending, ResponseRemoved, ResponseRejected, ResponseError:
		return true
	}
	return false
}

// PlatformResponse is the latest known answer of one targeted platform.
type PlatformResponse struct {
	PlatformID      string         `json:"platform_id"`
	Status          ResponseStatus `json:"status"`
	ResponseTimeMs  int64          `json:"response_time_ms"`
	RemovalTime     *time.Time     `json:"removal_time,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	ExternalID      string         `json:"external_id,omitempty"`
	RecordedAt      time.Time      `json:"recorded_at"`
}

// IdentityProof is an ownership proof plus the requester's signature over
// the canonical request payload.
type IdentityProof struct {
	Proof     proof.OwnershipProof `json:"proof"`
	Signature []byte               `json:"signature"`
}

// TakedownRequest is a deadline-bound removal demand. The deadline is fixed
// at creation.
type TakedownRequest struct {
	RequestID          domain.RequestID            `json:"request_id"`
	ContentHash        domain.ContentHash          `json:"content_hash"`
	IdentityHash       domain.IdentityHash         `json:"identity_hash"`
	Platforms          []string                    `json:"platforms"`
	IdentityProof      IdentityProof               `json:"identity_proof"`
	LegalBasis         LegalBasis                  `json:"legal_basis"`
	Urgency            Urgency                     `json:"urgency"`
	SubmissionTime     time.Time                   `json:"submission_time"`
	ComplianceDeadline time.Time                   `json:"compliance_deadline"`
	Status             Status                      `json:"status"`
	Responses          map[string]PlatformResponse `json:"responses"`
	EvidenceRef        string                      `json:"evidence_ref,omitempty"`
	EscalatedAt        *time.Time                  `json:"escalated_at,omitempty"`
	RejectionReason    string                      `json:"rejection_reason,omitempty"`
	Version            int                         `json:"version"`
}

// NewTakedownRequest builds a submitted request targeting platforms. Every
// platform starts with a pending response.
func NewTakedownRequest(content domain.ContentHash, identity domain.IdentityHash, platforms []string, basis LegalBasis, ip IdentityProof, now time.Time) (*TakedownRequest, error) {
	if content.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "content hash is required")
	}
	if !basis.IsValid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown legal basis %q", basis))
	}
	r := &TakedownRequest{
		RequestID:          domain.NewRequestID(),
		ContentHash:        content,
		IdentityHash:       identity,
		Platforms:          append([]string(nil), platforms...),
		IdentityProof:      ip,
		LegalBasis:         basis,
		Urgency:            UrgencyFor(basis),
		SubmissionTime:     now,
		ComplianceDeadline: now.Add(ComplianceWindow),
		Status:             StatusSubmitted,
		Responses:          make(map[string]PlatformResponse, len(platforms)),
		Version:            1,
	}
	for _, p := range platforms {
		r.Responses[p] = PlatformResponse{PlatformID: p, Status: ResponsePending, RecordedAt: now}
	}
	return r, nil
}

// Targets reports whether platformID is one of the request's platforms.
func (r *TakedownRequest) Targets(platformID string) bool {
	_, ok := r.Responses[platformID]
	return ok
}

// Clone returns a deep copy.
func (r *TakedownRequest) Clone() *TakedownRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Platforms = append([]string(nil), r.Platforms...)
	c.IdentityProof.Proof.ProofBlob = append([]byte(nil), r.IdentityProof.Proof.ProofBlob...)
	c.IdentityProof.Proof.PublicSignals = append([]string(nil), r.IdentityProof.Proof.PublicSignals...)
	c.IdentityProof.Signature = append([]byte(nil), r.IdentityProof.Signature...)
	c.Responses = make(map[string]PlatformResponse, len(r.Responses))
	for k, v := range r.Responses {
		if v.RemovalTime != nil {
			t := *v.RemovalTime
			v.RemovalTime = &t
		}
		c.Responses[k] = v
	}
	if r.EscalatedAt != nil {
		t := *r.EscalatedAt
		c.EscalatedAt = &t
	}
	return &c
}

type OverallStatus string

const (
	OverallCompliant    OverallStatus = "compliant"
	OverallPartial      OverallStatus = "partial"
	OverallNonCompliant OverallStatus = "non_compliant"
	OverallPending      OverallStatus = "pending"
)

// ComplianceAction is a notable platform outcome.
type ComplianceAction struct {
	Action     string    `json:"action"`
	PlatformID string    `json:"platform_id"`
	Timestamp  time.Time `json:"timestamp"`
	Details    string    `json:"details"`
}

// ComplianceResult is derived from a request; it is never stored.
type ComplianceResult struct {
	RequestID            domain.RequestID   `json:"request_id"`
	PerPlatformResponses []PlatformResponse `json:"per_platform_responses"`
	OverallStatus        OverallStatus      `json:"overall_status"`
	CompliancePercentage float64            `json:"compliance_percentage"`
	LegalEscalation      bool               `json:"legal_escalation"`
	Settled              bool               `json:"settled"`
	ActionsTaken         []ComplianceAction `json:"actions_taken"`
}

// DeadlineStatus is the read-only view returned by MonitorDeadline.
type DeadlineStatus struct {
	RequestID      domain.RequestID `json:"request_id"`
	HoursRemaining float64          `json:"hours_remaining"`
	Expired        bool             `json:"expired"`
	Urgent         bool             `json:"urgent"`
	Status         Status           `json:"status"`
}

// RequestView pairs a request with its current compliance.
type RequestView struct {
	Request    *TakedownRequest `json:"request"`
	Compliance ComplianceResult `json:"compliance"`
}
