package models

import (
	"fmt"
	"time"

	"mediaguard/internal/proof"
	"mediaguard/pkg/domain"
	dErrors "mediaguard/pkg/domain-errors"
)

// PrivacyLevel controls who may see a registration.
type PrivacyLevel string

const (
	PrivacyPublic     PrivacyLevel = "public"
	PrivacyPrivate    PrivacyLevel = "private"
	PrivacyRestricted PrivacyLevel = "restricted"
)

func (p PrivacyLevel) IsValid() bool {
	switch p {
	case PrivacyPublic, PrivacyPrivate, PrivacyRestricted:
		return true
	}
	return false
}

// ValidationState is the lifecycle position of a content record.
type ValidationState string

const (
	StatePending          ValidationState = "pending"
	StateValidated        ValidationState = "validated"
	StateDisputed         ValidationState = "disputed"
	StateTakedownApproved ValidationState = "takedown_approved"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ValidationState) IsTerminal() bool {
	return s == StateTakedownApproved
}

// CanTransitionTo enforces the record state machine:
// pending -> validated|disputed, validated <-> disputed, any non-terminal -> takedown_approved.
func (s ValidationState) CanTransitionTo(next ValidationState) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case StateValidated, StateDisputed, StateTakedownApproved:
		return true
	}
	return false
}

// EventType is the action observed on a content hash.
type EventType string

const (
	EventUpload          EventType = "upload"
	EventView            EventType = "view"
	EventShare           EventType = "share"
	EventModify          EventType = "modify"
	EventDelete          EventType = "delete"
	EventTakedownRequest EventType = "takedown_request"
)

func (t EventType) IsValid() bool {
	switch t {
	case EventUpload, EventView, EventShare, EventModify, EventDelete, EventTakedownRequest:
		return true
	}
	return false
}

// affectsHosting reports whether the event says something about whether a
// platform currently serves the content.
func (t EventType) affectsHosting() bool {
	return t != EventTakedownRequest
}

// EventState is the consensus outcome of a single content event.
type EventState string

const (
	EventUnvalidated EventState = "unvalidated"
	EventValidated   EventState = "validated"
	EventDisputed    EventState = "disputed"
)

// ConsensusProof records which validators attested to an event and with what
// aggregate confidence. Signatures[i] belongs to ValidatorNodes[i].
type ConsensusProof struct {
	ValidatorNodes     []string  `json:"validator_nodes"`
	Signatures         [][]byte  `json:"signatures"`
	MerkleRoot         string    `json:"merkle_root"`
	BlockHeight        uint64    `json:"block_height"`
	ConsensusTimestamp time.Time `json:"consensus_timestamp"`
	ValidationScore    float64   `json:"validation_score"`
	// AgreeingJudgments is the number of judgments averaged into ValidationScore.
	AgreeingJudgments int `json:"agreeing_judgments"`
}

// Validate checks the structural invariants of a consensus proof.
func (p *ConsensusProof) Validate() error {
	if len(p.Signatures) != len(p.ValidatorNodes) {
		return fmt.Errorf("consensus proof has %d signatures for %d validators", len(p.Signatures), len(p.ValidatorNodes))
	}
	if p.ValidationScore < 0 || p.ValidationScore > 1 {
		return fmt.Errorf("validation score %f out of range [0, 1]", p.ValidationScore)
	}
	return nil
}

// ContentRecord is the registry entry for one content hash.
type ContentRecord struct {
	ContentHash      domain.ContentHash    `json:"content_hash"`
	RegistrationID   domain.RegistrationID `json:"registration_id"`
	IdentityHash     domain.IdentityHash   `json:"identity_hash"`
	RegistrationTime time.Time             `json:"registration_time"`
	PrivacyLevel     PrivacyLevel          `json:"privacy_level"`
	ValidationState  ValidationState       `json:"validation_state"`
	StorageRef       string                `json:"storage_ref,omitempty"`
	Proof            proof.OwnershipProof  `json:"ownership_proof"`
	LatestConsensus  *ConsensusProof       `json:"latest_consensus_proof,omitempty"`
	Version          int64                 `json:"version"`
}

// NewContentRecord builds a pending record, validating its invariants.
func NewContentRecord(content domain.ContentHash, identity domain.IdentityHash, privacy PrivacyLevel, p proof.OwnershipProof, now time.Time) (*ContentRecord, error) {
	if content.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "content hash is required")
	}
	if identity.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "identity hash is required")
	}
	if privacy == "" {
		privacy = PrivacyPrivate
	}
	if !privacy.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown privacy level")
	}
	return &ContentRecord{
		ContentHash:      content,
		RegistrationID:   domain.NewRegistrationID(),
		IdentityHash:     identity,
		RegistrationTime: now,
		PrivacyLevel:     privacy,
		ValidationState:  StatePending,
		Proof:            p,
		Version:          1,
	}, nil
}

// Clone returns a deep copy safe to hand out of a store.
func (r *ContentRecord) Clone() *ContentRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Proof.PublicSignals = append([]string(nil), r.Proof.PublicSignals...)
	c.Proof.ProofBlob = append([]byte(nil), r.Proof.ProofBlob...)
	c.LatestConsensus = r.LatestConsensus.Clone()
	return &c
}

// Clone returns a deep copy.
func (p *ConsensusProof) Clone() *ConsensusProof {
	if p == nil {
		return nil
	}
	c := *p
	c.ValidatorNodes = append([]string(nil), p.ValidatorNodes...)
	c.Signatures = make([][]byte, len(p.Signatures))
	for i, sig := range p.Signatures {
		c.Signatures[i] = append([]byte(nil), sig...)
	}
	return &c
}

// StateTransition is one append-only history entry of a record.
type StateTransition struct {
	ContentHash domain.ContentHash `json:"content_hash"`
	Seq         int64              `json:"seq"`
	From        ValidationState    `json:"from"`
	To          ValidationState    `json:"to"`
	EventID     *domain.EventID    `json:"event_id,omitempty"`
	Reason      string             `json:"reason"`
	At          time.Time          `json:"at"`
}

// ContentEvent is one observed action on a content hash.
type ContentEvent struct {
	EventID           domain.EventID      `json:"event_id"`
	ContentHash       domain.ContentHash  `json:"content_hash"`
	IdentityHash      domain.IdentityHash `json:"identity_hash"`
	Type              EventType           `json:"event_type"`
	PlatformID        string              `json:"platform_id"`
	DeviceFingerprint string              `json:"device_fingerprint,omitempty"`
	Timestamp         time.Time           `json:"timestamp"`
	Metadata          map[string]string   `json:"metadata,omitempty"`
	State             EventState          `json:"consensus_state"`
	ConsensusProof    *ConsensusProof     `json:"consensus_proof,omitempty"`
}

// Validate checks the fields every ingested event must carry.
func (e *ContentEvent) Validate() error {
	if e.EventID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "event id is required")
	}
	if e.ContentHash.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "content hash is required")
	}
	if !e.Type.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown event type")
	}
	if e.Timestamp.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "event timestamp is required")
	}
	return nil
}

// Clone returns a deep copy.
func (e *ContentEvent) Clone() *ContentEvent {
	if e == nil {
		return nil
	}
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	c.ConsensusProof = e.ConsensusProof.Clone()
	return &c
}

// ContentUsage pairs a record with its event history.
type ContentUsage struct {
	Record *ContentRecord  `json:"record"`
	Events []*ContentEvent `json:"events"`
}

// UsageReport summarizes everything registered to one identity.
type UsageReport struct {
	IdentityHash     domain.IdentityHash `json:"identity_hash"`
	Content          []ContentUsage      `json:"content"`
	Platforms        []string            `json:"platforms"`
	DisputedEvents   int                 `json:"disputed_events"`
	DaysSpread       float64             `json:"days_spread"`
	OverallRiskScore float64             `json:"overall_risk_score"`
	Suspicious       bool                `json:"suspicious"`
	GeneratedAt      time.Time           `json:"generated_at"`
}

// ContentDetail is a single record with its full audit trail.
type ContentDetail struct {
	Record  *ContentRecord    `json:"record"`
	Events  []*ContentEvent   `json:"events"`
	History []StateTransition `json:"history"`
}

// HostingPlatforms returns, in first-seen order, the platforms whose latest
// hosting-relevant event is not a delete. events must be timestamp-ordered.
func HostingPlatforms(events []*ContentEvent) []string {
	latest := map[string]EventType{}
	var order []string
	for _, e := range events {
		if e.PlatformID == "" || !e.Type.affectsHosting() {
			continue
		}
		if _, seen := latest[e.PlatformID]; !seen {
			order = append(order, e.PlatformID)
		}
		latest[e.PlatformID] = e.Type
	}
	hosting := make([]string, 0, len(order))
	for _, p := range order {
		if latest[p] != EventDelete {
			hosting = append(hosting, p)
		}
	}
	return hosting
}
