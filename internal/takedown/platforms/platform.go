// Package platforms defines the contract every hosting platform implements
// and the registry the orchestrator and the monitor resolve platforms from.
package platforms

//go:generate mockgen -source=platform.go -destination=mocks/mocks.go -package=mocks Platform

import (
	"context"
	"sort"
	"sync"
	"time"

	"mediaguard/pkg/domain"
)

// Submission is what a platform receives for a takedown.
type Submission struct {
	RequestID         domain.RequestID     `json:"request_id"`
	ContentHashes     []domain.ContentHash `json:"content_hashes"`
	LegalBasis        string               `json:"legal_basis"`
	Urgency           string               `json:"urgency"`
	EvidenceRefs      []string             `json:"evidence_refs,omitempty"`
	RequesterIdentity domain.IdentityHash  `json:"requester_identity"`
}

// Status values a platform may answer with.
const (
	StatusPending  = "pending"
	StatusRemoved  = "removed"
	StatusRejected = "rejected"
	StatusError    = "error"
)

// Response is a platform's answer to a submission.
type Response struct {
	Status          string
	ResponseTime    time.Duration
	RemovalTime     *time.Time
	RejectionReason string
	ExternalID      string
}

// Detection is one sighting of content on a platform.
type Detection struct {
	ExternalID  string             `json:"external_id"`
	ContentHash domain.ContentHash `json:"content_hash"`
	PlatformID  string             `json:"platform"`
	Timestamp   time.Time          `json:"timestamp"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
}

// Platform is one hosting platform. Methods hold no session state beyond
// the adapter's configured credential and return *PlatformError on failure.
type Platform interface {
	ID() string
	SubmitTakedown(ctx context.Context, s Submission) (Response, error)
	ScanForContent(ctx context.Context, hash domain.ContentHash) ([]Detection, error)
	ValidatePermission(ctx context.Context, hash domain.ContentHash, userID string) (bool, error)
}

// Registry maps platform ids to adapters.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]Platform
}

func NewRegistry() *Registry {
	return &Registry{platforms: make(map[string]Platform)}
}

// Register adds p. Ids are unique.
func (r *Registry) Register(p Platform) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.platforms[p.ID()]; exists {
		return ErrPlatformRegistered
	}
	r.platforms[p.ID()] = p
	return nil
}

func (r *Registry) Get(id string) (Platform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.platforms[id]
	return p, ok
}

// All returns the registered platforms ordered by id.
func (r *Registry) All() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Platform, 0, len(r.platforms))
	for _, p := range r.platforms {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}
