// Package store persists takedown requests. Updates are optimistic: a
// request is written only if its version still matches the stored one.
package store

import (
	"context"
	"sort"
	"sync"

	"mediaguard/internal/takedown/models"
	"mediaguard/pkg/domain"
	"mediaguard/pkg/platform/sentinel"
)

type InMemory struct {
	mu       sync.RWMutex
	requests map[domain.RequestID]*models.TakedownRequest
}

func NewInMemory() *InMemory {
	return &InMemory{requests: make(map[domain.RequestID]*models.TakedownRequest)}
}

func (s *InMemory) Create(ctx context.Context, r *models.TakedownRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[r.RequestID]; exists {
		return sentinel.ErrConflict
	}
	s.requests[r.RequestID] = r.Clone()
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, id domain.RequestID) (*models.TakedownRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

// Update replaces the stored request when its version equals r.Version and
// bumps the version of both. ErrConflict when another writer got there first.
func (s *InMemory) Update(ctx context.Context, r *models.TakedownRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[r.RequestID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != r.Version {
		return sentinel.ErrConflict
	}
	r.Version++
	s.requests[r.RequestID] = r.Clone()
	return nil
}

// ListOpen returns non-terminal requests ordered by deadline.
func (s *InMemory) ListOpen(ctx context.Context) ([]*models.TakedownRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]*models.TakedownRequest, 0, len(s.requests))
	for _, r := range s.requests {
		if !r.Status.IsTerminal() {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ComplianceDeadline.Before(out[j].ComplianceDeadline)
	})
	return out, nil
}
