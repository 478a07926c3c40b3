package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"mediaguard/internal/fingerprint"
	"mediaguard/internal/takedown/models"
	"mediaguard/pkg/domain"
	"mediaguard/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) newRequest(content string, at time.Time) *models.TakedownRequest {
	r, err := models.NewTakedownRequest(
		fingerprint.Content([]byte(content)),
		fingerprint.Identity([]byte("alice")),
		[]string{"twitter", "youtube"},
		models.BasisDeepfake,
		models.IdentityProof{Signature: []byte{1}},
		at,
	)
	s.Require().NoError(err)
	return r
}

func (s *InMemoryStoreSuite) TestCreateAndFind() {
	s.Run("round trips a request", func() {
		r := s.newRequest("clip-a", s.now)
		s.Require().NoError(s.store.Create(s.ctx, r))

		found, err := s.store.FindByID(s.ctx, r.RequestID)
		s.Require().NoError(err)
		s.Equal(r, found)
	})

	s.Run("duplicate id conflicts", func() {
		r := s.newRequest("clip-b", s.now)
		s.Require().NoError(s.store.Create(s.ctx, r))
		s.ErrorIs(s.store.Create(s.ctx, r), sentinel.ErrConflict)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.FindByID(s.ctx, domain.NewRequestID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned copies are isolated", func() {
		r := s.newRequest("clip-c", s.now)
		s.Require().NoError(s.store.Create(s.ctx, r))
		r.Responses["twitter"] = models.PlatformResponse{PlatformID: "twitter", Status: models.ResponseRemoved}

		found, err := s.store.FindByID(s.ctx, r.RequestID)
		s.Require().NoError(err)
		s.Equal(models.ResponsePending, found.Responses["twitter"].Status)
	})
}

func (s *InMemoryStoreSuite) TestUpdate() {
	s.Run("advances version", func() {
		r := s.newRequest("clip-d", s.now)
		s.Require().NoError(s.store.Create(s.ctx, r))
		r.Status = models.StatusProcessing
		s.Require().NoError(s.store.Update(s.ctx, r))
		s.Equal(2, r.Version)

		found, err := s.store.FindByID(s.ctx, r.RequestID)
		s.Require().NoError(err)
		s.Equal(models.StatusProcessing, found.Status)
		s.Equal(2, found.Version)
	})

	s.Run("stale version conflicts", func() {
		r := s.newRequest("clip-e", s.now)
		s.Require().NoError(s.store.Create(s.ctx, r))
		stale := r.Clone()
		s.Require().NoError(s.store.Update(s.ctx, r))
		s.ErrorIs(s.store.Update(s.ctx, stale), sentinel.ErrConflict)
	})

	s.Run("missing request is not found", func() {
		r := s.newRequest("clip-f", s.now)
		s.ErrorIs(s.store.Update(s.ctx, r), sentinel.ErrNotFound)
	})

	s.Run("one concurrent writer wins per version", func() {
		r := s.newRequest("clip-g", s.now)
		s.Require().NoError(s.store.Create(s.ctx, r))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c := r.Clone()
				if s.store.Update(s.ctx, c) == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		s.Equal(int32(1), wins.Load())
	})
}

func (s *InMemoryStoreSuite) TestListOpen() {
	late := s.newRequest("clip-late", s.now.Add(time.Hour))
	early := s.newRequest("clip-early", s.now)
	done := s.newRequest("clip-done", s.now.Add(-time.Hour))
	for _, r := range []*models.TakedownRequest{late, early, done} {
		s.Require().NoError(s.store.Create(s.ctx, r))
	}
	done.Status = models.StatusCompleted
	s.Require().NoError(s.store.Update(s.ctx, done))

	open, err := s.store.ListOpen(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(open, 2)
	s.Equal(early.RequestID, open[0].RequestID)
	s.Equal(late.RequestID, open[1].RequestID)
}
