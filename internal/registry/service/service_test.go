package service

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"mediaguard/internal/blobstore"
	"mediaguard/internal/fingerprint"
	"mediaguard/internal/ledger"
	"mediaguard/internal/proof"
	"mediaguard/internal/registry/models"
	"mediaguard/internal/registry/store"
	"mediaguard/pkg/domain"
	dErrors "mediaguard/pkg/domain-errors"
	"mediaguard/pkg/platform/audit"
	"mediaguard/pkg/platform/audit/publishers/compliance"
	auditmemory "mediaguard/pkg/platform/audit/store/memory"
	"mediaguard/pkg/requestcontext"
)

type RegistryServiceSuite struct {
	suite.Suite
	service *Service
	store   *store.InMemory
	ledger  *ledger.MemoryLedger
	blobs   *blobstore.MemoryStore
	audit   *auditmemory.InMemoryStore
	engine  *proof.Engine
	alice   proof.Credential
	mallory proof.Credential
	ctx     context.Context
	now     time.Time
}

func TestRegistryServiceSuite(t *testing.T) {
	suite.Run(t, new(RegistryServiceSuite))
}

func (s *RegistryServiceSuite) SetupTest() {
	var err error
	s.alice, err = proof.NewCredential(bytes.Repeat([]byte{1}, 32))
	s.Require().NoError(err)
	s.mallory, err = proof.NewCredential(bytes.Repeat([]byte{2}, 32))
	s.Require().NoError(err)

	s.store = store.NewInMemory()
	s.ledger = ledger.NewMemoryLedger()
	s.blobs = blobstore.NewMemory()
	s.audit = auditmemory.NewInMemoryStore()
	s.engine = proof.NewEngine()
	s.service = New(s.store, s.engine,
		WithBlobStore(s.blobs),
		WithLedger(s.ledger),
		WithComplianceAuditor(compliance.New(s.audit)),
	)
	s.now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *RegistryServiceSuite) request(cred proof.Credential, content domain.ContentHash) RegisterRequest {
	p, err := s.engine.Generate(cred, content)
	s.Require().NoError(err)
	return RegisterRequest{
		ContentHash:  content,
		IdentityHash: cred.Identity(),
		PrivacyLevel: models.PrivacyPrivate,
		Proof:        p,
	}
}

func (s *RegistryServiceSuite) register(cred proof.Credential, data string) *models.ContentRecord {
	res, err := s.service.Register(s.ctx, s.request(cred, fingerprint.Content([]byte(data))))
	s.Require().NoError(err)
	return res.Record
}

func (s *RegistryServiceSuite) TestRegister() {
	content := fingerprint.Content([]byte("portrait.jpg"))

	s.Run("creates a pending record anchored in the ledger and audited", func() {
		req := s.request(s.alice, content)
		req.Metadata = []byte(`{"filename":"portrait.jpg"}`)
		res, err := s.service.Register(s.ctx, req)
		s.Require().NoError(err)
		s.True(res.Created)
		s.Equal(models.StatePending, res.Record.ValidationState)
		s.Equal(s.now, res.Record.RegistrationTime)
		s.NotEmpty(res.Record.StorageRef)

		entries := s.ledger.Entries()
		s.Require().Len(entries, 1)
		s.Equal(ledger.KindRegistration, entries[0].Kind)
		s.Equal(content, entries[0].ContentHash)

		events, err := s.audit.ListBySubject(s.ctx, content.String())
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventContentRegistered), events[0].Action)

		meta, err := s.service.LoadMetadata(s.ctx, content)
		s.Require().NoError(err)
		s.Equal(req.Metadata, meta)
	})

	s.Run("same identity is idempotent", func() {
		first, err := s.service.FindByHash(s.ctx, content)
		s.Require().NoError(err)
		res, err := s.service.Register(s.ctx, s.request(s.alice, content))
		s.Require().NoError(err)
		s.False(res.Created)
		s.Equal(first.RegistrationID, res.Record.RegistrationID)
		s.Len(s.ledger.Entries(), 1)
	})

	s.Run("different identity is a duplicate registration", func() {
		_, err := s.service.Register(s.ctx, s.request(s.mallory, content))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeDuplicate))
	})

	s.Run("proof for other content is rejected", func() {
		req := s.request(s.alice, fingerprint.Content([]byte("other.jpg")))
		req.ContentHash = fingerprint.Content([]byte("third.jpg"))
		_, err := s.service.Register(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeProofInvalid))
	})

	s.Run("proof bound to another identity is rejected", func() {
		req := s.request(s.alice, fingerprint.Content([]byte("fourth.jpg")))
		req.IdentityHash = s.mallory.Identity()
		_, err := s.service.Register(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeProofInvalid))
	})

	s.Run("revoked key cannot register", func() {
		revocations := proof.NewMemoryRevocationList()
		engine := proof.NewEngine(proof.WithRevocationList(revocations))
		svc := New(store.NewInMemory(), engine)
		req := s.request(s.alice, fingerprint.Content([]byte("fifth.jpg")))
		s.Require().NoError(revocations.Revoke(s.ctx, req.Proof.VerificationKeyID))
		_, err := svc.Register(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeProofInvalid))
	})
}

func (s *RegistryServiceSuite) TestConcurrentRegistrationSameHash() {
	content := fingerprint.Content([]byte("contested.mov"))
	aliceReq := s.request(s.alice, content)
	malloryReq := s.request(s.mallory, content)

	const goroutines = 20
	var wg sync.WaitGroup
	results := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := aliceReq
			if i%2 == 1 {
				req = malloryReq
			}
			_, results[i] = s.service.Register(s.ctx, req)
		}(i)
	}
	wg.Wait()

	record, err := s.service.FindByHash(s.ctx, content)
	s.Require().NoError(err)
	for i, err := range results {
		winner := (i%2 == 0) == (record.IdentityHash == s.alice.Identity())
		if winner {
			s.NoError(err)
		} else {
			s.True(dErrors.HasCode(err, dErrors.CodeDuplicate))
		}
	}
}

func (s *RegistryServiceSuite) event(content domain.ContentHash, platform string, typ models.EventType, at time.Time) *models.ContentEvent {
	return &models.ContentEvent{
		EventID:     domain.NewEventID(),
		ContentHash: content,
		Type:        typ,
		PlatformID:  platform,
		Timestamp:   at,
	}
}

func (s *RegistryServiceSuite) TestRecordEvent() {
	record := s.register(s.alice, "song.mp3")

	s.Run("fills identity from the record", func() {
		stored, created, err := s.service.RecordEvent(s.ctx, s.event(record.ContentHash, "youtube", models.EventUpload, s.now))
		s.Require().NoError(err)
		s.True(created)
		s.Equal(record.IdentityHash, stored.IdentityHash)
		s.Equal(models.EventUnvalidated, stored.State)
	})

	s.Run("redelivery is idempotent", func() {
		ev := s.event(record.ContentHash, "twitter", models.EventShare, s.now)
		_, created, err := s.service.RecordEvent(s.ctx, ev)
		s.Require().NoError(err)
		s.True(created)
		again, created, err := s.service.RecordEvent(s.ctx, ev)
		s.Require().NoError(err)
		s.False(created)
		s.Equal(ev.EventID, again.EventID)
	})

	s.Run("unregistered content is not found", func() {
		_, _, err := s.service.RecordEvent(s.ctx, s.event(fingerprint.Content([]byte("?")), "x", models.EventView, s.now))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unknown event type is rejected", func() {
		_, _, err := s.service.RecordEvent(s.ctx, s.event(record.ContentHash, "x", "teleport", s.now))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func consensusProof(score float64) *models.ConsensusProof {
	return &models.ConsensusProof{
		ValidatorNodes:  []string{"v1", "v2"},
		Signatures:      [][]byte{{1}, {2}},
		MerkleRoot:      "00",
		ValidationScore: score,
	}
}

func (s *RegistryServiceSuite) TestApplyConsensus() {
	record := s.register(s.alice, "film.mkv")
	first := s.event(record.ContentHash, "youtube", models.EventUpload, s.now)
	second := s.event(record.ContentHash, "twitter", models.EventShare, s.now.Add(time.Hour))
	third := s.event(record.ContentHash, "tiktok", models.EventUpload, s.now.Add(2*time.Hour))
	for _, ev := range []*models.ContentEvent{first, second, third} {
		_, _, err := s.service.RecordEvent(s.ctx, ev)
		s.Require().NoError(err)
	}

	s.Run("validated outcome moves pending to validated", func() {
		updated, err := s.service.ApplyConsensus(s.ctx, first.EventID, models.EventValidated, consensusProof(0.8))
		s.Require().NoError(err)
		s.Equal(models.StateValidated, updated.ValidationState)
		s.Require().NotNil(updated.LatestConsensus)
	})

	s.Run("decided event keeps its outcome", func() {
		_, err := s.service.ApplyConsensus(s.ctx, first.EventID, models.EventDisputed, consensusProof(0.8))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("later disputed outcome moves validated to disputed", func() {
		updated, err := s.service.ApplyConsensus(s.ctx, second.EventID, models.EventDisputed, consensusProof(0.6))
		s.Require().NoError(err)
		s.Equal(models.StateDisputed, updated.ValidationState)
	})

	s.Run("takedown approval is terminal", func() {
		updated, err := s.service.MarkTakedownApproved(s.ctx, record.ContentHash, "takedown compliant")
		s.Require().NoError(err)
		s.Equal(models.StateTakedownApproved, updated.ValidationState)

		updated, err = s.service.ApplyConsensus(s.ctx, third.EventID, models.EventValidated, consensusProof(0.9))
		s.Require().NoError(err)
		s.Equal(models.StateTakedownApproved, updated.ValidationState)

		_, err = s.service.MarkTakedownApproved(s.ctx, record.ContentHash, "again")
		s.Require().NoError(err)
	})

	s.Run("history is append only", func() {
		detail, err := s.service.Get(s.ctx, record.ContentHash)
		s.Require().NoError(err)
		var states []models.ValidationState
		for _, h := range detail.History {
			states = append(states, h.To)
		}
		s.Equal([]models.ValidationState{
			models.StatePending, models.StateValidated, models.StateDisputed, models.StateTakedownApproved,
		}, states)
		s.Len(detail.Events, 3)
	})

	s.Run("rejects malformed proof", func() {
		bad := consensusProof(0.5)
		bad.Signatures = bad.Signatures[:1]
		_, err := s.service.ApplyConsensus(s.ctx, third.EventID, models.EventValidated, bad)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *RegistryServiceSuite) TestQueryUsage() {
	record := s.register(s.alice, "dance.mp4")
	s.register(s.mallory, "unrelated.mp4")

	events := []*models.ContentEvent{
		s.event(record.ContentHash, "youtube", models.EventUpload, s.now),
		s.event(record.ContentHash, "twitter", models.EventShare, s.now.Add(10*24*time.Hour)),
	}
	for _, ev := range events {
		_, _, err := s.service.RecordEvent(s.ctx, ev)
		s.Require().NoError(err)
	}
	_, err := s.service.ApplyConsensus(s.ctx, events[1].EventID, models.EventDisputed, consensusProof(0.7))
	s.Require().NoError(err)

	report, err := s.service.QueryUsage(s.ctx, s.alice.Identity())
	s.Require().NoError(err)
	s.Require().Len(report.Content, 1)
	s.Len(report.Content[0].Events, 2)
	s.Equal([]string{"youtube", "twitter"}, report.Platforms)
	s.Equal(1, report.DisputedEvents)
	s.InDelta(10.0, report.DaysSpread, 1e-9)
	// 0.2 platforms + 0.2 disputed + 0.1 spread
	s.InDelta(0.5, report.OverallRiskScore, 1e-9)
	s.True(report.Suspicious)

	empty, err := s.service.QueryUsage(s.ctx, fingerprint.Identity([]byte("nobody")))
	s.Require().NoError(err)
	s.Empty(empty.Content)
	s.Zero(empty.OverallRiskScore)
	s.False(empty.Suspicious)
}

func (s *RegistryServiceSuite) TestHostingPlatforms() {
	record := s.register(s.alice, "stream.ts")
	for _, ev := range []*models.ContentEvent{
		s.event(record.ContentHash, "youtube", models.EventUpload, s.now),
		s.event(record.ContentHash, "twitter", models.EventUpload, s.now.Add(time.Minute)),
		s.event(record.ContentHash, "youtube", models.EventDelete, s.now.Add(2*time.Minute)),
		s.event(record.ContentHash, "twitter", models.EventTakedownRequest, s.now.Add(3*time.Minute)),
		s.event(record.ContentHash, "facebook", models.EventDelete, s.now.Add(4*time.Minute)),
		s.event(record.ContentHash, "facebook", models.EventUpload, s.now.Add(5*time.Minute)),
	} {
		_, _, err := s.service.RecordEvent(s.ctx, ev)
		s.Require().NoError(err)
	}

	platforms, err := s.service.HostingPlatforms(s.ctx, record.ContentHash)
	s.Require().NoError(err)
	s.Equal([]string{"twitter", "facebook"}, platforms)
}

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name      string
		platforms int
		disputed  int
		days      float64
		want      float64
	}{
		{"nothing observed", 0, 0, 0, 0},
		{"platform term saturates at 0.3", 7, 0, 0, 0.3},
		{"spread term saturates at 0.2", 0, 0, 400, 0.2},
		{"disputes dominate", 1, 2, 5, 0.1 + 0.4 + 0.05},
		{"clamped to one", 5, 5, 100, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RiskScore(tt.platforms, tt.disputed, tt.days), 1e-9)
		})
	}
}

func (s *RegistryServiceSuite) TestRefreshConsensus() {
	record := s.register(s.alice, "cosigned.png")
	decided := s.event(record.ContentHash, "youtube", models.EventUpload, s.now)
	open := s.event(record.ContentHash, "twitter", models.EventShare, s.now)
	for _, ev := range []*models.ContentEvent{decided, open} {
		_, _, err := s.service.RecordEvent(s.ctx, ev)
		s.Require().NoError(err)
	}
	_, err := s.service.ApplyConsensus(s.ctx, decided.EventID, models.EventValidated, consensusProof(0.6))
	s.Require().NoError(err)

	s.Run("replaces the proof of a decided event", func() {
		next, err := s.service.RefreshConsensus(s.ctx, decided.EventID, func(*models.ConsensusProof) (*models.ConsensusProof, error) {
			return consensusProof(0.75), nil
		})
		s.Require().NoError(err)
		s.InDelta(0.75, next.ValidationScore, 1e-9)
		ev, err := s.service.FindEvent(s.ctx, decided.EventID)
		s.Require().NoError(err)
		s.Equal(models.EventValidated, ev.State)
		s.InDelta(0.75, ev.ConsensusProof.ValidationScore, 1e-9)
	})

	s.Run("returning the stored proof writes nothing", func() {
		calls := 0
		current, err := s.service.RefreshConsensus(s.ctx, decided.EventID, func(cur *models.ConsensusProof) (*models.ConsensusProof, error) {
			calls++
			return cur, nil
		})
		s.Require().NoError(err)
		s.Equal(1, calls)
		s.InDelta(0.75, current.ValidationScore, 1e-9)
	})

	s.Run("update errors are returned as is", func() {
		_, err := s.service.RefreshConsensus(s.ctx, decided.EventID, func(*models.ConsensusProof) (*models.ConsensusProof, error) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "bad co-signature")
		})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("undecided event cannot be refreshed", func() {
		_, err := s.service.RefreshConsensus(s.ctx, open.EventID, func(*models.ConsensusProof) (*models.ConsensusProof, error) {
			return consensusProof(0.75), nil
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("a second decision for the event is refused", func() {
		rival := consensusProof(0.9)
		rival.MerkleRoot = "ff"
		_, err := s.service.ApplyConsensus(s.ctx, decided.EventID, models.EventValidated, rival)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		ev, err := s.service.FindEvent(s.ctx, decided.EventID)
		s.Require().NoError(err)
		s.InDelta(0.75, ev.ConsensusProof.ValidationScore, 1e-9)
	})
}
