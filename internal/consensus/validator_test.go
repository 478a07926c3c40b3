package consensus

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"mediaguard/internal/fingerprint"
	"mediaguard/internal/ledger"
	"mediaguard/internal/oracle"
	"mediaguard/internal/proof"
	"mediaguard/internal/registry/models"
	"mediaguard/internal/registry/service"
	"mediaguard/internal/registry/store"
	"mediaguard/pkg/domain"
	dErrors "mediaguard/pkg/domain-errors"
	"mediaguard/pkg/requestcontext"
)

type ValidatorSuite struct {
	suite.Suite
	registry  *service.Service
	ledger    *ledger.MemoryLedger
	validator *Validator
	dir       *StaticDirectory
	a, b, c   peer
	content   domain.ContentHash
	ctx       context.Context
	now       time.Time
}

func TestValidatorSuite(t *testing.T) {
	suite.Run(t, new(ValidatorSuite))
}

func (s *ValidatorSuite) SetupTest() {
	engine := proof.NewEngine()
	s.registry = service.New(store.NewInMemory(), engine)
	s.ledger = ledger.NewMemoryLedger()

	s.a, s.b, s.c = newPeer("validator-a", 1), newPeer("validator-b", 2), newPeer("validator-c", 3)
	s.dir = NewStaticDirectory()
	for _, p := range []peer{s.a, s.b, s.c} {
		s.Require().NoError(s.dir.Add(p.id, p.key.Public().(ed25519.PublicKey)))
	}
	s.validator = NewValidator(Config{Quorum: 3, SessionWindow: time.Minute}, s.registry, s.dir,
		WithLedger(s.ledger),
		WithOracle(oracle.Static{Result: oracle.Assessment{DeepfakeScore: 0.1, Confidence: 0.8}}),
	)

	s.now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	cred, err := proof.NewCredential(bytes.Repeat([]byte{7}, 32))
	s.Require().NoError(err)
	s.content = fingerprint.Content([]byte("original upload"))
	p, err := engine.Generate(cred, s.content)
	s.Require().NoError(err)
	_, err = s.registry.Register(s.ctx, service.RegisterRequest{
		ContentHash:  s.content,
		IdentityHash: cred.Identity(),
		Proof:        p,
	})
	s.Require().NoError(err)
}

func (s *ValidatorSuite) observe(platform string) domain.EventID {
	event, opened, err := s.validator.Observe(s.ctx, &models.ContentEvent{
		EventID:     domain.NewEventID(),
		ContentHash: s.content,
		Type:        models.EventUpload,
		PlatformID:  platform,
		Timestamp:   s.now,
	})
	s.Require().NoError(err)
	s.Require().True(opened)
	return event.EventID
}

func (s *ValidatorSuite) judge(p peer, eventID domain.EventID, valid bool, conf float64) PeerJudgment {
	return p.judge(s.T(), eventID, s.content, valid, conf)
}

func (s *ValidatorSuite) TestObserve() {
	s.Run("redelivered event does not open a second session", func() {
		event := &models.ContentEvent{
			EventID:     domain.NewEventID(),
			ContentHash: s.content,
			Type:        models.EventShare,
			PlatformID:  "twitter",
			Timestamp:   s.now,
		}
		_, opened, err := s.validator.Observe(s.ctx, event.Clone())
		s.Require().NoError(err)
		s.True(opened)

		stored, opened, err := s.validator.Observe(s.ctx, event.Clone())
		s.Require().NoError(err)
		s.False(opened)
		s.Equal(event.EventID, stored.EventID)
	})

	s.Run("event for unregistered content is rejected", func() {
		_, _, err := s.validator.Observe(s.ctx, &models.ContentEvent{
			EventID:     domain.NewEventID(),
			ContentHash: fingerprint.Content([]byte("never registered")),
			Type:        models.EventUpload,
			Timestamp:   s.now,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ValidatorSuite) TestQuorumClosesSession() {
	eventID := s.observe("twitter")
	s.Require().NoError(s.validator.RecordAutomated(s.ctx, eventID, AutomatedJudgment{IsValid: true, Confidence: 0.7}))

	accepted, d, err := s.validator.RecordPeer(s.ctx, eventID, s.judge(s.a, eventID, true, 0.9))
	s.Require().NoError(err)
	s.True(accepted)
	s.Nil(d)

	accepted, d, err = s.validator.RecordPeer(s.ctx, eventID, s.judge(s.a, eventID, false, 0.9))
	s.Require().NoError(err)
	s.False(accepted, "second judgment from the same validator is ignored")
	s.Nil(d)

	forged := s.judge(s.b, eventID, false, 0.9)
	forged.Signature[3] ^= 0x01
	accepted, _, err = s.validator.RecordPeer(s.ctx, eventID, forged)
	s.Require().NoError(err)
	s.False(accepted)

	_, _, err = s.validator.RecordPeer(s.ctx, eventID, s.judge(s.b, eventID, true, 0.8))
	s.Require().NoError(err)
	_, d, err = s.validator.RecordPeer(s.ctx, eventID, s.judge(s.c, eventID, false, 0.6))
	s.Require().NoError(err)
	s.Require().NotNil(d, "third verified judgment reaches the quorum")

	s.Equal(models.EventValidated, d.State)
	s.InDelta(0.75, d.Rate, 1e-9)
	s.Equal(1, d.Discarded)
	s.Equal(models.StateValidated, d.RecordState)
	s.Equal([]string{"validator-a", "validator-b", "validator-c"}, d.Proof.ValidatorNodes)
	s.InDelta(0.8, d.Proof.ValidationScore, 1e-9)
	s.Equal(s.now, d.Proof.ConsensusTimestamp)

	entries := s.ledger.Entries()
	s.Require().Len(entries, 1)
	s.Equal(ledger.KindConsensus, entries[0].Kind)
	s.Equal(uint64(1), d.Proof.BlockHeight)

	event, err := s.registry.FindEvent(s.ctx, eventID)
	s.Require().NoError(err)
	s.Equal(models.EventValidated, event.State)
	s.Equal(d.Proof.MerkleRoot, event.ConsensusProof.MerkleRoot)

	s.Run("late judgment is rejected", func() {
		_, _, err := s.validator.RecordPeer(s.ctx, eventID, s.judge(s.c, eventID, true, 0.6))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("closing again returns the recorded decision", func() {
		again, err := s.validator.Close(s.ctx, eventID)
		s.Require().NoError(err)
		s.Same(d, again)
		s.Len(s.ledger.Entries(), 1)
	})
}

func (s *ValidatorSuite) TestCloseWithoutPeers() {
	eventID := s.observe("youtube")
	s.Require().NoError(s.validator.RecordAutomated(s.ctx, eventID, AutomatedJudgment{IsValid: true, Confidence: 0.95}))

	d, err := s.validator.Close(s.ctx, eventID)
	s.Require().NoError(err)

	s.Equal(models.EventDisputed, d.State)
	s.True(d.NoQuorum)
	s.Equal(models.StateDisputed, d.RecordState)
	s.Empty(d.Proof.ValidatorNodes)
	s.NotEmpty(d.Proof.MerkleRoot)
}

func (s *ValidatorSuite) TestCloseWithoutAutomatedJudgment() {
	eventID := s.observe("youtube")
	_, _, err := s.validator.RecordPeer(s.ctx, eventID, s.judge(s.a, eventID, true, 0.9))
	s.Require().NoError(err)

	d, err := s.validator.Close(s.ctx, eventID)
	s.Require().NoError(err)

	s.Equal(models.EventValidated, d.State, "missing automated judgment counts as invalid")
	s.Equal(0.5, d.Rate)
}

func (s *ValidatorSuite) TestAssessAutomated() {
	s.Run("oracle verdict is recorded", func() {
		eventID := s.observe("twitter")
		j, err := s.validator.AssessAutomated(s.ctx, eventID, []byte("bytes"))
		s.Require().NoError(err)
		s.True(j.IsValid)
		s.Equal(0.8, j.Confidence)
	})

	s.Run("oracle failure judges invalid with zero confidence", func() {
		v := NewValidator(Config{}, s.registry, s.dir, WithOracle(oracle.Static{Err: errors.New("timeout")}))
		event, _, err := v.Observe(s.ctx, &models.ContentEvent{
			EventID:     domain.NewEventID(),
			ContentHash: s.content,
			Type:        models.EventView,
			Timestamp:   s.now,
		})
		s.Require().NoError(err)

		j, err := v.AssessAutomated(s.ctx, event.EventID, []byte("bytes"))
		s.Require().NoError(err)
		s.Equal(AutomatedJudgment{}, j)
	})

	s.Run("deepfake above threshold is invalid", func() {
		v := NewValidator(Config{}, s.registry, s.dir,
			WithOracle(oracle.Static{Result: oracle.Assessment{DeepfakeScore: 0.9, Confidence: 0.7}}))
		event, _, err := v.Observe(s.ctx, &models.ContentEvent{
			EventID:     domain.NewEventID(),
			ContentHash: s.content,
			Type:        models.EventView,
			Timestamp:   s.now,
		})
		s.Require().NoError(err)

		j, err := v.AssessAutomated(s.ctx, event.EventID, []byte("bytes"))
		s.Require().NoError(err)
		s.False(j.IsValid)
		s.Equal(0.7, j.Confidence)
	})
}

func (s *ValidatorSuite) TestCloseExpired() {
	early := s.observe("twitter")
	later := requestcontext.WithTime(context.Background(), s.now.Add(30*time.Second))
	_, _, err := s.validator.Observe(later, &models.ContentEvent{
		EventID:     domain.NewEventID(),
		ContentHash: s.content,
		Type:        models.EventUpload,
		PlatformID:  "youtube",
		Timestamp:   s.now,
	})
	s.Require().NoError(err)

	sweep := requestcontext.WithTime(context.Background(), s.now.Add(70*time.Second))
	closed, err := s.validator.CloseExpired(sweep)
	s.Require().NoError(err)
	s.Equal(1, closed)

	d, ok := s.validator.Decision(early)
	s.Require().True(ok)
	s.Equal(models.EventDisputed, d.State)

	pruneAt := requestcontext.WithTime(context.Background(), s.now.Add(10*time.Minute))
	closed, err = s.validator.CloseExpired(pruneAt)
	s.Require().NoError(err)
	s.Equal(1, closed, "second session expires")
	_, ok = s.validator.Decision(early)
	s.False(ok, "decided sessions are forgotten after two windows")

	_, _, err = s.validator.RecordPeer(s.ctx, early, s.judge(s.a, early, true, 0.9))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState), "decided event rejects judgments after pruning")
}

func (s *ValidatorSuite) TestAttest() {
	eventID := s.observe("twitter")
	s.Require().NoError(s.validator.RecordAutomated(s.ctx, eventID, AutomatedJudgment{IsValid: true, Confidence: 0.6}))
	_, _, err := s.validator.RecordPeer(s.ctx, eventID, s.judge(s.a, eventID, true, 0.8))
	s.Require().NoError(err)
	d, err := s.validator.Close(s.ctx, eventID)
	s.Require().NoError(err)

	s.Run("unknown signer is unauthorized", func() {
		stranger := newPeer("stranger", 9)
		a, err := SignAttestation(stranger.key, stranger.id, eventID, d.Proof.MerkleRoot, 1)
		s.Require().NoError(err)
		_, err = s.validator.Attest(s.ctx, eventID, a)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("co-signature is stored on the event", func() {
		a, err := SignAttestation(s.b.key, s.b.id, eventID, d.Proof.MerkleRoot, 1)
		s.Require().NoError(err)

		next, err := s.validator.Attest(s.ctx, eventID, a)
		s.Require().NoError(err)
		s.Equal([]string{"validator-a", "validator-b"}, next.ValidatorNodes)
		s.Greater(next.ValidationScore, d.Proof.ValidationScore)

		event, err := s.registry.FindEvent(s.ctx, eventID)
		s.Require().NoError(err)
		s.Equal(next.ValidatorNodes, event.ConsensusProof.ValidatorNodes)
		s.Equal(models.EventValidated, event.State)
	})

	s.Run("repeat attestation leaves the proof unchanged", func() {
		a, err := SignAttestation(s.b.key, s.b.id, eventID, d.Proof.MerkleRoot, 0.2)
		s.Require().NoError(err)

		next, err := s.validator.Attest(s.ctx, eventID, a)
		s.Require().NoError(err)
		s.Len(next.ValidatorNodes, 2)
	})

	s.Run("undecided event cannot be attested", func() {
		open := s.observe("youtube")
		a, err := SignAttestation(s.b.key, s.b.id, open, d.Proof.MerkleRoot, 1)
		s.Require().NoError(err)
		_, err = s.validator.Attest(s.ctx, open, a)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *ValidatorSuite) TestConcurrentAttestationsKeepEverySignature() {
	eventID := s.observe("twitter")
	s.Require().NoError(s.validator.RecordAutomated(s.ctx, eventID, AutomatedJudgment{IsValid: true, Confidence: 0.6}))
	_, _, err := s.validator.RecordPeer(s.ctx, eventID, s.judge(s.a, eventID, true, 0.8))
	s.Require().NoError(err)
	d, err := s.validator.Close(s.ctx, eventID)
	s.Require().NoError(err)

	signers := make([]peer, 8)
	for i := range signers {
		signers[i] = newPeer(fmt.Sprintf("attester-%d", i), byte(20+i))
		s.Require().NoError(s.dir.Add(signers[i].id, signers[i].key.Public().(ed25519.PublicKey)))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(signers))
	start := make(chan struct{})
	for i, p := range signers {
		a, err := SignAttestation(p.key, p.id, eventID, d.Proof.MerkleRoot, 0.9)
		s.Require().NoError(err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = s.validator.Attest(s.ctx, eventID, a)
		}()
	}
	close(start)
	wg.Wait()
	for i, err := range errs {
		s.NoError(err, signers[i].id)
	}

	event, err := s.registry.FindEvent(s.ctx, eventID)
	s.Require().NoError(err)
	s.Len(event.ConsensusProof.ValidatorNodes, 1+len(signers))
	s.Len(event.ConsensusProof.Signatures, 1+len(signers))
	s.Contains(event.ConsensusProof.ValidatorNodes, s.a.id)
	for _, p := range signers {
		s.Contains(event.ConsensusProof.ValidatorNodes, p.id)
	}
}

func (s *ValidatorSuite) TestSecondInstanceCannotOverwriteDecision() {
	other := NewValidator(Config{Quorum: 3, SessionWindow: time.Minute}, s.registry, s.dir)
	eventID := s.observe("twitter")

	_, _, err := other.RecordPeer(s.ctx, eventID, s.judge(s.b, eventID, false, 0.9))
	s.Require().NoError(err, "the other instance reopens the undecided event")

	s.Require().NoError(s.validator.RecordAutomated(s.ctx, eventID, AutomatedJudgment{IsValid: true, Confidence: 0.6}))
	_, _, err = s.validator.RecordPeer(s.ctx, eventID, s.judge(s.a, eventID, true, 0.8))
	s.Require().NoError(err)
	first, err := s.validator.Close(s.ctx, eventID)
	s.Require().NoError(err)

	_, err = other.Close(s.ctx, eventID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	event, err := s.registry.FindEvent(s.ctx, eventID)
	s.Require().NoError(err)
	s.Equal(first.State, event.State)
	s.Equal(first.Proof.MerkleRoot, event.ConsensusProof.MerkleRoot)
	s.Equal([]string{s.a.id}, event.ConsensusProof.ValidatorNodes)

	s.Run("losing session adopts the recorded outcome", func() {
		adopted, err := other.Close(s.ctx, eventID)
		s.Require().NoError(err)
		s.Equal(first.Proof.MerkleRoot, adopted.Proof.MerkleRoot)

		_, _, err = other.RecordPeer(s.ctx, eventID, s.judge(s.c, eventID, false, 0.9))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *ValidatorSuite) TestIngestorHandle() {
	ingestor := NewIngestor(nil, s.validator, nil)
	encode := func(env Envelope) []byte {
		b, err := json.Marshal(env)
		s.Require().NoError(err)
		return b
	}
	event := &models.ContentEvent{
		EventID:     domain.NewEventID(),
		ContentHash: s.content,
		Type:        models.EventUpload,
		PlatformID:  "tiktok",
		Timestamp:   s.now,
	}
	id := event.EventID

	s.Require().NoError(ingestor.Handle(s.ctx, encode(Envelope{Type: EnvelopeEvent, Event: event})))
	s.Require().NoError(ingestor.Handle(s.ctx, encode(Envelope{Type: EnvelopeAutomated, EventID: id, Automated: &AutomatedJudgment{IsValid: false, Confidence: 0.4}})))
	for _, p := range []peer{s.a, s.b, s.c} {
		j := s.judge(p, id, true, 0.9)
		s.Require().NoError(ingestor.Handle(s.ctx, encode(Envelope{Type: EnvelopeJudgment, EventID: id, Judgment: &j})))
	}

	d, ok := s.validator.Decision(id)
	s.Require().True(ok)
	s.Equal(models.EventValidated, d.State)

	s.Run("late judgment is absorbed", func() {
		j := s.judge(s.a, id, false, 0.9)
		s.NoError(ingestor.Handle(s.ctx, encode(Envelope{Type: EnvelopeJudgment, EventID: id, Judgment: &j})))
	})

	s.Run("malformed envelopes are bad requests", func() {
		err := ingestor.Handle(s.ctx, []byte("{"))
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		err = ingestor.Handle(s.ctx, encode(Envelope{Type: "gossip", EventID: id}))
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		err = ingestor.Handle(s.ctx, encode(Envelope{Type: EnvelopeJudgment, EventID: id}))
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

// flakyRegistry answers RecordEvent with unavailable for the listed events.
type flakyRegistry struct {
	Registry
	mu      sync.Mutex
	failing map[domain.EventID]bool
}

func (f *flakyRegistry) RecordEvent(ctx context.Context, event *models.ContentEvent) (*models.ContentEvent, bool, error) {
	f.mu.Lock()
	fail := f.failing[event.EventID]
	f.mu.Unlock()
	if fail {
		return nil, false, dErrors.New(dErrors.CodeUnavailable, "registry unavailable")
	}
	return f.Registry.RecordEvent(ctx, event)
}

func (f *flakyRegistry) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = map[domain.EventID]bool{}
}

func (s *ValidatorSuite) TestIngestorDrainStopsAtTransientFailure() {
	flaky := &flakyRegistry{Registry: s.registry, failing: map[domain.EventID]bool{}}
	ingestor := NewIngestor(nil, NewValidator(Config{Quorum: 3, SessionWindow: time.Minute}, flaky, s.dir), nil)
	ingestor.backoff = time.Millisecond

	events := make([]*models.ContentEvent, 3)
	for i := range events {
		events[i] = &models.ContentEvent{
			EventID:     domain.NewEventID(),
			ContentHash: s.content,
			Type:        models.EventUpload,
			PlatformID:  "tiktok",
			Timestamp:   s.now.Add(time.Duration(i) * time.Minute),
		}
	}
	flaky.failing[events[1].EventID] = true

	record := func(offset int64, value []byte) *kgo.Record {
		return &kgo.Record{Topic: "intake", Partition: 0, Offset: offset, Value: value}
	}
	encode := func(ev *models.ContentEvent) []byte {
		b, err := json.Marshal(Envelope{Type: EnvelopeEvent, Event: ev})
		s.Require().NoError(err)
		return b
	}
	records := []*kgo.Record{
		record(10, encode(events[0])),
		record(11, []byte("{")),
		record(12, encode(events[1])),
		record(13, encode(events[2])),
	}

	last, stuck := ingestor.drain(s.ctx, records)
	s.Require().NotNil(last)
	s.Equal(int64(11), last.Offset, "malformed record is skipped and committable")
	s.Require().NotNil(stuck)
	s.Equal(int64(12), stuck.Offset)

	_, err := s.registry.FindEvent(s.ctx, events[0].EventID)
	s.NoError(err)
	_, err = s.registry.FindEvent(s.ctx, events[2].EventID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "records after the stuck one wait for redelivery")

	s.Run("redelivery after recovery completes the partition", func() {
		flaky.heal()
		last, stuck := ingestor.drain(s.ctx, records[2:])
		s.Nil(stuck)
		s.Require().NotNil(last)
		s.Equal(int64(13), last.Offset)
		for _, ev := range events {
			_, err := s.registry.FindEvent(s.ctx, ev.EventID)
			s.NoError(err)
		}
	})

	s.Run("nothing is committable when the first record is stuck", func() {
		stalled := &models.ContentEvent{
			EventID:     domain.NewEventID(),
			ContentHash: s.content,
			Type:        models.EventShare,
			PlatformID:  "twitter",
			Timestamp:   s.now,
		}
		flaky.mu.Lock()
		flaky.failing[stalled.EventID] = true
		flaky.mu.Unlock()

		last, stuck := ingestor.drain(s.ctx, []*kgo.Record{record(14, encode(stalled))})
		s.Nil(last)
		s.Require().NotNil(stuck)
		s.Equal(int64(14), stuck.Offset)
	})
}
