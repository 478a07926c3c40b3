package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mediaguard/internal/consensus/metrics"
	"mediaguard/internal/ledger"
	"mediaguard/internal/oracle"
	"mediaguard/internal/registry/models"
	"mediaguard/pkg/domain"
	dErrors "mediaguard/pkg/domain-errors"
	"mediaguard/pkg/requestcontext"
)

// Registry is the part of the ownership registry the validator writes to.
type Registry interface {
	RecordEvent(ctx context.Context, event *models.ContentEvent) (*models.ContentEvent, bool, error)
	FindEvent(ctx context.Context, eventID domain.EventID) (*models.ContentEvent, error)
	ApplyConsensus(ctx context.Context, eventID domain.EventID, outcome models.EventState, consensus *models.ConsensusProof) (*models.ContentRecord, error)
	RefreshConsensus(ctx context.Context, eventID domain.EventID, update func(*models.ConsensusProof) (*models.ConsensusProof, error)) (*models.ConsensusProof, error)
}

// Config tunes session handling.
type Config struct {
	// Quorum is the number of verified peer judgments that closes a session.
	Quorum int
	// SessionWindow is how long a session accepts judgments before
	// CloseExpired decides it with what it has.
	SessionWindow time.Duration
	// DeepfakeThreshold feeds oracle.Judge.
	DeepfakeThreshold float64
}

func (c Config) withDefaults() Config {
	if c.Quorum <= 0 {
		c.Quorum = 3
	}
	if c.SessionWindow <= 0 {
		c.SessionWindow = 10 * time.Minute
	}
	if c.DeepfakeThreshold <= 0 {
		c.DeepfakeThreshold = oracle.DefaultDeepfakeThreshold
	}
	return c
}

// Decision is the recorded result of a closed session.
type Decision struct {
	EventID     domain.EventID         `json:"event_id"`
	ContentHash domain.ContentHash     `json:"content_hash"`
	State       models.EventState      `json:"consensus_state"`
	Rate        float64                `json:"consensus_rate"`
	Discarded   int                    `json:"discarded_judgments"`
	NoQuorum    bool                   `json:"quorum_unavailable"`
	Proof       *models.ConsensusProof `json:"consensus_proof"`
	RecordState models.ValidationState `json:"validation_state"`
}

type session struct {
	mu        sync.Mutex
	event     *models.ContentEvent
	openedAt  time.Time
	automated *AutomatedJudgment
	peers     []PeerJudgment
	voters    map[string]bool
	discarded int
	closedAt  time.Time
	decision  *Decision
}

func (s *session) closed() bool {
	return s.decision != nil
}

// Validator runs one consensus session per content event.
type Validator struct {
	cfg       Config
	registry  Registry
	directory PeerDirectory
	ledger    ledger.Ledger
	dedup     Deduplicator
	oracle    oracle.Oracle
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	mu       sync.Mutex
	sessions map[domain.EventID]*session
}

type Option func(*Validator)

func WithLedger(l ledger.Ledger) Option {
	return func(v *Validator) {
		v.ledger = l
	}
}

func WithDeduplicator(d Deduplicator) Option {
	return func(v *Validator) {
		v.dedup = d
	}
}

func WithOracle(o oracle.Oracle) Option {
	return func(v *Validator) {
		v.oracle = o
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(v *Validator) {
		v.tracer = t
	}
}

func NewValidator(cfg Config, registry Registry, directory PeerDirectory, opts ...Option) *Validator {
	v := &Validator{
		cfg:       cfg.withDefaults(),
		registry:  registry,
		directory: directory,
		logger:    slog.New(slog.DiscardHandler),
		tracer:    otel.Tracer("mediaguard/consensus"),
		sessions:  make(map[domain.EventID]*session),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.dedup == nil {
		v.dedup = NewMemoryDeduplicator(2 * v.cfg.SessionWindow)
	}
	return v
}

func errSessionClosed() error {
	return dErrors.New(dErrors.CodeInvalidState, "consensus already recorded for event")
}

// Observe records a content event and opens its session. Redelivered events
// return the stored event with opened=false.
func (v *Validator) Observe(ctx context.Context, event *models.ContentEvent) (*models.ContentEvent, bool, error) {
	stored, created, err := v.registry.RecordEvent(ctx, event)
	if err != nil {
		return nil, false, err
	}
	first, err := v.dedup.FirstSeen(ctx, stored.EventID)
	if err != nil {
		v.logger.WarnContext(ctx, "event deduplication unavailable",
			"event_id", stored.EventID.String(),
			"error", err,
		)
		first = created
	}
	if !first || stored.State != models.EventUnvalidated {
		v.metrics.IncDuplicateEvent()
		return stored, false, nil
	}

	v.mu.Lock()
	if _, exists := v.sessions[stored.EventID]; !exists {
		v.sessions[stored.EventID] = newSession(stored, requestcontext.Now(ctx))
		v.metrics.SessionOpened()
	}
	v.mu.Unlock()
	v.logger.DebugContext(ctx, "consensus session opened",
		"event_id", stored.EventID.String(),
		"content_hash", stored.ContentHash.String(),
	)
	return stored, true, nil
}

func newSession(event *models.ContentEvent, now time.Time) *session {
	return &session{event: event, openedAt: now, voters: make(map[string]bool)}
}

// sessionFor returns the session of eventID, reopening one for an
// undecided event the process has not seen (after a restart, for example).
func (v *Validator) sessionFor(ctx context.Context, eventID domain.EventID) (*session, error) {
	v.mu.Lock()
	s, ok := v.sessions[eventID]
	v.mu.Unlock()
	if ok {
		return s, nil
	}

	event, err := v.registry.FindEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.State != models.EventUnvalidated {
		return nil, errSessionClosed()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.sessions[eventID]; ok {
		return s, nil
	}
	s = newSession(event, requestcontext.Now(ctx))
	v.sessions[eventID] = s
	v.metrics.SessionOpened()
	return s, nil
}

// RecordAutomated sets the automated judgment of an open session. The first
// automated judgment wins.
func (v *Validator) RecordAutomated(ctx context.Context, eventID domain.EventID, j AutomatedJudgment) error {
	if !validConfidence(j.Confidence) {
		return dErrors.New(dErrors.CodeValidation, "confidence must be within [0, 1]")
	}
	s, err := v.sessionFor(ctx, eventID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return errSessionClosed()
	}
	if s.automated == nil {
		s.automated = &j
	}
	return nil
}

// AssessAutomated asks the risk oracle about content and records the
// derived judgment. An oracle failure records {invalid, 0}.
func (v *Validator) AssessAutomated(ctx context.Context, eventID domain.EventID, content []byte) (AutomatedJudgment, error) {
	j := AutomatedJudgment{}
	if v.oracle != nil {
		assessment, err := v.oracle.Assess(ctx, content)
		if err == nil {
			err = assessment.Validate()
		}
		if err != nil {
			v.metrics.IncOracleFailure()
			v.logger.WarnContext(ctx, "risk oracle failed, judging event invalid",
				"event_id", eventID.String(),
				"error", err,
			)
		} else {
			j.IsValid, j.Confidence = oracle.Judge(assessment, v.cfg.DeepfakeThreshold)
		}
	}
	return j, v.RecordAutomated(ctx, eventID, j)
}

// RecordPeer adds a peer judgment to an open session. Judgments with
// unverifiable signatures are discarded and repeat judgments from a
// validator are ignored; both return accepted=false. Reaching the quorum
// closes the session and returns its decision.
func (v *Validator) RecordPeer(ctx context.Context, eventID domain.EventID, j PeerJudgment) (bool, *Decision, error) {
	s, err := v.sessionFor(ctx, eventID)
	if err != nil {
		return false, nil, err
	}

	s.mu.Lock()
	if s.closed() {
		s.mu.Unlock()
		return false, nil, errSessionClosed()
	}
	if s.voters[j.ValidatorID] {
		s.mu.Unlock()
		return false, nil, nil
	}
	if !SignatureVerifier(v.directory, eventID, s.event.ContentHash)(j) {
		s.discarded++
		s.mu.Unlock()
		v.metrics.IncDiscarded()
		v.logger.WarnContext(ctx, "peer judgment discarded",
			"event_id", eventID.String(),
			"validator_id", j.ValidatorID,
		)
		return false, nil, nil
	}
	s.voters[j.ValidatorID] = true
	s.peers = append(s.peers, j)
	quorum := len(s.peers) >= v.cfg.Quorum
	s.mu.Unlock()

	if !quorum {
		return true, nil, nil
	}
	d, err := v.Close(ctx, eventID)
	if err != nil {
		return true, nil, err
	}
	return true, d, nil
}

// Close decides the session with the judgments received so far, writes the
// outcome to the registry and anchors it in the ledger. Closing a closed
// session returns the recorded decision.
func (v *Validator) Close(ctx context.Context, eventID domain.EventID) (*Decision, error) {
	s, err := v.sessionFor(ctx, eventID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return s.decision, nil
	}

	start := time.Now()
	ctx, span := v.tracer.Start(ctx, "consensus.close", trace.WithAttributes(
		attribute.String("event_id", eventID.String()),
		attribute.Int("peer_judgments", len(s.peers)),
	))
	defer span.End()

	automated := AutomatedJudgment{}
	if s.automated != nil {
		automated = *s.automated
	} else {
		v.logger.WarnContext(ctx, "closing session without automated judgment", "event_id", eventID.String())
	}

	content := s.event.ContentHash
	outcome := Decide(automated, s.peers, SignatureVerifier(v.directory, eventID, content))
	outcome.Discarded += s.discarded
	now := requestcontext.Now(ctx)

	proof, err := BuildProof(eventID, content, automated, outcome, 0, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build proof")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build consensus proof")
	}
	proof.BlockHeight = v.anchor(ctx, s.event, outcome, proof)

	record, err := v.registry.ApplyConsensus(ctx, eventID, outcome.State, proof)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply consensus")
		if dErrors.HasCode(err, dErrors.CodeInvalidState) {
			v.adoptRecorded(ctx, s, now)
		}
		return nil, err
	}

	s.decision = &Decision{
		EventID:     eventID,
		ContentHash: content,
		State:       outcome.State,
		Rate:        outcome.Rate,
		Discarded:   outcome.Discarded,
		NoQuorum:    outcome.QuorumUnavailable,
		Proof:       proof,
		RecordState: record.ValidationState,
	}
	s.closedAt = now

	span.SetAttributes(attribute.String("outcome", string(outcome.State)))
	v.metrics.IncOutcome(string(outcome.State))
	v.metrics.SessionClosed(time.Since(start))
	if outcome.QuorumUnavailable {
		v.metrics.IncQuorumUnavailable()
		v.logger.WarnContext(ctx, "validator quorum unavailable, automated-only rule applied",
			"event_id", eventID.String(),
			"discarded_judgments", outcome.Discarded,
		)
	}
	v.logger.InfoContext(ctx, "consensus recorded",
		"event_id", eventID.String(),
		"content_hash", content.String(),
		"outcome", string(outcome.State),
		"consensus_rate", outcome.Rate,
		"validation_score", outcome.Score,
		"block_height", proof.BlockHeight,
	)
	return s.decision, nil
}

// adoptRecorded closes s with the outcome another session already wrote to
// the registry, so the losing session stops collecting judgments.
func (v *Validator) adoptRecorded(ctx context.Context, s *session, now time.Time) {
	event, err := v.registry.FindEvent(ctx, s.event.EventID)
	if err != nil || event.State == models.EventUnvalidated || event.ConsensusProof == nil {
		return
	}
	s.decision = &Decision{
		EventID:     event.EventID,
		ContentHash: event.ContentHash,
		State:       event.State,
		Proof:       event.ConsensusProof,
	}
	s.closedAt = now
	v.logger.WarnContext(ctx, "consensus already recorded by another session",
		"event_id", event.EventID.String(),
		"outcome", string(event.State),
	)
}

type anchorPayload struct {
	EventID    string   `json:"event_id"`
	Outcome    string   `json:"outcome"`
	MerkleRoot string   `json:"merkle_root"`
	Validators []string `json:"validators"`
	Score      float64  `json:"validation_score"`
}

func (v *Validator) anchor(ctx context.Context, event *models.ContentEvent, out Outcome, proof *models.ConsensusProof) uint64 {
	if v.ledger == nil {
		return 0
	}
	payload, err := json.Marshal(anchorPayload{
		EventID:    event.EventID.String(),
		Outcome:    string(out.State),
		MerkleRoot: proof.MerkleRoot,
		Validators: proof.ValidatorNodes,
		Score:      proof.ValidationScore,
	})
	if err != nil {
		return 0
	}
	receipt, err := v.ledger.Append(ctx, ledger.Entry{
		Kind:        ledger.KindConsensus,
		ContentHash: event.ContentHash,
		Key:         event.EventID.String(),
		Payload:     payload,
		RecordedAt:  proof.ConsensusTimestamp,
	})
	if err != nil {
		v.logger.WarnContext(ctx, "ledger append failed for consensus",
			"event_id", event.EventID.String(),
			"error", err,
		)
		return 0
	}
	return receipt.BlockHeight
}

// CloseExpired decides every session open longer than the session window
// and forgets decided sessions older than two windows. It returns the number
// of sessions closed.
func (v *Validator) CloseExpired(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	var due []domain.EventID

	v.mu.Lock()
	for id, s := range v.sessions {
		s.mu.Lock()
		switch {
		case !s.closed() && now.Sub(s.openedAt) >= v.cfg.SessionWindow:
			due = append(due, id)
		case s.closed() && now.Sub(s.closedAt) >= 2*v.cfg.SessionWindow:
			delete(v.sessions, id)
		}
		s.mu.Unlock()
	}
	v.mu.Unlock()

	closed := 0
	var errs []error
	for _, id := range due {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		if _, err := v.Close(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}

// Decision returns the recorded decision of a closed session, if this
// process closed it.
func (v *Validator) Decision(eventID domain.EventID) (*Decision, bool) {
	v.mu.Lock()
	s, ok := v.sessions[eventID]
	v.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decision, s.decision != nil
}

// Attest adds a validator's co-signature to the consensus proof of a decided
// event. The validation score never decreases; a validator already on the
// proof leaves it unchanged.
func (v *Validator) Attest(ctx context.Context, eventID domain.EventID, a Attestation) (*models.ConsensusProof, error) {
	outcome := "accepted"
	next, err := v.registry.RefreshConsensus(ctx, eventID, func(current *models.ConsensusProof) (*models.ConsensusProof, error) {
		if !verifyAttestation(v.directory, eventID, current.MerkleRoot, a) {
			outcome = "rejected"
			return nil, dErrors.New(dErrors.CodeUnauthorized, "attestation signature does not verify")
		}
		if hasValidator(current, a.ValidatorID) {
			outcome = "duplicate"
			return current, nil
		}
		outcome = "accepted"
		return withAttestation(current, a), nil
	})
	if err != nil {
		if outcome == "rejected" {
			v.metrics.IncAttestation(outcome)
		}
		if dErrors.HasCode(err, dErrors.CodeInvalidState) {
			return nil, dErrors.New(dErrors.CodeInvalidState, "event has no consensus proof to attest")
		}
		return nil, err
	}
	v.metrics.IncAttestation(outcome)
	if outcome == "accepted" {
		v.logger.InfoContext(ctx, "consensus attested",
			"event_id", eventID.String(),
			"validator_id", a.ValidatorID,
			"validation_score", next.ValidationScore,
		)
	}
	return next, nil
}
