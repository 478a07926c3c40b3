// Package service is the takedown orchestrator. It authenticates a
// submission against the ownership registry, fans it out to every platform
// hosting the content and tracks each request to its compliance deadline.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"mediaguard/internal/evidence"
	"mediaguard/internal/ledger"
	"mediaguard/internal/proof"
	registrymodels "mediaguard/internal/registry/models"
	"mediaguard/internal/takedown/metrics"
	"mediaguard/internal/takedown/models"
	"mediaguard/internal/takedown/platforms"
	"mediaguard/pkg/canonical"
	"mediaguard/pkg/domain"
	dErrors "mediaguard/pkg/domain-errors"
	"mediaguard/pkg/platform/audit"
	"mediaguard/pkg/platform/circuit"
	"mediaguard/pkg/platform/sentinel"
	"mediaguard/pkg/requestcontext"
)

// maxUpdateAttempts bounds retries of a request update that lost a version race.
const maxUpdateAttempts = 5

type Store interface {
	Create(ctx context.Context, r *models.TakedownRequest) error
	FindByID(ctx context.Context, id domain.RequestID) (*models.TakedownRequest, error)
	Update(ctx context.Context, r *models.TakedownRequest) error
	ListOpen(ctx context.Context) ([]*models.TakedownRequest, error)
}

// Registry is the part of the ownership registry the orchestrator reads and
// finalizes.
type Registry interface {
	FindByHash(ctx context.Context, hash domain.ContentHash) (*registrymodels.ContentRecord, error)
	HostingPlatforms(ctx context.Context, hash domain.ContentHash) ([]string, error)
	MarkTakedownApproved(ctx context.Context, hash domain.ContentHash, reason string) (*registrymodels.ContentRecord, error)
}

type ProofVerifier interface {
	VerifyOwnership(ctx context.Context, p proof.OwnershipProof, content domain.ContentHash, identity domain.IdentityHash) error
}

// PlatformDirectory resolves platform ids to adapters.
type PlatformDirectory interface {
	Get(id string) (platforms.Platform, bool)
}

type Ledger interface {
	Append(ctx context.Context, entry ledger.Entry) (ledger.Receipt, error)
}

type ComplianceAuditor interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

type EvidenceBuilder interface {
	Build(ctx context.Context, in evidence.Input) (*evidence.Package, string, error)
}

// Config tunes the fan-out.
type Config struct {
	// Fanout caps concurrent platform calls per request.
	Fanout int
	// CallTimeout bounds one platform call.
	CallTimeout time.Duration
	// BreakerOptions configure the per-platform circuit breakers.
	BreakerOptions []circuit.Option
}

func (c Config) withDefaults() Config {
	if c.Fanout <= 0 {
		c.Fanout = 8
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	return c
}

// Service orchestrates takedown requests.
type Service struct {
	cfg       Config
	store     Store
	registry  Registry
	verifier  ProofVerifier
	platforms PlatformDirectory
	ledger    Ledger
	auditor   ComplianceAuditor
	evidence  EvidenceBuilder
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	breakersMu sync.Mutex
	breakers   map[string]*circuit.Breaker
}

type Option func(*Service)

func WithLedger(l Ledger) Option {
	return func(s *Service) {
		s.ledger = l
	}
}

func WithComplianceAuditor(a ComplianceAuditor) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

func WithEvidenceBuilder(b EvidenceBuilder) Option {
	return func(s *Service) {
		s.evidence = b
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(cfg Config, store Store, registry Registry, verifier ProofVerifier, directory PlatformDirectory, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg.withDefaults(),
		store:     store,
		registry:  registry,
		verifier:  verifier,
		platforms: directory,
		logger:    slog.New(slog.DiscardHandler),
		tracer:    otel.Tracer("mediaguard/takedown"),
		breakers:  make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// SigningPayload is the message a requester signs to authorize a takedown.
type SigningPayload struct {
	ContentHash domain.ContentHash `json:"content_hash"`
	LegalBasis  models.LegalBasis  `json:"legal_basis"`
}

// SigningMessage returns the digest a requester signs for content and basis.
func SigningMessage(content domain.ContentHash, basis models.LegalBasis) ([]byte, error) {
	digest, _, err := canonical.Sum(SigningPayload{ContentHash: content, LegalBasis: basis})
	return digest, err
}

// SubmitRequest is a takedown demand from a content owner.
type SubmitRequest struct {
	ContentHash   domain.ContentHash
	LegalBasis    models.LegalBasis
	IdentityProof models.IdentityProof
}

// Submit authenticates the requester, records the request and fans it out
// to every platform currently hosting the content. Platform failures are
// recorded as error responses and never fail the submission.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.RequestView, error) {
	if !req.LegalBasis.IsValid() {
		s.metrics.IncSubmission("bad_request")
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown legal basis")
	}
	record, err := s.authorize(ctx, req)
	if err != nil {
		s.metrics.IncSubmission("unauthorized")
		return nil, err
	}

	targets, err := s.registry.HostingPlatforms(ctx, req.ContentHash)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	r, err := models.NewTakedownRequest(req.ContentHash, record.IdentityHash, targets, req.LegalBasis, req.IdentityProof, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, translate(err)
	}
	s.metrics.IncSubmission("accepted")

	// A stored request is irrevocable: the caller going away must not cut
	// the fan-out short or lose answers already received.
	ctx = context.WithoutCancel(ctx)

	if r.Urgency == models.UrgencyEmergency {
		s.metrics.IncEmergency()
		s.logger.WarnContext(ctx, "emergency takedown submitted",
			"request_id", r.RequestID.String(),
			"content_hash", r.ContentHash.String(),
			"legal_basis", string(r.LegalBasis),
			"platforms", len(targets),
		)
	} else {
		s.logger.InfoContext(ctx, "takedown submitted",
			"request_id", r.RequestID.String(),
			"content_hash", r.ContentHash.String(),
			"urgency", string(r.Urgency),
			"platforms", len(targets),
		)
	}
	s.anchor(ctx, r)
	s.audit(ctx, r, audit.EventTakedownSubmitted, string(r.Urgency))

	latest := r
	var recordErr error
	s.fanOut(ctx, r, func(resp models.PlatformResponse) {
		updated, err := s.mutate(ctx, r.RequestID, func(cur *models.TakedownRequest, _ time.Time) error {
			cur.Responses[resp.PlatformID] = resp
			return nil
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to record platform response",
				"request_id", r.RequestID.String(),
				"platform_id", resp.PlatformID,
				"error", err,
			)
			recordErr = errors.Join(recordErr, err)
			return
		}
		latest = updated
	})
	if recordErr != nil {
		return nil, recordErr
	}
	if len(r.Platforms) == 0 {
		updated, err := s.mutate(ctx, r.RequestID, func(*models.TakedownRequest, time.Time) error { return nil })
		if err != nil {
			return nil, err
		}
		latest = updated
	}
	return s.view(ctx, latest), nil
}

// authorize checks that the content is registered and that the proof and
// signature were made with the registered identity's credential.
func (s *Service) authorize(ctx context.Context, req SubmitRequest) (*registrymodels.ContentRecord, error) {
	record, err := s.registry.FindByHash(ctx, req.ContentHash)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "content is not registered")
		}
		return nil, err
	}
	ip := req.IdentityProof
	if err := s.verifier.VerifyOwnership(ctx, ip.Proof, req.ContentHash, record.IdentityHash); err != nil {
		s.logger.WarnContext(ctx, "takedown proof rejected",
			"content_hash", req.ContentHash.String(),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "ownership proof does not verify for the registered identity")
	}
	msg, err := SigningMessage(req.ContentHash, req.LegalBasis)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode signing payload")
	}
	if !proof.VerifySignature(ip.Proof, msg, ip.Signature) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "request signature does not verify")
	}
	return record, nil
}

// ResponseUpdate is a platform callback.
type ResponseUpdate struct {
	Status          models.ResponseStatus
	ResponseTimeMs  int64
	RemovalTime     *time.Time
	RejectionReason string
	ExternalID      string
}

// RecordResponse stores a platform's answer and recomputes compliance.
// Answers arriving after completion are kept but never reopen the request.
func (s *Service) RecordResponse(ctx context.Context, id domain.RequestID, platformID string, u ResponseUpdate) (*models.RequestView, error) {
	if !u.Status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown response status")
	}
	updated, err := s.mutate(ctx, id, func(cur *models.TakedownRequest, now time.Time) error {
		if !cur.Targets(platformID) {
			return dErrors.New(dErrors.CodeValidation, "platform is not targeted by this request")
		}
		cur.Responses[platformID] = models.PlatformResponse{
			PlatformID:      platformID,
			Status:          u.Status,
			ResponseTimeMs:  u.ResponseTimeMs,
			RemovalTime:     u.RemovalTime,
			RejectionReason: u.RejectionReason,
			ExternalID:      u.ExternalID,
			RecordedAt:      now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncPlatformResponse(platformID, string(u.Status))
	s.logger.InfoContext(ctx, "platform response recorded",
		"request_id", id.String(),
		"platform_id", platformID,
		"status", string(u.Status),
	)
	return s.view(ctx, updated), nil
}

// FinalizeExpired re-evaluates every open request whose deadline has
// passed. It returns how many requests it settled.
func (s *Service) FinalizeExpired(ctx context.Context) (int, error) {
	open, err := s.store.ListOpen(ctx)
	if err != nil {
		return 0, translate(err)
	}
	now := requestcontext.Now(ctx)
	var errs []error
	settled := 0
	for _, r := range open {
		if now.Before(r.ComplianceDeadline) {
			// ListOpen is ordered by deadline
			break
		}
		updated, err := s.mutate(ctx, r.RequestID, func(*models.TakedownRequest, time.Time) error { return nil })
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if updated.Status.IsTerminal() {
			settled++
		}
	}
	return settled, errors.Join(errs...)
}

// MonitorDeadline reports the time left on a request. It never changes the
// request.
func (s *Service) MonitorDeadline(ctx context.Context, id domain.RequestID) (*models.DeadlineStatus, error) {
	r, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	status := models.MonitorDeadline(r, requestcontext.Now(ctx))
	return &status, nil
}

// Reverify re-checks the proof a request was submitted with. A request
// whose proof no longer verifies, for example because its key was revoked,
// is rejected. Terminal requests are returned unchanged.
func (s *Service) Reverify(ctx context.Context, id domain.RequestID) (*models.RequestView, error) {
	r, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if r.Status.IsTerminal() {
		return s.view(ctx, r), nil
	}
	verr := s.verifier.VerifyOwnership(ctx, r.IdentityProof.Proof, r.ContentHash, r.IdentityHash)
	if verr == nil {
		return s.view(ctx, r), nil
	}
	reason := "identity proof failed re-verification"
	if dErrors.HasCode(verr, dErrors.CodeProofInvalid) {
		reason += ": " + verr.Error()
	}
	updated, err := s.mutate(ctx, id, func(cur *models.TakedownRequest, _ time.Time) error {
		if cur.Status.IsTerminal() {
			return nil
		}
		cur.Status = models.StatusRejected
		cur.RejectionReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.view(ctx, updated), nil
}

// Get returns a request with its current compliance.
func (s *Service) Get(ctx context.Context, id domain.RequestID) (*models.RequestView, error) {
	r, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return s.view(ctx, r), nil
}

func (s *Service) view(ctx context.Context, r *models.TakedownRequest) *models.RequestView {
	return &models.RequestView{Request: r, Compliance: models.Evaluate(r, requestcontext.Now(ctx))}
}

// mutate applies change to the latest stored version of a request, advances
// its status and persists it, retrying when a concurrent writer won.
// Side effects of the status change run once, after the write.
func (s *Service) mutate(ctx context.Context, id domain.RequestID, change func(*models.TakedownRequest, time.Time) error) (*models.TakedownRequest, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		cur, err := s.store.FindByID(ctx, id)
		if err != nil {
			return nil, translate(err)
		}
		before := cur.Clone()
		now := requestcontext.Now(ctx)
		if err := change(cur, now); err != nil {
			return nil, err
		}
		advance(cur, now)

		err = s.store.Update(ctx, cur)
		if errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, translate(err)
		}
		s.afterChange(ctx, before, cur)
		return cur, nil
	}
	return nil, dErrors.New(dErrors.CodeConflict, "takedown request is being updated concurrently")
}

// advance moves r forward according to its compliance at now.
func advance(r *models.TakedownRequest, now time.Time) {
	if r.Status.IsTerminal() {
		return
	}
	res := models.Evaluate(r, now)
	if r.Status == models.StatusSubmitted {
		r.Status = models.StatusProcessing
	}
	if res.OverallStatus == models.OverallCompliant && r.Status.CanTransitionTo(models.StatusApproved) {
		r.Status = models.StatusApproved
	}
	if res.LegalEscalation && r.EscalatedAt == nil {
		at := now
		r.EscalatedAt = &at
	}
	if res.Settled && r.Status.CanTransitionTo(models.StatusCompleted) {
		r.Status = models.StatusCompleted
	}
}

func (s *Service) afterChange(ctx context.Context, before, after *models.TakedownRequest) {
	if before.Status != after.Status {
		s.metrics.IncStatusChange(string(after.Status))
		s.logger.InfoContext(ctx, "takedown status changed",
			"request_id", after.RequestID.String(),
			"from", string(before.Status),
			"to", string(after.Status),
		)
		s.onStatus(ctx, before.Status, after)
	}
	if before.EscalatedAt == nil && after.EscalatedAt != nil {
		s.escalate(ctx, after)
	}
}

func (s *Service) onStatus(ctx context.Context, from models.Status, r *models.TakedownRequest) {
	res := models.Evaluate(r, requestcontext.Now(ctx))
	compliant := res.OverallStatus == models.OverallCompliant
	if r.Status == models.StatusApproved || (r.Status == models.StatusCompleted && from != models.StatusApproved && compliant) {
		if _, err := s.registry.MarkTakedownApproved(ctx, r.ContentHash, "takedown "+r.RequestID.String()+" compliant"); err != nil {
			s.logger.ErrorContext(ctx, "failed to mark content takedown approved",
				"request_id", r.RequestID.String(),
				"content_hash", r.ContentHash.String(),
				"error", err,
			)
		}
		s.audit(ctx, r, audit.EventTakedownApproved, string(res.OverallStatus))
	}
	switch r.Status {
	case models.StatusCompleted:
		s.metrics.ObserveCompliance(res.CompliancePercentage)
		s.audit(ctx, r, audit.EventTakedownCompleted, string(res.OverallStatus))
	case models.StatusRejected:
		s.logger.WarnContext(ctx, "takedown rejected",
			"request_id", r.RequestID.String(),
			"reason", r.RejectionReason,
		)
		s.audit(ctx, r, audit.EventTakedownRejected, r.RejectionReason)
	}
}

// escalate records a legal escalation and stores the evidence package.
func (s *Service) escalate(ctx context.Context, r *models.TakedownRequest) {
	s.metrics.IncEscalation()
	res := models.Evaluate(r, requestcontext.Now(ctx))
	s.logger.WarnContext(ctx, "takedown escalated for legal action",
		"request_id", r.RequestID.String(),
		"content_hash", r.ContentHash.String(),
		"compliance_percentage", res.CompliancePercentage,
	)
	s.audit(ctx, r, audit.EventTakedownEscalated, string(res.OverallStatus))
	if s.evidence == nil {
		return
	}

	var consensus []registrymodels.ConsensusProof
	if record, err := s.registry.FindByHash(ctx, r.ContentHash); err == nil && record.LatestConsensus != nil {
		consensus = append(consensus, *record.LatestConsensus)
	}
	_, ref, err := s.evidence.Build(ctx, evidence.Input{
		Request:   r,
		Consensus: consensus,
		CreatedAt: requestcontext.Now(ctx),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "evidence package failed", "request_id", r.RequestID.String(), "error", err)
		return
	}
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		cur, err := s.store.FindByID(ctx, r.RequestID)
		if err != nil {
			break
		}
		if cur.EvidenceRef != "" {
			r.EvidenceRef = cur.EvidenceRef
			return
		}
		cur.EvidenceRef = ref
		err = s.store.Update(ctx, cur)
		if err == nil {
			r.EvidenceRef = ref
			r.Version = cur.Version
			return
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			break
		}
	}
	s.logger.ErrorContext(ctx, "failed to attach evidence package", "request_id", r.RequestID.String(), "storage_ref", ref)
}

type anchorPayload struct {
	LegalBasis string   `json:"legal_basis"`
	Urgency    string   `json:"urgency"`
	Platforms  []string `json:"platforms"`
	Deadline   string   `json:"compliance_deadline"`
}

// anchor mirrors the submission into the ledger. A failed append is logged.
func (s *Service) anchor(ctx context.Context, r *models.TakedownRequest) {
	if s.ledger == nil {
		return
	}
	payload, err := json.Marshal(anchorPayload{
		LegalBasis: string(r.LegalBasis),
		Urgency:    string(r.Urgency),
		Platforms:  r.Platforms,
		Deadline:   r.ComplianceDeadline.Format(time.RFC3339),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "ledger payload encoding failed", "request_id", r.RequestID.String(), "error", err)
		return
	}
	_, err = s.ledger.Append(ctx, ledger.Entry{
		Kind:        ledger.KindTakedown,
		ContentHash: r.ContentHash,
		Key:         r.RequestID.String(),
		Payload:     payload,
		RecordedAt:  requestcontext.Now(ctx),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "ledger append failed", "request_id", r.RequestID.String(), "error", err)
	}
}

func (s *Service) audit(ctx context.Context, r *models.TakedownRequest, action audit.AuditEvent, decision string) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Emit(ctx, audit.ComplianceEvent{
		Timestamp:    requestcontext.Now(ctx),
		Subject:      r.RequestID.String(),
		Action:       action,
		IdentityHash: r.IdentityHash.String(),
		Decision:     decision,
		Reason:       string(r.LegalBasis),
		RequestID:    requestcontext.RequestID(ctx),
		ActorID:      requestcontext.Subject(ctx),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "takedown audit failed", "request_id", r.RequestID.String(), "action", string(action), "error", err)
	}
}

func translate(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "takedown request not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "takedown request was modified concurrently")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to access takedown request")
	}
}
