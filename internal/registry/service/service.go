// Package service implements the ownership registry: registrations, the
// per-content event log, consensus-driven state changes and usage reports.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"mediaguard/internal/ledger"
	"mediaguard/internal/proof"
	"mediaguard/internal/registry/metrics"
	"mediaguard/internal/registry/models"
	"mediaguard/pkg/domain"
	dErrors "mediaguard/pkg/domain-errors"
	"mediaguard/pkg/platform/audit"
	"mediaguard/pkg/platform/sentinel"
	"mediaguard/pkg/requestcontext"
)

// maxCASAttempts bounds retries of a state update that lost a race.
const maxCASAttempts = 5

// maxRefreshAttempts bounds co-signing retries. Every lost race is another
// signer's win, so this also caps the concurrent signers one call outlasts.
const maxRefreshAttempts = 16

type Store interface {
	Create(ctx context.Context, record *models.ContentRecord) error
	FindByHash(ctx context.Context, hash domain.ContentHash) (*models.ContentRecord, error)
	ListByIdentity(ctx context.Context, identity domain.IdentityHash) ([]*models.ContentRecord, error)
	ListContentHashes(ctx context.Context) ([]domain.ContentHash, error)
	CompareAndSwapState(ctx context.Context, hash domain.ContentHash, from, to models.ValidationState, consensus *models.ConsensusProof, transition models.StateTransition) (*models.ContentRecord, error)
	History(ctx context.Context, hash domain.ContentHash) ([]models.StateTransition, error)
	AppendEvent(ctx context.Context, event *models.ContentEvent) error
	FindEvent(ctx context.Context, eventID domain.EventID) (*models.ContentEvent, error)
	ListEvents(ctx context.Context, hash domain.ContentHash) ([]*models.ContentEvent, error)
	SetEventConsensus(ctx context.Context, eventID domain.EventID, state models.EventState, proof *models.ConsensusProof) error
	ReplaceEventConsensus(ctx context.Context, eventID domain.EventID, expectedValidators int, proof *models.ConsensusProof) error
}

type ProofVerifier interface {
	VerifyOwnership(ctx context.Context, p proof.OwnershipProof, content domain.ContentHash, identity domain.IdentityHash) error
}

type BlobStore interface {
	Put(ctx context.Context, key string, blob []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

type Ledger interface {
	Append(ctx context.Context, entry ledger.Entry) (ledger.Receipt, error)
}

type ComplianceAuditor interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// Service is the ownership registry.
type Service struct {
	store    Store
	verifier ProofVerifier
	blobs    BlobStore
	ledger   Ledger
	auditor  ComplianceAuditor
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Service)

func WithBlobStore(blobs BlobStore) Option {
	return func(s *Service) {
		s.blobs = blobs
	}
}

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

func New(store Store, verifier ProofVerifier, opts ...Option) *Service {
	s := &Service{store: store, verifier: verifier, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// RegisterRequest carries everything needed to claim a content hash.
type RegisterRequest struct {
	ContentHash  domain.ContentHash
	IdentityHash domain.IdentityHash
	PrivacyLevel models.PrivacyLevel
	Proof        proof.OwnershipProof
	// Metadata is an optional opaque blob kept in the storage collaborator.
	Metadata []byte
}

// RegisterResult reports the record and whether this call created it.
type RegisterResult struct {
	Record  *models.ContentRecord
	Created bool
}

// Register records ownership of a content hash. The proof must verify for
// the claimed identity. Registering again under the same identity returns the
// existing record; under another identity it fails with
// duplicate_registration.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if req.ContentHash.IsZero() || req.IdentityHash.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "content_hash and identity_hash are required")
	}
	if err := s.verifier.VerifyOwnership(ctx, req.Proof, req.ContentHash, req.IdentityHash); err != nil {
		s.metrics.IncRegistration("proof_invalid")
		if dErrors.HasCode(err, dErrors.CodeProofInvalid) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeProofInvalid, "ownership proof rejected")
	}

	existing, err := s.store.FindByHash(ctx, req.ContentHash)
	switch {
	case err == nil:
		return s.resolveExisting(existing, req.IdentityHash)
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load content record")
	}

	record, err := models.NewContentRecord(req.ContentHash, req.IdentityHash, req.PrivacyLevel, req.Proof, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if len(req.Metadata) > 0 && s.blobs != nil {
		ref, err := s.blobs.Put(ctx, metadataKey(req.ContentHash), req.Metadata)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to store content metadata")
		}
		record.StorageRef = ref
	}

	if err := s.store.Create(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost a race with a concurrent registration of the same hash.
			winner, findErr := s.store.FindByHash(ctx, req.ContentHash)
			if findErr != nil {
				return nil, dErrors.Wrap(findErr, dErrors.CodeInternal, "failed to load content record")
			}
			return s.resolveExisting(winner, req.IdentityHash)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create content record")
	}
	s.metrics.IncRegistration("created")

	s.anchor(ctx, ledger.KindRegistration, record.ContentHash, record.RegistrationID.String(), record)
	if s.auditor != nil {
		err := s.auditor.Emit(ctx, audit.ComplianceEvent{
			Timestamp:    record.RegistrationTime,
			Subject:      record.ContentHash.String(),
			Action:       audit.EventContentRegistered,
			IdentityHash: record.IdentityHash.String(),
			Decision:     string(record.ValidationState),
			RequestID:    requestcontext.RequestID(ctx),
		})
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit registration")
		}
	}
	s.logger.InfoContext(ctx, "content registered",
		"content_hash", record.ContentHash.String(),
		"registration_id", record.RegistrationID.String(),
		"privacy_level", string(record.PrivacyLevel),
	)
	return &RegisterResult{Record: record, Created: true}, nil
}

func (s *Service) resolveExisting(existing *models.ContentRecord, identity domain.IdentityHash) (*RegisterResult, error) {
	if existing.IdentityHash != identity {
		s.metrics.IncRegistration("duplicate")
		return nil, dErrors.New(dErrors.CodeDuplicate, "content hash is registered to another identity")
	}
	s.metrics.IncRegistration("idempotent")
	return &RegisterResult{Record: existing}, nil
}

func metadataKey(hash domain.ContentHash) string {
	return "content/" + hash.String() + "/metadata"
}

// anchor appends an entry to the ledger. The ledger is an audit mirror; a
// failed append is logged and does not fail the operation.
func (s *Service) anchor(ctx context.Context, kind ledger.Kind, hash domain.ContentHash, key string, payload any) (ledger.Receipt, bool) {
	if s.ledger == nil {
		return ledger.Receipt{}, false
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "ledger payload encoding failed", "kind", string(kind), "error", err)
		return ledger.Receipt{}, false
	}
	receipt, err := s.ledger.Append(ctx, ledger.Entry{
		Kind:        kind,
		ContentHash: hash,
		Key:         key,
		Payload:     raw,
		RecordedAt:  requestcontext.Now(ctx),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "ledger append failed",
			"kind", string(kind),
			"content_hash", hash.String(),
			"error", err,
		)
		return ledger.Receipt{}, false
	}
	return receipt, true
}

// FindByHash returns the current record for a content hash.
func (s *Service) FindByHash(ctx context.Context, hash domain.ContentHash) (*models.ContentRecord, error) {
	record, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		return nil, translate(err, "content record")
	}
	return record, nil
}

// Get returns a record with its event log and state history.
func (s *Service) Get(ctx context.Context, hash domain.ContentHash) (*models.ContentDetail, error) {
	record, err := s.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx, hash)
	if err != nil {
		return nil, translate(err, "content events")
	}
	history, err := s.store.History(ctx, hash)
	if err != nil {
		return nil, translate(err, "state history")
	}
	return &models.ContentDetail{Record: record, Events: events, History: history}, nil
}

// LoadMetadata returns the opaque metadata blob stored at registration.
func (s *Service) LoadMetadata(ctx context.Context, hash domain.ContentHash) ([]byte, error) {
	record, err := s.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if record.StorageRef == "" || s.blobs == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "no metadata stored for content")
	}
	blob, err := s.blobs.Get(ctx, record.StorageRef)
	if err != nil {
		return nil, translate(err, "content metadata")
	}
	return blob, nil
}

// QueryUsage reports every record registered to identity with its events
// and the derived risk score. It reads committed state at call time.
func (s *Service) QueryUsage(ctx context.Context, identity domain.IdentityHash) (*models.UsageReport, error) {
	if identity.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "identity_hash is required")
	}
	records, err := s.store.ListByIdentity(ctx, identity)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list content records")
	}

	report := &models.UsageReport{
		IdentityHash: identity,
		Content:      make([]models.ContentUsage, 0, len(records)),
		Platforms:    []string{},
		GeneratedAt:  requestcontext.Now(ctx),
	}
	var all []*models.ContentEvent
	for _, record := range records {
		events, err := s.store.ListEvents(ctx, record.ContentHash)
		if err != nil {
			return nil, translate(err, "content events")
		}
		report.Content = append(report.Content, models.ContentUsage{Record: record, Events: events})
		all = append(all, events...)
	}

	platforms, disputed, days := usageStats(all)
	if platforms != nil {
		report.Platforms = platforms
	}
	report.DisputedEvents = disputed
	report.DaysSpread = days
	report.OverallRiskScore = RiskScore(len(platforms), disputed, days)
	report.Suspicious = report.OverallRiskScore >= SuspiciousThreshold
	s.metrics.ObserveRiskScore(report.OverallRiskScore)
	return report, nil
}

// RecordEvent appends an event to the log of a registered content hash.
// Redelivery of a known event id returns the stored event with created=false.
func (s *Service) RecordEvent(ctx context.Context, event *models.ContentEvent) (*models.ContentEvent, bool, error) {
	if event == nil {
		return nil, false, dErrors.New(dErrors.CodeValidation, "event is required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if err := event.Validate(); err != nil {
		return nil, false, err
	}
	event.State = models.EventUnvalidated
	event.ConsensusProof = nil
	if event.IdentityHash.IsZero() {
		if record, err := s.store.FindByHash(ctx, event.ContentHash); err == nil {
			event.IdentityHash = record.IdentityHash
		}
	}

	if err := s.store.AppendEvent(ctx, event); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			existing, findErr := s.store.FindEvent(ctx, event.EventID)
			if findErr != nil {
				return nil, false, translate(findErr, "content event")
			}
			if existing.ContentHash != event.ContentHash {
				return nil, false, dErrors.New(dErrors.CodeConflict, "event id already used for other content")
			}
			return existing, false, nil
		}
		return nil, false, translate(err, "content record")
	}
	s.metrics.IncEventRecorded(string(event.Type))
	s.logger.DebugContext(ctx, "content event recorded",
		"event_id", event.EventID.String(),
		"content_hash", event.ContentHash.String(),
		"event_type", string(event.Type),
		"platform_id", event.PlatformID,
	)
	return event.Clone(), true, nil
}

// FindEvent returns one stored event.
func (s *Service) FindEvent(ctx context.Context, eventID domain.EventID) (*models.ContentEvent, error) {
	event, err := s.store.FindEvent(ctx, eventID)
	if err != nil {
		return nil, translate(err, "content event")
	}
	return event, nil
}

// ApplyConsensus attaches a consensus outcome to its event and moves the
// content record to the matching validation state. A record that reached
// takedown_approved keeps its state; the event still records the outcome.
func (s *Service) ApplyConsensus(ctx context.Context, eventID domain.EventID, outcome models.EventState, consensus *models.ConsensusProof) (*models.ContentRecord, error) {
	if outcome != models.EventValidated && outcome != models.EventDisputed {
		return nil, dErrors.New(dErrors.CodeValidation, "consensus outcome must be validated or disputed")
	}
	if consensus == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "consensus proof is required")
	}
	if err := consensus.Validate(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid consensus proof")
	}
	event, err := s.store.FindEvent(ctx, eventID)
	if err != nil {
		return nil, translate(err, "content event")
	}
	if err := s.store.SetEventConsensus(ctx, eventID, outcome, consensus); err != nil {
		return nil, translate(err, "content event")
	}

	target := models.StateValidated
	if outcome == models.EventDisputed {
		target = models.StateDisputed
	}
	transition := models.StateTransition{EventID: &eventID, Reason: "consensus " + string(outcome)}
	return s.transition(ctx, event.ContentHash, target, consensus, transition)
}

// RefreshConsensus rewrites the consensus proof of an already decided event,
// as when another validator co-signs it. update derives the next proof from
// the latest stored one; returning the stored proof itself means there is
// nothing to write. It is retried when a concurrent refresh got there first.
// The record state is not touched.
func (s *Service) RefreshConsensus(ctx context.Context, eventID domain.EventID, update func(*models.ConsensusProof) (*models.ConsensusProof, error)) (*models.ConsensusProof, error) {
	for attempt := 0; attempt < maxRefreshAttempts; attempt++ {
		event, err := s.store.FindEvent(ctx, eventID)
		if err != nil {
			return nil, translate(err, "content event")
		}
		if event.State == models.EventUnvalidated || event.ConsensusProof == nil {
			return nil, dErrors.New(dErrors.CodeInvalidState, "content event has no consensus outcome yet")
		}
		current := event.ConsensusProof
		next, err := update(current)
		if err != nil {
			return nil, err
		}
		if next == current {
			return current, nil
		}
		if next == nil {
			return nil, dErrors.New(dErrors.CodeValidation, "consensus proof is required")
		}
		if err := next.Validate(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid consensus proof")
		}
		err = s.store.ReplaceEventConsensus(ctx, eventID, len(current.ValidatorNodes), next)
		if errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, translate(err, "content event")
		}
		return next, nil
	}
	return nil, dErrors.New(dErrors.CodeConflict, "consensus proof is being updated concurrently")
}

// MarkTakedownApproved moves a record to its terminal state. Repeating the
// call is a no-op.
func (s *Service) MarkTakedownApproved(ctx context.Context, hash domain.ContentHash, reason string) (*models.ContentRecord, error) {
	return s.transition(ctx, hash, models.StateTakedownApproved, nil, models.StateTransition{Reason: reason})
}

// transition is a compare-and-swap loop: read the state, compute the move,
// write conditionally, retry when a concurrent writer got there first.
func (s *Service) transition(ctx context.Context, hash domain.ContentHash, target models.ValidationState, consensus *models.ConsensusProof, transition models.StateTransition) (*models.ContentRecord, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.store.FindByHash(ctx, hash)
		if err != nil {
			return nil, translate(err, "content record")
		}
		from := current.ValidationState
		if from.IsTerminal() {
			return current, nil
		}
		if from == target && consensus == nil {
			return current, nil
		}
		transition.At = requestcontext.Now(ctx)
		updated, err := s.store.CompareAndSwapState(ctx, hash, from, target, consensus, transition)
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncCASRetry()
			continue
		}
		if err != nil {
			return nil, translate(err, "content record")
		}
		if from != target {
			s.metrics.IncStateTransition(string(from), string(target))
			s.logger.InfoContext(ctx, "content state changed",
				"content_hash", hash.String(),
				"from", string(from),
				"to", string(target),
				"reason", transition.Reason,
			)
			s.auditTransition(ctx, updated, from, transition.Reason)
		}
		return updated, nil
	}
	return nil, dErrors.New(dErrors.CodeConflict, "content record is being updated concurrently")
}

func (s *Service) auditTransition(ctx context.Context, record *models.ContentRecord, from models.ValidationState, reason string) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Emit(ctx, audit.ComplianceEvent{
		Timestamp:    requestcontext.Now(ctx),
		Subject:      record.ContentHash.String(),
		Action:       audit.EventContentStateChanged,
		IdentityHash: record.IdentityHash.String(),
		Decision:     string(record.ValidationState),
		Reason:       string(from) + " -> " + string(record.ValidationState) + ": " + reason,
		RequestID:    requestcontext.RequestID(ctx),
	})
	if err != nil {
		// The state change is committed; the compliance publisher has already
		// logged the failure at error level.
		s.logger.ErrorContext(ctx, "state change audit failed", "content_hash", record.ContentHash.String(), "error", err)
	}
}

// HostingPlatforms lists the platforms currently believed to host content:
// those whose latest hosting-relevant event is not a delete.
func (s *Service) HostingPlatforms(ctx context.Context, hash domain.ContentHash) ([]string, error) {
	events, err := s.store.ListEvents(ctx, hash)
	if err != nil {
		return nil, translate(err, "content record")
	}
	return models.HostingPlatforms(events), nil
}

// ListContentHashes returns every registered content hash.
func (s *Service) ListContentHashes(ctx context.Context) ([]domain.ContentHash, error) {
	hashes, err := s.store.ListContentHashes(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list content hashes")
	}
	return hashes, nil
}

func translate(err error, what string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeInvalidState, what+" is in a terminal state")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, what+" was modified concurrently")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to access "+what)
	}
}
