// Package store persists content records, their state history and their
// event log. Stores return sentinel errors; the service maps them to domain
// errors.
package store

import (
	"context"
	"sort"
	"sync"

	"mediaguard/internal/registry/models"
	"mediaguard/pkg/domain"
	"mediaguard/pkg/platform/sentinel"
)

// entry holds everything stored for one content hash. Its mutex is the unit
// of mutual exclusion: different content hashes never contend.
type entry struct {
	mu      sync.Mutex
	record  *models.ContentRecord
	events  []*models.ContentEvent
	history []models.StateTransition
}

// InMemory is a process-local store.
type InMemory struct {
	entries sync.Map // domain.ContentHash -> *entry

	idxMu      sync.RWMutex
	byIdentity map[domain.IdentityHash][]domain.ContentHash
	byEvent    map[domain.EventID]domain.ContentHash
}

func NewInMemory() *InMemory {
	return &InMemory{
		byIdentity: make(map[domain.IdentityHash][]domain.ContentHash),
		byEvent:    make(map[domain.EventID]domain.ContentHash),
	}
}

func (s *InMemory) lookup(hash domain.ContentHash) (*entry, bool) {
	v, ok := s.entries.Load(hash)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// Create stores a new record. ErrConflict when the hash is already registered.
func (s *InMemory) Create(ctx context.Context, record *models.ContentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := &entry{}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, loaded := s.entries.LoadOrStore(record.ContentHash, e); loaded {
		return sentinel.ErrConflict
	}
	e.record = record.Clone()
	e.history = append(e.history, models.StateTransition{
		ContentHash: record.ContentHash,
		Seq:         1,
		To:          record.ValidationState,
		Reason:      "registered",
		At:          record.RegistrationTime,
	})

	s.idxMu.Lock()
	s.byIdentity[record.IdentityHash] = append(s.byIdentity[record.IdentityHash], record.ContentHash)
	s.idxMu.Unlock()
	return nil
}

func (s *InMemory) FindByHash(ctx context.Context, hash domain.ContentHash) (*models.ContentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := s.lookup(hash)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record == nil {
		return nil, sentinel.ErrNotFound
	}
	return e.record.Clone(), nil
}

func (s *InMemory) ListByIdentity(ctx context.Context, identity domain.IdentityHash) ([]*models.ContentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.idxMu.RLock()
	hashes := append([]domain.ContentHash(nil), s.byIdentity[identity]...)
	s.idxMu.RUnlock()

	records := make([]*models.ContentRecord, 0, len(hashes))
	for _, h := range hashes {
		r, err := s.FindByHash(ctx, h)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].RegistrationTime.Before(records[j].RegistrationTime)
	})
	return records, nil
}

func (s *InMemory) ListContentHashes(ctx context.Context) ([]domain.ContentHash, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var hashes []domain.ContentHash
	s.entries.Range(func(k, _ any) bool {
		hashes = append(hashes, k.(domain.ContentHash))
		return true
	})
	sort.Slice(hashes, func(i, j int) bool {
		return hashes[i].String() < hashes[j].String()
	})
	return hashes, nil
}

// CompareAndSwapState moves the record from `from` to `to` and stores
// consensus as its latest consensus proof when non-nil. ErrConflict when the
// current state is not `from`; ErrInvalidState when the move is not allowed.
func (s *InMemory) CompareAndSwapState(ctx context.Context, hash domain.ContentHash, from, to models.ValidationState, consensus *models.ConsensusProof, transition models.StateTransition) (*models.ContentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := s.lookup(hash)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record == nil {
		return nil, sentinel.ErrNotFound
	}
	if e.record.ValidationState != from {
		return nil, sentinel.ErrConflict
	}
	if from != to && !from.CanTransitionTo(to) {
		return nil, sentinel.ErrInvalidState
	}
	e.record.ValidationState = to
	if consensus != nil {
		e.record.LatestConsensus = consensus.Clone()
	}
	e.record.Version++
	if from != to {
		transition.ContentHash = hash
		transition.From = from
		transition.To = to
		transition.Seq = int64(len(e.history) + 1)
		e.history = append(e.history, transition)
	}
	return e.record.Clone(), nil
}

func (s *InMemory) History(ctx context.Context, hash domain.ContentHash) ([]models.StateTransition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := s.lookup(hash)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.StateTransition(nil), e.history...), nil
}

// AppendEvent adds an event to the log of its content hash. ErrNotFound when
// the hash is not registered; ErrConflict when the event id is already known.
func (s *InMemory) AppendEvent(ctx context.Context, event *models.ContentEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, ok := s.lookup(event.ContentHash)
	if !ok {
		return sentinel.ErrNotFound
	}

	s.idxMu.Lock()
	if _, dup := s.byEvent[event.EventID]; dup {
		s.idxMu.Unlock()
		return sentinel.ErrConflict
	}
	s.byEvent[event.EventID] = event.ContentHash
	s.idxMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event.Clone())
	sort.SliceStable(e.events, func(i, j int) bool {
		return e.events[i].Timestamp.Before(e.events[j].Timestamp)
	})
	return nil
}

func (s *InMemory) FindEvent(ctx context.Context, eventID domain.EventID) (*models.ContentEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.idxMu.RLock()
	hash, ok := s.byEvent[eventID]
	s.idxMu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	e, ok := s.lookup(hash)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev.EventID == eventID {
			return ev.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ListEvents(ctx context.Context, hash domain.ContentHash) ([]*models.ContentEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := s.lookup(hash)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	events := make([]*models.ContentEvent, len(e.events))
	for i, ev := range e.events {
		events[i] = ev.Clone()
	}
	return events, nil
}

// SetEventConsensus records the consensus outcome of an unvalidated event.
// Once decided, only a replay of the same decision (same outcome and merkle
// root) is accepted, and it changes nothing.
func (s *InMemory) SetEventConsensus(ctx context.Context, eventID domain.EventID, state models.EventState, proof *models.ConsensusProof) error {
	return s.withEvent(ctx, eventID, func(ev *models.ContentEvent) error {
		if ev.State != models.EventUnvalidated {
			if sameDecision(ev, state, proof) {
				return nil
			}
			return sentinel.ErrInvalidState
		}
		ev.State = state
		ev.ConsensusProof = proof.Clone()
		return nil
	})
}

// ReplaceEventConsensus swaps the proof of a decided event, provided the
// stored proof still has expectedValidators signers.
func (s *InMemory) ReplaceEventConsensus(ctx context.Context, eventID domain.EventID, expectedValidators int, proof *models.ConsensusProof) error {
	return s.withEvent(ctx, eventID, func(ev *models.ContentEvent) error {
		if ev.State == models.EventUnvalidated || ev.ConsensusProof == nil {
			return sentinel.ErrInvalidState
		}
		if len(ev.ConsensusProof.ValidatorNodes) != expectedValidators {
			return sentinel.ErrConflict
		}
		ev.ConsensusProof = proof.Clone()
		return nil
	})
}

func (s *InMemory) withEvent(ctx context.Context, eventID domain.EventID, fn func(*models.ContentEvent) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.idxMu.RLock()
	hash, ok := s.byEvent[eventID]
	s.idxMu.RUnlock()
	if !ok {
		return sentinel.ErrNotFound
	}
	e, ok := s.lookup(hash)
	if !ok {
		return sentinel.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev.EventID == eventID {
			return fn(ev)
		}
	}
	return sentinel.ErrNotFound
}

func sameDecision(ev *models.ContentEvent, state models.EventState, proof *models.ConsensusProof) bool {
	return ev.State == state && ev.ConsensusProof != nil && proof != nil &&
		ev.ConsensusProof.MerkleRoot == proof.MerkleRoot
}
