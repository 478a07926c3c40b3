package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaguard/internal/platform/postgres"
	"mediaguard/internal/registry/models"
	"mediaguard/pkg/domain"
	"mediaguard/pkg/platform/sentinel"
)

//go:embed migrations/*.sql
var migrations embed.FS

const pgForeignKeyViolation = "23503"

// PostgresStore persists the registry in PostgreSQL. State changes are
// conditional updates on validation_state, so concurrent writers for one
// content hash serialize on its row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the registry tables.
func (s *PostgresStore) Migrate(ctx context.Context, logger *slog.Logger) error {
	return postgres.Migrate(ctx, s.pool, migrations, "migrations", logger)
}

const recordColumns = `content_hash, registration_id::text, identity_hash, registration_time, privacy_level,
	validation_state, storage_ref, ownership_proof, latest_consensus, version`

func (s *PostgresStore) Create(ctx context.Context, record *models.ContentRecord) error {
	proofJSON, err := json.Marshal(record.Proof)
	if err != nil {
		return fmt.Errorf("encode ownership proof: %w", err)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO content_records (content_hash, registration_id, identity_hash, registration_time,
				privacy_level, validation_state, storage_ref, ownership_proof, version)
			VALUES ($1, $2::uuid, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (content_hash) DO NOTHING`,
			record.ContentHash[:], record.RegistrationID.String(), record.IdentityHash[:],
			record.RegistrationTime, string(record.PrivacyLevel), string(record.ValidationState),
			record.StorageRef, proofJSON, record.Version,
		)
		if err != nil {
			return fmt.Errorf("insert content record: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return sentinel.ErrConflict
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO content_state_history (content_hash, seq, from_state, to_state, reason, at)
			VALUES ($1, 1, '', $2, 'registered', $3)`,
			record.ContentHash[:], string(record.ValidationState), record.RegistrationTime,
		)
		if err != nil {
			return fmt.Errorf("insert initial history: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) FindByHash(ctx context.Context, hash domain.ContentHash) (*models.ContentRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM content_records WHERE content_hash = $1`, hash[:])
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find content record: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) ListByIdentity(ctx context.Context, identity domain.IdentityHash) ([]*models.ContentRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM content_records
		WHERE identity_hash = $1 ORDER BY registration_time ASC`, identity[:])
	if err != nil {
		return nil, fmt.Errorf("list content records: %w", err)
	}
	defer rows.Close()

	var records []*models.ContentRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStore) ListContentHashes(ctx context.Context) ([]domain.ContentHash, error) {
	rows, err := s.pool.Query(ctx, `SELECT content_hash FROM content_records ORDER BY content_hash`)
	if err != nil {
		return nil, fmt.Errorf("list content hashes: %w", err)
	}
	defer rows.Close()

	var hashes []domain.ContentHash
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan content hash: %w", err)
		}
		h, err := hashFromBytes(raw)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func (s *PostgresStore) CompareAndSwapState(ctx context.Context, hash domain.ContentHash, from, to models.ValidationState, consensus *models.ConsensusProof, transition models.StateTransition) (*models.ContentRecord, error) {
	if from != to && !from.CanTransitionTo(to) {
		return nil, sentinel.ErrInvalidState
	}
	var consensusJSON []byte
	if consensus != nil {
		var err error
		if consensusJSON, err = json.Marshal(consensus); err != nil {
			return nil, fmt.Errorf("encode consensus proof: %w", err)
		}
	}

	var updated *models.ContentRecord
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE content_records
			SET validation_state = $3,
				latest_consensus = COALESCE($4::jsonb, latest_consensus),
				version = version + 1
			WHERE content_hash = $1 AND validation_state = $2
			RETURNING `+recordColumns,
			hash[:], string(from), string(to), consensusJSON,
		)
		record, err := scanRecord(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return s.missOrConflict(ctx, tx, hash)
			}
			return fmt.Errorf("update validation state: %w", err)
		}
		updated = record
		if from == to {
			return nil
		}
		var eventID *string
		if transition.EventID != nil {
			id := transition.EventID.String()
			eventID = &id
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO content_state_history (content_hash, seq, from_state, to_state, event_id, reason, at)
			SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4::uuid, $5, $6
			FROM content_state_history WHERE content_hash = $1`,
			hash[:], string(from), string(to), eventID, transition.Reason, transition.At,
		)
		if err != nil {
			return fmt.Errorf("append state history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) missOrConflict(ctx context.Context, tx pgx.Tx, hash domain.ContentHash) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM content_records WHERE content_hash = $1)`, hash[:]).Scan(&exists); err != nil {
		return fmt.Errorf("check content record: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

func (s *PostgresStore) History(ctx context.Context, hash domain.ContentHash) ([]models.StateTransition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, from_state, to_state, event_id::text, reason, at
		FROM content_state_history WHERE content_hash = $1 ORDER BY seq`, hash[:])
	if err != nil {
		return nil, fmt.Errorf("list state history: %w", err)
	}
	defer rows.Close()

	var history []models.StateTransition
	for rows.Next() {
		var (
			t        models.StateTransition
			from, to string
			eventID  *string
		)
		if err := rows.Scan(&t.Seq, &from, &to, &eventID, &t.Reason, &t.At); err != nil {
			return nil, fmt.Errorf("scan state history: %w", err)
		}
		t.ContentHash = hash
		t.From = models.ValidationState(from)
		t.To = models.ValidationState(to)
		if eventID != nil {
			id, err := domain.ParseEventID(*eventID)
			if err != nil {
				return nil, err
			}
			t.EventID = &id
		}
		history = append(history, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return history, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event *models.ContentEvent) error {
	var metadata []byte
	if len(event.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(event.Metadata); err != nil {
			return fmt.Errorf("encode event metadata: %w", err)
		}
	}
	var proofJSON []byte
	if event.ConsensusProof != nil {
		var err error
		if proofJSON, err = json.Marshal(event.ConsensusProof); err != nil {
			return fmt.Errorf("encode consensus proof: %w", err)
		}
	}
	state := event.State
	if state == "" {
		state = models.EventUnvalidated
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO content_events (event_id, content_hash, identity_hash, event_type, platform_id,
			device_fingerprint, occurred_at, metadata, consensus_state, consensus_proof)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID.String(), event.ContentHash[:], event.IdentityHash[:], string(event.Type),
		event.PlatformID, event.DeviceFingerprint, event.Timestamp, metadata, string(state), proofJSON,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("insert content event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

const eventColumns = `event_id::text, content_hash, identity_hash, event_type, platform_id,
	device_fingerprint, occurred_at, metadata, consensus_state, consensus_proof`

func (s *PostgresStore) FindEvent(ctx context.Context, eventID domain.EventID) (*models.ContentEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM content_events WHERE event_id = $1::uuid`, eventID.String())
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find content event: %w", err)
	}
	return event, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, hash domain.ContentHash) ([]*models.ContentEvent, error) {
	if _, err := s.FindByHash(ctx, hash); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM content_events
		WHERE content_hash = $1 ORDER BY occurred_at ASC, event_id ASC`, hash[:])
	if err != nil {
		return nil, fmt.Errorf("list content events: %w", err)
	}
	defer rows.Close()

	var events []*models.ContentEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *PostgresStore) SetEventConsensus(ctx context.Context, eventID domain.EventID, state models.EventState, proof *models.ConsensusProof) error {
	proofJSON, err := json.Marshal(proof)
	if err != nil {
		return fmt.Errorf("encode consensus proof: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE content_events SET consensus_state = $2, consensus_proof = $3
		WHERE event_id = $1::uuid AND consensus_state = $4`,
		eventID.String(), string(state), proofJSON, string(models.EventUnvalidated),
	)
	if err != nil {
		return fmt.Errorf("update event consensus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, err := s.FindEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if sameDecision(current, state, proof) {
			return nil
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) ReplaceEventConsensus(ctx context.Context, eventID domain.EventID, expectedValidators int, proof *models.ConsensusProof) error {
	proofJSON, err := json.Marshal(proof)
	if err != nil {
		return fmt.Errorf("encode consensus proof: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE content_events SET consensus_proof = $2
		WHERE event_id = $1::uuid AND consensus_state <> $3 AND consensus_proof IS NOT NULL
		  AND jsonb_array_length(COALESCE(NULLIF(consensus_proof->'validator_nodes', 'null'::jsonb), '[]'::jsonb)) = $4`,
		eventID.String(), proofJSON, string(models.EventUnvalidated), expectedValidators,
	)
	if err != nil {
		return fmt.Errorf("replace event consensus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, err := s.FindEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if current.State == models.EventUnvalidated || current.ConsensusProof == nil {
			return sentinel.ErrInvalidState
		}
		return sentinel.ErrConflict
	}
	return nil
}

func scanRecord(row pgx.Row) (*models.ContentRecord, error) {
	var (
		r                   models.ContentRecord
		contentRaw, idRaw   []byte
		registrationID      string
		privacy, state      string
		proofJSON, consJSON []byte
	)
	if err := row.Scan(&contentRaw, &registrationID, &idRaw, &r.RegistrationTime, &privacy,
		&state, &r.StorageRef, &proofJSON, &consJSON, &r.Version); err != nil {
		return nil, err
	}
	var err error
	if r.ContentHash, err = hashFromBytes(contentRaw); err != nil {
		return nil, err
	}
	if r.IdentityHash, err = identityFromBytes(idRaw); err != nil {
		return nil, err
	}
	if r.RegistrationID, err = domain.ParseRegistrationID(registrationID); err != nil {
		return nil, err
	}
	r.PrivacyLevel = models.PrivacyLevel(privacy)
	r.ValidationState = models.ValidationState(state)
	if err := json.Unmarshal(proofJSON, &r.Proof); err != nil {
		return nil, fmt.Errorf("decode ownership proof: %w", err)
	}
	if len(consJSON) > 0 {
		r.LatestConsensus = &models.ConsensusProof{}
		if err := json.Unmarshal(consJSON, r.LatestConsensus); err != nil {
			return nil, fmt.Errorf("decode consensus proof: %w", err)
		}
	}
	return &r, nil
}

func scanEvent(row pgx.Row) (*models.ContentEvent, error) {
	var (
		e                   models.ContentEvent
		eventID             string
		contentRaw, idRaw   []byte
		eventType, state    string
		metadata, proofJSON []byte
	)
	if err := row.Scan(&eventID, &contentRaw, &idRaw, &eventType, &e.PlatformID,
		&e.DeviceFingerprint, &e.Timestamp, &metadata, &state, &proofJSON); err != nil {
		return nil, err
	}
	var err error
	if e.EventID, err = domain.ParseEventID(eventID); err != nil {
		return nil, err
	}
	if e.ContentHash, err = hashFromBytes(contentRaw); err != nil {
		return nil, err
	}
	if e.IdentityHash, err = identityFromBytes(idRaw); err != nil {
		return nil, err
	}
	e.Type = models.EventType(eventType)
	e.State = models.EventState(state)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode event metadata: %w", err)
		}
	}
	if len(proofJSON) > 0 {
		e.ConsensusProof = &models.ConsensusProof{}
		if err := json.Unmarshal(proofJSON, e.ConsensusProof); err != nil {
			return nil, fmt.Errorf("decode consensus proof: %w", err)
		}
	}
	return &e, nil
}

func hashFromBytes(raw []byte) (domain.ContentHash, error) {
	var h domain.ContentHash
	if len(raw) != len(h) {
		return h, fmt.Errorf("stored content hash has %d bytes", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func identityFromBytes(raw []byte) (domain.IdentityHash, error) {
	var h domain.IdentityHash
	if len(raw) != len(h) {
		return h, fmt.Errorf("stored identity hash has %d bytes", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}
