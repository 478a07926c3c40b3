package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaguard/internal/platform/postgres"
	"mediaguard/internal/takedown/models"
	"mediaguard/pkg/domain"
	"mediaguard/pkg/platform/sentinel"
)

//go:embed migrations/*.sql
var migrations embed.FS

const pgUniqueViolation = "23505"

// PostgresStore persists takedown requests in PostgreSQL. Updates are
// conditional on the version column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the takedown tables.
func (s *PostgresStore) Migrate(ctx context.Context, logger *slog.Logger) error {
	return postgres.Migrate(ctx, s.pool, migrations, "migrations", logger)
}

const requestColumns = `request_id::text, content_hash, identity_hash, platforms, identity_proof, legal_basis,
	urgency, submission_time, compliance_deadline, status, responses, evidence_ref, escalated_at,
	rejection_reason, version`

func (s *PostgresStore) Create(ctx context.Context, r *models.TakedownRequest) error {
	proofJSON, responsesJSON, err := encodeRequest(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO takedown_requests (request_id, content_hash, identity_hash, platforms, identity_proof,
			legal_basis, urgency, submission_time, compliance_deadline, status, responses, evidence_ref,
			escalated_at, rejection_reason, version)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.RequestID.String(), r.ContentHash.String(), r.IdentityHash.String(), r.Platforms, proofJSON,
		string(r.LegalBasis), string(r.Urgency), r.SubmissionTime, r.ComplianceDeadline, string(r.Status),
		responsesJSON, r.EvidenceRef, r.EscalatedAt, r.RejectionReason, r.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert takedown request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.RequestID) (*models.TakedownRequest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM takedown_requests WHERE request_id = $1::uuid`, id.String())
	r, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find takedown request: %w", err)
	}
	return r, nil
}

// Update writes the mutable columns when the stored version still equals
// r.Version. On success r.Version is advanced.
func (s *PostgresStore) Update(ctx context.Context, r *models.TakedownRequest) error {
	_, responsesJSON, err := encodeRequest(r)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE takedown_requests
		SET status = $2, responses = $3, evidence_ref = $4, escalated_at = $5, rejection_reason = $6,
			version = version + 1
		WHERE request_id = $1::uuid AND version = $7`,
		r.RequestID.String(), string(r.Status), responsesJSON, r.EvidenceRef, r.EscalatedAt,
		r.RejectionReason, r.Version,
	)
	if err != nil {
		return fmt.Errorf("update takedown request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.FindByID(ctx, r.RequestID); err != nil {
			return err
		}
		return sentinel.ErrConflict
	}
	r.Version++
	return nil
}

func (s *PostgresStore) ListOpen(ctx context.Context) ([]*models.TakedownRequest, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+requestColumns+` FROM takedown_requests
		WHERE status NOT IN ($1, $2) ORDER BY compliance_deadline ASC`,
		string(models.StatusCompleted), string(models.StatusRejected))
	if err != nil {
		return nil, fmt.Errorf("list open takedown requests: %w", err)
	}
	defer rows.Close()

	var out []*models.TakedownRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan takedown request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeRequest(r *models.TakedownRequest) ([]byte, []byte, error) {
	proofJSON, err := json.Marshal(r.IdentityProof)
	if err != nil {
		return nil, nil, fmt.Errorf("encode identity proof: %w", err)
	}
	responsesJSON, err := json.Marshal(r.Responses)
	if err != nil {
		return nil, nil, fmt.Errorf("encode platform responses: %w", err)
	}
	return proofJSON, responsesJSON, nil
}

func scanRequest(row pgx.Row) (*models.TakedownRequest, error) {
	var (
		r                        models.TakedownRequest
		requestID                string
		content, identity        string
		proofJSON, responsesJSON []byte
		basis, urgency, status   string
		escalatedAt              *time.Time
	)
	if err := row.Scan(&requestID, &content, &identity, &r.Platforms, &proofJSON, &basis, &urgency,
		&r.SubmissionTime, &r.ComplianceDeadline, &status, &responsesJSON, &r.EvidenceRef, &escalatedAt,
		&r.RejectionReason, &r.Version); err != nil {
		return nil, err
	}
	var err error
	if r.RequestID, err = domain.ParseRequestID(requestID); err != nil {
		return nil, err
	}
	if r.ContentHash, err = domain.ParseContentHash(content); err != nil {
		return nil, err
	}
	if r.IdentityHash, err = domain.ParseIdentityHash(identity); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(proofJSON, &r.IdentityProof); err != nil {
		return nil, fmt.Errorf("decode identity proof: %w", err)
	}
	if err := json.Unmarshal(responsesJSON, &r.Responses); err != nil {
		return nil, fmt.Errorf("decode platform responses: %w", err)
	}
	r.LegalBasis = models.LegalBasis(basis)
	r.Urgency = models.Urgency(urgency)
	r.Status = models.Status(status)
	r.EscalatedAt = escalatedAt
	return &r, nil
}
