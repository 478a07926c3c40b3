package proof

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"time"

	"mediaguard/internal/proof/metrics"
	"mediaguard/pkg/domain"
	dErrors "mediaguard/pkg/domain-errors"
)

// RevocationList reports verification keys that must no longer be trusted.
type RevocationList interface {
	IsRevoked(ctx context.Context, keyID string) (bool, error)
}

// Engine wraps the pure proof functions with revocation lookups, metrics and
// logging. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	revocations RevocationList
	entropy     io.Reader
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

type Option func(*Engine)

func WithRevocationList(list RevocationList) Option {
	return func(e *Engine) {
		e.revocations = list
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEntropy replaces crypto/rand as the source of proof randomness.
func WithEntropy(r io.Reader) Option {
	return func(e *Engine) {
		e.entropy = r
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		entropy: rand.Reader,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate issues a new proof for cred over content.
func (e *Engine) Generate(cred Credential, content domain.ContentHash) (OwnershipProof, error) {
	start := time.Now()
	p, err := Generate(cred, content, e.entropy)
	if err != nil {
		return OwnershipProof{}, dErrors.Wrap(err, dErrors.CodeInternal, "generate ownership proof")
	}
	e.metrics.ObserveGenerate(time.Since(start))
	return p, nil
}

// Verify is the pure check of p against claimed, counted in metrics.
func (e *Engine) Verify(p OwnershipProof, claimed domain.ContentHash) bool {
	ok := Verify(p, claimed)
	if ok {
		e.metrics.IncVerification("valid")
	} else {
		e.metrics.IncVerification("invalid")
	}
	return ok
}

// VerifyOwnership checks that p proves identity owns content and that the
// verification key has not been revoked. Every failure is proof_invalid;
// a revocation lookup error fails closed.
func (e *Engine) VerifyOwnership(ctx context.Context, p OwnershipProof, content domain.ContentHash, identity domain.IdentityHash) error {
	if err := Check(p, content); err != nil {
		e.metrics.IncVerification("invalid")
		e.logger.DebugContext(ctx, "ownership proof rejected",
			"content_hash", content.String(),
			"reason", err.Error(),
		)
		return err
	}
	claimed, ok := p.IdentitySignal()
	if !ok || claimed != identity {
		e.metrics.IncVerification("invalid")
		return invalid("proof is not bound to the registered identity")
	}
	if e.revocations != nil {
		revoked, err := e.revocations.IsRevoked(ctx, p.VerificationKeyID)
		if err != nil {
			e.metrics.IncVerification("lookup_error")
			e.logger.WarnContext(ctx, "revocation lookup failed",
				"verification_key_id", p.VerificationKeyID,
				"error", err,
			)
			return dErrors.Wrap(err, dErrors.CodeProofInvalid, "verification key status unavailable")
		}
		if revoked {
			e.metrics.IncVerification("revoked")
			return invalid("verification key revoked")
		}
	}
	e.metrics.IncVerification("valid")
	return nil
}
