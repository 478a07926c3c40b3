// Package evidence assembles the legal evidence package attached to an
// escalated takedown. Every entry is linked into a SHA-256 hash chain, and
// the whole package is sealed with a symmetric key before it is written to
// the blob store.
package evidence

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/secretbox"

	registrymodels "mediaguard/internal/registry/models"
	takedownmodels "mediaguard/internal/takedown/models"
	"mediaguard/pkg/canonical"
	"mediaguard/pkg/domain"
)

const (
	KeySize   = 32
	nonceSize = 24
)

var (
	ErrSealedTooShort = errors.New("sealed evidence is too short")
	ErrUnsealFailed   = errors.New("sealed evidence failed authentication")
	ErrChainBroken    = errors.New("evidence hash chain does not verify")
)

// BlobStore is the storage collaborator.
type BlobStore interface {
	Put(ctx context.Context, key string, blob []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Timestamp is one dated milestone of the request.
type Timestamp struct {
	Label string    `json:"label"`
	At    time.Time `json:"at"`
}

// Link is one hash chain element. Digest covers the previous link and the
// entry it names.
type Link struct {
	Index  int    `json:"index"`
	Entry  string `json:"entry"`
	Digest string `json:"digest"`
}

// Package is the evidence bundle for one takedown request.
type Package struct {
	EvidenceID        string                            `json:"evidence_id"`
	RequestID         domain.RequestID                  `json:"request_id"`
	LegalBasis        takedownmodels.LegalBasis         `json:"legal_basis"`
	ContentHashes     []domain.ContentHash              `json:"content_hashes"`
	ConsensusProofs   []registrymodels.ConsensusProof   `json:"consensus_proofs"`
	Timestamps        []Timestamp                       `json:"timestamps"`
	PlatformResponses []takedownmodels.PlatformResponse `json:"platform_responses"`
	Chain             []Link                            `json:"chain"`
	CreatedAt         time.Time                         `json:"created_at"`
}

// Head returns the digest of the last link, or "" for an empty chain.
func (p *Package) Head() string {
	if len(p.Chain) == 0 {
		return ""
	}
	return p.Chain[len(p.Chain)-1].Digest
}

// Input is what a package is built from.
type Input struct {
	Request   *takedownmodels.TakedownRequest
	Consensus []registrymodels.ConsensusProof
	CreatedAt time.Time
}

type Builder struct {
	blobs   BlobStore
	key     [KeySize]byte
	entropy io.Reader
	logger  *slog.Logger
}

type Option func(*Builder)

func WithEntropy(r io.Reader) Option {
	return func(b *Builder) {
		b.entropy = r
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

func NewBuilder(blobs BlobStore, key [KeySize]byte, opts ...Option) *Builder {
	b := &Builder{blobs: blobs, key: key, entropy: rand.Reader, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ParseKey decodes a hex sealing key.
func ParseKey(s string) ([KeySize]byte, error) {
	var key [KeySize]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("decode evidence key: %w", err)
	}
	if len(raw) != KeySize {
		return key, fmt.Errorf("evidence key must be %d bytes, got %d", KeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// Assemble builds the package and its hash chain without storing it.
func Assemble(in Input) (*Package, error) {
	r := in.Request
	pkg := &Package{
		EvidenceID:      uuid.NewString(),
		RequestID:       r.RequestID,
		LegalBasis:      r.LegalBasis,
		ContentHashes:   []domain.ContentHash{r.ContentHash},
		ConsensusProofs: append([]registrymodels.ConsensusProof(nil), in.Consensus...),
		CreatedAt:       in.CreatedAt,
	}
	pkg.Timestamps = append(pkg.Timestamps,
		Timestamp{Label: "submitted", At: r.SubmissionTime},
		Timestamp{Label: "compliance_deadline", At: r.ComplianceDeadline},
	)
	if r.EscalatedAt != nil {
		pkg.Timestamps = append(pkg.Timestamps, Timestamp{Label: "escalated", At: *r.EscalatedAt})
	}
	for _, p := range r.Platforms {
		if resp, ok := r.Responses[p]; ok {
			pkg.PlatformResponses = append(pkg.PlatformResponses, resp)
		}
	}
	chain, err := buildChain(pkg)
	if err != nil {
		return nil, err
	}
	pkg.Chain = chain
	return pkg, nil
}

type chainEntry struct {
	name  string
	value any
}

// entries lists the chained parts in a fixed order.
func entries(p *Package) []chainEntry {
	out := make([]chainEntry, 0, 2+len(p.ConsensusProofs)+len(p.Timestamps)+len(p.PlatformResponses))
	out = append(out, chainEntry{"request:" + p.RequestID.String(), struct {
		RequestID  domain.RequestID          `json:"request_id"`
		LegalBasis takedownmodels.LegalBasis `json:"legal_basis"`
	}{p.RequestID, p.LegalBasis}})
	for _, h := range p.ContentHashes {
		out = append(out, chainEntry{"content:" + h.String(), h})
	}
	for i, c := range p.ConsensusProofs {
		out = append(out, chainEntry{fmt.Sprintf("consensus:%d", i), c})
	}
	for _, t := range p.Timestamps {
		out = append(out, chainEntry{"timestamp:" + t.Label, t})
	}
	for _, r := range p.PlatformResponses {
		out = append(out, chainEntry{"response:" + r.PlatformID, r})
	}
	return out
}

func buildChain(p *Package) ([]Link, error) {
	var prev []byte
	parts := entries(p)
	chain := make([]Link, 0, len(parts))
	for i, e := range parts {
		digest, err := canonical.Chain(prev, e.value)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", e.name, err)
		}
		chain = append(chain, Link{Index: i, Entry: e.name, Digest: hex.EncodeToString(digest)})
		prev = digest
	}
	return chain, nil
}

// VerifyChain recomputes the chain from the package contents.
func VerifyChain(p *Package) error {
	want, err := buildChain(p)
	if err != nil {
		return err
	}
	if len(want) != len(p.Chain) {
		return ErrChainBroken
	}
	for i := range want {
		if want[i] != p.Chain[i] {
			return ErrChainBroken
		}
	}
	return nil
}

// Build assembles the package, seals it and stores the sealed backup. It
// returns the package and the storage ref of the backup.
func (b *Builder) Build(ctx context.Context, in Input) (*Package, string, error) {
	pkg, err := Assemble(in)
	if err != nil {
		return nil, "", err
	}
	sealed, err := b.seal(pkg)
	if err != nil {
		return nil, "", err
	}
	ref, err := b.blobs.Put(ctx, "evidence/"+pkg.RequestID.String(), sealed)
	if err != nil {
		return nil, "", fmt.Errorf("store evidence backup: %w", err)
	}
	b.logger.InfoContext(ctx, "evidence package stored",
		"evidence_id", pkg.EvidenceID,
		"request_id", pkg.RequestID.String(),
		"chain_head", pkg.Head(),
		"storage_ref", ref,
	)
	return pkg, ref, nil
}

// Open loads and unseals a backup and verifies its chain.
func (b *Builder) Open(ctx context.Context, ref string) (*Package, error) {
	sealed, err := b.blobs.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load evidence backup: %w", err)
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrSealedTooShort
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrUnsealFailed
	}
	var pkg Package
	if err := json.Unmarshal(plain, &pkg); err != nil {
		return nil, fmt.Errorf("decode evidence package: %w", err)
	}
	if err := VerifyChain(&pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (b *Builder) seal(pkg *Package) ([]byte, error) {
	plain, err := json.Marshal(pkg)
	if err != nil {
		return nil, fmt.Errorf("encode evidence package: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(b.entropy, nonce[:]); err != nil {
		return nil, fmt.Errorf("evidence nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &b.key), nil
}
