// Package proof generates and verifies ownership proofs.
//
// A proof is a non-interactive Schnorr proof of knowledge of the credential
// scalar behind an ed25519 public key. The Fiat-Shamir challenge commits to
// the circuit id, the public key, the commitment, the content hash and the
// identity hash, so a proof only verifies for the content it was made for and
// reveals nothing about the credential beyond the public key.
//
// Public signals are ordered: [content_hash, identity_hash, public_key].
package proof

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"

	"filippo.io/edwards25519"

	"mediaguard/internal/fingerprint"
	"mediaguard/pkg/domain"
	dErrors "mediaguard/pkg/domain-errors"
)

// CircuitID names the only proof statement this engine accepts.
const CircuitID = "identity-ownership-v1"

const (
	signalContent = iota
	signalIdentity
	signalPublicKey
	signalCount
)

const (
	blobSize       = 64
	challengeTag   = "mediaguard/proof/" + CircuitID
	nonceTag       = "mediaguard/proof/nonce"
	keyIDPrefix    = "vk-"
	keyIDHexPrefix = 16
)

// OwnershipProof binds a credential to a content hash. Immutable once issued.
type OwnershipProof struct {
	ProofBlob         []byte   `json:"proof_blob"`
	PublicSignals     []string `json:"public_signals"`
	VerificationKeyID string   `json:"verification_key_id"`
	CircuitID         string   `json:"circuit_id"`
}

// IdentitySignal returns the identity hash the proof claims, if well formed.
func (p OwnershipProof) IdentitySignal() (domain.IdentityHash, bool) {
	if len(p.PublicSignals) != signalCount {
		return domain.IdentityHash{}, false
	}
	h, err := domain.ParseIdentityHash(p.PublicSignals[signalIdentity])
	return h, err == nil
}

// PublicKey returns the ed25519 key carried in the public signals.
func (p OwnershipProof) PublicKey() (ed25519.PublicKey, bool) {
	if len(p.PublicSignals) != signalCount {
		return nil, false
	}
	raw, err := hex.DecodeString(p.PublicSignals[signalPublicKey])
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, false
	}
	return ed25519.PublicKey(raw), true
}

// KeyIDFor derives the verification key id of an identity.
func KeyIDFor(identity domain.IdentityHash) string {
	return keyIDPrefix + identity.String()[:keyIDHexPrefix]
}

func invalid(reason string) error {
	return dErrors.New(dErrors.CodeProofInvalid, reason)
}

// Generate produces a fresh randomized proof that cred owns content.
// entropy supplies the hedging randomness; crypto/rand.Reader in production.
func Generate(cred Credential, content domain.ContentHash, entropy io.Reader) (OwnershipProof, error) {
	x, prefix, err := cred.expand()
	if err != nil {
		return OwnershipProof{}, err
	}
	pub := cred.PublicKey()
	identity := fingerprint.Identity(pub)

	var fresh [32]byte
	if _, err := io.ReadFull(entropy, fresh[:]); err != nil {
		return OwnershipProof{}, fmt.Errorf("read proof entropy: %w", err)
	}
	nh := sha512.New()
	nh.Write([]byte(nonceTag))
	nh.Write(fresh[:])
	nh.Write(prefix)
	nh.Write(content[:])
	r, err := edwards25519.NewScalar().SetUniformBytes(nh.Sum(nil))
	if err != nil {
		return OwnershipProof{}, fmt.Errorf("derive nonce: %w", err)
	}

	commitment := new(edwards25519.Point).ScalarBaseMult(r).Bytes()
	c, err := challenge(pub, commitment, content, identity)
	if err != nil {
		return OwnershipProof{}, err
	}
	s := edwards25519.NewScalar().MultiplyAdd(c, x, r)

	blob := make([]byte, 0, blobSize)
	blob = append(blob, commitment...)
	blob = append(blob, s.Bytes()...)

	return OwnershipProof{
		ProofBlob: blob,
		PublicSignals: []string{
			content.String(),
			identity.String(),
			hex.EncodeToString(pub),
		},
		VerificationKeyID: KeyIDFor(identity),
		CircuitID:         CircuitID,
	}, nil
}

// Check verifies p against the claimed content hash and returns the first
// reason it fails as a proof_invalid error. It never panics on malformed input.
func Check(p OwnershipProof, claimed domain.ContentHash) error {
	if p.CircuitID != CircuitID {
		return invalid("unsupported circuit")
	}
	if len(p.PublicSignals) != signalCount {
		return invalid("unexpected public signal count")
	}
	if p.PublicSignals[signalContent] != claimed.String() {
		return invalid("content hash not bound to proof")
	}
	pub, ok := p.PublicKey()
	if !ok {
		return invalid("malformed public key")
	}
	identity := fingerprint.Identity(pub)
	if p.PublicSignals[signalIdentity] != identity.String() {
		return invalid("identity signal mismatch")
	}
	if p.VerificationKeyID != KeyIDFor(identity) {
		return invalid("verification key mismatch")
	}
	if len(p.ProofBlob) != blobSize {
		return invalid("malformed proof blob")
	}

	X, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return invalid("malformed public key")
	}
	if new(edwards25519.Point).MultByCofactor(X).Equal(edwards25519.NewIdentityPoint()) == 1 {
		return invalid("weak public key")
	}
	R, err := new(edwards25519.Point).SetBytes(p.ProofBlob[:32])
	if err != nil {
		return invalid("malformed commitment")
	}
	s, err := edwards25519.NewScalar().SetCanonicalBytes(p.ProofBlob[32:])
	if err != nil {
		return invalid("malformed response")
	}
	c, err := challenge(pub, p.ProofBlob[:32], claimed, identity)
	if err != nil {
		return invalid("challenge derivation failed")
	}

	lhs := new(edwards25519.Point).ScalarBaseMult(s)
	rhs := new(edwards25519.Point).Add(R, new(edwards25519.Point).ScalarMult(c, X))
	if lhs.Equal(rhs) != 1 {
		return invalid("proof does not verify")
	}
	return nil
}

// Verify reports whether p proves ownership of claimed. Fails closed.
func Verify(p OwnershipProof, claimed domain.ContentHash) bool {
	return Check(p, claimed) == nil
}

// VerifySignature checks an ed25519 signature over msg by the key in p.
func VerifySignature(p OwnershipProof, msg, sig []byte) bool {
	pub, ok := p.PublicKey()
	if !ok || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

func challenge(pub, commitment []byte, content domain.ContentHash, identity domain.IdentityHash) (*edwards25519.Scalar, error) {
	h := sha512.New()
	h.Write([]byte(challengeTag))
	h.Write(pub)
	h.Write(commitment)
	h.Write(content[:])
	h.Write(identity[:])
	return edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
}
