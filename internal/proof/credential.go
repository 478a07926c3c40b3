package proof

import (
	"crypto/ed25519"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"

	"mediaguard/internal/fingerprint"
	"mediaguard/pkg/domain"
)

var errNoCredential = errors.New("credential is not initialized")

// Credential is the private half of an identity: an ed25519 key. It signs
// takedown requests directly and feeds its scalar into ownership proofs.
type Credential struct {
	key ed25519.PrivateKey
}

// NewCredential restores a credential from its 32-byte seed.
func NewCredential(seed []byte) (Credential, error) {
	if len(seed) != ed25519.SeedSize {
		return Credential{}, fmt.Errorf("credential seed must be %d bytes", ed25519.SeedSize)
	}
	return Credential{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// GenerateCredential creates a new random credential.
func GenerateCredential(random io.Reader) (Credential, error) {
	_, priv, err := ed25519.GenerateKey(random)
	if err != nil {
		return Credential{}, fmt.Errorf("generate credential: %w", err)
	}
	return Credential{key: priv}, nil
}

func (c Credential) PublicKey() ed25519.PublicKey {
	if len(c.key) != ed25519.PrivateKeySize {
		return nil
	}
	return c.key.Public().(ed25519.PublicKey)
}

// Identity returns the identity hash bound to this credential.
func (c Credential) Identity() domain.IdentityHash {
	return fingerprint.Identity(c.PublicKey())
}

// Sign signs msg with the credential.
func (c Credential) Sign(msg []byte) []byte {
	if len(c.key) != ed25519.PrivateKeySize {
		return nil
	}
	return ed25519.Sign(c.key, msg)
}

// expand returns the secret scalar and nonce prefix exactly as ed25519
// derives them, so [x]B equals the public key.
func (c Credential) expand() (*edwards25519.Scalar, []byte, error) {
	if len(c.key) != ed25519.PrivateKeySize {
		return nil, nil, errNoCredential
	}
	h := sha512.Sum512(c.key.Seed())
	x, err := edwards25519.NewScalar().SetBytesWithClamping(h[:32])
	if err != nil {
		return nil, nil, fmt.Errorf("derive credential scalar: %w", err)
	}
	return x, h[32:], nil
}
