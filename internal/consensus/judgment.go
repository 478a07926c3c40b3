// Package consensus merges one automated judgment and any number of signed
// peer judgments about a content event into a validated or disputed outcome.
package consensus

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"math"
	"sync"

	"mediaguard/pkg/canonical"
	"mediaguard/pkg/domain"
)

// AutomatedJudgment is the oracle-derived verdict on an event.
type AutomatedJudgment struct {
	IsValid    bool    `json:"is_valid"`
	Confidence float64 `json:"confidence"`
}

// PeerJudgment is one validator's signed verdict on an event.
type PeerJudgment struct {
	ValidatorID string  `json:"validator_id"`
	IsValid     bool    `json:"is_valid"`
	Confidence  float64 `json:"confidence"`
	Signature   []byte  `json:"signature"`
}

// judgmentPayload is what a validator signs. Field order is fixed.
type judgmentPayload struct {
	EventID     string  `json:"event_id"`
	ContentHash string  `json:"content_hash"`
	IsValid     bool    `json:"is_valid"`
	Confidence  float64 `json:"confidence"`
}

// JudgmentMessage returns the bytes a validator signs for a judgment.
func JudgmentMessage(eventID domain.EventID, content domain.ContentHash, isValid bool, confidence float64) ([]byte, error) {
	digest, _, err := canonical.Sum(judgmentPayload{
		EventID:     eventID.String(),
		ContentHash: content.String(),
		IsValid:     isValid,
		Confidence:  confidence,
	})
	return digest, err
}

// SignJudgment produces a peer judgment signed with key.
func SignJudgment(key ed25519.PrivateKey, validatorID string, eventID domain.EventID, content domain.ContentHash, isValid bool, confidence float64) (PeerJudgment, error) {
	msg, err := JudgmentMessage(eventID, content, isValid, confidence)
	if err != nil {
		return PeerJudgment{}, err
	}
	return PeerJudgment{
		ValidatorID: validatorID,
		IsValid:     isValid,
		Confidence:  confidence,
		Signature:   ed25519.Sign(key, msg),
	}, nil
}

func validConfidence(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c <= 1
}

// PeerDirectory resolves validator ids to their signing keys.
type PeerDirectory interface {
	PublicKey(validatorID string) (ed25519.PublicKey, bool)
}

// StaticDirectory is a fixed validator set.
type StaticDirectory struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{keys: make(map[string]ed25519.PublicKey)}
}

// Add registers a validator key. Keys of the wrong size are rejected.
func (d *StaticDirectory) Add(validatorID string, key ed25519.PublicKey) error {
	if validatorID == "" {
		return fmt.Errorf("validator id is required")
	}
	if len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("validator %s: public key has %d bytes", validatorID, len(key))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[validatorID] = append(ed25519.PublicKey(nil), key...)
	return nil
}

// AddBase64 registers a validator key given in standard base64.
func (d *StaticDirectory) AddBase64(validatorID, encoded string) error {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("validator %s: decode public key: %w", validatorID, err)
	}
	return d.Add(validatorID, key)
}

func (d *StaticDirectory) PublicKey(validatorID string) (ed25519.PublicKey, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	key, ok := d.keys[validatorID]
	return key, ok
}

// Len reports the number of known validators.
func (d *StaticDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.keys)
}

// JudgmentVerifier reports whether a peer judgment carries a valid signature
// from a known validator over the given event.
type JudgmentVerifier func(j PeerJudgment) bool

// SignatureVerifier builds a JudgmentVerifier for one event. Unknown
// validators, malformed signatures and out-of-range confidences fail.
func SignatureVerifier(dir PeerDirectory, eventID domain.EventID, content domain.ContentHash) JudgmentVerifier {
	return func(j PeerJudgment) bool {
		if dir == nil || j.ValidatorID == "" || !validConfidence(j.Confidence) {
			return false
		}
		key, ok := dir.PublicKey(j.ValidatorID)
		if !ok || len(j.Signature) != ed25519.SignatureSize {
			return false
		}
		msg, err := JudgmentMessage(eventID, content, j.IsValid, j.Confidence)
		if err != nil {
			return false
		}
		return ed25519.Verify(key, msg, j.Signature)
	}
}
