package consensus

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"mediaguard/internal/registry/models"
	"mediaguard/pkg/canonical"
	"mediaguard/pkg/domain"
	"mediaguard/pkg/merkle"
)

type automatedPayload struct {
	EventID     string  `json:"event_id"`
	ContentHash string  `json:"content_hash"`
	Source      string  `json:"source"`
	IsValid     bool    `json:"is_valid"`
	Confidence  float64 `json:"confidence"`
}

// judgmentLeaves returns the merkle leaves of a tally: the automated
// judgment first, then each counted peer as digest(payload) || signature.
func judgmentLeaves(eventID domain.EventID, content domain.ContentHash, automated AutomatedJudgment, counted []PeerJudgment) ([][]byte, error) {
	_, autoBytes, err := canonical.Sum(automatedPayload{
		EventID:     eventID.String(),
		ContentHash: content.String(),
		Source:      "automated",
		IsValid:     automated.IsValid,
		Confidence:  automated.Confidence,
	})
	if err != nil {
		return nil, err
	}
	leaves := [][]byte{merkle.Leaf(autoBytes)}
	for _, p := range counted {
		msg, err := JudgmentMessage(eventID, content, p.IsValid, p.Confidence)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, merkle.Leaf(append(msg, p.Signature...)))
	}
	return leaves, nil
}

// BuildProof assembles the consensus proof of an outcome. Validator nodes
// are the counted peers in id order with their signatures aligned.
func BuildProof(eventID domain.EventID, content domain.ContentHash, automated AutomatedJudgment, out Outcome, blockHeight uint64, at time.Time) (*models.ConsensusProof, error) {
	leaves, err := judgmentLeaves(eventID, content, automated, out.Counted)
	if err != nil {
		return nil, fmt.Errorf("build consensus leaves: %w", err)
	}
	p := &models.ConsensusProof{
		ValidatorNodes:     make([]string, 0, len(out.Counted)),
		Signatures:         make([][]byte, 0, len(out.Counted)),
		MerkleRoot:         hex.EncodeToString(merkle.Root(leaves)),
		BlockHeight:        blockHeight,
		ConsensusTimestamp: at,
		ValidationScore:    out.Score,
		AgreeingJudgments:  out.Agreeing,
	}
	for _, j := range out.Counted {
		p.ValidatorNodes = append(p.ValidatorNodes, j.ValidatorID)
		p.Signatures = append(p.Signatures, append([]byte(nil), j.Signature...))
	}
	return p, nil
}

// Attestation is a validator's co-signature of an existing consensus proof.
type Attestation struct {
	ValidatorID string  `json:"validator_id"`
	Confidence  float64 `json:"confidence"`
	Signature   []byte  `json:"signature"`
}

type attestationPayload struct {
	EventID    string  `json:"event_id"`
	MerkleRoot string  `json:"merkle_root"`
	Confidence float64 `json:"confidence"`
}

// AttestationMessage returns the bytes a validator signs to co-sign root.
func AttestationMessage(eventID domain.EventID, merkleRoot string, confidence float64) ([]byte, error) {
	digest, _, err := canonical.Sum(attestationPayload{
		EventID:    eventID.String(),
		MerkleRoot: merkleRoot,
		Confidence: confidence,
	})
	return digest, err
}

// SignAttestation co-signs merkleRoot with key.
func SignAttestation(key ed25519.PrivateKey, validatorID string, eventID domain.EventID, merkleRoot string, confidence float64) (Attestation, error) {
	msg, err := AttestationMessage(eventID, merkleRoot, confidence)
	if err != nil {
		return Attestation{}, err
	}
	return Attestation{ValidatorID: validatorID, Confidence: confidence, Signature: ed25519.Sign(key, msg)}, nil
}

func verifyAttestation(dir PeerDirectory, eventID domain.EventID, merkleRoot string, a Attestation) bool {
	if dir == nil || !validConfidence(a.Confidence) || len(a.Signature) != ed25519.SignatureSize {
		return false
	}
	key, ok := dir.PublicKey(a.ValidatorID)
	if !ok {
		return false
	}
	msg, err := AttestationMessage(eventID, merkleRoot, a.Confidence)
	if err != nil {
		return false
	}
	return ed25519.Verify(key, msg, a.Signature)
}

// withAttestation returns a copy of p co-signed by a. The score becomes the
// running mean including a's confidence, but never drops below its current
// value.
func withAttestation(p *models.ConsensusProof, a Attestation) *models.ConsensusProof {
	next := p.Clone()
	n := float64(next.AgreeingJudgments)
	mean := (next.ValidationScore*n + a.Confidence) / (n + 1)
	next.ValidationScore = max(next.ValidationScore, mean)
	next.AgreeingJudgments++

	type pair struct {
		id  string
		sig []byte
	}
	pairs := make([]pair, 0, len(next.ValidatorNodes)+1)
	for i, id := range next.ValidatorNodes {
		pairs = append(pairs, pair{id, next.Signatures[i]})
	}
	pairs = append(pairs, pair{a.ValidatorID, append([]byte(nil), a.Signature...)})
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })
	next.ValidatorNodes = next.ValidatorNodes[:0]
	next.Signatures = next.Signatures[:0]
	for _, pr := range pairs {
		next.ValidatorNodes = append(next.ValidatorNodes, pr.id)
		next.Signatures = append(next.Signatures, pr.sig)
	}
	return next
}

func hasValidator(p *models.ConsensusProof, validatorID string) bool {
	for _, id := range p.ValidatorNodes {
		if id == validatorID {
			return true
		}
	}
	return false
}
