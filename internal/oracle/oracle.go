// Package oracle is the client side of the AI/biometric risk assessment
// collaborator. The core treats it as opaque: content bytes in, scores out.
package oracle

import (
	"context"
	"fmt"
	"math"
)

// DefaultDeepfakeThreshold is the deepfake score above which content is
// judged invalid.
const DefaultDeepfakeThreshold = 0.7

// Assessment is the oracle's verdict on one piece of content.
type Assessment struct {
	DeepfakeScore        float64 `json:"deepfake_score"`
	UnauthorizedIdentity bool    `json:"unauthorized_identity"`
	Confidence           float64 `json:"confidence"`
}

// Validate rejects scores outside [0, 1].
func (a Assessment) Validate() error {
	if !unit(a.DeepfakeScore) {
		return fmt.Errorf("deepfake_score %v out of range [0, 1]", a.DeepfakeScore)
	}
	if !unit(a.Confidence) {
		return fmt.Errorf("confidence %v out of range [0, 1]", a.Confidence)
	}
	return nil
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Oracle assesses content bytes.
type Oracle interface {
	Assess(ctx context.Context, content []byte) (Assessment, error)
}

// Judge turns an assessment into an automated judgment: valid when the
// deepfake score does not exceed threshold and the identity is authorized.
// Confidence is passed through.
func Judge(a Assessment, threshold float64) (isValid bool, confidence float64) {
	return a.DeepfakeScore <= threshold && !a.UnauthorizedIdentity, a.Confidence
}

// Static returns the same assessment for every input.
type Static struct {
	Result Assessment
	Err    error
}

func (s Static) Assess(ctx context.Context, _ []byte) (Assessment, error) {
	if err := ctx.Err(); err != nil {
		return Assessment{}, err
	}
	return s.Result, s.Err
}
