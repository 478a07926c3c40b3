package takedown

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POSTWithHeaders(path string, body interface{}, headers map[string]string) error
	GET(path string, headers map[string]string) error
	GetToken() string
}

// RegisterSteps registers takedown step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &takedownSteps{tc: tc}

	ctx.Step(`^I submit a "([^"]*)" takedown without credentials$`, steps.submitAnonymous)
	ctx.Step(`^I submit a "([^"]*)" takedown with bearer token "([^"]*)"$`, steps.submitWithToken)
	ctx.Step(`^I submit a takedown for a zero content hash$`, steps.submitZeroHash)
	ctx.Step(`^I look up an unknown takedown$`, steps.lookUpUnknown)
	ctx.Step(`^I check the deadline of an unknown takedown$`, steps.deadlineUnknown)
}

type takedownSteps struct {
	tc TestContext
}

func (s *takedownSteps) body(basis, contentHash string) map[string]interface{} {
	return map[string]interface{}{
		"content_hash": contentHash,
		"legal_basis":  basis,
		"identity_proof": map[string]interface{}{
			"proof": map[string]interface{}{},
		},
	}
}

func someContent() string {
	sum := sha256.Sum256([]byte("takedown-target"))
	return hex.EncodeToString(sum[:])
}

func (s *takedownSteps) submitAnonymous(ctx context.Context, basis string) error {
	return s.tc.POSTWithHeaders("/v1/takedowns", s.body(basis, someContent()), nil)
}

func (s *takedownSteps) submitWithToken(ctx context.Context, basis, token string) error {
	return s.tc.POSTWithHeaders("/v1/takedowns", s.body(basis, someContent()), map[string]string{
		"Authorization": "Bearer " + token,
	})
}

func (s *takedownSteps) submitZeroHash(ctx context.Context) error {
	token := s.tc.GetToken()
	if token == "" {
		return fmt.Errorf("E2E_TOKEN is required for authenticated scenarios")
	}
	return s.tc.POSTWithHeaders("/v1/takedowns", s.body("ncii", hex.EncodeToString(make([]byte, 32))), map[string]string{
		"Authorization": "Bearer " + token,
	})
}

func (s *takedownSteps) lookUpUnknown(ctx context.Context) error {
	return s.tc.GET(fmt.Sprintf("/v1/takedowns/%s", "7d0a6f8e-4d6e-4a43-9a0c-3f1d2b7b9e10"), nil)
}

func (s *takedownSteps) deadlineUnknown(ctx context.Context) error {
	return s.tc.GET(fmt.Sprintf("/v1/takedowns/%s/deadline", "7d0a6f8e-4d6e-4a43-9a0c-3f1d2b7b9e10"), nil)
}
