package e2e

import (
	"github.com/cucumber/godog"

	"mediaguard/e2e/steps/common"
	"mediaguard/e2e/steps/registry"
	"mediaguard/e2e/steps/takedown"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (background, generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register content registry and consensus steps
	registry.RegisterSteps(ctx, tc)

	// Register takedown steps
	takedown.RegisterSteps(ctx, tc)
}
