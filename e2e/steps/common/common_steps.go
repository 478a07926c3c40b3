package common

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers generic request and assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^the service is running$`, steps.serviceIsRunning)
	ctx.Step(`^I GET "([^"]*)"$`, steps.get)
	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, steps.fieldShouldEqual)
	ctx.Step(`^the response field "([^"]*)" should be (true|false)$`, steps.fieldShouldBeBool)
	ctx.Step(`^the response should contain "([^"]*)"$`, steps.bodyShouldContain)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) serviceIsRunning(ctx context.Context) error {
	if err := s.tc.GET("/healthz", nil); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != 200 {
		return fmt.Errorf("service not ready: status %d", s.tc.GetLastResponseStatus())
	}
	return nil
}

func (s *commonSteps) get(ctx context.Context, path string) error {
	return s.tc.GET(path, nil)
}

func (s *commonSteps) statusShouldBe(ctx context.Context, expected int) error {
	if got := s.tc.GetLastResponseStatus(); got != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, got, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *commonSteps) fieldShouldEqual(ctx context.Context, field, expected string) error {
	value, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprint(value) != expected {
		return fmt.Errorf("expected %s to be %q, got %v", field, expected, value)
	}
	return nil
}

func (s *commonSteps) fieldShouldBeBool(ctx context.Context, field, expected string) error {
	value, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	b, ok := value.(bool)
	if !ok {
		return fmt.Errorf("field %s is not a boolean: %v", field, value)
	}
	if b != (expected == "true") {
		return fmt.Errorf("expected %s to be %s, got %v", field, expected, b)
	}
	return nil
}

func (s *commonSteps) bodyShouldContain(ctx context.Context, text string) error {
	if !strings.Contains(string(s.tc.GetLastResponseBody()), text) {
		return fmt.Errorf("response does not contain %q: %s", text, s.tc.GetLastResponseBody())
	}
	return nil
}
