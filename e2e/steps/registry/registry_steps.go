package registry

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	POSTWithHeaders(path string, body interface{}, headers map[string]string) error
	GET(path string, headers map[string]string) error
	GetResponseField(field string) (interface{}, error)
	Save(key, value string)
	Saved(key string) string
}

// RegisterSteps registers content registry and consensus step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &registrySteps{tc: tc}

	ctx.Step(`^a content item "([^"]*)"$`, steps.contentItem)
	ctx.Step(`^I look up the content$`, steps.lookUpContent)
	ctx.Step(`^I query usage for the owner of "([^"]*)"$`, steps.queryUsage)
	ctx.Step(`^I register the content with a malformed hash "([^"]*)"$`, steps.registerMalformed)
	ctx.Step(`^I register the content with an unsigned proof$`, steps.registerUnsigned)
	ctx.Step(`^I report a "([^"]*)" of the content on "([^"]*)" from "([^"]*)"$`, steps.reportEvent)
	ctx.Step(`^I report the same event again$`, steps.reportSameEvent)
	ctx.Step(`^I close the consensus session$`, steps.closeSession)
}

type registrySteps struct {
	tc TestContext

	contentHash string
	lastEvent   map[string]interface{}
	lastAgent   string
}

func digest(label string) string {
	sum := sha256.Sum256([]byte(label))
	return hex.EncodeToString(sum[:])
}

func (s *registrySteps) contentItem(ctx context.Context, label string) error {
	// Salted per run; the server may outlive a scenario.
	s.contentHash = digest(fmt.Sprintf("%s/%d", label, time.Now().UnixNano()))
	return nil
}

func (s *registrySteps) lookUpContent(ctx context.Context) error {
	return s.tc.GET("/v1/content/"+s.contentHash, nil)
}

func (s *registrySteps) queryUsage(ctx context.Context, owner string) error {
	return s.tc.GET("/v1/identities/"+digest(owner)+"/usage", nil)
}

func (s *registrySteps) registerMalformed(ctx context.Context, hash string) error {
	return s.tc.POST("/v1/content", map[string]interface{}{
		"content_hash":  hash,
		"identity_hash": digest("owner"),
		"privacy_level": "public",
	})
}

func (s *registrySteps) registerUnsigned(ctx context.Context) error {
	owner := digest("owner")
	return s.tc.POST("/v1/content", map[string]interface{}{
		"content_hash":  s.contentHash,
		"identity_hash": owner,
		"privacy_level": "public",
		"proof": map[string]interface{}{
			"proof_blob":          base64.StdEncoding.EncodeToString(make([]byte, 64)),
			"public_signals":      []string{s.contentHash, owner, digest("key")},
			"verification_key_id": "vk-0000000000000000",
			"circuit_id":          "identity-ownership-v1",
		},
	})
}

func (s *registrySteps) reportEvent(ctx context.Context, eventType, platform, agent string) error {
	s.lastEvent = map[string]interface{}{
		"content_hash": s.contentHash,
		"event_type":   eventType,
		"platform_id":  platform,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}
	s.lastAgent = agent
	if err := s.post(); err != nil {
		return err
	}
	id, err := s.tc.GetResponseField("event.event_id")
	if err != nil {
		return err
	}
	s.lastEvent["event_id"] = id
	s.tc.Save("event_id", fmt.Sprint(id))
	return nil
}

func (s *registrySteps) reportSameEvent(ctx context.Context) error {
	if s.lastEvent == nil {
		return fmt.Errorf("no event reported yet")
	}
	return s.post()
}

func (s *registrySteps) post() error {
	return s.tc.POSTWithHeaders("/v1/events", s.lastEvent, map[string]string{"User-Agent": s.lastAgent})
}

func (s *registrySteps) closeSession(ctx context.Context) error {
	id := s.tc.Saved("event_id")
	if id == "" {
		return fmt.Errorf("no consensus session to close")
	}
	return s.tc.POST("/v1/events/"+id+"/close", nil)
}
