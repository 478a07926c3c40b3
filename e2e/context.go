package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// TestContext carries HTTP state between the steps of one scenario.
type TestContext struct {
	BaseURL string
	Token   string

	client     *http.Client
	lastStatus int
	lastBody   []byte
	saved      map[string]string
}

// NewTestContext reads the target from E2E_BASE_URL and an optional bearer
// token from E2E_TOKEN.
func NewTestContext() *TestContext {
	base := os.Getenv("E2E_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	return &TestContext{
		BaseURL: strings.TrimRight(base, "/"),
		Token:   os.Getenv("E2E_TOKEN"),
		client:  &http.Client{Timeout: 10 * time.Second},
		saved:   make(map[string]string),
	}
}

// Reset clears per-scenario state.
func (tc *TestContext) Reset() {
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.saved = make(map[string]string)
}

func (tc *TestContext) POST(path string, body interface{}) error {
	return tc.do(http.MethodPost, path, body, nil)
}

func (tc *TestContext) POSTWithHeaders(path string, body interface{}, headers map[string]string) error {
	return tc.do(http.MethodPost, path, body, headers)
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.do(http.MethodGet, path, nil, headers)
}

func (tc *TestContext) do(method, path string, body interface{}, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, tc.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	return nil
}

func (tc *TestContext) GetLastResponseStatus() int { return tc.lastStatus }

func (tc *TestContext) GetLastResponseBody() []byte { return tc.lastBody }

// GetResponseField resolves a dotted path ("event.event_id") in the last
// JSON response.
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var current interface{}
	if err := json.Unmarshal(tc.lastBody, &current); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	for _, part := range strings.Split(field, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", field, part)
		}
		current, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("field %q not found in response", field)
		}
	}
	return current, nil
}

func (tc *TestContext) GetToken() string { return tc.Token }

func (tc *TestContext) Save(key, value string) { tc.saved[key] = value }

func (tc *TestContext) Saved(key string) string { return tc.saved[key] }
