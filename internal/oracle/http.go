package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

// HTTPClient calls a risk assessment service that accepts raw content bytes
// at POST {base}/v1/assess and answers with an Assessment as JSON.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	token   string
}

type HTTPOption func(*HTTPClient)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		h.http = c
	}
}

func WithToken(token string) HTTPOption {
	return func(h *HTTPClient) {
		h.token = token
	}
}

func NewHTTPClient(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) Assess(ctx context.Context, content []byte) (Assessment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/assess", bytes.NewReader(content))
	if err != nil {
		return Assessment{}, fmt.Errorf("build assessment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Assessment{}, fmt.Errorf("call risk oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return Assessment{}, fmt.Errorf("risk oracle returned %d", resp.StatusCode)
	}
	var out Assessment
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes))
	if err := dec.Decode(&out); err != nil {
		return Assessment{}, fmt.Errorf("decode assessment: %w", err)
	}
	if err := out.Validate(); err != nil {
		return Assessment{}, errors.Join(errors.New("risk oracle returned invalid assessment"), err)
	}
	return out, nil
}
