package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

// HTTPClient is the JSON-over-HTTP transport shared by the adapters. It maps
// every failure to a *PlatformError.
type HTTPClient struct {
	platformID string
	baseURL    string
	token      string
	http       *http.Client
}

func NewHTTPClient(platformID, baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		platformID: platformID,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      token,
		http:       &http.Client{Timeout: timeout},
	}
}

// Do sends body (when non-nil) as JSON to path and decodes the answer into
// out (when non-nil).
func (c *HTTPClient) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return NewPlatformError(ErrorInternal, c.platformID, "encode request", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return NewPlatformError(ErrorInternal, c.platformID, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(err)
	}
	defer resp.Body.Close()

	if category, failed := statusCategory(resp.StatusCode); failed {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return NewPlatformError(category, c.platformID, fmt.Sprintf("%s %s returned %d", method, path, resp.StatusCode), nil)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return NewPlatformError(ErrorBadData, c.platformID, "decode response", err)
	}
	return nil
}

func (c *HTTPClient) transportError(err error) *PlatformError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return NewPlatformError(ErrorTimeout, c.platformID, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return NewPlatformError(ErrorInternal, c.platformID, "request cancelled", err)
	default:
		return NewPlatformError(ErrorUnreachable, c.platformID, "platform unreachable", err)
	}
}

func statusCategory(code int) (ErrorCategory, bool) {
	switch {
	case code < 300:
		return "", false
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrorAuthentication, true
	case code == http.StatusNotFound:
		return ErrorNotFound, true
	case code == http.StatusTooManyRequests:
		return ErrorRateLimited, true
	case code >= 500:
		return ErrorOutage, true
	default:
		return ErrorBadData, true
	}
}
