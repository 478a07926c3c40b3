package twitter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaguard/internal/fingerprint"
	"mediaguard/internal/takedown/platforms"
	"mediaguard/internal/takedown/platforms/contract"
	"mediaguard/pkg/domain"
)

func newServer(t *testing.T, hash domain.ContentHash) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /content/dmca", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		var body dmcaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch body.CopyrightClaim {
		case "extortion":
			_ = json.NewEncoder(w).Encode(map[string]any{"accepted": true, "case_id": "c-1", "processed_at": 1767225600000})
		case "deepfake":
			_ = json.NewEncoder(w).Encode(map[string]any{"accepted": true, "case_id": "c-2", "processing_time": 800})
		case "harassment":
			w.WriteHeader(http.StatusTooManyRequests)
		case "impersonation":
			w.WriteHeader(http.StatusForbidden)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"accepted": false, "rejection_details": "not a copyright claim"})
		}
	})
	mux.HandleFunc("GET /tweets/search/recent", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{"id": "1", "author_id": "u1", "created_at": "2026-05-01T10:00:00Z", "attachments": map[string]any{"media_keys": []string{"3_" + hash.String()}}},
			{"id": "2", "author_id": "u2", "created_at": "2026-05-01T11:00:00Z", "attachments": map[string]any{"media_keys": []string{"3_other"}}},
		}})
	})
	mux.HandleFunc("GET /users/{id}/tweets", func(w http.ResponseWriter, r *http.Request) {
		keys := []string{}
		if r.PathValue("id") == "owner" {
			keys = append(keys, "3_"+hash.String())
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{"id": "9", "attachments": map[string]any{"media_keys": keys}},
		}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestTwitterAdapterContract(t *testing.T) {
	hash := fingerprint.Content([]byte("clip"))
	srv := newServer(t, hash)
	adapter := New("", srv.URL, "token", time.Second)
	submission := func(basis string) platforms.Submission {
		return platforms.Submission{
			RequestID:     domain.NewRequestID(),
			ContentHashes: []domain.ContentHash{hash},
			LegalBasis:    basis,
		}
	}

	assert.Equal(t, "twitter", adapter.ID())

	suite := &contract.ContractSuite{
		Platform: adapter,
		Tests: []contract.SubmitTest{
			{Name: "processed claim is removed", Submission: submission("extortion"), ExpectedStatus: platforms.StatusRemoved},
			{
				Name:           "accepted claim is pending",
				Submission:     submission("deepfake"),
				ExpectedStatus: platforms.StatusPending,
				ValidateFunc: func(resp platforms.Response) error {
					if resp.ResponseTime != 800*time.Millisecond || resp.ExternalID != "c-2" {
						return assert.AnError
					}
					return nil
				},
			},
			{Name: "refused claim is rejected", Submission: submission("ncii"), ExpectedStatus: platforms.StatusRejected},
		},
	}
	suite.Run(t)

	(&contract.ErrorContractTest{
		Name: "rate limit is retryable", Platform: adapter, Submission: submission("harassment"),
		ExpectedError: platforms.ErrorRateLimited, ExpectedRetry: true,
	}).Run(t)
	(&contract.ErrorContractTest{
		Name: "forbidden is an authentication failure", Platform: adapter, Submission: submission("impersonation"),
		ExpectedError: platforms.ErrorAuthentication, ExpectedRetry: false,
	}).Run(t)

	(&contract.ScanTest{Platform: adapter, Hash: hash, ExpectedCount: 1}).Run(t)
}

func TestTwitterValidatePermission(t *testing.T) {
	hash := fingerprint.Content([]byte("clip"))
	adapter := New("", newServer(t, hash).URL, "token", time.Second)

	ok, err := adapter.ValidatePermission(t.Context(), hash, "owner")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = adapter.ValidatePermission(t.Context(), hash, "someone-else")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTwitterUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	adapter := New("", srv.URL, "", time.Second)

	_, err := adapter.ScanForContent(t.Context(), fingerprint.Content([]byte("clip")))
	require.Error(t, err)
	assert.Equal(t, platforms.ErrorUnreachable, platforms.GetCategory(err))
	assert.True(t, platforms.IsRetryable(err))
}
