package oracle

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJudge(t *testing.T) {
	tests := []struct {
		name      string
		in        Assessment
		wantValid bool
	}{
		{"authentic", Assessment{DeepfakeScore: 0.1, Confidence: 0.9}, true},
		{"at threshold is still valid", Assessment{DeepfakeScore: 0.7, Confidence: 0.8}, true},
		{"above threshold", Assessment{DeepfakeScore: 0.71, Confidence: 0.8}, false},
		{"unauthorized identity", Assessment{DeepfakeScore: 0.1, UnauthorizedIdentity: true, Confidence: 0.6}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, conf := Judge(tt.in, DefaultDeepfakeThreshold)
			assert.Equal(t, tt.wantValid, valid)
			assert.Equal(t, tt.in.Confidence, conf)
		})
	}
}

func TestHTTPClient_Assess(t *testing.T) {
	t.Run("posts content and decodes the assessment", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/assess", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "frame-bytes", string(body))
			_ = json.NewEncoder(w).Encode(Assessment{DeepfakeScore: 0.92, Confidence: 0.88})
		}))
		defer srv.Close()

		c := NewHTTPClient(srv.URL+"/", time.Second, WithToken("secret"))
		got, err := c.Assess(context.Background(), []byte("frame-bytes"))
		require.NoError(t, err)
		assert.InDelta(t, 0.92, got.DeepfakeScore, 1e-9)
		assert.InDelta(t, 0.88, got.Confidence, 1e-9)
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewHTTPClient(srv.URL, time.Second).Assess(context.Background(), nil)
		assert.Error(t, err)
	})

	t.Run("out of range scores are rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"deepfake_score":1.5,"confidence":0.2}`))
		}))
		defer srv.Close()

		_, err := NewHTTPClient(srv.URL, time.Second).Assess(context.Background(), nil)
		assert.Error(t, err)
	})

	t.Run("slow oracle times out", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}))
		defer srv.Close()

		_, err := NewHTTPClient(srv.URL, 20*time.Millisecond).Assess(context.Background(), nil)
		assert.Error(t, err)
	})
}
