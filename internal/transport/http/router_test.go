package httptransport

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"mediaguard/internal/consensus"
	"mediaguard/internal/fingerprint"
	"mediaguard/internal/proof"
	registrymodels "mediaguard/internal/registry/models"
	registryservice "mediaguard/internal/registry/service"
	registrystore "mediaguard/internal/registry/store"
	"mediaguard/internal/takedown/models"
	"mediaguard/internal/takedown/platforms"
	takedownservice "mediaguard/internal/takedown/service"
	takedownstore "mediaguard/internal/takedown/store"
	"mediaguard/pkg/domain"
	"mediaguard/pkg/platform/middleware/auth"
	"mediaguard/pkg/platform/middleware/device"
	"mediaguard/pkg/platform/middleware/requestid"
	"mediaguard/pkg/testutil"
)

type RouterSuite struct {
	suite.Suite
	engine  *proof.Engine
	tokens  *auth.TokenService
	router  http.Handler
	handler *Handler
	cred    proof.Credential
	content []byte
	hash    domain.ContentHash
	peers   map[string]ed25519.PrivateKey
	ready   error
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.engine = proof.NewEngine()
	registry := registryservice.New(registrystore.NewInMemory(), s.engine)

	dir := consensus.NewStaticDirectory()
	s.peers = make(map[string]ed25519.PrivateKey)
	for i, id := range []string{"validator-a", "validator-b", "validator-c"} {
		key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{byte(i + 1)}, ed25519.SeedSize))
		s.peers[id] = key
		s.Require().NoError(dir.Add(id, key.Public().(ed25519.PublicKey)))
	}
	validator := consensus.NewValidator(consensus.Config{Quorum: 3}, registry, dir)
	takedowns := takedownservice.New(takedownservice.Config{}, takedownstore.NewInMemory(), registry, s.engine, platforms.NewRegistry())

	s.tokens = auth.NewTokenService("router-test-key", "mediaguard", "mediaguard-api")
	s.ready = nil
	s.handler = NewHandler(registry, validator, takedowns, nil)
	s.router = NewRouter(s.handler, RouterConfig{
		Tokens: s.tokens,
		Device: device.NewService(true),
		Ready:  func(context.Context) error { return s.ready },
	})

	var err error
	s.cred, err = proof.NewCredential(bytes.Repeat([]byte{9}, 32))
	s.Require().NoError(err)
	s.content = []byte("studio master v1")
	s.hash = fingerprint.Content(s.content)
}

func (s *RouterSuite) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return testutil.DoRequest(s.router, req)
}

func (s *RouterSuite) decode(rec *httptest.ResponseRecorder, dst any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), dst))
}

func (s *RouterSuite) register() {
	p, err := s.engine.Generate(s.cred, s.hash)
	s.Require().NoError(err)
	rec := s.do(http.MethodPost, "/v1/content", map[string]any{
		"identity_hash": s.cred.Identity(),
		"privacy_level": "private",
		"proof":         p,
		"content":       s.content,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *RouterSuite) token() string {
	token, err := s.tokens.Issue("owner-1", time.Hour)
	s.Require().NoError(err)
	return token
}

func (s *RouterSuite) bearer() []string {
	return []string{"Authorization", "Bearer " + s.token()}
}

func (s *RouterSuite) TestHealth() {
	s.Run("ready process reports ok", func() {
		rec := s.do(http.MethodGet, "/healthz", nil)
		s.Equal(http.StatusOK, rec.Code)
		s.NotEmpty(rec.Header().Get(requestid.Header))
	})

	s.Run("failing readiness reports unavailable", func() {
		s.ready = errors.New("postgres down")
		rec := s.do(http.MethodGet, "/healthz", nil)
		s.Equal(http.StatusServiceUnavailable, rec.Code)
	})
}

func (s *RouterSuite) TestRegistry() {
	s.register()

	s.Run("registering again under the same identity is idempotent", func() {
		p, err := s.engine.Generate(s.cred, s.hash)
		s.Require().NoError(err)
		rec := s.do(http.MethodPost, "/v1/content", map[string]any{
			"content_hash":  s.hash,
			"identity_hash": s.cred.Identity(),
			"privacy_level": "private",
			"proof":         p,
		})
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("proof for other content is rejected", func() {
		p, err := s.engine.Generate(s.cred, fingerprint.Content([]byte("other")))
		s.Require().NoError(err)
		rec := s.do(http.MethodPost, "/v1/content", map[string]any{
			"content_hash":  s.hash,
			"identity_hash": s.cred.Identity(),
			"privacy_level": "private",
			"proof":         p,
		})
		s.Equal(http.StatusUnprocessableEntity, rec.Code)
	})

	s.Run("record with history is readable", func() {
		rec := s.do(http.MethodGet, "/v1/content/"+s.hash.String(), nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		var detail registrymodels.ContentDetail
		s.decode(rec, &detail)
		s.Equal(s.hash, detail.Record.ContentHash)
		s.Equal(registrymodels.StatePending, detail.Record.ValidationState)
	})

	s.Run("malformed hash is a bad request", func() {
		rec := s.do(http.MethodGet, "/v1/content/not-hex", nil)
		testutil.AssertStatusAndError(s.T(), rec, http.StatusBadRequest, "bad_request")
	})

	s.Run("unknown hash is not found", func() {
		rec := s.do(http.MethodGet, "/v1/content/"+fingerprint.Content([]byte("nope")).String(), nil)
		s.Equal(http.StatusNotFound, rec.Code)
	})

	s.Run("usage report lists the content", func() {
		rec := s.do(http.MethodGet, "/v1/identities/"+s.cred.Identity().String()+"/usage", nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		var report registrymodels.UsageReport
		s.decode(rec, &report)
		s.Len(report.Content, 1)
	})
}

func (s *RouterSuite) TestConsensusFlow() {
	s.register()

	rec := s.do(http.MethodPost, "/v1/events", map[string]any{
		"content_hash": s.hash,
		"event_type":   "upload",
		"platform_id":  "youtube",
	}, "User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
	s.Require().Equal(http.StatusAccepted, rec.Code, rec.Body.String())
	var observed observeEventResponse
	s.decode(rec, &observed)
	s.True(observed.Opened)
	s.Len(observed.Event.DeviceFingerprint, 64)
	eventID := observed.Event.EventID

	var last peerJudgmentResponse
	for _, id := range []string{"validator-a", "validator-b", "validator-c"} {
		j, err := consensus.SignJudgment(s.peers[id], id, eventID, s.hash, true, 0.9)
		s.Require().NoError(err)
		rec := s.do(http.MethodPost, "/v1/events/"+eventID.String()+"/judgments", j)
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		s.decode(rec, &last)
		s.True(last.Accepted)
	}
	s.Require().NotNil(last.Decision)
	s.Equal(registrymodels.EventValidated, last.Decision.State)

	s.Run("closing a decided event returns the decision", func() {
		rec := s.do(http.MethodPost, "/v1/events/"+eventID.String()+"/close", nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		var d consensus.Decision
		s.decode(rec, &d)
		s.Equal(registrymodels.EventValidated, d.State)
	})

	s.Run("late judgments conflict", func() {
		j, err := consensus.SignJudgment(s.peers["validator-a"], "validator-a", eventID, s.hash, false, 0.9)
		s.Require().NoError(err)
		rec := s.do(http.MethodPost, "/v1/events/"+eventID.String()+"/judgments", j)
		s.Equal(http.StatusConflict, rec.Code)
	})
}

func (s *RouterSuite) submission() map[string]any {
	p, err := s.engine.Generate(s.cred, s.hash)
	s.Require().NoError(err)
	msg, err := takedownservice.SigningMessage(s.hash, models.BasisNCII)
	s.Require().NoError(err)
	return map[string]any{
		"content_hash": s.hash,
		"legal_basis":  models.BasisNCII,
		"identity_proof": models.IdentityProof{
			Proof:     p,
			Signature: s.cred.Sign(msg),
		},
	}
}

func (s *RouterSuite) TestSubmissionUsesItsOwnTimeout() {
	s.register()
	short := NewRouter(s.handler, RouterConfig{
		Tokens:        s.tokens,
		Timeout:       time.Nanosecond,
		SubmitTimeout: time.Minute,
	})

	req := testutil.WithBearer(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/takedowns", s.submission()), s.token())
	rec := testutil.DoRequest(short, req)
	s.Equal(http.StatusCreated, rec.Code, rec.Body.String())

	s.Run("submission still requires a bearer token", func() {
		rec := testutil.DoRequest(short, testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/takedowns", s.submission()))
		s.Equal(http.StatusUnauthorized, rec.Code)
	})
}

func (s *RouterSuite) TestTakedowns() {
	s.register()

	p, err := s.engine.Generate(s.cred, s.hash)
	s.Require().NoError(err)
	body := s.submission()

	s.Run("submission requires a bearer token", func() {
		rec := s.do(http.MethodPost, "/v1/takedowns", body)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	rec := s.do(http.MethodPost, "/v1/takedowns", body, s.bearer()...)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var view models.RequestView
	s.decode(rec, &view)
	id := view.Request.RequestID.String()
	s.Equal(models.UrgencyExpedited, view.Request.Urgency)

	s.Run("request is readable", func() {
		rec := s.do(http.MethodGet, "/v1/takedowns/"+id, nil)
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("deadline status is readable", func() {
		rec := s.do(http.MethodGet, "/v1/takedowns/"+id+"/deadline", nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		var status models.DeadlineStatus
		s.decode(rec, &status)
		s.False(status.Expired)
		s.InDelta(48, status.HoursRemaining, 0.1)
	})

	s.Run("response from an untargeted platform is rejected", func() {
		rec := s.do(http.MethodPost, "/v1/takedowns/"+id+"/responses", map[string]any{
			"platform_id": "tiktok",
			"status":      "removed",
		}, s.bearer()...)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("reverify keeps a valid request", func() {
		rec := s.do(http.MethodPost, "/v1/takedowns/"+id+"/reverify", nil, s.bearer()...)
		s.Require().Equal(http.StatusOK, rec.Code)
		var v models.RequestView
		s.decode(rec, &v)
		s.NotEqual(models.StatusRejected, v.Request.Status)
	})

	s.Run("unknown request is not found", func() {
		rec := s.do(http.MethodGet, "/v1/takedowns/"+domain.NewRequestID().String(), nil)
		testutil.AssertStatusAndError(s.T(), rec, http.StatusNotFound, "not_found")
	})

	s.Run("unsigned submission is unauthorized", func() {
		bad := map[string]any{
			"content_hash":   s.hash,
			"legal_basis":    models.BasisNCII,
			"identity_proof": models.IdentityProof{Proof: p},
		}
		req := testutil.WithBearer(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/takedowns", bad), s.token())
		rec := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rec, http.StatusUnauthorized, "unauthorized")
	})
}
