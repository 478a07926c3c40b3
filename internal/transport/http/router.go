package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mediaguard/internal/platform/metrics"
	"mediaguard/pkg/platform/httputil"
	"mediaguard/pkg/platform/middleware/auth"
	"mediaguard/pkg/platform/middleware/device"
	"mediaguard/pkg/platform/middleware/metadata"
	"mediaguard/pkg/platform/middleware/requestid"
	"mediaguard/pkg/platform/middleware/requesttime"
)

// RouterConfig carries the cross-cutting pieces of the HTTP surface.
type RouterConfig struct {
	Tokens  auth.TokenValidator
	Device  *device.Service
	Metrics *metrics.Metrics
	// Ready reports whether the process can serve traffic. Nil means always.
	Ready   func(ctx context.Context) error
	Timeout time.Duration
	// SubmitTimeout bounds POST /v1/takedowns, which waits for the platform
	// fan-out. Zero means Timeout.
	SubmitTimeout time.Duration
	Logger        *slog.Logger
}

// NewRouter wires every public endpoint. Handlers delegate to the domain
// services and only translate between JSON and service calls.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Device == nil {
		cfg.Device = device.NewService(false)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = cfg.Timeout
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(cfg.Metrics.Middleware)

	r.Get("/healthz", healthz(cfg.Ready))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(api chi.Router) {
			api.Use(chimw.Timeout(cfg.Timeout))

			api.Post("/content", h.handleRegister)
			api.Get("/content/{contentHash}", h.handleGetContent)
			api.Get("/identities/{identityHash}/usage", h.handleQueryUsage)

			api.With(cfg.Device.Middleware).Post("/events", h.handleObserveEvent)
			api.Post("/events/{eventID}/judgments", h.handlePeerJudgment)
			api.Post("/events/{eventID}/close", h.handleCloseEvent)

			api.Get("/takedowns/{requestID}", h.handleGetTakedown)
			api.Get("/takedowns/{requestID}/deadline", h.handleMonitorDeadline)
			api.Group(func(protected chi.Router) {
				protected.Use(auth.RequireAuth(cfg.Tokens, cfg.Logger))
				protected.Post("/takedowns/{requestID}/responses", h.handlePlatformResponse)
				protected.Post("/takedowns/{requestID}/reverify", h.handleReverify)
			})
		})
		v1.Group(func(submit chi.Router) {
			submit.Use(chimw.Timeout(cfg.SubmitTimeout))
			submit.Use(auth.RequireAuth(cfg.Tokens, cfg.Logger))
			submit.Post("/takedowns", h.handleSubmitTakedown)
		})
	})
	return r
}

func healthz(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
