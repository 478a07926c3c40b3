package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mediaguard/internal/consensus"
	registrymodels "mediaguard/internal/registry/models"
	registryservice "mediaguard/internal/registry/service"
	takedownmodels "mediaguard/internal/takedown/models"
	takedownservice "mediaguard/internal/takedown/service"
	"mediaguard/pkg/domain"
	dErrors "mediaguard/pkg/domain-errors"
	"mediaguard/pkg/platform/httputil"
	"mediaguard/pkg/requestcontext"
)

// RegistryService is the ownership registry as seen by the API.
type RegistryService interface {
	Register(ctx context.Context, req registryservice.RegisterRequest) (*registryservice.RegisterResult, error)
	Get(ctx context.Context, hash domain.ContentHash) (*registrymodels.ContentDetail, error)
	QueryUsage(ctx context.Context, identity domain.IdentityHash) (*registrymodels.UsageReport, error)
}

// ConsensusService is the consensus validator as seen by the API.
type ConsensusService interface {
	Observe(ctx context.Context, event *registrymodels.ContentEvent) (*registrymodels.ContentEvent, bool, error)
	AssessAutomated(ctx context.Context, eventID domain.EventID, content []byte) (consensus.AutomatedJudgment, error)
	RecordPeer(ctx context.Context, eventID domain.EventID, j consensus.PeerJudgment) (bool, *consensus.Decision, error)
	Close(ctx context.Context, eventID domain.EventID) (*consensus.Decision, error)
}

// TakedownService is the takedown orchestrator as seen by the API.
type TakedownService interface {
	Submit(ctx context.Context, req takedownservice.SubmitRequest) (*takedownmodels.RequestView, error)
	Get(ctx context.Context, id domain.RequestID) (*takedownmodels.RequestView, error)
	MonitorDeadline(ctx context.Context, id domain.RequestID) (*takedownmodels.DeadlineStatus, error)
	RecordResponse(ctx context.Context, id domain.RequestID, platformID string, u takedownservice.ResponseUpdate) (*takedownmodels.RequestView, error)
	Reverify(ctx context.Context, id domain.RequestID) (*takedownmodels.RequestView, error)
}

// Handler is the thin HTTP layer over the domain services.
type Handler struct {
	registry  RegistryService
	consensus ConsensusService
	takedowns TakedownService
	logger    *slog.Logger
}

func NewHandler(registry RegistryService, validator ConsensusService, takedowns TakedownService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{registry: registry, consensus: validator, takedowns: takedowns, logger: logger}
}

// fail logs server-side failures and writes the mapped error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeUnavailable:
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	default:
		h.logger.DebugContext(ctx, op+" rejected",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func contentHashParam(r *http.Request) (domain.ContentHash, error) {
	return domain.ParseContentHash(chi.URLParam(r, "contentHash"))
}

func identityHashParam(r *http.Request) (domain.IdentityHash, error) {
	return domain.ParseIdentityHash(chi.URLParam(r, "identityHash"))
}

func eventIDParam(r *http.Request) (domain.EventID, error) {
	return domain.ParseEventID(chi.URLParam(r, "eventID"))
}

func requestIDParam(r *http.Request) (domain.RequestID, error) {
	return domain.ParseRequestID(chi.URLParam(r, "requestID"))
}
