package httptransport

import (
	"net/http"
	"time"

	"mediaguard/internal/takedown/models"
	takedownservice "mediaguard/internal/takedown/service"
	"mediaguard/pkg/domain"
	dErrors "mediaguard/pkg/domain-errors"
	"mediaguard/pkg/platform/httputil"
	"mediaguard/pkg/requestcontext"
)

type submitTakedownRequest struct {
	ContentHash   domain.ContentHash   `json:"content_hash"`
	LegalBasis    models.LegalBasis    `json:"legal_basis"`
	IdentityProof models.IdentityProof `json:"identity_proof"`
}

func (h *Handler) handleSubmitTakedown(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req submitTakedownRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "submit takedown", err)
		return
	}
	if req.ContentHash.IsZero() {
		h.fail(w, r, "submit takedown", dErrors.New(dErrors.CodeBadRequest, "content_hash is required"))
		return
	}
	view, err := h.takedowns.Submit(ctx, takedownservice.SubmitRequest{
		ContentHash:   req.ContentHash,
		LegalBasis:    req.LegalBasis,
		IdentityProof: req.IdentityProof,
	})
	if err != nil {
		h.fail(w, r, "submit takedown", err)
		return
	}
	h.logger.InfoContext(ctx, "takedown submitted",
		"request_id", view.Request.RequestID.String(),
		"content_hash", view.Request.ContentHash.String(),
		"subject", requestcontext.Subject(ctx),
	)
	httputil.WriteJSON(w, http.StatusCreated, view)
}

func (h *Handler) handleGetTakedown(w http.ResponseWriter, r *http.Request) {
	id, err := requestIDParam(r)
	if err != nil {
		h.fail(w, r, "get takedown", err)
		return
	}
	view, err := h.takedowns.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get takedown", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleMonitorDeadline(w http.ResponseWriter, r *http.Request) {
	id, err := requestIDParam(r)
	if err != nil {
		h.fail(w, r, "monitor deadline", err)
		return
	}
	status, err := h.takedowns.MonitorDeadline(r.Context(), id)
	if err != nil {
		h.fail(w, r, "monitor deadline", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

type platformResponseRequest struct {
	PlatformID      string                `json:"platform_id"`
	Status          models.ResponseStatus `json:"status"`
	ResponseTimeMs  int64                 `json:"response_time_ms"`
	RemovalTime     *time.Time            `json:"removal_time,omitempty"`
	RejectionReason string                `json:"rejection_reason,omitempty"`
	ExternalID      string                `json:"external_id,omitempty"`
}

func (h *Handler) handlePlatformResponse(w http.ResponseWriter, r *http.Request) {
	id, err := requestIDParam(r)
	if err != nil {
		h.fail(w, r, "platform response", err)
		return
	}
	var req platformResponseRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "platform response", err)
		return
	}
	view, err := h.takedowns.RecordResponse(r.Context(), id, req.PlatformID, takedownservice.ResponseUpdate{
		Status:          req.Status,
		ResponseTimeMs:  req.ResponseTimeMs,
		RemovalTime:     req.RemovalTime,
		RejectionReason: req.RejectionReason,
		ExternalID:      req.ExternalID,
	})
	if err != nil {
		h.fail(w, r, "platform response", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleReverify(w http.ResponseWriter, r *http.Request) {
	id, err := requestIDParam(r)
	if err != nil {
		h.fail(w, r, "reverify takedown", err)
		return
	}
	view, err := h.takedowns.Reverify(r.Context(), id)
	if err != nil {
		h.fail(w, r, "reverify takedown", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}
