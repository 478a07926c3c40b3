package httptransport

import (
	"net/http"
	"time"

	"mediaguard/internal/consensus"
	"mediaguard/internal/registry/models"
	"mediaguard/pkg/domain"
	"mediaguard/pkg/platform/httputil"
	"mediaguard/pkg/requestcontext"
)

type observeEventRequest struct {
	EventID      domain.EventID      `json:"event_id"`
	ContentHash  domain.ContentHash  `json:"content_hash"`
	IdentityHash domain.IdentityHash `json:"identity_hash"`
	EventType    models.EventType    `json:"event_type"`
	PlatformID   string              `json:"platform_id"`
	Timestamp    time.Time           `json:"timestamp"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
	// Content, when present, is sent to the risk oracle for the automated
	// judgment of a newly opened session.
	Content []byte `json:"content,omitempty"`
}

type observeEventResponse struct {
	Event     *models.ContentEvent         `json:"event"`
	Opened    bool                         `json:"session_opened"`
	Automated *consensus.AutomatedJudgment `json:"automated_judgment,omitempty"`
}

func (h *Handler) handleObserveEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req observeEventRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "observe event", err)
		return
	}
	if req.EventID.IsNil() {
		req.EventID = domain.NewEventID()
	}
	event := &models.ContentEvent{
		EventID:           req.EventID,
		ContentHash:       req.ContentHash,
		IdentityHash:      req.IdentityHash,
		Type:              req.EventType,
		PlatformID:        req.PlatformID,
		DeviceFingerprint: requestcontext.DeviceFingerprint(ctx),
		Timestamp:         req.Timestamp,
		Metadata:          req.Metadata,
	}
	stored, opened, err := h.consensus.Observe(ctx, event)
	if err != nil {
		h.fail(w, r, "observe event", err)
		return
	}

	resp := observeEventResponse{Event: stored, Opened: opened}
	if opened && req.Content != nil {
		j, err := h.consensus.AssessAutomated(ctx, stored.EventID, req.Content)
		if err != nil {
			h.fail(w, r, "observe event", err)
			return
		}
		resp.Automated = &j
	}
	status := http.StatusOK
	if opened {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, resp)
}

type peerJudgmentResponse struct {
	Accepted bool                `json:"accepted"`
	Decision *consensus.Decision `json:"decision,omitempty"`
}

func (h *Handler) handlePeerJudgment(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		h.fail(w, r, "peer judgment", err)
		return
	}
	var j consensus.PeerJudgment
	if err := httputil.DecodeJSON(r, &j); err != nil {
		h.fail(w, r, "peer judgment", err)
		return
	}
	accepted, decision, err := h.consensus.RecordPeer(r.Context(), eventID, j)
	if err != nil {
		h.fail(w, r, "peer judgment", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, peerJudgmentResponse{Accepted: accepted, Decision: decision})
}

func (h *Handler) handleCloseEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		h.fail(w, r, "close event", err)
		return
	}
	decision, err := h.consensus.Close(r.Context(), eventID)
	if err != nil {
		h.fail(w, r, "close event", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision)
}
