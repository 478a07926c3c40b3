package httptransport

import (
	"net/http"

	"mediaguard/internal/fingerprint"
	"mediaguard/internal/proof"
	"mediaguard/internal/registry/models"
	registryservice "mediaguard/internal/registry/service"
	"mediaguard/pkg/domain"
	dErrors "mediaguard/pkg/domain-errors"
	"mediaguard/pkg/platform/httputil"
)

type registerRequest struct {
	ContentHash  domain.ContentHash   `json:"content_hash"`
	IdentityHash domain.IdentityHash  `json:"identity_hash"`
	PrivacyLevel models.PrivacyLevel  `json:"privacy_level"`
	Proof        proof.OwnershipProof `json:"proof"`
	// Content, when sent without content_hash, is fingerprinted server-side.
	Content  []byte `json:"content,omitempty"`
	Metadata []byte `json:"metadata,omitempty"`
}

func (req *registerRequest) contentHash() (domain.ContentHash, error) {
	if !req.ContentHash.IsZero() {
		return req.ContentHash, nil
	}
	if req.Content != nil {
		return fingerprint.Content(req.Content), nil
	}
	return domain.ContentHash{}, dErrors.New(dErrors.CodeValidation, "content_hash or content is required")
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "register", err)
		return
	}
	hash, err := req.contentHash()
	if err != nil {
		h.fail(w, r, "register", err)
		return
	}
	res, err := h.registry.Register(r.Context(), registryservice.RegisterRequest{
		ContentHash:  hash,
		IdentityHash: req.IdentityHash,
		PrivacyLevel: req.PrivacyLevel,
		Proof:        req.Proof,
		Metadata:     req.Metadata,
	})
	if err != nil {
		h.fail(w, r, "register", err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, res.Record)
}

func (h *Handler) handleGetContent(w http.ResponseWriter, r *http.Request) {
	hash, err := contentHashParam(r)
	if err != nil {
		h.fail(w, r, "get content", err)
		return
	}
	detail, err := h.registry.Get(r.Context(), hash)
	if err != nil {
		h.fail(w, r, "get content", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleQueryUsage(w http.ResponseWriter, r *http.Request) {
	identity, err := identityHashParam(r)
	if err != nil {
		h.fail(w, r, "query usage", err)
		return
	}
	report, err := h.registry.QueryUsage(r.Context(), identity)
	if err != nil {
		h.fail(w, r, "query usage", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
