// Package webform is a configurable adapter for platforms that take abuse
// reports as a JSON form and expose a hash search: Facebook, Instagram,
// TikTok, Discord, Snapchat and LinkedIn are configured through it.
package webform

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mediaguard/internal/takedown/platforms"
	"mediaguard/pkg/domain"
)

// Endpoints are the paths of the three operations relative to the base URL.
// The search path receives the hash as the "hash" query parameter and the
// permission path has "{user}" replaced by the user id.
type Endpoints struct {
	Submit     string
	Search     string
	Permission string
}

// DefaultEndpoints returns the known report endpoints of a platform, or a
// generic layout for an unknown one.
func DefaultEndpoints(platformID string) Endpoints {
	switch platformID {
	case "facebook":
		return Endpoints{Submit: "/content_removal_requests", Search: "/search", Permission: "/{user}/photos"}
	case "instagram":
		return Endpoints{Submit: "/ig_content_removal", Search: "/ig_hashtag_search", Permission: "/{user}/media"}
	case "tiktok":
		return Endpoints{Submit: "/report/submit/", Search: "/video/search/", Permission: "/video/list/{user}"}
	case "discord":
		return Endpoints{Submit: "/abuse-reports", Search: "/channels/search", Permission: "/users/{user}/messages"}
	case "snapchat":
		return Endpoints{Submit: "/content/reports", Search: "/content/search", Permission: "/user/{user}/snaps"}
	case "linkedin":
		return Endpoints{Submit: "/contentReports", Search: "/shares", Permission: "/shares/{user}"}
	default:
		return Endpoints{Submit: "/takedown", Search: "/search", Permission: "/users/{user}/content"}
	}
}

type Adapter struct {
	id        string
	endpoints Endpoints
	client    *platforms.HTTPClient
}

func New(id, baseURL, token string, timeout time.Duration, endpoints Endpoints) *Adapter {
	defaults := DefaultEndpoints(id)
	if endpoints.Submit == "" {
		endpoints.Submit = defaults.Submit
	}
	if endpoints.Search == "" {
		endpoints.Search = defaults.Search
	}
	if endpoints.Permission == "" {
		endpoints.Permission = defaults.Permission
	}
	return &Adapter{id: id, endpoints: endpoints, client: platforms.NewHTTPClient(id, baseURL, token, timeout)}
}

func (a *Adapter) ID() string { return a.id }

type report struct {
	Reference         string   `json:"reference"`
	MediaHashes       []string `json:"media_hashes"`
	Reason            string   `json:"reason"`
	Urgency           string   `json:"urgency"`
	EvidenceURLs      []string `json:"evidence_urls"`
	RequesterIdentity string   `json:"requester_identity"`
}

type reportResponse struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	ProcessingTimeMs int64  `json:"processing_time"`
	RemovalTime      int64  `json:"removal_time"`
	RejectionReason  string `json:"rejection_reason"`
}

// SubmitTakedown posts an abuse report. "accepted" and "pending" answers
// are pending; "removed" answers, or any answer with a removal time, are
// removed; everything else is a rejection.
func (a *Adapter) SubmitTakedown(ctx context.Context, s platforms.Submission) (platforms.Response, error) {
	start := time.Now()
	hashes := make([]string, len(s.ContentHashes))
	for i, h := range s.ContentHashes {
		hashes[i] = h.String()
	}
	var out reportResponse
	err := a.client.Do(ctx, http.MethodPost, a.endpoints.Submit, report{
		Reference:         s.RequestID.String(),
		MediaHashes:       hashes,
		Reason:            s.LegalBasis,
		Urgency:           s.Urgency,
		EvidenceURLs:      s.EvidenceRefs,
		RequesterIdentity: s.RequesterIdentity.String(),
	}, &out)
	if err != nil {
		return platforms.Response{}, err
	}

	resp := platforms.Response{ResponseTime: time.Since(start), ExternalID: out.ID}
	if out.ProcessingTimeMs > 0 {
		resp.ResponseTime = time.Duration(out.ProcessingTimeMs) * time.Millisecond
	}
	switch {
	case out.RemovalTime > 0 || out.Status == "removed":
		resp.Status = platforms.StatusRemoved
		if out.RemovalTime > 0 {
			removed := time.UnixMilli(out.RemovalTime).UTC()
			resp.RemovalTime = &removed
		}
	case out.Status == "accepted" || out.Status == "pending":
		resp.Status = platforms.StatusPending
	default:
		resp.Status = platforms.StatusRejected
		resp.RejectionReason = out.RejectionReason
	}
	return resp, nil
}

type match struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_time"`
}

type matchPage struct {
	Data []match `json:"data"`
}

func (a *Adapter) ScanForContent(ctx context.Context, hash domain.ContentHash) ([]platforms.Detection, error) {
	var page matchPage
	path := a.endpoints.Search + "?" + url.Values{"hash": {hash.String()}}.Encode()
	if err := a.client.Do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	found := make([]platforms.Detection, 0, len(page.Data))
	for _, m := range page.Data {
		meta := map[string]string{"post_id": m.ID}
		if m.UserID != "" {
			meta["user_id"] = m.UserID
		}
		if m.URL != "" {
			meta["url"] = m.URL
		}
		found = append(found, platforms.Detection{
			ExternalID:  a.id + "-" + m.ID,
			ContentHash: hash,
			PlatformID:  a.id,
			Timestamp:   m.CreatedAt,
			Metadata:    meta,
		})
	}
	return found, nil
}

type ownedMedia struct {
	Data []struct {
		ID     string `json:"id"`
		Source string `json:"source"`
	} `json:"data"`
}

// ValidatePermission reports whether userID's own media includes hash.
func (a *Adapter) ValidatePermission(ctx context.Context, hash domain.ContentHash, userID string) (bool, error) {
	var owned ownedMedia
	path := strings.ReplaceAll(a.endpoints.Permission, "{user}", url.PathEscape(userID))
	if err := a.client.Do(ctx, http.MethodGet, path, nil, &owned); err != nil {
		return false, err
	}
	hex := hash.String()
	for _, m := range owned.Data {
		if m.ID == hex || strings.Contains(m.Source, hex) {
			return true, nil
		}
	}
	return false, nil
}
