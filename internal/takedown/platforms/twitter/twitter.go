// Package twitter files takedowns through the X/Twitter DMCA endpoint and
// scans media attachments for registered content.
package twitter

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mediaguard/internal/takedown/platforms"
	"mediaguard/pkg/domain"
)

const DefaultBaseURL = "https://api.twitter.com/2"

type Adapter struct {
	id     string
	client *platforms.HTTPClient
}

// New builds the adapter. An empty id defaults to "twitter".
func New(id, baseURL, token string, timeout time.Duration) *Adapter {
	if id == "" {
		id = "twitter"
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{id: id, client: platforms.NewHTTPClient(id, baseURL, token, timeout)}
}

func (a *Adapter) ID() string { return a.id }

type dmcaRequest struct {
	MediaHashes       []string `json:"media_hashes"`
	CopyrightClaim    string   `json:"copyright_claim"`
	EvidenceDocuments []string `json:"evidence_documents"`
	ClaimantInfo      string   `json:"claimant_info"`
	Reference         string   `json:"reference"`
}

type dmcaResponse struct {
	Accepted         bool   `json:"accepted"`
	CaseID           string `json:"case_id"`
	ProcessingTimeMs int64  `json:"processing_time"`
	ProcessedAt      int64  `json:"processed_at"`
	RejectionDetails string `json:"rejection_details"`
}

// SubmitTakedown files a DMCA claim. An accepted claim that was already
// processed counts as removed.
func (a *Adapter) SubmitTakedown(ctx context.Context, s platforms.Submission) (platforms.Response, error) {
	start := time.Now()
	var out dmcaResponse
	err := a.client.Do(ctx, http.MethodPost, "/content/dmca", dmcaRequest{
		MediaHashes:       hexHashes(s.ContentHashes),
		CopyrightClaim:    s.LegalBasis,
		EvidenceDocuments: s.EvidenceRefs,
		ClaimantInfo:      s.RequesterIdentity.String(),
		Reference:         s.RequestID.String(),
	}, &out)
	if err != nil {
		return platforms.Response{}, err
	}

	resp := platforms.Response{
		Status:       platforms.StatusRejected,
		ResponseTime: time.Since(start),
		ExternalID:   out.CaseID,
	}
	if out.ProcessingTimeMs > 0 {
		resp.ResponseTime = time.Duration(out.ProcessingTimeMs) * time.Millisecond
	}
	switch {
	case out.Accepted && out.ProcessedAt > 0:
		removed := time.UnixMilli(out.ProcessedAt).UTC()
		resp.Status = platforms.StatusRemoved
		resp.RemovalTime = &removed
	case out.Accepted:
		resp.Status = platforms.StatusPending
	default:
		resp.RejectionReason = out.RejectionDetails
	}
	return resp, nil
}

type tweet struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"author_id"`
	CreatedAt   time.Time `json:"created_at"`
	Attachments struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
}

type tweetPage struct {
	Data []tweet `json:"data"`
}

func (t tweet) carries(hash string) bool {
	for _, key := range t.Attachments.MediaKeys {
		if strings.Contains(key, hash) {
			return true
		}
	}
	return false
}

// ScanForContent searches recent media tweets for attachments keyed by hash.
func (a *Adapter) ScanForContent(ctx context.Context, hash domain.ContentHash) ([]platforms.Detection, error) {
	var page tweetPage
	path := "/tweets/search/recent?query=has:media&expansions=attachments.media_keys"
	if err := a.client.Do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	var found []platforms.Detection
	for _, t := range page.Data {
		if !t.carries(hash.String()) {
			continue
		}
		found = append(found, platforms.Detection{
			ExternalID:  "tw-" + t.ID,
			ContentHash: hash,
			PlatformID:  a.id,
			Timestamp:   t.CreatedAt,
			Metadata:    map[string]string{"tweet_id": t.ID, "author_id": t.AuthorID},
		})
	}
	return found, nil
}

// ValidatePermission reports whether userID posted media keyed by hash.
func (a *Adapter) ValidatePermission(ctx context.Context, hash domain.ContentHash, userID string) (bool, error) {
	var page tweetPage
	path := "/users/" + url.PathEscape(userID) + "/tweets?expansions=attachments.media_keys"
	if err := a.client.Do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return false, err
	}
	for _, t := range page.Data {
		if t.carries(hash.String()) {
			return true, nil
		}
	}
	return false, nil
}

func hexHashes(hashes []domain.ContentHash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	return out
}
