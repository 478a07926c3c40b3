// Package youtube files copyright claims with YouTube and searches videos
// for registered content.
package youtube

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"mediaguard/internal/takedown/platforms"
	"mediaguard/pkg/domain"
)

const DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

// searchPrefix is how many hex characters of a hash go into a search query.
const searchPrefix = 12

type Adapter struct {
	id     string
	client *platforms.HTTPClient
}

func New(id, baseURL, token string, timeout time.Duration) *Adapter {
	if id == "" {
		id = "youtube"
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{id: id, client: platforms.NewHTTPClient(id, baseURL, token, timeout)}
}

func (a *Adapter) ID() string { return a.id }

type claimRequest struct {
	VideoIdentifiers      []string `json:"video_identifiers"`
	CopyrightBasis        string   `json:"copyright_basis"`
	EvidenceDocumentation []string `json:"evidence_documentation"`
	ClaimantInformation   string   `json:"claimant_information"`
	Reference             string   `json:"reference"`
}

type claimResponse struct {
	ClaimID        string `json:"claim_id"`
	ClaimStatus    string `json:"claim_status"`
	ResponseTimeMs int64  `json:"response_time"`
	TakedownTime   int64  `json:"takedown_time"`
	Reason         string `json:"reason"`
}

func (a *Adapter) SubmitTakedown(ctx context.Context, s platforms.Submission) (platforms.Response, error) {
	start := time.Now()
	ids := make([]string, len(s.ContentHashes))
	for i, h := range s.ContentHashes {
		ids[i] = h.String()
	}
	var out claimResponse
	err := a.client.Do(ctx, http.MethodPost, "/copyright/claims", claimRequest{
		VideoIdentifiers:      ids,
		CopyrightBasis:        s.LegalBasis,
		EvidenceDocumentation: s.EvidenceRefs,
		ClaimantInformation:   s.RequesterIdentity.String(),
		Reference:             s.RequestID.String(),
	}, &out)
	if err != nil {
		return platforms.Response{}, err
	}

	resp := platforms.Response{ResponseTime: time.Since(start), ExternalID: out.ClaimID}
	if out.ResponseTimeMs > 0 {
		resp.ResponseTime = time.Duration(out.ResponseTimeMs) * time.Millisecond
	}
	switch {
	case out.TakedownTime > 0:
		removed := time.UnixMilli(out.TakedownTime).UTC()
		resp.Status = platforms.StatusRemoved
		resp.RemovalTime = &removed
	case out.ClaimStatus == "filed":
		resp.Status = platforms.StatusPending
	default:
		resp.Status = platforms.StatusRejected
		resp.RejectionReason = out.Reason
	}
	return resp, nil
}

type searchResult struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			PublishedAt time.Time `json:"publishedAt"`
			ChannelID   string    `json:"channelId"`
			Title       string    `json:"title"`
		} `json:"snippet"`
	} `json:"items"`
}

// ScanForContent searches videos by the leading characters of hash.
func (a *Adapter) ScanForContent(ctx context.Context, hash domain.ContentHash) ([]platforms.Detection, error) {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("type", "video")
	q.Set("q", hash.String()[:searchPrefix])
	var out searchResult
	if err := a.client.Do(ctx, http.MethodGet, "/search?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	found := make([]platforms.Detection, 0, len(out.Items))
	for _, item := range out.Items {
		found = append(found, platforms.Detection{
			ExternalID:  "yt-" + item.ID.VideoID,
			ContentHash: hash,
			PlatformID:  a.id,
			Timestamp:   item.Snippet.PublishedAt,
			Metadata: map[string]string{
				"video_id":   item.ID.VideoID,
				"channel_id": item.Snippet.ChannelID,
				"title":      item.Snippet.Title,
			},
		})
	}
	return found, nil
}

type channelResult struct {
	Items []struct {
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// ValidatePermission reports whether userID is a channel with uploads.
func (a *Adapter) ValidatePermission(ctx context.Context, _ domain.ContentHash, userID string) (bool, error) {
	q := url.Values{}
	q.Set("part", "contentDetails")
	q.Set("id", userID)
	var out channelResult
	if err := a.client.Do(ctx, http.MethodGet, "/channels?"+q.Encode(), nil, &out); err != nil {
		return false, err
	}
	return len(out.Items) > 0 && out.Items[0].ContentDetails.RelatedPlaylists.Uploads != "", nil
}
