package handlers

import (
	"github.com/oszuidwest/zwfm-noticeboard/internal/models"
	"github.com/oszuidwest/zwfm-noticeboard/internal/validation"
)

// NoticeResponse is a notice as returned by the API and pushed to viewers.
type NoticeResponse struct {
	models.Notice
	MediaKind validation.MediaKind `json:"media_kind"`
	FileURL   string               `json:"file_url"`
}

// StreamEvent is the payload of one update_notices event.
type StreamEvent struct {
	Seq     uint64           `json:"seq"`
	Notices []NoticeResponse `json:"notices"`
}

// AuthConfigResponse represents the authentication configuration response.
type AuthConfigResponse struct {
	Methods  []string `json:"methods"`
	OAuthURL string   `json:"oauth_url,omitempty"`
}

// SessionResponse describes the logged-in user.
type SessionResponse struct {
	ID         int64   `json:"id"`
	Username   string  `json:"username"`
	FullName   string  `json:"full_name"`
	Email      *string `json:"email"`
	Role       string  `json:"role"`
	AuthMethod string  `json:"auth_method"`
	CanPost    bool    `json:"can_post"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Viewers int    `json:"viewers"`
}

func toNoticeResponse(n models.Notice) NoticeResponse {
	return NoticeResponse{
		Notice:    n,
		MediaKind: validation.KindOf(n.FileType),
		FileURL:   "/" + n.FilePath,
	}
}

func toNoticeResponses(notices []models.Notice) []NoticeResponse {
	out := make([]NoticeResponse, 0, len(notices))
	for _, n := range notices {
		out = append(out, toNoticeResponse(n))
	}
	return out
}
