// Package apikey provides organization-scoped API key management
// (create, list, revoke). Authentication against these keys lives in
// internal/auth.APIKeyAuthenticator, against the shared
// internal/db/api_keys.go schema; this package is the owning-organization
// management surface.
package apikey

import (
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/orchestra/internal/db"
)

// KeyPrefix identifies raw API keys.
const KeyPrefix = "orc_key_"

// CreateRequest is the JSON body for POST /api/apikeys.
type CreateRequest struct {
	Role   string   `json:"role" validate:"required"`
	Scopes []string `json:"scopes"`
}

// Response is the JSON response for a single API key (without the raw key).
type Response struct {
	ID        uuid.UUID  `json:"id"`
	KeyPrefix string     `json:"keyPrefix"`
	Role      string     `json:"role"`
	Scopes    []string   `json:"scopes"`
	LastUsed  *time.Time `json:"lastUsed,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// CreateResponse includes the raw key (only shown once at creation).
type CreateResponse struct {
	Response
	RawKey string `json:"rawKey"`
}

func toResponse(k db.APIKey) Response {
	resp := Response{
		ID:        k.ID,
		KeyPrefix: k.KeyPrefix,
		Role:      k.Role,
		Scopes:    ensureSlice(k.Scopes),
		LastUsed:  k.LastUsedAt,
		CreatedAt: k.CreatedAt,
	}
	if k.ExpiresAt.Valid {
		t := k.ExpiresAt.Time
		resp.ExpiresAt = &t
	}
	return resp
}

func ensureSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
