// Package pat provides personal access token management (create, list,
// revoke). Authentication against these tokens lives in
// internal/auth.PATAuthenticator; this package is the owning-user-facing
// CRUD surface.
package pat

import (
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/orchestra/internal/auth"
)

// TokenPrefix identifies personal access tokens, shared with the
// authenticator so a raw token minted here is recognized there.
const TokenPrefix = auth.PATPrefix

// Token represents a personal access token row.
type Token struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"userId"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// CreateRequest is the JSON body for creating a PAT.
type CreateRequest struct {
	Name      string `json:"name" validate:"required,min=1,max=100"`
	ExpiresIn *int   `json:"expiresInDays"`
}

// CreateResponse includes the full token (shown only once).
type CreateResponse struct {
	Token
	RawToken string `json:"rawToken"`
}

// ListResponse wraps a list of tokens.
type ListResponse struct {
	Tokens []Token `json:"tokens"`
	Count  int     `json:"count"`
}
