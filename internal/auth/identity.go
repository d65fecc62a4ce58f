// Package auth authenticates inbound requests (session JWT, OIDC, API key,
// personal access token, or a development header) and enforces the RBAC
// role hierarchy across organization-scoped routes.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Roles supported by the RBAC system, highest privilege first.
const (
	RoleOwner    = "owner"
	RoleAdmin    = "admin"
	RoleMember   = "member"
	RoleReadonly = "readonly"
)

// ValidRoles lists all known roles in descending privilege order.
var ValidRoles = []string{RoleOwner, RoleAdmin, RoleMember, RoleReadonly}

// Method describes how the caller was authenticated.
const (
	MethodOIDC    = "oidc"
	MethodSession = "session"
	MethodPAT     = "pat"
	MethodAPIKey  = "apikey"
	MethodDev     = "dev"
)

// Identity represents the authenticated caller for the current request.
type Identity struct {
	Subject          string     // OIDC sub, member display name, or "apikey:<prefix>"
	Email            string     // Member email (empty for API keys)
	Role             string     // One of the Role* constants
	OrganizationSlug string     // Resolved organization slug
	OrganizationID   uuid.UUID  // Resolved organization ID
	UserID           *uuid.UUID // Non-nil for member-authenticated requests
	APIKeyID         *uuid.UUID // Non-nil for API key authentication
	Method           string     // One of the Method* constants
}

type ctxKey string

const identityKey ctxKey = "auth_identity"

// NewContext stores the identity in the context.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity from the context.
// Returns nil if no identity is set.
func FromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(identityKey).(*Identity)
	return v
}

// IsValidRole reports whether role is a recognised RBAC role.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// HashAPIKey returns the SHA-256 hex digest of a raw API key.
func HashAPIKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
