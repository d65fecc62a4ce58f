package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/orchestra/internal/db"
)

// Authenticator bundles every credential verifier the HTTP layer needs so
// that request handling can depend on a single value instead of threading
// four separate authenticators through the server constructor.
type Authenticator struct {
	Pool       *pgxpool.Pool
	SessionMgr *SessionManager
	OIDCAuth   *OIDCAuthenticator
	PATAuth    *PATAuthenticator
	APIKeyAuth *APIKeyAuthenticator
	DevMode    bool
}

// NewAuthenticator wires the individual authenticators against a shared pool.
// oidcAuth may be nil when no OIDC provider is configured.
func NewAuthenticator(pool *pgxpool.Pool, sessionMgr *SessionManager, oidcAuth *OIDCAuthenticator, devMode bool) *Authenticator {
	return &Authenticator{
		Pool:       pool,
		SessionMgr: sessionMgr,
		OIDCAuth:   oidcAuth,
		PATAuth:    NewPATAuthenticator(pool),
		APIKeyAuth: &APIKeyAuthenticator{DB: pool},
		DevMode:    devMode,
	}
}

// Middleware returns an HTTP middleware that authenticates the caller and
// stores the resulting Identity in the request context.
//
// Authentication precedence:
//  1. Authorization: Bearer <token>  →  PAT → session JWT (HMAC) → OIDC JWT
//  2. X-API-Key: <raw-key>           →  API key hash lookup
//  3. X-Organization-Slug: <slug>    →  development-only fallback (no real auth)
//
// If none succeed, the request is rejected with 401.
func Middleware(a *Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity *Identity

			// 1. Try Bearer token: PAT → session JWT → OIDC JWT.
			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") || strings.HasPrefix(authHeader, "bearer ") {
				rawToken := strings.TrimPrefix(authHeader, "Bearer ")
				rawToken = strings.TrimPrefix(rawToken, "bearer ")
				rawToken = strings.TrimSpace(rawToken)

				// 1a. Try personal access token.
				if strings.HasPrefix(rawToken, PATPrefix) && a.PATAuth != nil {
					result, err := a.PATAuth.Authenticate(r.Context(), rawToken)
					if err != nil {
						logger.Warn("PAT authentication failed", "error", err)
						respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid personal access token")
						return
					}

					identity = &Identity{
						Subject:          result.DisplayName,
						Email:            result.Email,
						Role:             result.Role,
						OrganizationSlug: result.OrganizationSlug,
						OrganizationID:   result.OrganizationID,
						UserID:           &result.UserID,
						Method:           MethodPAT,
					}

					logger.Debug("authenticated via PAT",
						"email", result.Email,
						"organization_slug", result.OrganizationSlug,
					)
				}

				// 1b. Try session JWT (HMAC-signed).
				if identity == nil && a.SessionMgr != nil {
					claims, err := a.SessionMgr.ValidateToken(rawToken)
					if err == nil {
						userID, _ := uuid.Parse(claims.UserID)
						organizationID, _ := uuid.Parse(claims.OrganizationID)
						identity = &Identity{
							Subject:          claims.Subject,
							Email:            claims.Email,
							Role:             claims.Role,
							OrganizationSlug: claims.OrganizationSlug,
							OrganizationID:   organizationID,
							UserID:           &userID,
							Method:           MethodSession,
						}

						logger.Debug("authenticated via session JWT",
							"sub", claims.Subject,
							"email", claims.Email,
							"organization_slug", claims.OrganizationSlug,
						)
					}
				}

				// 1c. Fall through to OIDC JWT if session validation failed.
				if identity == nil {
					if a.OIDCAuth == nil {
						logger.Warn("JWT presented but OIDC is not configured")
						respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid token")
						return
					}

					claims, err := a.OIDCAuth.Authenticate(r.Context(), authHeader)
					if err != nil {
						logger.Warn("OIDC authentication failed", "error", err)
						respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid token")
						return
					}

					identity = &Identity{
						Subject:          claims.Subject,
						Email:            claims.Email,
						Role:             claims.Role,
						OrganizationSlug: claims.OrganizationSlug,
						Method:           MethodOIDC,
					}

					logger.Debug("authenticated via OIDC",
						"sub", claims.Subject,
						"email", claims.Email,
						"organization_slug", claims.OrganizationSlug,
					)
				}
			}

			// 2. Try API key.
			if identity == nil {
				if rawKey := r.Header.Get("X-API-Key"); rawKey != "" {
					result, err := a.APIKeyAuth.Authenticate(r.Context(), rawKey)
					if err != nil {
						logger.Warn("API key authentication failed", "error", err)
						respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
						return
					}

					// Look up organization slug from organization ID.
					q := db.New(a.Pool)
					org, err := q.GetOrganization(r.Context(), result.OrganizationID)
					if err != nil {
						logger.Error("organization lookup for API key failed", "organization_id", result.OrganizationID, "error", err)
						respondErr(w, http.StatusUnauthorized, "unauthorized", "organization not found")
						return
					}

					identity = &Identity{
						Subject:          fmt.Sprintf("apikey:%s", result.KeyPrefix),
						Role:             result.Role,
						OrganizationSlug: org.Slug,
						OrganizationID:   org.ID,
						APIKeyID:         &result.APIKeyID,
						Method:           MethodAPIKey,
					}

					logger.Debug("authenticated via API key",
						"key_prefix", result.KeyPrefix,
						"organization_slug", org.Slug,
						"role", result.Role,
					)
				}
			}

			// 3. Dev-mode fallback: X-Organization-Slug header (no real authentication).
			if identity == nil && a.DevMode {
				if slug := r.Header.Get("X-Organization-Slug"); slug != "" {
					devID := uuid.Nil
					identity = &Identity{
						Subject:          "dev:anonymous",
						Email:            "dev@localhost",
						Role:             RoleOwner,
						OrganizationSlug: slug,
						OrganizationID:   devID,
						UserID:           &devID,
						Method:           MethodDev,
					}

					// Try to resolve a real owner so user-scoped operations
					// (e.g. PAT management) work in dev mode.
					if a.Pool != nil {
						q := db.New(a.Pool)
						if o, err := q.GetOrganizationBySlug(r.Context(), slug); err == nil {
							identity.OrganizationID = o.ID
							schema := fmt.Sprintf("org_%s", slug)
							var userID uuid.UUID
							var email, displayName string
							err := a.Pool.QueryRow(r.Context(),
								fmt.Sprintf("SELECT id, email, display_name FROM %s.members WHERE role = 'owner' AND is_active = true LIMIT 1", schema),
							).Scan(&userID, &email, &displayName)
							if err == nil {
								identity.UserID = &userID
								identity.Email = email
								identity.Subject = displayName
							}
						}
					}

					logger.Debug("dev-mode authentication", "organization_slug", slug)
				}
			}

			if identity == nil {
				respondErr(w, http.StatusUnauthorized, "unauthorized", "no valid authentication provided")
				return
			}

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondErr(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errStr,
		"message": message,
	})
}
