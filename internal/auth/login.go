package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/wisbric/orchestra/internal/db"
	"github.com/wisbric/orchestra/internal/organization"
)

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token string   `json:"token"`
	User  UserInfo `json:"user"`
}

// UserInfo is the public member information returned in auth responses.
type UserInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// AuthConfigResponse tells the frontend which auth methods are available.
type AuthConfigResponse struct {
	OIDCEnabled  bool   `json:"oidc_enabled"`
	OIDCName     string `json:"oidc_name"`
	LocalEnabled bool   `json:"local_enabled"`
}

// LoginHandler handles local email/password login and auth discovery.
type LoginHandler struct {
	sessionMgr  *SessionManager
	pool        *pgxpool.Pool
	logger      *slog.Logger
	oidcEnabled bool
	rateLimiter *RateLimiter
}

// NewLoginHandler creates a new login handler. rl may be nil, in which case
// login attempts are not rate limited (used in tests).
func NewLoginHandler(sm *SessionManager, pool *pgxpool.Pool, logger *slog.Logger, oidcEnabled bool, rl *RateLimiter) *LoginHandler {
	return &LoginHandler{
		sessionMgr:  sm,
		pool:        pool,
		logger:      logger,
		oidcEnabled: oidcEnabled,
		rateLimiter: rl,
	}
}

// HandleLogin authenticates a member with email/password and returns a
// session JWT.
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	if req.Email == "" || req.Password == "" {
		respondErr(w, http.StatusBadRequest, "bad_request", "email and password are required")
		return
	}

	ip := loginClientIP(r)
	if h.rateLimiter != nil {
		result, err := h.rateLimiter.Check(r.Context(), ip)
		if err != nil {
			h.logger.Error("login: rate limit check", "error", err)
		} else if !result.Allowed {
			respondErr(w, http.StatusTooManyRequests, "rate_limited", "too many login attempts, try again later")
			return
		}
	}

	// Look up the member across all organization schemas.
	member, orgSlug, orgID, err := h.findMemberByEmail(r.Context(), req.Email)
	if err != nil {
		h.recordFailedAttempt(r.Context(), ip)
		h.logger.Warn("login: member lookup failed", "email", req.Email, "error", err)
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	// Verify password. bcrypt is retained here pending the migration of
	// password hashing to the scrypt-based envelope in internal/crypto.
	if member.PasswordHash == nil || *member.PasswordHash == "" {
		h.recordFailedAttempt(r.Context(), ip)
		h.logger.Warn("login: member has no password set", "email", req.Email)
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*member.PasswordHash), []byte(req.Password)); err != nil {
		h.recordFailedAttempt(r.Context(), ip)
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	if h.rateLimiter != nil {
		if err := h.rateLimiter.Reset(r.Context(), ip); err != nil {
			h.logger.Warn("login: resetting rate limit", "error", err)
		}
	}

	// Issue session token.
	token, err := h.sessionMgr.IssueToken(SessionClaims{
		Subject:          member.DisplayName,
		Email:            member.Email,
		Role:             member.Role,
		OrganizationSlug: orgSlug,
		OrganizationID:   orgID,
		UserID:           member.ID.String(),
		Method:           "local",
	})
	if err != nil {
		h.logger.Error("login: issuing token", "error", err)
		respondErr(w, http.StatusInternalServerError, "internal", "failed to issue token")
		return
	}

	respondJSON(w, http.StatusOK, LoginResponse{
		Token: token,
		User: UserInfo{
			ID:          member.ID.String(),
			Email:       member.Email,
			DisplayName: member.DisplayName,
			Role:        member.Role,
		},
	})
}

// HandleAuthConfig returns the available authentication methods.
func (h *LoginHandler) HandleAuthConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, AuthConfigResponse{
		OIDCEnabled:  h.oidcEnabled,
		OIDCName:     "Sign in with SSO",
		LocalEnabled: true,
	})
}

// HandleMe returns the current member's info from a session token.
func (h *LoginHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) < 8 {
		respondErr(w, http.StatusUnauthorized, "unauthorized", "no token provided")
		return
	}

	token := authHeader[7:] // strip "Bearer "
	claims, err := h.sessionMgr.ValidateToken(token)
	if err != nil {
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":                claims.UserID,
		"email":             claims.Email,
		"display_name":      claims.Subject,
		"role":              claims.Role,
		"organization_slug": claims.OrganizationSlug,
	})
}

// HandleLogout is a no-op endpoint for future server-side session revocation.
func (h *LoginHandler) HandleLogout(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *LoginHandler) recordFailedAttempt(ctx context.Context, ip string) {
	if h.rateLimiter == nil {
		return
	}
	if err := h.rateLimiter.Record(ctx, ip); err != nil {
		h.logger.Warn("login: recording rate limit attempt", "error", err)
	}
}

// loginClientIP extracts the client IP, preferring X-Forwarded-For over
// RemoteAddr since the service typically sits behind a load balancer.
func loginClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// findMemberByEmail searches across all organization schemas for a member
// with the given email.
func (h *LoginHandler) findMemberByEmail(ctx context.Context, email string) (*db.Member, string, string, error) {
	q := db.New(h.pool)
	orgs, err := q.ListOrganizations(ctx)
	if err != nil {
		return nil, "", "", fmt.Errorf("listing organizations: %w", err)
	}

	for _, o := range orgs {
		conn, err := h.pool.Acquire(ctx)
		if err != nil {
			return nil, "", "", fmt.Errorf("acquiring connection: %w", err)
		}

		schema := organization.SchemaName(o.Slug)
		_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema))
		if err != nil {
			conn.Release()
			continue
		}

		mq := db.New(conn)
		member, err := mq.GetMemberByEmail(ctx, email)
		conn.Release()

		if err == nil {
			return &member, o.Slug, o.ID.String(), nil
		}
	}

	return nil, "", "", fmt.Errorf("member not found")
}
