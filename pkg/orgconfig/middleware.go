package orgconfig

import (
	"net"
	"net/http"
	"strings"

	"github.com/wisbric/orchestra/internal/auth"
	"github.com/wisbric/orchestra/internal/db"
	"github.com/wisbric/orchestra/internal/organization"
)

// EnforceIPAllowlist rejects requests from a source IP outside the resolved
// organization's AllowedIPRanges. Mounted after organization.Middleware so
// Settings can be read from request context.
func EnforceIPAllowlist(lookup func(*http.Request) Settings) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := lookup(r)
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			ip := net.ParseIP(host)
			if ip != nil && !s.AllowsIP(ip) {
				respondForbidden(w, "source address not permitted for this organization")
				return
			}
			next.ServeHTTP(w, r.WithContext(r.Context()))
		})
	}
}

// EnforceDomainAllowlist rejects authentication for identities whose email
// domain is outside the organization's AllowedDomains, checked once the
// identity is resolved but before the request reaches a handler.
func EnforceDomainAllowlist(lookup func(*http.Request) Settings) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := auth.FromContext(r.Context())
			if id == nil || id.Email == "" {
				next.ServeHTTP(w, r)
				return
			}
			s := lookup(r)
			if !s.AllowsEmailDomain(id.Email) {
				respondForbidden(w, "email domain not permitted for this organization")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// FromRequestContext reads the organization resolved by
// organization.Middleware, fetches its config row over the request-scoped
// connection, and extracts its security Settings. Intended as the lookup
// func passed to EnforceIPAllowlist/EnforceDomainAllowlist; both must be
// mounted after organization.Middleware.
func FromRequestContext(r *http.Request) Settings {
	info := organization.FromContext(r.Context())
	conn := organization.ConnFromContext(r.Context())
	if info == nil || conn == nil {
		return Settings{}
	}
	root := db.New(conn)
	org, err := root.GetOrganization(r.Context(), info.ID)
	if err != nil {
		return Settings{}
	}
	return FromConfig(org.Config)
}

func respondForbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"forbidden","message":"` + escapeJSON(message) + `"}`))
}

func escapeJSON(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
