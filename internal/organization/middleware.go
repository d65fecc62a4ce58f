package organization

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/orchestra/internal/db"
)

// Resolver identifies the organization for the current request, typically
// by inspecting a resolved auth principal or a development header.
type Resolver interface {
	Resolve(r *http.Request) (slug string, err error)
}

// Lookup retrieves organization metadata by slug.
type Lookup interface {
	LookupBySlug(ctx context.Context, slug string) (id uuid.UUID, name string, err error)
}

// sqlcLookup implements Lookup using the hand-written db.Queries layer.
type sqlcLookup struct {
	pool *pgxpool.Pool
}

func (l *sqlcLookup) LookupBySlug(ctx context.Context, slug string) (uuid.UUID, string, error) {
	q := db.New(l.pool)
	o, err := q.GetOrganizationBySlug(ctx, slug)
	if err != nil {
		return uuid.Nil, "", err
	}
	return o.ID, o.Name, nil
}

// HeaderResolver resolves the organization from the X-Organization-Slug
// header. Intended for local development; production traffic resolves the
// organization from the authenticated principal instead (see internal/auth).
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (string, error) {
	slug := r.Header.Get("X-Organization-Slug")
	if slug == "" {
		return "", errMissingHeader
	}
	return slug, nil
}

var errMissingHeader = &resolveError{"missing X-Organization-Slug header"}

type resolveError struct{ msg string }

func (e *resolveError) Error() string { return e.msg }

// Middleware resolves the organization, acquires a dedicated database
// connection, sets its search_path to the organization's schema, and
// stores both the organization info and the scoped connection in the
// request context. The connection is released after the handler returns.
func Middleware(pool *pgxpool.Pool, resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return MiddlewareWithLookup(pool, &sqlcLookup{pool: pool}, resolver, logger)
}

// MiddlewareWithLookup is like Middleware but accepts a custom Lookup.
func MiddlewareWithLookup(pool *pgxpool.Pool, lookup Lookup, resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slug, err := resolver.Resolve(r)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "unauthorized", "organization resolution failed")
				return
			}

			orgID, orgName, err := lookup.LookupBySlug(r.Context(), slug)
			if err != nil {
				logger.Warn("organization not found", "slug", slug, "error", err)
				respondError(w, http.StatusUnauthorized, "unauthorized", "unknown organization")
				return
			}

			conn, info, err := ScopeConnection(r.Context(), pool, slug, orgID, orgName)
			if err != nil {
				logger.Error("scoping organization connection", "slug", slug, "error", err)
				respondError(w, http.StatusInternalServerError, "internal", "database configuration error")
				return
			}
			defer conn.Release()

			ctx := NewContext(r.Context(), info)
			ctx = NewConnContext(ctx, conn)

			logger.Debug("organization resolved", "organization_id", orgID, "slug", slug, "schema", info.Schema)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ScopeConnection acquires a pool connection and sets its search_path to
// the organization's schema (falling back to public for global tables such
// as public.organizations or public.webhook_routes). Callers that resolve
// the organization by a means other than Middleware's Resolver — e.g. an
// inbound webhook delivery resolving it from public.webhook_routes by
// webhook id — use this to scope a connection the same way the middleware
// does. The caller is responsible for releasing the returned connection.
func ScopeConnection(ctx context.Context, pool *pgxpool.Pool, slug string, orgID uuid.UUID, orgName string) (*pgxpool.Conn, *Info, error) {
	schema := SchemaName(slug)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquiring database connection: %w", err)
	}

	searchPath := schema + ", public"
	if _, err := conn.Exec(ctx, "SELECT set_config('search_path', $1, false)", searchPath); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("setting search_path: %w", err)
	}

	return conn, &Info{ID: orgID, Name: orgName, Slug: slug, Schema: schema}, nil
}

func respondError(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errStr,
		"message": message,
	})
}
