package organization

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/orchestra/internal/db"
	"github.com/wisbric/orchestra/internal/platform"
)

// slugPattern restricts organization slugs to safe identifiers for schema names.
var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,62}$`)

// Provisioner handles creating and destroying organization schemas.
type Provisioner struct {
	DB            *pgxpool.Pool
	DatabaseURL   string
	MigrationsDir string // path to organization schema migration files
	Logger        *slog.Logger
}

// Provision creates a new organization: inserts the global record, creates
// its PostgreSQL schema, and runs the organization schema migrations
// against it.
func (p *Provisioner) Provision(ctx context.Context, name, slug, plan string, config json.RawMessage) (*Info, error) {
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("invalid organization slug %q: must match %s", slug, slugPattern.String())
	}

	q := db.New(p.DB)
	o, err := q.CreateOrganization(ctx, db.CreateOrganizationParams{
		Name:   name,
		Slug:   slug,
		Plan:   plan,
		Config: config,
	})
	if err != nil {
		return nil, fmt.Errorf("inserting organization record: %w", err)
	}

	schema := SchemaName(slug)

	// Slug is validated above, so interpolating it into the schema DDL is safe.
	if _, err := p.DB.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		_ = q.DeleteOrganization(ctx, o.ID)
		return nil, fmt.Errorf("creating schema %s: %w", schema, err)
	}

	orgURL, err := withSearchPath(p.DatabaseURL, schema)
	if err != nil {
		return nil, fmt.Errorf("building organization database URL: %w", err)
	}

	if err := platform.RunOrganizationMigrations(orgURL, p.MigrationsDir); err != nil {
		_, _ = p.DB.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
		_ = q.DeleteOrganization(ctx, o.ID)
		return nil, fmt.Errorf("running organization migrations: %w", err)
	}

	p.Logger.Info("organization provisioned", "organization_id", o.ID, "slug", slug, "schema", schema)

	return &Info{ID: o.ID, Name: o.Name, Slug: o.Slug, Schema: schema}, nil
}

// Deprovision drops the organization's schema and removes its global record.
// Irreversible; callers are expected to have already confirmed the operation.
func (p *Provisioner) Deprovision(ctx context.Context, slug string) error {
	schema := SchemaName(slug)

	if _, err := p.DB.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
		return fmt.Errorf("dropping schema %s: %w", schema, err)
	}

	q := db.New(p.DB)
	o, err := q.GetOrganizationBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("looking up organization %q: %w", slug, err)
	}

	if err := q.DeleteOrganization(ctx, o.ID); err != nil {
		return fmt.Errorf("deleting organization record: %w", err)
	}

	p.Logger.Info("organization deprovisioned", "slug", slug, "schema", schema)
	return nil
}

// withSearchPath appends search_path=<schema> to a PostgreSQL connection URL.
func withSearchPath(databaseURL, schema string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing database URL: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
