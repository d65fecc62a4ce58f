package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Organization is a row from the public.organizations table — the global
// registry of tenants, independent of any per-organization schema.
type Organization struct {
	ID        uuid.UUID
	Name      string
	Slug      string
	Plan      string
	Config    json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

const organizationColumns = `id, name, slug, plan, config, created_at, updated_at`

func scanOrganization(row interface {
	Scan(dest ...any) error
}) (Organization, error) {
	var o Organization
	err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.Plan, &o.Config, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// CreateOrganizationParams holds parameters for creating an organization record.
type CreateOrganizationParams struct {
	Name   string
	Slug   string
	Plan   string
	Config json.RawMessage
}

// CreateOrganization inserts a new row into public.organizations.
func (q *Queries) CreateOrganization(ctx context.Context, p CreateOrganizationParams) (Organization, error) {
	if p.Plan == "" {
		p.Plan = "free"
	}
	if p.Config == nil {
		p.Config = json.RawMessage(`{}`)
	}
	row := q.db.QueryRow(ctx, `
		INSERT INTO public.organizations (name, slug, plan, config)
		VALUES ($1, $2, $3, $4)
		RETURNING `+organizationColumns,
		p.Name, p.Slug, p.Plan, p.Config,
	)
	return scanOrganization(row)
}

// ListOrganizations returns every organization in the global registry. Used
// by login and PAT authentication to search across organization schemas
// when the caller has not yet resolved which organization they belong to.
func (q *Queries) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := q.db.Query(ctx, `SELECT `+organizationColumns+` FROM public.organizations ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetOrganizationBySlug looks up an organization by its slug.
func (q *Queries) GetOrganizationBySlug(ctx context.Context, slug string) (Organization, error) {
	row := q.db.QueryRow(ctx, `SELECT `+organizationColumns+` FROM public.organizations WHERE slug = $1`, slug)
	return scanOrganization(row)
}

// GetOrganization looks up an organization by ID.
func (q *Queries) GetOrganization(ctx context.Context, id uuid.UUID) (Organization, error) {
	row := q.db.QueryRow(ctx, `SELECT `+organizationColumns+` FROM public.organizations WHERE id = $1`, id)
	return scanOrganization(row)
}

// DeleteOrganization removes the global organization record. It does not
// touch the organization's schema; callers must drop that separately.
func (q *Queries) DeleteOrganization(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM public.organizations WHERE id = $1`, id)
	return err
}

// UpdateConfigParams holds parameters for replacing an organization's config.
type UpdateConfigParams struct {
	ID     uuid.UUID
	Config json.RawMessage
}

// UpdateConfig replaces the organization's JSONB config column wholesale.
// Callers that only want to change one top-level key (e.g. "security" or
// "limits") must read-modify-write via GetOrganization first.
func (q *Queries) UpdateConfig(ctx context.Context, p UpdateConfigParams) (Organization, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE public.organizations SET config = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+organizationColumns,
		p.ID, p.Config,
	)
	return scanOrganization(row)
}

// UpdatePlanParams holds parameters for changing an organization's plan.
type UpdatePlanParams struct {
	ID   uuid.UUID
	Plan string
}

// UpdatePlan changes the organization's subscription plan.
func (q *Queries) UpdatePlan(ctx context.Context, p UpdatePlanParams) (Organization, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE public.organizations SET plan = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+organizationColumns,
		p.ID, p.Plan,
	)
	return scanOrganization(row)
}
