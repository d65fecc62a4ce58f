package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// APIKey is a row from the public.api_keys table. Keys are global (keyed by
// hash) but scoped to a single organization, so authentication can resolve
// the organization without first knowing which schema to search.
type APIKey struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	KeyPrefix      string
	KeyHash        string
	Role           string
	Scopes         []string
	ExpiresAt      sql.NullTime
	LastUsedAt     *time.Time
	CreatedAt      time.Time
}

const apiKeyColumns = `id, organization_id, key_prefix, key_hash, role, scopes, expires_at, last_used_at, created_at`

func scanAPIKey(row interface{ Scan(dest ...any) error }) (APIKey, error) {
	var k APIKey
	err := row.Scan(&k.ID, &k.OrganizationID, &k.KeyPrefix, &k.KeyHash, &k.Role, &k.Scopes, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt)
	return k, err
}

// CreateAPIKeyParams holds parameters for creating an API key record.
type CreateAPIKeyParams struct {
	OrganizationID uuid.UUID
	KeyPrefix      string
	KeyHash        string
	Role           string
	Scopes         []string
	ExpiresAt      sql.NullTime
}

// CreateAPIKey inserts a new API key record.
func (q *Queries) CreateAPIKey(ctx context.Context, p CreateAPIKeyParams) (APIKey, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO public.api_keys (organization_id, key_prefix, key_hash, role, scopes, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+apiKeyColumns,
		p.OrganizationID, p.KeyPrefix, p.KeyHash, p.Role, p.Scopes, p.ExpiresAt,
	)
	return scanAPIKey(row)
}

// GetAPIKeyByHash looks up an API key by the SHA-256 hash of its raw value.
func (q *Queries) GetAPIKeyByHash(ctx context.Context, hash string) (APIKey, error) {
	row := q.db.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM public.api_keys WHERE key_hash = $1`, hash)
	return scanAPIKey(row)
}

// UpdateAPIKeyLastUsed stamps an API key's last_used_at to now.
func (q *Queries) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE public.api_keys SET last_used_at = now() WHERE id = $1`, id)
	return err
}

// DeleteAPIKey removes an API key record.
func (q *Queries) DeleteAPIKey(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM public.api_keys WHERE id = $1`, id)
	return err
}

// ListAPIKeysByOrganization returns every API key belonging to an organization.
func (q *Queries) ListAPIKeysByOrganization(ctx context.Context, orgID uuid.UUID) ([]APIKey, error) {
	rows, err := q.db.Query(ctx, `SELECT `+apiKeyColumns+` FROM public.api_keys WHERE organization_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
