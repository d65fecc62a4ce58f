package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Member is a row from an organization schema's members table — a user
// account scoped to that organization with an RBAC role.
type Member struct {
	ID           uuid.UUID
	ExternalID   string
	Email        string
	DisplayName  string
	Role         string
	PasswordHash *string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const memberColumns = `id, external_id, email, display_name, role, password_hash, is_active, created_at, updated_at`

func scanMember(row interface{ Scan(dest ...any) error }) (Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.ExternalID, &m.Email, &m.DisplayName, &m.Role, &m.PasswordHash, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// CreateMemberParams holds parameters for creating a member.
type CreateMemberParams struct {
	ExternalID   string
	Email        string
	DisplayName  string
	Role         string
	PasswordHash *string
}

// CreateMember inserts a new member into the current organization schema.
func (q *Queries) CreateMember(ctx context.Context, p CreateMemberParams) (Member, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO members (external_id, email, display_name, role, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+memberColumns,
		p.ExternalID, p.Email, p.DisplayName, p.Role, p.PasswordHash,
	)
	return scanMember(row)
}

// GetMemberByExternalID looks up a member by its external (OIDC subject) ID.
func (q *Queries) GetMemberByExternalID(ctx context.Context, externalID string) (Member, error) {
	row := q.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE external_id = $1 AND is_active = true`, externalID)
	return scanMember(row)
}

// GetMemberByEmail looks up an active member by email.
func (q *Queries) GetMemberByEmail(ctx context.Context, email string) (Member, error) {
	row := q.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE email = $1 AND is_active = true`, email)
	return scanMember(row)
}

// GetMember looks up a member by ID.
func (q *Queries) GetMember(ctx context.Context, id uuid.UUID) (Member, error) {
	row := q.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
	return scanMember(row)
}

// ListMembers returns every active member of the current organization
// schema, ordered by display name.
func (q *Queries) ListMembers(ctx context.Context) ([]Member, error) {
	rows, err := q.db.Query(ctx, `SELECT `+memberColumns+` FROM members WHERE is_active = true ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning member row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating member rows: %w", err)
	}
	return out, nil
}

// CountOwners returns the number of active owners in the current organization.
// Used to enforce the "at least one owner" invariant before a demotion.
func (q *Queries) CountOwners(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM members WHERE role = 'owner' AND is_active = true`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting owners: %w", err)
	}
	return n, nil
}

// UpdateMemberRoleParams holds parameters for changing a member's role.
type UpdateMemberRoleParams struct {
	ID   uuid.UUID
	Role string
}

// UpdateMemberRole changes a member's RBAC role.
func (q *Queries) UpdateMemberRole(ctx context.Context, p UpdateMemberRoleParams) (Member, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE members SET role = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+memberColumns,
		p.ID, p.Role,
	)
	return scanMember(row)
}

// DeactivateMember soft-deletes a member.
func (q *Queries) DeactivateMember(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE members SET is_active = false, updated_at = now() WHERE id = $1`, id)
	return err
}
