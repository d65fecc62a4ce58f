package db

import (
	"context"

	"github.com/google/uuid"
)

// CreateResumeRoute records the public.resume_routes entry that lets an
// inbound resume callback resolve its organization from the token hash
// alone, before any organization-scoped connection exists.
func (q *Queries) CreateResumeRoute(ctx context.Context, tokenHash []byte, organizationID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO public.resume_routes (token_hash, organization_id)
		VALUES ($1, $2)`,
		tokenHash, organizationID,
	)
	return err
}

// GetResumeRouteOrganization resolves the organization a resume token hash
// was issued under.
func (q *Queries) GetResumeRouteOrganization(ctx context.Context, tokenHash []byte) (uuid.UUID, error) {
	var organizationID uuid.UUID
	err := q.db.QueryRow(ctx, `
		SELECT organization_id FROM public.resume_routes WHERE token_hash = $1`,
		tokenHash,
	).Scan(&organizationID)
	return organizationID, err
}

// DeleteResumeRoute removes a resume token's route entry once its token is
// consumed or expired, mirroring the organization-schema row's lifecycle.
func (q *Queries) DeleteResumeRoute(ctx context.Context, tokenHash []byte) error {
	_, err := q.db.Exec(ctx, `DELETE FROM public.resume_routes WHERE token_hash = $1`, tokenHash)
	return err
}
