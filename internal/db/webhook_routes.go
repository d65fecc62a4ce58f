package db

import (
	"context"

	"github.com/google/uuid"
)

// CreateWebhookRoute records the public.webhook_routes entry that lets an
// inbound delivery resolve its organization from the webhook id alone,
// before any organization-scoped connection exists. It is addressed with
// the fully-qualified public. schema so it resolves from either a global
// pool connection or an organization-scoped one (whose search_path always
// falls back to public).
func (q *Queries) CreateWebhookRoute(ctx context.Context, webhookID string, organizationID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO public.webhook_routes (webhook_id, organization_id)
		VALUES ($1, $2)`,
		webhookID, organizationID,
	)
	return err
}

// GetWebhookRouteOrganization resolves the organization a webhook id was
// registered under.
func (q *Queries) GetWebhookRouteOrganization(ctx context.Context, webhookID string) (uuid.UUID, error) {
	var organizationID uuid.UUID
	err := q.db.QueryRow(ctx, `
		SELECT organization_id FROM public.webhook_routes WHERE webhook_id = $1`,
		webhookID,
	).Scan(&organizationID)
	return organizationID, err
}

// DeleteWebhookRoute removes a webhook id's route entry, called alongside
// deactivating its organization-schema trigger row.
func (q *Queries) DeleteWebhookRoute(ctx context.Context, webhookID string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM public.webhook_routes WHERE webhook_id = $1`, webhookID)
	return err
}
