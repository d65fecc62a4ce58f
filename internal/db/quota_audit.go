package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QuotaAuditEntry is a row from public.organization_execution_quota_audit —
// an append-only record of every admission decision, per spec §4.8.
type QuotaAuditEntry struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	EventType      string
	LimitValue     int32
	ObservedValue  int32
	WindowCount    *int32
	WindowStart    *time.Time
	Metadata       json.RawMessage
	CreatedAt      time.Time
}

const quotaAuditColumns = `id, organization_id, event_type, limit_value, observed_value, window_count, window_start, metadata, created_at`

func scanQuotaAuditEntry(row interface{ Scan(dest ...any) error }) (QuotaAuditEntry, error) {
	var e QuotaAuditEntry
	err := row.Scan(&e.ID, &e.OrganizationID, &e.EventType, &e.LimitValue, &e.ObservedValue, &e.WindowCount, &e.WindowStart, &e.Metadata, &e.CreatedAt)
	return e, err
}

// CreateQuotaAuditEntryParams holds parameters for appending a quota audit row.
type CreateQuotaAuditEntryParams struct {
	OrganizationID uuid.UUID
	EventType      string
	LimitValue     int32
	ObservedValue  int32
	WindowCount    *int32
	WindowStart    *time.Time
	Metadata       json.RawMessage
}

// CreateQuotaAuditEntry appends an admission-decision audit row. These rows
// are never updated or deleted.
func (q *Queries) CreateQuotaAuditEntry(ctx context.Context, p CreateQuotaAuditEntryParams) (QuotaAuditEntry, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO public.organization_execution_quota_audit
			(organization_id, event_type, limit_value, observed_value, window_count, window_start, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+quotaAuditColumns,
		p.OrganizationID, p.EventType, p.LimitValue, p.ObservedValue, p.WindowCount, p.WindowStart, p.Metadata,
	)
	return scanQuotaAuditEntry(row)
}

// ListQuotaAuditByOrganization returns quota audit rows for an organization,
// most recent first.
func (q *Queries) ListQuotaAuditByOrganization(ctx context.Context, orgID uuid.UUID, limit int32) ([]QuotaAuditEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+quotaAuditColumns+`
		FROM public.organization_execution_quota_audit
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		orgID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QuotaAuditEntry
	for rows.Next() {
		e, err := scanQuotaAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
