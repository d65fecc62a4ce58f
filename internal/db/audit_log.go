package db

import (
	"context"
	"encoding/json"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// AuditLogEntry is a row from an organization schema's audit_log table.
type AuditLogEntry struct {
	ID         uuid.UUID
	UserID     pgtype.UUID
	APIKeyID   pgtype.UUID
	Action     string
	Resource   string
	ResourceID pgtype.UUID
	Detail     json.RawMessage
	IPAddress  *netip.Addr
	UserAgent  *string
	CreatedAt  time.Time
}

const auditLogColumns = `id, user_id, api_key_id, action, resource, resource_id, detail, ip_address, user_agent, created_at`

func scanAuditLogEntry(row interface{ Scan(dest ...any) error }) (AuditLogEntry, error) {
	var e AuditLogEntry
	var ip *string
	err := row.Scan(&e.ID, &e.UserID, &e.APIKeyID, &e.Action, &e.Resource, &e.ResourceID, &e.Detail, &ip, &e.UserAgent, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	if ip != nil {
		if addr, parseErr := netip.ParseAddr(*ip); parseErr == nil {
			e.IPAddress = &addr
		}
	}
	return e, nil
}

// CreateAuditLogEntryParams holds parameters for inserting an audit log row.
type CreateAuditLogEntryParams struct {
	UserID     pgtype.UUID
	ApiKeyID   pgtype.UUID
	Action     string
	Resource   string
	ResourceID pgtype.UUID
	Detail     json.RawMessage
	IpAddress  *netip.Addr
	UserAgent  *string
}

// CreateAuditLogEntry inserts a new audit log row into the current
// organization schema.
func (q *Queries) CreateAuditLogEntry(ctx context.Context, p CreateAuditLogEntryParams) (AuditLogEntry, error) {
	var ip *string
	if p.IpAddress != nil {
		s := p.IpAddress.String()
		ip = &s
	}
	row := q.db.QueryRow(ctx, `
		INSERT INTO audit_log (user_id, api_key_id, action, resource, resource_id, detail, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+auditLogColumns,
		p.UserID, p.ApiKeyID, p.Action, p.Resource, p.ResourceID, p.Detail, ip, p.UserAgent,
	)
	return scanAuditLogEntry(row)
}

// ListAuditLogParams holds parameters for paginated audit log listing.
type ListAuditLogParams struct {
	Limit  int32
	Offset int32
}

// ListAuditLog returns audit log entries for the current organization schema,
// most recent first.
func (q *Queries) ListAuditLog(ctx context.Context, p ListAuditLogParams) ([]AuditLogEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+auditLogColumns+` FROM audit_log
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`,
		p.Limit, p.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditLogEntry
	for rows.Next() {
		e, err := scanAuditLogEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
