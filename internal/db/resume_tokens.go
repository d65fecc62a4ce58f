package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ResumeToken is a row from organization-schema resume_tokens (spec §4.7).
type ResumeToken struct {
	ID          uuid.UUID
	TokenHash   []byte
	ExecutionID uuid.UUID
	NodeID      string
	WorkflowID  uuid.UUID
	ResumeState json.RawMessage
	InitialData json.RawMessage
	TriggerType *string
	Metadata    json.RawMessage
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
	CreatedAt   time.Time
}

const resumeTokenColumns = `id, token_hash, execution_id, node_id, workflow_id, resume_state, initial_data, trigger_type, metadata, expires_at, consumed_at, created_at`

func scanResumeToken(row interface{ Scan(dest ...any) error }) (ResumeToken, error) {
	var t ResumeToken
	err := row.Scan(&t.ID, &t.TokenHash, &t.ExecutionID, &t.NodeID, &t.WorkflowID, &t.ResumeState, &t.InitialData, &t.TriggerType, &t.Metadata, &t.ExpiresAt, &t.ConsumedAt, &t.CreatedAt)
	return t, err
}

// CreateResumeTokenParams holds the fields needed to issue a resume token.
type CreateResumeTokenParams struct {
	TokenHash   []byte
	ExecutionID uuid.UUID
	NodeID      string
	WorkflowID  uuid.UUID
	ResumeState json.RawMessage
	InitialData json.RawMessage
	TriggerType *string
	Metadata    json.RawMessage
	ExpiresAt   time.Time
}

// CreateResumeToken inserts a new resume token row.
func (q *Queries) CreateResumeToken(ctx context.Context, p CreateResumeTokenParams) (ResumeToken, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO resume_tokens
			(token_hash, execution_id, node_id, workflow_id, resume_state, initial_data, trigger_type, metadata, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+resumeTokenColumns,
		p.TokenHash, p.ExecutionID, p.NodeID, p.WorkflowID, p.ResumeState, p.InitialData, p.TriggerType, p.Metadata, p.ExpiresAt,
	)
	return scanResumeToken(row)
}

// ConsumeResumeToken atomically marks a token consumed if it is unconsumed
// and unexpired, returning the row. Returns pgx.ErrNoRows if the token is
// unknown, expired, or already consumed (spec §4.7: "under a conditional
// update").
func (q *Queries) ConsumeResumeToken(ctx context.Context, tokenHash []byte) (ResumeToken, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE resume_tokens
		SET consumed_at = now()
		WHERE token_hash = $1 AND consumed_at IS NULL AND expires_at > now()
		RETURNING `+resumeTokenColumns,
		tokenHash,
	)
	return scanResumeToken(row)
}
