package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WebhookTrigger is a row from organization-schema webhook_triggers: a
// registered binding from an inbound webhook path to a workflow (spec §3).
type WebhookTrigger struct {
	ID         uuid.UUID
	WebhookID  string
	WorkflowID uuid.UUID
	AppID      string
	TriggerID  string
	Secret     *string
	Provider   string
	IsActive   bool
	CreatedAt  time.Time
}

const webhookTriggerColumns = `id, webhook_id, workflow_id, app_id, trigger_id, secret, provider, is_active, created_at`

func scanWebhookTrigger(row interface{ Scan(dest ...any) error }) (WebhookTrigger, error) {
	var t WebhookTrigger
	err := row.Scan(&t.ID, &t.WebhookID, &t.WorkflowID, &t.AppID, &t.TriggerID, &t.Secret, &t.Provider, &t.IsActive, &t.CreatedAt)
	return t, err
}

// CreateWebhookTriggerParams holds the fields needed to register a webhook.
type CreateWebhookTriggerParams struct {
	WebhookID  string
	WorkflowID uuid.UUID
	AppID      string
	TriggerID  string
	Secret     *string
	Provider   string
}

// CreateWebhookTrigger registers a new webhook binding.
func (q *Queries) CreateWebhookTrigger(ctx context.Context, p CreateWebhookTriggerParams) (WebhookTrigger, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO webhook_triggers (webhook_id, workflow_id, app_id, trigger_id, secret, provider)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+webhookTriggerColumns,
		p.WebhookID, p.WorkflowID, p.AppID, p.TriggerID, p.Secret, p.Provider,
	)
	return scanWebhookTrigger(row)
}

// GetWebhookTriggerByWebhookID fetches an active webhook trigger by its
// public webhook id.
func (q *Queries) GetWebhookTriggerByWebhookID(ctx context.Context, webhookID string) (WebhookTrigger, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+webhookTriggerColumns+`
		FROM webhook_triggers
		WHERE webhook_id = $1 AND is_active`,
		webhookID,
	)
	return scanWebhookTrigger(row)
}

// GetWebhookTriggerByID fetches a webhook trigger by its row id.
func (q *Queries) GetWebhookTriggerByID(ctx context.Context, id uuid.UUID) (WebhookTrigger, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+webhookTriggerColumns+`
		FROM webhook_triggers
		WHERE id = $1`,
		id,
	)
	return scanWebhookTrigger(row)
}

// ListWebhookTriggersByWorkflow lists a workflow's registered webhooks.
func (q *Queries) ListWebhookTriggersByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]WebhookTrigger, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+webhookTriggerColumns+`
		FROM webhook_triggers
		WHERE workflow_id = $1
		ORDER BY created_at DESC`,
		workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []WebhookTrigger
	for rows.Next() {
		t, err := scanWebhookTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// DeactivateWebhookTrigger marks a webhook binding inactive.
func (q *Queries) DeactivateWebhookTrigger(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE webhook_triggers SET is_active = false WHERE id = $1`, id)
	return err
}

// WebhookEvent is a row from organization-schema webhook_events: a log
// entry for one received webhook delivery.
type WebhookEvent struct {
	ID          uuid.UUID
	WebhookID   string
	DedupeToken string
	ExecutionID *uuid.UUID
	Error       *string
	ReceivedAt  time.Time
}

const webhookEventColumns = `id, webhook_id, dedupe_token, execution_id, error, received_at`

func scanWebhookEvent(row interface{ Scan(dest ...any) error }) (WebhookEvent, error) {
	var e WebhookEvent
	err := row.Scan(&e.ID, &e.WebhookID, &e.DedupeToken, &e.ExecutionID, &e.Error, &e.ReceivedAt)
	return e, err
}

// RecordWebhookEventParams holds the fields needed to log a delivery.
type RecordWebhookEventParams struct {
	WebhookID   string
	DedupeToken string
	ExecutionID *uuid.UUID
	Error       *string
}

// RecordWebhookEvent logs one inbound webhook delivery, whether or not it
// resulted in an enqueued execution.
func (q *Queries) RecordWebhookEvent(ctx context.Context, p RecordWebhookEventParams) (WebhookEvent, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO webhook_events (webhook_id, dedupe_token, execution_id, error)
		VALUES ($1, $2, $3, $4)
		RETURNING `+webhookEventColumns,
		p.WebhookID, p.DedupeToken, p.ExecutionID, p.Error,
	)
	return scanWebhookEvent(row)
}

// ListWebhookEvents lists the most recent delivery log entries for a
// webhook, most recent first.
func (q *Queries) ListWebhookEvents(ctx context.Context, webhookID string, limit int32) ([]WebhookEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+webhookEventColumns+`
		FROM webhook_events
		WHERE webhook_id = $1
		ORDER BY received_at DESC
		LIMIT $2`,
		webhookID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// InsertDedupeToken attempts to record a dedupe token for a trigger,
// returning false without error if the token already exists (ON CONFLICT
// DO NOTHING against the table's composite primary key).
func (q *Queries) InsertDedupeToken(ctx context.Context, triggerID, token string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO webhook_dedupe_tokens (trigger_id, token)
		VALUES ($1, $2)
		ON CONFLICT (trigger_id, token) DO NOTHING`,
		triggerID, token,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CountDedupeTokens returns how many dedupe tokens are currently stored
// for a trigger.
func (q *Queries) CountDedupeTokens(ctx context.Context, triggerID string) (int, error) {
	var count int
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM webhook_dedupe_tokens WHERE trigger_id = $1`, triggerID).Scan(&count)
	return count, err
}

// EvictOldestDedupeTokens deletes the oldest dedupe tokens for a trigger
// beyond the given count, implementing the FIFO eviction spec §4.4
// requires to bound the per-webhook dedupe window.
func (q *Queries) EvictOldestDedupeTokens(ctx context.Context, triggerID string, keep int) error {
	_, err := q.db.Exec(ctx, `
		DELETE FROM webhook_dedupe_tokens
		WHERE trigger_id = $1
		AND token IN (
			SELECT token FROM webhook_dedupe_tokens
			WHERE trigger_id = $1
			ORDER BY created_at DESC
			OFFSET $2
		)`,
		triggerID, keep,
	)
	return err
}
