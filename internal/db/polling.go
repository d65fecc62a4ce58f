package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PollingTrigger is a row from organization-schema polling_triggers: a
// per-trigger scheduled poll of a connector's source, with a cursor
// carried between polls and backoff state carried between failures (spec
// §4.4.2).
type PollingTrigger struct {
	ID           uuid.UUID
	WorkflowID   uuid.UUID
	ConnectionID *uuid.UUID
	AppID        string
	TriggerID    string
	Op           string
	IntervalSecs int32
	DedupeKey    *string
	Cursor       *string
	LastPollAt   *time.Time
	NextPollAt   time.Time
	BackoffCount int32
	LastStatus   *string
	IsActive     bool
	CreatedAt    time.Time
}

const pollingTriggerColumns = `id, workflow_id, connection_id, app_id, trigger_id, op, interval_secs, dedupe_key, cursor, last_poll_at, next_poll_at, backoff_count, last_status, is_active, created_at`

func scanPollingTrigger(row interface{ Scan(dest ...any) error }) (PollingTrigger, error) {
	var t PollingTrigger
	err := row.Scan(
		&t.ID, &t.WorkflowID, &t.ConnectionID, &t.AppID, &t.TriggerID, &t.Op, &t.IntervalSecs,
		&t.DedupeKey, &t.Cursor, &t.LastPollAt, &t.NextPollAt, &t.BackoffCount,
		&t.LastStatus, &t.IsActive, &t.CreatedAt,
	)
	return t, err
}

// CreatePollingTriggerParams holds the fields needed to register a polling
// trigger.
type CreatePollingTriggerParams struct {
	WorkflowID   uuid.UUID
	ConnectionID *uuid.UUID
	AppID        string
	TriggerID    string
	Op           string
	IntervalSecs int32
	DedupeKey    *string
}

// CreatePollingTrigger registers a new polling trigger, due immediately on
// its first tick.
func (q *Queries) CreatePollingTrigger(ctx context.Context, p CreatePollingTriggerParams) (PollingTrigger, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO polling_triggers (workflow_id, connection_id, app_id, trigger_id, op, interval_secs, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+pollingTriggerColumns,
		p.WorkflowID, p.ConnectionID, p.AppID, p.TriggerID, p.Op, p.IntervalSecs, p.DedupeKey,
	)
	return scanPollingTrigger(row)
}

// GetPollingTrigger fetches a polling trigger by id.
func (q *Queries) GetPollingTrigger(ctx context.Context, id uuid.UUID) (PollingTrigger, error) {
	row := q.db.QueryRow(ctx, `SELECT `+pollingTriggerColumns+` FROM polling_triggers WHERE id = $1`, id)
	return scanPollingTrigger(row)
}

// ListPollingTriggersByWorkflow lists a workflow's registered polling
// triggers.
func (q *Queries) ListPollingTriggersByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]PollingTrigger, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+pollingTriggerColumns+`
		FROM polling_triggers
		WHERE workflow_id = $1
		ORDER BY created_at DESC`,
		workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []PollingTrigger
	for rows.Next() {
		t, err := scanPollingTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// DeactivatePollingTrigger marks a polling trigger inactive so it is no
// longer selected by LockDuePollingTriggers.
func (q *Queries) DeactivatePollingTrigger(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE polling_triggers SET is_active = false WHERE id = $1`, id)
	return err
}

// LockDuePollingTriggers selects up to limit active triggers whose
// next_poll_at has passed, skipping rows already locked by a concurrent
// scheduler tick. Must be called inside a transaction; the caller holds
// the row locks until commit/rollback.
func (q *Queries) LockDuePollingTriggers(ctx context.Context, limit int32) ([]PollingTrigger, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+pollingTriggerColumns+`
		FROM polling_triggers
		WHERE is_active AND next_poll_at <= now()
		ORDER BY next_poll_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []PollingTrigger
	for rows.Next() {
		t, err := scanPollingTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// RecordPollResultParams holds the fields updated after one poll attempt.
type RecordPollResultParams struct {
	ID           uuid.UUID
	Cursor       *string
	NextPollAt   time.Time
	BackoffCount int32
	LastStatus   string
}

// RecordPollResult persists the outcome of one poll: the cursor only
// advances on success (callers pass the prior cursor back on failure), and
// next_poll_at/backoff_count reflect whatever scheduling decision the
// caller already computed (spec §4.4.2's exponential-backoff-with-jitter).
func (q *Queries) RecordPollResult(ctx context.Context, p RecordPollResultParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE polling_triggers
		SET cursor = $2, last_poll_at = now(), next_poll_at = $3, backoff_count = $4, last_status = $5
		WHERE id = $1`,
		p.ID, p.Cursor, p.NextPollAt, p.BackoffCount, p.LastStatus,
	)
	return err
}
