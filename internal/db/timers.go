package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WorkflowTimer is a row from organization-schema workflow_timers (spec
// §4.7: durable wait-timer resume, the counterpart to resume-token callback
// resume for time-based suspensions).
type WorkflowTimer struct {
	ID          uuid.UUID
	ExecutionID uuid.UUID
	ResumeAt    time.Time
	Payload     json.RawMessage
	Status      string
	Attempts    int32
	CreatedAt   time.Time
}

const workflowTimerColumns = `id, execution_id, resume_at, payload, status, attempts, created_at`

func scanWorkflowTimer(row interface{ Scan(dest ...any) error }) (WorkflowTimer, error) {
	var t WorkflowTimer
	err := row.Scan(&t.ID, &t.ExecutionID, &t.ResumeAt, &t.Payload, &t.Status, &t.Attempts, &t.CreatedAt)
	return t, err
}

// CreateWorkflowTimerParams holds the fields needed to schedule a timer.
type CreateWorkflowTimerParams struct {
	ExecutionID uuid.UUID
	ResumeAt    time.Time
	Payload     json.RawMessage
}

// CreateWorkflowTimer schedules a new pending timer.
func (q *Queries) CreateWorkflowTimer(ctx context.Context, p CreateWorkflowTimerParams) (WorkflowTimer, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO workflow_timers (execution_id, resume_at, payload)
		VALUES ($1, $2, $3)
		RETURNING `+workflowTimerColumns,
		p.ExecutionID, p.ResumeAt, p.Payload,
	)
	return scanWorkflowTimer(row)
}

// LockDueWorkflowTimers selects up to limit pending timers whose resume_at
// has passed, skipping rows already locked by a concurrent dispatcher
// (another supervisor process or a second tick overlapping a slow one).
// Must be called inside a transaction; the caller holds the row locks
// until commit/rollback.
func (q *Queries) LockDueWorkflowTimers(ctx context.Context, limit int32) ([]WorkflowTimer, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+workflowTimerColumns+`
		FROM workflow_timers
		WHERE status = 'pending' AND resume_at <= now()
		ORDER BY resume_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var timers []WorkflowTimer
	for rows.Next() {
		t, err := scanWorkflowTimer(rows)
		if err != nil {
			return nil, err
		}
		timers = append(timers, t)
	}
	return timers, rows.Err()
}

// MarkWorkflowTimerDispatched marks a timer dispatched after its execution
// has been successfully re-enqueued.
func (q *Queries) MarkWorkflowTimerDispatched(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `
		UPDATE workflow_timers SET status = 'dispatched' WHERE id = $1`,
		id,
	)
	return err
}

// MarkWorkflowTimerFailed marks a timer failed after exhausting dispatch
// attempts, recording the incremented attempt count.
func (q *Queries) MarkWorkflowTimerFailed(ctx context.Context, id uuid.UUID, attempts int32) error {
	_, err := q.db.Exec(ctx, `
		UPDATE workflow_timers SET status = 'failed', attempts = $2 WHERE id = $1`,
		id, attempts,
	)
	return err
}

// IncrementWorkflowTimerAttempts records a failed dispatch attempt on a
// timer that remains pending (will be retried on the next tick).
func (q *Queries) IncrementWorkflowTimerAttempts(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `
		UPDATE workflow_timers SET attempts = attempts + 1 WHERE id = $1`,
		id,
	)
	return err
}
