package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExecutionCounters is a row from public.organization_execution_counters —
// the row-locked admission state for one organization.
type ExecutionCounters struct {
	OrganizationID     uuid.UUID
	RunningExecutions  int32
	ExecutionsInWindow int32
	WindowStart        time.Time
	UpdatedAt          time.Time
}

const executionCountersColumns = `organization_id, running_executions, executions_in_window, window_start, updated_at`

func scanExecutionCounters(row interface{ Scan(dest ...any) error }) (ExecutionCounters, error) {
	var c ExecutionCounters
	err := row.Scan(&c.OrganizationID, &c.RunningExecutions, &c.ExecutionsInWindow, &c.WindowStart, &c.UpdatedAt)
	return c, err
}

// LockExecutionCounters selects (creating if absent) and row-locks an
// organization's admission counters. Must be called inside a transaction;
// the caller holds the lock until the transaction commits or rolls back.
func (q *Queries) LockExecutionCounters(ctx context.Context, orgID uuid.UUID) (ExecutionCounters, error) {
	_, err := q.db.Exec(ctx, `
		INSERT INTO public.organization_execution_counters (organization_id)
		VALUES ($1)
		ON CONFLICT (organization_id) DO NOTHING`,
		orgID,
	)
	if err != nil {
		return ExecutionCounters{}, err
	}

	row := q.db.QueryRow(ctx, `
		SELECT `+executionCountersColumns+`
		FROM public.organization_execution_counters
		WHERE organization_id = $1
		FOR UPDATE`,
		orgID,
	)
	return scanExecutionCounters(row)
}

// SetExecutionCounters persists the (possibly window-rolled) counters after
// an admission decision. Called within the same transaction as
// LockExecutionCounters so the row lock is still held.
func (q *Queries) SetExecutionCounters(ctx context.Context, c ExecutionCounters) error {
	_, err := q.db.Exec(ctx, `
		UPDATE public.organization_execution_counters
		SET running_executions = $2, executions_in_window = $3, window_start = $4, updated_at = now()
		WHERE organization_id = $1`,
		c.OrganizationID, c.RunningExecutions, c.ExecutionsInWindow, c.WindowStart,
	)
	return err
}

// DecrementRunningExecutions decrements an organization's running-execution
// count on completion or cancellation. Floored at zero defensively — this
// should never go negative if Admit/Release are paired correctly.
func (q *Queries) DecrementRunningExecutions(ctx context.Context, orgID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `
		UPDATE public.organization_execution_counters
		SET running_executions = GREATEST(running_executions - 1, 0), updated_at = now()
		WHERE organization_id = $1`,
		orgID,
	)
	return err
}
