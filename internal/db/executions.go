package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Execution is a row from organization-schema executions: one run of a
// workflow version, from admission through terminal status (spec §4.6).
type Execution struct {
	ID              uuid.UUID
	WorkflowID      uuid.UUID
	VersionID       *uuid.UUID
	UserID          *uuid.UUID
	Status          string
	TriggerType     string
	TriggerData     json.RawMessage
	InitialData     json.RawMessage
	NodeResults     json.RawMessage
	ErrorDetails    json.RawMessage
	Cost            float64
	APICallsMade    int32
	TokensUsed      int32
	ResumeParentID  *uuid.UUID
	ReplaySourceID  *uuid.UUID
	ReplayMode      *string
	ReplayNodeID    *string
	CancelRequested bool
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
}

const executionColumns = `id, workflow_id, version_id, user_id, status, trigger_type, trigger_data,
	initial_data, node_results, error_details, cost, api_calls_made, tokens_used,
	resume_parent_id, replay_source_id, replay_mode, replay_node_id, cancel_requested,
	started_at, completed_at, created_at`

func scanExecution(row interface{ Scan(dest ...any) error }) (Execution, error) {
	var e Execution
	err := row.Scan(
		&e.ID, &e.WorkflowID, &e.VersionID, &e.UserID, &e.Status, &e.TriggerType, &e.TriggerData,
		&e.InitialData, &e.NodeResults, &e.ErrorDetails, &e.Cost, &e.APICallsMade, &e.TokensUsed,
		&e.ResumeParentID, &e.ReplaySourceID, &e.ReplayMode, &e.ReplayNodeID, &e.CancelRequested,
		&e.StartedAt, &e.CompletedAt, &e.CreatedAt,
	)
	return e, err
}

// CreateExecutionParams holds the fields needed to enqueue a new execution.
type CreateExecutionParams struct {
	WorkflowID     uuid.UUID
	VersionID      *uuid.UUID
	UserID         *uuid.UUID
	TriggerType    string
	TriggerData    json.RawMessage
	InitialData    json.RawMessage
	ResumeParentID *uuid.UUID
	ReplaySourceID *uuid.UUID
	ReplayMode     *string
	ReplayNodeID   *string
}

// CreateExecution inserts a new execution row in status=queued. id is
// caller-supplied (spec §5: "for a given dedupeToken, at most one execution
// is enqueued; retries/reenqueues reuse the same executionId") so the
// executor and the enqueuing caller agree on identity before the row exists.
func (q *Queries) CreateExecution(ctx context.Context, id uuid.UUID, p CreateExecutionParams) (Execution, error) {
	if p.TriggerData == nil {
		p.TriggerData = json.RawMessage(`{}`)
	}
	if p.InitialData == nil {
		p.InitialData = json.RawMessage(`{}`)
	}
	row := q.db.QueryRow(ctx, `
		INSERT INTO executions (id, workflow_id, version_id, user_id, trigger_type, trigger_data,
			initial_data, resume_parent_id, replay_source_id, replay_mode, replay_node_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET id = executions.id
		RETURNING `+executionColumns,
		id, p.WorkflowID, p.VersionID, p.UserID, p.TriggerType, p.TriggerData,
		p.InitialData, p.ResumeParentID, p.ReplaySourceID, p.ReplayMode, p.ReplayNodeID,
	)
	return scanExecution(row)
}

// GetExecution fetches an execution by id.
func (q *Queries) GetExecution(ctx context.Context, id uuid.UUID) (Execution, error) {
	row := q.db.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	return scanExecution(row)
}

// LockExecution fetches an execution for update, for the executor to
// re-check cancel-requested/status before resuming work on dequeue.
func (q *Queries) LockExecution(ctx context.Context, id uuid.UUID) (Execution, error) {
	row := q.db.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1 FOR UPDATE`, id)
	return scanExecution(row)
}

// ListExecutionsByWorkflow lists a workflow's executions, newest first.
func (q *Queries) ListExecutionsByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]Execution, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		WHERE workflow_id = $1
		ORDER BY created_at DESC`,
		workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// MarkExecutionRunning transitions an execution to running, stamping
// startedAt the first time this happens (idempotent across redeliveries).
func (q *Queries) MarkExecutionRunning(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `
		UPDATE executions
		SET status = 'running', started_at = COALESCE(started_at, now())
		WHERE id = $1`,
		id,
	)
	return err
}

// MarkExecutionWaiting transitions an execution to waiting (suspended on a
// resume token or timer) and persists the node results accumulated so far.
func (q *Queries) MarkExecutionWaiting(ctx context.Context, id uuid.UUID, nodeResults json.RawMessage) error {
	_, err := q.db.Exec(ctx, `
		UPDATE executions SET status = 'waiting', node_results = $2 WHERE id = $1`,
		id, nodeResults,
	)
	return err
}

// CompleteExecutionParams holds the fields recorded when an execution
// finishes (successfully or not).
type CompleteExecutionParams struct {
	ID           uuid.UUID
	Status       string // completed, failed, cancelled
	NodeResults  json.RawMessage
	ErrorDetails json.RawMessage
	Cost         float64
	APICallsMade int32
	TokensUsed   int32
}

// CompleteExecution marks an execution terminal, recording its final node
// results, metering totals, and error (if any).
func (q *Queries) CompleteExecution(ctx context.Context, p CompleteExecutionParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE executions
		SET status = $2, node_results = $3, error_details = $4,
			cost = $5, api_calls_made = $6, tokens_used = $7,
			completed_at = now()
		WHERE id = $1`,
		p.ID, p.Status, p.NodeResults, p.ErrorDetails, p.Cost, p.APICallsMade, p.TokensUsed,
	)
	return err
}

// RequestExecutionCancel sets the cancel-requested flag the executor polls
// between nodes (spec §5).
func (q *Queries) RequestExecutionCancel(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE executions SET cancel_requested = true WHERE id = $1`, id)
	return err
}

// IsCancelRequested reports whether an execution's cancel flag is set. The
// executor checks this between nodes rather than mid-connector-call (spec
// §5: cancellation takes effect "between nodes", never interrupting an
// in-flight external call).
func (q *Queries) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var cancelled bool
	err := q.db.QueryRow(ctx, `SELECT cancel_requested FROM executions WHERE id = $1`, id).Scan(&cancelled)
	return cancelled, err
}

// NodeExecution is a row from organization-schema node_executions: one
// attempt's history for a single node within an execution.
type NodeExecution struct {
	ID             uuid.UUID
	ExecutionID    uuid.UUID
	NodeID         string
	Attempt        int32
	Status         string
	Input          json.RawMessage
	Output         json.RawMessage
	Error          *string
	IdempotencyKey *string
	RequestHash    *string
	StartedAt      time.Time
	EndedAt        *time.Time
}

const nodeExecutionColumns = `id, execution_id, node_id, attempt, status, input, output, error,
	idempotency_key, request_hash, started_at, ended_at`

func scanNodeExecution(row interface{ Scan(dest ...any) error }) (NodeExecution, error) {
	var n NodeExecution
	err := row.Scan(&n.ID, &n.ExecutionID, &n.NodeID, &n.Attempt, &n.Status, &n.Input, &n.Output,
		&n.Error, &n.IdempotencyKey, &n.RequestHash, &n.StartedAt, &n.EndedAt)
	return n, err
}

// CreateNodeExecutionParams holds the fields needed to record a node
// attempt's start.
type CreateNodeExecutionParams struct {
	ExecutionID    uuid.UUID
	NodeID         string
	Attempt        int32
	Status         string
	Input          json.RawMessage
	IdempotencyKey *string
	RequestHash    *string
}

// CreateNodeExecution inserts a new node execution attempt row.
func (q *Queries) CreateNodeExecution(ctx context.Context, p CreateNodeExecutionParams) (NodeExecution, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO node_executions (execution_id, node_id, attempt, status, input, idempotency_key, request_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+nodeExecutionColumns,
		p.ExecutionID, p.NodeID, p.Attempt, p.Status, p.Input, p.IdempotencyKey, p.RequestHash,
	)
	return scanNodeExecution(row)
}

// CountNodeExecutionAttempts counts how many attempts have already been
// recorded for a node within an execution, so the executor knows which
// attempt number it is about to start (spec §4.6 step 6: retry budget).
func (q *Queries) CountNodeExecutionAttempts(ctx context.Context, executionID uuid.UUID, nodeID string) (int32, error) {
	var count int32
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM node_executions WHERE execution_id = $1 AND node_id = $2`,
		executionID, nodeID,
	).Scan(&count)
	return count, err
}

// FinishNodeExecution records a node attempt's terminal outcome.
func (q *Queries) FinishNodeExecution(ctx context.Context, id uuid.UUID, status string, output json.RawMessage, nodeErr *string) error {
	_, err := q.db.Exec(ctx, `
		UPDATE node_executions
		SET status = $2, output = $3, error = $4, ended_at = now()
		WHERE id = $1`,
		id, status, output, nodeErr,
	)
	return err
}

// ListNodeExecutions lists every attempt recorded for an execution, in
// attempt order, for the run inspection UI and replay seeding.
func (q *Queries) ListNodeExecutions(ctx context.Context, executionID uuid.UUID) ([]NodeExecution, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+nodeExecutionColumns+`
		FROM node_executions
		WHERE execution_id = $1
		ORDER BY started_at`,
		executionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []NodeExecution
	for rows.Next() {
		n, err := scanNodeExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, n)
	}
	return executions, rows.Err()
}

// NodeExecutionResult is a row from organization-schema
// node_execution_results: the idempotency cache keyed by
// (executionId, nodeId, idempotencyKey) that lets a redelivered job reuse a
// prior node's output instead of re-invoking the connector (spec §4.6).
type NodeExecutionResult struct {
	ExecutionID    uuid.UUID
	NodeID         string
	IdempotencyKey string
	ResultHash     string
	ResultData     json.RawMessage
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

const nodeExecutionResultColumns = `execution_id, node_id, idempotency_key, result_hash, result_data, expires_at, created_at`

func scanNodeExecutionResult(row interface{ Scan(dest ...any) error }) (NodeExecutionResult, error) {
	var r NodeExecutionResult
	err := row.Scan(&r.ExecutionID, &r.NodeID, &r.IdempotencyKey, &r.ResultHash, &r.ResultData, &r.ExpiresAt, &r.CreatedAt)
	return r, err
}

// GetNodeExecutionResult looks up a cached idempotent result. Callers must
// still compare ResultHash against the current requestHash before reusing
// ResultData (spec §4.6 step 5: a changed request invalidates the cache
// entry even if the key collides).
func (q *Queries) GetNodeExecutionResult(ctx context.Context, executionID uuid.UUID, nodeID, idempotencyKey string) (NodeExecutionResult, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+nodeExecutionResultColumns+`
		FROM node_execution_results
		WHERE execution_id = $1 AND node_id = $2 AND idempotency_key = $3 AND expires_at > now()`,
		executionID, nodeID, idempotencyKey,
	)
	return scanNodeExecutionResult(row)
}

// PutNodeExecutionResultParams holds the fields needed to cache a node's
// result for future idempotent replay.
type PutNodeExecutionResultParams struct {
	ExecutionID    uuid.UUID
	NodeID         string
	IdempotencyKey string
	ResultHash     string
	ResultData     json.RawMessage
	ExpiresAt      time.Time
}

// PutNodeExecutionResult upserts the idempotency cache entry for a node's
// successful invocation.
func (q *Queries) PutNodeExecutionResult(ctx context.Context, p PutNodeExecutionResultParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO node_execution_results (execution_id, node_id, idempotency_key, result_hash, result_data, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (execution_id, node_id, idempotency_key)
		DO UPDATE SET result_hash = $4, result_data = $5, expires_at = $6`,
		p.ExecutionID, p.NodeID, p.IdempotencyKey, p.ResultHash, p.ResultData, p.ExpiresAt,
	)
	return err
}
