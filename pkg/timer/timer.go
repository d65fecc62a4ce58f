// Package timer dispatches due workflow wait-timers (spec §4.7): a node
// that suspends on a wall-clock delay schedules a workflow_timer row in
// addition to its resume token; a periodic dispatcher claims due rows with
// FOR UPDATE SKIP LOCKED and re-enqueues the associated execution.
package timer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/orchestra/internal/db"
	"github.com/wisbric/orchestra/internal/organization"
	"github.com/wisbric/orchestra/pkg/queue"
)

const maxAttempts = 5

// Payload is the JSON body stored on a workflow_timer row, carrying
// everything needed to rebuild the ExecutionJob on dispatch.
type Payload struct {
	WorkflowID     uuid.UUID          `json:"workflowId"`
	OrganizationID uuid.UUID          `json:"organizationId"`
	NodeID         string             `json:"nodeId"`
	TriggerType    string             `json:"triggerType"`
	ResumeState    *queue.ResumeState `json:"resumeState,omitempty"`
	InitialData    json.RawMessage    `json:"initialData,omitempty"`
}

// Schedule persists a new pending timer for an execution. conn must already
// have its search_path set to the owning organization's schema.
func Schedule(ctx context.Context, conn db.DBTX, executionID uuid.UUID, resumeAt time.Time, p Payload) (db.WorkflowTimer, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return db.WorkflowTimer{}, fmt.Errorf("marshaling timer payload: %w", err)
	}
	q := db.New(conn)
	return q.CreateWorkflowTimer(ctx, db.CreateWorkflowTimerParams{
		ExecutionID: executionID,
		ResumeAt:    resumeAt,
		Payload:     body,
	})
}

// Dispatcher scans every organization's schema for due timers and
// re-enqueues their executions.
type Dispatcher struct {
	pool   *pgxpool.Pool
	q      queue.Queue
	logger *slog.Logger
	batch  int32
}

// NewDispatcher constructs a Dispatcher. batch bounds how many due timers
// are claimed per organization per tick.
func NewDispatcher(pool *pgxpool.Pool, q queue.Queue, logger *slog.Logger, batch int32) *Dispatcher {
	if batch <= 0 {
		batch = 100
	}
	return &Dispatcher{pool: pool, q: q, logger: logger, batch: batch}
}

// Run executes one dispatch pass across every organization.
func (d *Dispatcher) Run(ctx context.Context) error {
	root := db.New(d.pool)
	orgs, err := root.ListOrganizations(ctx)
	if err != nil {
		return fmt.Errorf("listing organizations: %w", err)
	}

	for _, org := range orgs {
		if err := d.dispatchOrg(ctx, org); err != nil {
			d.logger.Error("dispatching due timers", "organization", org.Slug, "error", err)
		}
	}
	return nil
}

func (d *Dispatcher) dispatchOrg(ctx context.Context, org db.Organization) error {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	schema := organization.SchemaName(org.Slug)
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
		return fmt.Errorf("setting search_path: %w", err)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	q := db.New(tx)
	due, err := q.LockDueWorkflowTimers(ctx, d.batch)
	if err != nil {
		return fmt.Errorf("locking due timers: %w", err)
	}

	for _, t := range due {
		if err := d.dispatchOne(ctx, q, t); err != nil {
			d.logger.Error("dispatching timer", "timer_id", t.ID, "organization", org.Slug, "error", err)
		}
	}

	return tx.Commit(ctx)
}

func (d *Dispatcher) dispatchOne(ctx context.Context, q *db.Queries, t db.WorkflowTimer) error {
	var p Payload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return q.MarkWorkflowTimerFailed(ctx, t.ID, t.Attempts+1)
	}

	job := queue.ExecutionJob{
		ExecutionID:    t.ExecutionID,
		WorkflowID:     p.WorkflowID,
		OrganizationID: p.OrganizationID,
		TriggerType:    p.TriggerType,
		InitialData:    p.InitialData,
		ResumeState:    p.ResumeState,
	}

	if err := d.q.Enqueue(ctx, job, 0); err != nil {
		if t.Attempts+1 >= maxAttempts {
			return q.MarkWorkflowTimerFailed(ctx, t.ID, t.Attempts+1)
		}
		return q.IncrementWorkflowTimerAttempts(ctx, t.ID)
	}

	return q.MarkWorkflowTimerDispatched(ctx, t.ID)
}

// RunLoop runs Run periodically until ctx is cancelled, matching the
// run-once-then-tick shape used by the organization's other background
// dispatch loops.
func (d *Dispatcher) RunLoop(ctx context.Context, interval time.Duration) {
	d.logger.Info("timer dispatch loop started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := d.Run(ctx); err != nil {
		d.logger.Error("initial timer dispatch", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("timer dispatch loop stopped")
			return
		case <-ticker.C:
			if err := d.Run(ctx); err != nil {
				d.logger.Error("timer dispatch", "error", err)
			}
		}
	}
}
