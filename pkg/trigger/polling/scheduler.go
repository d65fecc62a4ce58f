package polling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/orchestra/internal/crypto"
	"github.com/wisbric/orchestra/internal/db"
	"github.com/wisbric/orchestra/internal/organization"
	"github.com/wisbric/orchestra/pkg/connection"
	"github.com/wisbric/orchestra/pkg/connector"
	"github.com/wisbric/orchestra/pkg/queue"
)

// maxDedupeTokensPerTrigger bounds the FIFO dedup window per polling
// trigger, mirroring pkg/trigger/webhook's bound for the same
// webhook_dedupe_tokens table shared by both ingestion paths.
const maxDedupeTokensPerTrigger = 500

// Dispatcher scans every organization's schema for due polling triggers,
// invokes ConnectorInvoker.Poll for each, dedupes and enqueues returned
// events, and reschedules the trigger — on success at its configured
// interval, on failure with exponential backoff and jitter (spec §4.4.2).
//
// Triggers are claimed with the same FOR UPDATE SKIP LOCKED pattern
// pkg/timer uses for workflow_timers, giving "at most one poll at a time
// per trigger" across a multi-replica deployment without a per-trigger
// goroutine and mutex for every registered trigger.
type Dispatcher struct {
	pool    *pgxpool.Pool
	crypto  *crypto.Service
	invoker connector.Invoker
	queue   queue.Queue
	logger  *slog.Logger
	batch   int32
	rand    *rand.Rand
}

// NewDispatcher constructs a Dispatcher. batch bounds how many due
// triggers are claimed per organization per tick.
func NewDispatcher(pool *pgxpool.Pool, cryptoSvc *crypto.Service, invoker connector.Invoker, q queue.Queue, logger *slog.Logger, batch int32) *Dispatcher {
	if batch <= 0 {
		batch = 50
	}
	return &Dispatcher{
		pool:    pool,
		crypto:  cryptoSvc,
		invoker: invoker,
		queue:   q,
		logger:  logger,
		batch:   batch,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
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
			d.logger.Error("dispatching due polling triggers", "organization", org.Slug, "error", err)
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
	due, err := q.LockDuePollingTriggers(ctx, d.batch)
	if err != nil {
		return fmt.Errorf("locking due triggers: %w", err)
	}

	connections := connection.NewService(tx, d.crypto, d.invoker, nil, d.logger, false, "")

	for _, t := range due {
		if err := d.dispatchOne(ctx, q, connections, org, t); err != nil {
			d.logger.Error("polling trigger", "trigger_id", t.ID, "organization", org.Slug, "error", err)
		}
	}

	return tx.Commit(ctx)
}

func (d *Dispatcher) dispatchOne(ctx context.Context, q *db.Queries, connections *connection.Service, org db.Organization, t db.PollingTrigger) error {
	interval := clampInterval(time.Duration(t.IntervalSecs) * time.Second)

	credentials := json.RawMessage(`{}`)
	if t.ConnectionID != nil {
		creds, err := connections.Credentials(ctx, *t.ConnectionID)
		if err != nil {
			return d.recordFailure(ctx, q, t, interval, fmt.Errorf("resolving credentials: %w", err))
		}
		body, err := json.Marshal(creds)
		if err != nil {
			return d.recordFailure(ctx, q, t, interval, fmt.Errorf("marshaling credentials: %w", err))
		}
		credentials = body
	}

	cursor := ""
	if t.Cursor != nil {
		cursor = *t.Cursor
	}

	events, nextCursor, err := d.invoker.Poll(ctx, t.AppID, t.Op, credentials, json.RawMessage(`{}`), cursor)
	if err != nil {
		return d.recordFailure(ctx, q, t, interval, err)
	}

	for _, ev := range events {
		token := eventDedupeToken(t.TriggerID, ev)
		inserted, err := q.InsertDedupeToken(ctx, t.TriggerID, token)
		if err != nil {
			d.logger.Error("recording polling dedupe token", "trigger_id", t.TriggerID, "error", err)
			continue
		}
		if !inserted {
			continue // already delivered
		}

		job := queue.ExecutionJob{
			ExecutionID:    uuid.New(),
			WorkflowID:     t.WorkflowID,
			OrganizationID: org.ID,
			TriggerType:    "polling",
			TriggerData:    ev.Payload,
		}
		if err := d.queue.Enqueue(ctx, job, 0); err != nil {
			d.logger.Error("enqueuing polling execution", "trigger_id", t.TriggerID, "error", err)
		}
	}

	if err := q.EvictOldestDedupeTokens(ctx, t.TriggerID, maxDedupeTokensPerTrigger); err != nil {
		d.logger.Error("evicting polling dedupe tokens", "trigger_id", t.TriggerID, "error", err)
	}

	cursorPtr := t.Cursor
	if nextCursor != "" {
		cursorPtr = &nextCursor
	}

	return q.RecordPollResult(ctx, db.RecordPollResultParams{
		ID:           t.ID,
		Cursor:       cursorPtr,
		NextPollAt:   time.Now().Add(interval),
		BackoffCount: 0,
		LastStatus:   "ok",
	})
}

func (d *Dispatcher) recordFailure(ctx context.Context, q *db.Queries, t db.PollingTrigger, interval time.Duration, cause error) error {
	backoffCount := t.BackoffCount + 1
	delay := jitter(backoffDelay(interval, backoffCount), d.rand)

	if err := q.RecordPollResult(ctx, db.RecordPollResultParams{
		ID:           t.ID,
		Cursor:       t.Cursor,
		NextPollAt:   time.Now().Add(delay),
		BackoffCount: backoffCount,
		LastStatus:   "error: " + cause.Error(),
	}); err != nil {
		return err
	}
	return cause
}

// RunLoop runs Run periodically until ctx is cancelled, matching the
// run-once-then-tick shape pkg/timer's Dispatcher uses.
func (d *Dispatcher) RunLoop(ctx context.Context, interval time.Duration) {
	d.logger.Info("polling dispatch loop started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := d.Run(ctx); err != nil {
		d.logger.Error("initial polling dispatch", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("polling dispatch loop stopped")
			return
		case <-ticker.C:
			if err := d.Run(ctx); err != nil {
				d.logger.Error("polling dispatch", "error", err)
			}
		}
	}
}
