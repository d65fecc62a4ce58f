// Package admission implements the per-organization execution gate from
// spec §4.5: a row-locked concurrency and 60-second rate-window check that
// runs synchronously at enqueue time, re-checked by the executor on dequeue
// to guard against cold replays.
package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/orchestra/internal/db"
)

const quotaWindow = 60 * time.Second

// Event types recorded in organization_execution_quota_audit.
const (
	EventAdmitted            = "admitted"
	EventConcurrencyExceeded = "concurrency_exceeded"
	EventRPMExceeded         = "rpm_exceeded"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Admitted  bool
	EventType string
	Limit     int32
	Observed  int32
}

// Service gates execution admission per organization.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService constructs an admission Service.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{pool: pool, logger: logger}
}

// Admit atomically checks and, if accepted, reserves a concurrency slot and
// rate-window count for the organization. The row lock on
// organization_execution_counters is held for the duration of the
// transaction so concurrent Admit calls for the same organization serialize.
func (s *Service) Admit(ctx context.Context, orgID uuid.UUID, limits Limits) (Decision, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("beginning admission transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	q := db.New(tx)

	counters, err := q.LockExecutionCounters(ctx, orgID)
	if err != nil {
		return Decision{}, fmt.Errorf("locking execution counters: %w", err)
	}

	decision, updated := evaluate(counters, limits, time.Now())
	counters = updated

	if err := q.SetExecutionCounters(ctx, counters); err != nil {
		return Decision{}, fmt.Errorf("persisting execution counters: %w", err)
	}

	if err := s.audit(ctx, q, orgID, decision, counters.ExecutionsInWindow, counters.WindowStart); err != nil {
		s.logger.Error("writing admission audit entry", "error", err, "organization_id", orgID)
	}

	if err := tx.Commit(ctx); err != nil {
		return Decision{}, fmt.Errorf("committing admission transaction: %w", err)
	}

	return decision, nil
}

// evaluate applies the window rollover and threshold checks against a
// snapshot of an organization's counters, returning the decision and the
// counters as they should be persisted. Kept free of I/O so it can be unit
// tested without a database.
func evaluate(counters db.ExecutionCounters, limits Limits, now time.Time) (Decision, db.ExecutionCounters) {
	windowStart := counters.WindowStart
	windowCount := counters.ExecutionsInWindow
	if now.Sub(windowStart) > quotaWindow {
		windowStart = now
		windowCount = 0
	}

	var decision Decision
	switch {
	case counters.RunningExecutions >= limits.MaxConcurrentExecutions:
		decision = Decision{
			Admitted:  false,
			EventType: EventConcurrencyExceeded,
			Limit:     limits.MaxConcurrentExecutions,
			Observed:  counters.RunningExecutions,
		}
	case windowCount >= limits.MaxExecutionsPerMinute:
		decision = Decision{
			Admitted:  false,
			EventType: EventRPMExceeded,
			Limit:     limits.MaxExecutionsPerMinute,
			Observed:  windowCount,
		}
	default:
		counters.RunningExecutions++
		windowCount++
		decision = Decision{
			Admitted:  true,
			EventType: EventAdmitted,
			Limit:     limits.MaxConcurrentExecutions,
			Observed:  counters.RunningExecutions,
		}
	}

	counters.ExecutionsInWindow = windowCount
	counters.WindowStart = windowStart
	return decision, counters
}

// Release decrements an organization's running-execution count on
// completion, failure, or cancellation of an execution it admitted.
func (s *Service) Release(ctx context.Context, orgID uuid.UUID) error {
	q := db.New(s.pool)
	if err := q.DecrementRunningExecutions(ctx, orgID); err != nil {
		return fmt.Errorf("releasing execution slot: %w", err)
	}
	return nil
}

func (s *Service) audit(ctx context.Context, q *db.Queries, orgID uuid.UUID, decision Decision, windowCount int32, windowStart time.Time) error {
	metadata, err := json.Marshal(map[string]any{"admitted": decision.Admitted})
	if err != nil {
		return err
	}
	_, err = q.CreateQuotaAuditEntry(ctx, db.CreateQuotaAuditEntryParams{
		OrganizationID: orgID,
		EventType:      decision.EventType,
		LimitValue:     decision.Limit,
		ObservedValue:  decision.Observed,
		WindowCount:    &windowCount,
		WindowStart:    &windowStart,
		Metadata:       metadata,
	})
	return err
}
