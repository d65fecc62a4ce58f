// Package supervisor implements process lifecycle checks for the worker
// fleet (spec §4.9): startup verification of DB reachability and required
// tables, enforcement that a durable queue driver backs production, worker
// readiness tracking, and the /health/queue and /api/production/ready HTTP
// handlers.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/orchestra/pkg/queue"
)

// requiredTables lists the tables every orchestra deployment must have
// migrated before it is safe to serve traffic or run workers.
var requiredTables = []string{
	"organizations",
	"encryption_keys",
	"organization_execution_counters",
	"organization_execution_quota_audit",
}

// Supervisor tracks process readiness: startup checks plus per-worker
// heartbeats.
type Supervisor struct {
	db          *pgxpool.Pool
	q           queue.Queue
	queueDriver string
	testMode    bool
	tickPeriod  time.Duration

	mu      sync.Mutex
	workers map[string]time.Time
}

// New constructs a Supervisor. queueDriver is the configured QUEUE_DRIVER
// name (used for the startup durability check); testMode permits the
// in-memory driver. tickPeriod is the worker heartbeat tick period used to
// compute the 2x staleness window for readiness.
func New(db *pgxpool.Pool, q queue.Queue, queueDriver string, testMode bool, tickPeriod time.Duration) *Supervisor {
	return &Supervisor{
		db:          db,
		q:           q,
		queueDriver: queueDriver,
		testMode:    testMode,
		tickPeriod:  tickPeriod,
		workers:     make(map[string]time.Time),
	}
}

// CheckStartup verifies DB reachability, required tables, and queue
// durability. It returns a non-nil error describing the first failure;
// callers should treat this as fatal (spec §6 exit code 2: configuration
// error).
func (s *Supervisor) CheckStartup(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database not reachable: %w", err)
	}

	for _, table := range requiredTables {
		var exists bool
		err := s.db.QueryRow(ctx, `SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, table).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking required table %q: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %q is missing; run migrations", table)
		}
	}

	if !s.testMode && !queue.IsDurable(s.queueDriver) {
		return fmt.Errorf("QUEUE_DRIVER=%s is not durable; refusing to start outside tests", s.queueDriver)
	}

	return nil
}

// Heartbeat records that a worker process is alive and processing.
func (s *Supervisor) Heartbeat(workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[workerID] = time.Now()
}

// Ready reports whether every known worker has heartbeat within 2x its tick
// period (spec §4.9). An empty worker set is considered ready: a freshly
// started API-only process has no workers to wait on.
func (s *Supervisor) Ready() (bool, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staleAfter := 2 * s.tickPeriod
	now := time.Now()
	var stale []string
	for id, last := range s.workers {
		if now.Sub(last) > staleAfter {
			stale = append(stale, id)
		}
	}
	return len(stale) == 0, stale
}

// QueueHealth reports the queue driver's health for /health/queue.
func (s *Supervisor) QueueHealth(ctx context.Context) (queue.Health, error) {
	return s.q.Health(ctx)
}
