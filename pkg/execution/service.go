// Package execution implements the manual enqueue and replay surface of
// spec §6's execution API: submitting a run, inspecting a run's node
// timeline, and retrying a completed run in full or from a single node.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/orchestra/internal/admission"
	"github.com/wisbric/orchestra/internal/db"
	"github.com/wisbric/orchestra/pkg/queue"
)

// ErrQuotaExceeded is returned when an organization is at its concurrency
// or rate limit at the moment a run is submitted (spec §4.8).
var ErrQuotaExceeded = errors.New("execution: organization execution quota exceeded")

// ErrNodeNotFound is returned retrying from a node absent from the source
// execution's recorded graph order.
var ErrNodeNotFound = errors.New("execution: node not found in source execution")

// EnqueueRequest carries the parameters for a manual run submission.
type EnqueueRequest struct {
	WorkflowID     uuid.UUID
	OrganizationID uuid.UUID
	UserID         *uuid.UUID
	InitialData    json.RawMessage
}

// RetryRequest carries the parameters for a replay of a prior execution,
// in full or from a single node.
type RetryRequest struct {
	OrganizationID uuid.UUID
	UserID         *uuid.UUID
	TriggeredBy    string
}

// RunDetail is a completed or in-flight execution plus its node timeline,
// the response shape for the run-detail endpoint (spec §6).
type RunDetail struct {
	Execution db.Execution
	Nodes     []db.NodeExecution
}

// Service implements the manual enqueue and replay operations against an
// organization-scoped connection, plus the unscoped root pool needed to
// resolve an organization's plan for the admission pre-check.
type Service struct {
	pool      *pgxpool.Pool
	q         *db.Queries
	queue     queue.Queue
	admission *admission.Service
	logger    *slog.Logger
}

// NewService constructs a Service. conn is an organization-scoped
// connection; pool is the unscoped root pool the admission pre-check needs
// to resolve the calling organization's plan.
func NewService(pool *pgxpool.Pool, conn db.DBTX, q queue.Queue, admissionSvc *admission.Service, logger *slog.Logger) *Service {
	return &Service{pool: pool, q: db.New(conn), queue: q, admission: admissionSvc, logger: logger}
}

// admit runs the synchronous admission pre-check for a new run submission
// (spec §4.5: "runs synchronously at enqueue time"). A rejected decision
// reserves nothing. An admitted decision is immediately released again:
// the executor performs its own Admit/Release around the actual run
// (executor.go), so this pre-check exists only to surface a synchronous
// 429 to the submitting caller, not to hold the organization's slot for
// the run's lifetime.
func (s *Service) admit(ctx context.Context, orgID uuid.UUID) error {
	org, err := db.New(s.pool).GetOrganization(ctx, orgID)
	if err != nil {
		return fmt.Errorf("resolving organization: %w", err)
	}
	limits := admission.ResolveLimits(org.Plan, org.Config)
	decision, err := s.admission.Admit(ctx, orgID, limits)
	if err != nil {
		return fmt.Errorf("checking admission: %w", err)
	}
	if !decision.Admitted {
		return ErrQuotaExceeded
	}
	if err := s.admission.Release(ctx, orgID); err != nil {
		s.logger.Error("releasing admission pre-check slot", "organization_id", orgID, "error", err)
	}
	return nil
}

// Enqueue creates an execution row in status=queued and publishes its
// ExecutionJob for the worker fleet (spec §6: "POST /api/executions").
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (uuid.UUID, error) {
	if err := s.admit(ctx, req.OrganizationID); err != nil {
		return uuid.Nil, err
	}

	executionID := uuid.New()
	if _, err := s.q.CreateExecution(ctx, executionID, db.CreateExecutionParams{
		WorkflowID:  req.WorkflowID,
		UserID:      req.UserID,
		TriggerType: "manual",
		InitialData: req.InitialData,
	}); err != nil {
		return uuid.Nil, fmt.Errorf("creating execution: %w", err)
	}

	job := queue.ExecutionJob{
		ExecutionID:    executionID,
		WorkflowID:     req.WorkflowID,
		OrganizationID: req.OrganizationID,
		UserID:         req.UserID,
		TriggerType:    "manual",
		InitialData:    req.InitialData,
	}
	if err := s.queue.Enqueue(ctx, job, 0); err != nil {
		return uuid.Nil, fmt.Errorf("enqueuing execution: %w", err)
	}
	return executionID, nil
}

// GetRun fetches an execution and its recorded node-attempt timeline
// (spec §6: "GET /api/executions/{executionId} — includes node timeline").
func (s *Service) GetRun(ctx context.Context, executionID uuid.UUID) (RunDetail, error) {
	exec, err := s.q.GetExecution(ctx, executionID)
	if err != nil {
		return RunDetail{}, fmt.Errorf("fetching execution: %w", err)
	}
	nodes, err := s.q.ListNodeExecutions(ctx, executionID)
	if err != nil {
		return RunDetail{}, fmt.Errorf("listing node executions: %w", err)
	}
	return RunDetail{Execution: exec, Nodes: nodes}, nil
}

// RetryFull replays a source execution from its entry node (spec §6:
// "POST /api/executions/{executionId}/retry"). The new execution carries
// the source's trigger payload forward so re-seeding the trigger node's
// output (executor.go) reproduces the original run's inputs.
func (s *Service) RetryFull(ctx context.Context, sourceExecutionID uuid.UUID, req RetryRequest) (uuid.UUID, error) {
	return s.retry(ctx, sourceExecutionID, queue.ReplayFull, "", req)
}

// RetryNode replays a source execution from a single node onward (spec
// §6: "POST /api/executions/{executionId}/nodes/{nodeId}/retry"). Nodes
// strictly before nodeID reuse their recorded output; nodeID and
// everything downstream re-execute (seedReplayOutputs, executor.go).
func (s *Service) RetryNode(ctx context.Context, sourceExecutionID uuid.UUID, nodeID string, req RetryRequest) (uuid.UUID, error) {
	if nodeID == "" {
		return uuid.Nil, ErrNodeNotFound
	}
	return s.retry(ctx, sourceExecutionID, queue.ReplayNode, nodeID, req)
}

func (s *Service) retry(ctx context.Context, sourceExecutionID uuid.UUID, mode queue.ReplayMode, nodeID string, req RetryRequest) (uuid.UUID, error) {
	if err := s.admit(ctx, req.OrganizationID); err != nil {
		return uuid.Nil, err
	}

	source, err := s.q.GetExecution(ctx, sourceExecutionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("fetching source execution: %w", err)
	}

	modeStr := string(mode)
	var nodeIDPtr *string
	if nodeID != "" {
		nodeIDPtr = &nodeID
	}

	executionID := uuid.New()
	if _, err := s.q.CreateExecution(ctx, executionID, db.CreateExecutionParams{
		WorkflowID:     source.WorkflowID,
		UserID:         req.UserID,
		TriggerType:    source.TriggerType,
		TriggerData:    source.TriggerData,
		InitialData:    source.InitialData,
		ReplaySourceID: &sourceExecutionID,
		ReplayMode:     &modeStr,
		ReplayNodeID:   nodeIDPtr,
	}); err != nil {
		return uuid.Nil, fmt.Errorf("creating replay execution: %w", err)
	}

	job := queue.ExecutionJob{
		ExecutionID:    executionID,
		WorkflowID:     source.WorkflowID,
		OrganizationID: req.OrganizationID,
		UserID:         req.UserID,
		TriggerType:    source.TriggerType,
		TriggerData:    source.TriggerData,
		InitialData:    source.InitialData,
		Replay: &queue.Replay{
			SourceExecutionID: sourceExecutionID,
			Mode:              mode,
			NodeID:            nodeID,
			TriggeredBy:       req.TriggeredBy,
		},
	}
	if err := s.queue.Enqueue(ctx, job, 0); err != nil {
		return uuid.Nil, fmt.Errorf("enqueuing replay: %w", err)
	}

	s.logger.Info("replay enqueued",
		"source_execution_id", sourceExecutionID, "execution_id", executionID, "mode", mode, "node_id", nodeID)
	return executionID, nil
}
