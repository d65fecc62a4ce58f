package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/orchestra/internal/db"
)

// Environment enumerates the deployment targets a workflow version can be
// promoted to (spec §3's WorkflowDeployment).
type Environment string

const (
	EnvDraft      Environment = "draft"
	EnvTest       Environment = "test"
	EnvProduction Environment = "production"
)

var (
	// ErrVersionNotDraft is returned when a caller tries to mutate or
	// publish a version that is no longer in the draft state.
	ErrVersionNotDraft = errors.New("workflow: version is not a draft")
	// ErrSourceNotPublished is returned promoting to test when the
	// version has never been published.
	ErrSourceNotPublished = errors.New("workflow: version must be published before promotion to test")
	// ErrNotStagedInTest is returned promoting to production when the
	// version is not the active test deployment and allowNonStagedProd
	// was not set.
	ErrNotStagedInTest = errors.New("workflow: version must be the active test deployment before promotion to production")
	// ErrBreakingChangesUnacknowledged is returned when a promotion
	// would introduce breaking changes and acknowledgeBreaking was not
	// set.
	ErrBreakingChangesUnacknowledged = errors.New("workflow: promotion has unacknowledged breaking changes")
)

// beginner is satisfied by *pgxpool.Conn and *pgxpool.Pool: a DBTX that can
// also start a transaction, needed for promote/rollback's
// deactivate-then-create sequence.
type beginner interface {
	db.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service implements the workflow repository and version/diff engine
// (spec §4.3).
type Service struct {
	conn   beginner
	q      *db.Queries
	logger *slog.Logger
}

// NewService constructs a Service against an organization-scoped
// connection capable of starting transactions.
func NewService(conn beginner, logger *slog.Logger) *Service {
	return &Service{conn: conn, q: db.New(conn), logger: logger}
}

// CreateWorkflow creates a new workflow with the given initial graph. The
// graph must already satisfy Validate.
func (s *Service) CreateWorkflow(ctx context.Context, name string, description *string, graph Graph, createdBy *uuid.UUID) (db.Workflow, error) {
	if err := Validate(graph); err != nil {
		return db.Workflow{}, fmt.Errorf("validating graph: %w", err)
	}
	graphJSON, err := json.Marshal(graph)
	if err != nil {
		return db.Workflow{}, fmt.Errorf("marshaling graph: %w", err)
	}
	return s.q.CreateWorkflow(ctx, db.CreateWorkflowParams{
		Name:        name,
		Description: description,
		Graph:       graphJSON,
		CreatedBy:   createdBy,
	})
}

// GetWorkflow fetches a workflow by id.
func (s *Service) GetWorkflow(ctx context.Context, id uuid.UUID) (db.Workflow, error) {
	return s.q.GetWorkflow(ctx, id)
}

// ListWorkflows lists active workflows.
func (s *Service) ListWorkflows(ctx context.Context) ([]db.Workflow, error) {
	return s.q.ListWorkflows(ctx)
}

// UpdateGraph replaces a workflow's current editable graph (the draft
// surface a user edits before snapshotting a version).
func (s *Service) UpdateGraph(ctx context.Context, id uuid.UUID, name string, graph Graph) (db.Workflow, error) {
	if err := Validate(graph); err != nil {
		return db.Workflow{}, fmt.Errorf("validating graph: %w", err)
	}
	graphJSON, err := json.Marshal(graph)
	if err != nil {
		return db.Workflow{}, fmt.Errorf("marshaling graph: %w", err)
	}
	return s.q.UpdateWorkflowGraph(ctx, db.UpdateWorkflowGraphParams{ID: id, Name: name, Graph: graphJSON})
}

// DeleteWorkflow soft-deletes a workflow.
func (s *Service) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	return s.q.SoftDeleteWorkflow(ctx, id)
}

// CreateVersion snapshots the given graph into a new append-only draft
// version; the workflow's stored editable graph is not read.
func (s *Service) CreateVersion(ctx context.Context, workflowID uuid.UUID, graph Graph, metadata json.RawMessage, createdBy *uuid.UUID) (db.WorkflowVersion, error) {
	if err := Validate(graph); err != nil {
		return db.WorkflowVersion{}, fmt.Errorf("validating graph: %w", err)
	}
	graphJSON, err := json.Marshal(graph)
	if err != nil {
		return db.WorkflowVersion{}, fmt.Errorf("marshaling graph: %w", err)
	}
	next, err := s.q.NextWorkflowVersionNumber(ctx, workflowID)
	if err != nil {
		return db.WorkflowVersion{}, fmt.Errorf("computing next version number: %w", err)
	}
	return s.q.CreateWorkflowVersion(ctx, db.CreateWorkflowVersionParams{
		WorkflowID:    workflowID,
		VersionNumber: next,
		Graph:         graphJSON,
		Metadata:      metadata,
		CreatedBy:     createdBy,
	})
}

// GetVersion fetches a version by id.
func (s *Service) GetVersion(ctx context.Context, id uuid.UUID) (db.WorkflowVersion, error) {
	return s.q.GetWorkflowVersion(ctx, id)
}

// ListVersions lists a workflow's versions, newest first.
func (s *Service) ListVersions(ctx context.Context, workflowID uuid.UUID) ([]db.WorkflowVersion, error) {
	return s.q.ListWorkflowVersions(ctx, workflowID)
}

// Publish transitions a draft version to published. Publishing is a
// one-way transition (spec §3): a version already published returns
// ErrVersionNotDraft.
func (s *Service) Publish(ctx context.Context, versionID uuid.UUID, publishedBy *uuid.UUID) (db.WorkflowVersion, error) {
	v, err := s.q.PublishWorkflowVersion(ctx, db.PublishWorkflowVersionParams{ID: versionID, PublishedBy: publishedBy})
	if errors.Is(err, pgx.ErrNoRows) {
		return db.WorkflowVersion{}, ErrVersionNotDraft
	}
	return v, err
}

// parseGraph unmarshals a version's stored graph JSON.
func parseGraph(raw json.RawMessage) (Graph, error) {
	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return Graph{}, fmt.Errorf("parsing graph: %w", err)
	}
	return g, nil
}

// Validate computes the diff between a candidate version and the version
// currently active in targetEnv, if any (spec §4.3's
// `Validate(versionId, targetEnv) -> diff`).
func (s *Service) Validate(ctx context.Context, versionID uuid.UUID, targetEnv Environment) (Diff, error) {
	candidate, err := s.q.GetWorkflowVersion(ctx, versionID)
	if err != nil {
		return Diff{}, fmt.Errorf("fetching candidate version: %w", err)
	}
	candidateGraph, err := parseGraph(candidate.Graph)
	if err != nil {
		return Diff{}, err
	}

	active, err := s.q.GetActiveDeployment(ctx, candidate.WorkflowID, string(targetEnv))
	if errors.Is(err, pgx.ErrNoRows) {
		return Compute(Graph{}, candidateGraph, json.RawMessage(`{}`), candidate.Metadata), nil
	}
	if err != nil {
		return Diff{}, fmt.Errorf("fetching active deployment: %w", err)
	}

	activeVersion, err := s.q.GetWorkflowVersion(ctx, active.VersionID)
	if err != nil {
		return Diff{}, fmt.Errorf("fetching active version: %w", err)
	}
	activeGraph, err := parseGraph(activeVersion.Graph)
	if err != nil {
		return Diff{}, err
	}

	return Compute(activeGraph, candidateGraph, activeVersion.Metadata, candidate.Metadata), nil
}

// PromoteRequest carries the parameters for a promotion (spec §4.3).
type PromoteRequest struct {
	VersionID           uuid.UUID
	TargetEnv           Environment
	DeployedBy          *uuid.UUID
	AllowNonStagedProd  bool
	AcknowledgeBreaking bool
}

// Promote deploys a version to an environment, enforcing spec §4.3's
// promotion rules: test requires a published source version; production
// requires the version to be the currently active test deployment unless
// AllowNonStagedProd is set; unresolved breaking changes block promotion
// unless AcknowledgeBreaking is set. Promoting the same version already
// active in targetEnv is a no-op. On a real promotion, the previously
// active deployment row (if any) is marked inactive in the same
// transaction that creates the new one.
func (s *Service) Promote(ctx context.Context, req PromoteRequest) (db.WorkflowDeployment, Diff, error) {
	version, err := s.q.GetWorkflowVersion(ctx, req.VersionID)
	if err != nil {
		return db.WorkflowDeployment{}, Diff{}, fmt.Errorf("fetching version: %w", err)
	}

	if req.TargetEnv == EnvTest && version.State != "published" {
		return db.WorkflowDeployment{}, Diff{}, ErrSourceNotPublished
	}

	if req.TargetEnv == EnvProduction && !req.AllowNonStagedProd {
		testDeployment, err := s.q.GetActiveDeployment(ctx, version.WorkflowID, string(EnvTest))
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && testDeployment.VersionID != req.VersionID) {
			return db.WorkflowDeployment{}, Diff{}, ErrNotStagedInTest
		}
		if err != nil {
			return db.WorkflowDeployment{}, Diff{}, fmt.Errorf("checking test deployment: %w", err)
		}
	}

	current, err := s.q.GetActiveDeployment(ctx, version.WorkflowID, string(req.TargetEnv))
	hasCurrent := err == nil
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return db.WorkflowDeployment{}, Diff{}, fmt.Errorf("fetching current deployment: %w", err)
	}
	if hasCurrent && current.VersionID == req.VersionID {
		return current, Diff{}, nil
	}

	diff, err := s.Validate(ctx, req.VersionID, req.TargetEnv)
	if err != nil {
		return db.WorkflowDeployment{}, Diff{}, fmt.Errorf("computing promotion diff: %w", err)
	}
	if diff.HasBreakingChanges() && !req.AcknowledgeBreaking {
		return db.WorkflowDeployment{}, diff, ErrBreakingChangesUnacknowledged
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return db.WorkflowDeployment{}, diff, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txq := db.New(tx)
	if hasCurrent {
		if err := txq.DeactivateDeployment(ctx, current.ID); err != nil {
			return db.WorkflowDeployment{}, diff, fmt.Errorf("deactivating current deployment: %w", err)
		}
	}
	deployment, err := txq.CreateWorkflowDeployment(ctx, db.CreateWorkflowDeploymentParams{
		WorkflowID:  version.WorkflowID,
		VersionID:   req.VersionID,
		Environment: string(req.TargetEnv),
		DeployedBy:  req.DeployedBy,
	})
	if err != nil {
		return db.WorkflowDeployment{}, diff, fmt.Errorf("creating deployment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return db.WorkflowDeployment{}, diff, fmt.Errorf("committing promotion: %w", err)
	}

	s.logger.Info("promoted workflow version",
		"workflow_id", version.WorkflowID, "version_id", req.VersionID, "environment", req.TargetEnv)
	return deployment, diff, nil
}

// Rollback deploys a prior deployment's version again, recording the
// superseded row's id as rollbackOf (spec §3's WorkflowDeployment
// invariant).
func (s *Service) Rollback(ctx context.Context, workflowID uuid.UUID, targetEnv Environment, toDeploymentID uuid.UUID, deployedBy *uuid.UUID) (db.WorkflowDeployment, error) {
	deployments, err := s.q.ListWorkflowDeployments(ctx, workflowID)
	if err != nil {
		return db.WorkflowDeployment{}, fmt.Errorf("listing deployments: %w", err)
	}
	var target *db.WorkflowDeployment
	for i := range deployments {
		if deployments[i].ID == toDeploymentID && deployments[i].Environment == string(targetEnv) {
			target = &deployments[i]
			break
		}
	}
	if target == nil {
		return db.WorkflowDeployment{}, fmt.Errorf("deployment %s not found in environment %s", toDeploymentID, targetEnv)
	}

	current, err := s.q.GetActiveDeployment(ctx, workflowID, string(targetEnv))
	hasCurrent := err == nil
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return db.WorkflowDeployment{}, fmt.Errorf("fetching current deployment: %w", err)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return db.WorkflowDeployment{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txq := db.New(tx)
	var rollbackOf *uuid.UUID
	if hasCurrent {
		rollbackOf = &current.ID
		if err := txq.DeactivateDeployment(ctx, current.ID); err != nil {
			return db.WorkflowDeployment{}, fmt.Errorf("deactivating current deployment: %w", err)
		}
	}
	rolled, err := txq.CreateWorkflowDeployment(ctx, db.CreateWorkflowDeploymentParams{
		WorkflowID:  workflowID,
		VersionID:   target.VersionID,
		Environment: string(targetEnv),
		RollbackOf:  rollbackOf,
		DeployedBy:  deployedBy,
	})
	if err != nil {
		return db.WorkflowDeployment{}, fmt.Errorf("creating rollback deployment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return db.WorkflowDeployment{}, fmt.Errorf("committing rollback: %w", err)
	}

	s.logger.Info("rolled back workflow deployment",
		"workflow_id", workflowID, "environment", targetEnv, "to_version_id", target.VersionID)
	return rolled, nil
}

// ListDeployments lists all deployment rows (active and superseded) for a
// workflow.
func (s *Service) ListDeployments(ctx context.Context, workflowID uuid.UUID) ([]db.WorkflowDeployment, error) {
	return s.q.ListWorkflowDeployments(ctx, workflowID)
}

// ActiveDeployment fetches the active deployment for an environment.
func (s *Service) ActiveDeployment(ctx context.Context, workflowID uuid.UUID, env Environment) (db.WorkflowDeployment, error) {
	return s.q.GetActiveDeployment(ctx, workflowID, string(env))
}
