package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Workflow is a row from organization-schema workflows (spec §3): the
// named container holding the current editable graph.
type Workflow struct {
	ID          uuid.UUID
	Name        string
	Description *string
	Graph       json.RawMessage
	IsActive    bool
	CreatedBy   *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const workflowColumns = `id, name, description, graph, is_active, created_by, created_at, updated_at`

func scanWorkflow(row interface{ Scan(dest ...any) error }) (Workflow, error) {
	var w Workflow
	err := row.Scan(&w.ID, &w.Name, &w.Description, &w.Graph, &w.IsActive, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

// CreateWorkflowParams holds the fields needed to create a workflow.
type CreateWorkflowParams struct {
	Name        string
	Description *string
	Graph       json.RawMessage
	CreatedBy   *uuid.UUID
}

// CreateWorkflow inserts a new workflow.
func (q *Queries) CreateWorkflow(ctx context.Context, p CreateWorkflowParams) (Workflow, error) {
	if p.Graph == nil {
		p.Graph = json.RawMessage(`{"nodes":[],"edges":[]}`)
	}
	row := q.db.QueryRow(ctx, `
		INSERT INTO workflows (name, description, graph, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING `+workflowColumns,
		p.Name, p.Description, p.Graph, p.CreatedBy,
	)
	return scanWorkflow(row)
}

// GetWorkflow fetches a workflow by id.
func (q *Queries) GetWorkflow(ctx context.Context, id uuid.UUID) (Workflow, error) {
	row := q.db.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
	return scanWorkflow(row)
}

// ListWorkflows lists active workflows, most recently updated first.
func (q *Queries) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	rows, err := q.db.Query(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE is_active ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// UpdateWorkflowGraphParams holds the fields for editing a workflow's
// current draft graph.
type UpdateWorkflowGraphParams struct {
	ID    uuid.UUID
	Name  string
	Graph json.RawMessage
}

// UpdateWorkflowGraph replaces a workflow's editable graph and name.
func (q *Queries) UpdateWorkflowGraph(ctx context.Context, p UpdateWorkflowGraphParams) (Workflow, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE workflows
		SET name = $2, graph = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+workflowColumns,
		p.ID, p.Name, p.Graph,
	)
	return scanWorkflow(row)
}

// SoftDeleteWorkflow marks a workflow inactive without removing its
// versions or deployments.
func (q *Queries) SoftDeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE workflows SET is_active = false, updated_at = now() WHERE id = $1`, id)
	return err
}

// WorkflowVersion is a row from organization-schema workflow_versions: an
// immutable snapshot of a workflow's graph at a point in time.
type WorkflowVersion struct {
	ID            uuid.UUID
	WorkflowID    uuid.UUID
	VersionNumber int32
	State         string
	Graph         json.RawMessage
	Metadata      json.RawMessage
	CreatedBy     *uuid.UUID
	CreatedAt     time.Time
	PublishedBy   *uuid.UUID
	PublishedAt   *time.Time
}

const workflowVersionColumns = `id, workflow_id, version_number, state, graph, metadata, created_by, created_at, published_by, published_at`

func scanWorkflowVersion(row interface{ Scan(dest ...any) error }) (WorkflowVersion, error) {
	var v WorkflowVersion
	err := row.Scan(&v.ID, &v.WorkflowID, &v.VersionNumber, &v.State, &v.Graph, &v.Metadata, &v.CreatedBy, &v.CreatedAt, &v.PublishedBy, &v.PublishedAt)
	return v, err
}

// NextWorkflowVersionNumber returns the next version number to assign for
// a workflow (1 if it has none yet). Versions are append-only, so this is
// a simple max+1 rather than a sequence.
func (q *Queries) NextWorkflowVersionNumber(ctx context.Context, workflowID uuid.UUID) (int32, error) {
	var max *int32
	err := q.db.QueryRow(ctx, `SELECT max(version_number) FROM workflow_versions WHERE workflow_id = $1`, workflowID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 1, nil
	}
	return *max + 1, nil
}

// CreateWorkflowVersionParams holds the fields needed to append a new
// workflow version. New versions always start in the draft state.
type CreateWorkflowVersionParams struct {
	WorkflowID    uuid.UUID
	VersionNumber int32
	Graph         json.RawMessage
	Metadata      json.RawMessage
	CreatedBy     *uuid.UUID
}

// CreateWorkflowVersion inserts a new draft version.
func (q *Queries) CreateWorkflowVersion(ctx context.Context, p CreateWorkflowVersionParams) (WorkflowVersion, error) {
	if p.Metadata == nil {
		p.Metadata = json.RawMessage(`{}`)
	}
	row := q.db.QueryRow(ctx, `
		INSERT INTO workflow_versions (workflow_id, version_number, state, graph, metadata, created_by)
		VALUES ($1, $2, 'draft', $3, $4, $5)
		RETURNING `+workflowVersionColumns,
		p.WorkflowID, p.VersionNumber, p.Graph, p.Metadata, p.CreatedBy,
	)
	return scanWorkflowVersion(row)
}

// GetWorkflowVersion fetches a version by id.
func (q *Queries) GetWorkflowVersion(ctx context.Context, id uuid.UUID) (WorkflowVersion, error) {
	row := q.db.QueryRow(ctx, `SELECT `+workflowVersionColumns+` FROM workflow_versions WHERE id = $1`, id)
	return scanWorkflowVersion(row)
}

// ListWorkflowVersions lists a workflow's versions, newest first.
func (q *Queries) ListWorkflowVersions(ctx context.Context, workflowID uuid.UUID) ([]WorkflowVersion, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+workflowVersionColumns+`
		FROM workflow_versions
		WHERE workflow_id = $1
		ORDER BY version_number DESC`,
		workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []WorkflowVersion
	for rows.Next() {
		v, err := scanWorkflowVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// PublishWorkflowVersionParams holds the fields for a draft->published
// transition.
type PublishWorkflowVersionParams struct {
	ID          uuid.UUID
	PublishedBy *uuid.UUID
}

// PublishWorkflowVersion transitions a draft version to published. The
// WHERE clause enforces the invariant that publishing only ever happens
// once: a version already published does not match and the caller sees
// pgx.ErrNoRows.
func (q *Queries) PublishWorkflowVersion(ctx context.Context, p PublishWorkflowVersionParams) (WorkflowVersion, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE workflow_versions
		SET state = 'published', published_by = $2, published_at = now()
		WHERE id = $1 AND state = 'draft'
		RETURNING `+workflowVersionColumns,
		p.ID, p.PublishedBy,
	)
	return scanWorkflowVersion(row)
}

// WorkflowDeployment is a row from organization-schema
// workflow_deployments: a (workflow, environment) -> version mapping.
type WorkflowDeployment struct {
	ID          uuid.UUID
	WorkflowID  uuid.UUID
	VersionID   uuid.UUID
	Environment string
	IsActive    bool
	RollbackOf  *uuid.UUID
	DeployedBy  *uuid.UUID
	DeployedAt  time.Time
}

const workflowDeploymentColumns = `id, workflow_id, version_id, environment, is_active, rollback_of, deployed_by, deployed_at`

func scanWorkflowDeployment(row interface{ Scan(dest ...any) error }) (WorkflowDeployment, error) {
	var d WorkflowDeployment
	err := row.Scan(&d.ID, &d.WorkflowID, &d.VersionID, &d.Environment, &d.IsActive, &d.RollbackOf, &d.DeployedBy, &d.DeployedAt)
	return d, err
}

// GetActiveDeployment fetches the active deployment row for a
// (workflow, environment) pair, if one exists.
func (q *Queries) GetActiveDeployment(ctx context.Context, workflowID uuid.UUID, environment string) (WorkflowDeployment, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+workflowDeploymentColumns+`
		FROM workflow_deployments
		WHERE workflow_id = $1 AND environment = $2 AND is_active
		LIMIT 1`,
		workflowID, environment,
	)
	return scanWorkflowDeployment(row)
}

// DeactivateDeployment clears is_active on a deployment row, making way
// for its replacement. Callers run this and CreateWorkflowDeployment in
// the same transaction.
func (q *Queries) DeactivateDeployment(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE workflow_deployments SET is_active = false WHERE id = $1`, id)
	return err
}

// CreateWorkflowDeploymentParams holds the fields needed to record a
// promotion or rollback.
type CreateWorkflowDeploymentParams struct {
	WorkflowID  uuid.UUID
	VersionID   uuid.UUID
	Environment string
	RollbackOf  *uuid.UUID
	DeployedBy  *uuid.UUID
}

// CreateWorkflowDeployment inserts a new active deployment row.
func (q *Queries) CreateWorkflowDeployment(ctx context.Context, p CreateWorkflowDeploymentParams) (WorkflowDeployment, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO workflow_deployments (workflow_id, version_id, environment, rollback_of, deployed_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+workflowDeploymentColumns,
		p.WorkflowID, p.VersionID, p.Environment, p.RollbackOf, p.DeployedBy,
	)
	return scanWorkflowDeployment(row)
}

// ListWorkflowDeployments lists all deployment rows (active and
// superseded) for a workflow, newest first.
func (q *Queries) ListWorkflowDeployments(ctx context.Context, workflowID uuid.UUID) ([]WorkflowDeployment, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+workflowDeploymentColumns+`
		FROM workflow_deployments
		WHERE workflow_id = $1
		ORDER BY deployed_at DESC`,
		workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deployments []WorkflowDeployment
	for rows.Next() {
		d, err := scanWorkflowDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}
