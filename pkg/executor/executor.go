// Package executor runs a workflow version's graph node by node for one
// queued execution (spec §4.6): reference resolution, per-node idempotency
// and retry, callback/timer suspension, metering, and log redaction.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/orchestra/internal/admission"
	"github.com/wisbric/orchestra/internal/crypto"
	"github.com/wisbric/orchestra/internal/db"
	"github.com/wisbric/orchestra/internal/organization"
	"github.com/wisbric/orchestra/pkg/connection"
	"github.com/wisbric/orchestra/pkg/connector"
	"github.com/wisbric/orchestra/pkg/queue"
	"github.com/wisbric/orchestra/pkg/resume"
	"github.com/wisbric/orchestra/pkg/timer"
	"github.com/wisbric/orchestra/pkg/workflow"
)

const (
	// maxNodeAttempts is the default retry budget for a single node's
	// retryable connector errors (spec §4.6 step 6).
	maxNodeAttempts = 3

	// nodeResultTTL is how long a node's cached idempotent result remains
	// reusable by a redelivered attempt (spec §4.6 step 6).
	nodeResultTTL = 24 * time.Hour

	// admissionRetryDelay is how long a job not admitted (organization at
	// its concurrency or rate limit) waits before redelivery.
	admissionRetryDelay = 5 * time.Second

	retryInitialInterval = 2 * time.Second
	retryMaxInterval     = 2 * time.Minute
)

// Outcome tells a Worker how to conclude a dequeued delivery once Run
// returns without error.
type Outcome struct {
	// Ack, when true, removes the delivery from the queue permanently: the
	// execution reached a terminal state (completed/failed/cancelled) or
	// suspended on a resume token, which a later inbound callback or due
	// timer will re-enqueue independently.
	Ack bool

	// Delay is the redelivery delay when Ack is false.
	Delay time.Duration
}

// Executor runs one ExecutionJob to completion, suspension, or a retryable
// stopping point.
type Executor struct {
	pool      *pgxpool.Pool
	queue     queue.Queue
	invoker   connector.Invoker
	admission *admission.Service
	crypto    *crypto.Service
	publicURL string
	breakers  *breakerRegistry
	logger    *slog.Logger
}

// NewExecutor constructs an Executor. pool is the unscoped root pool; each
// Run call scopes its own connection from the job's organization.
func NewExecutor(pool *pgxpool.Pool, q queue.Queue, invoker connector.Invoker, admissionSvc *admission.Service, cryptoSvc *crypto.Service, publicURL string, logger *slog.Logger) *Executor {
	return &Executor{
		pool:      pool,
		queue:     q,
		invoker:   invoker,
		admission: admissionSvc,
		crypto:    cryptoSvc,
		publicURL: publicURL,
		breakers:  newBreakerRegistry(),
		logger:    logger,
	}
}

// nodeResult is runNode's outcome for a single node invocation.
type nodeResult struct {
	output   json.RawMessage
	metering Metering
	suspend  bool           // callback issued; execution is now waiting
	retry    *time.Duration // redeliver the whole job after this delay
	failErr  error          // terminal node failure; execution fails
}

// Run executes job against its workflow's currently deployed (or, for a
// replay, its source execution's) version, from the start or from a saved
// resume/replay point, until the execution completes, fails, suspends on a
// callback, or needs to be redelivered for a retryable error.
func (e *Executor) Run(ctx context.Context, job queue.ExecutionJob) (Outcome, error) {
	org, err := db.New(e.pool).GetOrganization(ctx, job.OrganizationID)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolving organization: %w", err)
	}

	conn, info, err := organization.ScopeConnection(ctx, e.pool, org.Slug, org.ID, org.Name)
	if err != nil {
		return Outcome{}, fmt.Errorf("scoping organization connection: %w", err)
	}
	defer conn.Release()

	q := db.New(conn)

	limits := admission.ResolveLimits(org.Plan, org.Config)
	decision, err := e.admission.Admit(ctx, job.OrganizationID, limits)
	if err != nil {
		return Outcome{}, fmt.Errorf("checking admission: %w", err)
	}
	if !decision.Admitted {
		e.logger.Info("execution not admitted, redelivering",
			"execution_id", job.ExecutionID, "organization", info.Slug, "event_type", decision.EventType)
		return Outcome{Ack: false, Delay: admissionRetryDelay}, nil
	}
	defer func() {
		if err := e.admission.Release(ctx, job.OrganizationID); err != nil {
			e.logger.Error("releasing admission slot", "execution_id", job.ExecutionID, "error", err)
		}
	}()

	versionID, err := e.resolveVersionID(ctx, q, job)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolving workflow version: %w", err)
	}
	version, err := q.GetWorkflowVersion(ctx, versionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetching workflow version: %w", err)
	}
	var graph workflow.Graph
	if err := json.Unmarshal(version.Graph, &graph); err != nil {
		return Outcome{}, fmt.Errorf("decoding workflow graph: %w", err)
	}
	nodesByID := make(map[string]workflow.Node, len(graph.Nodes))
	for _, n := range graph.Nodes {
		nodesByID[n.ID] = n
	}

	order, err := topoOrder(graph)
	if err != nil {
		if createErr := e.recordExecution(ctx, q, job, versionID); createErr != nil {
			return Outcome{}, createErr
		}
		return e.fail(ctx, q, job, info, nil, fmt.Errorf("ordering workflow graph: %w", err))
	}

	if err := e.recordExecution(ctx, q, job, versionID); err != nil {
		return Outcome{}, err
	}
	if err := q.MarkExecutionRunning(ctx, job.ExecutionID); err != nil {
		return Outcome{}, fmt.Errorf("marking execution running: %w", err)
	}

	outputs, err := e.seedReplayOutputs(ctx, q, order, job)
	if err != nil {
		return Outcome{}, err
	}
	if job.ResumeState != nil {
		for id, out := range job.ResumeState.NodeOutputs {
			outputs[id] = out
		}
	}

	connSvc := connection.NewService(conn, e.crypto, e.invoker, nil, e.logger, false, "")

	var metering Metering
	triggerOutput := nonEmpty(job.InitialData)
	if len(job.TriggerData) > 0 {
		triggerOutput = nonEmpty(job.TriggerData)
	}
	prevOutput := triggerOutput

	for _, nodeID := range order {
		cancelled, err := q.IsCancelRequested(ctx, job.ExecutionID)
		if err != nil {
			return Outcome{}, fmt.Errorf("checking cancellation: %w", err)
		}
		if cancelled {
			return e.cancel(ctx, q, job, info, outputs, metering)
		}

		if existing, ok := outputs[nodeID]; ok {
			prevOutput = existing
			continue
		}

		node, ok := nodesByID[nodeID]
		if !ok {
			return e.fail(ctx, q, job, info, outputs, fmt.Errorf("node %q missing from graph", nodeID))
		}
		if node.Type == workflow.NodeTrigger {
			outputs[nodeID] = prevOutput
			continue
		}

		res, err := e.runNode(ctx, q, conn, connSvc, job, node, outputs)
		if err != nil {
			return Outcome{}, fmt.Errorf("running node %s: %w", nodeID, err)
		}
		metering.Add(res.metering)

		switch {
		case res.failErr != nil:
			return e.fail(ctx, q, job, info, outputs, res.failErr)
		case res.suspend:
			if err := q.MarkExecutionWaiting(ctx, job.ExecutionID, Redact(marshalOutputs(outputs))); err != nil {
				e.logger.Error("marking execution waiting", "execution_id", job.ExecutionID, "error", err)
			}
			return Outcome{Ack: true}, nil
		case res.retry != nil:
			return Outcome{Ack: false, Delay: *res.retry}, nil
		default:
			outputs[nodeID] = res.output
			prevOutput = res.output
		}
	}

	return e.complete(ctx, q, job, info, outputs, metering)
}

// recordExecution creates (or, on redelivery, idempotently re-fetches) the
// execution row for job, via CreateExecution's caller-supplied-id upsert.
func (e *Executor) recordExecution(ctx context.Context, q *db.Queries, job queue.ExecutionJob, versionID uuid.UUID) error {
	var replaySourceID *uuid.UUID
	var replayMode, replayNodeID *string
	if job.Replay != nil {
		replaySourceID = &job.Replay.SourceExecutionID
		m := string(job.Replay.Mode)
		replayMode = &m
		if job.Replay.NodeID != "" {
			replayNodeID = &job.Replay.NodeID
		}
	}
	_, err := q.CreateExecution(ctx, job.ExecutionID, db.CreateExecutionParams{
		WorkflowID:     job.WorkflowID,
		VersionID:      &versionID,
		UserID:         job.UserID,
		TriggerType:    job.TriggerType,
		TriggerData:    Redact(nonEmpty(job.TriggerData)),
		InitialData:    nonEmpty(job.InitialData),
		ReplaySourceID: replaySourceID,
		ReplayMode:     replayMode,
		ReplayNodeID:   replayNodeID,
	})
	if err != nil {
		return fmt.Errorf("creating execution record: %w", err)
	}
	return nil
}

// resolveVersionID picks the workflow version a job runs against: a
// replay reuses its source execution's version, everything else runs the
// workflow's active production deployment.
func (e *Executor) resolveVersionID(ctx context.Context, q *db.Queries, job queue.ExecutionJob) (uuid.UUID, error) {
	if job.Replay != nil {
		source, err := q.GetExecution(ctx, job.Replay.SourceExecutionID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("fetching replay source execution: %w", err)
		}
		if source.VersionID == nil {
			return uuid.Nil, fmt.Errorf("replay source execution %s has no recorded version", source.ID)
		}
		return *source.VersionID, nil
	}
	deployment, err := q.GetActiveDeployment(ctx, job.WorkflowID, "production")
	if err != nil {
		return uuid.Nil, fmt.Errorf("fetching active production deployment: %w", err)
	}
	return deployment.VersionID, nil
}

// seedReplayOutputs pre-populates node outputs for a node-level replay:
// every node strictly before the replay node reuses its output from the
// replay source execution's history; the replay node and everything
// downstream of it (per restrictFromNode) re-execute.
func (e *Executor) seedReplayOutputs(ctx context.Context, q *db.Queries, order []string, job queue.ExecutionJob) (map[string]json.RawMessage, error) {
	outputs := make(map[string]json.RawMessage)
	if job.Replay == nil || job.Replay.Mode != queue.ReplayNode {
		return outputs, nil
	}

	history, err := q.ListNodeExecutions(ctx, job.Replay.SourceExecutionID)
	if err != nil {
		return nil, fmt.Errorf("loading replay source node history: %w", err)
	}
	latest := make(map[string]db.NodeExecution, len(history))
	for _, h := range history {
		if h.Status != "succeeded" {
			continue
		}
		if prev, ok := latest[h.NodeID]; !ok || h.StartedAt.After(prev.StartedAt) {
			latest[h.NodeID] = h
		}
	}

	rerun := make(map[string]struct{})
	for _, id := range restrictFromNode(order, job.Replay.NodeID) {
		rerun[id] = struct{}{}
	}
	for nodeID, h := range latest {
		if _, skip := rerun[nodeID]; skip {
			continue
		}
		outputs[nodeID] = h.Output
	}
	return outputs, nil
}

// runNode executes one action/transform/condition node's connector
// protocol (spec §4.6 steps 2-6): reference resolution, idempotency-cache
// lookup, circuit-breaker-wrapped invocation, and result handling.
func (e *Executor) runNode(ctx context.Context, q *db.Queries, conn *pgxpool.Conn, connSvc *connection.Service, job queue.ExecutionJob, node workflow.Node, outputs map[string]json.RawMessage) (nodeResult, error) {
	resolvedParams, err := resolveReferences(node.Params, outputs)
	if err != nil {
		if errors.Is(err, ErrMissingReference) {
			return nodeResult{failErr: err}, nil
		}
		return nodeResult{}, fmt.Errorf("resolving references: %w", err)
	}

	reqHash, err := requestHash(node.Op, resolvedParams)
	if err != nil {
		return nodeResult{}, err
	}
	idemKey := idempotencyKey(job.ExecutionID, node.ID, reqHash, resolvedParams)

	cached, err := q.GetNodeExecutionResult(ctx, job.ExecutionID, node.ID, idemKey)
	if err == nil && cached.ResultHash == reqHash {
		return nodeResult{output: cached.ResultData}, nil
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nodeResult{}, fmt.Errorf("looking up cached node result: %w", err)
	}

	attempt, err := q.CountNodeExecutionAttempts(ctx, job.ExecutionID, node.ID)
	if err != nil {
		return nodeResult{}, fmt.Errorf("counting node attempts: %w", err)
	}

	credentials := json.RawMessage(`{}`)
	if node.ConnectionID != nil {
		creds, err := connSvc.Credentials(ctx, *node.ConnectionID)
		if err != nil {
			return nodeResult{failErr: fmt.Errorf("resolving credentials for node %s: %w", node.ID, err)}, nil
		}
		b, err := json.Marshal(creds)
		if err != nil {
			return nodeResult{}, fmt.Errorf("encoding credentials: %w", err)
		}
		credentials = b
	}

	record, err := q.CreateNodeExecution(ctx, db.CreateNodeExecutionParams{
		ExecutionID:    job.ExecutionID,
		NodeID:         node.ID,
		Attempt:        attempt + 1,
		Status:         "running",
		Input:          Redact(resolvedParams),
		IdempotencyKey: &idemKey,
		RequestHash:    &reqHash,
	})
	if err != nil {
		return nodeResult{}, fmt.Errorf("recording node attempt: %w", err)
	}

	raw, err := e.breakers.execute(node.App, func() (any, error) {
		return e.invoker.Execute(ctx, node.App, node.Op, credentials, resolvedParams)
	})
	var result connector.Result
	if err != nil {
		if !errors.Is(err, ErrCircuitOpen) {
			return nodeResult{}, fmt.Errorf("invoking connector: %w", err)
		}
		result = connector.Result{Kind: connector.KindRetry, Message: err.Error()}
	} else {
		result = raw.(connector.Result)
	}

	switch result.Kind {
	case connector.KindOk:
		output := result.Output
		if output == nil {
			output = json.RawMessage(`null`)
		}
		if err := q.FinishNodeExecution(ctx, record.ID, "succeeded", Redact(output), nil); err != nil {
			return nodeResult{}, fmt.Errorf("recording node success: %w", err)
		}
		if err := q.PutNodeExecutionResult(ctx, db.PutNodeExecutionResultParams{
			ExecutionID:    job.ExecutionID,
			NodeID:         node.ID,
			IdempotencyKey: idemKey,
			ResultHash:     reqHash,
			ResultData:     output,
			ExpiresAt:      time.Now().Add(nodeResultTTL),
		}); err != nil {
			e.logger.Error("caching node result", "execution_id", job.ExecutionID, "node_id", node.ID, "error", err)
		}
		return nodeResult{output: output, metering: meteringFromMetadata(result.Metadata)}, nil

	case connector.KindCallback:
		if err := e.suspendOnCallback(ctx, q, conn, job, node, outputs, result); err != nil {
			return nodeResult{}, err
		}
		return nodeResult{suspend: true}, nil

	case connector.KindRetry, connector.KindFail:
		retryable := result.Kind == connector.KindRetry || result.FailureKind == connector.FailureRetryable
		msg := result.Message
		if msg == "" {
			msg = "connector reported a failure"
		}
		if retryable {
			if err := q.FinishNodeExecution(ctx, record.ID, "retrying", nil, &msg); err != nil {
				return nodeResult{}, fmt.Errorf("recording node retry: %w", err)
			}
			if int(attempt)+1 >= maxNodeAttempts {
				return nodeResult{failErr: fmt.Errorf("node %s exhausted retries: %s", node.ID, msg)}, nil
			}
			delay := result.RetryDelay
			if delay <= 0 {
				delay = retryDelay(int(attempt))
			}
			return nodeResult{retry: &delay}, nil
		}
		if err := q.FinishNodeExecution(ctx, record.ID, "failed", nil, &msg); err != nil {
			return nodeResult{}, fmt.Errorf("recording node failure: %w", err)
		}
		return nodeResult{failErr: fmt.Errorf("node %s: %s", node.ID, msg)}, nil

	default:
		return nodeResult{failErr: fmt.Errorf("node %s: connector returned unknown result kind %q", node.ID, result.Kind)}, nil
	}
}

// suspendOnCallback issues a resume token for node and, if the connector
// asked to wait until a specific time, schedules a workflow_timer to
// re-enqueue the execution when that time arrives (spec §4.7).
func (e *Executor) suspendOnCallback(ctx context.Context, q *db.Queries, conn *pgxpool.Conn, job queue.ExecutionJob, node workflow.Node, outputs map[string]json.RawMessage, result connector.Result) error {
	resumeState := queue.ResumeState{StartNodeID: node.ID, NodeOutputs: outputs}
	resumeStateJSON, err := json.Marshal(resumeState)
	if err != nil {
		return fmt.Errorf("encoding resume state: %w", err)
	}
	metadata, err := json.Marshal(result.Metadata)
	if err != nil {
		metadata = json.RawMessage(`{}`)
	}

	resumeSvc := resume.NewService(q, e.pool, e.crypto, e.publicURL)
	issued, err := resumeSvc.IssueToken(ctx, resume.IssueRequest{
		ExecutionID:    job.ExecutionID,
		WorkflowID:     job.WorkflowID,
		OrganizationID: job.OrganizationID,
		NodeID:         node.ID,
		ResumeState:    resumeStateJSON,
		InitialData:    job.InitialData,
		TriggerType:    job.TriggerType,
		WaitUntil:      result.WaitUntil,
		Metadata:       metadata,
	})
	if err != nil {
		return fmt.Errorf("issuing resume token: %w", err)
	}

	if result.WaitUntil != nil {
		if _, err := timer.Schedule(ctx, conn, job.ExecutionID, *result.WaitUntil, timer.Payload{
			WorkflowID:     job.WorkflowID,
			OrganizationID: job.OrganizationID,
			NodeID:         node.ID,
			TriggerType:    job.TriggerType,
			ResumeState:    &resumeState,
			InitialData:    job.InitialData,
		}); err != nil {
			return fmt.Errorf("scheduling wait timer: %w", err)
		}
	}

	e.logger.Info("node suspended on callback",
		"execution_id", job.ExecutionID, "node_id", node.ID, "resume_token_id", issued.TokenID, "wait_until", result.WaitUntil)
	return nil
}

func (e *Executor) complete(ctx context.Context, q *db.Queries, job queue.ExecutionJob, info *organization.Info, outputs map[string]json.RawMessage, metering Metering) (Outcome, error) {
	if err := q.CompleteExecution(ctx, db.CompleteExecutionParams{
		ID:           job.ExecutionID,
		Status:       "completed",
		NodeResults:  Redact(marshalOutputs(outputs)),
		APICallsMade: metering.APICallsMade,
		TokensUsed:   metering.TokensUsed,
		Cost:         metering.Cost,
	}); err != nil {
		return Outcome{}, fmt.Errorf("completing execution: %w", err)
	}
	e.logger.Info("execution completed", "execution_id", job.ExecutionID, "organization", info.Slug)
	return Outcome{Ack: true}, nil
}

func (e *Executor) fail(ctx context.Context, q *db.Queries, job queue.ExecutionJob, info *organization.Info, outputs map[string]json.RawMessage, cause error) (Outcome, error) {
	errDetails, _ := json.Marshal(map[string]string{"message": cause.Error()})
	if err := q.CompleteExecution(ctx, db.CompleteExecutionParams{
		ID:           job.ExecutionID,
		Status:       "failed",
		NodeResults:  Redact(marshalOutputs(outputs)),
		ErrorDetails: Redact(errDetails),
	}); err != nil {
		return Outcome{}, fmt.Errorf("marking execution failed: %w", err)
	}
	e.logger.Warn("execution failed", "execution_id", job.ExecutionID, "organization", info.Slug, "error", cause)
	return Outcome{Ack: true}, nil
}

func (e *Executor) cancel(ctx context.Context, q *db.Queries, job queue.ExecutionJob, info *organization.Info, outputs map[string]json.RawMessage, metering Metering) (Outcome, error) {
	if err := q.CompleteExecution(ctx, db.CompleteExecutionParams{
		ID:           job.ExecutionID,
		Status:       "cancelled",
		NodeResults:  Redact(marshalOutputs(outputs)),
		APICallsMade: metering.APICallsMade,
		TokensUsed:   metering.TokensUsed,
		Cost:         metering.Cost,
	}); err != nil {
		return Outcome{}, fmt.Errorf("marking execution cancelled: %w", err)
	}
	e.logger.Info("execution cancelled", "execution_id", job.ExecutionID, "organization", info.Slug)
	return Outcome{Ack: true}, nil
}

func marshalOutputs(outputs map[string]json.RawMessage) json.RawMessage {
	b, err := json.Marshal(outputs)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func nonEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

// retryDelay computes a retryable node's redelivery delay via
// cenkalti/backoff's exponential backoff with jitter, stepped to the
// current attempt number (spec §4.6 step 6: "exponential backoff + jitter
// redelivery").
func retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval

	delay := b.InitialInterval
	for i := 0; i <= attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
