package polling

import (
	"context"

	"github.com/google/uuid"

	"github.com/wisbric/orchestra/internal/db"
)

// RegisterRequest carries the parameters for registering a new polling
// trigger binding.
type RegisterRequest struct {
	WorkflowID   uuid.UUID
	ConnectionID *uuid.UUID
	AppID        string
	TriggerID    string
	Op           string
	IntervalSecs int32
	DedupeKey    *string
}

// Service implements polling trigger registration (spec §4.4.2); the
// scheduling and poll execution itself is Dispatcher's job.
type Service struct {
	q *db.Queries
}

// NewService constructs a Service against an organization-scoped
// connection.
func NewService(conn db.DBTX) *Service {
	return &Service{q: db.New(conn)}
}

// Register creates a new polling trigger, due immediately on the next
// dispatch tick.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (db.PollingTrigger, error) {
	intervalSecs := req.IntervalSecs
	if intervalSecs <= 0 {
		intervalSecs = 60
	}
	return s.q.CreatePollingTrigger(ctx, db.CreatePollingTriggerParams{
		WorkflowID:   req.WorkflowID,
		ConnectionID: req.ConnectionID,
		AppID:        req.AppID,
		TriggerID:    req.TriggerID,
		Op:           req.Op,
		IntervalSecs: intervalSecs,
		DedupeKey:    req.DedupeKey,
	})
}

// Deregister deactivates a polling trigger.
func (s *Service) Deregister(ctx context.Context, id uuid.UUID) error {
	return s.q.DeactivatePollingTrigger(ctx, id)
}

// Get fetches a single polling trigger by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (db.PollingTrigger, error) {
	return s.q.GetPollingTrigger(ctx, id)
}

// ListForWorkflow lists a workflow's registered polling triggers.
func (s *Service) ListForWorkflow(ctx context.Context, workflowID uuid.UUID) ([]db.PollingTrigger, error) {
	return s.q.ListPollingTriggersByWorkflow(ctx, workflowID)
}
