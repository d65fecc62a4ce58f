package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/orchestra/internal/db"
	"github.com/wisbric/orchestra/pkg/queue"
)

// maxDedupeTokensPerTrigger bounds the FIFO dedup window (spec §4.4.1).
const maxDedupeTokensPerTrigger = 500

// ErrDuplicateDelivery is returned when a delivery's dedup token has
// already been recorded for its trigger.
var ErrDuplicateDelivery = errors.New("webhook: duplicate delivery")

// ErrWebhookNotFound is returned when no active trigger matches the
// requested webhook id.
var ErrWebhookNotFound = errors.New("webhook: unknown or inactive webhook id")

// RegisterRequest carries the parameters for registering a new webhook
// trigger binding.
type RegisterRequest struct {
	WorkflowID     uuid.UUID
	OrganizationID uuid.UUID
	AppID          string
	TriggerID      string
	Provider       string
	Secret         *string
	CreatedAt      time.Time
}

// Service implements webhook trigger registration and inbound delivery
// handling (spec §4.4.1).
type Service struct {
	q      *db.Queries
	queue  queue.Queue
	logger *slog.Logger
}

// NewService constructs a Service against an organization-scoped
// connection.
func NewService(conn db.DBTX, q queue.Queue, logger *slog.Logger) *Service {
	return &Service{q: db.New(conn), queue: q, logger: logger}
}

// Register creates a new webhook trigger binding, deriving its public
// webhook id from the app/trigger/workflow identity and registration time
// (spec §4.4.1), and records a public.webhook_routes entry so inbound
// deliveries can resolve the owning organization from the webhook id alone.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (db.WebhookTrigger, error) {
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	webhookID := DeriveWebhookID(req.AppID, req.TriggerID, req.WorkflowID.String(), createdAt)

	provider := req.Provider
	if provider == "" {
		provider = "generic"
	}

	trigger, err := s.q.CreateWebhookTrigger(ctx, db.CreateWebhookTriggerParams{
		WebhookID:  webhookID,
		WorkflowID: req.WorkflowID,
		AppID:      req.AppID,
		TriggerID:  req.TriggerID,
		Secret:     req.Secret,
		Provider:   provider,
	})
	if err != nil {
		return db.WebhookTrigger{}, err
	}

	if err := s.q.CreateWebhookRoute(ctx, webhookID, req.OrganizationID); err != nil {
		return db.WebhookTrigger{}, fmt.Errorf("recording webhook route: %w", err)
	}
	return trigger, nil
}

// Deregister deactivates a webhook trigger binding and removes its global
// routing entry.
func (s *Service) Deregister(ctx context.Context, id uuid.UUID) error {
	trigger, err := s.q.GetWebhookTriggerByID(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching webhook trigger: %w", err)
	}
	if err := s.q.DeactivateWebhookTrigger(ctx, id); err != nil {
		return err
	}
	if err := s.q.DeleteWebhookRoute(ctx, trigger.WebhookID); err != nil {
		return fmt.Errorf("removing webhook route: %w", err)
	}
	return nil
}

// ListForWorkflow lists a workflow's registered webhooks.
func (s *Service) ListForWorkflow(ctx context.Context, workflowID uuid.UUID) ([]db.WebhookTrigger, error) {
	return s.q.ListWebhookTriggersByWorkflow(ctx, workflowID)
}

// Receive handles one inbound webhook delivery: it looks up the trigger,
// verifies the provider signature, checks and records the dedup token,
// and enqueues an execution job (spec §4.4.1). A duplicate delivery is
// not an error condition the caller needs to retry over — it returns
// ErrDuplicateDelivery so the HTTP layer can 200 it as already-handled.
func (s *Service) Receive(ctx context.Context, webhookID string, r *http.Request, body []byte, organizationID uuid.UUID) (uuid.UUID, error) {
	trigger, err := s.q.GetWebhookTriggerByWebhookID(ctx, webhookID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrWebhookNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("fetching webhook trigger: %w", err)
	}

	secret := ""
	if trigger.Secret != nil {
		secret = *trigger.Secret
	}
	if fail := Verify(trigger.Provider, secret, r, body); fail != nil {
		s.recordEvent(ctx, webhookID, "", nil, fail.Error())
		return uuid.Nil, fail
	}

	token := DedupeToken(trigger.WorkflowID.String(), webhookID, trigger.TriggerID, sourceFromRequest(r), json.RawMessage(body))
	inserted, err := s.q.InsertDedupeToken(ctx, trigger.TriggerID, token)
	if err != nil {
		return uuid.Nil, fmt.Errorf("recording dedup token: %w", err)
	}
	if !inserted {
		s.recordEvent(ctx, webhookID, token, nil, "duplicate delivery")
		return uuid.Nil, ErrDuplicateDelivery
	}
	if err := s.q.EvictOldestDedupeTokens(ctx, trigger.TriggerID, maxDedupeTokensPerTrigger); err != nil {
		s.logger.Error("evicting dedup tokens", "trigger_id", trigger.TriggerID, "error", err)
	}

	executionID := uuid.New()
	job := queue.ExecutionJob{
		ExecutionID:    executionID,
		WorkflowID:     trigger.WorkflowID,
		OrganizationID: organizationID,
		TriggerType:    "webhook",
		TriggerData:    json.RawMessage(body),
	}
	if err := s.queue.Enqueue(ctx, job, 0); err != nil {
		s.recordEvent(ctx, webhookID, token, nil, "enqueue failed: "+err.Error())
		return uuid.Nil, fmt.Errorf("enqueuing execution: %w", err)
	}

	s.recordEvent(ctx, webhookID, token, &executionID, "")
	return executionID, nil
}

func (s *Service) recordEvent(ctx context.Context, webhookID, dedupeToken string, executionID *uuid.UUID, errMsg string) {
	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}
	if _, err := s.q.RecordWebhookEvent(ctx, db.RecordWebhookEventParams{
		WebhookID:   webhookID,
		DedupeToken: dedupeToken,
		ExecutionID: executionID,
		Error:       errPtr,
	}); err != nil {
		s.logger.Error("recording webhook event", "webhook_id", webhookID, "error", err)
	}
}

func sourceFromRequest(r *http.Request) string {
	if ua := r.Header.Get("User-Agent"); ua != "" {
		return ua
	}
	return r.RemoteAddr
}
