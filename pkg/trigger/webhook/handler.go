package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/orchestra/internal/auth"
	"github.com/wisbric/orchestra/internal/db"
	"github.com/wisbric/orchestra/internal/httpserver"
	"github.com/wisbric/orchestra/internal/organization"
	"github.com/wisbric/orchestra/pkg/queue"
)

// Handler serves webhook trigger registration (authenticated,
// organization-scoped, mounted under /api) and inbound delivery receipt
// (unauthenticated by session, mounted on the base router and verified by
// provider signature instead; spec §4.4.1).
type Handler struct {
	pool   *pgxpool.Pool
	queue  queue.Queue
	logger *slog.Logger
}

// NewHandler constructs a webhook Handler. pool is the unscoped database
// pool: registration routes scope a connection from request context like
// other organization-scoped handlers, but the inbound receive route has no
// request context to scope from and must resolve its organization itself.
func NewHandler(pool *pgxpool.Pool, q queue.Queue, logger *slog.Logger) *Handler {
	return &Handler{pool: pool, queue: q, logger: logger}
}

// Routes returns the authenticated registration routes, mounted under /api
// alongside the rest of the organization-scoped API.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/workflows/{workflowId}/webhooks", h.handleRegister)
	r.Get("/workflows/{workflowId}/webhooks", h.handleList)
	r.Delete("/webhooks/{id}", h.handleDeregister)
	return r
}

// PublicRoutes returns the inbound delivery route, mounted on the base
// router without organization or auth middleware.
func (h *Handler) PublicRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/webhooks/{webhookId}", h.handleReceive)
	return r
}

func (h *Handler) service(r *http.Request) (*Service, *auth.Identity, bool) {
	id := auth.FromContext(r.Context())
	if id == nil {
		return nil, nil, false
	}
	conn := organization.ConnFromContext(r.Context())
	if conn == nil {
		return nil, nil, false
	}
	return NewService(conn, h.queue, h.logger), id, true
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	svc, _, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	workflowID, err := uuid.Parse(chi.URLParam(r, "workflowId"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid workflow id")
		return
	}

	org := organization.FromContext(r.Context())

	var body struct {
		AppID     string  `json:"appId" validate:"required"`
		TriggerID string  `json:"triggerId" validate:"required"`
		Provider  string  `json:"provider"`
		Secret    *string `json:"secret"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	trigger, err := svc.Register(r.Context(), RegisterRequest{
		WorkflowID:     workflowID,
		OrganizationID: org.ID,
		AppID:          body.AppID,
		TriggerID:      body.TriggerID,
		Provider:       body.Provider,
		Secret:         body.Secret,
	})
	if err != nil {
		h.logger.Error("registering webhook trigger", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed registering webhook trigger")
		return
	}
	httpserver.Respond(w, http.StatusCreated, redactTrigger(trigger))
}

// redactTrigger strips the signing secret before a trigger is serialized
// into an API response; it is write-only from the caller's perspective
// after registration.
func redactTrigger(t db.WebhookTrigger) db.WebhookTrigger {
	t.Secret = nil
	return t
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	svc, _, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	workflowID, err := uuid.Parse(chi.URLParam(r, "workflowId"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid workflow id")
		return
	}
	triggers, err := svc.ListForWorkflow(r.Context(), workflowID)
	if err != nil {
		h.logger.Error("listing webhook triggers", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed listing webhook triggers")
		return
	}
	for i := range triggers {
		triggers[i] = redactTrigger(triggers[i])
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"webhooks": triggers, "count": len(triggers)})
}

func (h *Handler) handleDeregister(w http.ResponseWriter, r *http.Request) {
	svc, _, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid webhook id")
		return
	}
	if err := svc.Deregister(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "webhook trigger not found")
			return
		}
		h.logger.Error("deregistering webhook trigger", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed deregistering webhook trigger")
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

// handleReceive accepts one inbound delivery. It has no organization or
// auth middleware upstream — the only tenant information available is the
// webhookId path segment — so it resolves the owning organization from
// public.webhook_routes before it can do anything else.
func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhookId")

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "failed reading request body")
		return
	}

	globalQ := db.New(h.pool)
	organizationID, err := globalQ.GetWebhookRouteOrganization(r.Context(), webhookID)
	if errors.Is(err, pgx.ErrNoRows) {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "unknown webhook id")
		return
	}
	if err != nil {
		h.logger.Error("resolving webhook route", "webhook_id", webhookID, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed resolving webhook route")
		return
	}

	org, err := globalQ.GetOrganization(r.Context(), organizationID)
	if err != nil {
		h.logger.Error("resolving organization", "organization_id", organizationID, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed resolving organization")
		return
	}

	conn, info, err := organization.ScopeConnection(r.Context(), h.pool, org.Slug, org.ID, org.Name)
	if err != nil {
		h.logger.Error("scoping organization connection", "organization_id", organizationID, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed scoping organization connection")
		return
	}
	defer conn.Release()

	svc := NewService(conn, h.queue, h.logger)
	executionID, err := svc.Receive(r.Context(), webhookID, r, body, info.ID)
	if err != nil {
		var fail *VerificationFailure
		switch {
		case errors.As(err, &fail):
			httpserver.RespondError(w, http.StatusUnauthorized, string(fail.Reason), fail.Error())
		case errors.Is(err, ErrWebhookNotFound):
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "unknown or inactive webhook id")
		case errors.Is(err, ErrDuplicateDelivery):
			// Already processed: report success so the sender doesn't retry.
			httpserver.Respond(w, http.StatusOK, map[string]string{"status": "duplicate"})
		default:
			h.logger.Error("receiving webhook delivery", "webhook_id", webhookID, "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed processing webhook delivery")
		}
		return
	}

	httpserver.Respond(w, http.StatusAccepted, map[string]string{
		"status":      "accepted",
		"executionId": executionID.String(),
	})
}
