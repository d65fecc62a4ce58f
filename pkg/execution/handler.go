package execution

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/orchestra/internal/admission"
	"github.com/wisbric/orchestra/internal/auth"
	"github.com/wisbric/orchestra/internal/httpserver"
	"github.com/wisbric/orchestra/internal/organization"
	"github.com/wisbric/orchestra/pkg/queue"
)

// Handler serves the manual-enqueue and replay HTTP API (spec §6).
type Handler struct {
	pool      *pgxpool.Pool
	queue     queue.Queue
	admission *admission.Service
	logger    *slog.Logger
}

// NewHandler constructs an execution Handler. pool is the unscoped root
// pool, needed by the admission pre-check to resolve an organization's plan.
func NewHandler(pool *pgxpool.Pool, q queue.Queue, admissionSvc *admission.Service, logger *slog.Logger) *Handler {
	return &Handler{pool: pool, queue: q, admission: admissionSvc, logger: logger}
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
	return NewService(h.pool, conn, h.queue, h.admission, h.logger), id, true
}

// Routes returns a chi.Router with the execution endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleEnqueue)
	r.Get("/{executionId}", h.handleGetRun)
	r.Post("/{executionId}/retry", h.handleRetryFull)
	r.Post("/{executionId}/nodes/{nodeId}/retry", h.handleRetryNode)
	return r
}

func parseIDParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

func respondExecutionError(w http.ResponseWriter, logger *slog.Logger, err error, action string) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "execution not found")
	case errors.Is(err, ErrQuotaExceeded):
		httpserver.RespondError(w, http.StatusTooManyRequests, "quota_exceeded", err.Error())
	case errors.Is(err, ErrNodeNotFound):
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		logger.Error(action, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed "+action)
	}
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	svc, id, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	var body struct {
		WorkflowID  uuid.UUID       `json:"workflowId" validate:"required"`
		InitialData json.RawMessage `json:"initialData"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	executionID, err := svc.Enqueue(r.Context(), EnqueueRequest{
		WorkflowID:     body.WorkflowID,
		OrganizationID: id.OrganizationID,
		UserID:         id.UserID,
		InitialData:    body.InitialData,
	})
	if err != nil {
		respondExecutionError(w, h.logger, err, "enqueuing execution")
		return
	}
	httpserver.Respond(w, http.StatusCreated, map[string]string{"executionId": executionID.String()})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	svc, _, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	executionID, err := parseIDParam(r, "executionId")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid execution id")
		return
	}
	detail, err := svc.GetRun(r.Context(), executionID)
	if err != nil {
		respondExecutionError(w, h.logger, err, "fetching execution")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"execution": detail.Execution, "nodes": detail.Nodes})
}

func (h *Handler) handleRetryFull(w http.ResponseWriter, r *http.Request) {
	svc, id, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	executionID, err := parseIDParam(r, "executionId")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid execution id")
		return
	}

	newExecutionID, err := svc.RetryFull(r.Context(), executionID, RetryRequest{
		OrganizationID: id.OrganizationID,
		UserID:         id.UserID,
		TriggeredBy:    id.Subject,
	})
	if err != nil {
		respondExecutionError(w, h.logger, err, "retrying execution")
		return
	}
	httpserver.Respond(w, http.StatusCreated, map[string]string{"executionId": newExecutionID.String()})
}

func (h *Handler) handleRetryNode(w http.ResponseWriter, r *http.Request) {
	svc, id, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	executionID, err := parseIDParam(r, "executionId")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid execution id")
		return
	}
	nodeID := chi.URLParam(r, "nodeId")

	newExecutionID, err := svc.RetryNode(r.Context(), executionID, nodeID, RetryRequest{
		OrganizationID: id.OrganizationID,
		UserID:         id.UserID,
		TriggeredBy:    id.Subject,
	})
	if err != nil {
		respondExecutionError(w, h.logger, err, "retrying execution node")
		return
	}
	httpserver.Respond(w, http.StatusCreated, map[string]string{"executionId": newExecutionID.String()})
}
