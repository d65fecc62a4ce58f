package polling

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/orchestra/internal/auth"
	"github.com/wisbric/orchestra/internal/httpserver"
	"github.com/wisbric/orchestra/internal/organization"
)

// Handler serves polling trigger registration. Unlike webhook ingestion,
// polling has no public inbound route — delivery happens entirely through
// Dispatcher's background ticks — so every route here is authenticated and
// organization-scoped, mounted under /api.
type Handler struct {
	logger *slog.Logger
}

// NewHandler constructs a polling Handler.
func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

func (h *Handler) service(r *http.Request) (*Service, bool) {
	if auth.FromContext(r.Context()) == nil {
		return nil, false
	}
	conn := organization.ConnFromContext(r.Context())
	if conn == nil {
		return nil, false
	}
	return NewService(conn), true
}

// Routes returns a chi.Router with the polling trigger registration routes
// mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/workflows/{workflowId}/polling-triggers", h.handleRegister)
	r.Get("/workflows/{workflowId}/polling-triggers", h.handleList)
	r.Delete("/polling-triggers/{id}", h.handleDeregister)
	return r
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	workflowID, err := uuid.Parse(chi.URLParam(r, "workflowId"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid workflow id")
		return
	}

	var body struct {
		ConnectionID *uuid.UUID `json:"connectionId"`
		AppID        string     `json:"appId" validate:"required"`
		TriggerID    string     `json:"triggerId" validate:"required"`
		Op           string     `json:"op" validate:"required"`
		IntervalSecs int32      `json:"intervalSecs"`
		DedupeKey    *string    `json:"dedupeKey"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	trigger, err := svc.Register(r.Context(), RegisterRequest{
		WorkflowID:   workflowID,
		ConnectionID: body.ConnectionID,
		AppID:        body.AppID,
		TriggerID:    body.TriggerID,
		Op:           body.Op,
		IntervalSecs: body.IntervalSecs,
		DedupeKey:    body.DedupeKey,
	})
	if err != nil {
		h.logger.Error("registering polling trigger", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed registering polling trigger")
		return
	}
	httpserver.Respond(w, http.StatusCreated, trigger)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(r)
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
		h.logger.Error("listing polling triggers", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed listing polling triggers")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"pollingTriggers": triggers, "count": len(triggers)})
}

func (h *Handler) handleDeregister(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid polling trigger id")
		return
	}
	if err := svc.Deregister(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "polling trigger not found")
			return
		}
		h.logger.Error("deregistering polling trigger", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed deregistering polling trigger")
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}
