package member

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/orchestra/internal/audit"
	"github.com/wisbric/orchestra/internal/db"
	"github.com/wisbric/orchestra/internal/httpserver"
	"github.com/wisbric/orchestra/internal/organization"
)

// Handler serves organization membership management, mounted under /api
// alongside the rest of the organization-scoped surface.
type Handler struct {
	logger *slog.Logger
	audit  *audit.Writer
}

// NewHandler creates a member Handler.
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer) *Handler {
	return &Handler{logger: logger, audit: auditWriter}
}

// Routes returns a chi.Router with all membership routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}/role", h.handleUpdateRole)
	r.Delete("/{id}", h.handleDeactivate)
	return r
}

func (h *Handler) service(r *http.Request) *Service {
	conn := organization.ConnFromContext(r.Context())
	return NewService(db.New(conn))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.service(r).List(r.Context())
	if err != nil {
		h.logger.Error("listing members", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list members")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"members": items, "count": len(items)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid member id")
		return
	}
	resp, err := h.service(r).Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "member not found")
			return
		}
		h.logger.Error("getting member", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get member")
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid member id")
		return
	}
	var req UpdateRoleRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service(r).UpdateRole(r.Context(), id, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRole):
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid role")
		case errors.Is(err, ErrLastOwner):
			httpserver.RespondError(w, http.StatusConflict, "last_owner", "organization must retain at least one owner")
		case errors.Is(err, pgx.ErrNoRows):
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "member not found")
		default:
			h.logger.Error("updating member role", "error", err, "id", id)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update member role")
		}
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"role": resp.Role})
		h.audit.LogFromRequest(r, "update_role", "member", resp.ID, detail)
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid member id")
		return
	}

	if err := h.service(r).Deactivate(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, ErrLastOwner):
			httpserver.RespondError(w, http.StatusConflict, "last_owner", "organization must retain at least one owner")
		case errors.Is(err, pgx.ErrNoRows):
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "member not found")
		default:
			h.logger.Error("deactivating member", "error", err, "id", id)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to deactivate member")
		}
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "deactivate", "member", id, nil)
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}
