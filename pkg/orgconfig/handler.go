package orgconfig

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/orchestra/internal/audit"
	"github.com/wisbric/orchestra/internal/db"
	"github.com/wisbric/orchestra/internal/httpserver"
	"github.com/wisbric/orchestra/internal/organization"
)

// Handler serves the organization security settings endpoints. Mounted
// under /api/organization/security, restricted to owners/admins by the
// caller's router wiring (auth.RequireMinRole(auth.RoleAdmin) in app.go).
type Handler struct {
	logger *slog.Logger
	audit  *audit.Writer
}

// NewHandler creates an orgconfig Handler.
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer) *Handler {
	return &Handler{logger: logger, audit: auditWriter}
}

// Routes returns a chi.Router with the security settings routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleGet)
	r.Put("/", h.handlePut)
	return r
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	info := organization.FromContext(r.Context())
	q := db.New(organization.ConnFromContext(r.Context()))

	org, err := q.GetOrganization(r.Context(), info.ID)
	if err != nil {
		h.logger.Error("getting organization", "error", err, "organization_id", info.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load security settings")
		return
	}
	httpserver.Respond(w, http.StatusOK, FromConfig(org.Config))
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	var req Settings
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	info := organization.FromContext(r.Context())
	q := db.New(organization.ConnFromContext(r.Context()))

	org, err := q.GetOrganization(r.Context(), info.ID)
	if err != nil {
		h.logger.Error("getting organization", "error", err, "organization_id", info.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load security settings")
		return
	}

	merged, err := MergeIntoConfig(org.Config, req)
	if err != nil {
		h.logger.Error("merging security settings", "error", err, "organization_id", info.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to encode security settings")
		return
	}

	updated, err := q.UpdateConfig(r.Context(), db.UpdateConfigParams{ID: info.ID, Config: merged})
	if err != nil {
		h.logger.Error("updating security settings", "error", err, "organization_id", info.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update security settings")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "update_security_settings", "organization", info.ID, org.Config)
	}
	httpserver.Respond(w, http.StatusOK, FromConfig(updated.Config))
}
