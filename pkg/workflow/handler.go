package workflow

import (
	"encoding/json"
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

// Handler serves the workflow repository and version/diff engine HTTP
// API (spec §4.3).
type Handler struct {
	logger *slog.Logger
}

// NewHandler constructs a workflow Handler.
func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
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
	return NewService(conn, h.logger), id, true
}

// Routes returns a chi.Router with the workflow repository's routes
// mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreateWorkflow)
	r.Get("/", h.handleListWorkflows)
	r.Get("/{id}", h.handleGetWorkflow)
	r.Put("/{id}", h.handleUpdateGraph)
	r.Delete("/{id}", h.handleDeleteWorkflow)

	r.Post("/{id}/versions", h.handleCreateVersion)
	r.Get("/{id}/versions", h.handleListVersions)
	r.Post("/versions/{versionId}/publish", h.handlePublish)
	r.Get("/versions/{versionId}/diff", h.handleValidateDiff)

	r.Post("/{id}/deployments", h.handlePromote)
	r.Get("/{id}/deployments", h.handleListDeployments)
	r.Post("/{id}/deployments/{deploymentId}/rollback", h.handleRollback)
	return r
}

func parseIDParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

func respondWorkflowError(w http.ResponseWriter, logger *slog.Logger, err error, action string) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "workflow not found")
	case errors.Is(err, ErrVersionNotDraft), errors.Is(err, ErrSourceNotPublished), errors.Is(err, ErrNotStagedInTest):
		httpserver.RespondError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, ErrBreakingChangesUnacknowledged):
		httpserver.RespondError(w, http.StatusConflict, "breaking_changes", err.Error())
	case errors.Is(err, ErrDuplicateNodeID), errors.Is(err, ErrDanglingEdge), errors.Is(err, ErrSelfLoop),
		errors.Is(err, ErrNoEntryNode), errors.Is(err, ErrMultipleEntryNodes), errors.Is(err, ErrCycle):
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_graph", err.Error())
	default:
		logger.Error(action, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed "+action)
	}
}

func (h *Handler) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	svc, id, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	var body struct {
		Name        string  `json:"name" validate:"required"`
		Description *string `json:"description"`
		Graph       Graph   `json:"graph" validate:"required"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	wf, err := svc.CreateWorkflow(r.Context(), body.Name, body.Description, body.Graph, id.UserID)
	if err != nil {
		respondWorkflowError(w, h.logger, err, "creating workflow")
		return
	}
	httpserver.Respond(w, http.StatusCreated, wf)
}

func (h *Handler) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	svc, _, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	workflows, err := svc.ListWorkflows(r.Context())
	if err != nil {
		respondWorkflowError(w, h.logger, err, "listing workflows")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"workflows": workflows, "count": len(workflows)})
}

func (h *Handler) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	svc, _, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	id, err := parseIDParam(r, "id")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid workflow id")
		return
	}
	wf, err := svc.GetWorkflow(r.Context(), id)
	if err != nil {
		respondWorkflowError(w, h.logger, err, "fetching workflow")
		return
	}
	httpserver.Respond(w, http.StatusOK, wf)
}

func (h *Handler) handleUpdateGraph(w http.ResponseWriter, r *http.Request) {
	svc, _, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	id, err := parseIDParam(r, "id")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid workflow id")
		return
	}

	var body struct {
		Name  string `json:"name" validate:"required"`
		Graph Graph  `json:"graph" validate:"required"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	wf, err := svc.UpdateGraph(r.Context(), id, body.Name, body.Graph)
	if err != nil {
		respondWorkflowError(w, h.logger, err, "updating workflow graph")
		return
	}
	httpserver.Respond(w, http.StatusOK, wf)
}

func (h *Handler) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	svc, _, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	id, err := parseIDParam(r, "id")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid workflow id")
		return
	}
	if err := svc.DeleteWorkflow(r.Context(), id); err != nil {
		respondWorkflowError(w, h.logger, err, "deleting workflow")
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	svc, id, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	workflowID, err := parseIDParam(r, "id")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid workflow id")
		return
	}

	var body struct {
		Graph    Graph           `json:"graph" validate:"required"`
		Metadata json.RawMessage `json:"metadata"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	v, err := svc.CreateVersion(r.Context(), workflowID, body.Graph, body.Metadata, id.UserID)
	if err != nil {
		respondWorkflowError(w, h.logger, err, "creating workflow version")
		return
	}
	httpserver.Respond(w, http.StatusCreated, v)
}

func (h *Handler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	svc, _, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	workflowID, err := parseIDParam(r, "id")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid workflow id")
		return
	}
	versions, err := svc.ListVersions(r.Context(), workflowID)
	if err != nil {
		respondWorkflowError(w, h.logger, err, "listing workflow versions")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"versions": versions, "count": len(versions)})
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	svc, id, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	versionID, err := parseIDParam(r, "versionId")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid version id")
		return
	}
	v, err := svc.Publish(r.Context(), versionID, id.UserID)
	if err != nil {
		respondWorkflowError(w, h.logger, err, "publishing workflow version")
		return
	}
	httpserver.Respond(w, http.StatusOK, v)
}

func (h *Handler) handleValidateDiff(w http.ResponseWriter, r *http.Request) {
	svc, _, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	versionID, err := parseIDParam(r, "versionId")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid version id")
		return
	}
	targetEnv := Environment(r.URL.Query().Get("environment"))
	if targetEnv == "" {
		targetEnv = EnvProduction
	}
	diff, err := svc.Validate(r.Context(), versionID, targetEnv)
	if err != nil {
		respondWorkflowError(w, h.logger, err, "computing workflow diff")
		return
	}
	httpserver.Respond(w, http.StatusOK, diff)
}

func (h *Handler) handlePromote(w http.ResponseWriter, r *http.Request) {
	svc, id, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	if _, err := parseIDParam(r, "id"); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid workflow id")
		return
	}

	var body struct {
		VersionID           uuid.UUID `json:"versionId" validate:"required"`
		Environment         string    `json:"environment" validate:"required"`
		AllowNonStagedProd  bool      `json:"allowNonStagedProd"`
		AcknowledgeBreaking bool      `json:"acknowledgeBreaking"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	deployment, diff, err := svc.Promote(r.Context(), PromoteRequest{
		VersionID:           body.VersionID,
		TargetEnv:           Environment(body.Environment),
		DeployedBy:          id.UserID,
		AllowNonStagedProd:  body.AllowNonStagedProd,
		AcknowledgeBreaking: body.AcknowledgeBreaking,
	})
	if err != nil {
		if errors.Is(err, ErrBreakingChangesUnacknowledged) {
			httpserver.Respond(w, http.StatusConflict, map[string]any{"error": "breaking_changes", "diff": diff})
			return
		}
		respondWorkflowError(w, h.logger, err, "promoting workflow version")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"deployment": deployment, "diff": diff})
}

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	svc, _, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	workflowID, err := parseIDParam(r, "id")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid workflow id")
		return
	}
	deployments, err := svc.ListDeployments(r.Context(), workflowID)
	if err != nil {
		respondWorkflowError(w, h.logger, err, "listing workflow deployments")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"deployments": deployments, "count": len(deployments)})
}

func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request) {
	svc, id, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	workflowID, err := parseIDParam(r, "id")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid workflow id")
		return
	}
	deploymentID, err := parseIDParam(r, "deploymentId")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid deployment id")
		return
	}

	var body struct {
		Environment string `json:"environment" validate:"required"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	rolled, err := svc.Rollback(r.Context(), workflowID, Environment(body.Environment), deploymentID, id.UserID)
	if err != nil {
		respondWorkflowError(w, h.logger, err, "rolling back workflow deployment")
		return
	}
	httpserver.Respond(w, http.StatusOK, rolled)
}
