package resume

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/orchestra/internal/crypto"
	"github.com/wisbric/orchestra/internal/db"
	"github.com/wisbric/orchestra/internal/httpserver"
	"github.com/wisbric/orchestra/internal/organization"
	"github.com/wisbric/orchestra/pkg/queue"
)

// Handler serves the resume-token consumption endpoint. Like webhook
// delivery receipt, it authenticates by token rather than session, so it
// has no request-scoped organization connection to work with: the owning
// organization is resolved from public.resume_routes before anything else.
type Handler struct {
	pool      *pgxpool.Pool
	crypto    *crypto.Service
	publicURL string
	q         queue.Queue
	logger    *slog.Logger
}

// NewHandler creates a resume Handler. pool is the unscoped database pool.
func NewHandler(pool *pgxpool.Pool, cryptoSvc *crypto.Service, publicURL string, q queue.Queue, logger *slog.Logger) *Handler {
	return &Handler{pool: pool, crypto: cryptoSvc, publicURL: publicURL, q: q, logger: logger}
}

// PublicRoutes returns the resume endpoint, mounted on the base router
// without organization or auth middleware.
func (h *Handler) PublicRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/runs/{executionId}/nodes/{nodeId}/resume", h.handleResume)
	return r
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	signature := r.URL.Query().Get("signature")
	if token == "" || signature == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "token and signature are required")
		return
	}

	hash := sha256.Sum256([]byte(token))

	globalQ := db.New(h.pool)
	organizationID, err := globalQ.GetResumeRouteOrganization(r.Context(), hash[:])
	if errors.Is(err, pgx.ErrNoRows) {
		httpserver.RespondError(w, http.StatusUnauthorized, "invalid_token", "resume token is invalid, expired, or already consumed")
		return
	}
	if err != nil {
		h.logger.Error("resolving resume route", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed resolving resume route")
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

	svc := NewService(db.New(conn), h.pool, h.crypto, h.publicURL)
	record, err := svc.Consume(r.Context(), token, signature)
	if err != nil {
		switch {
		case errors.Is(err, ErrSignatureMismatch), errors.Is(err, ErrTokenUnknown):
			httpserver.RespondError(w, http.StatusUnauthorized, "invalid_token", "resume token is invalid, expired, or already consumed")
		default:
			h.logger.Error("consuming resume token", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to consume resume token")
		}
		return
	}

	var resumeState queue.ResumeState
	if len(record.ResumeState) > 0 {
		if err := json.Unmarshal(record.ResumeState, &resumeState); err != nil {
			h.logger.Error("decoding resume state", "error", err, "execution_id", record.ExecutionID)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed decoding resume state")
			return
		}
	}
	resumeState.StartNodeID = record.NodeID

	job := queue.ExecutionJob{
		ExecutionID:    record.ExecutionID,
		WorkflowID:     record.WorkflowID,
		OrganizationID: info.ID,
		TriggerType:    "resume",
		ResumeState:    &resumeState,
		InitialData:    record.InitialData,
	}
	if err := h.q.Enqueue(r.Context(), job, 0); err != nil {
		h.logger.Error("re-enqueuing resumed execution", "error", err, "execution_id", record.ExecutionID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to resume execution")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{
		"executionId": record.ExecutionID.String(),
		"status":      "resumed",
	})
}
