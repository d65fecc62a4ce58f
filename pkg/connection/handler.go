package connection

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wisbric/orchestra/internal/audit"
	"github.com/wisbric/orchestra/internal/auth"
	"github.com/wisbric/orchestra/internal/crypto"
	"github.com/wisbric/orchestra/internal/httpserver"
	"github.com/wisbric/orchestra/internal/organization"
	"github.com/wisbric/orchestra/pkg/connector"
)

// auditAdapter turns SecretAccess events into audit.Entry rows, carrying
// the organization schema resolved on the request that produced them.
type auditAdapter struct {
	writer *audit.Writer
	schema string
	userID *uuid.UUID
}

func (a auditAdapter) RecordSecretAccess(ev SecretAccess) {
	if a.writer == nil {
		return
	}
	detail, _ := json.Marshal(map[string]any{
		"type":     ev.Type,
		"provider": ev.Provider,
	})
	entry := audit.Entry{
		OrganizationSchema: a.schema,
		Action:             "secret_access_" + string(ev.Type),
		Resource:           "connection",
		ResourceID:         ev.Connection,
		Detail:             detail,
	}
	if a.userID != nil {
		entry.UserID = pgtype.UUID{Bytes: *a.userID, Valid: true}
	}
	a.writer.Log(entry)
}

// Handler serves the connection store HTTP API (spec §4.2).
type Handler struct {
	crypto         *crypto.Service
	invoker        connector.Invoker
	audit          *audit.Writer
	logger         *slog.Logger
	allowFileStore bool
	fileStorePath  string
}

// NewHandler constructs a connection Handler. invoker may be nil until a
// real connector integration is wired in; first-class provider probes
// still work without it.
func NewHandler(cryptoSvc *crypto.Service, invoker connector.Invoker, auditWriter *audit.Writer, logger *slog.Logger, allowFileStore bool, fileStorePath string) *Handler {
	return &Handler{
		crypto:         cryptoSvc,
		invoker:        invoker,
		audit:          auditWriter,
		logger:         logger,
		allowFileStore: allowFileStore,
		fileStorePath:  fileStorePath,
	}
}

func (h *Handler) service(r *http.Request) (*Service, *auth.Identity, bool) {
	id := auth.FromContext(r.Context())
	if id == nil || id.UserID == nil {
		return nil, nil, false
	}

	conn := organization.ConnFromContext(r.Context())
	schema := ""
	if oi := organization.FromContext(r.Context()); oi != nil {
		schema = oi.Schema
	}

	sink := auditAdapter{writer: h.audit, schema: schema, userID: id.UserID}
	svc := NewService(conn, h.crypto, h.invoker, sink, h.logger, h.allowFileStore, h.fileStorePath)
	return svc, id, true
}

// Routes returns a chi.Router with the connection store's routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
	r.Post("/{id}/test", h.handleTest)
	r.Get("/{id}/export", h.handleExport)
	r.Post("/oauth", h.handleStoreOAuth)
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	svc, id, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	var body struct {
		Provider    string          `json:"provider" validate:"required"`
		Type        string          `json:"type" validate:"required"`
		Name        string          `json:"name" validate:"required"`
		Credentials Credentials     `json:"credentials" validate:"required"`
		Metadata    json.RawMessage `json:"metadata"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	conn, err := svc.Create(r.Context(), CreateRequest{
		UserID:      *id.UserID,
		Provider:    body.Provider,
		Type:        body.Type,
		Name:        body.Name,
		Credentials: body.Credentials,
		Metadata:    body.Metadata,
	})
	if err != nil {
		h.logger.Error("creating connection", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create connection")
		return
	}
	httpserver.Respond(w, http.StatusCreated, conn)
}

func (h *Handler) handleStoreOAuth(w http.ResponseWriter, r *http.Request) {
	svc, id, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	var body struct {
		Provider    string          `json:"provider" validate:"required"`
		Type        string          `json:"type" validate:"required"`
		Name        string          `json:"name"`
		Credentials Credentials     `json:"credentials" validate:"required"`
		Metadata    json.RawMessage `json:"metadata"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	conn, err := svc.StoreOAuth(r.Context(), CreateRequest{
		UserID:      *id.UserID,
		Provider:    body.Provider,
		Type:        body.Type,
		Name:        body.Name,
		Credentials: body.Credentials,
		Metadata:    body.Metadata,
	})
	if err != nil {
		h.logger.Error("storing oauth connection", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to store connection")
		return
	}
	httpserver.Respond(w, http.StatusOK, conn)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	svc, id, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	items, err := svc.List(r.Context(), *id.UserID, r.URL.Query().Get("provider"))
	if err != nil {
		h.logger.Error("listing connections", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list connections")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"connections": items, "count": len(items)})
}

func parseConnectionID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	svc, _, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	connID, err := parseConnectionID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid connection ID")
		return
	}

	conn, err := svc.Get(r.Context(), connID)
	if err != nil {
		respondConnectionError(w, h.logger, err, "fetching connection")
		return
	}
	httpserver.Respond(w, http.StatusOK, conn)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	svc, _, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	connID, err := parseConnectionID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid connection ID")
		return
	}

	var body struct {
		Credentials Credentials     `json:"credentials"`
		Metadata    json.RawMessage `json:"metadata"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	conn, err := svc.Update(r.Context(), connID, UpdateRequest{Credentials: body.Credentials, Metadata: body.Metadata})
	if err != nil {
		respondConnectionError(w, h.logger, err, "updating connection")
		return
	}
	httpserver.Respond(w, http.StatusOK, conn)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	svc, _, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	connID, err := parseConnectionID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid connection ID")
		return
	}

	if err := svc.SoftDelete(r.Context(), connID); err != nil {
		respondConnectionError(w, h.logger, err, "deleting connection")
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleTest(w http.ResponseWriter, r *http.Request) {
	svc, _, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	connID, err := parseConnectionID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid connection ID")
		return
	}

	result, err := svc.Test(r.Context(), connID)
	if err != nil {
		respondConnectionError(w, h.logger, err, "testing connection")
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	svc, _, ok := h.service(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}
	connID, err := parseConnectionID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid connection ID")
		return
	}

	exported, err := svc.Export(r.Context(), connID)
	if err != nil {
		respondConnectionError(w, h.logger, err, "exporting connection")
		return
	}
	httpserver.Respond(w, http.StatusOK, exported)
}

func respondConnectionError(w http.ResponseWriter, logger *slog.Logger, err error, action string) {
	if errors.Is(err, pgx.ErrNoRows) {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "connection not found")
		return
	}
	logger.Error(action, "error", err)
	httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed "+action)
}
