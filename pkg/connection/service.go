package connection

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/orchestra/internal/crypto"
	"github.com/wisbric/orchestra/internal/db"
	"github.com/wisbric/orchestra/pkg/connector"
)

// AccessType classifies a SecretAccess audit event (spec §4.2).
type AccessType string

const (
	AccessRead   AccessType = "read"
	AccessWrite  AccessType = "write"
	AccessDelete AccessType = "delete"
)

// SecretAccess is emitted for every connection store read/write/delete
// (spec §4.2). The Handler layer turns these into audit.Entry rows; the
// service only needs to report what happened.
type SecretAccess struct {
	Type       AccessType
	Provider   string
	UserID     uuid.UUID
	Connection uuid.UUID
	Metadata   map[string]any
}

// AuditSink receives SecretAccess events. Implemented by a thin adapter
// over internal/audit in the HTTP layer; kept as an interface here so this
// package doesn't depend on internal/audit's request-scoped API.
type AuditSink interface {
	RecordSecretAccess(SecretAccess)
}

type noopAuditSink struct{}

func (noopAuditSink) RecordSecretAccess(SecretAccess) {}

// Service implements the encrypted connection store contract (spec §4.2).
type Service struct {
	store   store
	crypto  *crypto.Service
	invoker connector.Invoker
	audit   AuditSink
	queries *db.Queries // organization-scoped; used for scoped tokens only
	logger  *slog.Logger
}

// NewService constructs a Service. conn must be scoped to the caller's
// organization schema (or nil when allowFileStore is true). invoker and
// audit may be nil; with a nil invoker, non-first-class probes report "no
// connector invoker configured", and a nil audit sink drops SecretAccess
// events.
func NewService(conn db.DBTX, cryptoSvc *crypto.Service, invoker connector.Invoker, audit AuditSink, logger *slog.Logger, allowFileStore bool, fileStorePath string) *Service {
	if audit == nil {
		audit = noopAuditSink{}
	}
	var queries *db.Queries
	if conn != nil {
		queries = db.New(conn)
	}
	return &Service{
		store:   newStore(conn, allowFileStore, fileStorePath),
		crypto:  cryptoSvc,
		invoker: invoker,
		audit:   audit,
		queries: queries,
		logger:  logger,
	}
}

func toExternal(r record) Connection {
	return r.Connection
}

// Create encrypts req.Credentials and persists a new connection record.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Connection, error) {
	env, err := s.crypto.EncryptCredentials(ctx, req.Credentials)
	if err != nil {
		return Connection{}, fmt.Errorf("encrypting credentials: %w", err)
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}

	r, err := s.store.create(ctx, record{
		Connection: Connection{
			UserID:   req.UserID,
			Provider: req.Provider,
			Type:     req.Type,
			Name:     req.Name,
			Metadata: metadata,
			IsActive: true,
		},
		envelope: env,
	})
	if err != nil {
		return Connection{}, fmt.Errorf("creating connection: %w", err)
	}

	s.audit.RecordSecretAccess(SecretAccess{Type: AccessWrite, Provider: req.Provider, UserID: req.UserID, Connection: r.ID})
	return toExternal(r), nil
}

// StoreOAuth upserts a connection by (userId, provider): updates the
// existing row's credentials if one already exists for this user and
// provider, otherwise creates one (spec §4.2).
func (s *Service) StoreOAuth(ctx context.Context, req CreateRequest) (Connection, error) {
	existing, err := s.store.getByProvider(ctx, req.UserID, req.Provider, "")
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.Create(ctx, req)
		}
		return Connection{}, fmt.Errorf("looking up existing oauth connection: %w", err)
	}

	env, err := s.crypto.EncryptCredentials(ctx, req.Credentials)
	if err != nil {
		return Connection{}, fmt.Errorf("encrypting credentials: %w", err)
	}

	r, err := s.store.update(ctx, existing.ID, env, req.Metadata)
	if err != nil {
		return Connection{}, fmt.Errorf("updating oauth connection: %w", err)
	}

	s.audit.RecordSecretAccess(SecretAccess{Type: AccessWrite, Provider: req.Provider, UserID: req.UserID, Connection: r.ID})
	return toExternal(r), nil
}

// Get fetches a connection's metadata (never decrypted credentials).
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Connection, error) {
	r, err := s.store.get(ctx, id)
	if err != nil {
		return Connection{}, err
	}
	s.audit.RecordSecretAccess(SecretAccess{Type: AccessRead, Provider: r.Provider, UserID: r.UserID, Connection: r.ID})
	return toExternal(r), nil
}

// List returns a user's active connections, optionally filtered by provider.
func (s *Service) List(ctx context.Context, userID uuid.UUID, provider string) ([]Connection, error) {
	rows, err := s.store.list(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	out := make([]Connection, 0, len(rows))
	for _, r := range rows {
		out = append(out, toExternal(r))
	}
	s.audit.RecordSecretAccess(SecretAccess{Type: AccessRead, Provider: provider, UserID: userID})
	return out, nil
}

// GetByProvider fetches a user's active connection for a provider.
func (s *Service) GetByProvider(ctx context.Context, userID uuid.UUID, provider, name string) (Connection, error) {
	r, err := s.store.getByProvider(ctx, userID, provider, name)
	if err != nil {
		return Connection{}, err
	}
	s.audit.RecordSecretAccess(SecretAccess{Type: AccessRead, Provider: provider, UserID: userID, Connection: r.ID})
	return toExternal(r), nil
}

// decryptedCredentials decrypts the credentials for a connection, for
// internal use by Test and by the executor's credential resolution.
func (s *Service) decryptedCredentials(ctx context.Context, id uuid.UUID) (record, Credentials, error) {
	r, err := s.store.get(ctx, id)
	if err != nil {
		return record{}, nil, err
	}
	var creds Credentials
	if err := s.crypto.DecryptCredentials(ctx, r.envelope, &creds); err != nil {
		return record{}, nil, fmt.Errorf("decrypting credentials: %w", err)
	}
	return r, creds, nil
}

// Credentials decrypts and returns a connection's plaintext credentials.
// Exported for the executor's per-node credential resolution (spec §4.6).
func (s *Service) Credentials(ctx context.Context, id uuid.UUID) (Credentials, error) {
	r, creds, err := s.decryptedCredentials(ctx, id)
	if err != nil {
		return nil, err
	}
	s.audit.RecordSecretAccess(SecretAccess{Type: AccessRead, Provider: r.Provider, UserID: r.UserID, Connection: r.ID})
	return creds, nil
}

// Update re-encrypts new credentials (if given) and/or replaces metadata.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (Connection, error) {
	existing, err := s.store.get(ctx, id)
	if err != nil {
		return Connection{}, err
	}

	env := existing.envelope
	if req.Credentials != nil {
		env, err = s.crypto.EncryptCredentials(ctx, req.Credentials)
		if err != nil {
			return Connection{}, fmt.Errorf("encrypting credentials: %w", err)
		}
	}

	r, err := s.store.update(ctx, id, env, req.Metadata)
	if err != nil {
		return Connection{}, fmt.Errorf("updating connection: %w", err)
	}

	s.audit.RecordSecretAccess(SecretAccess{Type: AccessWrite, Provider: r.Provider, UserID: r.UserID, Connection: r.ID})
	return toExternal(r), nil
}

// SoftDelete deactivates a connection without removing its row.
func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID) error {
	existing, err := s.store.get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.softDelete(ctx, id); err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	s.audit.RecordSecretAccess(SecretAccess{Type: AccessDelete, Provider: existing.Provider, UserID: existing.UserID, Connection: id})
	return nil
}

// Test runs the connection's test protocol (spec §4.2) and persists the
// outcome.
func (s *Service) Test(ctx context.Context, id uuid.UUID) (TestResult, error) {
	r, creds, err := s.decryptedCredentials(ctx, id)
	if err != nil {
		return TestResult{}, err
	}

	probe, err := runTest(ctx, r.Provider, creds, s.invoker)
	if err != nil {
		return TestResult{}, fmt.Errorf("running test probe: %w", err)
	}

	result := TestResult{
		Success:      probe.Success,
		Message:      probe.Message,
		ResponseTime: probe.ResponseTime,
		Error:        probe.Error,
	}
	if err := s.store.setTestResult(ctx, id, result); err != nil {
		return TestResult{}, fmt.Errorf("persisting test result: %w", err)
	}

	s.audit.RecordSecretAccess(SecretAccess{Type: AccessRead, Provider: r.Provider, UserID: r.UserID, Connection: r.ID})
	return result, nil
}

// Export returns a masked view of a connection, safe to display or log.
func (s *Service) Export(ctx context.Context, id uuid.UUID) (ExportedConnection, error) {
	r, creds, err := s.decryptedCredentials(ctx, id)
	if err != nil {
		return ExportedConnection{}, err
	}
	s.audit.RecordSecretAccess(SecretAccess{Type: AccessRead, Provider: r.Provider, UserID: r.UserID, Connection: r.ID})
	return ExportedConnection{
		Connection:        toExternal(r),
		MaskedCredentials: maskCredentials(creds),
	}, nil
}

// Import creates a connection from previously exported masked credentials
// plus a caller-supplied replacement for each masked field.
func (s *Service) Import(ctx context.Context, req CreateRequest) (Connection, error) {
	return s.Create(ctx, req)
}

// MarkUsed records that a connection was used (spec §4.2).
func (s *Service) MarkUsed(ctx context.Context, id uuid.UUID) error {
	return s.store.touch(ctx, id)
}

const (
	scopedTokenBytes = 24
	tokenTTLDefault  = 15 * time.Minute
)

// IssueScopedToken issues a one-time bearer token scoped to scope/stepID
// (spec §4.2).
func (s *Service) IssueScopedToken(ctx context.Context, scope string, stepID *string, ttl time.Duration) (string, db.ScopedToken, error) {
	if s.queries == nil {
		return "", db.ScopedToken{}, fmt.Errorf("scoped tokens require a database-backed store")
	}
	if ttl <= 0 {
		ttl = tokenTTLDefault
	}

	raw := make([]byte, scopedTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", db.ScopedToken{}, fmt.Errorf("generating token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	hash := sha256.Sum256([]byte(token))

	row, err := s.queries.CreateScopedToken(ctx, db.CreateScopedTokenParams{
		TokenHash: hash[:],
		Scope:     scope,
		StepID:    stepID,
		ExpiresAt: time.Now().Add(ttl),
	})
	if err != nil {
		return "", db.ScopedToken{}, fmt.Errorf("persisting scoped token: %w", err)
	}
	return token, row, nil
}

// ConsumeScopedToken atomically consumes a scoped token, classifying
// failure into TokenUnknown/TokenExpired/TokenConsumed (spec §4.2).
func (s *Service) ConsumeScopedToken(ctx context.Context, token string) (db.ScopedToken, error) {
	if s.queries == nil {
		return db.ScopedToken{}, fmt.Errorf("scoped tokens require a database-backed store")
	}
	hash := sha256.Sum256([]byte(token))

	row, err := s.queries.ConsumeScopedToken(ctx, hash[:])
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return db.ScopedToken{}, fmt.Errorf("consuming scoped token: %w", err)
	}

	existing, lookupErr := s.queries.GetScopedTokenByHash(ctx, hash[:])
	if lookupErr != nil {
		if errors.Is(lookupErr, pgx.ErrNoRows) {
			return db.ScopedToken{}, ErrTokenUnknown
		}
		return db.ScopedToken{}, fmt.Errorf("looking up scoped token: %w", lookupErr)
	}
	if existing.UsedAt != nil {
		return db.ScopedToken{}, ErrTokenConsumed
	}
	return db.ScopedToken{}, ErrTokenExpired
}
