package apikey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/orchestra/internal/auth"
	"github.com/wisbric/orchestra/internal/db"
)

// Service encapsulates API key business logic against the global
// public.api_keys table.
type Service struct {
	queries *db.Queries
	logger  *slog.Logger
}

// NewService creates an API key Service backed by the given global pool.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{queries: db.New(pool), logger: logger}
}

// List returns all API keys for the given organization.
func (s *Service) List(ctx context.Context, organizationID uuid.UUID) ([]Response, error) {
	rows, err := s.queries.ListAPIKeysByOrganization(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	items := make([]Response, 0, len(rows))
	for _, r := range rows {
		items = append(items, toResponse(r))
	}
	return items, nil
}

// Create generates a new API key, stores its hash, and returns the raw key once.
func (s *Service) Create(ctx context.Context, organizationID uuid.UUID, req CreateRequest) (CreateResponse, error) {
	raw, hash, prefix, err := generateAPIKey()
	if err != nil {
		return CreateResponse{}, fmt.Errorf("generating api key: %w", err)
	}

	scopes := req.Scopes
	if scopes == nil {
		scopes = []string{}
	}

	key, err := s.queries.CreateAPIKey(ctx, db.CreateAPIKeyParams{
		OrganizationID: organizationID,
		KeyPrefix:      prefix,
		KeyHash:        hash,
		Role:           req.Role,
		Scopes:         scopes,
	})
	if err != nil {
		return CreateResponse{}, fmt.Errorf("creating api key: %w", err)
	}

	return CreateResponse{
		Response: toResponse(key),
		RawKey:   raw,
	}, nil
}

// Delete permanently removes an API key.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.queries.DeleteAPIKey(ctx, id); err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	return nil
}

// generateAPIKey creates a random raw API key, its SHA-256 hash (the form
// stored and matched by internal/auth.APIKeyAuthenticator), and a short
// prefix for display.
func generateAPIKey() (raw, hash, prefix string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("reading random bytes: %w", err)
	}
	raw = KeyPrefix + hex.EncodeToString(b)
	hash = auth.HashAPIKey(raw)
	prefix = raw[:len(KeyPrefix)+8]
	return raw, hash, prefix, nil
}
