// Package resume implements callback resume tokens (spec §4.7): a node
// whose connector invocation returns a Callback result suspends the
// execution and hands the caller a token; a later HTTP request (or due
// timer) presents the token to resume the execution from saved state.
package resume

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/orchestra/internal/crypto"
	"github.com/wisbric/orchestra/internal/db"
)

const (
	minTTL     = 60 * time.Second
	defaultTTL = 7 * 24 * time.Hour
	tokenBytes = 32
)

// ErrTokenUnknown is returned when a resume token does not match any
// issued token.
var ErrTokenUnknown = errors.New("resume: token unknown, expired, or already consumed")

// ErrSignatureMismatch is returned when the presented signature does not
// match the token.
var ErrSignatureMismatch = errors.New("resume: signature mismatch")

// IssueRequest carries the parameters for issuing a resume token (spec §4.7).
type IssueRequest struct {
	ExecutionID    uuid.UUID
	WorkflowID     uuid.UUID
	OrganizationID uuid.UUID
	NodeID         string
	ResumeState    json.RawMessage
	InitialData    json.RawMessage
	TriggerType    string
	WaitUntil      *time.Time
	Metadata       json.RawMessage
	TTL            time.Duration
}

// Issued is the material returned to the caller after issuing a token.
type Issued struct {
	TokenID     uuid.UUID
	Token       string // base64url, 32 random bytes
	Signature   string // hex HMAC_SHA256 of Token
	CallbackURL string
	ExpiresAt   time.Time
}

// Service issues and consumes resume tokens.
type Service struct {
	queries     *db.Queries
	globalQuery *db.Queries
	crypto      *crypto.Service
	publicURL   string
}

// NewService constructs a resume token Service. queries must be scoped to
// the organization's schema connection; rootPool is the unscoped database
// pool used to maintain public.resume_routes, the global token-hash-to-
// organization index an inbound resume callback resolves its tenant from
// before any organization-scoped connection exists (mirroring
// public.webhook_routes).
func NewService(queries *db.Queries, rootPool *pgxpool.Pool, cryptoSvc *crypto.Service, publicURL string) *Service {
	return &Service{queries: queries, globalQuery: db.New(rootPool), crypto: cryptoSvc, publicURL: publicURL}
}

// clampTTL applies spec §4.7's TTL bounds: a requested TTL below 60s is
// raised to 60s; an unset (zero) TTL defaults to 7 days.
func clampTTL(requested time.Duration) time.Duration {
	if requested == 0 {
		return defaultTTL
	}
	if requested < minTTL {
		return minTTL
	}
	return requested
}

// IssueToken issues a new resume token, persisting tokenHash=sha256(token)
// with consumedAt=null (spec §4.7).
func (s *Service) IssueToken(ctx context.Context, req IssueRequest) (Issued, error) {
	ttl := clampTTL(req.TTL)

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return Issued{}, fmt.Errorf("generating token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	sig, err := s.crypto.SignWithProcessSecret([]byte(token))
	if err != nil {
		return Issued{}, fmt.Errorf("signing token: %w", err)
	}

	hash := sha256.Sum256([]byte(token))
	expiresAt := time.Now().Add(ttl)

	var triggerType *string
	if req.TriggerType != "" {
		triggerType = &req.TriggerType
	}

	row, err := s.queries.CreateResumeToken(ctx, db.CreateResumeTokenParams{
		TokenHash:   hash[:],
		ExecutionID: req.ExecutionID,
		NodeID:      req.NodeID,
		WorkflowID:  req.WorkflowID,
		ResumeState: req.ResumeState,
		InitialData: req.InitialData,
		TriggerType: triggerType,
		Metadata:    req.Metadata,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return Issued{}, fmt.Errorf("persisting resume token: %w", err)
	}

	if err := s.globalQuery.CreateResumeRoute(ctx, hash[:], req.OrganizationID); err != nil {
		return Issued{}, fmt.Errorf("persisting resume route: %w", err)
	}

	return Issued{
		TokenID:     row.ID,
		Token:       token,
		Signature:   fmt.Sprintf("%x", sig),
		CallbackURL: fmt.Sprintf("%s/api/runs/%s/nodes/%s/resume", s.publicURL, req.ExecutionID, req.NodeID),
		ExpiresAt:   expiresAt,
	}, nil
}

// Consume verifies the signature (timing-safe, before any DB access per
// spec §4.7) and, if valid, atomically consumes the token, returning the
// resume state needed to continue the execution.
func (s *Service) Consume(ctx context.Context, token, signature string) (db.ResumeToken, error) {
	expectedSig, err := s.crypto.SignWithProcessSecret([]byte(token))
	if err != nil {
		return db.ResumeToken{}, fmt.Errorf("computing expected signature: %w", err)
	}

	givenSig, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(expectedSig, givenSig) {
		return db.ResumeToken{}, ErrSignatureMismatch
	}

	hash := sha256.Sum256([]byte(token))
	row, err := s.queries.ConsumeResumeToken(ctx, hash[:])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.ResumeToken{}, ErrTokenUnknown
		}
		return db.ResumeToken{}, fmt.Errorf("consuming resume token: %w", err)
	}

	if err := s.globalQuery.DeleteResumeRoute(ctx, hash[:]); err != nil {
		return db.ResumeToken{}, fmt.Errorf("deleting resume route: %w", err)
	}

	return row, nil
}
