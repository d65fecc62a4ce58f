package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/orchestra/internal/db"
	"github.com/wisbric/orchestra/internal/organization"
)

// PATPrefix identifies personal access tokens.
const PATPrefix = "orc_pat_"

// PATAuthResult holds resolved identity data from a PAT lookup.
type PATAuthResult struct {
	UserID           uuid.UUID
	Email            string
	DisplayName      string
	Role             string
	OrganizationSlug string
	OrganizationID   uuid.UUID
}

// PATAuthenticator validates personal access tokens across organization schemas.
type PATAuthenticator struct {
	pool *pgxpool.Pool
}

// NewPATAuthenticator creates a PAT authenticator.
func NewPATAuthenticator(pool *pgxpool.Pool) *PATAuthenticator {
	return &PATAuthenticator{pool: pool}
}

// Authenticate validates a raw PAT string by looking up its prefix across
// organizations, verifying the hash, and checking expiry. Returns the
// resolved identity.
func (a *PATAuthenticator) Authenticate(ctx context.Context, rawToken string) (*PATAuthResult, error) {
	if len(rawToken) < len(PATPrefix)+8 {
		return nil, fmt.Errorf("token too short")
	}

	prefix := rawToken[:len(PATPrefix)+8]
	expectedHash := hashPAT(rawToken)

	q := db.New(a.pool)
	orgs, err := q.ListOrganizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing organizations: %w", err)
	}

	for _, o := range orgs {
		conn, err := a.pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquiring connection: %w", err)
		}

		schema := organization.SchemaName(o.Slug)
		_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema))
		if err != nil {
			conn.Release()
			continue
		}

		var tokenHash string
		var userID uuid.UUID
		var expiresAt *time.Time
		err = conn.QueryRow(ctx,
			"SELECT token_hash, user_id, expires_at FROM personal_access_tokens WHERE prefix = $1",
			prefix,
		).Scan(&tokenHash, &userID, &expiresAt)

		if err != nil {
			conn.Release()
			continue
		}

		if tokenHash != expectedHash {
			conn.Release()
			return nil, fmt.Errorf("invalid token")
		}

		if expiresAt != nil && expiresAt.Before(time.Now()) {
			conn.Release()
			return nil, fmt.Errorf("token expired at %s", expiresAt)
		}

		mq := db.New(conn)
		member, err := mq.GetMember(ctx, userID)
		conn.Release()
		if err != nil {
			return nil, fmt.Errorf("looking up member for PAT: %w", err)
		}

		go a.touchLastUsed(schema, prefix)

		return &PATAuthResult{
			UserID:           userID,
			Email:            member.Email,
			DisplayName:      member.DisplayName,
			Role:             member.Role,
			OrganizationSlug: o.Slug,
			OrganizationID:   o.ID,
		}, nil
	}

	return nil, fmt.Errorf("token not found")
}

func (a *PATAuthenticator) touchLastUsed(schema, prefix string) {
	c, err := a.pool.Acquire(context.Background())
	if err != nil {
		return
	}
	defer c.Release()
	_, _ = c.Exec(context.Background(), fmt.Sprintf("SET search_path TO %s, public", schema))
	_, _ = c.Exec(context.Background(), "UPDATE personal_access_tokens SET last_used_at = now() WHERE prefix = $1", prefix)
}

func hashPAT(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
