package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Connection is a row from organization-schema connections (spec §4.2 /
// §3's Connection entity): an envelope-encrypted credential record.
type Connection struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	Provider             string
	Type                 string
	Name                 string
	EncryptedCredentials []byte
	IV                   []byte
	EncryptionKeyID      *uuid.UUID
	DataKeyCiphertext    []byte
	Metadata             json.RawMessage
	TestStatus           *string
	TestError            *string
	LastTestedAt         *time.Time
	IsActive             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

const connectionColumns = `id, user_id, provider, type, name, encrypted_credentials, iv, encryption_key_id, data_key_ciphertext, metadata, test_status, test_error, last_tested_at, is_active, created_at, updated_at`

func scanConnection(row interface{ Scan(dest ...any) error }) (Connection, error) {
	var c Connection
	err := row.Scan(&c.ID, &c.UserID, &c.Provider, &c.Type, &c.Name, &c.EncryptedCredentials, &c.IV, &c.EncryptionKeyID, &c.DataKeyCiphertext, &c.Metadata, &c.TestStatus, &c.TestError, &c.LastTestedAt, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// CreateConnectionParams holds the fields needed to create a connection.
type CreateConnectionParams struct {
	UserID               uuid.UUID
	Provider             string
	Type                 string
	Name                 string
	EncryptedCredentials []byte
	IV                   []byte
	EncryptionKeyID      *uuid.UUID
	DataKeyCiphertext    []byte
	Metadata             json.RawMessage
}

// CreateConnection inserts a new connection record.
func (q *Queries) CreateConnection(ctx context.Context, p CreateConnectionParams) (Connection, error) {
	if p.Metadata == nil {
		p.Metadata = json.RawMessage(`{}`)
	}
	row := q.db.QueryRow(ctx, `
		INSERT INTO connections
			(user_id, provider, type, name, encrypted_credentials, iv, encryption_key_id, data_key_ciphertext, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+connectionColumns,
		p.UserID, p.Provider, p.Type, p.Name, p.EncryptedCredentials, p.IV, p.EncryptionKeyID, p.DataKeyCiphertext, p.Metadata,
	)
	return scanConnection(row)
}

// GetConnection fetches a connection by id.
func (q *Queries) GetConnection(ctx context.Context, id uuid.UUID) (Connection, error) {
	row := q.db.QueryRow(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = $1`, id)
	return scanConnection(row)
}

// ListConnections lists a user's active connections, optionally filtered by
// provider (empty string means all providers).
func (q *Queries) ListConnections(ctx context.Context, userID uuid.UUID, provider string) ([]Connection, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+connectionColumns+`
		FROM connections
		WHERE user_id = $1 AND is_active AND ($2 = '' OR provider = $2)
		ORDER BY created_at DESC`,
		userID, provider,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// GetConnectionByProvider fetches a user's active connection for a provider,
// by name if given, otherwise the most recently created one.
func (q *Queries) GetConnectionByProvider(ctx context.Context, userID uuid.UUID, provider, name string) (Connection, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+connectionColumns+`
		FROM connections
		WHERE user_id = $1 AND provider = $2 AND is_active AND ($3 = '' OR name = $3)
		ORDER BY created_at DESC
		LIMIT 1`,
		userID, provider, name,
	)
	return scanConnection(row)
}

// UpdateConnectionCredentialsParams holds the fields for rotating a
// connection's encrypted payload (re-encryption on credential update).
type UpdateConnectionCredentialsParams struct {
	ID                   uuid.UUID
	EncryptedCredentials []byte
	IV                   []byte
	EncryptionKeyID      *uuid.UUID
	DataKeyCiphertext    []byte
	Metadata             json.RawMessage
}

// UpdateConnectionCredentials replaces a connection's encrypted payload.
func (q *Queries) UpdateConnectionCredentials(ctx context.Context, p UpdateConnectionCredentialsParams) (Connection, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE connections
		SET encrypted_credentials = $2, iv = $3, encryption_key_id = $4, data_key_ciphertext = $5,
		    metadata = COALESCE($6, metadata), updated_at = now()
		WHERE id = $1
		RETURNING `+connectionColumns,
		p.ID, p.EncryptedCredentials, p.IV, p.EncryptionKeyID, p.DataKeyCiphertext, p.Metadata,
	)
	return scanConnection(row)
}

// TouchConnection bumps updated_at, recording that a connection was used
// without otherwise modifying it (spec §4.2's MarkUsed).
func (q *Queries) TouchConnection(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE connections SET updated_at = now() WHERE id = $1`, id)
	return err
}

// SoftDeleteConnection marks a connection inactive without removing the row
// (preserves history for node executions that referenced it).
func (q *Queries) SoftDeleteConnection(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE connections SET is_active = false, updated_at = now() WHERE id = $1`, id)
	return err
}

// SetConnectionTestResultParams holds the fields for recording a Test() run.
type SetConnectionTestResultParams struct {
	ID         uuid.UUID
	TestStatus string
	TestError  *string
}

// SetConnectionTestResult persists the outcome of a connection test probe.
func (q *Queries) SetConnectionTestResult(ctx context.Context, p SetConnectionTestResultParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE connections
		SET test_status = $2, test_error = $3, last_tested_at = now(), updated_at = now()
		WHERE id = $1`,
		p.ID, p.TestStatus, p.TestError,
	)
	return err
}

// ScopedToken is a row from organization-schema scoped_tokens (spec §4.2):
// a one-time or short-TTL bearer scoped to a single node step.
type ScopedToken struct {
	ID        uuid.UUID
	TokenHash []byte
	Scope     string
	StepID    *string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

const scopedTokenColumns = `id, token_hash, scope, step_id, expires_at, used_at, created_at`

func scanScopedToken(row interface{ Scan(dest ...any) error }) (ScopedToken, error) {
	var t ScopedToken
	err := row.Scan(&t.ID, &t.TokenHash, &t.Scope, &t.StepID, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	return t, err
}

// CreateScopedTokenParams holds the fields needed to issue a scoped token.
type CreateScopedTokenParams struct {
	TokenHash []byte
	Scope     string
	StepID    *string
	ExpiresAt time.Time
}

// CreateScopedToken inserts a new scoped token row.
func (q *Queries) CreateScopedToken(ctx context.Context, p CreateScopedTokenParams) (ScopedToken, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO scoped_tokens (token_hash, scope, step_id, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+scopedTokenColumns,
		p.TokenHash, p.Scope, p.StepID, p.ExpiresAt,
	)
	return scanScopedToken(row)
}

// ConsumeScopedToken atomically marks a scoped token used if it is
// unconsumed and unexpired, returning the row. Returns pgx.ErrNoRows
// otherwise — the caller classifies that into TokenExpired/TokenConsumed/
// TokenUnknown by re-reading the row (spec §4.2).
func (q *Queries) ConsumeScopedToken(ctx context.Context, tokenHash []byte) (ScopedToken, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE scoped_tokens
		SET used_at = now()
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > now()
		RETURNING `+scopedTokenColumns,
		tokenHash,
	)
	return scanScopedToken(row)
}

// GetScopedTokenByHash fetches a scoped token by hash regardless of
// consumption state, used to distinguish unknown/expired/consumed after a
// failed ConsumeScopedToken.
func (q *Queries) GetScopedTokenByHash(ctx context.Context, tokenHash []byte) (ScopedToken, error) {
	row := q.db.QueryRow(ctx, `SELECT `+scopedTokenColumns+` FROM scoped_tokens WHERE token_hash = $1`, tokenHash)
	return scanScopedToken(row)
}
