// Package connection implements the encrypted credential store (spec
// §4.2): envelope-encrypted Connection records, scoped single-use tokens,
// and provider test probes, dispatched to either a database-backed store
// or a file-backed dev-mode store gated by ALLOW_FILE_CONNECTION_STORE.
package connection

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Credentials is the plaintext shape encrypted into a Connection's
// envelope. Providers attach whatever fields they need (apiKey, oauth
// tokens, ...); the store treats it as an opaque map.
type Credentials map[string]any

// Connection is the store's external (decrypted-metadata-only) view of a
// credential record; raw credential values are never serialized back out
// except through Export, which masks them.
type Connection struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"userId"`
	Provider     string          `json:"provider"`
	Type         string          `json:"type"`
	Name         string          `json:"name"`
	Metadata     json.RawMessage `json:"metadata"`
	TestStatus   *string         `json:"testStatus,omitempty"`
	TestError    *string         `json:"testError,omitempty"`
	LastTestedAt *time.Time      `json:"lastTestedAt,omitempty"`
	IsActive     bool            `json:"isActive"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// CreateRequest is the input to Create/StoreOAuth.
type CreateRequest struct {
	UserID      uuid.UUID
	Provider    string
	Type        string
	Name        string
	Credentials Credentials
	Metadata    json.RawMessage
}

// UpdateRequest is the input to Update; Credentials nil leaves the stored
// payload untouched (a metadata-only update).
type UpdateRequest struct {
	Credentials Credentials
	Metadata    json.RawMessage
}

// TestResult is the outcome of a connection test probe (spec §4.2).
type TestResult struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	ResponseTime time.Duration `json:"responseTime"`
	Error        string        `json:"error,omitempty"`
}

// ExportedConnection is the masked shape returned by Export: credential
// values are replaced with a fixed-width mask, never the plaintext.
type ExportedConnection struct {
	Connection
	MaskedCredentials map[string]string `json:"maskedCredentials"`
}

const credentialMask = "••••••••"

// TokenScope enumerates the scopes a ScopedToken can be issued for.
type TokenScope string

const (
	ScopeStepCallback TokenScope = "step_callback"
	ScopeFileUpload   TokenScope = "file_upload"
)

// Token errors classify a failed Consume per spec §4.2.
var (
	ErrTokenUnknown   = tokenErr("connection: scoped token unknown")
	ErrTokenExpired   = tokenErr("connection: scoped token expired")
	ErrTokenConsumed  = tokenErr("connection: scoped token already consumed")
	ErrConnectionNone = tokenErr("connection: not found")
)

type tokenErr string

func (e tokenErr) Error() string { return string(e) }

func maskCredentials(creds Credentials) map[string]string {
	masked := make(map[string]string, len(creds))
	for k := range creds {
		masked[k] = credentialMask
	}
	return masked
}
