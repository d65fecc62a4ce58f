package connection

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/wisbric/orchestra/internal/crypto"
	"github.com/wisbric/orchestra/internal/db"
)

// record is the store's internal representation: a Connection plus the
// still-encrypted envelope, never exposed outside this package.
type record struct {
	Connection
	envelope crypto.Envelope
}

// store abstracts the persistence backend for encrypted connection
// records: dbStore (production) or fileStore (dev mode only).
type store interface {
	create(ctx context.Context, r record) (record, error)
	get(ctx context.Context, id uuid.UUID) (record, error)
	list(ctx context.Context, userID uuid.UUID, provider string) ([]record, error)
	getByProvider(ctx context.Context, userID uuid.UUID, provider, name string) (record, error)
	update(ctx context.Context, id uuid.UUID, envelope crypto.Envelope, metadata json.RawMessage) (record, error)
	softDelete(ctx context.Context, id uuid.UUID) error
	setTestResult(ctx context.Context, id uuid.UUID, result TestResult) error
	touch(ctx context.Context, id uuid.UUID) error
}

// dbStore persists connection records in the organization's schema.
type dbStore struct {
	q *db.Queries
}

func newDBStore(conn db.DBTX) *dbStore {
	return &dbStore{q: db.New(conn)}
}

func toRecord(row db.Connection) record {
	return record{
		Connection: Connection{
			ID:           row.ID,
			UserID:       row.UserID,
			Provider:     row.Provider,
			Type:         row.Type,
			Name:         row.Name,
			Metadata:     row.Metadata,
			TestStatus:   row.TestStatus,
			TestError:    row.TestError,
			LastTestedAt: row.LastTestedAt,
			IsActive:     row.IsActive,
			CreatedAt:    row.CreatedAt,
			UpdatedAt:    row.UpdatedAt,
		},
		envelope: crypto.Envelope{
			Ciphertext:        row.EncryptedCredentials,
			IV:                row.IV,
			KeyRecordID:       row.EncryptionKeyID,
			DataKeyCiphertext: row.DataKeyCiphertext,
		},
	}
}

func (s *dbStore) create(ctx context.Context, r record) (record, error) {
	row, err := s.q.CreateConnection(ctx, db.CreateConnectionParams{
		UserID:               r.UserID,
		Provider:             r.Provider,
		Type:                 r.Type,
		Name:                 r.Name,
		EncryptedCredentials: r.envelope.Ciphertext,
		IV:                   r.envelope.IV,
		EncryptionKeyID:      r.envelope.KeyRecordID,
		DataKeyCiphertext:    r.envelope.DataKeyCiphertext,
		Metadata:             r.Metadata,
	})
	if err != nil {
		return record{}, err
	}
	return toRecord(row), nil
}

func (s *dbStore) get(ctx context.Context, id uuid.UUID) (record, error) {
	row, err := s.q.GetConnection(ctx, id)
	if err != nil {
		return record{}, err
	}
	return toRecord(row), nil
}

func (s *dbStore) list(ctx context.Context, userID uuid.UUID, provider string) ([]record, error) {
	rows, err := s.q.ListConnections(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	out := make([]record, 0, len(rows))
	for _, row := range rows {
		out = append(out, toRecord(row))
	}
	return out, nil
}

func (s *dbStore) getByProvider(ctx context.Context, userID uuid.UUID, provider, name string) (record, error) {
	row, err := s.q.GetConnectionByProvider(ctx, userID, provider, name)
	if err != nil {
		return record{}, err
	}
	return toRecord(row), nil
}

func (s *dbStore) update(ctx context.Context, id uuid.UUID, envelope crypto.Envelope, metadata json.RawMessage) (record, error) {
	row, err := s.q.UpdateConnectionCredentials(ctx, db.UpdateConnectionCredentialsParams{
		ID:                   id,
		EncryptedCredentials: envelope.Ciphertext,
		IV:                   envelope.IV,
		EncryptionKeyID:      envelope.KeyRecordID,
		DataKeyCiphertext:    envelope.DataKeyCiphertext,
		Metadata:             metadata,
	})
	if err != nil {
		return record{}, err
	}
	return toRecord(row), nil
}

func (s *dbStore) softDelete(ctx context.Context, id uuid.UUID) error {
	return s.q.SoftDeleteConnection(ctx, id)
}

func (s *dbStore) setTestResult(ctx context.Context, id uuid.UUID, result TestResult) error {
	status := "success"
	var testErr *string
	if !result.Success {
		status = "failure"
		e := result.Error
		testErr = &e
	}
	return s.q.SetConnectionTestResult(ctx, db.SetConnectionTestResultParams{
		ID:         id,
		TestStatus: status,
		TestError:  testErr,
	})
}

func (s *dbStore) touch(ctx context.Context, id uuid.UUID) error {
	return s.q.TouchConnection(ctx, id)
}

// newStore selects the store backend. fileStorePath is only honored when
// allowFileStore is true. Neither newStore nor NewService checks the
// environment; Config.Validate refuses the file store in production.
func newStore(conn db.DBTX, allowFileStore bool, fileStorePath string) store {
	if allowFileStore {
		return newFileStore(fileStorePath)
	}
	return newDBStore(conn)
}
