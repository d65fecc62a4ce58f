package connection

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/orchestra/internal/crypto"
)

// fileStore persists connection records in a single JSON file at the
// configured path, for local development without a database
// (spec §4.2: "file-backed dev mode gated by ALLOW_FILE_CONNECTION_STORE").
// Config.Validate refuses this in production.
type fileStore struct {
	mu   sync.Mutex
	path string
}

type fileRecord struct {
	Connection
	Ciphertext        []byte     `json:"ciphertext"`
	IV                []byte     `json:"iv"`
	KeyRecordID       *uuid.UUID `json:"keyRecordId,omitempty"`
	DataKeyCiphertext []byte     `json:"dataKeyCiphertext,omitempty"`
}

func newFileStore(path string) *fileStore {
	return &fileStore{path: path}
}

func (s *fileStore) load() ([]fileRecord, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, err
	}
	body, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	var records []fileRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *fileStore) save(records []fileRecord) error {
	body, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, body, 0o600)
}

func fileToRecord(fr fileRecord) record {
	return record{
		Connection: fr.Connection,
		envelope: crypto.Envelope{
			Ciphertext:        fr.Ciphertext,
			IV:                fr.IV,
			KeyRecordID:       fr.KeyRecordID,
			DataKeyCiphertext: fr.DataKeyCiphertext,
		},
	}
}

func recordToFile(r record) fileRecord {
	return fileRecord{
		Connection:        r.Connection,
		Ciphertext:        r.envelope.Ciphertext,
		IV:                r.envelope.IV,
		KeyRecordID:       r.envelope.KeyRecordID,
		DataKeyCiphertext: r.envelope.DataKeyCiphertext,
	}
}

func (s *fileStore) create(_ context.Context, r record) (record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return record{}, err
	}

	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	r.IsActive = true

	records = append(records, recordToFile(r))
	if err := s.save(records); err != nil {
		return record{}, err
	}
	return r, nil
}

func (s *fileStore) get(_ context.Context, id uuid.UUID) (record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return record{}, err
	}
	for _, fr := range records {
		if fr.ID == id {
			return fileToRecord(fr), nil
		}
	}
	return record{}, pgx.ErrNoRows
}

func (s *fileStore) list(_ context.Context, userID uuid.UUID, provider string) ([]record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []record
	for _, fr := range records {
		if fr.UserID != userID || !fr.IsActive {
			continue
		}
		if provider != "" && fr.Provider != provider {
			continue
		}
		out = append(out, fileToRecord(fr))
	}
	return out, nil
}

func (s *fileStore) getByProvider(_ context.Context, userID uuid.UUID, provider, name string) (record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return record{}, err
	}
	var best *fileRecord
	for i, fr := range records {
		if fr.UserID != userID || fr.Provider != provider || !fr.IsActive {
			continue
		}
		if name != "" && fr.Name != name {
			continue
		}
		if best == nil || fr.CreatedAt.After(best.CreatedAt) {
			best = &records[i]
		}
	}
	if best == nil {
		return record{}, pgx.ErrNoRows
	}
	return fileToRecord(*best), nil
}

func (s *fileStore) update(_ context.Context, id uuid.UUID, envelope crypto.Envelope, metadata json.RawMessage) (record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return record{}, err
	}
	for i := range records {
		if records[i].ID != id {
			continue
		}
		records[i].Ciphertext = envelope.Ciphertext
		records[i].IV = envelope.IV
		records[i].KeyRecordID = envelope.KeyRecordID
		records[i].DataKeyCiphertext = envelope.DataKeyCiphertext
		if metadata != nil {
			records[i].Metadata = metadata
		}
		records[i].UpdatedAt = time.Now()
		if err := s.save(records); err != nil {
			return record{}, err
		}
		return fileToRecord(records[i]), nil
	}
	return record{}, pgx.ErrNoRows
}

func (s *fileStore) softDelete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID == id {
			records[i].IsActive = false
			records[i].UpdatedAt = time.Now()
			return s.save(records)
		}
	}
	return pgx.ErrNoRows
}

func (s *fileStore) setTestResult(_ context.Context, id uuid.UUID, result TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID != id {
			continue
		}
		status := "success"
		if !result.Success {
			status = "failure"
			e := result.Error
			records[i].TestError = &e
		} else {
			records[i].TestError = nil
		}
		records[i].TestStatus = &status
		now := time.Now()
		records[i].LastTestedAt = &now
		records[i].UpdatedAt = now
		return s.save(records)
	}
	return pgx.ErrNoRows
}

func (s *fileStore) touch(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID == id {
			records[i].UpdatedAt = time.Now()
			return s.save(records)
		}
	}
	return pgx.ErrNoRows
}

var _ store = (*fileStore)(nil)
var _ store = (*dbStore)(nil)
