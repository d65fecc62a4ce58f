package crypto

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/wisbric/orchestra/internal/db"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// fakeKeyRecordStore is an in-memory KeyRecordStore for tests.
type fakeKeyRecordStore struct {
	active db.KeyRecord
	byID   map[uuid.UUID]db.KeyRecord
	err    error
}

func (f *fakeKeyRecordStore) GetActiveKeyRecord(ctx context.Context) (db.KeyRecord, error) {
	if f.err != nil {
		return db.KeyRecord{}, f.err
	}
	return f.active, nil
}

func (f *fakeKeyRecordStore) GetKeyRecord(ctx context.Context, id uuid.UUID) (db.KeyRecord, error) {
	rec, ok := f.byID[id]
	if !ok {
		return db.KeyRecord{}, context.Canceled
	}
	return rec, nil
}

// wrappingKeyManager stands in for a KMS provider: unlike LocalKeyManager,
// it returns a non-empty wrapped form of the data key.
type wrappingKeyManager struct {
	key []byte
}

func (w *wrappingKeyManager) GenerateDataKey(ctx context.Context) (DataKey, error) {
	return DataKey{Plaintext: w.key, Ciphertext: []byte("wrapped-data-key")}, nil
}

func (w *wrappingKeyManager) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if string(ciphertext) != "wrapped-data-key" {
		return nil, context.Canceled
	}
	return w.key, nil
}

func TestEnvelope_DerivedKeyRoundTrip(t *testing.T) {
	id := uuid.New()
	derivedKey := make([]byte, 32)
	for i := range derivedKey {
		derivedKey[i] = byte(i)
	}
	rec := db.KeyRecord{ID: id, DerivedKeyB64: b64(derivedKey), IsActive: true}
	store := &fakeKeyRecordStore{active: rec, byID: map[uuid.UUID]db.KeyRecord{id: rec}}

	svc := NewService(nil, store, nil, "", nil, false, testLogger())

	env, err := svc.Encrypt(context.Background(), []byte("hello credentials"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if env.KeyRecordID == nil || *env.KeyRecordID != id {
		t.Fatalf("expected envelope to reference key record %s", id)
	}

	plaintext, err := svc.Decrypt(context.Background(), env)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plaintext) != "hello credentials" {
		t.Errorf("plaintext = %q, want %q", plaintext, "hello credentials")
	}
}

func TestEnvelope_KMSDataKeyRoundTrip(t *testing.T) {
	id := uuid.New()
	rec := db.KeyRecord{ID: id, KMSKeyARN: "arn:aws:kms:test:key/1", IsActive: true}
	store := &fakeKeyRecordStore{active: rec, byID: map[uuid.UUID]db.KeyRecord{id: rec}}

	km := &wrappingKeyManager{key: make([]byte, 32)}

	svc := NewService(km, store, nil, "", nil, false, testLogger())

	env, err := svc.Encrypt(context.Background(), []byte("secret payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(env.DataKeyCiphertext) == 0 {
		t.Fatalf("expected a wrapped data key ciphertext to be persisted")
	}

	plaintext, err := svc.Decrypt(context.Background(), env)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plaintext) != "secret payload" {
		t.Errorf("plaintext = %q, want %q", plaintext, "secret payload")
	}
}

func TestEnvelope_FallsBackToLegacyKeyWhenNoActiveRecord(t *testing.T) {
	store := &fakeKeyRecordStore{err: context.Canceled}
	legacyKey, err := DeriveLegacyKey("legacy-master-key")
	if err != nil {
		t.Fatalf("DeriveLegacyKey: %v", err)
	}

	svc := NewService(nil, store, legacyKey, "", nil, false, testLogger())

	env, err := svc.Encrypt(context.Background(), []byte("fallback payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if env.KeyRecordID != nil {
		t.Errorf("expected no key record reference when falling back to the legacy key")
	}

	plaintext, err := svc.Decrypt(context.Background(), env)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plaintext) != "fallback payload" {
		t.Errorf("plaintext = %q, want %q", plaintext, "fallback payload")
	}
}

func TestEnvelope_NoKeySourceReturnsErrKeyUnavailable(t *testing.T) {
	store := &fakeKeyRecordStore{err: context.Canceled}
	svc := NewService(nil, store, nil, "", nil, false, testLogger())

	_, err := svc.Encrypt(context.Background(), []byte("x"))
	if err != ErrKeyUnavailable {
		t.Errorf("Encrypt err = %v, want %v", err, ErrKeyUnavailable)
	}
}

func TestEnvelope_CredentialsJSONRoundTrip(t *testing.T) {
	id := uuid.New()
	derivedKey := make([]byte, 32)
	rec := db.KeyRecord{ID: id, DerivedKeyB64: b64(derivedKey), IsActive: true}
	store := &fakeKeyRecordStore{active: rec, byID: map[uuid.UUID]db.KeyRecord{id: rec}}
	svc := NewService(nil, store, nil, "", nil, false, testLogger())

	type creds struct {
		APIToken string `json:"apiToken"`
	}
	in := creds{APIToken: "tok_live_abc123"}

	env, err := svc.EncryptCredentials(context.Background(), in)
	if err != nil {
		t.Fatalf("EncryptCredentials: %v", err)
	}

	var out creds
	if err := svc.DecryptCredentials(context.Background(), env, &out); err != nil {
		t.Fatalf("DecryptCredentials: %v", err)
	}
	if out.APIToken != in.APIToken {
		t.Errorf("APIToken = %q, want %q", out.APIToken, in.APIToken)
	}
}
