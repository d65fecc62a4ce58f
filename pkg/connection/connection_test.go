package connection

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/orchestra/internal/crypto"
)

func TestMaskCredentials_ReplacesEveryValue(t *testing.T) {
	creds := Credentials{"apiKey": "sk-live-secret", "orgId": "org_123"}
	masked := maskCredentials(creds)

	if len(masked) != len(creds) {
		t.Fatalf("masked has %d keys, want %d", len(masked), len(creds))
	}
	for k, v := range masked {
		if v != credentialMask {
			t.Errorf("masked[%q] = %q, want %q", k, v, credentialMask)
		}
	}
}

func TestFileStore_CreateGetListRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(filepath.Join(t.TempDir(), "connections.json"))

	userID := uuid.New()
	created, err := s.create(ctx, record{
		Connection: Connection{
			UserID:   userID,
			Provider: "openai",
			Type:     "api_key",
			Name:     "default",
			Metadata: json.RawMessage(`{}`),
		},
		envelope: crypto.Envelope{Ciphertext: []byte("ct"), IV: []byte("iv")},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Fatal("create did not assign an ID")
	}

	got, err := s.get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Provider != "openai" || string(got.envelope.Ciphertext) != "ct" {
		t.Errorf("get returned %+v", got)
	}

	list, err := s.list(ctx, userID, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("list returned %d records, want 1", len(list))
	}

	list, err = s.list(ctx, userID, "slack")
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("list with non-matching provider returned %d records, want 0", len(list))
	}
}

func TestFileStore_SoftDeleteExcludesFromList(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(filepath.Join(t.TempDir(), "connections.json"))

	userID := uuid.New()
	created, err := s.create(ctx, record{
		Connection: Connection{UserID: userID, Provider: "slack", Type: "oauth", Name: "team"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.softDelete(ctx, created.ID); err != nil {
		t.Fatalf("softDelete: %v", err)
	}

	list, err := s.list(ctx, userID, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("list after softDelete returned %d records, want 0", len(list))
	}
}

func TestFileStore_GetUnknownIDReturnsErrNoRows(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(filepath.Join(t.TempDir(), "connections.json"))

	_, err := s.get(ctx, uuid.New())
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("get unknown ID error = %v, want pgx.ErrNoRows", err)
	}
}

func TestFileStore_UpdateReplacesEnvelopeAndMetadata(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(filepath.Join(t.TempDir(), "connections.json"))

	created, err := s.create(ctx, record{
		Connection: Connection{UserID: uuid.New(), Provider: "openai", Type: "api_key", Name: "default"},
		envelope:   crypto.Envelope{Ciphertext: []byte("old")},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := s.update(ctx, created.ID, crypto.Envelope{Ciphertext: []byte("new")}, json.RawMessage(`{"rotated":true}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if string(updated.envelope.Ciphertext) != "new" {
		t.Errorf("envelope ciphertext = %q, want %q", updated.envelope.Ciphertext, "new")
	}
	if string(updated.Metadata) != `{"rotated":true}` {
		t.Errorf("metadata = %s, want rotated:true", updated.Metadata)
	}
}
