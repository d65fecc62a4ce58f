package crypto

import (
	"bytes"
	"context"
	"testing"
)

func TestDeriveLegacyKey_DeterministicAndCorrectLength(t *testing.T) {
	a, err := DeriveLegacyKey("master-key-one")
	if err != nil {
		t.Fatalf("DeriveLegacyKey: %v", err)
	}
	b, err := DeriveLegacyKey("master-key-one")
	if err != nil {
		t.Fatalf("DeriveLegacyKey: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("expected the same master key to derive the same legacy key")
	}
	if len(a) != 32 {
		t.Errorf("len(key) = %d, want 32", len(a))
	}
}

func TestDeriveLegacyKey_DifferentMasterKeysDiffer(t *testing.T) {
	a, err := DeriveLegacyKey("master-key-one")
	if err != nil {
		t.Fatalf("DeriveLegacyKey: %v", err)
	}
	b, err := DeriveLegacyKey("master-key-two")
	if err != nil {
		t.Fatalf("DeriveLegacyKey: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("expected different master keys to derive different legacy keys")
	}
}

func TestDeriveLegacyKey_EmptyMasterKeyErrors(t *testing.T) {
	if _, err := DeriveLegacyKey(""); err == nil {
		t.Error("expected an empty ENCRYPTION_MASTER_KEY to error")
	}
}

func TestLocalKeyManager_GenerateAndDecryptReturnSameKey(t *testing.T) {
	km, err := NewLocalKeyManager("master-key")
	if err != nil {
		t.Fatalf("NewLocalKeyManager: %v", err)
	}

	dk, err := km.GenerateDataKey(context.Background())
	if err != nil {
		t.Fatalf("GenerateDataKey: %v", err)
	}

	unwrapped, err := km.Decrypt(context.Background(), dk.Ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(dk.Plaintext, unwrapped) {
		t.Error("expected LocalKeyManager.Decrypt to return the same key GenerateDataKey produced")
	}
}
