package executor

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestRequestHash_SameCanonicalInputSameHash(t *testing.T) {
	a, err := requestHash("sendEmail", json.RawMessage(`{"to":"a@example.com"}`))
	if err != nil {
		t.Fatalf("requestHash: %v", err)
	}
	b, err := requestHash("sendEmail", json.RawMessage(`{"to":"a@example.com"}`))
	if err != nil {
		t.Fatalf("requestHash: %v", err)
	}
	if a != b {
		t.Errorf("requestHash not deterministic: %s != %s", a, b)
	}
}

func TestRequestHash_DifferentParamsDifferentHash(t *testing.T) {
	a, _ := requestHash("sendEmail", json.RawMessage(`{"to":"a@example.com"}`))
	b, _ := requestHash("sendEmail", json.RawMessage(`{"to":"b@example.com"}`))
	if a == b {
		t.Errorf("requestHash collided for different params: %s", a)
	}
}

func TestRequestHash_DifferentOpDifferentHash(t *testing.T) {
	a, _ := requestHash("sendEmail", json.RawMessage(`{"to":"a@example.com"}`))
	b, _ := requestHash("sendSMS", json.RawMessage(`{"to":"a@example.com"}`))
	if a == b {
		t.Errorf("requestHash collided for different ops: %s", a)
	}
}

func TestUserIdempotencyKey_PresentAndAbsent(t *testing.T) {
	if got := userIdempotencyKey(json.RawMessage(`{"idempotencyKey":"user-supplied-1"}`)); got != "user-supplied-1" {
		t.Errorf("userIdempotencyKey = %q, want user-supplied-1", got)
	}
	if got := userIdempotencyKey(json.RawMessage(`{"to":"a@example.com"}`)); got != "" {
		t.Errorf("userIdempotencyKey = %q, want empty", got)
	}
}

func TestIdempotencyKey_PrefersUserSuppliedKey(t *testing.T) {
	executionID := uuid.New()
	params := json.RawMessage(`{"idempotencyKey":"fixed-key"}`)
	got := idempotencyKey(executionID, "node1", "anyhash", params)
	if got != "fixed-key" {
		t.Errorf("idempotencyKey = %q, want fixed-key", got)
	}
}

func TestIdempotencyKey_DerivedKeyIsDeterministic(t *testing.T) {
	executionID := uuid.New()
	params := json.RawMessage(`{}`)
	a := idempotencyKey(executionID, "node1", "hash1", params)
	b := idempotencyKey(executionID, "node1", "hash1", params)
	if a != b {
		t.Errorf("derived idempotencyKey not deterministic: %s != %s", a, b)
	}
}

func TestIdempotencyKey_DerivedKeyVariesByNode(t *testing.T) {
	executionID := uuid.New()
	params := json.RawMessage(`{}`)
	a := idempotencyKey(executionID, "node1", "hash1", params)
	b := idempotencyKey(executionID, "node2", "hash1", params)
	if a == b {
		t.Errorf("derived idempotencyKey collided across nodes: %s", a)
	}
}
