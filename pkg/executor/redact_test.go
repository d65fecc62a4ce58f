package executor

import (
	"encoding/json"
	"testing"
)

func TestRedact_SensitiveKeyName(t *testing.T) {
	in := json.RawMessage(`{"apiKey":"abc123","count":5}`)
	var got map[string]any
	if err := json.Unmarshal(Redact(in), &got); err != nil {
		t.Fatalf("unmarshaling redacted output: %v", err)
	}
	if got["apiKey"] != redactedPlaceholder {
		t.Errorf("apiKey = %v, want %q", got["apiKey"], redactedPlaceholder)
	}
	if got["count"] != float64(5) {
		t.Errorf("count = %v, want 5 (unredacted, not a sensitive key)", got["count"])
	}
}

func TestRedact_CredentialShapedValueRegardlessOfKey(t *testing.T) {
	in := json.RawMessage(`{"note":"sk-abcdefghijklmno"}`)
	var got map[string]any
	if err := json.Unmarshal(Redact(in), &got); err != nil {
		t.Fatalf("unmarshaling redacted output: %v", err)
	}
	if got["note"] != redactedPlaceholder {
		t.Errorf("note = %v, want %q (sk- prefixed value should redact under any key)", got["note"], redactedPlaceholder)
	}
}

func TestRedact_UUIDNotFalselyRedacted(t *testing.T) {
	in := json.RawMessage(`{"id":"550e8400-e29b-41d4-a716-446655440000"}`)
	var got map[string]any
	if err := json.Unmarshal(Redact(in), &got); err != nil {
		t.Fatalf("unmarshaling redacted output: %v", err)
	}
	if got["id"] != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("id = %v, want unmodified UUID", got["id"])
	}
}

func TestRedact_NestedSensitiveKey(t *testing.T) {
	in := json.RawMessage(`{"auth":{"password":"hunter2"}}`)
	var got map[string]map[string]any
	if err := json.Unmarshal(Redact(in), &got); err != nil {
		t.Fatalf("unmarshaling redacted output: %v", err)
	}
	if got["auth"]["password"] != redactedPlaceholder {
		t.Errorf("auth.password = %v, want %q", got["auth"]["password"], redactedPlaceholder)
	}
}

func TestRedact_ArrayOfSensitiveValues(t *testing.T) {
	in := json.RawMessage(`{"tokens":["bearer abc123", "plain-value"]}`)
	var got map[string][]any
	if err := json.Unmarshal(Redact(in), &got); err != nil {
		t.Fatalf("unmarshaling redacted output: %v", err)
	}
	if got["tokens"][0] != redactedPlaceholder {
		t.Errorf("tokens[0] = %v, want %q (sensitive key name applies across the array)", got["tokens"][0], redactedPlaceholder)
	}
}

func TestRedact_InvalidJSONReturnedUnchanged(t *testing.T) {
	in := json.RawMessage(`not json`)
	if got := Redact(in); string(got) != string(in) {
		t.Errorf("Redact(invalid json) = %s, want unchanged %s", got, in)
	}
}

func TestRedact_EmptyReturnedUnchanged(t *testing.T) {
	if got := Redact(nil); got != nil {
		t.Errorf("Redact(nil) = %v, want nil", got)
	}
}
