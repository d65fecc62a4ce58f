package executor

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestResolveReferences_ObjectForm(t *testing.T) {
	outputs := map[string]json.RawMessage{
		"fetch": json.RawMessage(`{"user":{"email":"a@example.com","id":42}}`),
	}
	raw := json.RawMessage(`{"to":{"mode":"ref","nodeId":"fetch","path":"user.email"}}`)

	resolved, err := resolveReferences(raw, outputs)
	if err != nil {
		t.Fatalf("resolveReferences returned error: %v", err)
	}
	var got struct {
		To string `json:"to"`
	}
	if err := json.Unmarshal(resolved, &got); err != nil {
		t.Fatalf("unmarshaling resolved params: %v", err)
	}
	if got.To != "a@example.com" {
		t.Errorf("resolved to = %q, want %q", got.To, "a@example.com")
	}
}

func TestResolveReferences_PlaceholderWholeString(t *testing.T) {
	outputs := map[string]json.RawMessage{
		"fetch": json.RawMessage(`{"count":7}`),
	}
	raw := json.RawMessage(`{"n":"{{fetch.count}}"}`)

	resolved, err := resolveReferences(raw, outputs)
	if err != nil {
		t.Fatalf("resolveReferences returned error: %v", err)
	}
	var got struct {
		N int `json:"n"`
	}
	if err := json.Unmarshal(resolved, &got); err != nil {
		t.Fatalf("unmarshaling resolved params: %v", err)
	}
	if got.N != 7 {
		t.Errorf("resolved n = %d, want 7, native type not preserved for whole-string placeholder", got.N)
	}
}

func TestResolveReferences_PlaceholderEmbeddedInString(t *testing.T) {
	outputs := map[string]json.RawMessage{
		"fetch": json.RawMessage(`{"name":"Ada"}`),
	}
	raw := json.RawMessage(`{"greeting":"hello {{fetch.name}}!"}`)

	resolved, err := resolveReferences(raw, outputs)
	if err != nil {
		t.Fatalf("resolveReferences returned error: %v", err)
	}
	var got struct {
		Greeting string `json:"greeting"`
	}
	if err := json.Unmarshal(resolved, &got); err != nil {
		t.Fatalf("unmarshaling resolved params: %v", err)
	}
	if got.Greeting != "hello Ada!" {
		t.Errorf("resolved greeting = %q, want %q", got.Greeting, "hello Ada!")
	}
}

func TestResolveReferences_MissingNodeFailsFast(t *testing.T) {
	raw := json.RawMessage(`{"to":{"mode":"ref","nodeId":"missing","path":"x"}}`)
	if _, err := resolveReferences(raw, map[string]json.RawMessage{}); !errors.Is(err, ErrMissingReference) {
		t.Errorf("resolveReferences with unknown nodeId = %v, want ErrMissingReference", err)
	}
}

func TestResolveReferences_MissingPathFailsFast(t *testing.T) {
	outputs := map[string]json.RawMessage{
		"fetch": json.RawMessage(`{"user":{"id":1}}`),
	}
	raw := json.RawMessage(`{"to":{"mode":"ref","nodeId":"fetch","path":"user.email"}}`)
	if _, err := resolveReferences(raw, outputs); !errors.Is(err, ErrMissingReference) {
		t.Errorf("resolveReferences with unknown path = %v, want ErrMissingReference", err)
	}
}

func TestResolveReferences_EmptyParamsResolveToEmptyObject(t *testing.T) {
	resolved, err := resolveReferences(nil, map[string]json.RawMessage{})
	if err != nil {
		t.Fatalf("resolveReferences(nil) returned error: %v", err)
	}
	if string(resolved) != "{}" {
		t.Errorf("resolveReferences(nil) = %s, want {}", resolved)
	}
}
