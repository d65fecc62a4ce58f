package polling

import (
	"encoding/json"
	"testing"

	"github.com/wisbric/orchestra/pkg/connector"
)

func TestEventDedupeToken_PrefersConnectorDedupeKey(t *testing.T) {
	ev1 := connector.Event{DedupeKey: "evt-1", Payload: json.RawMessage(`{"a":1}`)}
	ev2 := connector.Event{DedupeKey: "evt-1", Payload: json.RawMessage(`{"a":2}`)}
	if eventDedupeToken("trigger-1", ev1) != eventDedupeToken("trigger-1", ev2) {
		t.Fatal("expected identical connector dedupe keys to produce the same token regardless of payload")
	}
}

func TestEventDedupeToken_FallsBackToPayloadHash(t *testing.T) {
	ev1 := connector.Event{Payload: json.RawMessage(`{"a":1,"b":2}`)}
	ev2 := connector.Event{Payload: json.RawMessage(`{"b":2,"a":1}`)}
	if eventDedupeToken("trigger-1", ev1) != eventDedupeToken("trigger-1", ev2) {
		t.Fatal("expected key-reordered payloads to hash identically")
	}

	ev3 := connector.Event{Payload: json.RawMessage(`{"a":2}`)}
	if eventDedupeToken("trigger-1", ev1) == eventDedupeToken("trigger-1", ev3) {
		t.Fatal("expected different payloads to produce different tokens")
	}
}

func TestEventDedupeToken_VariesByTrigger(t *testing.T) {
	ev := connector.Event{DedupeKey: "evt-1"}
	if eventDedupeToken("trigger-a", ev) == eventDedupeToken("trigger-b", ev) {
		t.Fatal("expected different trigger ids to produce different tokens")
	}
}
