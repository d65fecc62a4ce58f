package timer

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/wisbric/orchestra/pkg/queue"
)

func TestPayload_RoundTripsThroughJSON(t *testing.T) {
	original := Payload{
		WorkflowID:     uuid.New(),
		OrganizationID: uuid.New(),
		NodeID:         "wait-for-approval",
		TriggerType:    "timer",
		ResumeState:    &queue.ResumeState{StartNodeID: "wait-for-approval"},
		InitialData:    json.RawMessage(`{"foo":"bar"}`),
	}

	body, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Payload
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.WorkflowID != original.WorkflowID {
		t.Errorf("WorkflowID = %v, want %v", decoded.WorkflowID, original.WorkflowID)
	}
	if decoded.NodeID != original.NodeID {
		t.Errorf("NodeID = %q, want %q", decoded.NodeID, original.NodeID)
	}
	if decoded.ResumeState == nil || decoded.ResumeState.StartNodeID != original.ResumeState.StartNodeID {
		t.Errorf("ResumeState = %+v, want %+v", decoded.ResumeState, original.ResumeState)
	}
}

func TestNewDispatcher_DefaultsNonPositiveBatch(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.NewMemoryDriver()

	d := NewDispatcher(nil, q, logger, 0)
	if d.batch != 100 {
		t.Errorf("batch = %d, want 100", d.batch)
	}

	d = NewDispatcher(nil, q, logger, -5)
	if d.batch != 100 {
		t.Errorf("batch = %d, want 100", d.batch)
	}

	d = NewDispatcher(nil, q, logger, 7)
	if d.batch != 7 {
		t.Errorf("batch = %d, want 7", d.batch)
	}
}
