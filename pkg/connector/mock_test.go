package connector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestMock_ExecuteReturnsScriptedResult(t *testing.T) {
	m := NewMock()
	m.SetExecuteResult("slack", "postMessage", Result{Kind: KindOk, Output: json.RawMessage(`{"ts":"123"}`)})

	result, err := m.Execute(context.Background(), "slack", "postMessage", nil, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Kind != KindOk {
		t.Errorf("Kind = %q, want %q", result.Kind, KindOk)
	}
	if len(m.ExecuteCalls) != 1 {
		t.Fatalf("ExecuteCalls = %d, want 1", len(m.ExecuteCalls))
	}
}

func TestMock_ExecuteUnscriptedReturnsError(t *testing.T) {
	m := NewMock()
	if _, err := m.Execute(context.Background(), "unknown", "op", nil, nil); err == nil {
		t.Fatal("expected error for unscripted app/op")
	}
}

func TestMock_ExecuteReturnsScriptedError(t *testing.T) {
	m := NewMock()
	wantErr := errors.New("boom")
	m.SetExecuteError("slack", "postMessage", wantErr)

	_, err := m.Execute(context.Background(), "slack", "postMessage", nil, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestMock_PollReturnsScriptedEventsAndCursor(t *testing.T) {
	m := NewMock()
	events := []Event{{DedupeKey: "a", Payload: json.RawMessage(`{}`)}}
	m.SetPollResult("github", "listIssues", events, "cursor-2")

	got, cursor, err := m.Poll(context.Background(), "github", "listIssues", nil, nil, "cursor-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 1 || got[0].DedupeKey != "a" {
		t.Errorf("events = %+v, want one event with DedupeKey=a", got)
	}
	if cursor != "cursor-2" {
		t.Errorf("cursor = %q, want cursor-2", cursor)
	}
	if len(m.PollCalls) != 1 || m.PollCalls[0].Cursor != "cursor-1" {
		t.Errorf("PollCalls = %+v, want one call with Cursor=cursor-1", m.PollCalls)
	}
}

func TestMock_TestConnectionReturnsScriptedProbe(t *testing.T) {
	m := NewMock()
	m.SetProbeResult("openai", ProbeResult{Success: true, Message: "ok"})

	result, err := m.TestConnection(context.Background(), "openai", nil)
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if !result.Success {
		t.Error("expected Success=true")
	}
}
