package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Mock is a scriptable Invoker for tests: each app/op pair is pre-loaded
// with the Result (or error) to return, and every call is recorded for
// assertions.
type Mock struct {
	mu sync.Mutex

	executeResults map[string]Result
	executeErrs    map[string]error
	pollEvents     map[string][]Event
	pollCursors    map[string]string
	pollErrs       map[string]error
	probeResults   map[string]ProbeResult
	probeErrs      map[string]error

	ExecuteCalls []ExecuteCall
	PollCalls    []PollCall
}

// ExecuteCall records one Execute invocation for test assertions.
type ExecuteCall struct {
	AppID, Op   string
	Credentials json.RawMessage
	Params      json.RawMessage
}

// PollCall records one Poll invocation for test assertions.
type PollCall struct {
	AppID, Op string
	Cursor    string
}

// NewMock constructs an empty Mock. Use SetExecuteResult/SetPollResult/
// SetProbeResult to script responses before use.
func NewMock() *Mock {
	return &Mock{
		executeResults: make(map[string]Result),
		executeErrs:    make(map[string]error),
		pollEvents:     make(map[string][]Event),
		pollCursors:    make(map[string]string),
		pollErrs:       make(map[string]error),
		probeResults:   make(map[string]ProbeResult),
		probeErrs:      make(map[string]error),
	}
}

func key(appID, op string) string { return appID + ":" + op }

// SetExecuteResult scripts the Result returned for the next (and all
// subsequent) Execute calls matching appID/op.
func (m *Mock) SetExecuteResult(appID, op string, result Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeResults[key(appID, op)] = result
}

// SetExecuteError scripts an error returned for Execute calls matching
// appID/op.
func (m *Mock) SetExecuteError(appID, op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeErrs[key(appID, op)] = err
}

// SetPollResult scripts the events and next cursor returned for Poll calls
// matching appID/op.
func (m *Mock) SetPollResult(appID, op string, events []Event, nextCursor string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollEvents[key(appID, op)] = events
	m.pollCursors[key(appID, op)] = nextCursor
}

// SetProbeResult scripts the TestConnection result for an app.
func (m *Mock) SetProbeResult(appID string, result ProbeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeResults[appID] = result
}

func (m *Mock) Execute(_ context.Context, appID, op string, credentials, params json.RawMessage) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExecuteCalls = append(m.ExecuteCalls, ExecuteCall{AppID: appID, Op: op, Credentials: credentials, Params: params})

	k := key(appID, op)
	if err, ok := m.executeErrs[k]; ok {
		return Result{}, err
	}
	if result, ok := m.executeResults[k]; ok {
		return result, nil
	}
	return Result{}, fmt.Errorf("connector mock: no scripted result for %s", k)
}

func (m *Mock) Poll(_ context.Context, appID, op string, credentials, parameters json.RawMessage, cursor string) ([]Event, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PollCalls = append(m.PollCalls, PollCall{AppID: appID, Op: op, Cursor: cursor})

	k := key(appID, op)
	if err, ok := m.pollErrs[k]; ok {
		return nil, "", err
	}
	return m.pollEvents[k], m.pollCursors[k], nil
}

func (m *Mock) TestConnection(_ context.Context, appID string, _ json.RawMessage) (ProbeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.probeErrs[appID]; ok {
		return ProbeResult{}, err
	}
	if result, ok := m.probeResults[appID]; ok {
		return result, nil
	}
	return ProbeResult{}, fmt.Errorf("connector mock: no scripted probe result for %s", appID)
}

var _ Invoker = (*Mock)(nil)
