// Package connector defines the boundary between the workflow executor and
// third-party connector integrations (spec §1 Non-goals: "the connector
// integration code that calls third-party APIs ... the core invokes it
// through a ConnectorInvoker interface"). This package owns only the
// contract and a mock used by tests; real provider calls are out of scope.
package connector

import (
	"context"
	"encoding/json"
	"time"
)

// Kind classifies a connector result so the executor can decide whether to
// retry, fail, or suspend on callback (spec §4.6, §7).
type Kind string

const (
	KindOk       Kind = "ok"
	KindRetry    Kind = "retry"
	KindFail     Kind = "fail"
	KindCallback Kind = "callback"
)

// FailureKind distinguishes retryable from terminal failures (spec §7).
type FailureKind string

const (
	FailureRetryable FailureKind = "retryable"
	FailureTerminal  FailureKind = "terminal"
)

// Result is the outcome of ConnectorInvoker.Execute, returned as a value
// rather than an error so control flow never depends on exceptions (spec
// §9: "Connector invocations return a result variant ... rather than
// throwing").
type Result struct {
	Kind Kind

	// Ok
	Output json.RawMessage

	// Retry
	RetryDelay time.Duration

	// Fail
	FailureKind FailureKind
	Message     string

	// Callback
	WaitUntil *time.Time
	Metadata  map[string]any
}

// Event is a single item returned by a polling trigger's Poll call.
type Event struct {
	DedupeKey string
	Payload   json.RawMessage
}

// ProbeResult is the outcome of a connection test probe (spec §4.2).
type ProbeResult struct {
	Success      bool
	Message      string
	ResponseTime time.Duration
	Error        string
}

// Invoker is the boundary the executor and trigger scheduler call into for
// everything that talks to a third-party API. Production deployments wire
// in a real implementation that knows how to reach each app's REST surface;
// this module ships only the contract and Mock.
type Invoker interface {
	// Execute runs one node operation with resolved credentials and
	// parameters. ctx is the per-execution context; suspension across this
	// call must be cancelable (spec §5).
	Execute(ctx context.Context, appID, op string, credentials, params json.RawMessage) (Result, error)

	// Poll fetches events for a polling trigger since cursor, returning an
	// updated cursor alongside the events.
	Poll(ctx context.Context, appID, op string, credentials, parameters json.RawMessage, cursor string) ([]Event, string, error)

	// TestConnection probes whether credentials are valid for an app,
	// independent of any specific node operation (spec §4.2 generic
	// fallback path).
	TestConnection(ctx context.Context, appID string, credentials json.RawMessage) (ProbeResult, error)
}
