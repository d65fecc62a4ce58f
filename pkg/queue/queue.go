// Package queue provides the durable FIFO execution job queue described in
// spec §4.5: at-least-once delivery with visibility-timeout redelivery, an
// in-memory driver restricted to tests, and a mock-durable driver that
// exists only to answer health checks in smoke tests.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNoJobs is returned by Dequeue when no job is currently available.
var ErrNoJobs = errors.New("queue: no jobs available")

// ReplayMode distinguishes a full-workflow replay from a single-node replay.
type ReplayMode string

const (
	ReplayFull ReplayMode = "full"
	ReplayNode ReplayMode = "node"
)

// Replay records provenance for a replayed execution (spec §4.5 Enqueue).
type Replay struct {
	SourceExecutionID uuid.UUID  `json:"sourceExecutionId"`
	Mode              ReplayMode `json:"mode"`
	NodeID            string     `json:"nodeId,omitempty"`
	Reason            string     `json:"reason,omitempty"`
	TriggeredBy       string     `json:"triggeredBy,omitempty"`
}

// ResumeState carries the saved node outputs and cursor needed to continue
// an execution from a resume token or due timer (spec §4.6, §4.7).
type ResumeState struct {
	StartNodeID string                     `json:"startNodeId"`
	NodeOutputs map[string]json.RawMessage `json:"nodeOutputs"`
}

// ExecutionJob is the message body the executor fleet consumes (spec §4.5).
type ExecutionJob struct {
	ExecutionID    uuid.UUID       `json:"executionId"`
	WorkflowID     uuid.UUID       `json:"workflowId"`
	OrganizationID uuid.UUID       `json:"organizationId"`
	UserID         *uuid.UUID      `json:"userId,omitempty"`
	TriggerType    string          `json:"triggerType"`
	TriggerData    json.RawMessage `json:"triggerData,omitempty"`
	InitialData    json.RawMessage `json:"initialData,omitempty"`
	ResumeState    *ResumeState    `json:"resumeState,omitempty"`
	Replay         *Replay         `json:"replay,omitempty"`

	// EnqueuedAt and Attempt are stamped by the queue driver, not the caller.
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Attempt    int       `json:"attempt"`
}

// Delivery wraps a dequeued job with the handle needed to Ack/Nack it.
type Delivery struct {
	Job     ExecutionJob
	handle  string
	driver  Queue
}

// Ack acknowledges successful (terminal) processing of the job.
func (d Delivery) Ack(ctx context.Context) error {
	return d.driver.Ack(ctx, d.handle)
}

// Nack returns the job to the queue for redelivery after delay. A retryable
// failure (spec §4.6) nacks with exponential backoff; delay of zero means
// immediate redelivery.
func (d Delivery) Nack(ctx context.Context, delay time.Duration) error {
	return d.driver.Nack(ctx, d.handle, delay)
}

// Health summarizes queue driver status for the supervisor's /health/queue
// endpoint (spec §4.9).
type Health struct {
	Driver        string    `json:"driver"`
	Durable       bool      `json:"durable"`
	Backlog       int64     `json:"backlog"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// Queue is a durable FIFO of ExecutionJob records with delayed delivery,
// at-least-once consumer semantics, and acknowledge/nack (spec §4.5).
type Queue interface {
	// Enqueue publishes a job for delivery no earlier than delay from now.
	// A delay of zero delivers as soon as a consumer is available.
	Enqueue(ctx context.Context, job ExecutionJob, delay time.Duration) error

	// Dequeue pulls the next available job, blocking up to the given
	// timeout. Returns ErrNoJobs if nothing is available within the timeout.
	// The returned Delivery's handle is valid until ackDeadline elapses; a
	// delivery that is neither acked nor nacked within that window is
	// redelivered automatically.
	Dequeue(ctx context.Context, timeout time.Duration) (Delivery, error)

	// Ack marks a delivery as terminally processed, removing it from the
	// queue permanently.
	Ack(ctx context.Context, handle string) error

	// Nack returns a delivery to the queue for redelivery after delay.
	Nack(ctx context.Context, handle string, delay time.Duration) error

	// Health reports driver status for readiness/health endpoints.
	Health(ctx context.Context) (Health, error)
}

func newDelivery(driver Queue, job ExecutionJob, handle string) Delivery {
	return Delivery{Job: job, handle: handle, driver: driver}
}
