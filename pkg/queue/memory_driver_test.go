package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryDriver_EnqueueDequeueAck(t *testing.T) {
	q := NewMemoryDriver()
	ctx := context.Background()

	job := ExecutionJob{ExecutionID: uuid.New(), WorkflowID: uuid.New(), TriggerType: "manual"}
	if err := q.Enqueue(ctx, job, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	d, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d.Job.ExecutionID != job.ExecutionID {
		t.Errorf("ExecutionID = %v, want %v", d.Job.ExecutionID, job.ExecutionID)
	}
	if d.Job.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", d.Job.Attempt)
	}

	if err := d.Ack(ctx); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	h, err := q.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Backlog != 0 {
		t.Errorf("Backlog = %d, want 0 after ack", h.Backlog)
	}
	if h.Durable {
		t.Error("MemoryDriver should report Durable=false")
	}
}

func TestMemoryDriver_DequeueTimesOutWhenEmpty(t *testing.T) {
	q := NewMemoryDriver()
	_, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	if err != ErrNoJobs {
		t.Fatalf("err = %v, want ErrNoJobs", err)
	}
}

func TestMemoryDriver_DelayedEnqueueNotImmediatelyAvailable(t *testing.T) {
	q := NewMemoryDriver()
	ctx := context.Background()

	job := ExecutionJob{ExecutionID: uuid.New()}
	if err := q.Enqueue(ctx, job, 200*time.Millisecond); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if _, err := q.Dequeue(ctx, 50*time.Millisecond); err != ErrNoJobs {
		t.Fatalf("expected ErrNoJobs before delay elapses, got %v", err)
	}

	d, err := q.Dequeue(ctx, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue after delay: %v", err)
	}
	if d.Job.ExecutionID != job.ExecutionID {
		t.Errorf("ExecutionID = %v, want %v", d.Job.ExecutionID, job.ExecutionID)
	}
}

func TestMemoryDriver_NackRedeliversWithIncrementedAttempt(t *testing.T) {
	q := NewMemoryDriver()
	ctx := context.Background()

	job := ExecutionJob{ExecutionID: uuid.New()}
	_ = q.Enqueue(ctx, job, 0)

	d, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := d.Nack(ctx, 0); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	redelivered, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue after nack: %v", err)
	}
	if redelivered.Job.Attempt != 2 {
		t.Errorf("Attempt after redelivery = %d, want 2", redelivered.Job.Attempt)
	}
}

func TestMockDurableDriver_ReportsDurable(t *testing.T) {
	q := NewMockDurableDriver()
	h, err := q.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !h.Durable || h.Driver != "mock-durable" {
		t.Errorf("Health = %+v, want Durable=true Driver=mock-durable", h)
	}
}

func TestIsDurable(t *testing.T) {
	cases := map[string]bool{
		DriverDurable:  true,
		DriverMock:     true,
		DriverInMemory: false,
		"bogus":        false,
	}
	for driver, want := range cases {
		if got := IsDurable(driver); got != want {
			t.Errorf("IsDurable(%q) = %v, want %v", driver, got, want)
		}
	}
}
