package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedisDriver(t *testing.T) (*RedisDriver, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d, err := NewRedisDriver(rdb, "test-consumer", time.Minute, logger)
	if err != nil {
		t.Fatalf("NewRedisDriver: %v", err)
	}
	return d, func() {
		d.Close()
		rdb.Close()
		mr.Close()
	}
}

func TestRedisDriver_EnqueueDequeueAck(t *testing.T) {
	d, cleanup := newTestRedisDriver(t)
	defer cleanup()
	ctx := context.Background()

	job := ExecutionJob{ExecutionID: uuid.New(), WorkflowID: uuid.New(), TriggerType: "manual"}
	if err := d.Enqueue(ctx, job, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	delivery, err := d.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if delivery.Job.ExecutionID != job.ExecutionID {
		t.Errorf("ExecutionID = %v, want %v", delivery.Job.ExecutionID, job.ExecutionID)
	}

	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	h, err := d.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !h.Durable || h.Driver != "redis-streams" {
		t.Errorf("Health = %+v, want Durable=true Driver=redis-streams", h)
	}
}

func TestRedisDriver_NackRepublishesJob(t *testing.T) {
	d, cleanup := newTestRedisDriver(t)
	defer cleanup()
	ctx := context.Background()

	job := ExecutionJob{ExecutionID: uuid.New()}
	if err := d.Enqueue(ctx, job, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	delivery, err := d.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := delivery.Nack(ctx, 0); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	redelivered, err := d.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue after nack: %v", err)
	}
	if redelivered.Job.ExecutionID != job.ExecutionID {
		t.Errorf("ExecutionID = %v, want %v", redelivered.Job.ExecutionID, job.ExecutionID)
	}
}

func TestRedisDriver_DequeueReturnsErrNoJobsWhenEmpty(t *testing.T) {
	d, cleanup := newTestRedisDriver(t)
	defer cleanup()

	_, err := d.Dequeue(context.Background(), 50*time.Millisecond)
	if err != ErrNoJobs {
		t.Fatalf("err = %v, want ErrNoJobs", err)
	}
}

func TestRedisDriver_DelayedJobPromotedAfterDelay(t *testing.T) {
	d, cleanup := newTestRedisDriver(t)
	defer cleanup()
	ctx := context.Background()

	job := ExecutionJob{ExecutionID: uuid.New()}
	if err := d.Enqueue(ctx, job, 50*time.Millisecond); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// promoteLoop runs every 500ms; poll past the delay and promotion tick.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		delivery, err := d.Dequeue(ctx, 100*time.Millisecond)
		if err == nil {
			if delivery.Job.ExecutionID != job.ExecutionID {
				t.Fatalf("ExecutionID = %v, want %v", delivery.Job.ExecutionID, job.ExecutionID)
			}
			return
		}
		if err != ErrNoJobs {
			t.Fatalf("Dequeue: %v", err)
		}
	}
	t.Fatal("delayed job was never promoted to the stream")
}
