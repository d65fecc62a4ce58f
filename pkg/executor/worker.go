package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wisbric/orchestra/pkg/queue"
)

const dequeueTimeout = 5 * time.Second

// Heartbeater receives a liveness signal from a worker on every poll tick,
// whether or not a job was available (spec §4.9: readiness is gated on
// heartbeat freshness, not on there being work to do).
type Heartbeater interface {
	Heartbeat(workerID string)
}

type noopHeartbeater struct{}

func (noopHeartbeater) Heartbeat(string) {}

// Worker consumes ExecutionJobs from a queue.Queue and runs them through an
// Executor, acking or nacking each delivery per the Executor's Outcome.
type Worker struct {
	id       string
	queue    queue.Queue
	executor *Executor
	heartbeat Heartbeater
	logger   *slog.Logger
}

// NewWorker constructs a Worker. heartbeat may be nil, in which case
// heartbeats are dropped (useful in tests).
func NewWorker(id string, q queue.Queue, executor *Executor, heartbeat Heartbeater, logger *slog.Logger) *Worker {
	if heartbeat == nil {
		heartbeat = noopHeartbeater{}
	}
	return &Worker{id: id, queue: q, executor: executor, heartbeat: heartbeat, logger: logger}
}

// Run polls the queue until ctx is cancelled, running each dequeued job
// through the Executor and resolving the delivery accordingly.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("executor worker started", "worker_id", w.id)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("executor worker stopped", "worker_id", w.id)
			return
		default:
		}

		w.heartbeat.Heartbeat(w.id)

		delivery, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if !errors.Is(err, queue.ErrNoJobs) && ctx.Err() == nil {
				w.logger.Error("dequeuing execution job", "worker_id", w.id, "error", err)
			}
			continue
		}

		w.process(ctx, delivery)
	}
}

func (w *Worker) process(ctx context.Context, delivery queue.Delivery) {
	outcome, err := w.executor.Run(ctx, delivery.Job)
	if err != nil {
		w.logger.Error("running execution job", "worker_id", w.id, "execution_id", delivery.Job.ExecutionID, "error", err)
		if nackErr := delivery.Nack(ctx, retryDelay(delivery.Job.Attempt)); nackErr != nil {
			w.logger.Error("nacking failed job", "worker_id", w.id, "execution_id", delivery.Job.ExecutionID, "error", nackErr)
		}
		return
	}

	if outcome.Ack {
		if err := delivery.Ack(ctx); err != nil {
			w.logger.Error("acking job", "worker_id", w.id, "execution_id", delivery.Job.ExecutionID, "error", err)
		}
		return
	}

	if err := delivery.Nack(ctx, outcome.Delay); err != nil {
		w.logger.Error("nacking job", "worker_id", w.id, "execution_id", delivery.Job.ExecutionID, "error", err)
	}
}

// Fleet runs a fixed number of Workers concurrently, all against the same
// queue and executor, matching spec §5's "multiple processes, and multiple
// worker threads per process" scheduling model.
type Fleet struct {
	workers []*Worker
}

// NewFleet constructs size Workers, each with a distinct id derived from
// namePrefix.
func NewFleet(namePrefix string, size int, q queue.Queue, executor *Executor, heartbeat Heartbeater, logger *slog.Logger) *Fleet {
	workers := make([]*Worker, size)
	for i := 0; i < size; i++ {
		workers[i] = NewWorker(fmt.Sprintf("%s-%d", namePrefix, i), q, executor, heartbeat, logger)
	}
	return &Fleet{workers: workers}
}

// Run starts every worker and blocks until ctx is cancelled and all of them
// have returned.
func (f *Fleet) Run(ctx context.Context) {
	done := make(chan struct{}, len(f.workers))
	for _, w := range f.workers {
		w := w
		go func() {
			w.Run(ctx)
			done <- struct{}{}
		}()
	}
	for range f.workers {
		<-done
	}
}
