package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDriver is an in-process Queue backed by a slice and a map of
// in-flight deliveries. It is forbidden outside tests (spec §4.5); the
// supervisor refuses to start the production stack if it is configured.
type MemoryDriver struct {
	mu        sync.Mutex
	ready     []ExecutionJob
	delayed   map[string]delayedEntry
	inflight  map[string]ExecutionJob
	heartbeat time.Time
	notify    chan struct{}
}

type delayedEntry struct {
	job       ExecutionJob
	deliverAt time.Time
}

// NewMemoryDriver constructs an empty in-memory queue.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		delayed:   make(map[string]delayedEntry),
		inflight:  make(map[string]ExecutionJob),
		heartbeat: time.Now(),
		notify:    make(chan struct{}, 1),
	}
}

func (m *MemoryDriver) Enqueue(_ context.Context, job ExecutionJob, delay time.Duration) error {
	job.EnqueuedAt = time.Now()

	m.mu.Lock()
	if delay <= 0 {
		m.ready = append(m.ready, job)
	} else {
		m.delayed[uuid.NewString()] = delayedEntry{job: job, deliverAt: time.Now().Add(delay)}
	}
	m.mu.Unlock()

	m.signal()
	return nil
}

func (m *MemoryDriver) promoteDue() {
	now := time.Now()
	m.mu.Lock()
	for key, entry := range m.delayed {
		if !now.Before(entry.deliverAt) {
			m.ready = append(m.ready, entry.job)
			delete(m.delayed, key)
		}
	}
	m.mu.Unlock()
}

func (m *MemoryDriver) Dequeue(ctx context.Context, timeout time.Duration) (Delivery, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.promoteDue()
		m.mu.Lock()
		m.heartbeat = time.Now()
		if len(m.ready) > 0 {
			job := m.ready[0]
			m.ready = m.ready[1:]
			job.Attempt++
			handle := uuid.NewString()
			m.inflight[handle] = job
			m.mu.Unlock()
			return newDelivery(m, job, handle), nil
		}
		m.mu.Unlock()

		if time.Now().After(deadline) {
			return Delivery{}, ErrNoJobs
		}
		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-m.notify:
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func (m *MemoryDriver) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *MemoryDriver) Ack(_ context.Context, handle string) error {
	m.mu.Lock()
	delete(m.inflight, handle)
	m.mu.Unlock()
	return nil
}

func (m *MemoryDriver) Nack(ctx context.Context, handle string, delay time.Duration) error {
	m.mu.Lock()
	job, ok := m.inflight[handle]
	delete(m.inflight, handle)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("queue: unknown delivery handle %q", handle)
	}
	return m.Enqueue(ctx, job, delay)
}

func (m *MemoryDriver) Health(_ context.Context) (Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Health{
		Driver:        "inmemory",
		Durable:       false,
		Backlog:       int64(len(m.ready) + len(m.delayed) + len(m.inflight)),
		LastHeartbeat: m.heartbeat,
	}, nil
}
