package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/wisbric/orchestra/pkg/queue"
)

func TestReady_NoWorkersIsReady(t *testing.T) {
	s := New(nil, queue.NewMemoryDriver(), queue.DriverInMemory, true, time.Second)
	ready, stale := s.Ready()
	if !ready {
		t.Fatalf("expected ready with no workers, stale=%v", stale)
	}
}

func TestReady_FreshHeartbeatIsReady(t *testing.T) {
	s := New(nil, queue.NewMemoryDriver(), queue.DriverInMemory, true, 100*time.Millisecond)
	s.Heartbeat("worker-1")

	ready, stale := s.Ready()
	if !ready {
		t.Fatalf("expected ready after fresh heartbeat, stale=%v", stale)
	}
}

func TestReady_StaleHeartbeatIsNotReady(t *testing.T) {
	s := New(nil, queue.NewMemoryDriver(), queue.DriverInMemory, true, 10*time.Millisecond)
	s.Heartbeat("worker-1")

	time.Sleep(50 * time.Millisecond) // past 2x the 10ms tick period

	ready, stale := s.Ready()
	if ready {
		t.Fatal("expected not ready after stale heartbeat")
	}
	if len(stale) != 1 || stale[0] != "worker-1" {
		t.Errorf("stale = %v, want [worker-1]", stale)
	}
}

func TestQueueHealth_ReflectsDriver(t *testing.T) {
	q := queue.NewMockDurableDriver()
	s := New(nil, q, queue.DriverMock, true, time.Second)

	health, err := s.QueueHealth(context.Background())
	if err != nil {
		t.Fatalf("QueueHealth: %v", err)
	}
	if !health.Durable || health.Driver != "mock-durable" {
		t.Errorf("health = %+v, want durable mock-durable", health)
	}
}
