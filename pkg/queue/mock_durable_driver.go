package queue

import (
	"context"
)

// MockDurableDriver wraps a MemoryDriver but reports itself as durable in
// Health. It exists solely so smoke tests can exercise the supervisor's
// startup durability check and /health/queue endpoint without standing up a
// real broker (spec §4.5: "A mock-durable option exists solely to answer
// health checks as durable in smoke tests"). Its Enqueue/Dequeue semantics
// are identical to MemoryDriver and carry no real durability guarantee.
type MockDurableDriver struct {
	*MemoryDriver
}

// NewMockDurableDriver constructs a mock-durable driver.
func NewMockDurableDriver() *MockDurableDriver {
	return &MockDurableDriver{MemoryDriver: NewMemoryDriver()}
}

func (m *MockDurableDriver) Health(ctx context.Context) (Health, error) {
	h, err := m.MemoryDriver.Health(ctx)
	if err != nil {
		return Health{}, err
	}
	h.Driver = "mock-durable"
	h.Durable = true
	return h, nil
}

var (
	_ Queue = (*MockDurableDriver)(nil)
	_ Queue = (*MemoryDriver)(nil)
	_ Queue = (*RedisDriver)(nil)
)
