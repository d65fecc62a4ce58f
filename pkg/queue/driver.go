package queue

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Driver names recognized by QUEUE_DRIVER.
const (
	DriverDurable = "durable"
	DriverInMemory = "inmemory"
	DriverMock     = "mock"
)

// New constructs the Queue implementation named by driver. rdb may be nil
// when driver is not "durable". ackDeadline governs how long a durable
// delivery may go un-acked/nacked before it is reclaimed for redelivery.
func New(driver string, rdb *redis.Client, consumer string, ackDeadline time.Duration, logger *slog.Logger) (Queue, error) {
	switch driver {
	case DriverDurable:
		if rdb == nil {
			return nil, fmt.Errorf("queue: QUEUE_DRIVER=durable requires a redis client")
		}
		return NewRedisDriver(rdb, consumer, ackDeadline, logger)
	case DriverInMemory:
		return NewMemoryDriver(), nil
	case DriverMock:
		return NewMockDurableDriver(), nil
	default:
		return nil, fmt.Errorf("queue: unknown QUEUE_DRIVER %q", driver)
	}
}

// IsDurable reports whether a driver name is accepted for the production
// stack: the Redis Streams driver, or the mock-durable driver, which
// reports durable health but persists nothing (spec §4.5/§4.9: the
// supervisor refuses to start the production stack otherwise).
func IsDurable(driver string) bool {
	return driver == DriverDurable || driver == DriverMock
}
