package executor

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen wraps gobreaker's open-circuit/too-many-requests sentinels
// so callers outside this package don't need to import gobreaker directly.
var ErrCircuitOpen = errors.New("executor: connector circuit breaker is open")

const (
	breakerMaxFailures = 5
	breakerTimeout     = 30 * time.Second
	breakerHalfOpenMax = 3
)

// breakerRegistry lazily constructs one gobreaker.CircuitBreaker per
// connector app, so a failing third-party API (e.g. a down Slack instance)
// stops queueing node attempts against it without affecting other apps'
// nodes in flight.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerRegistry() *breakerRegistry {
	return &breakerRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (r *breakerRegistry) forApp(appID string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[appID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        appID,
		MaxRequests: breakerHalfOpenMax,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
	})
	r.breakers[appID] = cb
	return cb
}

// execute runs fn through appID's breaker. A gobreaker open/too-many-requests
// rejection is reported as a retryable connector.Result by the caller, not a
// terminal failure — the app may recover before the node's attempt budget
// is exhausted.
func (r *breakerRegistry) execute(appID string, fn func() (any, error)) (any, error) {
	out, err := r.forApp(appID).Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return out, nil
}
