package llm

import (
	"sync"
	"time"
)

// CircuitState is the three-state machine a CircuitBreaker cycles through.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker is the per-provider failure breaker Router already calls
// (Allow/RecordSuccess/RecordFailure/State) to stop hammering a provider
// that is failing repeatedly. The router's own file references this type
// without defining it; this fills that gap with the standard
// closed->open->half-open state machine, mirroring the teacher's
// request-count-over-window idiom used elsewhere for admission gating.
type CircuitBreaker struct {
	mu               sync.Mutex
	failureThreshold int
	resetTimeout     time.Duration
	state            CircuitState
	failures         int
	openedAt         time.Time
}

// NewCircuitBreaker builds a breaker that opens after failureThreshold
// consecutive failures and attempts one half-open probe after
// resetTimeout has elapsed.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            StateClosed,
	}
}

// Allow reports whether a call may proceed. An open breaker allows
// exactly one probe call once resetTimeout has elapsed, transitioning to
// half-open.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateOpen:
		if time.Since(c.openedAt) >= c.resetTimeout {
			c.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (c *CircuitBreaker) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.state = StateClosed
}

// RecordFailure counts a failure, opening the breaker once the threshold
// is reached (or immediately re-opening a half-open probe that failed).
func (c *CircuitBreaker) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateHalfOpen {
		c.state = StateOpen
		c.openedAt = time.Now()
		return
	}

	c.failures++
	if c.failures >= c.failureThreshold {
		c.state = StateOpen
		c.openedAt = time.Now()
	}
}

// State reports the breaker's current state, surfaced by
// Router.ListProviders for /v1/gateway/status.
func (c *CircuitBreaker) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
