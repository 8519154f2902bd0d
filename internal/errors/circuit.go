package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute while the breaker is tripped.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker position: closed (passing), open (blocking) or
// half-open (probing with a single trial request).
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails fast once a dependency has produced a run of
// consecutive errors, then probes it again after a cooldown. The
// retrieval engine uses one around the remote rerank API so a dead
// endpoint degrades searches to the fused order instead of stalling
// every query on a timeout.
type CircuitBreaker struct {
	name     string
	tripAt   int
	cooldown time.Duration

	mu       sync.RWMutex
	state    State
	failures int
	trippedA time.Time
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets how many consecutive failures trip the breaker.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.tripAt = n }
}

// WithResetTimeout sets the cooldown before a probe is allowed.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.cooldown = d }
}

// NewCircuitBreaker builds a breaker that trips after 5 consecutive
// failures and probes again 30 seconds later, unless overridden.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:     name,
		tripAt:   5,
		cooldown: 30 * time.Second,
		state:    StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the breaker's label, used in log lines.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State reports the current position, accounting for cooldown expiry.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.position()
}

// position must be called with the lock (read or write) held.
func (cb *CircuitBreaker) position() State {
	if cb.state == StateOpen && time.Since(cb.trippedA) > cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Failures returns the consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Allow reports whether a request may go through right now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.position() != StateOpen
}

// RecordSuccess closes the breaker and clears the failure run.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	cb.failures = 0
	cb.state = StateClosed
	cb.mu.Unlock()
}

// RecordFailure extends the failure run, tripping the breaker when it
// reaches the limit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	cb.failures++
	cb.trippedA = time.Now()
	if cb.failures >= cb.tripAt {
		cb.state = StateOpen
	}
	cb.mu.Unlock()
}

// Execute runs fn through the breaker, returning ErrCircuitOpen without
// calling it while the breaker is open. In half-open state fn is the
// probe: failure re-trips immediately, success closes the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	state := cb.position()

	switch state {
	case StateOpen:
		cb.mu.Unlock()
		return ErrCircuitOpen

	case StateHalfOpen:
		cb.state = StateHalfOpen
		cb.mu.Unlock()

		if err := fn(); err != nil {
			cb.mu.Lock()
			cb.state = StateOpen
			cb.trippedA = time.Now()
			cb.mu.Unlock()
			return err
		}
		cb.RecordSuccess()
		return nil

	default:
		cb.mu.Unlock()

		if err := fn(); err != nil {
			cb.RecordFailure()
			return err
		}
		cb.RecordSuccess()
		return nil
	}
}

// CircuitExecuteWithResult runs fn through the breaker and routes to
// fallback instead of erroring while the breaker is open (or when the
// half-open probe fails). The fallback result carries fn's value type.
func CircuitExecuteWithResult[T any](cb *CircuitBreaker, fn func() (T, error), fallback func() (T, error)) (T, error) {
	cb.mu.Lock()
	state := cb.position()

	switch state {
	case StateOpen:
		cb.mu.Unlock()
		return fallback()

	case StateHalfOpen:
		cb.state = StateHalfOpen
		cb.mu.Unlock()

		result, err := fn()
		if err != nil {
			cb.mu.Lock()
			cb.state = StateOpen
			cb.trippedA = time.Now()
			cb.mu.Unlock()
			return fallback()
		}
		cb.RecordSuccess()
		return result, nil

	default:
		cb.mu.Unlock()

		result, err := fn()
		if err != nil {
			cb.RecordFailure()
			return result, err
		}
		cb.RecordSuccess()
		return result, nil
	}
}
