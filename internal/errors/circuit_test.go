package errors

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(func() error { return errors.New("boom") })
	}
}

func TestCircuitBreakerTripsAfterRun(t *testing.T) {
	cb := NewCircuitBreaker("rerank-api",
		WithMaxFailures(3),
		WithResetTimeout(time.Second),
	)

	trip(cb, 3)
	assert.Equal(t, StateOpen, cb.State())

	// An open breaker rejects without invoking the function.
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreakerProbesAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker("rerank-api",
		WithMaxFailures(2),
		WithResetTimeout(50*time.Millisecond),
	)
	trip(cb, 2)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)

	// Cooldown elapsed: one probe goes through and closes the breaker.
	probed := false
	err := cb.Execute(func() error { probed = true; return nil })
	assert.NoError(t, err)
	assert.True(t, probed)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerFailedProbeReTrips(t *testing.T) {
	cb := NewCircuitBreaker("rerank-api",
		WithMaxFailures(2),
		WithResetTimeout(50*time.Millisecond),
	)
	trip(cb, 2)
	time.Sleep(60 * time.Millisecond)

	_ = cb.Execute(func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerSuccessClearsRun(t *testing.T) {
	cb := NewCircuitBreaker("rerank-api",
		WithMaxFailures(5),
		WithResetTimeout(time.Second),
	)
	trip(cb, 3)

	err := cb.Execute(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitExecuteWithResultFallsBack(t *testing.T) {
	cb := NewCircuitBreaker("rerank-api",
		WithMaxFailures(1),
		WithResetTimeout(time.Second),
	)
	trip(cb, 1)

	fellBack := false
	result, err := CircuitExecuteWithResult(cb,
		func() ([]int, error) { return []int{1, 2, 3}, nil },
		func() ([]int, error) { fellBack = true; return nil, nil },
	)
	assert.NoError(t, err)
	assert.True(t, fellBack)
	assert.Nil(t, result)
}

func TestCircuitBreakerConcurrentExecute(t *testing.T) {
	cb := NewCircuitBreaker("rerank-api",
		WithMaxFailures(10),
		WithResetTimeout(time.Second),
	)

	var wg sync.WaitGroup
	var done atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(func() error {
				if i%2 == 0 {
					return nil
				}
				return errors.New("boom")
			})
			done.Add(1)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(20), done.Load())
}

func TestCircuitBreakerAllow(t *testing.T) {
	cb := NewCircuitBreaker("rerank-api",
		WithMaxFailures(1),
		WithResetTimeout(time.Second),
	)
	assert.True(t, cb.Allow())

	trip(cb, 1)
	assert.False(t, cb.Allow())
}

func TestCircuitBreakerManualRecording(t *testing.T) {
	cb := NewCircuitBreaker("rerank-api", WithMaxFailures(3))

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, 2, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestNewCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker("rerank-api")

	assert.Equal(t, "rerank-api", cb.Name())
	assert.Equal(t, 5, cb.tripAt)
	assert.Equal(t, 30*time.Second, cb.cooldown)
	assert.Equal(t, StateClosed, cb.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
