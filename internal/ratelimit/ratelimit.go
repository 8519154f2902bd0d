// Package ratelimit implements the sliding-window request throttle used to
// gate outbound calls to remote embedding/rerank APIs (spec component C9).
package ratelimit

import (
	"context"
	"sync"
	"time"

	pampaerrors "github.com/lemon07r/pampax/internal/errors"
)

// window is the sliding window duration over which requests are counted.
const window = 60 * time.Second

// retryDelays is the fixed backoff ladder applied on a 429-classified
// failure. After the fourth failure, rate_limit_exhausted is surfaced.
var retryDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// Limiter throttles calls to at most RPM requests per 60-second sliding
// window. A zero or negative RPM means unlimited: Execute dispatches
// immediately and never retries on its own (retry is still applied for
// 429-classified errors).
//
// Dispatch is FIFO: calls block on a mutex-guarded queue in arrival order,
// so no caller can be reordered ahead of one that arrived earlier.
type Limiter struct {
	mu        sync.Mutex
	rpm       int
	fifo      sync.Mutex // held for the duration of the wait+dispatch to enforce FIFO
	timestamps []time.Time
}

// New creates a Limiter. rpm <= 0 means unlimited.
func New(rpm int) *Limiter {
	return &Limiter{rpm: rpm}
}

// Execute runs fn, blocking until the sliding window has capacity, then
// retrying on 429-classified failures per the fixed delay ladder. After the
// fourth failure it returns an ERR_304_RATE_LIMIT_EXHAUSTED error.
func (l *Limiter) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := l.waitForSlot(ctx); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRateLimited(err) {
			return err
		}

		if attempt >= len(retryDelays) {
			return pampaerrors.New(pampaerrors.ErrCodeRateLimitExhausted,
				"rate limit exhausted after 4 retries", lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelays[attempt]):
		}
	}
}

// waitForSlot blocks until the sliding window has room for one more
// request, then records the dispatch timestamp. FIFO ordering is enforced
// by holding l.fifo for the full wait, so a caller that entered first is
// dispatched first.
func (l *Limiter) waitForSlot(ctx context.Context) error {
	l.fifo.Lock()
	defer l.fifo.Unlock()

	if l.rpm <= 0 {
		l.record()
		return nil
	}

	for {
		wait := l.timeUntilSlot()
		if wait <= 0 {
			l.record()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// timeUntilSlot returns how long to wait before the next request is
// allowed, or 0 if a slot is immediately available.
func (l *Limiter) timeUntilSlot() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.evict(now)

	if len(l.timestamps) < l.rpm {
		return 0
	}

	// Oldest timestamp falls out of the window after `window` elapses.
	oldest := l.timestamps[0]
	return window - now.Sub(oldest)
}

// record appends the current dispatch timestamp.
func (l *Limiter) record() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(time.Now())
	l.timestamps = append(l.timestamps, time.Now())
}

// evict drops timestamps older than the sliding window. Caller must hold l.mu.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.timestamps) && l.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.timestamps = l.timestamps[i:]
	}
}

// NoOp is a Limiter with no configured limit, used for local embedding
// providers that never need throttling.
func NoOp() *Limiter {
	return New(0)
}
