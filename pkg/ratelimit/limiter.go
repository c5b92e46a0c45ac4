package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces outgoing requests
type Limiter interface {
	// Allow reports whether a request may proceed right now, consuming a slot if so
	Allow() bool
	// Wait blocks until a request may proceed or ctx is done
	Wait(ctx context.Context) error
	// Reset restores the limiter to its initial, full state
	Reset()
}

// TokenBucket spreads requests evenly over a period, allowing short bursts.
type TokenBucket struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	every   rate.Limit
	burst   int
}

// NewTokenBucket allows requests per period with the given burst size.
func NewTokenBucket(requests int, per time.Duration, burst int) *TokenBucket {
	if requests <= 0 {
		requests = 1
	}
	if burst <= 0 {
		burst = 1
	}
	every := rate.Every(per / time.Duration(requests))
	return &TokenBucket{
		limiter: rate.NewLimiter(every, burst),
		every:   every,
		burst:   burst,
	}
}

// PerMinute is shorthand for the requests_per_minute settings. Zero or less
// disables pacing.
func PerMinute(n int) Limiter {
	if n <= 0 {
		return Unlimited()
	}
	return NewTokenBucket(n, time.Minute, 1)
}

func (tb *TokenBucket) current() *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limiter
}

// Allow checks if a request can proceed
func (tb *TokenBucket) Allow() bool {
	return tb.current().Allow()
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.current().Wait(ctx)
}

// Reset refills the bucket
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.limiter = rate.NewLimiter(tb.every, tb.burst)
}

// SlidingWindow caps the number of requests inside a moving window. It suits
// hourly quotas where an even token rate would be too strict.
type SlidingWindow struct {
	windowSize  time.Duration
	maxRequests int
	requests    []time.Time
	mu          sync.Mutex
}

// NewSlidingWindow creates a new sliding window rate limiter
func NewSlidingWindow(maxRequests int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		requests:    make([]time.Time, 0, maxRequests),
	}
}

// Allow checks if a request can proceed
func (sw *SlidingWindow) Allow() bool {
	_, ok := sw.reserve(time.Now())
	return ok
}

// reserve records a request at now if there is room, otherwise returns how
// long until the oldest request leaves the window.
func (sw *SlidingWindow) reserve(now time.Time) (time.Duration, bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	sw.requests = append(sw.requests[:0], sw.requests[i:]...)

	if len(sw.requests) < sw.maxRequests {
		sw.requests = append(sw.requests, now)
		return 0, true
	}
	return sw.requests[0].Sub(cutoff), false
}

// Wait blocks until a request is allowed
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		wait, ok := sw.reserve(time.Now())
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset clears all recorded requests
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.requests = sw.requests[:0]
}

// Chain applies several limiters in order; a request proceeds once every one admits it.
type Chain []Limiter

// Allow consults each limiter. Slots taken from earlier limiters are not
// returned when a later one refuses.
func (c Chain) Allow() bool {
	for _, l := range c {
		if !l.Allow() {
			return false
		}
	}
	return true
}

// Wait waits on each limiter in turn
func (c Chain) Wait(ctx context.Context) error {
	for _, l := range c {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Reset resets every limiter in the chain
func (c Chain) Reset() {
	for _, l := range c {
		l.Reset()
	}
}

type unlimited struct{}

// Unlimited returns a limiter that never blocks
func Unlimited() Limiter { return unlimited{} }

func (unlimited) Allow() bool { return true }

func (unlimited) Wait(ctx context.Context) error { return ctx.Err() }

func (unlimited) Reset() {}
