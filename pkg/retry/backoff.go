package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// BackoffStrategy computes the pause before the next attempt
type BackoffStrategy interface {
	// NextDelay returns the delay after the given (1-based) failed attempt
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows the delay by Multiplier per failed attempt, capped
// at MaxDelay. JitterFactor (0 to 1) spreads each delay by up to that
// fraction in either direction.
type ExponentialBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// DefaultExponentialBackoff starts at one second and caps at thirty.
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.1,
	}
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	growth := max(eb.Multiplier, 1)
	delay := float64(eb.BaseDelay)
	for range attempt - 1 {
		delay *= growth
		if eb.MaxDelay > 0 && delay >= float64(eb.MaxDelay) {
			break
		}
	}
	if eb.MaxDelay > 0 {
		delay = min(delay, float64(eb.MaxDelay))
	}

	if eb.JitterFactor > 0 {
		spread := delay * eb.JitterFactor
		delay += spread * (2*rand.Float64() - 1)
	}
	return time.Duration(max(delay, 0))
}

// ConstantBackoff waits the same amount between every attempt
type ConstantBackoff struct {
	Delay time.Duration
}

func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Wait sleeps for d unless ctx ends first, in which case it returns ctx.Err().
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
