// Package ratelimit paces requests to the content sources.
//
// Every source gets its own limiter built from its requests_per_minute
// setting, so a slow or strict source never throttles the others.
//
// Available Implementations:
//
// Token Bucket:
//   - Backed by golang.org/x/time/rate
//   - Spreads requests evenly over the period with a configurable burst
//
// Sliding Window:
//   - Caps the number of requests inside a moving window
//   - Used for hourly quotas on top of a per-minute token bucket
//
// Limiters compose with Chain and all Wait calls honour context cancellation:
//
//	limiter := ratelimit.Chain{
//	    ratelimit.PerMinute(20),
//	    ratelimit.NewSlidingWindow(200, time.Hour),
//	}
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
