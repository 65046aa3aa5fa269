// Package ratelimiter provides token bucket rate limiting for the RPC
// transport, wrapping golang.org/x/time/rate.
package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter limits the sustained request rate while allowing bursts
// up to the bucket capacity. All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing requestsPerSecond sustained, with
// a bucket of burst tokens for spikes.
//
// A requestsPerSecond of 0 disables limiting entirely. A burst of 0
// defaults to the sustained rate, so a full second of traffic can
// arrive at once.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = requestsPerSecond
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether one request may proceed right now, consuming a
// token when it may. Use this to reject over-limit requests outright.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// AllowN consumes n tokens at once if all are available. No tokens are
// consumed otherwise.
func (r *RateLimiter) AllowN(n uint) bool {
	return r.limiter.AllowN(time.Now(), int(n))
}

// Wait blocks until a token is available or ctx is done. Use this to
// throttle with backpressure instead of rejecting.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Tokens returns the number of tokens currently in the bucket. The
// value is advisory; it can change before the caller acts on it.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
