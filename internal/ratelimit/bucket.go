// Package ratelimit implements client-side token-bucket admission for
// outbound provider calls: a global budget, optional per-model overrides,
// and a priority queue drained by a background dispatcher.
package ratelimit

import "time"

// bucket is a real-valued token bucket with lazy refill. Not safe for
// concurrent use; the scheduler serializes access under its mutex.
type bucket struct {
	tokens     float64
	burst      float64
	ratePerSec float64 // requests_per_minute / 60
	lastRefill time.Time
}

func newBucket(requestsPerMinute, burst float64, now time.Time) *bucket {
	if burst < 1 {
		burst = 1
	}
	return &bucket{
		tokens:     burst,
		burst:      burst,
		ratePerSec: requestsPerMinute / 60.0,
		lastRefill: now,
	}
}

// refill recomputes tokens from elapsed wall-clock time. Tokens never exceed
// the burst capacity and never decrease here; a clock rewind counts as no
// elapsed time.
func (b *bucket) refill(now time.Time) {
	if now.Before(b.lastRefill) {
		b.lastRefill = now
		return
	}
	dt := now.Sub(b.lastRefill).Seconds()
	if dt <= 0 {
		return
	}
	b.tokens += dt * b.ratePerSec
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastRefill = now
}

// available reports whether one token could be consumed right now.
func (b *bucket) available() bool {
	return b.tokens >= 1
}

// take consumes one token. Caller must have checked available.
func (b *bucket) take() {
	b.tokens--
	if b.tokens < 0 {
		b.tokens = 0
	}
}
