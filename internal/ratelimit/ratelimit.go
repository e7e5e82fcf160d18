// Package ratelimit implements the per-connection request-rate limiter
// (A5), grounded on the teacher's ResourceGuard use of
// golang.org/x/time/rate.
package ratelimit

import "golang.org/x/time/rate"

// Limiter wraps a token-bucket limiter sized for one connection's request
// rate. A burst of 2x the sustained rate absorbs short spikes without
// tripping the limit.
type Limiter struct {
	l *rate.Limiter
}

// New creates a Limiter allowing ratePerSec sustained requests per second.
func New(ratePerSec float64) *Limiter {
	burst := int(ratePerSec * 2)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{l: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Allow reports whether a request arriving now should be admitted. A
// connection that fails Allow is disconnected by the caller, per §4.12 —
// this is a connection-fatal decision, not a request-level error
// response.
func (l *Limiter) Allow() bool {
	return l.l.Allow()
}
