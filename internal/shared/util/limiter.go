package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket over rate.Limiter.
type Limiter struct {
	inner *rate.Limiter
}

// NewLimiter allows perSecond events per second with the given burst.
func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{inner: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow reports whether an event may happen now, consuming a token if so.
func (l *Limiter) Allow() bool {
	return l.inner.Allow()
}

// Wait blocks until a token is available or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.inner.Wait(ctx)
}

// Delay reserves a token and reports how long the caller must wait before
// using it.
func (l *Limiter) Delay() time.Duration {
	return l.inner.Reserve().Delay()
}
