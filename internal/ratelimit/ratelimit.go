// Package ratelimit enforces a per-tenant request budget.
package ratelimit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

// limitedError is returned when a key exhausted its budget. It carries 429
// for the HTTP layer.
type limitedError struct {
	key        string
	retryAfter time.Duration
}

func (e limitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.key)
}

func (e limitedError) StatusCode() int { return http.StatusTooManyRequests }

// RetryAfter is the wait until the next request would be admitted.
func (e limitedError) RetryAfter() time.Duration { return e.retryAfter }

// IsLimited reports whether err is a rate-limit rejection.
func IsLimited(err error) bool {
	_, ok := err.(limitedError)
	return ok
}

// Limiter holds one token bucket per key. A zero per-minute budget disables limiting.
type Limiter struct {
	perMinute int
	burst     int
	buckets   *xsync.MapOf[string, *rate.Limiter]
	now       func() time.Time
}

// New returns a limiter admitting perMinute requests per key, with bursts of
// up to perMinute.
func New(perMinute int) *Limiter {
	return &Limiter{
		perMinute: perMinute,
		burst:     perMinute,
		buckets:   xsync.NewMapOf[string, *rate.Limiter](),
		now:       time.Now,
	}
}

// Enabled reports whether limiting is active.
func (l *Limiter) Enabled() bool { return l != nil && l.perMinute > 0 }

// Allow consumes one token for key or returns a limitedError.
func (l *Limiter) Allow(key string) error {
	if !l.Enabled() {
		return nil
	}
	b, _ := l.buckets.LoadOrCompute(key, func() *rate.Limiter {
		return rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.burst)
	})
	now := l.now()
	r := b.ReserveN(now, 1)
	if !r.OK() {
		return limitedError{key: key}
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return limitedError{key: key, retryAfter: d}
	}
	return nil
}

// Forget drops the bucket for key, e.g. when its deployment is deleted.
func (l *Limiter) Forget(key string) {
	if l == nil {
		return
	}
	l.buckets.Delete(key)
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int { return l.buckets.Size() }
