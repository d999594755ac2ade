// Package ratelimit spaces out requests to the same origin so concurrent batch
// tasks do not hammer one host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration. A DefaultRPS of zero disables limiting.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// OnDelay, when set, receives the delay imposed on a task that had to wait.
	OnDelay func(host string, d time.Duration)
}

// Limiter hands out one token bucket per host.
type Limiter struct {
	limit   rate.Limit
	burst   int
	onDelay func(host string, d time.Duration)

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.DefaultRPS > 0 {
		limit = rate.Limit(cfg.DefaultRPS)
	}
	return &Limiter{
		limit:   limit,
		burst:   max(cfg.DefaultBurst, 1),
		onDelay: cfg.OnDelay,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until rawURL's host may be contacted. A wait that cannot finish
// before ctx's deadline fails at once and gives its token back.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil || l.limit == rate.Inf {
		return nil
	}
	host := hostOf(rawURL)
	reservation := l.bucket(host).Reserve()
	delay := reservation.Delay()
	if delay <= 0 {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
		reservation.Cancel()
		return fmt.Errorf("rate limit wait for %s: %w", host, context.DeadlineExceeded)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		if l.onDelay != nil {
			l.onDelay(host, delay)
		}
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return fmt.Errorf("rate limit wait for %s: %w", host, ctx.Err())
	}
}

// Hosts returns the number of hosts with a bucket.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[host]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[host] = b
	}
	return b
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
