// Package ratelimit paces upstream requests with a shared grant clock.
package ratelimit

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/michalporada/framer-marketplace-scraper/internal/metrics"
)

// Limiter spaces request grants at least a minimum interval apart and
// stretches each gap by a random jitter of up to the configured fraction
// of that interval. Jitter only ever extends the spacing; the minimum
// interval is a floor, not an average. All workers share one limiter, so
// total upstream pressure stays bounded no matter how many goroutines
// fetch concurrently.
type Limiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	jitterFrac  float64
	nextGrant   time.Time
	now         func() time.Time
}

// Config holds pacing configuration.
type Config struct {
	MinInterval    time.Duration
	JitterFraction float64
}

// New creates a grant-clock limiter.
func New(cfg Config) *Limiter {
	interval := cfg.MinInterval
	if interval <= 0 {
		interval = time.Second
	}
	frac := cfg.JitterFraction
	if frac < 0 {
		frac = 0
	}
	return &Limiter{
		minInterval: interval,
		jitterFrac:  frac,
		now:         time.Now,
	}
}

// Wait blocks until the caller's grant time arrives, then advances the
// clock for the next caller. Context cancellation unblocks immediately.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := l.now()
	grant := l.nextGrant
	if grant.Before(now) {
		grant = now
	}
	l.nextGrant = grant.Add(l.minInterval + l.jitter())
	l.mu.Unlock()

	delay := grant.Sub(now)
	if delay <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	case <-timer.C:
		metrics.ObserveRateWait(delay)
		return nil
	}
}

func (l *Limiter) jitter() time.Duration {
	limit := time.Duration(float64(l.minInterval) * l.jitterFrac)
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
