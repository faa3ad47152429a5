// Package retry implements the bounded, classified retry loop that wraps
// every upstream fetch.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// Policy drives fetch attempts for one URL: per-attempt timeout, bounded
// attempt count, exponential backoff between attempts, and classification
// of every failure into the run's error taxonomy.
type Policy struct {
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration
	slowThreshold  time.Duration
}

// Config holds retry tuning knobs.
type Config struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	SlowThreshold  time.Duration
}

// New builds a policy, filling unset fields with the engine defaults.
func New(cfg Config) *Policy {
	p := &Policy{
		maxAttempts:    cfg.MaxAttempts,
		baseDelay:      cfg.BaseDelay,
		maxDelay:       cfg.MaxDelay,
		attemptTimeout: cfg.AttemptTimeout,
		slowThreshold:  cfg.SlowThreshold,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 5
	}
	if p.baseDelay <= 0 {
		p.baseDelay = 500 * time.Millisecond
	}
	if p.maxDelay <= 0 {
		p.maxDelay = 30 * time.Second
	}
	if p.attemptTimeout <= 0 {
		p.attemptTimeout = 25 * time.Second
	}
	if p.slowThreshold <= 0 {
		p.slowThreshold = 10 * time.Second
	}
	return p
}

// Result is the final verdict for one URL after the attempt loop.
type Result struct {
	Page         scraper.Page
	Status       scraper.OutcomeStatus
	Reason       scraper.FailureReason
	HTTPStatus   int
	Attempts     int
	SlowAttempts int
	Err          error
}

// Do fetches req through fetcher until success, a terminal failure, or the
// attempt budget runs out. Every attempt is paced through the shared
// limiter. Do returns a non-nil error only when the run itself is shutting
// down; upstream failures are folded into the Result.
func (p *Policy) Do(ctx context.Context, fetcher scraper.Fetcher, limiter scraper.Limiter, req scraper.FetchRequest) (Result, error) {
	res := Result{Status: scraper.OutcomeRetryableFailure}

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.Backoff(attempt-1)); err != nil {
				return res, err
			}
		}
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
		start := time.Now()
		page, err := fetcher.Fetch(attemptCtx, req)
		cancel()
		elapsed := time.Since(start)

		res.Attempts = attempt + 1
		if elapsed >= p.slowThreshold {
			res.SlowAttempts++
		}

		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		reason, retryable, done := classify(page, err)
		res.Reason = reason
		res.HTTPStatus = page.StatusCode
		if done {
			res.Page = page
			res.Status = scraper.OutcomeSuccess
			res.Reason = scraper.ReasonNone
			res.Err = nil
			return res, nil
		}
		res.Err = err
		if !retryable {
			res.Status = scraper.OutcomeTerminalFailure
			return res, nil
		}
		res.Status = scraper.OutcomeRetryableFailure
	}

	return res, nil
}

// classify maps one attempt's result onto the failure taxonomy, returning
// the reason plus retryable and success flags.
func classify(page scraper.Page, err error) (scraper.FailureReason, bool, bool) {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return scraper.ReasonTimeout, true, false
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return scraper.ReasonTimeout, true, false
		}
		if errors.Is(err, scraper.ErrForeignHost) || errors.Is(err, scraper.ErrRobotsDisallowed) {
			// Off-host redirects and robots exclusions are deterministic;
			// retrying cannot help.
			return scraper.ReasonNetworkError, false, false
		}
		return scraper.ReasonNetworkError, true, false
	}

	switch {
	case page.StatusCode >= 200 && page.StatusCode < 300:
		return scraper.ReasonNone, false, true
	case page.StatusCode == http.StatusTooManyRequests:
		return scraper.ReasonHTTPStatus, true, false
	case page.StatusCode >= 500:
		return scraper.ReasonHTTPStatus, true, false
	default:
		// Remaining 3xx/4xx statuses are deterministic for this URL.
		return scraper.ReasonHTTPStatus, false, false
	}
}

// Backoff returns the wait before attempt+1: min(cap, base*2^attempt) plus
// a random jitter of up to half the computed delay. Jitter is additive, so
// the computed delay is a floor.
func (p *Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	d := time.Duration(delay)
	return d + randomJitter(d/2)
}

// MaxAttempts exposes the attempt budget for logging and metrics.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

func randomJitter(limit time.Duration) time.Duration {
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

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
