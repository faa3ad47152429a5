package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

type fetchFunc func(ctx context.Context, req scraper.FetchRequest) (scraper.Page, error)

func (f fetchFunc) Fetch(ctx context.Context, req scraper.FetchRequest) (scraper.Page, error) {
	return f(ctx, req)
}

type nopLimiter struct{}

func (nopLimiter) Wait(ctx context.Context) error { return ctx.Err() }

func fastPolicy(maxAttempts int) *Policy {
	return New(Config{
		MaxAttempts:    maxAttempts,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		AttemptTimeout: time.Second,
		SlowThreshold:  10 * time.Second,
	})
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	fetcher := fetchFunc(func(ctx context.Context, req scraper.FetchRequest) (scraper.Page, error) {
		return scraper.Page{URL: req.URL, StatusCode: 200, Body: []byte("<html>ok</html>")}, nil
	})

	res, err := fastPolicy(5).Do(context.Background(), fetcher, nopLimiter{}, scraper.FetchRequest{URL: "https://www.framer.com/marketplace/plugins/a"})
	require.NoError(t, err)
	require.Equal(t, scraper.OutcomeSuccess, res.Status)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, scraper.ReasonNone, res.Reason)
	require.Equal(t, 200, res.HTTPStatus)
	require.NotEmpty(t, res.Page.Body)
}

func TestDoExhaustsBudgetOnServerErrors(t *testing.T) {
	t.Parallel()

	var calls int
	fetcher := fetchFunc(func(ctx context.Context, req scraper.FetchRequest) (scraper.Page, error) {
		calls++
		return scraper.Page{URL: req.URL, StatusCode: 503}, nil
	})

	res, err := fastPolicy(3).Do(context.Background(), fetcher, nopLimiter{}, scraper.FetchRequest{URL: "https://www.framer.com/x"})
	require.NoError(t, err)
	require.Equal(t, scraper.OutcomeRetryableFailure, res.Status)
	require.Equal(t, scraper.ReasonHTTPStatus, res.Reason)
	require.Equal(t, 503, res.HTTPStatus)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, 3, calls, "attempt budget is a hard cap")
}

func TestDoStopsImmediatelyOnTerminalStatus(t *testing.T) {
	t.Parallel()

	var calls int
	fetcher := fetchFunc(func(ctx context.Context, req scraper.FetchRequest) (scraper.Page, error) {
		calls++
		return scraper.Page{URL: req.URL, StatusCode: 404}, nil
	})

	res, err := fastPolicy(5).Do(context.Background(), fetcher, nopLimiter{}, scraper.FetchRequest{URL: "https://www.framer.com/gone"})
	require.NoError(t, err)
	require.Equal(t, scraper.OutcomeTerminalFailure, res.Status)
	require.Equal(t, scraper.ReasonHTTPStatus, res.Reason)
	require.Equal(t, 1, calls, "4xx is deterministic, no second attempt")
}

func TestDoTreatsForeignRedirectAsTerminal(t *testing.T) {
	t.Parallel()

	var calls int
	fetcher := fetchFunc(func(ctx context.Context, req scraper.FetchRequest) (scraper.Page, error) {
		calls++
		return scraper.Page{}, fmt.Errorf("redirect to cdn.framer.app: %w", scraper.ErrForeignHost)
	})

	res, err := fastPolicy(5).Do(context.Background(), fetcher, nopLimiter{}, scraper.FetchRequest{URL: "https://www.framer.com/moved"})
	require.NoError(t, err)
	require.Equal(t, scraper.OutcomeTerminalFailure, res.Status)
	require.Equal(t, scraper.ReasonNetworkError, res.Reason)
	require.Equal(t, 1, calls, "off-host redirect is deterministic, no second attempt")
}

func TestDoRecoversAfterTransientErrors(t *testing.T) {
	t.Parallel()

	var calls int
	fetcher := fetchFunc(func(ctx context.Context, req scraper.FetchRequest) (scraper.Page, error) {
		calls++
		if calls <= 2 {
			return scraper.Page{}, &net.OpError{Op: "dial", Err: errors.New("connection refused")}
		}
		return scraper.Page{URL: req.URL, StatusCode: 200, Body: []byte("late")}, nil
	})

	res, err := fastPolicy(5).Do(context.Background(), fetcher, nopLimiter{}, scraper.FetchRequest{URL: "https://www.framer.com/flaky"})
	require.NoError(t, err)
	require.Equal(t, scraper.OutcomeSuccess, res.Status)
	require.Equal(t, 3, res.Attempts)
}

func TestDoTreatsRateLimitStatusAsRetryable(t *testing.T) {
	t.Parallel()

	var calls int
	fetcher := fetchFunc(func(ctx context.Context, req scraper.FetchRequest) (scraper.Page, error) {
		calls++
		if calls == 1 {
			return scraper.Page{StatusCode: 429}, nil
		}
		return scraper.Page{StatusCode: 200, Body: []byte("ok")}, nil
	})

	res, err := fastPolicy(5).Do(context.Background(), fetcher, nopLimiter{}, scraper.FetchRequest{URL: "https://www.framer.com/throttled"})
	require.NoError(t, err)
	require.Equal(t, scraper.OutcomeSuccess, res.Status)
	require.Equal(t, 2, res.Attempts)
}

func TestDoClassifiesAttemptTimeout(t *testing.T) {
	t.Parallel()

	p := New(Config{
		MaxAttempts:    2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		AttemptTimeout: 30 * time.Millisecond,
		SlowThreshold:  10 * time.Second,
	})
	fetcher := fetchFunc(func(ctx context.Context, req scraper.FetchRequest) (scraper.Page, error) {
		<-ctx.Done()
		return scraper.Page{}, ctx.Err()
	})

	res, err := p.Do(context.Background(), fetcher, nopLimiter{}, scraper.FetchRequest{URL: "https://www.framer.com/slow"})
	require.NoError(t, err)
	require.Equal(t, scraper.OutcomeRetryableFailure, res.Status)
	require.Equal(t, scraper.ReasonTimeout, res.Reason)
	require.Equal(t, 2, res.Attempts)
}

func TestDoCountsSlowAttempts(t *testing.T) {
	t.Parallel()

	p := New(Config{
		MaxAttempts:    1,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		AttemptTimeout: time.Second,
		SlowThreshold:  10 * time.Millisecond,
	})
	fetcher := fetchFunc(func(ctx context.Context, req scraper.FetchRequest) (scraper.Page, error) {
		time.Sleep(25 * time.Millisecond)
		return scraper.Page{StatusCode: 200, Body: []byte("ok")}, nil
	})

	res, err := p.Do(context.Background(), fetcher, nopLimiter{}, scraper.FetchRequest{URL: "https://www.framer.com/slow"})
	require.NoError(t, err)
	require.Equal(t, 1, res.SlowAttempts)
}

func TestDoReturnsParentContextError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	fetcher := fetchFunc(func(ctx context.Context, req scraper.FetchRequest) (scraper.Page, error) {
		cancel()
		return scraper.Page{StatusCode: 503}, nil
	})

	_, err := fastPolicy(5).Do(ctx, fetcher, nopLimiter{}, scraper.FetchRequest{URL: "https://www.framer.com/x"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestBackoffGrowsWithinBounds(t *testing.T) {
	t.Parallel()

	p := New(Config{
		MaxAttempts:    5,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       time.Second,
		AttemptTimeout: time.Second,
		SlowThreshold:  time.Second,
	})

	base := 100 * time.Millisecond
	prevFloor := time.Duration(0)
	for attempt := 0; attempt < 5; attempt++ {
		floor := base << attempt
		if floor > time.Second {
			floor = time.Second
		}
		got := p.Backoff(attempt)
		require.GreaterOrEqual(t, got, floor, "attempt %d", attempt)
		require.LessOrEqual(t, got, floor+floor/2, "attempt %d", attempt)
		require.GreaterOrEqual(t, floor, prevFloor, "floor must not shrink")
		prevFloor = floor
	}
}
