package scraper

import (
	"errors"
	"fmt"
)

// ErrForeignHost marks URLs that live outside the target host. They are
// dropped at discovery and counted, never fetched.
var ErrForeignHost = errors.New("url outside target host")

// ErrRobotsDisallowed marks URLs the site's robots.txt forbids for our
// user agent. Deterministic, so never retried.
var ErrRobotsDisallowed = errors.New("url disallowed by robots.txt")

// ErrGateFailed is returned when a safety gate blocks the run.
var ErrGateFailed = errors.New("safety gate failed")

// ErrUpstreamUnavailable marks runs aborted because the sitemap endpoint
// answered with a server error. Distinguished so schedulers can branch on
// exit code 2.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// ErrRunTimeout marks runs that exhausted the global run budget.
var ErrRunTimeout = errors.New("run timeout exceeded")

// ErrQueueClosed is returned by Dequeue once the work queue is closed and
// drained, letting workers tell a finished pass apart from a canceled run.
var ErrQueueClosed = errors.New("queue closed")

// DiscoveryFailure classifies why sitemap discovery failed. The
// classification decides whether the run aborts, with which exit code, and
// whether a cached classification may substitute.
type DiscoveryFailure string

// Discovery failure classes.
const (
	// DiscoveryUpstreamUnavailable covers 5xx responses from the sitemap
	// endpoint. The run aborts with exit code 2 and never substitutes a
	// cached sitemap: a stale sitemap hides deletions.
	DiscoveryUpstreamUnavailable DiscoveryFailure = "upstream_unavailable"
	// DiscoveryTransient covers network errors, timeouts, non-5xx HTTP
	// errors, and unparseable documents. A cached classification from the
	// previous run may substitute.
	DiscoveryTransient DiscoveryFailure = "transient"
	// DiscoveryMalformed covers parseable responses that yield no usable
	// URLs.
	DiscoveryMalformed DiscoveryFailure = "malformed"
)

// DiscoveryError wraps a sitemap discovery failure with its classification.
type DiscoveryError struct {
	Failure DiscoveryFailure
	Status  int
	Err     error
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("sitemap discovery %s (status %d): %v", e.Failure, e.Status, e.Err)
	}
	return fmt.Sprintf("sitemap discovery %s: %v", e.Failure, e.Err)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// NewDiscoveryError builds a classified discovery error.
func NewDiscoveryError(failure DiscoveryFailure, status int, err error) *DiscoveryError {
	return &DiscoveryError{Failure: failure, Status: status, Err: err}
}
