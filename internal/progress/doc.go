// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces the scrape workers use to report their progress. It
// batches events on a background goroutine and fans them out to pluggable
// sinks such as Prometheus collectors, run statistics, and structured logs.
package progress
