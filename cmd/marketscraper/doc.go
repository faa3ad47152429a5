// Package main hosts the marketplace scraper entrypoint.
//
// Architecture overview:
//   - Discovery: internal/sitemap fetches the target's XML sitemap (following one
//     level of <sitemapindex> indirection via etree) and classifies every URL into
//     plugin, template, creator, or category pages. A successful classification is
//     cached on disk so a later run can survive a transient sitemap outage; a 5xx
//     from the sitemap endpoint instead aborts the run with exit code 2.
//   - Orchestration: internal/run drives the state machine for one run. It admits
//     work through the crawl policy, checks the pre-fetch safety gate, executes a
//     main fetch pass and a reduced-concurrency retry pass, checks the pre-publish
//     gate, then flushes sinks, publishes change events, and emits a single JSON
//     summary line on stdout. Exit codes: 0 success, 1 failure/aborted gate,
//     2 upstream unavailable.
//   - Fetch pipeline: internal/worker fans work items out to a bounded pool. Every
//     attempt waits on the shared pacing limiter, runs under the retry policy's
//     backoff budget, and may be promoted to a headless Chromedp fetch when the
//     heuristic detector flags an app-shell response. Parsed records are deduped,
//     fingerprinted for change detection, archived as raw HTML, and written to the
//     configured sinks.
//   - Persistence & fanout: raw pages land in the blob archive (memory/local/GCS),
//     records in Postgres and/or CSV, run history in Postgres, and record-change
//     notifications on Pub/Sub when a topic is configured. Checkpoints and page
//     fingerprints under state.dir make interrupted runs resumable and repeat runs
//     cheap.
//   - Configuration & plumbing: Viper populates config from file and SCRAPER_* env
//     vars; zap provides structured logging on stderr; Prometheus metrics are
//     served on /metrics when the ops server is enabled; progress events are
//     batched through the hub into stats, log, and Prometheus sinks.
//
// Operational notes:
//   - Concurrency model: bounded queue + fixed worker pool for the main pass, a
//     smaller pool for the retry pass; headless fetches hold their own semaphore
//     and navigation rate cap inside the Chromedp fetcher. SIGINT/SIGTERM cancel
//     the run context, workers drain, and the checkpoint records progress so the
//     next invocation resumes instead of refetching.
//   - Pacing: one shared grant-clock limiter spaces all upstream requests by
//     rate.min_interval_ms with jitter; retries back off exponentially between
//     attempts on top of that.
//   - Safety gates: gate.min_record_urls blocks both fetching and publishing when
//     a run discovers suspiciously few record URLs, so a broken sitemap cannot
//     wipe downstream consumers.
//
// Run locally: go run ./cmd/marketscraper -config config.yaml (or rely solely on
// SCRAPER_* env overrides). The process performs exactly one run and exits.
package main
