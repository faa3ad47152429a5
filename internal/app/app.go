// Package app wires configuration into a runnable scrape engine. It builds
// the full dependency graph for one run: storage backends, the publisher,
// progress sinks, the fetch stack, the orchestrator, and the optional ops
// HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michalporada/framer-marketplace-scraper/internal/api"
	"github.com/michalporada/framer-marketplace-scraper/internal/checkpoint"
	"github.com/michalporada/framer-marketplace-scraper/internal/clock/system"
	"github.com/michalporada/framer-marketplace-scraper/internal/config"
	"github.com/michalporada/framer-marketplace-scraper/internal/dedup"
	collyfetcher "github.com/michalporada/framer-marketplace-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/michalporada/framer-marketplace-scraper/internal/fetcher/headless"
	"github.com/michalporada/framer-marketplace-scraper/internal/fingerprint"
	"github.com/michalporada/framer-marketplace-scraper/internal/gate"
	"github.com/michalporada/framer-marketplace-scraper/internal/hash/sha256"
	"github.com/michalporada/framer-marketplace-scraper/internal/headless/detector"
	"github.com/michalporada/framer-marketplace-scraper/internal/id/uuid"
	"github.com/michalporada/framer-marketplace-scraper/internal/logging"
	"github.com/michalporada/framer-marketplace-scraper/internal/metrics"
	"github.com/michalporada/framer-marketplace-scraper/internal/parser"
	"github.com/michalporada/framer-marketplace-scraper/internal/policy/ratelimit"
	"github.com/michalporada/framer-marketplace-scraper/internal/policy/simple"
	"github.com/michalporada/framer-marketplace-scraper/internal/progress"
	progresssinks "github.com/michalporada/framer-marketplace-scraper/internal/progress/sinks"
	memorypublisher "github.com/michalporada/framer-marketplace-scraper/internal/publisher/memory"
	gcppublisher "github.com/michalporada/framer-marketplace-scraper/internal/publisher/pubsub"
	"github.com/michalporada/framer-marketplace-scraper/internal/retry"
	"github.com/michalporada/framer-marketplace-scraper/internal/run"
	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
	"github.com/michalporada/framer-marketplace-scraper/internal/sitemap"
	"github.com/michalporada/framer-marketplace-scraper/internal/storage"
	storagememory "github.com/michalporada/framer-marketplace-scraper/internal/storage/memory"
	pgstore "github.com/michalporada/framer-marketplace-scraper/internal/storage/postgres"
	"github.com/michalporada/framer-marketplace-scraper/internal/store"
	"github.com/michalporada/framer-marketplace-scraper/internal/telemetry"
)

// App contains the engine's long-lived dependencies. One App performs one
// run; Build assembles it and Run executes it.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	orchestrator *run.Orchestrator
	apiServer    *api.Server

	hub      *progress.Hub
	stats    *progresssinks.StatsSink
	headless *headlessfetcher.Fetcher
	archive  scraper.Archive
	sink     scraper.Sink
	pubsub   *gcppublisher.Publisher
	runs     store.RunRepository

	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}

	tp, err := telemetry.InitTracerProvider(ctx, "marketscraper")
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	logger.Info("building engine",
		zap.String("host", cfg.Target.Host),
		zap.String("sitemap", cfg.Target.SitemapURL),
		zap.Int("workers", cfg.Crawl.Workers),
	)

	app.archive, err = storage.NewArchive(ctx, cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("archive init failed: %w", err)
	}
	app.sink, err = storage.NewSink(ctx, cfg.Sink)
	if err != nil {
		return nil, fmt.Errorf("record sink init failed: %w", err)
	}

	if err = setupRunStore(ctx, app); err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	emitter := setupProgress(ctx, app)

	app.orchestrator, err = setupOrchestrator(app, publisher, emitter)
	if err != nil {
		return nil, err
	}

	if cfg.Server.Enabled {
		app.apiServer = api.NewServer(
			app.orchestrator.Tracker(),
			app.stats,
			app.runs,
			logger.Named("api"),
		)
	}

	return app, nil
}

// Run executes the crawl and blocks until it finishes or a signal arrives.
// The ops server, when enabled, serves for the duration of the run. The
// returned summary carries the process exit code even when err is non-nil.
func (a *App) Run(ctx context.Context) (scraper.RunSummary, error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if a.apiServer != nil {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("ops server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("ops server error", zap.Error(err))
			}
		}()
	}

	summary, runErr := a.orchestrator.Execute(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("ops server shutdown error", zap.Error(err))
		}
	}
	a.Close(shutdownCtx)

	return summary, runErr
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.logger.Warn("record sink close failed", zap.Error(err))
		}
	}
	if closer, ok := a.archive.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn("archive close failed", zap.Error(err))
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if pg, ok := a.runs.(*pgstore.RunStore); ok {
		if err := pg.Close(); err != nil {
			a.logger.Warn("run store close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

// setupRunStore picks where run history lands. Without a DSN the history
// stays in memory, so the ops API still serves /v1/runs during dry runs.
func setupRunStore(ctx context.Context, app *App) error {
	pgCfg := app.cfg.Sink.Postgres
	if pgCfg.DSN == "" {
		app.logger.Info("no postgres dsn configured, keeping run history in memory")
		app.runs = storagememory.NewRunStore()
		return nil
	}
	rs, err := pgstore.NewRunStore(ctx, pgstore.RecordStoreConfig{
		DSN:             pgCfg.DSN,
		MaxConns:        int32(pgCfg.MaxConns),
		MinConns:        int32(pgCfg.MinConns),
		MaxConnLifetime: time.Duration(pgCfg.MaxConnLifetimeMin) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.runs = rs
	app.logger.Info("run history store initialized")
	return nil
}

func setupPublisher(ctx context.Context, app *App) (scraper.Publisher, error) {
	if app.cfg.PubSub.ProjectID == "" || app.cfg.PubSub.TopicName == "" {
		app.logger.Warn("no pub/sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.New(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.pubsub = pub
	app.logger.Info("pub/sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return pub, nil
}

// setupProgress assembles the progress sinks behind one hub. The stats sink
// backs the ops API, the log sink narrates the run, and the Prometheus sink
// feeds /metrics. A registration clash only costs the Prometheus sink.
func setupProgress(ctx context.Context, app *App) progress.Emitter {
	app.stats = progresssinks.NewStatsSink()
	sinkList := []progress.Sink{
		app.stats,
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		app.logger.Warn("prometheus progress sink unavailable", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}

	app.hub = progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      app.logger.Named("progress_hub"),
	}, sinkList...)
	return app.hub
}

func setupOrchestrator(app *App, publisher scraper.Publisher, emitter progress.Emitter) (*run.Orchestrator, error) {
	cfg := app.cfg
	classifier := scraper.NewClassifier(cfg.Target.Host)

	probe, err := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.Target.UserAgent,
		AllowedHost:    cfg.Target.Host,
		Parallelism:    cfg.Crawl.Workers,
		RequestTimeout: cfg.AttemptTimeout(),
	}, app.logger.Named("fetch"))
	if err != nil {
		return nil, fmt.Errorf("probe fetcher init failed: %w", err)
	}
	app.logger.Info("using colly probe fetcher", zap.String("user_agent", cfg.Target.UserAgent))

	var headless scraper.Fetcher
	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Target.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			NavQPS:            cfg.Headless.NavQPS,
		})
		if err != nil {
			app.logger.Warn("headless fetcher init failed, promotions disabled", zap.Error(err))
		} else {
			app.headless = hf
			headless = hf
			app.logger.Info("headless rendering enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	deps := run.Deps{
		Discovery: sitemap.New(
			&http.Client{Timeout: cfg.AttemptTimeout()},
			classifier,
			cfg.Target.UserAgent,
			app.logger.Named("sitemap"),
		),
		Cache:        sitemap.NewCache(cfg.State.Dir),
		Classifier:   classifier,
		Gate:         gate.New(cfg.Gate.MinRecordURLs, app.logger.Named("gate")),
		Checkpoint:   checkpoint.NewStore(cfg.State.Dir),
		Fingerprints: fingerprint.Open(cfg.State.Dir, app.logger.Named("fingerprint")),
		Dedup:        dedup.NewTracker(),
		Fetcher:      probe,
		Headless:     headless,
		Detector:     detector.NewHeuristic(cfg.Headless.PromotionThresh),
		Policy:       simple.New(cfg.Crawl.DenyPaths...),
		Parser:       parser.New(),
		Archive:      app.archive,
		Hasher:       sha256.New(),
		Sink:         app.sink,
		Publisher:    publisher,
		Runs:         app.runs,
		Limiter: ratelimit.New(ratelimit.Config{
			MinInterval:    cfg.MinInterval(),
			JitterFraction: cfg.Rate.JitterFraction,
		}),
		Retry: retry.New(retry.Config{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			BaseDelay:      time.Duration(cfg.Retry.BackoffBaseMs) * time.Millisecond,
			MaxDelay:       time.Duration(cfg.Retry.BackoffMaxMs) * time.Millisecond,
			AttemptTimeout: cfg.AttemptTimeout(),
			SlowThreshold:  cfg.SlowThreshold(),
		}),
		Clock:    system.New(),
		IDs:      uuid.New(),
		Progress: emitter,
	}

	return run.New(deps, cfg, app.logger.Named("run")), nil
}
