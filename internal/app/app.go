// Package app builds and holds the long-lived services shared by the CLI
// commands: logger, metrics, tracing, persistence, blob storage, publishing,
// and the render sink chain.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/batch-progress/internal/api"
	"github.com/JakeFAU/batch-progress/internal/backup"
	"github.com/JakeFAU/batch-progress/internal/batch"
	"github.com/JakeFAU/batch-progress/internal/clock/system"
	"github.com/JakeFAU/batch-progress/internal/config"
	iduuid "github.com/JakeFAU/batch-progress/internal/id/uuid"
	"github.com/JakeFAU/batch-progress/internal/logging"
	"github.com/JakeFAU/batch-progress/internal/metrics"
	"github.com/JakeFAU/batch-progress/internal/policy/ratelimit"
	"github.com/JakeFAU/batch-progress/internal/progress"
	"github.com/JakeFAU/batch-progress/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/batch-progress/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/batch-progress/internal/publisher/pubsub"
	"github.com/JakeFAU/batch-progress/internal/storage"
	gcsstorage "github.com/JakeFAU/batch-progress/internal/storage/gcs"
	localstorage "github.com/JakeFAU/batch-progress/internal/storage/local"
	memorystorage "github.com/JakeFAU/batch-progress/internal/storage/memory"
	pgstore "github.com/JakeFAU/batch-progress/internal/storage/postgres"
	"github.com/JakeFAU/batch-progress/internal/store"
	"github.com/JakeFAU/batch-progress/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	registry       *prometheus.Registry
	metrics        *metrics.Metrics
	tracerProvider trace.TracerProvider
	tracerShutdown func(context.Context) error

	runs      store.RunRepository
	pgRuns    *pgstore.RunStore
	blobs     storage.BlobStore
	gcsBlobs  *gcsstorage.BlobStore
	publisher sinks.Publisher

	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher

	limiter   *ratelimit.Limiter
	webhook   *sinks.WebhookSink
	collector *backup.Collector
	apiServer *api.Server
}

// Option customizes Build.
type Option func(*App)

// WithLogger replaces the logger Build would derive from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// Build creates the application's dependencies. On error every resource
// acquired so far is released.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (app *App, err error) {
	app = &App{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, logErr := logging.New(cfg.LoggingOptions())
		if logErr != nil {
			return nil, fmt.Errorf("logger init failed: %w", logErr)
		}
		zap.ReplaceGlobals(logger)
		app.logger = logger
	}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
			app = nil
		}
	}()

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics, err = metrics.New(app.registry)
	if err != nil {
		return app, fmt.Errorf("metrics init failed: %w", err)
	}

	app.tracerProvider, app.tracerShutdown, err = telemetry.InitTracerProvider(ctx, cfg.TracingOptions())
	if err != nil {
		return app, fmt.Errorf("tracer init failed: %w", err)
	}

	app.logger.Info("building application dependencies")
	if err = setupRuns(ctx, app); err != nil {
		return app, err
	}
	if err = setupStorage(ctx, app); err != nil {
		return app, err
	}
	if err = setupPublisher(ctx, app); err != nil {
		return app, err
	}
	if err = setupRenderer(app); err != nil {
		return app, err
	}
	if err = setupCollector(app); err != nil {
		return app, err
	}

	app.apiServer = api.NewServer(app.runs, app.metrics, app.registry, cfg, app.logger.Named("api"))
	return app, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Runs exposes the run repository.
func (a *App) Runs() store.RunRepository {
	return a.runs
}

// Blobs exposes the configured blob store.
func (a *App) Blobs() storage.BlobStore {
	return a.blobs
}

// Registry exposes the Prometheus registry backing /metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// RunBackup collects sourceDir as one batch run. An empty label finishes clean
// runs as "done".
func (a *App) RunBackup(ctx context.Context, sourceDir, label string) (backup.Summary, error) {
	if sourceDir == "" {
		sourceDir = a.cfg.Batch.SourceDir
	}
	if sourceDir == "" {
		return backup.Summary{}, errors.New("source directory is required")
	}
	summary, err := a.collector.Run(ctx, sourceDir, label)
	if err != nil {
		return summary, fmt.Errorf("backup run: %w", err)
	}
	return summary, nil
}

// Serve starts the HTTP API and blocks until ctx is canceled or a
// termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if serveErr != nil {
			a.logger.Error("http server error", zap.Error(serveErr))
		}
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// Close releases pools and clients and flushes telemetry.
func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	a.closeInfrastructure()
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	// Sync fails on unbuffered stderr; nothing useful to do with that.
	_ = a.logger.Sync()
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.gcsBlobs != nil {
		if err := a.gcsBlobs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsBlobs = nil
	}
	if a.pgRuns != nil {
		a.pgRuns.Close()
		a.pgRuns = nil
	}
}

func setupRuns(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, keeping run records in memory")
		app.runs = memorystorage.NewRunStore()
		return nil
	}
	runs, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:      app.cfg.DB.DSN,
		MaxConns: app.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.pgRuns = runs
	app.runs = runs
	if app.cfg.DB.Migrate {
		if err := runs.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("run store migration failed: %w", err)
		}
		app.logger.Info("run store schema ensured")
	}
	app.logger.Info("run store initialized")
	return nil
}

func setupStorage(ctx context.Context, app *App) error {
	switch app.cfg.Storage.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		blobs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket}, nil)
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.gcsBlobs = blobs
		app.blobs = blobs
	case config.BackendLocal:
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		app.blobs = blobs
	default:
		app.logger.Info("using in-memory storage backend")
		app.blobs = memorystorage.NewBlobStore()
	}
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.ProjectID == "" || app.cfg.PubSub.TopicName == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		app.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = gcppublisher.New(client, app.cfg.PubSub.TopicName)
	app.publisher = app.pubsubPublisher
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
		zap.String("fallback_topic", app.cfg.PubSub.FallbackTopic),
	)
	return nil
}

func setupRenderer(app *App) error {
	if app.cfg.Webhook.URL == "" {
		app.logger.Info("no webhook configured, rendering progress to the log")
		return nil
	}
	app.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerSecond: app.cfg.Webhook.RequestsPerSecond,
		Burst:             app.cfg.Webhook.Burst,
		Observer:          app.metrics,
	})
	webhook, err := sinks.NewWebhookSink(sinks.WebhookConfig{
		URL:         app.cfg.Webhook.URL,
		FallbackURL: app.cfg.Webhook.FallbackURL,
		Title:       app.cfg.Reporter.Title,
		Timeout:     app.cfg.Webhook.Timeout,
		Limiter:     app.limiter,
		Logger:      app.logger.Named("webhook"),
	})
	if err != nil {
		return fmt.Errorf("webhook sink init failed: %w", err)
	}
	app.webhook = webhook
	app.logger.Info("webhook renderer enabled",
		zap.String("host", metrics.SanitizeHost(app.cfg.Webhook.URL)),
		zap.Float64("requests_per_second", app.cfg.Webhook.RequestsPerSecond),
		zap.Int("burst", app.cfg.Webhook.Burst),
	)
	return nil
}

func setupCollector(app *App) error {
	runner := batch.New(batch.Config{
		Concurrency:    app.cfg.Batch.Concurrency,
		Logger:         app.logger.Named("batch"),
		Observer:       app.metrics,
		TracerProvider: app.tracerProvider,
	})
	reporterCfg := app.cfg.ProgressConfig()
	reporterCfg.Logger = app.logger.Named("progress")
	collector, err := backup.New(backup.Deps{
		Blobs:     app.blobs,
		Runs:      app.runs,
		Runner:    runner,
		Sinks:     app.SinkFor,
		IDs:       iduuid.NewGenerator(),
		Publisher: app.publisher,
		Observer:  app.metrics,
		Clock:     system.New(),
		Logger:    app.logger.Named("backup"),
	}, backup.Config{
		Prefix:            app.cfg.Batch.BlobPrefix,
		ReportContentType: app.cfg.Storage.ReportContentType,
		Reporter:          reporterCfg,
	})
	if err != nil {
		return fmt.Errorf("collector init failed: %w", err)
	}
	app.collector = collector
	return nil
}

// SinkFor builds the render sink chain for one run: the webhook (or log)
// sink, fallback notices published to pubsub.fallback_topic when set, and
// metrics plus tracing around every call.
func (a *App) SinkFor(runID uuid.UUID) progress.RenderSink {
	var primary progress.RenderSink
	if a.webhook != nil {
		primary = a.webhook
	} else {
		primary = sinks.NewLogSink(a.logger.Named("progress").With(zap.String("run_id", runID.String())))
	}
	var notifier sinks.Notifier
	if a.cfg.PubSub.FallbackTopic != "" {
		notifier = sinks.NewPublisherNotifier(a.publisher, a.cfg.PubSub.FallbackTopic, runID)
	}
	return sinks.NewInstrumentedSink(sinks.NewFallbackSink(primary, notifier), a.metrics, a.tracerProvider)
}
