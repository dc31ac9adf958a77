// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/catalog-crawler/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	redispublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/redis"
	gcsstorage "github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/catalog-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/catalog-crawler/internal/storage/postgres"
	sftpstorage "github.com/JakeFAU/catalog-crawler/internal/storage/sftp"
	"github.com/JakeFAU/catalog-crawler/internal/store"
)

// Options overrides process-wide collaborators, mainly for tests.
type Options struct {
	// Logger replaces the logger built from cfg.Logging.
	Logger *zap.Logger
	// Registerer receives the progress collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Transport replaces the fetcher's outbound round tripper.
	Transport http.RoundTripper
}

// App contains the application's dependencies.
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	apiServer   *api.Server
	pipeline    *crawler.Pipeline
	progressHub *progress.Hub
	broadcast   *progresssinks.BroadcastSink
	blobs       crawler.BlobStore
	gcsClient   *storage.Client
	sftpStore   *sftpstorage.BlobStore
	runs        store.RunRepository
	pgRuns      *pgstore.RunStore
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	// Only non-sensitive fields are logged.
	type sanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		StorageBackend string `json:"storage_backend"`
		CatalogPath    string `json:"catalog_path,omitempty"`
		AuthEnabled    bool   `json:"auth_enabled"`
	}
	logger.Info("creating application", zap.Any("config", sanitizedConfig{
		ServerPort:     cfg.Server.Port,
		StorageBackend: cfg.Storage.Backend,
		CatalogPath:    cfg.Catalog.Path,
		AuthEnabled:    cfg.Auth.Enabled,
	}))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves the HTTP API and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// RunOnce executes a single pipeline run without serving HTTP.
func (a *App) RunOnce(ctx context.Context, source string) (crawler.Summary, error) {
	sum, err := a.pipeline.Run(ctx, source)
	if err != nil {
		return sum, fmt.Errorf("run %s: %w", source, err)
	}
	a.logger.Info("run finished",
		zap.Stringer("run_id", sum.RunID),
		zap.String("source", sum.Source),
		zap.Int("exported", sum.Exported),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.cfg.ShutdownTimeout(); d > 0 {
		return d
	}
	return 10 * time.Second
}

// Close gracefully shuts down the application. The hub drains pending
// events and closes every sink before the stores behind them go away.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		// Syncing stderr fails on most terminals; not worth surfacing.
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure() {
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.sftpStore != nil {
		if err := a.sftpStore.Close(); err != nil {
			a.logger.Warn("sftp session close failed", zap.Error(err))
		}
	}
	if a.pgRuns != nil {
		a.pgRuns.Close()
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	return BuildWith(ctx, cfg, Options{})
}

// BuildWith is Build with explicit overrides.
func BuildWith(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()

	app.logger.Info("building application dependencies")
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("catalog init failed: %w", err)
	}
	app.logger.Info("catalog loaded", zap.Int("sources", len(cat.Sources())))

	// Partially built dependencies are released on every failure below.
	ok := false
	defer func() {
		if !ok {
			_ = app.Close(context.Background())
		}
	}()

	app.blobs, err = setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupRunStore(ctx, app); err != nil {
		return nil, err
	}
	if err = setupProgress(ctx, app, opts.Registerer); err != nil {
		return nil, err
	}

	fetchCfg := collyfetcher.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     cfg.FetchTimeout(),
		MaxBodySize: cfg.HTTP.MaxBodyBytes,
	}
	var fetcher *collyfetcher.Fetcher
	if opts.Transport != nil {
		fetcher = collyfetcher.NewWithTransport(fetchCfg, opts.Transport)
	} else {
		fetcher = collyfetcher.New(fetchCfg)
	}
	app.logger.Info("using colly fetcher",
		zap.String("user_agent", fetchCfg.UserAgent),
		zap.Duration("timeout", fetchCfg.Timeout),
	)

	app.pipeline, err = crawler.NewPipeline(crawler.PipelineDeps{
		Catalog: cat,
		Fetcher: fetcher,
		Blobs:   app.blobs,
		Emitter: app.progressHub,
		IDs:     uuid.New(),
		Clock:   system.New(),
		Hasher:  sha256.New(),
		Logger:  logger.Named("pipeline"),
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.pipeline, app.broadcast, app.runs, *cfg, logger.Named("api"))
	ok = true
	return app, nil
}

func setupStorage(ctx context.Context, app *App) (crawler.BlobStore, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend")
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: cfg.GCSBucket,
			Prefix: cfg.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", cfg.GCSBucket))
		return blobStore, nil
	case config.BackendSFTP:
		app.logger.Info("using SFTP storage backend")
		blobStore, err := sftpstorage.Dial(ctx, sftpstorage.Config{
			Host:                  cfg.SFTP.Host,
			Port:                  cfg.SFTP.Port,
			User:                  cfg.SFTP.User,
			Password:              cfg.SFTP.Password,
			RemoteDir:             cfg.SFTP.RemoteDir,
			InsecureIgnoreHostKey: cfg.SFTP.InsecureIgnoreHostKey,
			HostKey:               cfg.SFTP.HostKey,
			DialTimeout:           app.cfg.SFTPDialTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("sftp blob store init failed: %w", err)
		}
		app.sftpStore = blobStore
		app.logger.Debug("SFTP storage backend",
			zap.String("host", cfg.SFTP.Host),
			zap.String("remote_dir", cfg.SFTP.RemoteDir),
		)
		return blobStore, nil
	case config.BackendMemory:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Info("using local storage backend")
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", cfg.BaseDir))
		return blobStore, nil
	}
}

func setupRunStore(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, keeping run history in memory")
		app.runs = memorystorage.NewRunStore()
		return nil
	}
	runs, err := pgstore.NewRunStore(ctx, pgstore.Config{
		DSN:      app.cfg.DB.DSN,
		MaxConns: app.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.pgRuns = runs
	if err := runs.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("run store schema failed: %w", err)
	}
	app.runs = runs
	app.logger.Info("postgres run store initialized")
	return nil
}

func setupProgress(ctx context.Context, app *App, reg prometheus.Registerer) error {
	app.broadcast = progresssinks.NewBroadcastSink()
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		app.broadcast,
		progresssinks.NewStoreSink(app.runs, app.logger.Named("progress_store")),
	}

	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	publishSinks, err := setupPublishers(ctx, app)
	if err != nil {
		closeSinks(ctx, sinkList)
		return err
	}
	sinkList = append(sinkList, publishSinks...)

	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.BatchSize,
		MaxBatchWait:   app.cfg.ProgressMaxWait(),
		SinkTimeout:    app.cfg.ProgressSinkTimeout(),
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

// setupPublishers builds one PublishSink per configured broker.
func setupPublishers(ctx context.Context, app *App) ([]progress.Sink, error) {
	var out []progress.Sink
	if cfg := app.cfg.Redis; cfg.Addr != "" {
		pub, err := redispublisher.Dial(ctx, redispublisher.Config{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis publisher init failed: %w", err)
		}
		sink, err := progresssinks.NewPublishSink(pub, cfg.Channel)
		if err != nil {
			_ = pub.Close()
			return nil, fmt.Errorf("redis progress sink init failed: %w", err)
		}
		out = append(out, sink)
		app.logger.Info("redis progress publisher initialized",
			zap.String("addr", cfg.Addr),
			zap.String("channel", cfg.Channel),
		)
	}
	if cfg := app.cfg.PubSub; cfg.ProjectID != "" && cfg.TopicName != "" {
		pub, err := pubsubpublisher.Dial(ctx, cfg.ProjectID)
		if err != nil {
			closeSinks(ctx, out)
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		sink, err := progresssinks.NewPublishSink(pub, cfg.TopicName)
		if err != nil {
			_ = pub.Close()
			closeSinks(ctx, out)
			return nil, fmt.Errorf("pubsub progress sink init failed: %w", err)
		}
		out = append(out, sink)
		app.logger.Info("Pub/Sub progress publisher initialized",
			zap.String("project", cfg.ProjectID),
			zap.String("topic", cfg.TopicName),
		)
	}
	return out, nil
}

func closeSinks(ctx context.Context, sinks []progress.Sink) {
	for _, s := range sinks {
		_ = s.Close(ctx)
	}
}
