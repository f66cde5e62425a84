// Package app initializes and holds long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wendelpaco/nfce-scraper-service/internal/api"
	"github.com/wendelpaco/nfce-scraper-service/internal/artifact"
	"github.com/wendelpaco/nfce-scraper-service/internal/browser"
	"github.com/wendelpaco/nfce-scraper-service/internal/clock/system"
	"github.com/wendelpaco/nfce-scraper-service/internal/config"
	"github.com/wendelpaco/nfce-scraper-service/internal/id/uuid"
	"github.com/wendelpaco/nfce-scraper-service/internal/metrics"
	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
	pubsubpublisher "github.com/wendelpaco/nfce-scraper-service/internal/publisher/pubsub"
	"github.com/wendelpaco/nfce-scraper-service/internal/queue"
	queuememory "github.com/wendelpaco/nfce-scraper-service/internal/queue/memory"
	"github.com/wendelpaco/nfce-scraper-service/internal/scraper"
	storagememory "github.com/wendelpaco/nfce-scraper-service/internal/storage/memory"
	"github.com/wendelpaco/nfce-scraper-service/internal/storage/postgres"
	"github.com/wendelpaco/nfce-scraper-service/internal/webhook"
	"github.com/wendelpaco/nfce-scraper-service/internal/worker"
)

// queueProvider is both sides of a queue; the redis and memory
// implementations each satisfy it.
type queueProvider interface {
	nfce.Queue
	nfce.Consumer
}

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and torn down by Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	jobs    nfce.JobStore
	results nfce.ResultStore

	scrapeQueue     queueProvider
	escalationQueue queueProvider

	pool     *browser.Pool
	registry *scraper.Registry
	worker   *worker.Worker
	escalate *worker.Escalation
	poller   *worker.Poller
	server   *api.Server

	pgJobs       *postgres.JobStore
	pgResults    *postgres.ResultStore
	redisClient  *redis.Client
	pubsubClient *pubsub.Client
	pubsubTopic  *pubsub.Topic
	gcsClient    *gcstorage.Client
}

// NewApp builds every service from the configuration, failing fast
// when a critical dependency cannot be reached.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}

	if err := a.initStores(ctx); err != nil {
		return nil, err
	}
	if err := a.initQueues(); err != nil {
		return nil, err
	}

	clk := system.New()
	ids := uuid.NewUUIDGenerator()

	a.pool = browser.NewPool(browser.Config{
		ProxyURL:          cfg.Proxy.URL,
		ProxyUsername:     cfg.Proxy.Username,
		ProxyPassword:     cfg.Proxy.Password,
		NavigationTimeout: time.Duration(cfg.Browser.NavTimeoutSec) * time.Second,
		PageMaxAge:        time.Duration(cfg.Worker.PageMaxAgeSeconds) * time.Second,
		Headless:          cfg.Browser.Headless,
	}, clk, logger.Named("browser"))

	a.registry = scraper.NewRegistry(logger.Named("scraper"))
	if err := a.registry.Validate(); err != nil {
		return nil, fmt.Errorf("validate scraper registry: %w", err)
	}

	notifier := webhook.NewNotifier(logger.Named("webhook"))

	publisher, err := a.initPublisher(ctx)
	if err != nil {
		return nil, err
	}

	artifacts, err := a.initArtifacts(ctx)
	if err != nil {
		return nil, err
	}

	workerCfg := worker.Config{
		ResultMarkerTimeout: time.Duration(cfg.Worker.MarkerTimeoutSec) * time.Second,
		PageMaxAge:          time.Duration(cfg.Worker.PageMaxAgeSeconds) * time.Second,
		SnapshotPrefix:      cfg.Worker.SnapshotPathPrefix,
	}

	a.worker = worker.New(
		a.jobs,
		a.results,
		a.pool,
		a.registry,
		a.escalationQueue,
		notifier,
		publisher,
		artifacts,
		clk,
		ids,
		workerCfg,
		logger.Named("worker"),
	)
	a.escalate = worker.NewEscalation(
		a.jobs,
		a.results,
		a.pool,
		a.registry,
		notifier,
		clk,
		ids,
		nil,
		workerCfg,
		logger.Named("escalation"),
	)

	if cfg.Worker.PollFallback {
		interval := time.Duration(cfg.Worker.PollIntervalSec) * time.Second
		a.poller = worker.NewPoller(a.worker, a.jobs, interval, logger.Named("poller"))
	}

	a.server = api.NewServer(
		a.jobs,
		a.results,
		a.scrapeQueue,
		a.registry,
		ids,
		clk,
		api.Config{
			APIToken:       apiToken(cfg),
			RequestTimeout: cfg.ServerTimeout(),
			AdmissionDelay: time.Duration(cfg.Admission.DelaySeconds) * time.Second,
			MaxAttempts:    cfg.Queue.DefaultMaxAttempts,
			BackoffBase:    time.Duration(cfg.Queue.DefaultBackoffBaseSec) * time.Second,
		},
		logger.Named("api"),
	)

	logger.Info("application services initialized",
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("db_backend", cfg.DB.Backend),
		zap.Strings("jurisdictions", a.registry.Supported()))
	return a, nil
}

func apiToken(cfg config.Config) string {
	if !cfg.Auth.Enabled {
		return ""
	}
	return cfg.Auth.APIToken
}

func (a *App) initStores(ctx context.Context) error {
	switch a.cfg.DB.Backend {
	case "postgres":
		a.logger.Info("connecting to postgres")
		pgCfg := postgres.Config{
			DSN:      a.cfg.DB.DSN,
			MaxConns: a.cfg.DB.MaxConns,
			MinConns: a.cfg.DB.MinConns,
		}
		jobs, err := postgres.NewJobStore(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("init job store: %w", err)
		}
		results, err := postgres.NewResultStore(ctx, pgCfg)
		if err != nil {
			jobs.Close()
			return fmt.Errorf("init result store: %w", err)
		}
		a.pgJobs = jobs
		a.pgResults = results
		a.jobs = jobs
		a.results = results
	case "memory":
		a.logger.Info("using in-memory stores, data will not survive restarts")
		a.jobs = storagememory.NewJobStore()
		a.results = storagememory.NewResultStore()
	default:
		return fmt.Errorf("unknown db backend: %s", a.cfg.DB.Backend)
	}
	return nil
}

func (a *App) initQueues() error {
	scrapeOpts := queue.Options{
		Name:               a.cfg.Queue.Name,
		LockDuration:       time.Duration(a.cfg.Queue.LockDurationSeconds) * time.Second,
		StalledInterval:    time.Duration(a.cfg.Queue.StalledIntervalSec) * time.Second,
		MaxStalledCount:    a.cfg.Queue.MaxStalledCount,
		DefaultMaxAttempts: a.cfg.Queue.DefaultMaxAttempts,
		DefaultBackoffBase: time.Duration(a.cfg.Queue.DefaultBackoffBaseSec) * time.Second,
	}
	escalationOpts := scrapeOpts
	escalationOpts.Name = a.cfg.Escalation.QueueName

	switch a.cfg.Queue.Backend {
	case "redis":
		a.redisClient = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.scrapeQueue = queue.NewRedis(a.redisClient, scrapeOpts, a.logger.Named("queue"))
		a.escalationQueue = queue.NewRedis(a.redisClient, escalationOpts, a.logger.Named("queue"))
	case "memory":
		a.logger.Info("using in-memory queues, messages will not survive restarts")
		a.scrapeQueue = queuememory.New(scrapeOpts)
		a.escalationQueue = queuememory.New(escalationOpts)
	default:
		return fmt.Errorf("unknown queue backend: %s", a.cfg.Queue.Backend)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) (nfce.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		return nil, nil
	}
	a.logger.Info("connecting to pub/sub",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName))
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	a.pubsubClient = client
	a.pubsubTopic = client.Topic(a.cfg.PubSub.TopicName)
	return pubsubpublisher.New(a.pubsubTopic), nil
}

func (a *App) initArtifacts(ctx context.Context) (nfce.ArtifactStore, error) {
	switch a.cfg.Snapshots.Backend {
	case "gcs":
		a.logger.Info("using GCS snapshot store",
			zap.String("bucket", a.cfg.Snapshots.GCSBucket))
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		return artifact.NewGCS(client, artifact.GCSConfig{Bucket: a.cfg.Snapshots.GCSBucket})
	case "local":
		a.logger.Info("using local snapshot store",
			zap.String("dir", a.cfg.Snapshots.LocalDir))
		return artifact.NewLocal(artifact.LocalConfig{BaseDir: a.cfg.Snapshots.LocalDir})
	case "none":
		a.logger.Info("snapshot store disabled, failure pages will be discarded")
		return artifact.NewNoop(), nil
	default:
		return nil, fmt.Errorf("unknown snapshots backend: %s", a.cfg.Snapshots.Backend)
	}
}

// Run starts the HTTP server, the queue consumers and the optional
// polling fallback, then blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("worker pool started",
			zap.Int("concurrency", a.cfg.Worker.Concurrency))
		if err := a.worker.Run(ctx, a.scrapeQueue, a.cfg.Worker.Concurrency); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("worker pool stopped", zap.Error(err))
		}
	}()
	go func() {
		a.logger.Info("escalation consumer started",
			zap.String("queue", a.cfg.Escalation.QueueName))
		if err := a.escalate.Run(ctx, a.escalationQueue, a.cfg.Escalation.Concurrency); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("escalation consumer stopped", zap.Error(err))
		}
	}()
	if a.poller != nil {
		go func() {
			a.logger.Info("polling fallback started")
			if err := a.poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("polling fallback stopped", zap.Error(err))
			}
		}()
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown", zap.Error(err))
	}
	return nil
}

// Close tears down external connections. Safe to call once after Run
// returns.
func (a *App) Close(ctx context.Context) {
	if a.pool != nil {
		if err := a.pool.Close(ctx); err != nil {
			a.logger.Warn("closing browser pool", zap.Error(err))
		}
	}
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("closing pubsub client", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("closing gcs client", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("closing redis client", zap.Error(err))
		}
	}
	if a.pgJobs != nil {
		a.pgJobs.Close()
	}
	if a.pgResults != nil {
		a.pgResults.Close()
	}
	a.logger.Info("shutdown complete")
}
