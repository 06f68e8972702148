// Package server builds the sentinel's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-sentinel/internal/api"
	"github.com/JakeFAU/crawler-sentinel/internal/classifier"
	"github.com/JakeFAU/crawler-sentinel/internal/clock/system"
	"github.com/JakeFAU/crawler-sentinel/internal/config"
	"github.com/JakeFAU/crawler-sentinel/internal/deferred"
	"github.com/JakeFAU/crawler-sentinel/internal/delivery"
	"github.com/JakeFAU/crawler-sentinel/internal/dispatch"
	"github.com/JakeFAU/crawler-sentinel/internal/id/uuid"
	"github.com/JakeFAU/crawler-sentinel/internal/jobs"
	memoryjobs "github.com/JakeFAU/crawler-sentinel/internal/jobs/memory"
	"github.com/JakeFAU/crawler-sentinel/internal/kv"
	memorykv "github.com/JakeFAU/crawler-sentinel/internal/kv/memory"
	pgkv "github.com/JakeFAU/crawler-sentinel/internal/kv/postgres"
	gcppublisher "github.com/JakeFAU/crawler-sentinel/internal/publisher/pubsub"
	"github.com/JakeFAU/crawler-sentinel/internal/ratelimit"
	"github.com/JakeFAU/crawler-sentinel/internal/redis"
	"github.com/JakeFAU/crawler-sentinel/internal/retry"
	"github.com/JakeFAU/crawler-sentinel/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	apiServer  *api.Server
	executor   *deferred.Executor
	runner     *jobs.Runner
	dispatcher *dispatch.Dispatcher
	ready      map[string]api.ReadinessCheck

	// closers run in reverse registration order on Close.
	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

func (a *App) onClose(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Build creates the application's dependencies. On error everything built so far is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		ready:  map[string]api.ReadinessCheck{},
	}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("scheduler_backend", cfg.Scheduler.Backend),
		zap.Bool("detection_enabled", cfg.Detection.Enabled),
	)

	tp, err := telemetry.InitTracing(ctx, cfg.Telemetry.ServiceName, cfg.Detection.Version)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.onClose("tracer", tp.Shutdown)

	clock := system.New()

	redisClient, err := setupRedis(ctx, app)
	if err != nil {
		return nil, err
	}
	store, err := setupStore(ctx, app, redisClient, clock)
	if err != nil {
		return nil, err
	}
	sched := setupScheduler(app, redisClient)

	recorder := telemetry.NewRecorder(store, clock, telemetry.Config{
		ErrorLogSize: cfg.Telemetry.ErrorLogSize,
		StatsTTL:     cfg.Telemetry.StatsTTL,
	}, logger.Named("telemetry"))

	retries := retry.New(store, sched, recorder, clock, retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		RecordTTL:   cfg.Retry.RecordTTL,
	}, logger.Named("retry"))

	engine := delivery.NewEngine(
		delivery.Config{
			BackendURL:          cfg.Detection.BackendURL,
			UserAgent:           cfg.ProductUserAgent(),
			FirstAttemptTimeout: cfg.Delivery.FirstAttemptTimeout,
			RetryTimeout:        cfg.Delivery.RetryTimeout,
		},
		recorder,
		retries,
		ratelimit.New(ratelimit.Config{RPS: cfg.Delivery.MaxRPS, Burst: cfg.Delivery.Burst}),
		uuid.New(),
		clock,
		logger,
	)

	var purger jobs.Purger
	if p, ok := store.(jobs.Purger); ok {
		purger = p
	}
	app.runner = jobs.NewRunner(sched, clock, purger, jobs.RunnerConfig{
		PollInterval: cfg.Scheduler.PollInterval,
		BatchSize:    cfg.Scheduler.BatchSize,
	}, logger)
	app.runner.Handle(retry.JobName, retries.Handler(engine))

	mirror, err := setupMirror(ctx, app)
	if err != nil {
		return nil, err
	}

	cls := classifier.New(cfg.Detection.ExtraWhitelist, cfg.Detection.ExtraPatterns)
	app.executor = deferred.NewExecutor(deferred.Config{
		Workers:    cfg.Delivery.Workers,
		QueueDepth: cfg.Delivery.QueueDepth,
	}, logger, deferred.WithRecorder(recorder))
	app.dispatcher = dispatch.New(
		dispatch.Config{Enabled: cfg.Detection.Enabled, SiteID: cfg.Detection.SiteID},
		cls,
		engine,
		mirror,
		recorder,
		clock,
		logger,
	)
	if cfg.Detection.Enabled && cfg.Detection.SiteID == "" {
		logger.Warn("detection.site_id is empty, detections will be discarded")
	}

	app.apiServer, err = api.NewServer(api.Deps{
		Config:     cfg,
		Classifier: cls,
		Executor:   app.executor,
		Detector:   app.dispatcher,
		Stats:      recorder,
		IDs:        uuid.New(),
		Ready:      app.ready,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("api init failed: %w", err)
	}

	return app, nil
}

func setupRedis(ctx context.Context, app *App) (*redis.Client, error) {
	if app.cfg.Store.Backend != "redis" && app.cfg.Scheduler.Backend != "redis" {
		return nil, nil
	}
	client, err := redis.NewClient(ctx, redis.Config{
		URL:       app.cfg.Store.RedisURL,
		Password:  app.cfg.Store.RedisPassword,
		KeyPrefix: app.cfg.Store.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("redis init failed: %w", err)
	}
	app.onClose("redis", func(context.Context) error { return client.Close() })
	app.ready["redis"] = client.Ping
	app.logger.Info("redis connected")
	return client, nil
}

func setupStore(ctx context.Context, app *App, redisClient *redis.Client, clock kv.Clock) (kv.Store, error) {
	switch app.cfg.Store.Backend {
	case "redis":
		app.logger.Info("using redis key/value store")
		return redis.NewStore(redisClient), nil
	case "postgres":
		store, err := pgkv.NewStore(ctx, pgkv.Config{
			DSN:      app.cfg.Store.DSN,
			Table:    app.cfg.Store.Table,
			MaxConns: app.cfg.Store.MaxConns,
		}, clock)
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		app.onClose("postgres", func(context.Context) error {
			store.Close()
			return nil
		})
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
		app.ready["postgres"] = store.Ping
		app.logger.Info("using postgres key/value store", zap.String("table", app.cfg.Store.Table))
		return store, nil
	default:
		app.logger.Warn("using in-memory key/value store, retries and statistics are lost on restart")
		return memorykv.NewStore(clock), nil
	}
}

func setupScheduler(app *App, redisClient *redis.Client) jobs.Scheduler {
	if app.cfg.Scheduler.Backend == "redis" {
		app.logger.Info("using redis job scheduler")
		return redis.NewScheduler(redisClient)
	}
	app.logger.Info("using in-memory job scheduler")
	return memoryjobs.NewScheduler()
}

func setupMirror(ctx context.Context, app *App) (dispatch.Publisher, error) {
	if app.cfg.PubSub.ProjectID == "" || app.cfg.PubSub.TopicName == "" {
		app.logger.Debug("no Pub/Sub topic configured, detection mirror disabled")
		return nil, nil
	}
	pub, err := gcppublisher.New(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.onClose("pubsub", func(context.Context) error { return pub.Close() })
	app.logger.Info("Pub/Sub detection mirror initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return pub, nil
}

// Handler returns the HTTP handler serving the detection chain.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the background workers and the HTTP server and blocks until ctx is canceled or
// a termination signal arrives. Deferred deliveries accepted before shutdown are drained.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.executor.Run(workerCtx)
	}()
	go func() {
		defer wg.Done()
		a.runner.Run(workerCtx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	cancelWorkers()
	wg.Wait()

	return a.Close(shutdownCtx)
}

// Close releases infrastructure in reverse construction order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
