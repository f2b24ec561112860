package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dthorne/ratchet/internal/api"
	"github.com/dthorne/ratchet/internal/cache"
	"github.com/dthorne/ratchet/internal/config"
	"github.com/dthorne/ratchet/internal/executor"
	"github.com/dthorne/ratchet/internal/metrics"
	"github.com/dthorne/ratchet/internal/platform/logger"
	"github.com/dthorne/ratchet/internal/platform/postgres"
	"github.com/dthorne/ratchet/internal/redact"
	"github.com/dthorne/ratchet/internal/storage"
	"github.com/dthorne/ratchet/internal/taskqueue"
)

// application bundles the long-lived components. Dependencies are
// constructed once here and injected explicitly.
type application struct {
	config    *config.Config
	logger    *slog.Logger
	collector *metrics.Collector

	executor *executor.Executor
	queue    *taskqueue.Queue
	cache    *cache.Hierarchy
	selector *storage.Selector
	origin   *postgres.OriginStore

	router http.Handler

	redis *cache.RedisCache
	db    *sql.DB
}

// newApplication loads configuration and wires every component together.
func newApplication() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"executor_workers", cfg.Executor.Workers,
		"queue_workers", cfg.Queue.Workers,
		"redis_url", redact.URL(cfg.Cache.RedisURL),
		"database_url", redact.URL(cfg.Database.URL))

	registry := prometheus.NewRegistry()
	collector := metrics.New(registry)

	app := &application{
		config:    cfg,
		logger:    log,
		collector: collector,
	}

	app.executor = executor.New(executor.Config{
		Workers:   cfg.Executor.Workers,
		QueueSize: cfg.Executor.QueueSize,
	}, log, collector)

	app.queue = taskqueue.New(taskqueue.Config{
		Workers:   cfg.Queue.Workers,
		QueueSize: cfg.Queue.QueueSize,
		ResultTTL: cfg.Queue.ResultTTL,
	}, log, collector)
	app.queue.Start()

	if err := app.setupCache(); err != nil {
		return nil, err
	}
	if err := app.setupStorage(); err != nil {
		return nil, err
	}
	if err := app.setupDatabase(); err != nil {
		return nil, err
	}

	handler := api.NewOpsHandler(app.executor, app.queue, collector)
	app.router = api.NewRouter(handler, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return app, nil
}

// setupCache wires the tiered cache. Without a Redis URL the hierarchy
// runs local-only.
func (app *application) setupCache() error {
	var remote cache.Remote
	if url := app.config.Cache.RedisURL; url != "" {
		redisCache, err := cache.NewRedisCacheFromURL(url)
		if err != nil {
			return fmt.Errorf("failed to set up redis cache: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisCache.Ping(ctx); err != nil {
			// The hierarchy degrades to local-only on tier failures, so a
			// Redis that is down at boot is a warning, not a fatal error.
			app.logger.Warn("redis unreachable at startup, cache degrades to local-only",
				"error", err)
		}

		app.redis = redisCache
		remote = redisCache
	}

	app.cache = cache.NewHierarchy(remote, app.config.Cache.LocalTTL, app.logger, app.collector)
	return nil
}

// setupStorage assembles the backend preference order: S3 when configured,
// the local filesystem always last. No backend passing its probe is a
// fatal configuration error, unlike the runtime failovers the selector
// recovers from on its own.
func (app *application) setupStorage() error {
	var backends []storage.Backend

	if bucket := app.config.Storage.S3Bucket; bucket != "" {
		s3Backend, err := storage.NewS3Backend(storage.S3Config{
			Bucket:   bucket,
			Region:   app.config.Storage.S3Region,
			Endpoint: app.config.Storage.S3Endpoint,
		})
		if err != nil {
			app.logger.Warn("failed to set up s3 backend, continuing without it",
				"bucket", bucket,
				"error", err)
		} else {
			backends = append(backends, s3Backend)
		}
	}

	backends = append(backends, storage.NewFilesystemBackend(app.config.Storage.LocalDir))

	app.selector = storage.NewSelector(backends, app.config.Storage.ProbeTimeout, app.logger, app.collector)

	if err := app.selector.Probe(context.Background()); err != nil {
		return fmt.Errorf("no storage backend available at startup: %w", err)
	}

	app.logger.Info("storage backend selected",
		"backend", app.selector.ActiveName(context.Background()))
	return nil
}

// setupDatabase connects the optional persistent origin store.
func (app *application) setupDatabase() error {
	url := app.config.Database.URL
	if url == "" {
		app.logger.Info("no database configured, origin store disabled")
		return nil
	}

	db, err := sql.Open("pgx", url)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	app.db = db
	app.origin = postgres.NewOriginStore(db)
	app.logger.Info("database connection established")
	return nil
}

// cleanup stops the work-owning components in dependency order: intake
// surfaces first, then the pools, then the connections under them.
func (app *application) cleanup() {
	app.queue.Stop()
	app.executor.Shutdown(true)

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warn("failed to close redis client", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Warn("failed to close database connection", "error", err)
		}
	}
}
