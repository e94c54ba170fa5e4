/**
 * @description
 * This is the main entry point for the renewal service.
 * It runs the daily renewal, reminder and cancellation follow-up jobs on a cron
 * schedule and exposes an HTTP API for manual triggers, cancellation tracking
 * and renewal previews.
 */
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/subsnooze/renewal-service/internal/api"
	"github.com/subsnooze/renewal-service/internal/app"
	"github.com/subsnooze/renewal-service/internal/config"
	"github.com/subsnooze/renewal-service/internal/store"
	"github.com/subsnooze/renewal-service/pkg/rabbitmq"
	"github.com/subsnooze/renewal-service/pkg/ratelimit"
)

func main() {
	// Load .env file for local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx := context.Background()

	if cfg.RunMigrations {
		if err := store.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	// Establish database connection with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(max(cfg.BatchConcurrency*2, 4))
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to stay compatible with transaction poolers
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	redisClient := connectRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var locker app.JobLocker = app.NewLocalJobLocker()
	var limiter ratelimit.Limiter = ratelimit.NewLocalLimiter(cfg.TriggerRateLimitPerMinute)
	if redisClient != nil {
		locker = app.NewRedisJobLocker(redisClient, cfg.RedisKeyPrefix, cfg.JobLockTTL())
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RedisKeyPrefix, cfg.TriggerRateLimitPerMinute, time.Minute)
	}

	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		logger.Warn("RABBITMQ_URL not set; push and email delivery disabled")
	} else if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger); err != nil {
		logger.Warn("failed to connect to RabbitMQ; push and email delivery disabled", "error", err)
	} else {
		publisher = producer
		logger.Info("RabbitMQ producer connected")
	}
	defer publisher.Close()

	var metrics *app.Metrics
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = app.NewMetrics(registry)
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	// Initialize dependencies
	repository := store.NewRepository(dbpool)
	jobs := app.NewJobs(repository, publisher, locker, metrics, logger, *cfg)
	cancellations := app.NewCancellations(repository, metrics, logger)
	scheduler := app.NewScheduler(jobs, logger, *cfg)

	handler := api.NewHandler(jobs, cancellations, cfg.Location(), logger)
	router := api.NewRouter(handler, api.RouterConfig{
		CronSecret:     cfg.CronSecret,
		TriggerLimiter: limiter,
		Metrics:        metricsHandler,
		Logger:         logger,
	})
	if cfg.CronSecret == "" {
		logger.Warn("CRON_SECRET not set; internal endpoints will reject every request")
	}

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("could not start server", "error", err)
			os.Exit(1)
		}
	}()

	scheduled := scheduler.Start()
	logger.Info("scheduler started", "jobs", scheduled, "timezone", cfg.Location().String())

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	// Wait for in-flight job runs to finish
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("scheduler stopped gracefully")
}

func connectRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		logger.Warn("redis url missing; using in-process job locks and rate limits", "env", "REDIS_URL")
		return nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; using in-process job locks and rate limits", "error", err)
		return nil
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; using in-process job locks and rate limits", "error", err)
		client.Close()
		return nil
	}

	logger.Info("redis connected")
	return client
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}
