package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wardenhq/warden/pkg/api"
	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/items"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/retention"
	"github.com/wardenhq/warden/pkg/storage/postgres"
	"github.com/wardenhq/warden/pkg/tenants"
	"github.com/wardenhq/warden/pkg/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, postgres.Config{
		URL:              cfg.Postgres.URL,
		MaxConns:         cfg.Postgres.MaxConns,
		MinConns:         cfg.Postgres.MinConns,
		ConnectTimeout:   cfg.Postgres.ConnectTimeout,
		StatementTimeout: cfg.Postgres.StatementTimeout,
		MaxLifetime:      cfg.Postgres.MaxLifetime,
		MaxIdleTime:      cfg.Postgres.MaxIdleTime,
	})
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid Redis URL: %v", err)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		if cfg.Redis.DB != 0 {
			opts.DB = cfg.Redis.DB
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	feed := audit.NewFeed(redisClient, logger, metrics)
	if redisClient != nil {
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("audit feed consumer stopped")
			}
		}()
	}

	recorder := audit.NewRecorder(db, logger, metrics, feed)
	store := audit.NewStore(db)
	exporter := audit.NewExporter(store, recorder, cfg.Audit.ExportBatchSize, cfg.Audit.MaxExportRecords)

	manager := retention.NewManager(db, cfg.Retention, cfg.Audit.ArchiveDir, cfg.Audit.BackupDir, logger, metrics)
	runner := retention.NewRunner(manager, retention.DefaultSchedules(), logger, metrics)
	if err := runner.Start(); err != nil {
		log.Fatalf("Failed to start maintenance scheduler: %v", err)
	}

	server := api.NewServer(api.Deps{
		Tenants: tenants.NewHandler(tenants.NewService(db, logger, recorder), logger),
		Users:   users.NewHandler(users.NewService(db, logger, recorder), logger),
		Items:   items.NewHandler(items.NewService(db, logger, recorder), logger),
		Audit:   audit.NewHandler(store, recorder, exporter, feed, logger, cfg.Audit.DefaultPageLimit, cfg.Audit.MaxPageLimit),
		Runner:  runner,
		Manager: manager,
		Logger:  logger,
		Metrics: metrics,
	})

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	healthMux.Handle("/metrics", observability.Handler(registry))
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.WithField("addr", apiServer.Addr).Info("admin API listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		logger.WithError(err).Error("server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("API server shutdown failed")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("health server shutdown failed")
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("maintenance scheduler shutdown failed")
	}
	cancel()
	logger.Info("shutdown complete")
}
