package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/launchdesk/gatekeeper/pkg/audit"
	"github.com/launchdesk/gatekeeper/pkg/authz"
	"github.com/launchdesk/gatekeeper/pkg/config"
	"github.com/launchdesk/gatekeeper/pkg/middleware"
	"github.com/launchdesk/gatekeeper/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gatekeeper: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", observability.Version).Info("starting gatekeeper")

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Redis is optional: without it the cache epoch is process-local and
	// rate limiting is skipped.
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, continuing without shared cache epoch")
		}
		defer redisClient.Close()
	}

	// Metrics
	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Audit trail
	recorder, err := audit.NewDBRecorder(db)
	if err != nil {
		return fmt.Errorf("failed to create audit recorder: %w", err)
	}
	auditQuery := audit.NewQueryService(db)

	// Permission engine
	authzConfig := authz.Config{
		CacheSize:        cfg.Authz.CacheSize,
		CacheTTL:         cfg.Authz.CacheTTL,
		SeedBuiltInRoles: cfg.Authz.SeedBuiltInRoles,
		AuditRetry: authz.RetryConfig{
			Attempts: cfg.Authz.AuditAttempts,
			Backoff:  cfg.Authz.AuditBackoff,
		},
	}
	manager := authz.NewManager(db, recorder, redisClient, logger, metrics, authzConfig)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize permission engine: %w", err)
	}
	logger.Info("permission engine initialized")

	// API router
	router := mux.NewRouter()
	identity := middleware.NewIdentityMiddleware(false)
	router.Use(middleware.RequestIDMiddleware)
	router.Use(identity.Handler)
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	if cfg.Server.RateLimitEnabled && redisClient != nil {
		limiter := middleware.NewRateLimitMiddleware(redisClient)
		router.Use(limiter.Handler)
	}

	manager.RegisterRoutes(router)
	audit.NewHandlers(auditQuery).RegisterRoutes(router)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for k8s probes
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	// Background jobs
	scheduler := cron.New()
	if cfg.Audit.SnapshotEnabled {
		if _, err := scheduler.AddFunc(cfg.Audit.SnapshotSchedule, func() {
			defer observability.RecoverPanic(logger, "audit snapshot job")
			if err := writeAuditSnapshot(context.Background(), auditQuery, cfg.Audit.SnapshotDir); err != nil {
				logger.WithError(err).Error("audit snapshot failed")
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule audit snapshot: %w", err)
		}
		logger.WithField("schedule", cfg.Audit.SnapshotSchedule).Info("audit snapshot job scheduled")
	}
	if metrics != nil {
		if _, err := scheduler.AddFunc("@every 5m", func() {
			defer observability.RecoverPanic(logger, "business metrics job")
			if err := manager.UpdateBusinessMetrics(context.Background(), metrics); err != nil {
				logger.WithError(err).Warn("business metrics update failed")
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule metrics update: %w", err)
		}
	}
	scheduler.Start()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		<-scheduler.Stop().Done()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown: %w", err)
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("health server shutdown: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info("gatekeeper stopped")
	return nil
}

// writeAuditSnapshot exports the previous day's audit records as NDJSON into
// a date-stamped file for offline retention.
func writeAuditSnapshot(ctx context.Context, query *audit.QueryService, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -1)

	data, err := query.Export(ctx, audit.QueryFilter{
		StartTime: &start,
		EndTime:   &end,
	}, audit.ExportFormatNDJSON)
	if err != nil {
		return fmt.Errorf("failed to export audit records: %w", err)
	}

	path := filepath.Join(dir, "audit-"+start.Format("2006-01-02")+".ndjson")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}

	return nil
}
