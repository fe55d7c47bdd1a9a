// Package app wires the audit delivery subsystem's infrastructure and
// starts the requested run mode (api or worker).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/auditdelivery/internal/auditlog"
	"github.com/wisbric/auditdelivery/internal/config"
	"github.com/wisbric/auditdelivery/internal/db"
	"github.com/wisbric/auditdelivery/internal/httpserver"
	"github.com/wisbric/auditdelivery/internal/platform"
	"github.com/wisbric/auditdelivery/internal/telemetry"
	"github.com/wisbric/auditdelivery/pkg/delivery"
	"github.com/wisbric/auditdelivery/pkg/download"
	"github.com/wisbric/auditdelivery/pkg/handler"
	downloadhandler "github.com/wisbric/auditdelivery/pkg/handler/download"
	"github.com/wisbric/auditdelivery/pkg/handler/email"
	"github.com/wisbric/auditdelivery/pkg/handler/sftp"
	"github.com/wisbric/auditdelivery/pkg/handler/storage"
	"github.com/wisbric/auditdelivery/pkg/handler/webhook"
	"github.com/wisbric/auditdelivery/pkg/health"
	"github.com/wisbric/auditdelivery/pkg/queue"
	"github.com/wisbric/auditdelivery/pkg/retry"
	"github.com/wisbric/auditdelivery/pkg/secret"
	"github.com/wisbric/auditdelivery/pkg/slack"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the requested mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting auditdelivery", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg, metrics := telemetry.NewMetricsRegistry()

	svc, logWriter := buildService(pool, cfg, logger, metrics)
	logWriter.Start(ctx)
	defer logWriter.Close()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, pool, rdb, metricsReg, metrics, svc)
	case "worker":
		return runWorker(ctx, logger, svc)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// buildService wires the persistence gateway, secret manager, retry
// manager, health monitor, handler registry, download manager, and queue
// processor into a single delivery.Service, shared by both run modes. The
// returned auditlog.Writer must be started and, on shutdown, closed by the
// caller so buffered delivery log entries are flushed before exit.
func buildService(pool *pgxpool.Pool, cfg *config.Config, logger *slog.Logger, metrics *telemetry.Metrics) (*delivery.Service, *auditlog.Writer) {
	destinations := db.NewDestinationStore(pool)
	queueStore := db.NewQueueStore(pool)
	logStore := db.NewDeliveryLogStore(pool)
	logWriter := auditlog.NewWriter(logStore, logger)
	healthStore := db.NewHealthStore(pool)
	secretStore := db.NewSecretStore(pool)
	downloadStore := db.NewDownloadLinkStore(pool)

	secretMgr, err := secret.NewManager(secretStore, cfg.SecretEncryptionKey)
	if err != nil {
		logger.Warn("secret manager disabled: SECRET_ENCRYPTION_KEY not configured; webhook signing will be unsigned", "error", err)
	}

	// secretMgr may be a nil *secret.Manager; pass it to webhook.New only
	// through a nil interface value, never a typed-nil one, so the
	// handler's own `h.secrets == nil` check works.
	var webhookSecrets webhook.SecretSource
	if secretMgr != nil {
		webhookSecrets = secretMgr
	}

	retryMgr := retry.NewManager(queueStore, retry.Config{
		BaseDelay:        cfg.RetryBaseDelay,
		Multiplier:       2,
		MaxDelay:         cfg.RetryMaxDelay,
		MaxRetries:       cfg.RetryMaxAttempts,
		JitterEnabled:    true,
		JitterMaxPercent: cfg.RetryJitterFraction * 100,
	})

	notifier := slack.NewNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
	monitor := health.NewMonitor(healthStore, health.Config{
		FailureThreshold: cfg.CircuitFailureThreshold,
		RecoveryTimeout:  cfg.CircuitOpenDuration,
		SuccessThreshold: cfg.CircuitSuccessThreshold,
	}, notifier)

	downloadMgr := download.New(downloadStore)

	registry := handler.NewRegistry()
	registry.Register(db.DestinationWebhook, webhook.New(webhookSecrets))
	registry.Register(db.DestinationEmail, email.New())
	registry.Register(db.DestinationSFTP, sftp.New())
	registry.Register(db.DestinationStorage, storage.New())
	registry.Register(db.DestinationDownload, downloadhandler.New(downloadStore))

	processorMetrics := &queue.Metrics{
		AttemptsTotal:  metrics.DeliveryAttemptsTotal,
		LatencySeconds: metrics.DeliveryLatency,
		QueueDepth:     metrics.QueueDepth,
	}
	processor := queue.New(queueStore, destinations, logWriter, registry, retryMgr, monitor, processorMetrics, logger, queue.Config{
		Workers:              cfg.DeliveryWorkers,
		BatchSize:            cfg.DeliveryBatchSize,
		PollInterval:         cfg.DeliveryPollInterval,
		DrainTimeout:         cfg.DeliveryDrainTimeout,
		VisibilityTimeout:    cfg.DeliveryVisibilityTimeout,
		SuppressedRetryDelay: 30 * time.Second,
	})

	svc := delivery.New(destinations, queueStore, logStore, registry, secretMgr, retryMgr, monitor, downloadMgr, processor, delivery.Config{
		DefaultMaxRetries:       cfg.RetryMaxAttempts,
		SecretCleanupInterval:   6 * time.Hour,
		DownloadCleanupInterval: cfg.DownloadLinkDefaultTTL / 10,
	}, logger)
	return svc, logWriter
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, metrics *telemetry.Metrics, svc *delivery.Service) error {
	apiKeys := db.NewAPIKeyStore(pool)

	srv := httpserver.NewServer(cfg, logger, pool, rdb, metricsReg, metrics, apiKeys)

	deliveryHandler := delivery.NewHandler(svc, logger)
	srv.APIRouter.Mount("/", deliveryHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runWorker drives the delivery pipeline: the queue processor's poll loop
// plus the secret/download-link cleanup sweeps, via Service.Start.
func runWorker(ctx context.Context, logger *slog.Logger, svc *delivery.Service) error {
	logger.Info("worker started")
	return svc.Start(ctx)
}
