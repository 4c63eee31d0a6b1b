package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/patient-comms-platform/cmd/mainconfig"
	"github.com/wolfman30/patient-comms-platform/internal/api/router"
	"github.com/wolfman30/patient-comms-platform/internal/app/bootstrap"
	"github.com/wolfman30/patient-comms-platform/internal/compliance"
	appconfig "github.com/wolfman30/patient-comms-platform/internal/config"
	"github.com/wolfman30/patient-comms-platform/internal/events"
	"github.com/wolfman30/patient-comms-platform/internal/http/handlers"
	"github.com/wolfman30/patient-comms-platform/internal/observability/metrics"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
	"github.com/wolfman30/patient-comms-platform/internal/ratelimit"
	"github.com/wolfman30/patient-comms-platform/internal/webhook"
	"github.com/wolfman30/patient-comms-platform/internal/workflow"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting patient-comms API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	queueClient, err := bootstrap.BuildQueueClient(cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build queue client", "error", err)
		os.Exit(1)
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)

	pipelineMetrics := metrics.NewPipelineMetrics(nil)

	auditStore := compliance.NewStore(pool)
	entryStore := queue.NewEntryStore(pool)
	producer := queue.NewProducer(queueClient, redisClient, logger)
	engine := workflow.NewEngine(auditStore, entryStore, producer, logger).
		WithObserver(pipelineMetrics).
		WithMaxDeliveryAttempts(cfg.MaxDeliveryAttempts)

	limiter := ratelimit.NewLimiter(redisClient, ratelimit.Config{
		RequestsPerMinute: cfg.WebhookRatePerMinute,
		RequestsPerHour:   cfg.WebhookRatePerHour,
	}, logger)
	if cfg.WebhookSecret == "" {
		logger.Warn("DELIVERY_WEBHOOK_SECRET is empty; all webhook callbacks will be rejected")
	}
	webhookHandler := webhook.NewHandler(cfg.WebhookSecret, engine, limiter, logger).
		WithTolerance(cfg.WebhookTimestampTolerance).
		WithRecorder(pipelineMetrics).
		WithDedupeStore(events.NewProcessedStore(pool))

	r := router.New(&router.Config{
		Logger:           logger,
		Messages:         handlers.NewMessagesHandler(engine, auditStore, logger),
		Exports:          handlers.NewExportsHandler(producer, logger),
		DeliveryWebhook:  webhookHandler.Handle,
		MetricsHandler:   promhttp.Handler(),
		APIRatePerSecond: 20,
		APIBurst:         40,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
