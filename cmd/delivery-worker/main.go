package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/wolfman30/patient-comms-platform/cmd/mainconfig"
	"github.com/wolfman30/patient-comms-platform/internal/app/bootstrap"
	"github.com/wolfman30/patient-comms-platform/internal/cleanup"
	"github.com/wolfman30/patient-comms-platform/internal/compliance"
	appconfig "github.com/wolfman30/patient-comms-platform/internal/config"
	"github.com/wolfman30/patient-comms-platform/internal/delivery"
	"github.com/wolfman30/patient-comms-platform/internal/events"
	"github.com/wolfman30/patient-comms-platform/internal/export"
	"github.com/wolfman30/patient-comms-platform/internal/locks"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
	"github.com/wolfman30/patient-comms-platform/internal/worker"
	"github.com/wolfman30/patient-comms-platform/internal/workflow"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting delivery worker",
		"env", cfg.Env,
		"workers", cfg.WorkerCount,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	emailProvider := bootstrap.BuildEmailProvider(cfg, awsCfg, logger)
	smsProvider, err := bootstrap.BuildSMSProvider(cfg, logger)
	if err != nil {
		logger.Error("failed to build SMS provider", "error", err)
		os.Exit(1)
	}

	auditStore := compliance.NewStore(pool)
	entryStore := queue.NewEntryStore(pool)
	producer := queue.NewProducer(queueClient, redisClient, logger)
	engine := workflow.NewEngine(auditStore, entryStore, producer, logger).
		WithMaxDeliveryAttempts(cfg.MaxDeliveryAttempts)
	notifier := bootstrap.BuildNotifyService(cfg, emailProvider, logger)

	deliveryProcessor := delivery.NewProcessor(
		emailProvider, smsProvider, entryStore, engine, producer, logger,
	).WithAlerter(notifier)
	exportProcessor := export.NewProcessor(
		auditStore, bootstrap.BuildExportArtifacts(cfg, awsCfg, logger), logger,
	)
	cleanupProcessor := cleanup.NewProcessor(
		auditStore, entryStore, bootstrap.BuildArchiveStore(cfg, awsCfg, logger),
		cfg.TempFilesDir, logger,
	).WithProcessedEvents(events.NewProcessedStore(pool))

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "delivery-worker"
	}

	opts := []worker.ConsumerOption{
		worker.WithWorkerCount(cfg.WorkerCount),
		worker.WithHostname(hostname),
	}
	if redisClient != nil {
		opts = append(opts, worker.WithLockManager(
			locks.NewManager(redisClient, logger).WithTTL(cfg.LockTTL),
		))
	} else {
		logger.Warn("advisory locks disabled: no redis; concurrent cleanup sweeps are possible")
	}

	consumer := worker.NewConsumer(
		queueClient, deliveryProcessor, exportProcessor, cleanupProcessor, logger, opts...,
	)

	go workflow.NewReconciler(engine, auditStore, logger).Run(ctx)
	go worker.NewIntegritySweeper(auditStore, notifier, logger).Run(ctx)
	go worker.NewRetentionScheduler(producer, logger).Run(ctx)

	consumer.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down delivery worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		consumer.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("delivery worker stopped")
	case <-doneCtx.Done():
		logger.Error("delivery worker shutdown timed out", "error", doneCtx.Err())
	}
}
