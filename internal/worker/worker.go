// Package worker runs the queue consumers that drain delivery, export and
// cleanup jobs. The queue transport is at-least-once: handlers are expected
// to be idempotent, and a message is only deleted once its handler settles.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/patient-comms-platform/internal/cleanup"
	"github.com/wolfman30/patient-comms-platform/internal/export"
	"github.com/wolfman30/patient-comms-platform/internal/locks"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// DeliveryHandler processes email and SMS jobs.
type DeliveryHandler interface {
	Process(ctx context.Context, job queue.Job) error
}

// ExportHandler produces compliance export artifacts.
type ExportHandler interface {
	Process(ctx context.Context, job queue.ExportJob) (*export.Result, error)
}

// CleanupHandler ages out one retention target.
type CleanupHandler interface {
	Process(ctx context.Context, job queue.CleanupJob) (*cleanup.Result, error)
}

// LockManager guards singleton jobs across worker processes.
type LockManager interface {
	Acquire(ctx context.Context, resource, holder string) (*locks.Lock, error)
	Release(ctx context.Context, resource, holder string) error
}

// Consumer long-polls the queue and dispatches jobs by kind.
type Consumer struct {
	queue    queue.Client
	delivery DeliveryHandler
	exports  ExportHandler
	cleanup  CleanupHandler
	locker   LockManager
	logger   *logging.Logger
	hostname string

	cfg consumerConfig
	wg  sync.WaitGroup
}

type consumerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	locker           LockManager
	hostname         string
}

// ConsumerOption customizes consumer behavior.
type ConsumerOption func(*consumerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) ConsumerOption {
	return func(cfg *consumerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) ConsumerOption {
	return func(cfg *consumerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) ConsumerOption {
	return func(cfg *consumerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithLockManager enables distributed locking so cleanup sweeps run on at
// most one worker at a time.
func WithLockManager(locker LockManager) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.locker = locker
	}
}

// WithHostname names this process as the lock holder.
func WithHostname(name string) ConsumerOption {
	return func(cfg *consumerConfig) {
		if name != "" {
			cfg.hostname = name
		}
	}
}

// NewConsumer constructs a queue consumer around the provided handlers.
func NewConsumer(client queue.Client, delivery DeliveryHandler, exports ExportHandler, cleaner CleanupHandler, logger *logging.Logger, opts ...ConsumerOption) *Consumer {
	if client == nil {
		panic("worker: queue client cannot be nil")
	}
	if delivery == nil {
		panic("worker: delivery handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := consumerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		hostname:         "delivery-worker",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Consumer{
		queue:    client,
		delivery: delivery,
		exports:  exports,
		cleanup:  cleaner,
		locker:   cfg.locker,
		logger:   logger,
		hostname: cfg.hostname,
		cfg:      cfg,
	}
}

// Start launches consumer goroutines until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.cfg.workers; i++ {
		c.wg.Add(1)
		go c.run(ctx, i+1)
	}
}

// Wait blocks until all consumer goroutines exit.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context, workerID int) {
	defer c.wg.Done()
	c.logger.Debug("delivery worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("delivery worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := c.queue.Receive(ctx, c.cfg.receiveBatchSize, c.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("failed to receive jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			c.handleMessage(ctx, msg)
		}
	}
}

// handleMessage settles one queue message. Decode failures are poison and
// deleted immediately; handler failures leave the message on the queue so
// the transport redelivers after the visibility timeout.
func (c *Consumer) handleMessage(ctx context.Context, msg queue.Message) {
	job, err := queue.DecodeJob(msg.Body)
	if err != nil {
		c.logger.Error("dropping undecodable job", "error", err, "msg_id", msg.ID)
		c.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	c.logger.Info("worker processing job", "kind", job.Kind, "msg_id", msg.ID)

	if err := c.dispatch(ctx, job); err != nil {
		c.logger.Error("job failed, leaving for redelivery", "error", err, "kind", job.Kind, "msg_id", msg.ID)
		return
	}

	c.logger.Debug("job processed", "kind", job.Kind, "msg_id", msg.ID)
	c.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (c *Consumer) dispatch(ctx context.Context, job queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: job panicked: %v", r)
		}
	}()

	switch job.Kind {
	case queue.KindEmail, queue.KindSMS:
		return c.delivery.Process(ctx, job)
	case queue.KindExport:
		if c.exports == nil {
			return fmt.Errorf("worker: no export handler configured")
		}
		result, err := c.exports.Process(ctx, *job.Export)
		if err != nil {
			return err
		}
		c.logger.Info("export completed",
			"export_id", result.ExportID,
			"format", result.Format,
			"records", result.RecordCount,
			"location", result.Location,
		)
		return nil
	case queue.KindCleanup:
		if c.cleanup == nil {
			return fmt.Errorf("worker: no cleanup handler configured")
		}
		return c.runCleanup(ctx, *job.Cleanup)
	default:
		return fmt.Errorf("worker: unknown job kind %q", job.Kind)
	}
}

// runCleanup takes a per-target advisory lock when a lock manager is wired,
// so overlapping sweeps from multiple workers do not double-archive.
func (c *Consumer) runCleanup(ctx context.Context, job queue.CleanupJob) error {
	if c.locker != nil {
		resource := "cleanup:" + job.Target
		if _, err := c.locker.Acquire(ctx, resource, c.hostname); err != nil {
			if errors.Is(err, locks.ErrLockHeld) {
				c.logger.Info("cleanup already running elsewhere, skipping", "target", job.Target)
				return nil
			}
			return fmt.Errorf("worker: acquire cleanup lock: %w", err)
		}
		defer func() {
			if err := c.locker.Release(context.Background(), resource, c.hostname); err != nil {
				c.logger.Warn("failed to release cleanup lock", "error", err, "target", job.Target)
			}
		}()
	}

	result, err := c.cleanup.Process(ctx, job)
	if err != nil {
		return err
	}
	c.logger.Info("cleanup completed",
		"target", result.Target,
		"archived", result.RecordsArchived,
		"deleted", result.RecordsDeleted,
	)
	return nil
}

func (c *Consumer) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := c.queue.Delete(deleteCtx, receiptHandle); err != nil {
		c.logger.Error("failed to delete settled job", "error", err)
	}
}
