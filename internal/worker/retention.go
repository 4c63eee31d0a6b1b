package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/patient-comms-platform/internal/cleanup"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

type jobProducer interface {
	Enqueue(ctx context.Context, job queue.Job, opts queue.EnqueueOptions) error
}

// RetentionScheduler enqueues the daily retention sweep. Jobs carry a
// date-scoped dedup id so worker instances that tick together schedule one
// sweep per target; the advisory lock covers overlap on the processing side.
type RetentionScheduler struct {
	producer jobProducer
	logger   *logging.Logger
	interval time.Duration
	now      func() time.Time
}

func NewRetentionScheduler(producer jobProducer, logger *logging.Logger) *RetentionScheduler {
	if producer == nil {
		panic("worker: retention producer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RetentionScheduler{
		producer: producer,
		logger:   logger,
		interval: 24 * time.Hour,
		now:      time.Now,
	}
}

func (s *RetentionScheduler) WithInterval(d time.Duration) *RetentionScheduler {
	if d > 0 {
		s.interval = d
	}
	return s
}

// WithClock overrides the time source for deterministic tests.
func (s *RetentionScheduler) WithClock(now func() time.Time) *RetentionScheduler {
	if now != nil {
		s.now = now
	}
	return s
}

// Run schedules one sweep immediately, then one per interval until the
// context is cancelled.
func (s *RetentionScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Schedule(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Schedule(ctx)
		}
	}
}

// Schedule enqueues one cleanup job per retention target. A failed enqueue
// for one target does not stop the others; the next tick retries.
func (s *RetentionScheduler) Schedule(ctx context.Context) {
	now := s.now().UTC()
	day := now.Format("2006-01-02")

	targets := []struct {
		name      string
		retention time.Duration
	}{
		{queue.TargetAuditLogs, cleanup.RetentionAuditLogs},
		{queue.TargetMessageQueue, cleanup.RetentionMessageQueue},
		{queue.TargetTempFiles, cleanup.RetentionTempFiles},
	}

	for _, t := range targets {
		job := queue.NewCleanupJob(queue.CleanupJob{
			Target:    t.name,
			OlderThan: now.Add(-t.retention),
		})
		opts := queue.EnqueueOptions{
			DedupID: fmt.Sprintf("cleanup:%s:%s", t.name, day),
		}
		err := s.producer.Enqueue(ctx, job, opts)
		switch {
		case errors.Is(err, queue.ErrDuplicateJob):
			s.logger.Debug("retention sweep already scheduled", "target", t.name, "day", day)
		case err != nil:
			s.logger.Error("failed to schedule retention sweep", "error", err, "target", t.name)
		default:
			s.logger.Info("retention sweep scheduled", "target", t.name, "day", day)
		}
	}
}
