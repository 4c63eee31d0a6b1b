package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

// Enqueue delays by priority: urgent work preempts, low-priority work is
// spread away from interactive traffic.
const (
	delayHigh   = 0
	delayNormal = 1 * time.Second
	delayLow    = 5 * time.Second

	// Cleanup gets pushed further out so sweeps never collide with peak
	// interactive load.
	cleanupExtraDelay = 60 * time.Second

	// A dedup key outlives the longest plausible outstanding delivery
	// (3 attempts with exponential backoff).
	dedupTTL = 15 * time.Minute
)

// ErrDuplicateJob indicates a job with the same dedup id is already
// outstanding.
var ErrDuplicateJob = errors.New("queue: duplicate job suppressed")

// EnqueueOptions tune a single enqueue call.
type EnqueueOptions struct {
	// Delay overrides the priority-derived delay when non-nil.
	Delay *time.Duration
	// DedupID suppresses a second delivery job for the same logical
	// message while one is outstanding.
	DedupID string
}

// Producer places jobs on the durable queue. Dedup state lives in Redis so
// suppression holds across all producer instances.
type Producer struct {
	client Client
	redis  *redis.Client
	logger *logging.Logger
	now    func() time.Time
}

// NewProducer creates a Producer. redisClient may be nil, which disables
// dedup suppression.
func NewProducer(client Client, redisClient *redis.Client, logger *logging.Logger) *Producer {
	if client == nil {
		panic("queue: transport client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Producer{
		client: client,
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source for deterministic tests.
func (p *Producer) WithClock(now func() time.Time) *Producer {
	if now != nil {
		p.now = now
	}
	return p
}

// Enqueue validates the job and places it on the queue with a
// priority-derived delay. Enqueue failures propagate to the caller; the
// triggering transition counts as not-yet-delivered until a retry or the
// reconciliation sweep picks it up.
func (p *Producer) Enqueue(ctx context.Context, job Job, opts EnqueueOptions) error {
	body, err := job.Encode()
	if err != nil {
		return err
	}

	claimed := false
	if opts.DedupID != "" && p.redis != nil {
		ok, err := p.redis.SetNX(ctx, dedupKey(opts.DedupID), 1, dedupTTL).Result()
		if err != nil {
			return fmt.Errorf("queue: dedup check: %w", err)
		}
		if !ok {
			p.logger.Info("duplicate job suppressed", "dedup_id", opts.DedupID, "kind", string(job.Kind))
			return ErrDuplicateJob
		}
		claimed = true
	}

	delay := p.delayFor(job)
	if opts.Delay != nil {
		delay = *opts.Delay
	}
	if delay < 0 {
		delay = 0
	}

	if err := p.client.Send(ctx, body, int32(delay/time.Second)); err != nil {
		// The job never reached the queue, so nothing is outstanding:
		// give the dedup claim back so a retry is not suppressed.
		if claimed {
			p.releaseDedup(opts.DedupID)
		}
		return fmt.Errorf("queue: enqueue %s job: %w", job.Kind, err)
	}
	p.logger.Debug("job enqueued", "kind", string(job.Kind), "delay", delay.String())
	return nil
}

func dedupKey(id string) string {
	return "queue:dedup:" + id
}

// releaseDedup is best effort: a detached context because the caller's may
// already be the reason the send failed, and on Redis error the key simply
// ages out with its TTL.
func (p *Producer) releaseDedup(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.redis.Del(ctx, dedupKey(id)).Err(); err != nil {
		p.logger.Warn("dedup release failed, key expires with TTL",
			"error", err, "dedup_id", id, "ttl", dedupTTL.String())
	}
}

// EnqueueBatch enqueues jobs in order, stopping at the first failure.
func (p *Producer) EnqueueBatch(ctx context.Context, jobs []Job) error {
	for i, job := range jobs {
		if err := p.Enqueue(ctx, job, EnqueueOptions{}); err != nil {
			return fmt.Errorf("queue: batch item %d: %w", i, err)
		}
	}
	return nil
}

// EnqueueSendLater schedules a job for a future send time.
func (p *Producer) EnqueueSendLater(ctx context.Context, job Job, sendAt time.Time) error {
	delay := sendAt.Sub(p.now())
	if delay < 0 {
		delay = 0
	}
	return p.Enqueue(ctx, job, EnqueueOptions{Delay: &delay})
}

func (p *Producer) delayFor(job Job) time.Duration {
	var delay time.Duration
	switch job.JobPriority() {
	case PriorityUrgent, PriorityHigh:
		delay = delayHigh
	case PriorityNormal:
		delay = delayNormal
	default:
		delay = delayLow
	}
	if job.Kind == KindCleanup {
		delay += cleanupExtraDelay
	}
	return delay
}
