package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/patient-comms-platform/internal/compliance"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

// entryStore is the slice of the queue entry store the processor mutates.
type entryStore interface {
	ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*queue.Entry, error)
	MarkSent(ctx context.Context, id uuid.UUID, externalID, provider string) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, nextRetryAt time.Time, rec queue.ErrorRecord) error
	MarkFailed(ctx context.Context, id uuid.UUID, rec queue.ErrorRecord) error
}

// StatusReporter pushes delivery outcomes back into the message workflow.
type StatusReporter interface {
	UpdateDeliveryStatus(ctx context.Context, entryID uuid.UUID, status compliance.DeliveryStatus, failureReason, externalID string) error
}

// retryScheduler re-enqueues jobs whose attempt failed transiently.
type retryScheduler interface {
	Enqueue(ctx context.Context, job queue.Job, opts queue.EnqueueOptions) error
}

// Alerter notifies operators about deliveries that ran out of road.
type Alerter interface {
	DeliveryFailure(ctx context.Context, auditEntryID uuid.UUID, method string, attempts int, cause error)
}

// maxRetryDelay caps the enqueue delay at the transport's limit.
const maxRetryDelay = 15 * time.Minute

// Processor executes email and SMS jobs. Each job is claimed exactly once
// per attempt; redelivered duplicates of already-terminal entries are
// acknowledged without a second send.
type Processor struct {
	email    Provider
	sms      Provider
	entries  entryStore
	reporter StatusReporter
	producer retryScheduler
	alerter  Alerter
	logger   *logging.Logger
	now      func() time.Time
}

func NewProcessor(email, sms Provider, entries entryStore, reporter StatusReporter, producer retryScheduler, logger *logging.Logger) *Processor {
	if entries == nil {
		panic("delivery: entry store cannot be nil")
	}
	if reporter == nil {
		panic("delivery: status reporter cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{
		email:    email,
		sms:      sms,
		entries:  entries,
		reporter: reporter,
		producer: producer,
		logger:   logger,
		now:      time.Now,
	}
}

// WithAlerter wires operator alerting for exhausted deliveries.
func (p *Processor) WithAlerter(a Alerter) *Processor {
	p.alerter = a
	return p
}

// WithClock overrides the time source for deterministic tests.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	if now != nil {
		p.now = now
	}
	return p
}

// Process handles one delivery job. A nil return means the job is finished
// with the transport: sent, failed terminally, or scheduled for a delayed
// retry. Errors mean the transport should redeliver.
func (p *Processor) Process(ctx context.Context, job queue.Job) error {
	switch job.Kind {
	case queue.KindEmail:
		if p.email == nil {
			return fmt.Errorf("delivery: no email provider configured")
		}
		return p.deliver(ctx, job, p.email, Request{
			MessageID: job.Email.MessageID,
			EntryID:   job.Email.EntryID,
			Recipient: job.Email.Recipient,
			Subject:   job.Email.Subject,
			Content:   job.Email.Content,
			Metadata:  job.Email.Metadata,
		})
	case queue.KindSMS:
		if p.sms == nil {
			return fmt.Errorf("delivery: no sms provider configured")
		}
		return p.deliver(ctx, job, p.sms, Request{
			MessageID: job.SMS.MessageID,
			EntryID:   job.SMS.EntryID,
			Recipient: job.SMS.Recipient,
			Content:   job.SMS.Content,
			Metadata:  job.SMS.Metadata,
		})
	default:
		return fmt.Errorf("delivery: unsupported job kind %q", job.Kind)
	}
}

func (p *Processor) deliver(ctx context.Context, job queue.Job, provider Provider, req Request) (err error) {
	claimed, err := p.entries.ClaimProcessing(ctx, req.EntryID)
	if err != nil {
		return fmt.Errorf("delivery: claim entry %s: %w", req.EntryID, err)
	}
	if !claimed {
		// Terminal entry redelivered by the at-least-once transport.
		p.logger.Info("skipping already-settled delivery", "entry_id", req.EntryID, "message_id", req.MessageID)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("delivery: panic in %s provider: %v", provider.Name(), r)
			p.logger.Error("delivery panicked", "error", cause, "entry_id", req.EntryID)
			p.settleFailure(ctx, req, provider.Name(), 0, cause)
			err = nil // settled; do not redeliver
		}
	}()

	result, sendErr := provider.Send(ctx, req)
	if sendErr == nil {
		if err := p.entries.MarkSent(ctx, req.EntryID, result.ExternalID, result.Provider); err != nil {
			return fmt.Errorf("delivery: mark sent %s: %w", req.EntryID, err)
		}
		p.logger.Info("delivery handed off",
			"entry_id", req.EntryID,
			"message_id", req.MessageID,
			"provider", result.Provider,
			"external_id", result.ExternalID,
		)
		return nil
	}

	entry, err := p.entries.GetByID(ctx, req.EntryID)
	if err != nil {
		return fmt.Errorf("delivery: load entry %s after failure: %w", req.EntryID, err)
	}
	attempt := entry.Attempts + 1
	maxAttempts := entry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = queue.DefaultMaxAttempts
	}

	if IsPermanent(sendErr) || attempt >= maxAttempts {
		p.settleFailure(ctx, req, provider.Name(), attempt, sendErr)
		return nil
	}

	delay := retryBackoff(attempt)
	rec := queue.ErrorRecord{
		Timestamp:     p.now().UTC(),
		Error:         sendErr.Error(),
		AttemptNumber: attempt,
		Provider:      provider.Name(),
	}
	if err := p.entries.ScheduleRetry(ctx, req.EntryID, p.now().UTC().Add(delay), rec); err != nil {
		return fmt.Errorf("delivery: schedule retry %s: %w", req.EntryID, err)
	}
	if p.producer != nil {
		if err := p.producer.Enqueue(ctx, job, queue.EnqueueOptions{Delay: &delay}); err != nil {
			return fmt.Errorf("delivery: re-enqueue %s: %w", req.EntryID, err)
		}
	}
	p.logger.Warn("delivery attempt failed; retry scheduled",
		"entry_id", req.EntryID,
		"attempt", attempt,
		"max_attempts", maxAttempts,
		"delay", delay,
		"error", sendErr,
	)
	return nil
}

// settleFailure records the terminal failure on the queue entry, reflects it
// in the audit trail, and alerts operators. Best effort: a reporting failure
// is logged, not propagated, so the job is not redelivered forever.
func (p *Processor) settleFailure(ctx context.Context, req Request, providerName string, attempt int, cause error) {
	rec := queue.ErrorRecord{
		Timestamp:     p.now().UTC(),
		Error:         cause.Error(),
		AttemptNumber: attempt,
		Provider:      providerName,
	}
	if err := p.entries.MarkFailed(ctx, req.EntryID, rec); err != nil {
		p.logger.Error("mark failed errored", "error", err, "entry_id", req.EntryID)
	}
	if err := p.reporter.UpdateDeliveryStatus(ctx, req.MessageID, compliance.StatusFailed, cause.Error(), ""); err != nil {
		p.logger.Error("audit failure update errored", "error", err, "entry_id", req.EntryID)
	}
	if p.alerter != nil {
		p.alerter.DeliveryFailure(ctx, req.MessageID, providerName, attempt, cause)
	}
	p.logger.Error("delivery failed terminally",
		"entry_id", req.EntryID,
		"message_id", req.MessageID,
		"attempt", attempt,
		"error", cause,
	)
}

// retryBackoff doubles per attempt: 2m, 4m, 8m, capped at the transport's
// maximum delay.
func retryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(1<<attempt) * time.Minute
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}
