// Package workflow enforces the patient-message lifecycle: draft, review,
// send, delivery confirmation. Every transition is persisted together with
// its audit record; a transition that cannot be persisted has not happened.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/patient-comms-platform/internal/compliance"
	"github.com/wolfman30/patient-comms-platform/internal/identity"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

var (
	// ErrPermissionDenied indicates the caller's role is below the floor
	// for the operation. No state was mutated.
	ErrPermissionDenied = errors.New("workflow: permission denied")
	// ErrValidation indicates required fields were missing or malformed.
	ErrValidation = errors.New("workflow: validation failed")
	// ErrInvalidTransition indicates the lifecycle forbids the requested
	// status change.
	ErrInvalidTransition = errors.New("workflow: invalid status transition")
)

// JobProducer schedules delivery jobs on the durable queue.
type JobProducer interface {
	Enqueue(ctx context.Context, job queue.Job, opts queue.EnqueueOptions) error
}

// QueueEntries is the slice of the queue entry store the engine needs to
// create delivery work and reflect provider confirmations.
type QueueEntries interface {
	Create(ctx context.Context, e *queue.Entry) error
	GetByAuditEntry(ctx context.Context, auditEntryID uuid.UUID) (*queue.Entry, error)
	MarkDeliveredByAuditEntry(ctx context.Context, auditEntryID uuid.UUID, externalID string) error
}

// Engine drives the message workflow state machine.
type Engine struct {
	audit         *compliance.Store
	entries       QueueEntries
	producer      JobProducer
	observer      Observer
	logger        *logging.Logger
	directSendMin identity.Role
	maxAttempts   int
	now           func() time.Time
}

func NewEngine(audit *compliance.Store, entries QueueEntries, producer JobProducer, logger *logging.Logger) *Engine {
	if audit == nil {
		panic("workflow: audit store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		audit:         audit,
		entries:       entries,
		producer:      producer,
		observer:      NopObserver{},
		logger:        logger,
		directSendMin: identity.RoleDoctor,
		maxAttempts:   queue.DefaultMaxAttempts,
		now:           time.Now,
	}
}

// WithMaxDeliveryAttempts caps retries for queue entries this engine creates.
func (e *Engine) WithMaxDeliveryAttempts(n int) *Engine {
	if n > 0 {
		e.maxAttempts = n
	}
	return e
}

// WithObserver injects workflow telemetry.
func (e *Engine) WithObserver(o Observer) *Engine {
	if o != nil {
		e.observer = o
	}
	return e
}

// WithDirectSendMinRole sets the policy floor for the review bypass.
func (e *Engine) WithDirectSendMinRole(r identity.Role) *Engine {
	if r.Valid() {
		e.directSendMin = r
	}
	return e
}

// WithClock overrides the time source for deterministic tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// DraftSubmission carries a drafted patient message into the workflow.
type DraftSubmission struct {
	// EntryID resubmits an existing rejected entry; zero creates a new one.
	EntryID         uuid.UUID
	PatientID       uuid.UUID
	PatientName     string
	OriginalRequest string
	GeneratedDraft  string
	DraftContent    string
	DeliveryMethod  string // email, sms, portal
	Recipient       string
	Priority        queue.Priority
	AIModel         string
	TokensConsumed  int
	IPAddress       string
}

func (d DraftSubmission) validate() error {
	if d.DraftContent == "" {
		return fmt.Errorf("%w: draft content is required", ErrValidation)
	}
	if d.Recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	switch d.DeliveryMethod {
	case "email", "sms", "portal":
	default:
		return fmt.Errorf("%w: unknown delivery method %q", ErrValidation, d.DeliveryMethod)
	}
	return nil
}

// SubmitForReview moves a drafted message into the review queue. Requires at
// least the staff role. Resubmission after rejection updates the working
// draft; the AI-generated draft is never overwritten.
func (e *Engine) SubmitForReview(ctx context.Context, author identity.Actor, sub DraftSubmission) (*compliance.Entry, error) {
	if !author.Role.AtLeast(identity.RoleStaff) {
		e.observer.OnDenied("submit_for_review", author)
		return nil, fmt.Errorf("%w: submit_for_review requires staff, got %s", ErrPermissionDenied, author.Role)
	}
	if err := sub.validate(); err != nil {
		return nil, err
	}

	if sub.EntryID != uuid.Nil {
		return e.resubmit(ctx, author, sub)
	}

	entry := &compliance.Entry{
		AuthorID:        author.ID,
		AuthorEmail:     author.Email,
		AuthorRole:      author.Role,
		PatientID:       sub.PatientID,
		PatientName:     sub.PatientName,
		OriginalRequest: sub.OriginalRequest,
		GeneratedDraft:  sub.GeneratedDraft,
		DraftContent:    sub.DraftContent,
		ActionType:      compliance.ActionSubmittedForReview,
		DeliveryStatus:  compliance.StatusPendingReview,
		DeliveryMethod:  sub.DeliveryMethod,
		Recipient:       sub.Recipient,
		Priority:        string(sub.Priority),
		AIModel:         sub.AIModel,
		TokensConsumed:  sub.TokensConsumed,
		IPAddress:       sub.IPAddress,
		EditHistory: []compliance.EditRecord{
			{Action: "draft_generated", ActorID: author.ID.String(), Timestamp: e.now().UTC()},
			{Action: "submitted_for_review", ActorID: author.ID.String(), Timestamp: e.now().UTC()},
		},
	}

	tx, err := e.audit.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("workflow: begin submit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := e.audit.Insert(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("workflow: commit submit: %w", err)
	}

	e.observer.OnTransition(entry.ID, compliance.StatusDraft, compliance.StatusPendingReview, compliance.ActionSubmittedForReview)
	e.logger.Info("message submitted for review", "entry_id", entry.ID, "author_id", author.ID, "method", sub.DeliveryMethod)
	return entry, nil
}

func (e *Engine) resubmit(ctx context.Context, author identity.Actor, sub DraftSubmission) (*compliance.Entry, error) {
	existing, err := e.audit.GetByID(ctx, nil, sub.EntryID)
	if err != nil {
		return nil, err
	}
	if existing.DeliveryStatus != compliance.StatusRejected && existing.DeliveryStatus != compliance.StatusDraft {
		return nil, fmt.Errorf("%w: cannot resubmit from %s", ErrInvalidTransition, existing.DeliveryStatus)
	}
	if sub.DraftContent == existing.DraftContent && existing.DeliveryStatus == compliance.StatusRejected {
		return nil, fmt.Errorf("%w: resubmission must update the draft", ErrValidation)
	}

	tx, err := e.audit.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("workflow: begin resubmit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := e.audit.UpdateDraft(ctx, tx, existing.ID, sub.DraftContent); err != nil {
		return nil, err
	}
	if err := e.audit.UpdateStatus(ctx, tx, existing.ID, compliance.StatusPendingReview, compliance.ActionSubmittedForReview, sourcesOf(compliance.StatusPendingReview)); err != nil {
		return nil, err
	}
	if err := e.audit.AppendHistory(ctx, tx, existing.ID, compliance.EditRecord{
		Action: "resubmitted_for_review", ActorID: author.ID.String(), Timestamp: e.now().UTC(),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("workflow: commit resubmit: %w", err)
	}

	e.observer.OnTransition(existing.ID, existing.DeliveryStatus, compliance.StatusPendingReview, compliance.ActionSubmittedForReview)
	return e.audit.GetByID(ctx, nil, existing.ID)
}

// ReviewDecision is the reviewer's verdict on a pending message.
type ReviewDecision struct {
	Action             string // approve or reject
	Notes              string
	EditedFinalMessage string
}

// Review applies a reviewer decision. Approval finalizes the message text,
// anchors the content hash, and schedules delivery. Rejection sends the
// entry back to draft so the author can resubmit.
func (e *Engine) Review(ctx context.Context, reviewer identity.Actor, entryID uuid.UUID, decision ReviewDecision) (*compliance.Entry, error) {
	if !reviewer.Role.AtLeast(identity.RoleReviewer) {
		e.observer.OnDenied("review", reviewer)
		return nil, fmt.Errorf("%w: review requires reviewer, got %s", ErrPermissionDenied, reviewer.Role)
	}
	if decision.Action != "approve" && decision.Action != "reject" {
		return nil, fmt.Errorf("%w: review action must be approve or reject", ErrValidation)
	}

	entry, err := e.audit.GetByID(ctx, nil, entryID)
	if err != nil {
		return nil, err
	}
	if entry.DeliveryStatus != compliance.StatusPendingReview {
		return nil, fmt.Errorf("%w: review requires pending_review, entry is %s", ErrInvalidTransition, entry.DeliveryStatus)
	}

	if decision.Action == "reject" {
		return e.reject(ctx, reviewer, entry, decision)
	}
	return e.approve(ctx, reviewer, entry, decision)
}

func (e *Engine) reject(ctx context.Context, reviewer identity.Actor, entry *compliance.Entry, decision ReviewDecision) (*compliance.Entry, error) {
	tx, err := e.audit.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("workflow: begin reject: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := e.now().UTC()
	if err := e.audit.SetReview(ctx, tx, entry.ID, reviewer.ID, "rejected", decision.Notes, now); err != nil {
		return nil, err
	}
	if err := e.audit.UpdateStatus(ctx, tx, entry.ID, compliance.StatusRejected, compliance.ActionReviewed, sourcesOf(compliance.StatusRejected)); err != nil {
		return nil, err
	}
	if err := e.audit.AppendHistory(ctx, tx, entry.ID, compliance.EditRecord{
		Action: "rejected", ActorID: reviewer.ID.String(), Timestamp: now,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("workflow: commit reject: %w", err)
	}

	e.observer.OnTransition(entry.ID, compliance.StatusPendingReview, compliance.StatusRejected, compliance.ActionReviewed)
	e.logger.Info("message rejected", "entry_id", entry.ID, "reviewer_id", reviewer.ID)
	return e.audit.GetByID(ctx, nil, entry.ID)
}

func (e *Engine) approve(ctx context.Context, reviewer identity.Actor, entry *compliance.Entry, decision ReviewDecision) (*compliance.Entry, error) {
	finalMessage := entry.DraftContent
	if decision.EditedFinalMessage != "" {
		finalMessage = decision.EditedFinalMessage
	}

	tx, err := e.audit.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("workflow: begin approve: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := e.now().UTC()
	if _, err := e.audit.FinalizeMessage(ctx, tx, entry.ID, finalMessage); err != nil {
		return nil, err
	}
	if err := e.audit.SetReview(ctx, tx, entry.ID, reviewer.ID, "approved", decision.Notes, now); err != nil {
		return nil, err
	}
	if err := e.audit.UpdateStatus(ctx, tx, entry.ID, compliance.StatusApproved, compliance.ActionReviewed, sourcesOf(compliance.StatusApproved)); err != nil {
		return nil, err
	}
	if err := e.audit.AppendHistory(ctx, tx, entry.ID, compliance.EditRecord{
		Action: "approved", ActorID: reviewer.ID.String(), Timestamp: now,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("workflow: commit approve: %w", err)
	}
	e.observer.OnTransition(entry.ID, compliance.StatusPendingReview, compliance.StatusApproved, compliance.ActionReviewed)

	if err := e.scheduleDelivery(ctx, entry, finalMessage); err != nil {
		// Approval is committed; the reconciliation sweep re-enqueues
		// approved entries that never reached the queue.
		return nil, err
	}
	return e.audit.GetByID(ctx, nil, entry.ID)
}

// SendDirectly bypasses review for sufficiently privileged roles: the entry
// is finalized and scheduled for delivery in one step.
func (e *Engine) SendDirectly(ctx context.Context, author identity.Actor, sub DraftSubmission) (*compliance.Entry, error) {
	if !author.Role.AtLeast(e.directSendMin) {
		e.observer.OnDenied("send_directly", author)
		return nil, fmt.Errorf("%w: send_directly requires %s, got %s", ErrPermissionDenied, e.directSendMin, author.Role)
	}
	if err := sub.validate(); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	entry := &compliance.Entry{
		AuthorID:        author.ID,
		AuthorEmail:     author.Email,
		AuthorRole:      author.Role,
		PatientID:       sub.PatientID,
		PatientName:     sub.PatientName,
		OriginalRequest: sub.OriginalRequest,
		GeneratedDraft:  sub.GeneratedDraft,
		DraftContent:    sub.DraftContent,
		FinalMessage:    sub.DraftContent,
		ActionType:      compliance.ActionMessageSent,
		DeliveryStatus:  compliance.StatusApproved,
		DeliveryMethod:  sub.DeliveryMethod,
		Recipient:       sub.Recipient,
		Priority:        string(sub.Priority),
		AIModel:         sub.AIModel,
		TokensConsumed:  sub.TokensConsumed,
		IPAddress:       sub.IPAddress,
		EditHistory: []compliance.EditRecord{
			{Action: "draft_generated", ActorID: author.ID.String(), Timestamp: now},
			{Action: "sent_directly", ActorID: author.ID.String(), Timestamp: now},
		},
	}

	tx, err := e.audit.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("workflow: begin direct send: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := e.audit.Insert(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("workflow: commit direct send: %w", err)
	}
	e.observer.OnTransition(entry.ID, compliance.StatusDraft, compliance.StatusApproved, compliance.ActionMessageSent)

	if err := e.scheduleDelivery(ctx, entry, sub.DraftContent); err != nil {
		return nil, err
	}
	return e.audit.GetByID(ctx, nil, entry.ID)
}

// scheduleDelivery creates the queue entry, enqueues the delivery job, and
// marks the audit entry sent. Recipient info is taken from the entry.
func (e *Engine) scheduleDelivery(ctx context.Context, entry *compliance.Entry, finalMessage string) error {
	if e.entries == nil || e.producer == nil {
		return fmt.Errorf("workflow: delivery scheduling is not configured")
	}

	full, err := e.audit.GetByID(ctx, nil, entry.ID)
	if err != nil {
		return err
	}

	priority := queue.Priority(full.Priority)
	if !priority.Valid() {
		priority = queue.PriorityNormal
	}

	// A reconciliation pass may retry scheduling after a partial failure;
	// reuse the existing queue entry instead of creating a second one.
	qe, err := e.entries.GetByAuditEntry(ctx, entry.ID)
	if errors.Is(err, queue.ErrEntryNotFound) {
		qe = &queue.Entry{
			AuditEntryID: entry.ID,
			Method:       full.DeliveryMethod,
			Recipient:    full.Recipient,
			Priority:     priority,
			MaxAttempts:  e.maxAttempts,
		}
		if err := e.entries.Create(ctx, qe); err != nil {
			return fmt.Errorf("workflow: create queue entry: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("workflow: look up queue entry: %w", err)
	} else if qe.Status.Terminal() {
		return fmt.Errorf("%w: queue entry %s is already %s", ErrInvalidTransition, qe.ID, qe.Status)
	}

	job, err := buildDeliveryJob(full, qe, finalMessage, priority)
	if err != nil {
		return err
	}
	enqErr := e.producer.Enqueue(ctx, job, queue.EnqueueOptions{DedupID: "delivery:" + entry.ID.String()})
	e.observer.OnEnqueue(entry.ID, job.Kind, enqErr)
	if enqErr != nil && !errors.Is(enqErr, queue.ErrDuplicateJob) {
		return fmt.Errorf("workflow: enqueue delivery: %w", enqErr)
	}

	if err := e.audit.UpdateStatus(ctx, nil, entry.ID, compliance.StatusSent, compliance.ActionSent, sourcesOf(compliance.StatusSent)); err != nil {
		return err
	}
	if err := e.audit.AppendHistory(ctx, nil, entry.ID, compliance.EditRecord{
		Action: string(compliance.ActionSent), ActorID: "delivery-subsystem", Timestamp: e.now().UTC(),
	}); err != nil {
		return err
	}
	e.observer.OnTransition(entry.ID, compliance.StatusApproved, compliance.StatusSent, compliance.ActionSent)
	e.logger.Info("delivery scheduled", "entry_id", entry.ID, "method", full.DeliveryMethod, "queue_entry_id", qe.ID)
	return nil
}

// UpdateDeliveryStatus reflects provider outcomes (worker or inbound
// webhook). Transitions are monotonic: a delivered entry never moves back.
func (e *Engine) UpdateDeliveryStatus(ctx context.Context, entryID uuid.UUID, status compliance.DeliveryStatus, failureReason, externalID string) error {
	var action compliance.ActionType
	switch status {
	case compliance.StatusSent:
		action = compliance.ActionSent
	case compliance.StatusDelivered:
		action = compliance.ActionDeliveryConfirmed
	case compliance.StatusFailed:
		action = compliance.ActionDeliveryFailed
	default:
		return fmt.Errorf("%w: delivery status must be sent, delivered, or failed", ErrValidation)
	}

	entry, err := e.audit.GetByID(ctx, nil, entryID)
	if err != nil {
		return err
	}
	if entry.DeliveryStatus == status {
		return nil // idempotent replay
	}
	if !CanTransition(entry.DeliveryStatus, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, entry.DeliveryStatus, status)
	}

	tx, err := e.audit.Begin(ctx)
	if err != nil {
		return fmt.Errorf("workflow: begin delivery update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := e.audit.UpdateStatus(ctx, tx, entryID, status, action, sourcesOf(status)); err != nil {
		return err
	}
	historyAction := string(action)
	if failureReason != "" {
		historyAction = fmt.Sprintf("%s: %s", action, failureReason)
	}
	if err := e.audit.AppendHistory(ctx, tx, entryID, compliance.EditRecord{
		Action: historyAction, ActorID: "delivery-subsystem", Timestamp: e.now().UTC(),
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("workflow: commit delivery update: %w", err)
	}

	if status == compliance.StatusDelivered && e.entries != nil {
		if err := e.entries.MarkDeliveredByAuditEntry(ctx, entryID, externalID); err != nil {
			e.logger.Error("queue entry delivered update failed", "error", err, "entry_id", entryID)
		}
	}

	e.observer.OnTransition(entryID, entry.DeliveryStatus, status, action)
	return nil
}

func buildDeliveryJob(entry *compliance.Entry, qe *queue.Entry, finalMessage string, priority queue.Priority) (queue.Job, error) {
	switch entry.DeliveryMethod {
	case "email":
		return queue.NewEmailJob(queue.EmailJob{
			MessageID: entry.ID,
			EntryID:   qe.ID,
			Recipient: qe.Recipient,
			Subject:   "Message from your care team",
			Content:   finalMessage,
			Priority:  priority,
		}), nil
	case "sms":
		return queue.NewSMSJob(queue.SMSJob{
			MessageID: entry.ID,
			EntryID:   qe.ID,
			Recipient: qe.Recipient,
			Content:   finalMessage,
			Priority:  priority,
		}), nil
	default:
		return queue.Job{}, fmt.Errorf("%w: no delivery transport for method %q", ErrValidation, entry.DeliveryMethod)
	}
}
