// Package queue turns workflow outcomes into durable jobs and tracks the
// queue entries that delivery workers mutate. The queue transport provides
// at-least-once delivery; processors compensate with idempotency checks.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority orders delivery work. Higher priorities get shorter enqueue delays.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Kind tags the job variant. Adding a kind is a compile-visible change:
// every switch over Kind carries an explicit default that rejects unknowns.
type Kind string

const (
	KindEmail   Kind = "email"
	KindSMS     Kind = "sms"
	KindExport  Kind = "export"
	KindCleanup Kind = "cleanup"
)

// EmailJob delivers one approved message by email.
type EmailJob struct {
	MessageID uuid.UUID         `json:"message_id"`
	EntryID   uuid.UUID         `json:"entry_id"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject"`
	Content   string            `json:"content"`
	Priority  Priority          `json:"priority"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SMSJob delivers one approved message by SMS.
type SMSJob struct {
	MessageID uuid.UUID         `json:"message_id"`
	EntryID   uuid.UUID         `json:"entry_id"`
	Recipient string            `json:"recipient"`
	Content   string            `json:"content"`
	Priority  Priority          `json:"priority"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ExportFilters narrows which audit entries an export includes.
type ExportFilters struct {
	Start          time.Time `json:"start,omitempty"`
	End            time.Time `json:"end,omitempty"`
	UserID         uuid.UUID `json:"user_id,omitempty"`
	ActionType     string    `json:"action_type,omitempty"`
	DeliveryStatus string    `json:"delivery_status,omitempty"`
	PatientName    string    `json:"patient_name,omitempty"`
}

// ExportJob produces a compliance export artifact.
type ExportJob struct {
	ExportID           uuid.UUID     `json:"export_id"`
	Filters            ExportFilters `json:"filters"`
	UserID             uuid.UUID     `json:"user_id"`
	UserRole           string        `json:"user_role"`
	Format             string        `json:"format"` // csv or json
	IncludeFullContent bool          `json:"include_full_content,omitempty"`
}

// CleanupJob ages out one retention target.
type CleanupJob struct {
	Target    string    `json:"target"` // audit_logs, message_queue, temp_files
	OlderThan time.Time `json:"older_than"`
}

// Job is a tagged variant: Kind names exactly one non-nil payload.
type Job struct {
	Kind    Kind        `json:"kind"`
	Email   *EmailJob   `json:"email,omitempty"`
	SMS     *SMSJob     `json:"sms,omitempty"`
	Export  *ExportJob  `json:"export,omitempty"`
	Cleanup *CleanupJob `json:"cleanup,omitempty"`
}

// ErrInvalidJob indicates a job failed validation before enqueue.
var ErrInvalidJob = errors.New("queue: invalid job")

func NewEmailJob(j EmailJob) Job   { return Job{Kind: KindEmail, Email: &j} }
func NewSMSJob(j SMSJob) Job       { return Job{Kind: KindSMS, SMS: &j} }
func NewExportJob(j ExportJob) Job { return Job{Kind: KindExport, Export: &j} }
func NewCleanupJob(j CleanupJob) Job {
	return Job{Kind: KindCleanup, Cleanup: &j}
}

// Validate rejects malformed jobs before they reach the durable queue.
func (j Job) Validate() error {
	switch j.Kind {
	case KindEmail:
		if j.Email == nil {
			return fmt.Errorf("%w: email payload missing", ErrInvalidJob)
		}
		if j.Email.Recipient == "" || j.Email.Content == "" {
			return fmt.Errorf("%w: email job requires recipient and content", ErrInvalidJob)
		}
		if j.Email.EntryID == uuid.Nil {
			return fmt.Errorf("%w: email job requires queue entry id", ErrInvalidJob)
		}
	case KindSMS:
		if j.SMS == nil {
			return fmt.Errorf("%w: sms payload missing", ErrInvalidJob)
		}
		if j.SMS.Recipient == "" || j.SMS.Content == "" {
			return fmt.Errorf("%w: sms job requires recipient and content", ErrInvalidJob)
		}
		if j.SMS.EntryID == uuid.Nil {
			return fmt.Errorf("%w: sms job requires queue entry id", ErrInvalidJob)
		}
	case KindExport:
		if j.Export == nil {
			return fmt.Errorf("%w: export payload missing", ErrInvalidJob)
		}
		if j.Export.Format != "csv" && j.Export.Format != "json" {
			return fmt.Errorf("%w: export format must be csv or json", ErrInvalidJob)
		}
	case KindCleanup:
		if j.Cleanup == nil {
			return fmt.Errorf("%w: cleanup payload missing", ErrInvalidJob)
		}
		switch j.Cleanup.Target {
		case TargetAuditLogs, TargetMessageQueue, TargetTempFiles:
		default:
			return fmt.Errorf("%w: unknown cleanup target %q", ErrInvalidJob, j.Cleanup.Target)
		}
		if j.Cleanup.OlderThan.IsZero() {
			return fmt.Errorf("%w: cleanup job requires a cutoff", ErrInvalidJob)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, j.Kind)
	}
	return nil
}

// JobPriority returns the delivery priority of the job. Export and cleanup work
// is always low priority so it never competes with interactive traffic.
func (j Job) JobPriority() Priority {
	switch j.Kind {
	case KindEmail:
		if j.Email != nil && j.Email.Priority.Valid() {
			return j.Email.Priority
		}
	case KindSMS:
		if j.SMS != nil && j.SMS.Priority.Valid() {
			return j.SMS.Priority
		}
	case KindExport, KindCleanup:
		return PriorityLow
	}
	return PriorityNormal
}

// Cleanup targets.
const (
	TargetAuditLogs    = "audit_logs"
	TargetMessageQueue = "message_queue"
	TargetTempFiles    = "temp_files"
)

// Encode renders the job envelope for the queue transport.
func (j Job) Encode() (string, error) {
	if err := j.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("queue: encode job: %w", err)
	}
	return string(data), nil
}

// DecodeJob parses a queue envelope back into a Job.
func DecodeJob(body string) (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return Job{}, fmt.Errorf("queue: decode job: %w", err)
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}
