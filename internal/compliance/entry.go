// Package compliance owns the tamper-evident audit trail for patient
// communications: content hashing, PII redaction, and the immutable log of
// every workflow transition.
package compliance

import (
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/patient-comms-platform/internal/identity"
)

// ActionType records which workflow action produced an audit entry.
type ActionType string

const (
	ActionDraftGenerated     ActionType = "draft_generated"
	ActionSubmittedForReview ActionType = "submitted_for_review"
	ActionReviewed           ActionType = "reviewed"
	ActionSent               ActionType = "sent"
	ActionDeliveryConfirmed  ActionType = "delivery_confirmed"
	ActionDeliveryFailed     ActionType = "delivery_failed"
	ActionMessageSent        ActionType = "message_sent"
)

// DeliveryStatus is the lifecycle state of a patient message.
type DeliveryStatus string

const (
	StatusDraft         DeliveryStatus = "draft"
	StatusPendingReview DeliveryStatus = "pending_review"
	StatusApproved      DeliveryStatus = "approved"
	StatusRejected      DeliveryStatus = "rejected"
	StatusSent          DeliveryStatus = "sent"
	StatusDelivered     DeliveryStatus = "delivered"
	StatusFailed        DeliveryStatus = "failed"
)

// EditRecord is one append-only edit-history item. Entries are never removed.
type EditRecord struct {
	Action    string    `json:"action"`
	ActorID   string    `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Entry is the unit of audit truth for one patient message. Once FinalMessage
// is persisted its ContentHash is fixed forever; later verification recomputes
// the digest and compares.
type Entry struct {
	ID              uuid.UUID
	AuthorID        uuid.UUID
	AuthorEmail     string
	AuthorRole      identity.Role
	PatientID       uuid.UUID
	PatientName     string
	OriginalRequest string
	GeneratedDraft  string
	// DraftContent is the working text under review. FinalMessage stays
	// empty until the message is finalized for sending, at which point
	// ContentHash anchors.
	DraftContent    string
	FinalMessage    string
	ActionType      ActionType
	DeliveryStatus  DeliveryStatus
	DeliveryMethod  string
	Recipient       string
	Priority        string
	ReviewerID      uuid.UUID
	ReviewerNotes   string
	ReviewAction    string
	ReviewedAt      *time.Time
	EditHistory     []EditRecord
	RetryCount      int
	ContentHash     string
	AIModel         string
	TokensConsumed  int
	IPAddress       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ArchivedAt      *time.Time
}

// Filter selects audit entries for export and review queries.
type Filter struct {
	Start          time.Time
	End            time.Time
	AuthorID       uuid.UUID
	ActionType     ActionType
	DeliveryStatus DeliveryStatus
	PatientName    string // substring match
	Limit          int
	Offset         int
}

// MaxQueryRecords caps any single audit query regardless of the requested
// page size.
const MaxQueryRecords = 5000
