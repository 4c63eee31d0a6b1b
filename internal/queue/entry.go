package queue

import (
	"time"

	"github.com/google/uuid"
)

// EntryStatus is the per-job delivery state machine:
// queued -> processing -> sent | (failed -> queued when retryable).
type EntryStatus string

const (
	EntryQueued     EntryStatus = "queued"
	EntryProcessing EntryStatus = "processing"
	EntrySent       EntryStatus = "sent"
	EntryDelivered  EntryStatus = "delivered"
	EntryFailed     EntryStatus = "failed"
	EntryCancelled  EntryStatus = "cancelled"
)

// Terminal reports whether no further delivery work happens from this state.
func (s EntryStatus) Terminal() bool {
	switch s {
	case EntryDelivered, EntryFailed, EntryCancelled:
		return true
	}
	return false
}

// DefaultMaxAttempts bounds delivery retries per queue entry.
const DefaultMaxAttempts = 3

// ErrorRecord is one structured failure note on a queue entry. The error log
// is append-only.
type ErrorRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Error         string    `json:"error"`
	AttemptNumber int       `json:"attempt_number"`
	Provider      string    `json:"provider,omitempty"`
}

// Entry is one outstanding unit of delivery work. Created by the producer,
// mutated only by the matching delivery processor, aged out by cleanup.
// Invariant: Attempts <= MaxAttempts, and an entry whose last attempt failed
// at the cap is failed, never queued.
type Entry struct {
	ID           uuid.UUID
	AuditEntryID uuid.UUID
	Method       string // email, sms, portal
	Recipient    string
	Priority     Priority
	Status       EntryStatus
	Attempts     int
	MaxAttempts  int
	NextRetryAt  *time.Time
	ErrorLog     []ErrorRecord
	ExternalID   string
	Provider     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ArchivedAt   *time.Time
}
