// Package delivery executes queued send jobs against outbound providers and
// records the outcome of every attempt. Providers are interchangeable; the
// processor owns retry, backoff, and failure classification.
package delivery

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Request is one outbound send. MessageID is the audit entry; EntryID the
// queue entry being worked.
type Request struct {
	MessageID uuid.UUID
	EntryID   uuid.UUID
	Recipient string
	Subject   string
	Content   string
	Metadata  map[string]string
}

// Result reports a successful provider handoff.
type Result struct {
	ExternalID string
	Provider   string
}

// Provider hands one message to an external delivery service.
type Provider interface {
	Name() string
	Send(ctx context.Context, req Request) (Result, error)
}

// PermanentError marks a send failure that no retry can fix: malformed or
// rejected recipients, suspended accounts, unrenderable content. The
// processor fails the entry immediately instead of burning attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
