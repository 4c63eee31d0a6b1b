// Package notify sends operator alerts for pipeline conditions that need a
// human: exhausted deliveries and audit integrity violations. Alerts are
// operational mail, not patient messages; they do not pass through the
// delivery queue.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

// EmailSender delivers one operational email.
// Implementations can be swapped (SES, SendGrid, SMTP) without changing callers.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage represents an email to be sent.
type EmailMessage struct {
	To      string
	Subject string
	Body    string
}

// Service sends operator alerts.
type Service struct {
	email         EmailSender
	operatorEmail string
	logger        *logging.Logger
}

// NewService creates an alert service. With no sender or recipient
// configured, alerts are logged and dropped.
func NewService(email EmailSender, operatorEmail string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, operatorEmail: operatorEmail, logger: logger}
}

func (s *Service) enabled() bool {
	return s.email != nil && s.operatorEmail != ""
}

// DeliveryFailure alerts operators that a patient message ran out of
// delivery attempts.
func (s *Service) DeliveryFailure(ctx context.Context, auditEntryID uuid.UUID, method string, attempts int, cause error) {
	if !s.enabled() {
		s.logger.Warn("operator alert dropped: no alert channel configured",
			"kind", "delivery_failure", "entry_id", auditEntryID)
		return
	}

	subject := fmt.Sprintf("Delivery failed - message %s", auditEntryID)
	body := fmt.Sprintf(`A patient message could not be delivered.

Message ID: %s
Method: %s
Attempts: %d
Last error: %v
Time: %s

The message is marked failed in the audit trail. Please review and resend
through the normal workflow if still needed.`,
		auditEntryID, method, attempts, cause, time.Now().UTC().Format(time.RFC3339))

	s.send(ctx, subject, body, "delivery_failure", auditEntryID)
}

// IntegrityViolation alerts operators that a finalized message no longer
// matches its recorded content hash.
func (s *Service) IntegrityViolation(ctx context.Context, auditEntryID uuid.UUID, err error) {
	if !s.enabled() {
		s.logger.Error("operator alert dropped: no alert channel configured",
			"kind", "integrity_violation", "entry_id", auditEntryID)
		return
	}

	subject := fmt.Sprintf("AUDIT INTEGRITY VIOLATION - entry %s", auditEntryID)
	body := fmt.Sprintf(`An audit entry failed content hash verification.

Entry ID: %s
Detail: %v
Time: %s

The stored final message does not match the hash anchored at finalization.
Treat this as possible tampering and investigate immediately.`,
		auditEntryID, err, time.Now().UTC().Format(time.RFC3339))

	s.send(ctx, subject, body, "integrity_violation", auditEntryID)
}

func (s *Service) send(ctx context.Context, subject, body, kind string, entryID uuid.UUID) {
	msg := EmailMessage{To: s.operatorEmail, Subject: subject, Body: body}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("operator alert send failed",
			"error", err, "kind", kind, "entry_id", entryID, "to", s.operatorEmail)
		return
	}
	s.logger.Info("operator alert sent", "kind", kind, "entry_id", entryID, "to", s.operatorEmail)
}

// StubEmailSender is a no-op sender for testing or when alerting is disabled.
type StubEmailSender struct {
	logger *logging.Logger
}

// NewStubEmailSender creates a stub email sender that logs but doesn't send.
func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

// Send logs the email but doesn't actually send it.
func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info("stub email sender: would send email", "to", msg.To, "subject", msg.Subject)
	return nil
}

var _ EmailSender = (*StubEmailSender)(nil)
