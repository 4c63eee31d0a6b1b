package delivery

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

// SendGridProvider sends email via the SendGrid API.
type SendGridProvider struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridProvider creates a SendGrid email provider. Returns nil when no
// API key is configured.
func NewSendGridProvider(cfg SendGridConfig, logger *logging.Logger) *SendGridProvider {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Patient Care Team"
	}
	return &SendGridProvider{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SendGridProvider) Name() string { return "sendgrid" }

// Send sends the message via SendGrid. A 4xx response other than rate
// limiting is permanent; 5xx and transport errors stay retryable.
func (s *SendGridProvider) Send(ctx context.Context, req Request) (Result, error) {
	if s.client == nil {
		return Result{}, fmt.Errorf("delivery: sendgrid client not configured")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail("", req.Recipient)
	message := mail.NewSingleEmail(from, req.Subject, to, req.Content, req.Content)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", req.Recipient)
		return Result{}, fmt.Errorf("delivery: sendgrid send failed: %w", err)
	}

	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "to", req.Recipient)
		statusErr := fmt.Errorf("delivery: sendgrid returned status %d", response.StatusCode)
		if response.StatusCode < 500 && response.StatusCode != http.StatusTooManyRequests {
			return Result{}, Permanent(statusErr)
		}
		return Result{}, statusErr
	}

	externalID := response.Headers["X-Message-Id"]
	var id string
	if len(externalID) > 0 {
		id = externalID[0]
	}
	s.logger.Info("email sent via sendgrid", "to", req.Recipient, "status", response.StatusCode)
	return Result{ExternalID: id, Provider: s.Name()}, nil
}

var _ Provider = (*SendGridProvider)(nil)
