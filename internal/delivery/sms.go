package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/wolfman30/patient-comms-platform/internal/delivery/smsclient"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

// SMSProvider sends SMS through the gateway client.
type SMSProvider struct {
	client *smsclient.Client
	logger *logging.Logger
}

// NewSMSProvider wraps the gateway client as a delivery provider.
func NewSMSProvider(client *smsclient.Client, logger *logging.Logger) *SMSProvider {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SMSProvider{client: client, logger: logger}
}

func (s *SMSProvider) Name() string { return "sms-gateway" }

// Send submits the message. Gateway 4xx responses other than rate limiting
// are permanent; the client has already retried transient failures.
func (s *SMSProvider) Send(ctx context.Context, req Request) (Result, error) {
	resp, err := s.client.SendMessage(ctx, smsclient.SendMessageRequest{
		To:   req.Recipient,
		Body: req.Content,
	})
	if err != nil {
		s.logger.Error("sms send failed", "error", err, "to", req.Recipient)
		wrapped := fmt.Errorf("delivery: sms send failed: %w", err)
		var apiErr *smsclient.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests {
			return Result{}, Permanent(wrapped)
		}
		return Result{}, wrapped
	}
	s.logger.Info("sms sent", "to", req.Recipient, "message_id", resp.ID)
	return Result{ExternalID: resp.ID, Provider: s.Name()}, nil
}

var _ Provider = (*SMSProvider)(nil)
