package notify

import (
	"context"
	"fmt"

	"github.com/wolfman30/patient-comms-platform/internal/delivery"
)

// ProviderEmailSender sends operational mail through a delivery provider.
// Alerts reuse the pipeline's email transport but bypass its queue.
type ProviderEmailSender struct {
	provider delivery.Provider
}

func NewProviderEmailSender(provider delivery.Provider) *ProviderEmailSender {
	if provider == nil {
		return nil
	}
	return &ProviderEmailSender{provider: provider}
}

func (s *ProviderEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	_, err := s.provider.Send(ctx, delivery.Request{
		Recipient: msg.To,
		Subject:   msg.Subject,
		Content:   msg.Body,
	})
	if err != nil {
		return fmt.Errorf("notify: send operator email: %w", err)
	}
	return nil
}
