package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

// SESProvider sends email via AWS SES.
type SESProvider struct {
	client    *sesv2.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SESConfig holds configuration for AWS SES.
type SESConfig struct {
	FromEmail string
	FromName  string
}

// NewSESProvider creates an SES-backed email provider.
func NewSESProvider(client *sesv2.Client, cfg SESConfig, logger *logging.Logger) *SESProvider {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Patient Care Team"
	}
	return &SESProvider{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SESProvider) Name() string { return "ses" }

// Send hands the message to SES. Rejections that retrying cannot fix are
// marked permanent.
func (s *SESProvider) Send(ctx context.Context, req Request) (Result, error) {
	if s.client == nil {
		return Result{}, fmt.Errorf("delivery: SES client not configured")
	}

	fromAddress := fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{req.Recipient},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(req.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(req.Content),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	output, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("SES send failed", "error", err, "to", req.Recipient)
		return Result{}, classifySESError(err)
	}

	s.logger.Info("email sent via SES", "to", req.Recipient, "message_id", aws.ToString(output.MessageId))
	return Result{ExternalID: aws.ToString(output.MessageId), Provider: s.Name()}, nil
}

func classifySESError(err error) error {
	wrapped := fmt.Errorf("delivery: SES send failed: %w", err)

	var (
		rejected    *types.MessageRejected
		suspended   *types.AccountSuspendedException
		notVerified *types.MailFromDomainNotVerifiedException
		badRequest  *types.BadRequestException
		notFound    *types.NotFoundException
	)
	switch {
	case errors.As(err, &rejected),
		errors.As(err, &suspended),
		errors.As(err, &notVerified),
		errors.As(err, &badRequest),
		errors.As(err, &notFound):
		return Permanent(wrapped)
	}
	// Throttling, quota, and transport errors stay retryable.
	return wrapped
}

var _ Provider = (*SESProvider)(nil)
