package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/patient-comms-platform/internal/config"
	"github.com/wolfman30/patient-comms-platform/internal/delivery"
	"github.com/wolfman30/patient-comms-platform/internal/delivery/smsclient"
	"github.com/wolfman30/patient-comms-platform/internal/export"
	"github.com/wolfman30/patient-comms-platform/internal/notify"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

// BuildQueueClient returns the delivery queue transport: SQS in production,
// in-memory when USE_MEMORY_QUEUE is set (single-process development only).
func BuildQueueClient(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (queue.Client, error) {
	if cfg.UseMemoryQueue {
		logger.Warn("using in-memory queue; jobs do not survive restarts")
		return queue.NewMemoryClient(0), nil
	}
	if strings.TrimSpace(cfg.DeliveryQueueURL) == "" {
		return nil, fmt.Errorf("bootstrap: DELIVERY_QUEUE_URL is required without USE_MEMORY_QUEUE")
	}
	return queue.NewSQSClient(sqs.NewFromConfig(awsCfg), cfg.DeliveryQueueURL), nil
}

// BuildEmailProvider selects the outbound email transport. With both SES and
// SendGrid configured it returns a failover pair; EMAIL_PROVIDER pins one
// explicitly.
func BuildEmailProvider(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) delivery.Provider {
	var ses, sendgrid delivery.Provider

	if cfg.SESFromEmail != "" {
		ses = delivery.NewSESProvider(sesv2.NewFromConfig(awsCfg), delivery.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger)
	}
	if sg := delivery.NewSendGridProvider(delivery.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		sendgrid = sg
	}

	switch cfg.EmailProvider {
	case "ses":
		if ses != nil {
			logger.Info("email provider pinned", "provider", "ses")
			return ses
		}
		logger.Warn("EMAIL_PROVIDER=ses but SES is not configured")
	case "sendgrid":
		if sendgrid != nil {
			logger.Info("email provider pinned", "provider", "sendgrid")
			return sendgrid
		}
		logger.Warn("EMAIL_PROVIDER=sendgrid but SendGrid is not configured")
	}

	switch {
	case ses != nil && sendgrid != nil:
		logger.Info("email failover enabled", "primary", "ses", "secondary", "sendgrid")
		return delivery.NewFailoverProvider(ses, sendgrid, logger)
	case ses != nil:
		return ses
	case sendgrid != nil:
		return sendgrid
	default:
		logger.Warn("no email provider configured; email deliveries will fail")
		return nil
	}
}

// BuildSMSProvider returns the SMS gateway provider or nil when unset.
func BuildSMSProvider(cfg *appconfig.Config, logger *logging.Logger) (delivery.Provider, error) {
	if strings.TrimSpace(cfg.SMSProviderAPIKey) == "" {
		logger.Warn("no sms provider configured; sms deliveries will fail")
		return nil, nil
	}
	client, err := smsclient.New(smsclient.Config{
		BaseURL: cfg.SMSProviderBaseURL,
		APIKey:  cfg.SMSProviderAPIKey,
		From:    cfg.SMSFromNumber,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: sms client: %w", err)
	}
	return delivery.NewSMSProvider(client, logger), nil
}

// BuildExportArtifacts returns the S3-backed export store, nil-safe when no
// bucket is configured.
func BuildExportArtifacts(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *export.ArtifactStore {
	if strings.TrimSpace(cfg.ExportBucket) == "" {
		logger.Warn("no export bucket configured; exports stay in memory only")
		return nil
	}
	return export.NewArtifactStore(s3.NewFromConfig(awsCfg), cfg.ExportBucket, logger)
}

// BuildArchiveStore returns the S3-backed retention archive, nil-safe when
// no bucket is configured.
func BuildArchiveStore(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *export.ArtifactStore {
	if strings.TrimSpace(cfg.ArchiveBucket) == "" {
		logger.Warn("no archive bucket configured; cleanup archiving disabled")
		return nil
	}
	return export.NewArtifactStore(s3.NewFromConfig(awsCfg), cfg.ArchiveBucket, logger)
}

// BuildNotifyService wires operator alerting through the email provider.
func BuildNotifyService(cfg *appconfig.Config, email delivery.Provider, logger *logging.Logger) *notify.Service {
	if cfg.OperatorAlertEmail == "" || email == nil {
		logger.Warn("operator alerts disabled", "has_email_provider", email != nil, "has_operator_email", cfg.OperatorAlertEmail != "")
		return notify.NewService(nil, "", logger)
	}
	logger.Info("operator alerts enabled", "operator_email", cfg.OperatorAlertEmail)
	return notify.NewService(notify.NewProviderEmailSender(email), cfg.OperatorAlertEmail, logger)
}
