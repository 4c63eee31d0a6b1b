package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Delivery queue
	DeliveryQueueURL    string
	UseMemoryQueue      bool
	WorkerCount         int
	MaxDeliveryAttempts int

	// Email providers
	SESFromEmail      string
	SESFromName       string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	EmailProvider     string

	// SMS provider
	SMSProviderBaseURL string
	SMSProviderAPIKey  string
	SMSFromNumber      string

	// Inbound delivery-confirmation webhook
	WebhookSecret             string
	WebhookTimestampTolerance time.Duration
	WebhookRatePerMinute      int
	WebhookRatePerHour        int

	// Export / archive
	ExportBucket  string
	ArchiveBucket string
	TempFilesDir  string

	// Operator alerting
	OperatorAlertEmail string

	// Advisory locks
	LockTTL time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		DeliveryQueueURL:    getEnv("DELIVERY_QUEUE_URL", ""),
		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:         getEnvAsInt("WORKER_COUNT", 2),
		MaxDeliveryAttempts: getEnvAsInt("MAX_DELIVERY_ATTEMPTS", 3),

		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Patient Messaging"),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Patient Messaging"),
		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),

		SMSProviderBaseURL: getEnv("SMS_PROVIDER_BASE_URL", ""),
		SMSProviderAPIKey:  getEnv("SMS_PROVIDER_API_KEY", ""),
		SMSFromNumber:      getEnv("SMS_FROM_NUMBER", ""),

		WebhookSecret:             getEnv("DELIVERY_WEBHOOK_SECRET", ""),
		WebhookTimestampTolerance: getEnvAsDuration("DELIVERY_WEBHOOK_TOLERANCE", 5*time.Minute),
		WebhookRatePerMinute:      getEnvAsInt("DELIVERY_WEBHOOK_RATE_PER_MINUTE", 60),
		WebhookRatePerHour:        getEnvAsInt("DELIVERY_WEBHOOK_RATE_PER_HOUR", 1000),

		ExportBucket:  getEnv("EXPORT_BUCKET", ""),
		ArchiveBucket: getEnv("ARCHIVE_BUCKET", ""),
		TempFilesDir:  getEnv("TEMP_FILES_DIR", os.TempDir()),

		OperatorAlertEmail: getEnv("OPERATOR_ALERT_EMAIL", ""),

		LockTTL: getEnvAsDuration("ADVISORY_LOCK_TTL", 30*time.Minute),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
