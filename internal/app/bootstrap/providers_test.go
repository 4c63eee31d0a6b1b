package bootstrap

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	appconfig "github.com/wolfman30/patient-comms-platform/internal/config"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

func TestBuildRedisClientDisabledWithoutAddr(t *testing.T) {
	cfg := &appconfig.Config{}
	if client := BuildRedisClient(context.Background(), cfg, logging.New("error"), false); client != nil {
		t.Fatal("expected nil client without REDIS_ADDR")
	}
}

func TestBuildQueueClientMemory(t *testing.T) {
	cfg := &appconfig.Config{UseMemoryQueue: true}
	client, err := BuildQueueClient(cfg, aws.Config{}, logging.New("error"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := client.(*queue.MemoryClient); !ok {
		t.Fatalf("expected memory client, got %T", client)
	}
}

func TestBuildQueueClientRequiresURL(t *testing.T) {
	cfg := &appconfig.Config{}
	if _, err := BuildQueueClient(cfg, aws.Config{}, logging.New("error")); err == nil {
		t.Fatal("expected error without DELIVERY_QUEUE_URL")
	}
}

func TestBuildEmailProviderUnconfigured(t *testing.T) {
	cfg := &appconfig.Config{}
	if p := BuildEmailProvider(cfg, aws.Config{}, logging.New("error")); p != nil {
		t.Fatalf("expected nil provider, got %T", p)
	}
}

func TestBuildSMSProviderUnconfigured(t *testing.T) {
	cfg := &appconfig.Config{}
	p, err := BuildSMSProvider(cfg, logging.New("error"))
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatalf("expected nil provider, got %T", p)
	}
}

func TestBuildSMSProviderConfigured(t *testing.T) {
	cfg := &appconfig.Config{
		SMSProviderAPIKey: "key",
		SMSFromNumber:     "+15550001111",
	}
	p, err := BuildSMSProvider(cfg, logging.New("error"))
	if err != nil {
		t.Fatal(err)
	}
	if p == nil {
		t.Fatal("expected sms provider")
	}
	if p.Name() != "sms-gateway" {
		t.Errorf("name = %q", p.Name())
	}
}
