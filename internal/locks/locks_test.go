package locks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewManager(client, logging.New("error")), mr
}

func TestAcquireAndRelease(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	lock, err := m.Acquire(ctx, "cleanup:comprehensive", "worker-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lock.Holder != "worker-1" {
		t.Errorf("holder = %q", lock.Holder)
	}

	if _, err := m.Acquire(ctx, "cleanup:comprehensive", "worker-2"); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("second acquire: expected ErrLockHeld, got %v", err)
	}

	if err := m.Release(ctx, "cleanup:comprehensive", "worker-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := m.Acquire(ctx, "cleanup:comprehensive", "worker-2"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestReleaseByNonHolder(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "export:run", "worker-1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Release(ctx, "export:run", "worker-2"); !errors.Is(err, ErrNotHolder) {
		t.Fatalf("expected ErrNotHolder, got %v", err)
	}
	// The rightful holder is unaffected.
	if holder, _ := m.Holder(ctx, "export:run"); holder != "worker-1" {
		t.Errorf("holder = %q", holder)
	}
}

func TestLockExpires(t *testing.T) {
	m, mr := newTestManager(t)
	m.WithTTL(time.Minute)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "cleanup:comprehensive", "worker-1"); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := m.Acquire(ctx, "cleanup:comprehensive", "worker-2"); err != nil {
		t.Fatalf("expired lock should be acquirable: %v", err)
	}
	// Releasing after expiry is a no-op.
	if err := m.Release(ctx, "other", "worker-1"); err != nil {
		t.Errorf("release of expired lock: %v", err)
	}
}

func TestRefreshExtendsOnlyForHolder(t *testing.T) {
	m, mr := newTestManager(t)
	m.WithTTL(time.Minute)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "cleanup:comprehensive", "worker-1"); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(30 * time.Second)
	if err := m.Refresh(ctx, "cleanup:comprehensive", "worker-1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	mr.FastForward(45 * time.Second)

	// Without refresh the lock would have expired by now.
	if _, err := m.Acquire(ctx, "cleanup:comprehensive", "worker-2"); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("refreshed lock must still be held, got %v", err)
	}

	if err := m.Refresh(ctx, "cleanup:comprehensive", "worker-2"); !errors.Is(err, ErrNotHolder) {
		t.Fatalf("refresh by non-holder: expected ErrNotHolder, got %v", err)
	}
}
