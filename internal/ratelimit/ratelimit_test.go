package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLimiter(client, cfg, logging.New("error")), mr
}

func TestAllowUnderLimit(t *testing.T) {
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 3, RequestsPerHour: 100})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "webhook:203.0.113.5")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed: %+v", i+1, res)
		}
	}
}

func TestMinuteLimitExceeded(t *testing.T) {
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 2, RequestsPerHour: 100})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if res, _ := l.Allow(ctx, "client-a"); !res.Allowed {
			t.Fatal("within ceiling")
		}
	}
	res, err := l.Allow(ctx, "client-a")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if res.Allowed {
		t.Fatal("third request must be throttled")
	}
	if res.Window != "minute" || res.CurrentCount != 3 || res.MaxAllowed != 2 {
		t.Errorf("result = %+v", res)
	}

	// Other clients are unaffected.
	if other, _ := l.Allow(ctx, "client-b"); !other.Allowed {
		t.Error("limits are per client")
	}
}

func TestHourLimitExceeded(t *testing.T) {
	l, mr := newTestLimiter(t, Config{RequestsPerMinute: 2, RequestsPerHour: 3})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		// Step past each minute window so only the hour ceiling binds.
		if i > 0 {
			mr.FastForward(2 * time.Minute)
		}
		res, err := l.Allow(ctx, "client-a")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if i < 3 && !res.Allowed {
			t.Fatalf("request %d should pass: %+v", i+1, res)
		}
		if i == 3 {
			if res.Allowed || res.Window != "hour" {
				t.Fatalf("fourth request must hit the hour ceiling: %+v", res)
			}
		}
	}
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	l, mr := newTestLimiter(t, Config{RequestsPerMinute: 1, RequestsPerHour: 100})
	ctx := context.Background()

	if res, _ := l.Allow(ctx, "client-a"); !res.Allowed {
		t.Fatal("first request should pass")
	}
	if res, _ := l.Allow(ctx, "client-a"); res.Allowed {
		t.Fatal("second request should be throttled")
	}

	mr.FastForward(61 * time.Second)
	if res, _ := l.Allow(ctx, "client-a"); !res.Allowed {
		t.Fatal("window should have reset")
	}
}

func TestCounterAlwaysCarriesTTL(t *testing.T) {
	l, mr := newTestLimiter(t, Config{RequestsPerMinute: 10, RequestsPerHour: 100})
	ctx := context.Background()

	// A counter left behind without an expiry must be re-armed on the next
	// check instead of throttling the client forever.
	if err := mr.Set("ratelimit:minute:client-a", "5"); err != nil {
		t.Fatalf("seed counter: %v", err)
	}

	res, err := l.Allow(ctx, "client-a")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if res.CurrentCount != 6 {
		t.Errorf("count = %d, want 6", res.CurrentCount)
	}
	if ttl := mr.TTL("ratelimit:minute:client-a"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("minute counter TTL = %v, want (0, 1m]", ttl)
	}
	if ttl := mr.TTL("ratelimit:hour:client-a"); ttl <= 0 || ttl > time.Hour {
		t.Errorf("hour counter TTL = %v, want (0, 1h]", ttl)
	}

	mr.FastForward(61 * time.Second)
	if mr.Exists("ratelimit:minute:client-a") {
		t.Error("minute counter should expire with its window")
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 1, RequestsPerHour: 1})
	ctx := context.Background()

	_, _ = l.Allow(ctx, "client-a")
	if res, _ := l.Allow(ctx, "client-a"); res.Allowed {
		t.Fatal("should be throttled")
	}
	if err := l.Reset(ctx, "client-a"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if res, _ := l.Allow(ctx, "client-a"); !res.Allowed {
		t.Fatal("reset should clear counters")
	}
}

func TestAllowWithoutRedis(t *testing.T) {
	l := NewLimiter(nil, Config{RequestsPerMinute: 1, RequestsPerHour: 1}, logging.New("error"))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := l.Allow(ctx, "client-a")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !res.Allowed {
			t.Fatal("limiter without redis should fail open")
		}
	}
	if err := l.Reset(ctx, "client-a"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
}
