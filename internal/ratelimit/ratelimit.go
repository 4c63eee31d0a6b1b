// Package ratelimit throttles inbound webhook traffic per client using
// Redis fixed-window counters.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

var tracer = otel.Tracer("comms.internal.ratelimit")

// incrScript bumps the window counter and guarantees the key carries a TTL,
// even if a prior increment died before its expiry landed. Returns the count
// and the remaining window in milliseconds.
var incrScript = redis.NewScript(`
local count = redis.call("incr", KEYS[1])
if count == 1 or redis.call("pttl", KEYS[1]) < 0 then
	redis.call("pexpire", KEYS[1], ARGV[1])
end
return {count, redis.call("pttl", KEYS[1])}
`)

// Limiter enforces per-client request ceilings over minute and hour windows.
type Limiter struct {
	redis  *redis.Client
	logger *logging.Logger
	config Config
}

// Config contains rate limit ceilings.
type Config struct {
	RequestsPerMinute int
	RequestsPerHour   int
}

// DefaultConfig returns the default webhook ceilings.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		RequestsPerHour:   1000,
	}
}

// Result contains the outcome of a rate limit check.
type Result struct {
	Allowed      bool
	Window       string // minute or hour
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
}

// NewLimiter creates a rate limiter.
func NewLimiter(redisClient *redis.Client, config Config, logger *logging.Logger) *Limiter {
	if logger == nil {
		logger = logging.Default()
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if config.RequestsPerHour <= 0 {
		config.RequestsPerHour = DefaultConfig().RequestsPerHour
	}
	return &Limiter{redis: redisClient, logger: logger, config: config}
}

// Allow checks both windows for the client. If Redis is unavailable the
// request is allowed; throttling is protection, not a dependency.
func (l *Limiter) Allow(ctx context.Context, clientID string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.allow")
	defer span.End()
	span.SetAttributes(attribute.String("ratelimit.client_id", clientID))

	if l.redis == nil {
		return &Result{Allowed: true, Window: "minute"}, nil
	}

	minute, err := l.check(ctx, clientID, "minute", time.Minute, l.config.RequestsPerMinute)
	if err != nil {
		l.logger.Error("rate limit check failed", "error", err, "client_id", clientID)
		return &Result{Allowed: true, Window: "minute"}, nil
	}
	if !minute.Allowed {
		span.SetAttributes(attribute.Bool("ratelimit.exceeded", true))
		l.logger.Warn("rate limit exceeded",
			"client_id", clientID,
			"window", minute.Window,
			"count", minute.CurrentCount,
			"max", minute.MaxAllowed,
		)
		return minute, nil
	}

	hour, err := l.check(ctx, clientID, "hour", time.Hour, l.config.RequestsPerHour)
	if err != nil {
		l.logger.Error("rate limit check failed", "error", err, "client_id", clientID)
		return &Result{Allowed: true, Window: "hour"}, nil
	}
	if !hour.Allowed {
		span.SetAttributes(attribute.Bool("ratelimit.exceeded", true))
		l.logger.Warn("rate limit exceeded",
			"client_id", clientID,
			"window", hour.Window,
			"count", hour.CurrentCount,
			"max", hour.MaxAllowed,
		)
	}
	return hour, nil
}

func (l *Limiter) check(ctx context.Context, clientID, window string, ttl time.Duration, max int) (*Result, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", window, clientID)

	vals, err := incrScript.Run(ctx, l.redis, []string{key}, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("ratelimit: unexpected script reply of length %d", len(vals))
	}
	count, remaining := vals[0], time.Duration(vals[1])*time.Millisecond

	return &Result{
		Allowed:      int(count) <= max,
		Window:       window,
		CurrentCount: int(count),
		MaxAllowed:   max,
		WindowExpiry: time.Now().Add(remaining),
	}, nil
}

// Reset clears both windows for a client (admin use).
func (l *Limiter) Reset(ctx context.Context, clientID string) error {
	if l.redis == nil {
		return nil
	}
	keys := []string{
		fmt.Sprintf("ratelimit:minute:%s", clientID),
		fmt.Sprintf("ratelimit:hour:%s", clientID),
	}
	return l.redis.Del(ctx, keys...).Err()
}
