package middleware

import (
	"net/http"
	"sync"
	"time"
)

// Throttle applies a token-bucket limit per caller. Requests are keyed by the
// upstream actor id when present, falling back to client IP for unauthenticated
// traffic (the webhook has its own Redis-backed limiter).
type Throttle struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int     // max tokens
}

type bucket struct {
	tokens   float64
	lastTime time.Time
}

func NewThrottle(rate float64, burst int) *Throttle {
	t := &Throttle{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
	}
	// Periodically evict idle callers to prevent memory growth.
	go t.evict()
	return t
}

// Allow reports whether the caller identified by key is within its budget.
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(t.burst), lastTime: now}
		t.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastTime).Seconds() * t.rate
	if b.tokens > float64(t.burst) {
		b.tokens = float64(t.burst)
	}
	b.lastTime = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (t *Throttle) evict() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		t.mu.Lock()
		cutoff := time.Now().Add(-10 * time.Minute)
		for key, b := range t.buckets {
			if b.lastTime.Before(cutoff) {
				delete(t.buckets, key)
			}
		}
		t.mu.Unlock()
	}
}

func callerKey(r *http.Request) string {
	if actor := r.Header.Get("X-Actor-Id"); actor != "" {
		return "actor:" + actor
	}
	// X-Real-Ip is set by chi's RealIP middleware.
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return "ip:" + xri
	}
	return "ip:" + r.RemoteAddr
}

// RateLimit returns an HTTP middleware that rejects callers exceeding the
// configured rate with 429 Too Many Requests.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewThrottle(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(callerKey(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
