package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/patient-comms-platform/internal/compliance"
	"github.com/wolfman30/patient-comms-platform/internal/ratelimit"
	"github.com/wolfman30/patient-comms-platform/internal/workflow"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

const maxPayloadBytes = 1 << 20

// statusUpdater is the slice of the workflow engine the handler drives.
type statusUpdater interface {
	UpdateDeliveryStatus(ctx context.Context, entryID uuid.UUID, status compliance.DeliveryStatus, failureReason, externalID string) error
}

// rateLimiter throttles callers before any signature work happens.
type rateLimiter interface {
	Allow(ctx context.Context, clientID string) (*ratelimit.Result, error)
}

// Recorder counts webhook outcomes for observability. May be nil.
type Recorder interface {
	WebhookRequest(outcome string)
}

// dedupeStore remembers provider event ids so replayed callbacks are
// acknowledged without touching the workflow.
type dedupeStore interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// statusEvent is the provider callback payload.
type statusEvent struct {
	EventID           string `json:"event_id"`
	MessageID         string `json:"message_id"`
	Status            string `json:"status"` // sent, delivered, failed
	FailureReason     string `json:"failure_reason,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Timestamp         string `json:"timestamp,omitempty"`
}

// Handler processes delivery-status callbacks.
type Handler struct {
	secret    string
	tolerance time.Duration
	engine    statusUpdater
	limiter   rateLimiter
	recorder  Recorder
	processed dedupeStore
	logger    *logging.Logger
	now       func() time.Time
}

func NewHandler(secret string, engine statusUpdater, limiter rateLimiter, logger *logging.Logger) *Handler {
	if engine == nil {
		panic("webhook: status updater cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		secret:    secret,
		tolerance: DefaultTolerance,
		engine:    engine,
		limiter:   limiter,
		logger:    logger,
		now:       time.Now,
	}
}

// WithTolerance overrides the signature timestamp window.
func (h *Handler) WithTolerance(d time.Duration) *Handler {
	if d > 0 {
		h.tolerance = d
	}
	return h
}

// WithRecorder wires outcome counting.
func (h *Handler) WithRecorder(r Recorder) *Handler {
	h.recorder = r
	return h
}

// WithDedupeStore wires an event idempotency store. Status updates are
// already idempotent, so the store is an optimization and fails open.
func (h *Handler) WithDedupeStore(store dedupeStore) *Handler {
	h.processed = store
	return h
}

// WithClock overrides the time source for deterministic tests.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	if now != nil {
		h.now = now
	}
	return h
}

func (h *Handler) record(outcome string) {
	if h.recorder != nil {
		h.recorder.WebhookRequest(outcome)
	}
}

// Handle processes one callback. Rate limiting runs before signature
// verification so a flood of garbage cannot buy HMAC work with every
// request.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil {
		res, err := h.limiter.Allow(r.Context(), clientID(r))
		if err == nil && res != nil && !res.Allowed {
			h.record("rate_limited")
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		h.record("bad_request")
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("X-Webhook-Signature")
	if !VerifySignature(h.secret, payload, sigHeader, h.tolerance, h.now()) {
		h.record("bad_signature")
		h.logger.Warn("webhook signature rejected", "remote", clientID(r))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var evt statusEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.record("bad_request")
		h.logger.Error("failed to decode status event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if evt.EventID == "" || evt.MessageID == "" {
		h.record("bad_request")
		http.Error(w, "missing event or message id", http.StatusBadRequest)
		return
	}

	if h.processed != nil {
		seen, err := h.processed.AlreadyProcessed(r.Context(), eventProvider, evt.EventID)
		if err != nil {
			h.logger.Warn("event dedupe check failed", "error", err, "event_id", evt.EventID)
		} else if seen {
			h.record("duplicate")
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	messageID, err := uuid.Parse(evt.MessageID)
	if err != nil {
		h.record("bad_request")
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	var status compliance.DeliveryStatus
	switch evt.Status {
	case "sent":
		status = compliance.StatusSent
	case "delivered":
		status = compliance.StatusDelivered
	case "failed":
		status = compliance.StatusFailed
	default:
		h.record("bad_request")
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}

	err = h.engine.UpdateDeliveryStatus(r.Context(), messageID, status, evt.FailureReason, evt.ProviderMessageID)
	switch {
	case err == nil:
		h.markProcessed(r.Context(), evt.EventID)
		h.record("ok")
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, compliance.ErrEntryNotFound):
		h.record("not_found")
		http.Error(w, "message not found", http.StatusNotFound)
	case errors.Is(err, workflow.ErrInvalidTransition):
		// Out-of-order callback. Acknowledge so the provider stops
		// retrying; the recorded state is already further along.
		h.markProcessed(r.Context(), evt.EventID)
		h.record("out_of_order")
		h.logger.Warn("ignoring out-of-order status event",
			"event_id", evt.EventID, "message_id", evt.MessageID, "status", evt.Status)
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, workflow.ErrValidation):
		h.record("bad_request")
		http.Error(w, "invalid status", http.StatusBadRequest)
	default:
		h.record("error")
		h.logger.Error("status update failed", "error", err, "event_id", evt.EventID)
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

// eventProvider namespaces dedupe keys in the processed-events table.
const eventProvider = "delivery-status"

func (h *Handler) markProcessed(ctx context.Context, eventID string) {
	if h.processed == nil {
		return
	}
	if _, err := h.processed.MarkProcessed(ctx, eventProvider, eventID); err != nil {
		h.logger.Warn("failed to record processed event", "error", err, "event_id", eventID)
	}
}

func clientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
