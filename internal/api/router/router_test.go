package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wolfman30/patient-comms-platform/internal/http/handlers"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

type nopProducer struct{}

func (nopProducer) Enqueue(context.Context, queue.Job, queue.EnqueueOptions) error { return nil }

func TestHealthz(t *testing.T) {
	h := New(&Config{Logger: logging.New("error")})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestWebhookRouteMounted(t *testing.T) {
	var hit bool
	h := New(&Config{
		DeliveryWebhook: func(w http.ResponseWriter, _ *http.Request) {
			hit = true
			w.WriteHeader(http.StatusOK)
		},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/delivery-status", nil))

	if !hit {
		t.Fatal("webhook handler not reached")
	}
}

func TestAPIRoutesRequireIdentity(t *testing.T) {
	h := New(&Config{
		Exports: handlers.NewExportsHandler(nopProducer{}, logging.New("error")),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/exports", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	h := New(&Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
