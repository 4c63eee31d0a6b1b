// Package router wires the HTTP surface: workflow endpoints, the
// delivery-status webhook, health and metrics.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/patient-comms-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/patient-comms-platform/internal/http/middleware"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	Messages           *handlers.MessagesHandler
	Exports            *handlers.ExportsHandler
	DeliveryWebhook    http.HandlerFunc
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// APIRatePerSecond throttles the authenticated API per actor (client
	// IP for anonymous callers). Zero disables the in-process limiter.
	// The webhook carries its own Redis-backed limiter.
	APIRatePerSecond float64
	APIBurst         int
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.DeliveryWebhook != nil {
		r.Post("/webhooks/delivery-status", cfg.DeliveryWebhook)
	}

	r.Route("/api", func(api chi.Router) {
		if cfg.APIRatePerSecond > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.APIRatePerSecond, cfg.APIBurst))
		}
		if cfg.Messages != nil {
			api.Route("/messages", func(msg chi.Router) {
				msg.Post("/", cfg.Messages.Submit)
				msg.Get("/", cfg.Messages.List)
				msg.Post("/send", cfg.Messages.SendDirect)
				msg.Route("/{entryID}", func(one chi.Router) {
					one.Get("/", cfg.Messages.Get)
					one.Post("/review", cfg.Messages.Review)
				})
			})
		}
		if cfg.Exports != nil {
			api.Post("/exports", cfg.Exports.Create)
		}
	})

	return r
}
