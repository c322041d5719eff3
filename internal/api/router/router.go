package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/clinicflow/appointment-engine/internal/api"
	"github.com/clinicflow/appointment-engine/internal/api/middleware"
	"github.com/clinicflow/appointment-engine/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	Handler        *api.Handler
	ChatHandler    *api.ChatHandler
	MetricsHandler http.Handler
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(middleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", cfg.Handler.HealthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1/sessions/{sessionID}", func(r chi.Router) {
		r.Post("/turns", cfg.Handler.HandleTurn)
		r.Get("/", cfg.Handler.GetSession)
		r.Delete("/", cfg.Handler.CloseSession)
	})

	if cfg.ChatHandler != nil {
		r.Get("/chat", cfg.ChatHandler.ServeHTTP)
	}

	return r
}
