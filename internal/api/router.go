// Package api is the HTTP surface: chi router, middleware and handlers.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kailera/acertaia-api/internal/config"
	"github.com/kailera/acertaia-api/internal/healthcheck"
	"github.com/kailera/acertaia-api/internal/model"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg *config.Config, h *Handler, health *healthcheck.Checker) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestContext)
	r.Use(AccessLog)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "apikey"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/ready", health.HandleReady)
	}
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	auth := NewAuthenticator(cfg.Auth.JWTSecret)
	limited := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimit.Enabled {
		limited = NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst).Middleware
	}

	r.Route("/api", func(r chi.Router) {
		// Public routes, rate limited per client
		r.Group(func(r chi.Router) {
			r.Use(limited)
			r.Use(chimw.Timeout(cfg.Agent.Timeout + 5*time.Second))

			r.Post("/chat", h.Chat)
			r.Post("/wa/webhook", h.Webhook)
			r.Post("/message-upsert", h.Webhook)

			r.Post("/secretary/chat", h.RoleChat(model.AgentTypeSecretary))
			r.Post("/financeiro/chat", h.RoleChat(model.AgentTypeFinance))
			r.Post("/sdr", h.RoleChat(model.AgentTypeSDR))
			r.Post("/logistica/chat", h.RoleChat(model.AgentTypeLogistics))
		})

		r.With(auth.OptionalAuth).Get("/wa/instances/{instance}/verify", h.VerifyInstance)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)

			r.Get("/conversations/{conversationId}/agent", h.GetBinding)
			r.Put("/conversations/{conversationId}/agent", h.Rebind)
			r.Delete("/conversations/{conversationId}/agent", h.Unbind)

			r.Get("/wa/instances/{instance}/chats", h.ListChats)
			r.Get("/wa/instances/{instance}/messages", h.ListMessages)
			r.Get("/wa/instances/{instance}/contact", h.Contact)
			r.Post("/wa/instances/{instance}/send", h.SendText)
		})
	})

	return r
}
