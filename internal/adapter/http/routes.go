package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/ForgeTrack/internal/middleware"
	"github.com/Strob0t/ForgeTrack/internal/port/cache"
)

// RouteConfig carries the middleware dependencies of MountRoutes.
type RouteConfig struct {
	Connections    middleware.ConnectionLookup
	Verifier       *middleware.SignatureVerifier
	MaxWebhookBody int64
	WebhookLimiter *middleware.RateLimiter // optional

	AuthEnabled bool
	APIKeys     map[string]string // SHA-256 hex digest -> client name

	Idempotency    cache.Cache // optional
	IdempotencyTTL time.Duration

	WS http.HandlerFunc // optional
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, rc RouteConfig) {
	r.Get("/health", h.HandleHealth)

	// Webhooks authenticate by per-connection signature, not API key.
	r.Group(func(r chi.Router) {
		if rc.WebhookLimiter != nil {
			r.Use(rc.WebhookLimiter.Handler)
		}
		r.Use(middleware.WebhookAuth(rc.Connections, rc.Verifier, rc.MaxWebhookBody))
		r.Post("/api/v1/webhooks/{service}/{connectionID}", h.HandleWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(rc.APIKeys, rc.AuthEnabled))

		if rc.WS != nil {
			r.Get("/ws", rc.WS)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if rc.Idempotency != nil {
				r.Use(middleware.Idempotency(rc.Idempotency, rc.IdempotencyTTL))
			}

			// Sync
			r.Post("/connections/{connectionID}/sync", h.StartSync)
			r.Get("/sync/{operationID}", h.GetSync)
			r.Delete("/sync/{operationID}", h.CancelSync)

			// Projects
			if h.Directory != nil {
				r.Get("/projects", h.listProjects())
				r.Post("/projects", h.createProject())
				r.Get("/projects/{projectID}", h.getProject())
				r.Get("/projects/{projectID}/connections", h.listConnections())
			}
		})
	})
}
