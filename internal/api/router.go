/**
 * @description
 * HTTP router setup for the satellite-service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the satellite-service routes.
// webhookLimit wraps the public Veriff webhook; it may be nil.
func NewRouter(h *Handler, webhook http.Handler, webhookLimit func(http.Handler) http.Handler, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Internal-API-Key", "X-Actor", "X-HMAC-SIGNATURE", "X-AUTH-CLIENT"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Satellite service is healthy"))
	})

	r.Get("/email/activate/{token}", h.handleActivateEmail)

	r.Group(func(r chi.Router) {
		if webhookLimit != nil {
			r.Use(webhookLimit)
		}
		r.Method(http.MethodPost, "/webhooks/veriff", webhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Use(ActorMiddleware)

		r.Get("/accounts/{kind}/{id}", h.handleGetAccount)

		r.Post("/clients", h.handleCreateClient)
		r.Route("/clients/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetClient)
			r.Patch("/", h.handleUpdateClient)
			r.Delete("/", h.handleDeleteClient)
			r.Get("/satellites", h.handleListClientSatellites)
			r.Get("/history", h.handleListHistory)
		})

		r.Post("/satellites", h.handleCreateSatellite)
		r.Route("/satellites/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetSatellite)
			r.Patch("/", h.handleUpdateSatellite)
			r.Get("/verification-status", h.handleVerificationStatus)
			r.Post("/verification/session", h.handleStartVerificationSession)
			r.Post("/email-verification", h.handleRequestEmailVerification)
		})

		r.Route("/internal", func(r chi.Router) {
			r.Post("/sync/run", h.handleRunSync)
			r.Post("/sync/reset", h.handleResetSync)
			r.Post("/migrations/run", h.handleRunMigrations)
		})
	})

	return r
}
