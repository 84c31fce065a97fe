/**
 * @description
 * This file sets up the HTTP router for the ussd-service: the public gateway callback,
 * the internal routes other services call, and the CORS-enabled operator routes.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for the operator dashboard.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the credentials and origins the route groups need.
type RouterConfig struct {
	InternalAPIKey string
	AdminJWTSecret string
	AdminOrigins   []string
}

// NewRouter creates the service router.
func NewRouter(h *USSDHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Post("/ussd", h.USSDCallbackHandler)

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/deposits", h.CreateDepositHandler)
		r.Post("/sessions/sweep", h.SweepSessionsHandler)
	})

	origins := cfg.AdminOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(AdminAuthMiddleware(cfg.AdminJWTSecret))
		r.Get("/accounts/{phone}", h.GetAccountHandler)
		r.Get("/accounts/{phone}/transactions", h.ListTransactionsHandler)
	})

	return r
}
