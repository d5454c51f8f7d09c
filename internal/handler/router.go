package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"fleetnotify/internal/mw"
)

// NewRouter serves health and metrics publicly and the status API behind
// bearer token auth.
func NewRouter(status StatusSource, metrics http.Handler, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", HealthHandler())
	r.Method(http.MethodGet, "/metrics", metrics)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
		r.Use(mw.AuthMiddleware(jwtSecret))

		r.Get("/status", StatusHandler(status))
	})

	return r
}
