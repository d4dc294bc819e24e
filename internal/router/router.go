// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"merithub/internal/handlers/api/v1/badges"
	"merithub/internal/handlers/api/v1/health"
	"merithub/internal/middleware"
)

// Dependencies collects everything the router mounts
type Dependencies struct {
	Badges        *badges.Controller
	Health        *health.Controller
	Authenticator *middleware.Authenticator
	Logger        *zap.Logger
}

// New builds the HTTP router
func New(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.StructuredLogger(deps.Logger))
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/health", deps.Health.Routes())

		r.Group(func(r chi.Router) {
			r.Use(deps.Authenticator.Require)
			r.Mount("/badges", deps.Badges.Routes())
		})
	})

	return r
}
