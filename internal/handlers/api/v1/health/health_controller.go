// internal/handlers/api/v1/health/health_controller.go
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"merithub/internal/breaker"
	"merithub/internal/response"
)

// Checker reports the health of one dependency
type Checker interface {
	Health(ctx context.Context) error
}

// Controller exposes operational health endpoints
type Controller struct {
	checkers map[string]Checker
	breakers *breaker.Manager
	logger   *zap.Logger
}

// NewController creates the health controller
func NewController(checkers map[string]Checker, breakers *breaker.Manager, logger *zap.Logger) *Controller {
	return &Controller{checkers: checkers, breakers: breakers, logger: logger}
}

// Routes mounts the health endpoints
func (c *Controller) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", c.Health)
	r.Get("/breakers", c.Breakers)
	return r
}

// Health reports overall service and dependency health
func (c *Controller) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(c.checkers))
	for name, checker := range c.checkers {
		if err := checker.Health(ctx); err != nil {
			c.logger.Warn("Dependency health check failed",
				zap.String("dependency", name),
				zap.Error(err),
			)
			deps[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "healthy"
	}

	response.WriteJSON(w, r, status, map[string]interface{}{
		"status":       statusWord(status),
		"dependencies": deps,
	})
}

// Breakers enumerates every circuit breaker's state and counters
func (c *Controller) Breakers(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, r, http.StatusOK, c.breakers.Health())
}

func statusWord(status int) string {
	if status == http.StatusOK {
		return "healthy"
	}
	return "degraded"
}
