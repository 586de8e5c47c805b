package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"pillpal/internal/services"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck checks one backing store
type HealthCheck func(ctx context.Context) error

// HealthHandler handles health check requests
type HealthHandler struct {
	connManager *services.ConnectionManager
	doses       DoseService
	checks      map[string]HealthCheck
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(connManager *services.ConnectionManager, doses DoseService, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{connManager: connManager, doses: doses, checks: checks}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	dependencies := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			dependencies[name] = err.Error()
			status = "degraded"
			continue
		}
		dependencies[name] = "ok"
	}

	code := fiber.StatusOK
	if status != "healthy" {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":       status,
		"connections":  h.connManager.Count(),
		"open_doses":   h.doses.OpenCount(),
		"triggers":     h.doses.TriggerCount(),
		"dependencies": dependencies,
		"timestamp":    time.Now().Format(time.RFC3339),
	})
}
