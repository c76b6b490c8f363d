package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/vendalog/marketsync/internal/database"
	"github.com/vendalog/marketsync/internal/notify"
)

// HealthHandler reports dependency health. RabbitMQ is optional, so a
// disabled wake channel reports as such instead of failing the check.
type HealthHandler struct {
	DB     *gorm.DB
	Notify *notify.Conn
}

// NewHealthHandler creates a health handler with dependencies
func NewHealthHandler(db *gorm.DB, nc *notify.Conn) *HealthHandler {
	return &HealthHandler{DB: db, Notify: nc}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthCheck handles the health check endpoint
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	services := make(map[string]string)
	status := "healthy"

	if err := database.HealthCheck(ctx, h.DB); err != nil {
		services["database"] = "unhealthy: " + err.Error()
		status = "unhealthy"
	} else {
		services["database"] = "healthy"
	}

	switch {
	case h.Notify == nil:
		services["rabbitmq"] = "disabled"
	case h.Notify.Healthy():
		services["rabbitmq"] = "healthy"
	default:
		// The worker keeps polling without the wake channel, so a broken
		// broker degrades latency, not availability.
		services["rabbitmq"] = "unhealthy: connection closed"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}

	if status == "unhealthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}

	return c.JSON(response)
}
