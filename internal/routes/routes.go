package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vendalog/marketsync/internal/handlers"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(app *fiber.App, webhook *handlers.WebhookHandler, events *handlers.EventsHandler, metricsHandler *handlers.MetricsHandler, health *handlers.HealthHandler) {
	// Health check endpoint
	app.Get("/health", health.HealthCheck)

	// Inbound webhook endpoint
	app.Post("/webhooks/marketplace", webhook.Receive)

	// API v1 routes
	api := app.Group("/api/v1")
	{
		api.Get("/events", events.GetEvents)
		api.Get("/metrics", metricsHandler.GetMetrics)
	}
}
