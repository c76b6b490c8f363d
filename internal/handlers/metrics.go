package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vendalog/marketsync/internal/metrics"
)

// MetricsHandler exposes the in-process counters as JSON.
type MetricsHandler struct {
	Registry *metrics.Registry
}

// NewMetricsHandler creates a metrics handler with dependencies
func NewMetricsHandler(reg *metrics.Registry) *MetricsHandler {
	return &MetricsHandler{Registry: reg}
}

// GetMetrics handles GET /api/v1/metrics
func (h *MetricsHandler) GetMetrics(c *fiber.Ctx) error {
	return c.JSON(h.Registry.Snapshot())
}
