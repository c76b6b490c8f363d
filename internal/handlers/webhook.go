package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/vendalog/marketsync/internal/ingest"
)

// WebhookHandler terminates the inbound webhook HTTP surface. All real
// work happens in the ingest service; this layer only adapts Fiber's
// request shape and maps the result onto a response.
type WebhookHandler struct {
	Ingest *ingest.Service
	Logger *zap.Logger
}

// NewWebhookHandler creates a webhook handler with dependencies
func NewWebhookHandler(ing *ingest.Service, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{Ingest: ing, Logger: logger}
}

// Receive handles POST /webhooks/marketplace. The raw body is captured
// before any parsing because it is the authoritative signing input.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	rawBody := make([]byte, len(c.Body()))
	copy(rawBody, c.Body())

	headers := make(map[string]string)
	for name, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	result := h.Ingest.Handle(c.Context(), ingest.HandleInput{
		Headers:    headers,
		RawBody:    rawBody,
		ParsedBody: rawBody,
		Path:       c.Path(),
		SourceIP:   c.IP(),
	})

	if !result.OK {
		return c.Status(result.Status).JSON(fiber.Map{
			"error": result.Reason,
		})
	}
	if result.Status == fiber.StatusNoContent {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.Status(result.Status).JSON(fiber.Map{
		"event_id":  result.EventID,
		"duplicate": result.Duplicate,
	})
}
