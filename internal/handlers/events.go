package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/vendalog/marketsync/internal/models"
	"github.com/vendalog/marketsync/internal/store"
)

// EventsHandler serves the read-only admin view over stored webhook
// events.
type EventsHandler struct {
	Events *store.EventStore
	Logger *zap.Logger
}

// NewEventsHandler creates a new events handler with dependencies
func NewEventsHandler(events *store.EventStore, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		Events: events,
		Logger: logger,
	}
}

// EventsResponse represents the response structure for GET /events
type EventsResponse struct {
	Events  []EventDTO `json:"events"`
	HasMore bool       `json:"has_more"`
}

// EventDTO represents a single webhook event in the response
type EventDTO struct {
	ID          string  `json:"id"`
	EventID     string  `json:"event_id"`
	EventType   string  `json:"event_type"`
	ShopID      string  `json:"shop_id,omitempty"`
	ItemID      string  `json:"item_id,omitempty"`
	Status      string  `json:"status"`
	Attempts    int     `json:"attempts"`
	LastError   *string `json:"last_error,omitempty"`
	ReceivedAt  string  `json:"received_at"`
	ProcessedAt *string `json:"processed_at,omitempty"`
}

var validStatuses = map[string]bool{
	models.StatusPending:    true,
	models.StatusProcessing: true,
	models.StatusProcessed:  true,
	models.StatusFailed:     true,
	models.StatusIgnored:    true,
}

// GetEvents handles GET /api/v1/events
// Query parameters:
//   - status (optional): filter by lifecycle status
//   - limit (optional, default 25): Number of events to return
//   - offset (optional, default 0): Number of events to skip
func (h *EventsHandler) GetEvents(c *fiber.Ctx) error {
	status := c.Query("status")
	if status != "" && !validStatuses[status] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown status filter",
		})
	}

	limit := 25
	if limitStr := c.Query("limit"); limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = parsedLimit
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsedOffset, err := strconv.Atoi(offsetStr)
		if err != nil || parsedOffset < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "offset must be a non-negative integer",
			})
		}
		offset = parsedOffset
	}

	events, hasMore, err := h.Events.List(c.Context(), status, limit, offset)
	if err != nil {
		h.Logger.Error("Failed to query webhook events",
			zap.String("status", status),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch events",
		})
	}

	eventDTOs := make([]EventDTO, 0, len(events))
	for _, event := range events {
		dto := EventDTO{
			ID:         event.ID.String(),
			EventID:    event.EventID,
			EventType:  event.EventType,
			ShopID:     event.ShopID,
			ItemID:     event.ItemID,
			Status:     event.Status,
			Attempts:   event.Attempts,
			LastError:  event.LastError,
			ReceivedAt: event.ReceivedAt.UTC().Format(time.RFC3339),
		}
		if event.ProcessedAt != nil {
			formatted := event.ProcessedAt.UTC().Format(time.RFC3339)
			dto.ProcessedAt = &formatted
		}
		eventDTOs = append(eventDTOs, dto)
	}

	return c.JSON(EventsResponse{
		Events:  eventDTOs,
		HasMore: hasMore,
	})
}
