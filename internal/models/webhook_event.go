package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Webhook event processing states
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusProcessed  = "PROCESSED"
	StatusFailed     = "FAILED"
	StatusIgnored    = "IGNORED"
)

// WebhookEvent is one accepted inbound notification from the marketplace.
// EventID is the sole de-duplication mechanism: it is unique and immutable,
// and a second insert with the same EventID must be rejected as a duplicate.
type WebhookEvent struct {
	ID          uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	EventID     string         `gorm:"uniqueIndex;not null" json:"event_id"`
	EventType   string         `gorm:"not null;default:'unknown'" json:"event_type"`
	ShopID      string         `json:"shop_id"`
	ItemID      string         `json:"item_id"`
	ModelID     string         `json:"model_id"`
	Payload     datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	Status      string         `gorm:"not null;default:'PENDING';index" json:"status"`
	Attempts    int            `gorm:"not null;default:0" json:"attempts"`
	LastError   *string        `json:"last_error"`
	ReceivedAt  time.Time      `gorm:"not null;index" json:"received_at"`
	ProcessedAt *time.Time     `json:"processed_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
