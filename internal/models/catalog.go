package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Catalog item statuses
const (
	ItemActive   = "ATIVO"
	ItemInactive = "INATIVO"
)

// CatalogItem is the local copy of a marketplace listing, keyed by
// (platform, shop_id, item_id). The reconciler is the sole writer.
type CatalogItem struct {
	ID       uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	Platform string         `gorm:"not null;uniqueIndex:idx_catalog_item_key" json:"platform"`
	ShopID   string         `gorm:"not null;uniqueIndex:idx_catalog_item_key" json:"shop_id"`
	ItemID   string         `gorm:"not null;uniqueIndex:idx_catalog_item_key" json:"item_id"`
	Name     string         `json:"name"`
	Price    float64        `json:"price"`
	Stock    int            `json:"stock"`
	Status   string         `gorm:"not null;default:'ATIVO'" json:"status"`
	Raw      datatypes.JSON `gorm:"type:jsonb" json:"raw"`
	SyncedAt time.Time      `gorm:"not null" json:"synced_at"`
}

func (CatalogItem) TableName() string {
	return "catalog_items"
}

// CatalogVariation is one sellable variation of a catalog item, keyed by
// (item_id, model_id). The variation set for an item is fully replaced on
// each successful reconciliation.
type CatalogVariation struct {
	ID      uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	ItemID  string    `gorm:"not null;uniqueIndex:idx_catalog_variation_key" json:"item_id"`
	ModelID string    `gorm:"not null;uniqueIndex:idx_catalog_variation_key" json:"model_id"`
	Name    string    `json:"name"`
	Price   float64   `json:"price"`
	Stock   int       `json:"stock"`
}

func (CatalogVariation) TableName() string {
	return "catalog_variations"
}
