package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vendalog/marketsync/internal/models"
)

// CatalogStore persists reconciled marketplace state. Upserts are keyed,
// never blind inserts, so at-least-once delivery from the worker stays
// idempotent.
type CatalogStore struct {
	db *gorm.DB
}

// NewCatalogStore creates a catalog store on the given connection.
func NewCatalogStore(db *gorm.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// UpsertItem inserts or updates a catalog item keyed by
// (platform, shop_id, item_id).
func (s *CatalogStore) UpsertItem(ctx context.Context, item *models.CatalogItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.SyncedAt.IsZero() {
		item.SyncedAt = time.Now().UTC()
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "platform"}, {Name: "shop_id"}, {Name: "item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "price", "stock", "status", "raw", "synced_at",
		}),
	}).Create(item).Error
}

// ReplaceVariations swaps the full variation set of an item in one
// transaction; stale variations are removed, never merged.
func (s *CatalogStore) ReplaceVariations(ctx context.Context, itemID string, variations []models.CatalogVariation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("item_id = ?", itemID).Delete(&models.CatalogVariation{}).Error; err != nil {
			return err
		}
		if len(variations) == 0 {
			return nil
		}
		for i := range variations {
			if variations[i].ID == uuid.Nil {
				variations[i].ID = uuid.New()
			}
			variations[i].ItemID = itemID
		}
		return tx.Create(&variations).Error
	})
}

// MarkItemInactive flags an item as INATIVO, typically after a confirmed
// deletion signal or a 404 from the platform. A missing local row is not
// an error.
func (s *CatalogStore) MarkItemInactive(ctx context.Context, platform, shopID, itemID string) error {
	return s.db.WithContext(ctx).
		Model(&models.CatalogItem{}).
		Where("platform = ? AND shop_id = ? AND item_id = ?", platform, shopID, itemID).
		Updates(map[string]interface{}{
			"status":    models.ItemInactive,
			"synced_at": time.Now().UTC(),
		}).Error
}

// GetItem loads one catalog item by its natural key.
func (s *CatalogStore) GetItem(ctx context.Context, platform, shopID, itemID string) (*models.CatalogItem, error) {
	var item models.CatalogItem
	err := s.db.WithContext(ctx).
		First(&item, "platform = ? AND shop_id = ? AND item_id = ?", platform, shopID, itemID).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Variations loads the current variation set of an item.
func (s *CatalogStore) Variations(ctx context.Context, itemID string) ([]models.CatalogVariation, error) {
	var variations []models.CatalogVariation
	err := s.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("model_id ASC").
		Find(&variations).Error
	if err != nil {
		return nil, err
	}
	return variations, nil
}
