package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/vendalog/marketsync/internal/marketplace"
	"github.com/vendalog/marketsync/internal/models"
	"github.com/vendalog/marketsync/internal/store"
)

// remote statuses that mean the listing is no longer sellable
var inactiveItemStatuses = map[string]bool{
	"DELETED":  true,
	"UNLIST":   true,
	"BANNED":   true,
	"INACTIVE": true,
}

// ItemAPI is the slice of the resilient client the reconciler needs.
type ItemAPI interface {
	GetItem(ctx context.Context, auth marketplace.Auth, itemID string) (*marketplace.Item, error)
	GetModelList(ctx context.Context, auth marketplace.Auth, itemID string) ([]marketplace.Model, error)
}

// Reconciler re-fetches authoritative remote state for an item and
// upserts it into the local catalog. Upserts are keyed and the variation
// set is replaced wholesale, so repeated runs are idempotent.
type Reconciler struct {
	api      ItemAPI
	catalog  *store.CatalogStore
	platform string
	logger   *zap.Logger
}

// NewReconciler creates a reconciler writing rows for the given platform.
func NewReconciler(api ItemAPI, catalog *store.CatalogStore, platform string, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		api:      api,
		catalog:  catalog,
		platform: platform,
		logger:   logger,
	}
}

// ReconcileItem fetches the current item and variation state and writes
// it to the catalog. Not-found errors bubble up unchanged so the caller
// can classify them.
func (r *Reconciler) ReconcileItem(ctx context.Context, auth marketplace.Auth, itemID string) error {
	item, err := r.api.GetItem(ctx, auth, itemID)
	if err != nil {
		return err
	}

	variations, err := r.api.GetModelList(ctx, auth, itemID)
	if err != nil {
		// An item without variations answers 404 here; that is not a
		// reconciliation failure.
		if !marketplace.IsNotFound(err) {
			return err
		}
		variations = nil
	}

	status := models.ItemActive
	if inactiveItemStatuses[strings.ToUpper(item.ItemStatus)] {
		status = models.ItemInactive
	}

	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item %s: %w", itemID, err)
	}

	row := &models.CatalogItem{
		Platform: r.platform,
		ShopID:   auth.ShopID,
		ItemID:   itemID,
		Name:     item.Name,
		Price:    item.Price,
		Stock:    item.Stock,
		Status:   status,
		Raw:      datatypes.JSON(raw),
		SyncedAt: time.Now().UTC(),
	}
	if err := r.catalog.UpsertItem(ctx, row); err != nil {
		return fmt.Errorf("upsert item %s: %w", itemID, err)
	}

	rows := make([]models.CatalogVariation, 0, len(variations))
	for _, v := range variations {
		rows = append(rows, models.CatalogVariation{
			ItemID:  itemID,
			ModelID: v.ModelID,
			Name:    v.Name,
			Price:   v.Price,
			Stock:   v.Stock,
		})
	}
	if err := r.catalog.ReplaceVariations(ctx, itemID, rows); err != nil {
		return fmt.Errorf("replace variations for item %s: %w", itemID, err)
	}

	r.logger.Debug("Item reconciled",
		zap.String("item_id", itemID),
		zap.String("shop_id", auth.ShopID),
		zap.String("status", status),
		zap.Int("variations", len(rows)),
	)
	return nil
}

// MarkInactive flags the local item INATIVO without calling the remote
// API, used for confirmed-deleted signals and 404 responses.
func (r *Reconciler) MarkInactive(ctx context.Context, shopID, itemID string) error {
	return r.catalog.MarkItemInactive(ctx, r.platform, shopID, itemID)
}
