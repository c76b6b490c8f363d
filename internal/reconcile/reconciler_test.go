package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vendalog/marketsync/internal/marketplace"
	"github.com/vendalog/marketsync/internal/models"
	"github.com/vendalog/marketsync/internal/store"
)

type fakeAPI struct {
	items  map[string]*marketplace.Item
	models map[string][]marketplace.Model

	itemErr  error
	modelErr error
}

func (f *fakeAPI) GetItem(ctx context.Context, auth marketplace.Auth, itemID string) (*marketplace.Item, error) {
	if f.itemErr != nil {
		return nil, f.itemErr
	}
	item, ok := f.items[itemID]
	if !ok {
		return nil, errors.New("marketplace api get_item failed: status 404: item_not_exist")
	}
	return item, nil
}

func (f *fakeAPI) GetModelList(ctx context.Context, auth marketplace.Auth, itemID string) ([]marketplace.Model, error) {
	if f.modelErr != nil {
		return nil, f.modelErr
	}
	return f.models[itemID], nil
}

func newTestReconciler(t *testing.T, api ItemAPI) (*Reconciler, *store.CatalogStore) {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.CatalogItem{}, &models.CatalogVariation{}))

	catalog := store.NewCatalogStore(db)
	return NewReconciler(api, catalog, "marketplace", zap.NewNop()), catalog
}

func TestReconcileItemWritesCatalog(t *testing.T) {
	api := &fakeAPI{
		items: map[string]*marketplace.Item{
			"777": {ItemID: "777", Name: "Panela", Price: 49.9, Stock: 5, ItemStatus: "NORMAL"},
		},
		models: map[string][]marketplace.Model{
			"777": {
				{ModelID: "m1", Name: "Azul", Price: 10, Stock: 1},
				{ModelID: "m2", Name: "Verde", Price: 12, Stock: 2},
			},
		},
	}
	r, catalog := newTestReconciler(t, api)
	ctx := context.Background()
	auth := marketplace.Auth{AccessToken: "tok", ShopID: "9"}

	require.NoError(t, r.ReconcileItem(ctx, auth, "777"))

	item, err := catalog.GetItem(ctx, "marketplace", "9", "777")
	require.NoError(t, err)
	assert.Equal(t, "Panela", item.Name)
	assert.Equal(t, models.ItemActive, item.Status)
	assert.NotEmpty(t, item.Raw)

	variations, err := catalog.Variations(ctx, "777")
	require.NoError(t, err)
	assert.Len(t, variations, 2)

	// Re-running is idempotent.
	require.NoError(t, r.ReconcileItem(ctx, auth, "777"))
	variations, err = catalog.Variations(ctx, "777")
	require.NoError(t, err)
	assert.Len(t, variations, 2)
}

func TestReconcileItemMapsInactiveStatus(t *testing.T) {
	api := &fakeAPI{
		items: map[string]*marketplace.Item{
			"777": {ItemID: "777", Name: "Panela", ItemStatus: "unlist"},
		},
	}
	r, catalog := newTestReconciler(t, api)
	ctx := context.Background()

	require.NoError(t, r.ReconcileItem(ctx, marketplace.Auth{ShopID: "9"}, "777"))

	item, err := catalog.GetItem(ctx, "marketplace", "9", "777")
	require.NoError(t, err)
	assert.Equal(t, models.ItemInactive, item.Status)
}

func TestReconcileItemToleratesMissingModelList(t *testing.T) {
	api := &fakeAPI{
		items: map[string]*marketplace.Item{
			"777": {ItemID: "777", Name: "Sem variação", ItemStatus: "NORMAL"},
		},
		modelErr: errors.New("marketplace api get_model_list failed: status 404: not found"),
	}
	r, catalog := newTestReconciler(t, api)
	ctx := context.Background()

	require.NoError(t, r.ReconcileItem(ctx, marketplace.Auth{ShopID: "9"}, "777"))

	variations, err := catalog.Variations(ctx, "777")
	require.NoError(t, err)
	assert.Empty(t, variations)
}

func TestReconcileItemPropagatesErrors(t *testing.T) {
	t.Run("item not found", func(t *testing.T) {
		r, _ := newTestReconciler(t, &fakeAPI{})
		err := r.ReconcileItem(context.Background(), marketplace.Auth{ShopID: "9"}, "gone")
		require.Error(t, err)
		assert.True(t, marketplace.IsNotFound(err))
	})

	t.Run("model list server error", func(t *testing.T) {
		api := &fakeAPI{
			items: map[string]*marketplace.Item{
				"777": {ItemID: "777", ItemStatus: "NORMAL"},
			},
			modelErr: errors.New("marketplace api get_model_list failed: status 500: sad"),
		}
		r, _ := newTestReconciler(t, api)
		err := r.ReconcileItem(context.Background(), marketplace.Auth{ShopID: "9"}, "777")
		require.Error(t, err)
		assert.True(t, marketplace.IsRetryable(err))
	})
}

func TestMarkInactive(t *testing.T) {
	api := &fakeAPI{
		items: map[string]*marketplace.Item{
			"777": {ItemID: "777", ItemStatus: "NORMAL"},
		},
	}
	r, catalog := newTestReconciler(t, api)
	ctx := context.Background()
	require.NoError(t, r.ReconcileItem(ctx, marketplace.Auth{ShopID: "9"}, "777"))

	require.NoError(t, r.MarkInactive(ctx, "9", "777"))

	item, err := catalog.GetItem(ctx, "marketplace", "9", "777")
	require.NoError(t, err)
	assert.Equal(t, models.ItemInactive, item.Status)
}
