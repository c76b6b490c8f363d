package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vendalog/marketsync/internal/ingest"
	"github.com/vendalog/marketsync/internal/metrics"
	"github.com/vendalog/marketsync/internal/models"
	"github.com/vendalog/marketsync/internal/signature"
	"github.com/vendalog/marketsync/internal/store"
)

type apiFixture struct {
	app      *fiber.App
	events   *store.EventStore
	registry *metrics.Registry
	db       *gorm.DB
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.WebhookEvent{}))

	events := store.NewEventStore(db)
	registry := metrics.NewRegistry()
	verifier := signature.NewVerifier(signature.Config{AllowUnsigned: true})
	ingestSvc := ingest.NewService(verifier, events, registry, nil, ingest.Options{}, zap.NewNop())

	app := fiber.New()
	app.Post("/webhooks/marketplace", NewWebhookHandler(ingestSvc, zap.NewNop()).Receive)
	app.Get("/api/v1/events", NewEventsHandler(events, zap.NewNop()).GetEvents)
	app.Get("/api/v1/metrics", NewMetricsHandler(registry).GetMetrics)
	app.Get("/health", NewHealthHandler(db, nil).HealthCheck)

	return &apiFixture{app: app, events: events, registry: registry, db: db}
}

func TestWebhookEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	body := `{"event_type":"item_update","item_id":777,"msg_id":"m-1"}`

	req := httptest.NewRequest("POST", "/webhooks/marketplace", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var decoded struct {
		EventID   string `json:"event_id"`
		Duplicate bool   `json:"duplicate"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, "m-1", decoded.EventID)
	assert.False(t, decoded.Duplicate)

	// Replay: same msg_id answers 200 with duplicate=true, stores once.
	req = httptest.NewRequest("POST", "/webhooks/marketplace", bytes.NewBufferString(body))
	resp, err = f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.True(t, decoded.Duplicate)

	var count int64
	require.NoError(t, f.db.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEventsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest("POST", "/webhooks/marketplace",
		bytes.NewBufferString(`{"event_type":"item_update","item_id":777,"msg_id":"m-1"}`))
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	resp, err = f.app.Test(httptest.NewRequest("GET", "/api/v1/events", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var decoded EventsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	require.Len(t, decoded.Events, 1)
	assert.Equal(t, "m-1", decoded.Events[0].EventID)
	assert.Equal(t, models.StatusPending, decoded.Events[0].Status)
	assert.False(t, decoded.HasMore)

	// Status filter validation.
	resp, err = f.app.Test(httptest.NewRequest("GET", "/api/v1/events?status=BOGUS", nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)

	resp, err = f.app.Test(httptest.NewRequest("GET", "/api/v1/events?limit=-1", nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.registry.IncReceived("item_update")

	resp, err := f.app.Test(httptest.NewRequest("GET", "/api/v1/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var decoded metrics.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, int64(1), decoded.Received["item_update"])
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := f.app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var decoded HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, "healthy", decoded.Status)
	assert.Equal(t, "healthy", decoded.Services["database"])
	assert.Equal(t, "disabled", decoded.Services["rabbitmq"])
}
