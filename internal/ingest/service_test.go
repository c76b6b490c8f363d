package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vendalog/marketsync/internal/metrics"
	"github.com/vendalog/marketsync/internal/models"
	"github.com/vendalog/marketsync/internal/signature"
	"github.com/vendalog/marketsync/internal/store"
)

type recordingNotifier struct {
	eventIDs []string
	err      error
}

func (n *recordingNotifier) EventAccepted(ctx context.Context, eventID string) error {
	n.eventIDs = append(n.eventIDs, eventID)
	return n.err
}

type ingestFixture struct {
	svc      *Service
	verifier *signature.Verifier
	events   *store.EventStore
	registry *metrics.Registry
	notifier *recordingNotifier
	db       *gorm.DB
}

func newIngestFixture(t *testing.T, cfg signature.Config, opts Options) *ingestFixture {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.WebhookEvent{}))

	verifier := signature.NewVerifier(cfg)
	events := store.NewEventStore(db)
	registry := metrics.NewRegistry()
	notifier := &recordingNotifier{}

	return &ingestFixture{
		svc:      NewService(verifier, events, registry, notifier, opts, zap.NewNop()),
		verifier: verifier,
		events:   events,
		registry: registry,
		notifier: notifier,
		db:       db,
	}
}

func signedInput(t *testing.T, verifier *signature.Verifier, body string) HandleInput {
	t.Helper()
	sig, err := verifier.Sign([]byte(body), "/webhooks/marketplace", 0, "", nil)
	require.NoError(t, err)
	return HandleInput{
		Headers:    map[string]string{"Authorization": sig},
		RawBody:    []byte(body),
		ParsedBody: []byte(body),
		Path:       "/webhooks/marketplace",
		SourceIP:   "203.0.113.7",
	}
}

func TestHandleAcceptsAndStoresEvent(t *testing.T) {
	f := newIngestFixture(t, signature.Config{Secret: "s3cret", Mode: signature.StrategyBody}, Options{})
	body := `{"event_type":"item_update","shop_id":9,"item_id":777,"msg_id":"m-1"}`

	result := f.svc.Handle(context.Background(), signedInput(t, f.verifier, body))

	assert.True(t, result.OK)
	assert.Equal(t, 200, result.Status)
	assert.Equal(t, "m-1", result.EventID)
	assert.False(t, result.Duplicate)

	stored, hasMore, err := f.events.List(context.Background(), "", 10, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.False(t, hasMore)
	assert.Equal(t, "item_update", stored[0].EventType)
	assert.Equal(t, "9", stored[0].ShopID)
	assert.Equal(t, "777", stored[0].ItemID)
	assert.Equal(t, models.StatusPending, stored[0].Status)
	assert.JSONEq(t, body, string(stored[0].Payload))

	assert.Equal(t, []string{"m-1"}, f.notifier.eventIDs)
	assert.Equal(t, int64(1), f.registry.Snapshot().Received["item_update"])
}

func TestHandleDeduplicates(t *testing.T) {
	f := newIngestFixture(t, signature.Config{Secret: "s3cret", Mode: signature.StrategyBody}, Options{})
	body := `{"event_type":"item_update","item_id":777,"msg_id":"m-1"}`
	in := signedInput(t, f.verifier, body)

	first := f.svc.Handle(context.Background(), in)
	second := f.svc.Handle(context.Background(), in)

	assert.True(t, first.OK)
	assert.False(t, first.Duplicate)
	assert.True(t, second.OK)
	assert.Equal(t, 200, second.Status)
	assert.True(t, second.Duplicate)

	var count int64
	require.NoError(t, f.db.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// The notifier fires only for freshly created events.
	assert.Len(t, f.notifier.eventIDs, 1)
}

func TestHandleRejectsBadSignature(t *testing.T) {
	f := newIngestFixture(t, signature.Config{Secret: "s3cret", Mode: signature.StrategyBody}, Options{})

	result := f.svc.Handle(context.Background(), HandleInput{
		Headers:  map[string]string{"Authorization": "wrong"},
		RawBody:  []byte(`{"item_id":1}`),
		Path:     "/webhooks/marketplace",
		SourceIP: "203.0.113.7",
	})

	assert.False(t, result.OK)
	assert.Equal(t, 401, result.Status)
	assert.Equal(t, signature.ReasonSignatureMismatch, result.Reason)

	var count int64
	require.NoError(t, f.db.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.Zero(t, count, "rejected requests must not be persisted")
}

func TestHandleBypass(t *testing.T) {
	opts := Options{BypassEnabled: true, BypassIPs: []string{"10.0.0.5"}}

	t.Run("missing signature from allowlisted ip", func(t *testing.T) {
		f := newIngestFixture(t, signature.Config{Secret: "s3cret", Mode: signature.StrategyBody}, opts)

		result := f.svc.Handle(context.Background(), HandleInput{
			RawBody:    []byte(`{"event_type":"item_update","item_id":1}`),
			ParsedBody: []byte(`{"event_type":"item_update","item_id":1}`),
			Path:       "/webhooks/marketplace",
			SourceIP:   "10.0.0.5",
		})

		assert.True(t, result.OK)
		assert.Equal(t, 204, result.Status, "bypassed requests answer 204, not 200")

		var count int64
		require.NoError(t, f.db.Model(&models.WebhookEvent{}).Count(&count).Error)
		assert.Equal(t, int64(1), count, "bypassed events are still stored")
	})

	t.Run("missing signature from unknown ip", func(t *testing.T) {
		f := newIngestFixture(t, signature.Config{Secret: "s3cret", Mode: signature.StrategyBody}, opts)

		result := f.svc.Handle(context.Background(), HandleInput{
			RawBody:  []byte(`{"item_id":1}`),
			Path:     "/webhooks/marketplace",
			SourceIP: "198.51.100.1",
		})

		assert.False(t, result.OK)
		assert.Equal(t, 401, result.Status)
	})

	t.Run("mismatch never bypasses", func(t *testing.T) {
		f := newIngestFixture(t, signature.Config{Secret: "s3cret", Mode: signature.StrategyBody}, opts)

		result := f.svc.Handle(context.Background(), HandleInput{
			Headers:  map[string]string{"Authorization": "wrong"},
			RawBody:  []byte(`{"item_id":1}`),
			Path:     "/webhooks/marketplace",
			SourceIP: "10.0.0.5",
		})

		assert.False(t, result.OK)
		assert.Equal(t, 401, result.Status)
		assert.Equal(t, signature.ReasonSignatureMismatch, result.Reason)
	})
}

func TestHandleDerivesEventIDWhenAbsent(t *testing.T) {
	f := newIngestFixture(t, signature.Config{Secret: "s3cret", Mode: signature.StrategyBody}, Options{})
	body := `{"event_type":"item_update","item_id":777}`

	result := f.svc.Handle(context.Background(), signedInput(t, f.verifier, body))
	require.True(t, result.OK)
	assert.Len(t, result.EventID, 64, "content-hash ids are sha256 hex")

	// The same body derives the same id, so replays deduplicate.
	replay := f.svc.Handle(context.Background(), signedInput(t, f.verifier, body))
	assert.True(t, replay.Duplicate)
}

func TestHandleNotifierFailureIsNotFatal(t *testing.T) {
	f := newIngestFixture(t, signature.Config{Secret: "s3cret", Mode: signature.StrategyBody}, Options{})
	f.notifier.err = fmt.Errorf("broker down")

	result := f.svc.Handle(context.Background(), signedInput(t, f.verifier, `{"event_type":"x","msg_id":"m-9"}`))

	assert.True(t, result.OK)
	assert.Equal(t, 200, result.Status)
}
