package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vendalog/marketsync/internal/models"
)

// EventStore owns all webhook_events access. Mutation is always via
// conditional updates so multiple worker processes can share one queue;
// the table is the single source of coordination truth.
type EventStore struct {
	db *gorm.DB
}

// NewEventStore creates an event store on the given connection.
func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

// InsertIfAbsent persists a new event. Returns created=false with a nil
// error when an event with the same event_id already exists; uniqueness
// of event_id is the sole de-duplication mechanism.
func (s *EventStore) InsertIfAbsent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	now := time.Now().UTC()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = models.StatusPending
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now
	}
	event.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SelectDue fetches up to batchSize events eligible for processing,
// oldest received first: PENDING rows, and FAILED rows whose backoff has
// elapsed, both below the attempt budget.
func (s *EventStore) SelectDue(ctx context.Context, batchSize, maxAttempts int, failBackoff time.Duration) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	retryBefore := time.Now().UTC().Add(-failBackoff)

	err := s.db.WithContext(ctx).
		Where("attempts < ?", maxAttempts).
		Where(
			s.db.Where("status = ?", models.StatusPending).
				Or("status = ? AND updated_at <= ?", models.StatusFailed, retryBefore),
		).
		Order("received_at ASC").
		Limit(batchSize).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Claim atomically transitions an event from an eligible state to
// PROCESSING, incrementing attempts exactly once. Returns false when
// another worker already claimed the row (zero rows affected).
func (s *EventStore) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ? AND status IN ?", id, []string{models.StatusPending, models.StatusFailed}).
		Updates(map[string]interface{}{
			"status":     models.StatusProcessing,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkTerminal records the outcome of one processing attempt.
func (s *EventStore) MarkTerminal(ctx context.Context, id uuid.UUID, status string, reason *string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	if reason != nil {
		updates["last_error"] = *reason
	}
	if status == models.StatusProcessed || status == models.StatusIgnored {
		updates["processed_at"] = now
	}

	return s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// RequeueStale force-fails rows stuck in PROCESSING longer than the
// processing timeout, so events abandoned by a crashed worker become
// eligible again. Returns the number of rows recovered.
func (s *EventStore) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	res := s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("status = ? AND updated_at < ?", models.StatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     models.StatusFailed,
			"last_error": "stale_processing",
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// Get loads one event by primary key.
func (s *EventStore) Get(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := s.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// List returns a page of events for the admin surface, newest first,
// optionally filtered by status. Fetches one extra row to report hasMore.
func (s *EventStore) List(ctx context.Context, status string, limit, offset int) ([]models.WebhookEvent, bool, error) {
	var events []models.WebhookEvent

	query := s.db.WithContext(ctx).Order("received_at DESC").Limit(limit + 1).Offset(offset)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, false, err
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	return events, hasMore, nil
}

// isDuplicateKey detects unique-constraint violations across the drivers
// used in production (postgres) and tests (sqlite).
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
