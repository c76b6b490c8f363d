package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/vendalog/marketsync/internal/ingest"
	"github.com/vendalog/marketsync/internal/marketplace"
	"github.com/vendalog/marketsync/internal/models"
)

var errNoCredentials = errors.New("no usable marketplace credentials")

// deleteEventPattern marks event types whose items must be inactivated
// locally without calling the remote API.
var deleteEventPattern = regexp.MustCompile(`(?i)delete|remove|unlist|ban`)

// payload status values carrying the same delete signal explicitly
var deleteStatusValues = map[string]bool{
	"DELETED":  true,
	"UNLIST":   true,
	"UNLISTED": true,
	"BANNED":   true,
}

type outcome struct {
	status string
	reason *string
}

// dispatch resolves an event's item list and drives the reconciler.
// Per-item errors are contained so one bad item cannot abort the rest of
// the list; classification decides the terminal status.
func (w *Worker) dispatch(ctx context.Context, auth marketplace.Auth, event *models.WebhookEvent) outcome {
	payload := decodePayload([]byte(event.Payload))

	itemIDs := ingest.CollectItemIDs(payload)
	if event.ItemID != "" && !contains(itemIDs, event.ItemID) {
		itemIDs = append([]string{event.ItemID}, itemIDs...)
	}
	if len(itemIDs) == 0 {
		return ignored("no_item_id")
	}

	shopID := event.ShopID
	if shopID == "" {
		shopID = auth.ShopID
	}

	if isDeleteEvent(event.EventType, payload) {
		return w.inactivateItems(ctx, shopID, itemIDs)
	}

	itemAuth := marketplace.Auth{AccessToken: auth.AccessToken, ShopID: shopID}
	notFound := 0
	var firstErr error

	for _, itemID := range itemIDs {
		err := w.reconciler.ReconcileItem(ctx, itemAuth, itemID)
		if err == nil {
			continue
		}

		switch marketplace.Classify(err) {
		case marketplace.ClassNotFound:
			// The platform confirmed the item is gone; reflect that
			// locally instead of failing the whole event.
			notFound++
			if markErr := w.reconciler.MarkInactive(ctx, shopID, itemID); markErr != nil && firstErr == nil {
				firstErr = markErr
			}
		case marketplace.ClassCredential:
			return failed(fmt.Sprintf("credential rejected: %v", err))
		default:
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	switch {
	case firstErr != nil:
		return failed(firstErr.Error())
	case notFound == len(itemIDs):
		return ignored(fmt.Sprintf("all %d items not found", notFound))
	case notFound > 0:
		return processed(fmt.Sprintf("%d/%d items reconciled, %d not found",
			len(itemIDs)-notFound, len(itemIDs), notFound))
	default:
		return outcome{status: models.StatusProcessed}
	}
}

// inactivateItems handles the delete-like path, which never touches the
// remote API.
func (w *Worker) inactivateItems(ctx context.Context, shopID string, itemIDs []string) outcome {
	var firstErr error
	for _, itemID := range itemIDs {
		if err := w.reconciler.MarkInactive(ctx, shopID, itemID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return failed(firstErr.Error())
	}
	return processed(fmt.Sprintf("%d items marked inactive", len(itemIDs)))
}

// isDeleteEvent detects delete-like signals from the event type or an
// explicit payload status field.
func isDeleteEvent(eventType string, payload map[string]interface{}) bool {
	if deleteEventPattern.MatchString(eventType) {
		return true
	}
	if status, ok := payload["status"].(string); ok {
		return deleteStatusValues[strings.ToUpper(status)]
	}
	return false
}

func decodePayload(raw []byte) map[string]interface{} {
	payload := map[string]interface{}{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}
	return payload
}

func processed(reason string) outcome {
	return outcome{status: models.StatusProcessed, reason: &reason}
}

func ignored(reason string) outcome {
	return outcome{status: models.StatusIgnored, reason: &reason}
}

func failed(reason string) outcome {
	const maxReasonLen = 500
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}
	return outcome{status: models.StatusFailed, reason: &reason}
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
