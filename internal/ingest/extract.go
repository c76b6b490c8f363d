package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Bounds for the recursive payload scan, defensive against deeply nested
// or adversarially large documents.
const (
	maxScanDepth = 6
	maxScanNodes = 1000
)

var (
	eventTypeKeys = []string{"event_type", "event", "type", "notification_type"}
	shopIDKeys    = []string{"shop_id", "shopid"}
	itemIDKeys    = []string{"item_id", "itemid", "item_id_list"}
	modelIDKeys   = []string{"model_id", "modelid", "model_id_list"}

	eventIDHeaderKeys  = []string{"X-Event-Id", "X-Webhook-Id", "X-Request-Id"}
	eventIDPayloadKeys = []string{"event_id", "msg_id", "message_id"}
)

// ExtractEventType returns the first known event-type key present, with
// the platform-defined "unknown" fallback.
func ExtractEventType(payload map[string]interface{}) string {
	if v := firstString(payload, eventTypeKeys); v != "" {
		return v
	}
	return "unknown"
}

// ExtractShopID returns the shop identifier when the payload carries one.
func ExtractShopID(payload map[string]interface{}) string {
	return firstString(payload, shopIDKeys)
}

// CollectItemIDs walks the payload tree gathering item identifiers.
func CollectItemIDs(payload map[string]interface{}) []string {
	return collectIDs(payload, itemIDKeys)
}

// CollectModelIDs walks the payload tree gathering model identifiers.
func CollectModelIDs(payload map[string]interface{}) []string {
	return collectIDs(payload, modelIDKeys)
}

// deriveEventID resolves the event identity: a platform-supplied id from
// headers or payload when available, otherwise a content hash over the
// raw body plus the identity fields.
func deriveEventID(headers map[string]string, payload map[string]interface{}, rawBody []byte, eventType, shopID string, timestampSec int64, nonce string) string {
	for _, candidate := range eventIDHeaderKeys {
		for name, value := range headers {
			if strings.EqualFold(name, candidate) && value != "" {
				return value
			}
		}
	}
	if v := firstString(payload, eventIDPayloadKeys); v != "" {
		return v
	}

	h := sha256.New()
	h.Write(rawBody)
	fmt.Fprintf(h, "|%d|%s|%s|%s", timestampSec, nonce, eventType, shopID)
	return hex.EncodeToString(h.Sum(nil))
}

// collectIDs scans the tree up to the depth and node budgets, collecting
// values under the given key names. Values may be scalars or lists of
// scalars; duplicates are dropped, order of first appearance kept.
func collectIDs(payload map[string]interface{}, keys []string) []string {
	walker := &idWalker{keys: keys, seen: make(map[string]bool)}
	walker.walk(payload, 0)
	return walker.found
}

type idWalker struct {
	keys  []string
	seen  map[string]bool
	found []string
	nodes int
}

func (w *idWalker) walk(node interface{}, depth int) {
	if depth > maxScanDepth || w.nodes >= maxScanNodes {
		return
	}
	w.nodes++

	switch t := node.(type) {
	case map[string]interface{}:
		for key, value := range t {
			if w.keyMatches(key) {
				w.collect(value)
			}
			w.walk(value, depth+1)
		}
	case []interface{}:
		for _, value := range t {
			w.walk(value, depth+1)
		}
	}
}

func (w *idWalker) keyMatches(key string) bool {
	for _, candidate := range w.keys {
		if strings.EqualFold(key, candidate) {
			return true
		}
	}
	return false
}

func (w *idWalker) collect(value interface{}) {
	switch t := value.(type) {
	case []interface{}:
		for _, v := range t {
			w.add(idString(v))
		}
	default:
		w.add(idString(value))
	}
}

func (w *idWalker) add(id string) {
	if id == "" || w.seen[id] {
		return
	}
	w.seen[id] = true
	w.found = append(w.found, id)
}

// firstString returns the first present key as a string; numeric values
// are formatted without a fractional part since platform ids are integral.
func firstString(payload map[string]interface{}, keys []string) string {
	for _, key := range keys {
		if value, ok := payload[key]; ok {
			if s := idString(value); s != "" {
				return s
			}
		}
	}
	return ""
}

func idString(value interface{}) string {
	switch t := value.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
