package ingest

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/vendalog/marketsync/internal/metrics"
	"github.com/vendalog/marketsync/internal/models"
	"github.com/vendalog/marketsync/internal/signature"
	"github.com/vendalog/marketsync/internal/store"
)

// Notifier publishes a wake message for a freshly accepted event. Best
// effort: the polling worker picks the event up regardless.
type Notifier interface {
	EventAccepted(ctx context.Context, eventID string) error
}

// Options tunes the ingest service's verification escape hatch. Bypass
// is an explicit, audited bootstrap mechanism, never a default.
type Options struct {
	BypassEnabled bool
	BypassIPs     []string
}

// Service accepts raw webhook requests: verify, extract identity,
// persist idempotently. No marketplace API call ever happens here;
// processing is fully decoupled into the worker.
type Service struct {
	verifier *signature.Verifier
	events   *store.EventStore
	metrics  *metrics.Registry
	notifier Notifier
	logger   *zap.Logger

	bypassEnabled bool
	bypassIPs     map[string]bool
}

// HandleInput is the raw request material. RawBody must be the body
// exactly as received on the wire: it is authoritative for signing.
type HandleInput struct {
	Headers    map[string]string
	RawBody    []byte
	ParsedBody interface{}
	Path       string
	SourceIP   string
}

// HandleResult maps directly onto the HTTP response.
type HandleResult struct {
	OK        bool
	Status    int
	EventID   string
	Duplicate bool
	Reason    string
}

// NewService builds the ingest service. notifier may be nil.
func NewService(verifier *signature.Verifier, events *store.EventStore, reg *metrics.Registry, notifier Notifier, opts Options, logger *zap.Logger) *Service {
	bypassIPs := make(map[string]bool, len(opts.BypassIPs))
	for _, ip := range opts.BypassIPs {
		if ip != "" {
			bypassIPs[ip] = true
		}
	}
	return &Service{
		verifier:      verifier,
		events:        events,
		metrics:       reg,
		notifier:      notifier,
		logger:        logger,
		bypassEnabled: opts.BypassEnabled,
		bypassIPs:     bypassIPs,
	}
}

// Handle processes one inbound webhook request. Side effects are exactly
// one persisted row (or a no-op duplicate) and one metric increment.
func (s *Service) Handle(ctx context.Context, in HandleInput) HandleResult {
	payload := normalizePayload(in.ParsedBody)

	verdict := s.verifier.Verify(in.Headers, in.RawBody, in.Path, payload)
	bypassed := false
	if !verdict.OK {
		if s.canBypass(verdict.Reason, in.SourceIP) {
			bypassed = true
			s.logger.Warn("Webhook verification bypassed by IP allowlist",
				zap.String("reason", verdict.Reason),
				zap.String("source_ip", in.SourceIP),
			)
		} else {
			s.logger.Warn("Webhook verification failed",
				zap.String("reason", verdict.Reason),
				zap.String("source_ip", in.SourceIP),
			)
			return HandleResult{Status: 401, Reason: verdict.Reason}
		}
	} else if verdict.MatchedStrategy != "" {
		// Logged so the real signing convention can be narrowed down
		// over time; the first match is not assumed canonical.
		s.logger.Debug("Webhook signature matched",
			zap.String("strategy", verdict.MatchedStrategy),
		)
	}

	eventType := ExtractEventType(payload)
	shopID := ExtractShopID(payload)
	itemIDs := CollectItemIDs(payload)
	modelIDs := CollectModelIDs(payload)
	eventID := deriveEventID(in.Headers, payload, in.RawBody, eventType, shopID, verdict.TimestampSec, verdict.Nonce)

	event := &models.WebhookEvent{
		EventID:   eventID,
		EventType: eventType,
		ShopID:    shopID,
		ItemID:    first(itemIDs),
		ModelID:   first(modelIDs),
		Payload:   storedPayload(in.RawBody, payload),
		Status:    models.StatusPending,
	}

	created, err := s.events.InsertIfAbsent(ctx, event)
	if err != nil {
		s.logger.Error("Failed to persist webhook event",
			zap.String("event_id", eventID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return HandleResult{Status: 500, Reason: "persistence_error"}
	}

	s.metrics.IncReceived(eventType)

	if created && s.notifier != nil {
		if err := s.notifier.EventAccepted(ctx, eventID); err != nil {
			s.logger.Warn("Failed to publish wake message, polling will pick the event up",
				zap.String("event_id", eventID),
				zap.Error(err),
			)
		}
	}

	status := 200
	if bypassed {
		status = 204
	}
	return HandleResult{
		OK:        true,
		Status:    status,
		EventID:   eventID,
		Duplicate: !created,
	}
}

// canBypass allows only "missing"-class failures (never mismatches),
// only when enabled, and only from allowlisted source IPs.
func (s *Service) canBypass(reason, sourceIP string) bool {
	if !s.bypassEnabled || !s.bypassIPs[sourceIP] {
		return false
	}
	switch reason {
	case signature.ReasonSecretMissing, signature.ReasonSignatureMissing, signature.ReasonTimestampMissing:
		return true
	}
	return false
}

// normalizePayload coerces the parsed body to a map; a string body gets
// one JSON-parse attempt.
func normalizePayload(body interface{}) map[string]interface{} {
	switch t := body.(type) {
	case map[string]interface{}:
		return t
	case string:
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(t), &parsed); err == nil {
			return parsed
		}
	case []byte:
		var parsed map[string]interface{}
		if err := json.Unmarshal(t, &parsed); err == nil {
			return parsed
		}
	}
	return map[string]interface{}{}
}

// storedPayload keeps the raw body verbatim when it is valid JSON, for
// replay and debugging; otherwise it stores the parsed form.
func storedPayload(rawBody []byte, payload map[string]interface{}) datatypes.JSON {
	if json.Valid(rawBody) {
		return datatypes.JSON(rawBody)
	}
	if encoded, err := json.Marshal(payload); err == nil {
		return datatypes.JSON(encoded)
	}
	return nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
