package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry holds process-lifetime counters for the ingest path and the
// worker. It is constructed once at startup and shared by reference;
// values are lost on restart by design.
type Registry struct {
	mu sync.Mutex

	received  map[string]int64
	processed map[string]int64
	failed    map[string]int64
	ignored   map[string]int64

	latencyCount int64
	latencySum   time.Duration
	queueCount   int64
	queueSum     time.Duration

	apiCalls    int64
	apiFailures int64
	apiCallsSum time.Duration
	cacheHits   int64
	startedAt   time.Time
}

// Snapshot is a read-only copy of the registry state.
type Snapshot struct {
	Received  map[string]int64 `json:"received"`
	Processed map[string]int64 `json:"processed"`
	Failed    map[string]int64 `json:"failed"`
	Ignored   map[string]int64 `json:"ignored"`

	AvgProcessingMs float64 `json:"avg_processing_ms"`
	AvgQueueDelayMs float64 `json:"avg_queue_delay_ms"`

	APICalls     int64   `json:"api_calls"`
	APIFailures  int64   `json:"api_failures"`
	AvgAPICallMs float64 `json:"avg_api_call_ms"`
	CacheHits    int64   `json:"cache_hits"`

	UptimeSec int64 `json:"uptime_sec"`
}

// NewRegistry creates an empty metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		received:  make(map[string]int64),
		processed: make(map[string]int64),
		failed:    make(map[string]int64),
		ignored:   make(map[string]int64),
		startedAt: time.Now(),
	}
}

// IncReceived counts one ingested event of the given type.
func (r *Registry) IncReceived(eventType string) {
	r.mu.Lock()
	r.received[eventType]++
	r.mu.Unlock()
}

// RecordOutcome counts one terminal worker outcome and folds the
// processing latency and queue delay into the rolling averages.
func (r *Registry) RecordOutcome(eventType, status string, latency, queueDelay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch status {
	case "PROCESSED":
		r.processed[eventType]++
	case "FAILED":
		r.failed[eventType]++
	case "IGNORED":
		r.ignored[eventType]++
	}

	r.latencyCount++
	r.latencySum += latency
	if queueDelay > 0 {
		r.queueCount++
		r.queueSum += queueDelay
	}
}

// RecordAPICall folds one outbound marketplace call into the counters.
func (r *Registry) RecordAPICall(latency time.Duration, failed bool) {
	r.mu.Lock()
	r.apiCalls++
	r.apiCallsSum += latency
	if failed {
		r.apiFailures++
	}
	r.mu.Unlock()
}

// RecordCacheHit counts one resilient-client cache hit.
func (r *Registry) RecordCacheHit() {
	r.mu.Lock()
	r.cacheHits++
	r.mu.Unlock()
}

// Snapshot returns a copy of all counters.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Received:    copyCounts(r.received),
		Processed:   copyCounts(r.processed),
		Failed:      copyCounts(r.failed),
		Ignored:     copyCounts(r.ignored),
		APICalls:    r.apiCalls,
		APIFailures: r.apiFailures,
		CacheHits:   r.cacheHits,
		UptimeSec:   int64(time.Since(r.startedAt).Seconds()),
	}
	if r.latencyCount > 0 {
		s.AvgProcessingMs = float64(r.latencySum.Milliseconds()) / float64(r.latencyCount)
	}
	if r.queueCount > 0 {
		s.AvgQueueDelayMs = float64(r.queueSum.Milliseconds()) / float64(r.queueCount)
	}
	if r.apiCalls > 0 {
		s.AvgAPICallMs = float64(r.apiCallsSum.Milliseconds()) / float64(r.apiCalls)
	}
	return s
}

// LogLoop periodically logs a snapshot until the context is cancelled.
// It only reads the registry and never contends with tick processing
// beyond the counter mutex.
func (r *Registry) LogLoop(ctx context.Context, logger *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := r.Snapshot()
			logger.Info("Metrics snapshot",
				zap.Int64("received", sumCounts(s.Received)),
				zap.Int64("processed", sumCounts(s.Processed)),
				zap.Int64("failed", sumCounts(s.Failed)),
				zap.Int64("ignored", sumCounts(s.Ignored)),
				zap.Float64("avg_processing_ms", s.AvgProcessingMs),
				zap.Float64("avg_queue_delay_ms", s.AvgQueueDelayMs),
				zap.Int64("api_calls", s.APICalls),
				zap.Int64("api_failures", s.APIFailures),
				zap.Int64("cache_hits", s.CacheHits),
			)
		}
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func sumCounts(src map[string]int64) int64 {
	var total int64
	for _, v := range src {
		total += v
	}
	return total
}
