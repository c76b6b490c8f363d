package resilient

import (
	"context"
	"sync"
	"time"
)

// LimiterRegistry serializes outbound calls per shop: no two calls for
// the same shop start less than minInterval apart. Shops are independent.
// State is in-process only; after a restart the clock resets to now.
type LimiterRegistry struct {
	mu          sync.Mutex
	minInterval time.Duration
	shops       map[string]*shopSlot
}

type shopSlot struct {
	mu   sync.Mutex
	next time.Time
}

// NewLimiterRegistry creates a registry with the given minimum spacing.
func NewLimiterRegistry(minInterval time.Duration) *LimiterRegistry {
	return &LimiterRegistry{
		minInterval: minInterval,
		shops:       make(map[string]*shopSlot),
	}
}

// Wait blocks until the caller's reserved slot for the shop arrives, or
// the context is cancelled.
func (r *LimiterRegistry) Wait(ctx context.Context, shopID string) error {
	if r.minInterval <= 0 {
		return ctx.Err()
	}

	at := r.slot(shopID).reserve(r.minInterval)
	delay := time.Until(at)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *LimiterRegistry) slot(shopID string) *shopSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.shops[shopID]
	if !ok {
		slot = &shopSlot{}
		r.shops[shopID] = slot
	}
	return slot
}

// reserve hands out the next free start time and advances the schedule,
// so concurrent callers for one shop get strictly spaced slots.
func (s *shopSlot) reserve(minInterval time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.next.Before(now) {
		s.next = now
	}
	at := s.next
	s.next = at.Add(minInterval)
	return at
}
