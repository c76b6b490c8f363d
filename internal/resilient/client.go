package resilient

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/vendalog/marketsync/internal/cache"
	"github.com/vendalog/marketsync/internal/marketplace"
	"github.com/vendalog/marketsync/internal/metrics"
)

const listPageSize = 50

// defaultSchedule bounds every call to len(schedule) attempts, with a
// fixed delay before each one.
var defaultSchedule = []time.Duration{0, 100 * time.Millisecond, time.Second, 5 * time.Second}

// Config tunes the resilience layer around the raw client.
type Config struct {
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
	CacheTTL         time.Duration
	MinCallInterval  time.Duration
	RetrySchedule    []time.Duration
}

// Client wraps the raw marketplace client with a short-TTL cache, a
// per-shop rate limiter, a circuit breaker and classified retry.
//
// Execution order per call: cache (hit returns) → breaker (open fails
// fast) → retry loop, each attempt gated by the shop's limiter slot.
type Client struct {
	api      *marketplace.Client
	breaker  *gobreaker.CircuitBreaker
	limiter  *LimiterRegistry
	cache    *cache.TTL[string, interface{}]
	metrics  *metrics.Registry
	logger   *zap.Logger
	cacheTTL time.Duration
	schedule []time.Duration
}

// NewClient builds the resilience stack. Breaker and limiter state are
// per client instance and deliberately not shared or persisted.
func NewClient(api *marketplace.Client, cfg Config, reg *metrics.Registry, logger *zap.Logger) *Client {
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	schedule := cfg.RetrySchedule
	if len(schedule) == 0 {
		schedule = defaultSchedule
	}

	settings := gobreaker.Settings{
		Name:        "marketplace",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Client{
		api:      api,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		limiter:  NewLimiterRegistry(cfg.MinCallInterval),
		cache:    cache.NewTTL[string, interface{}](),
		metrics:  reg,
		logger:   logger,
		cacheTTL: cfg.CacheTTL,
		schedule: schedule,
	}
}

// Do runs one call through the full resilience stack. A non-empty
// cacheKey with a positive ttl enables caching; mutating calls must pass
// an empty key. Cached values are handed out to every caller within the
// TTL, so callers must treat pointer-typed results as read-only.
func Do[T any](ctx context.Context, c *Client, shopID, cacheKey string, ttl time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T

	if cacheKey != "" && ttl > 0 {
		if cached, ok := c.cache.Get(cacheKey); ok {
			if typed, ok := cached.(T); ok {
				c.metrics.RecordCacheHit()
				return typed, nil
			}
		}
	}

	started := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.attempt(ctx, shopID, func(ctx context.Context) (interface{}, error) {
			return op(ctx)
		})
	})
	c.metrics.RecordAPICall(time.Since(started), err != nil)

	if err != nil {
		return zero, err
	}

	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected result type %T", result)
	}
	if cacheKey != "" && ttl > 0 {
		c.cache.Set(cacheKey, typed, ttl)
	}
	return typed, nil
}

// attempt loops over the backoff schedule; only errors classified
// retryable consume further budget.
func (c *Client) attempt(ctx context.Context, shopID string, op func(context.Context) (interface{}, error)) (interface{}, error) {
	var lastErr error

	for i, delay := range c.schedule {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		if err := c.limiter.Wait(ctx, shopID); err != nil {
			return nil, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !marketplace.IsRetryable(err) {
			return nil, err
		}
		c.logger.Warn("Marketplace call failed, will retry",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", len(c.schedule)),
			zap.String("shop_id", shopID),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

// GetItem fetches one listing through the resilience stack.
func (c *Client) GetItem(ctx context.Context, auth marketplace.Auth, itemID string) (*marketplace.Item, error) {
	key := fmt.Sprintf("item:%s:%s", auth.ShopID, itemID)
	return Do(ctx, c, auth.ShopID, key, c.cacheTTL, func(ctx context.Context) (*marketplace.Item, error) {
		return c.api.GetItem(ctx, auth, itemID)
	})
}

// GetModelList fetches a listing's variations through the stack.
func (c *Client) GetModelList(ctx context.Context, auth marketplace.Auth, itemID string) ([]marketplace.Model, error) {
	key := fmt.Sprintf("models:%s:%s", auth.ShopID, itemID)
	return Do(ctx, c, auth.ShopID, key, c.cacheTTL, func(ctx context.Context) ([]marketplace.Model, error) {
		return c.api.GetModelList(ctx, auth, itemID)
	})
}

// GetItemList fetches one item-list page through the stack.
func (c *Client) GetItemList(ctx context.Context, auth marketplace.Auth, offset, pageSize int) (*marketplace.ItemPage, error) {
	key := fmt.Sprintf("items:%s:%d:%d", auth.ShopID, offset, pageSize)
	return Do(ctx, c, auth.ShopID, key, c.cacheTTL, func(ctx context.Context) (*marketplace.ItemPage, error) {
		return c.api.GetItemList(ctx, auth, offset, pageSize)
	})
}

// GetOrderList fetches one order-list page through the stack.
func (c *Client) GetOrderList(ctx context.Context, auth marketplace.Auth, cursor string, pageSize int) (*marketplace.OrderPage, error) {
	key := fmt.Sprintf("orders:%s:%s:%d", auth.ShopID, cursor, pageSize)
	return Do(ctx, c, auth.ShopID, key, c.cacheTTL, func(ctx context.Context) (*marketplace.OrderPage, error) {
		return c.api.GetOrderList(ctx, auth, cursor, pageSize)
	})
}

// RefreshToken exchanges the refresh token. Never cached.
func (c *Client) RefreshToken(ctx context.Context, auth marketplace.Auth, refreshToken string) (*marketplace.TokenResponse, error) {
	return Do(ctx, c, auth.ShopID, "", 0, func(ctx context.Context) (*marketplace.TokenResponse, error) {
		return c.api.RefreshToken(ctx, refreshToken, auth.ShopID)
	})
}

// FetchAllItems follows the offset cursor until the API reports no
// further pages. Every page fetch goes through the resilience stack.
func (c *Client) FetchAllItems(ctx context.Context, auth marketplace.Auth) ([]marketplace.ItemSummary, error) {
	var all []marketplace.ItemSummary
	offset := 0

	for {
		page, err := c.GetItemList(ctx, auth, offset, listPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if !page.HasNextPage || page.NextOffset <= offset {
			return all, nil
		}
		offset = page.NextOffset
	}
}

// FetchAllOrders follows the opaque cursor until the API reports no
// further pages.
func (c *Client) FetchAllOrders(ctx context.Context, auth marketplace.Auth) ([]marketplace.Order, error) {
	var all []marketplace.Order
	cursor := ""

	for {
		page, err := c.GetOrderList(ctx, auth, cursor, listPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Orders...)
		if !page.More || page.NextCursor == "" || page.NextCursor == cursor {
			return all, nil
		}
		cursor = page.NextCursor
	}
}
