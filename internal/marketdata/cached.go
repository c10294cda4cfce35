package marketdata

import (
	"context"
	"time"

	"github.com/wonny/egp/internal/contracts"
	"github.com/wonny/egp/pkg/redis"
)

// CachedRepository is a read-through Redis cache in front of another repository
type CachedRepository struct {
	next  contracts.PriceRepository
	cache *redis.Cache
	ttl   time.Duration
	now   func() time.Time
}

var _ contracts.PriceRepository = (*CachedRepository)(nil)

// NewCachedRepository wraps next. A disabled Redis client makes every call a pass-through.
func NewCachedRepository(next contracts.PriceRepository, cache *redis.Cache, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = redis.TTLDaily
	}
	return &CachedRepository{next: next, cache: cache, ttl: ttl, now: time.Now}
}

// cacheable reports whether a range is closed. Ranges reaching today may still gain the
// day's close, so they always go to the repository.
func (c *CachedRepository) cacheable(to time.Time) bool {
	now := c.now().In(to.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, to.Location())
	return to.Before(today)
}

// AssetPrices implements contracts.PriceRepository
func (c *CachedRepository) AssetPrices(ctx context.Context, code string, from, to time.Time) ([]contracts.PricePoint, error) {
	if !c.cacheable(to) {
		return c.next.AssetPrices(ctx, code, from, to)
	}
	var points []contracts.PricePoint
	err := c.cache.GetOrSet(ctx, redis.PriceSeriesKey("stock", code, from, to), &points, c.ttl, func() (interface{}, error) {
		return c.next.AssetPrices(ctx, code, from, to)
	})
	return points, err
}

// IndexPrices implements contracts.PriceRepository
func (c *CachedRepository) IndexPrices(ctx context.Context, index string, from, to time.Time) ([]contracts.PricePoint, error) {
	if !c.cacheable(to) {
		return c.next.IndexPrices(ctx, index, from, to)
	}
	var points []contracts.PricePoint
	err := c.cache.GetOrSet(ctx, redis.PriceSeriesKey("index", index, from, to), &points, c.ttl, func() (interface{}, error) {
		return c.next.IndexPrices(ctx, index, from, to)
	})
	return points, err
}
