package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cabinet-quote/internal/domain"
	"github.com/noah-isme/cabinet-quote/internal/obs"
)

// Cache wraps Redis helpers for JSON payloads.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCache constructs a cache helper.
func NewCache(client redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Cached decorates a Provider with a Redis read-through cache. Only found
// entities are cached; Redis failures fall through to the inner provider.
type Cached struct {
	Inner  Provider
	Cache  *Cache
	Logger zerolog.Logger
}

// NewCached constructs a caching provider.
func NewCached(inner Provider, client redis.UniversalClient, ttl time.Duration, logger zerolog.Logger) *Cached {
	return &Cached{Inner: inner, Cache: NewCache(client, ttl), Logger: logger}
}

// GetCustomer implements Provider.
func (c *Cached) GetCustomer(ctx context.Context, id string) (domain.Customer, bool, error) {
	return readThrough(ctx, c, "customer", id, func(ctx context.Context) (domain.Customer, bool, error) {
		return c.Inner.GetCustomer(ctx, id)
	})
}

// GetProductVariant implements Provider.
func (c *Cached) GetProductVariant(ctx context.Context, id string) (domain.ProductVariant, bool, error) {
	return readThrough(ctx, c, "variant", id, func(ctx context.Context) (domain.ProductVariant, bool, error) {
		return c.Inner.GetProductVariant(ctx, id)
	})
}

// GetBoxMaterial implements Provider.
func (c *Cached) GetBoxMaterial(ctx context.Context, id string) (domain.BoxMaterial, bool, error) {
	return readThrough(ctx, c, "material", id, func(ctx context.Context) (domain.BoxMaterial, bool, error) {
		return c.Inner.GetBoxMaterial(ctx, id)
	})
}

// GetPricing implements Provider.
func (c *Cached) GetPricing(ctx context.Context, variantID, materialID string) (domain.ProductPricing, bool, error) {
	return readThrough(ctx, c, "pricing", pricingKey(variantID, materialID), func(ctx context.Context) (domain.ProductPricing, bool, error) {
		return c.Inner.GetPricing(ctx, variantID, materialID)
	})
}

// CacheKey returns the Redis key an entity is cached under.
func CacheKey(kind, id string) string {
	return "catalog:" + kind + ":" + id
}

func readThrough[T any](ctx context.Context, c *Cached, kind, id string, load func(context.Context) (T, bool, error)) (T, bool, error) {
	key := CacheKey(kind, id)
	var cached T
	hit, err := c.Cache.GetJSON(ctx, key, &cached)
	switch {
	case err != nil:
		obs.IncCatalogCache(kind, "error")
		c.Logger.Warn().Err(err).Str("key", key).Msg("catalog_cache_read_failed")
	case hit:
		obs.IncCatalogCache(kind, "hit")
		return cached, true, nil
	default:
		obs.IncCatalogCache(kind, "miss")
	}

	value, found, err := load(ctx)
	if err != nil || !found {
		return value, found, err
	}
	if err := c.Cache.SetJSON(ctx, key, value); err != nil {
		c.Logger.Warn().Err(err).Str("key", key).Msg("catalog_cache_write_failed")
	}
	return value, true, nil
}
