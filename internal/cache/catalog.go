// Package cache provides a Redis read-through layer over the catalog
// repository. Cache failures degrade to direct reads; they never fail a
// request.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vendimo/marketplace-core/internal/domain/catalog"
)

// DefaultTTL keeps catalog entries fresh enough for checkout pricing while
// absorbing repeated validation reads of the same cart.
const DefaultTTL = 30 * time.Second

var _ catalog.Repository = (*CatalogCache)(nil)

// CatalogCache decorates a catalog.Repository with Redis caching.
type CatalogCache struct {
	next catalog.Repository
	rdb  *redis.Client
	ttl  time.Duration
}

// NewCatalogCache returns a read-through cache over next.
func NewCatalogCache(next catalog.Repository, rdb *redis.Client, ttl time.Duration) *CatalogCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CatalogCache{next: next, rdb: rdb, ttl: ttl}
}

func productKey(id string) string {
	return "catalog:product:" + id
}

// GetByID returns the cached product or falls through to the underlying
// repository and stores the result.
func (c *CatalogCache) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	if p, ok := c.lookup(ctx, id); ok {
		return p, nil
	}

	p, err := c.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, p)
	return p, nil
}

// GetByIDs returns the requested products, reading hits from Redis and
// fetching only the misses from the underlying repository.
func (c *CatalogCache) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	found := make(map[string]catalog.Product, len(ids))
	var misses []string
	for _, id := range ids {
		if p, ok := c.lookup(ctx, id); ok {
			found[id] = *p
		} else {
			misses = append(misses, id)
		}
	}

	if len(misses) > 0 {
		fetched, err := c.next.GetByIDs(ctx, misses)
		if err != nil {
			return nil, err
		}
		for i := range fetched {
			found[fetched[i].ID] = fetched[i]
			c.store(ctx, &fetched[i])
		}
	}

	out := make([]catalog.Product, 0, len(found))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			out = append(out, p)
			delete(found, id)
		}
	}
	return out, nil
}

func (c *CatalogCache) lookup(ctx context.Context, id string) (*catalog.Product, bool) {
	raw, err := c.rdb.Get(ctx, productKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zctx.From(ctx).Debug("catalog cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var p catalog.Product
	if err := json.Unmarshal(raw, &p); err != nil {
		zctx.From(ctx).Warn("corrupt catalog cache entry", zap.String("product_id", id), zap.Error(err))
		return nil, false
	}
	return &p, true
}

func (c *CatalogCache) store(ctx context.Context, p *catalog.Product) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, productKey(p.ID), raw, c.ttl).Err(); err != nil {
		zctx.From(ctx).Debug("catalog cache write failed", zap.Error(err))
	}
}
