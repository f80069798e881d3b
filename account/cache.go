package account

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/fanout/internal/ttlcache"
)

// CachedResolver wraps a Resolver with a bounded-TTL in-memory cache keyed by
// token. Misses and errors are never cached.
type CachedResolver struct {
	next   Resolver
	cache  *ttlcache.Cache[string, *Account]
	logger *slog.Logger
}

// NewCachedResolver creates a caching Resolver. A zero ttl disables caching.
func NewCachedResolver(next Resolver, ttl time.Duration, logger *slog.Logger) *CachedResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedResolver{
		next:   next,
		cache:  ttlcache.New[string, *Account](ttl),
		logger: logger,
	}
}

// ResolveByToken returns the cached account or resolves it through the wrapped Resolver.
func (c *CachedResolver) ResolveByToken(ctx context.Context, token string) (*Account, error) {
	if acc, ok := c.cache.Get(token); ok {
		return acc, nil
	}

	acc, err := c.next.ResolveByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, nil
	}

	c.cache.Set(token, acc)
	c.logger.DebugContext(ctx, "account cached", "account_id", acc.ID)
	return acc, nil
}

// Invalidate drops the cached entry for token, e.g. after a credential rotation.
func (c *CachedResolver) Invalidate(token string) {
	c.cache.Delete(token)
}

// InvalidateAll clears the cache.
func (c *CachedResolver) InvalidateAll() {
	c.cache.Purge()
}
