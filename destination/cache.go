package destination

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/fanout/internal/ttlcache"
)

// CachedLister wraps a Lister with a bounded-TTL in-memory cache keyed by
// account ID. Errors are never cached; empty results are.
type CachedLister struct {
	next   Lister
	cache  *ttlcache.Cache[string, []*Destination]
	logger *slog.Logger
}

// NewCachedLister creates a caching Lister. A zero ttl disables caching.
func NewCachedLister(next Lister, ttl time.Duration, logger *slog.Logger) *CachedLister {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedLister{
		next:   next,
		cache:  ttlcache.New[string, []*Destination](ttl),
		logger: logger,
	}
}

// ListDestinations returns the cached snapshot or loads it from the wrapped Lister.
func (c *CachedLister) ListDestinations(ctx context.Context, accountID string) ([]*Destination, error) {
	if dests, ok := c.cache.Get(accountID); ok {
		return dests, nil
	}

	dests, err := c.next.ListDestinations(ctx, accountID)
	if err != nil {
		return nil, err
	}

	c.cache.Set(accountID, dests)
	c.logger.DebugContext(ctx, "destinations cached",
		"account_id", accountID,
		"count", len(dests),
	)
	return dests, nil
}

// Invalidate drops the cached snapshot for an account, e.g. after its destinations change.
func (c *CachedLister) Invalidate(accountID string) {
	c.cache.Delete(accountID)
}
