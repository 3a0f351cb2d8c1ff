package geo

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type cachedResult struct {
	loc   Location
	found bool
}

// Cached memoizes another Locator's answers per IP for a fixed TTL.
// Misses are cached too; errors are not.
type Cached struct {
	next  Locator
	cache *gocache.Cache
}

// NewCached wraps next with an in-process TTL cache.
func NewCached(next Locator, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *Cached) Lookup(ctx context.Context, ip string) (Location, bool, error) {
	if v, ok := c.cache.Get(ip); ok {
		r := v.(cachedResult)
		return r.loc, r.found, nil
	}

	loc, found, err := c.next.Lookup(ctx, ip)
	if err != nil {
		return Location{}, false, err
	}
	c.cache.Set(ip, cachedResult{loc: loc, found: found}, gocache.DefaultExpiration)
	return loc, found, nil
}

// Len reports the number of cached addresses, including expired ones not yet evicted.
func (c *Cached) Len() int {
	return c.cache.ItemCount()
}
