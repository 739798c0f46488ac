package identity

import (
	"context"
	"time"

	"github.com/coocood/freecache"

	"github.com/antlu/stream-monitor/internal/monitor"
)

// Cache remembers resolved user ids so reconnecting a channel skips the
// lookup. Snapshot and stream fetches pass straight through.
type Cache struct {
	monitor.Fetcher
	cache *freecache.Cache
	ttl   int
}

// Wrap returns next unchanged when sizeMB is not positive.
func Wrap(next monitor.Fetcher, sizeMB int, ttl time.Duration) monitor.Fetcher {
	if sizeMB <= 0 {
		return next
	}
	return &Cache{
		Fetcher: next,
		cache:   freecache.NewCache(sizeMB * 1024 * 1024),
		ttl:     max(int(ttl.Seconds()), 1),
	}
}

func (c *Cache) ResolveIdentity(ctx context.Context, name string) (string, error) {
	if id, err := c.cache.Get([]byte(name)); err == nil {
		return string(id), nil
	}

	id, err := c.Fetcher.ResolveIdentity(ctx, name)
	if err != nil {
		return "", err
	}
	_ = c.cache.Set([]byte(name), []byte(id), c.ttl)
	return id, nil
}

func (c *Cache) HitCount() int64 {
	return c.cache.HitCount()
}

func (c *Cache) MissCount() int64 {
	return c.cache.MissCount()
}
