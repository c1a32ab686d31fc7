package subset

import (
	"context"
	"strings"
	"time"

	"github.com/fractal-lba/rankeval/internal/cache"
	"github.com/fractal-lba/rankeval/internal/metrics"
)

// CachedSource memoizes another Source by subset hash and date window. Models
// trained on the same window share one subset lookup.
type CachedSource struct {
	next    Source
	cache   *cache.TTLCache[string, []Member]
	metrics *metrics.Metrics
}

// NewCachedSource wraps next with an LRU of size entries that expire after ttl.
func NewCachedSource(next Source, size int, ttl time.Duration, m *metrics.Metrics) (*CachedSource, error) {
	c, err := cache.NewTTLCache[string, []Member](size, ttl)
	if err != nil {
		return nil, err
	}
	return &CachedSource{next: next, cache: c, metrics: m}, nil
}

// Members returns cached rows when available. Callers must not modify the
// returned slice.
func (c *CachedSource) Members(ctx context.Context, asOfDates []time.Time, spec Spec) ([]Member, error) {
	key, err := cacheKey(asOfDates, spec)
	if err != nil {
		return nil, err
	}

	if members, ok := c.cache.Get(key); ok {
		c.metrics.ObserveCache(true)
		return members, nil
	}
	c.metrics.ObserveCache(false)

	members, err := c.next.Members(ctx, asOfDates, spec)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, members)
	return members, nil
}

// Stats exposes the underlying cache counters.
func (c *CachedSource) Stats() cache.Stats {
	return c.cache.Stats()
}

func cacheKey(asOfDates []time.Time, spec Spec) (string, error) {
	hash, err := Hash(spec)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(hash)
	for _, d := range asOfDates {
		b.WriteByte('|')
		b.WriteString(d.UTC().Format(time.RFC3339Nano))
	}
	return b.String(), nil
}
