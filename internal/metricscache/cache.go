// Package metricscache implements the "single shared byte
// buffer, a validity deadline (unix time), a size, and a spin-latch
// lock." The original spin-latch (busy-wait CAS) is replaced per
// a design note ("Spin-latch on the metrics cache:
// model as a single-writer/many-reader primitive with a tiny critical
// section; a short-held mutex is acceptable") — the critical section
// here is a slice swap, short enough that a sync.RWMutex never
// contends long enough to matter.
package metricscache

import (
	"sync"
	"time"
)

// Cache holds one rendered metrics body, refreshed by a single writer
// and read by many concurrent readers (the "single writer
// ... many readers" discipline, the same one internal/config uses for
// its configuration snapshot).
type Cache struct {
	mu         sync.RWMutex
	body       []byte
	validUntil time.Time
}

// New returns an empty, immediately-stale Cache.
func New() *Cache {
	return &Cache{}
}

// Get returns the cached body and whether it is still valid as of now.
// A stale or empty cache still returns its last body (callers may
// choose to serve slightly-stale data rather than block), but ok
// reports false so the caller knows to trigger a refresh.
func (c *Cache) Get(now time.Time) (body []byte, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.body, len(c.body) > 0 && now.Before(c.validUntil)
}

// Put installs a newly rendered body, valid until validUntil. Per
// the ordering requirement ("writers build the full body and
// only then swap valid_until"), the caller is expected to have already
// fully rendered body before calling Put — this method performs the
// swap as a single atomic critical section, never partially updating
// body and validUntil in a way a concurrent reader could observe.
func (c *Cache) Put(body []byte, validUntil time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.body = body
	c.validUntil = validUntil
}

// Size reports the current cached body's length, 0 if never populated.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.body)
}

// Refresher renders a fresh metrics body on demand — the caller's
// Prometheus collector snapshot, kept external to this package (the
// HTTP/OpenMetrics serialization surface is out of scope per the design
// the design; this package only caches whatever bytes it's given).
type Refresher func() ([]byte, error)

// GetOrRefresh returns the cached body if still valid as of now,
// otherwise calls refresh, installs the result with the given TTL, and
// returns it. Concurrent callers racing a stale cache may both call
// refresh — the "holders must not block" rules out serializing
// refreshes behind the cache's own lock, so at most a redundant render
// happens, never a blocked reader.
func (c *Cache) GetOrRefresh(now time.Time, ttl time.Duration, refresh Refresher) ([]byte, error) {
	if body, ok := c.Get(now); ok {
		return body, nil
	}
	body, err := refresh()
	if err != nil {
		return nil, err
	}
	c.Put(body, now.Add(ttl))
	return body, nil
}
