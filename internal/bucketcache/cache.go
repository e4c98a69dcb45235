package bucketcache

import (
	"sync"
	"time"
)

// DefaultTimeout is the per-entry expiry used when a Cache is built with
// timeout <= 0, matching the original's cache_timeout default of 120s.
const DefaultTimeout = 120 * time.Second

type entry struct {
	insertedAt time.Time
	value      interface{}
}

// Cache is a set of named buckets, each a (params -> value) map with its own
// TTL. A named bucket is addressed by name on every call; callers that want
// a strongly-typed view wrap a Cache (see ListingCache).
type Cache struct {
	mu      sync.Mutex
	timeout time.Duration
	buckets map[string]map[string]entry
	now     func() time.Time
}

// New builds a Cache with the given per-entry timeout (DefaultTimeout if <= 0).
func New(timeout time.Duration) *Cache {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Cache{
		timeout: timeout,
		buckets: make(map[string]map[string]entry),
		now:     time.Now,
	}
}

// Get looks up params in the named bucket. Expired entries are deleted on
// access and reported as a miss, matching the original's lazy-expiry Cache.
func (c *Cache) Get(name, params string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.buckets[name]
	if !ok {
		return nil, false
	}
	e, ok := bucket[params]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.insertedAt) > c.timeout {
		delete(bucket, params)
		return nil, false
	}
	return e.value, true
}

// Put stores value under params in the named bucket.
func (c *Cache) Put(name, params string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.buckets[name]
	if !ok {
		bucket = make(map[string]entry)
		c.buckets[name] = bucket
	}
	bucket[params] = entry{insertedAt: c.now(), value: value}
}

// InvalidateBucket discards every entry in the named bucket. The filesystem
// layer and the write pipeline do not call it after an upload or delete;
// they patch the cached listing through ListingCache.AddFile/RemoveFile.
func (c *Cache) InvalidateBucket(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.buckets, name)
}

// InvalidateAll discards every cached entry across all buckets.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buckets = make(map[string]map[string]entry)
}

// withClock is a test/internal hook letting tests control the clock.
func (c *Cache) withClock(now func() time.Time) *Cache {
	c.now = now
	return c
}
