package bucketcache

import (
	"strings"
	"sync"
	"time"

	"github.com/falense/b2-fuse/internal/b2api"
	"github.com/falense/b2-fuse/internal/metrics"
	"golang.org/x/sync/singleflight"
)

const listBucketName = "list_keys"

// ListingCache is the list-keys specialisation of Cache described in §4.2:
// cached listings are keyed by prefix, and a put/delete can patch every
// cached listing whose prefix is a prefix of the touched key, instead of
// invalidating the whole bucket. A singleflight group collapses concurrent
// identical misses (e.g. several readdir calls racing on the same prefix)
// into one underlying call.
type ListingCache struct {
	cache   *Cache
	mu      sync.Mutex
	group   singleflight.Group
	metrics *metrics.Collector
}

// NewListingCache builds a ListingCache backed by a fresh Cache with the
// given per-entry timeout. mcol may be nil, in which case hit/miss counters
// are simply not recorded.
func NewListingCache(timeout time.Duration, mcol *metrics.Collector) *ListingCache {
	return &ListingCache{cache: New(timeout), metrics: mcol}
}

// Get returns the cached, deduplicated-by-key listing for prefix, if present
// and unexpired. Unlike GetOrLoad, a bare Get does not record a hit/miss
// metric, since it is also used internally as a double-check inside the
// singleflight critical section.
func (l *ListingCache) Get(prefix string) ([]b2api.FileInfo, bool) {
	v, ok := l.cache.Get(listBucketName, prefix)
	if !ok {
		return nil, false
	}
	return v.([]b2api.FileInfo), true
}

// Put stores files as the listing for prefix.
func (l *ListingCache) Put(prefix string, files []b2api.FileInfo) {
	l.cache.Put(listBucketName, prefix, cloneFiles(files))
}

// GetOrLoad returns the cached listing for prefix, or calls load exactly
// once across concurrent callers on a miss, caching and returning its result.
func (l *ListingCache) GetOrLoad(prefix string, load func() ([]b2api.FileInfo, error)) ([]b2api.FileInfo, error) {
	if files, ok := l.Get(prefix); ok {
		l.metrics.CacheHit(listBucketName)
		return files, nil
	}
	l.metrics.CacheMiss(listBucketName)
	v, err, _ := l.group.Do(prefix, func() (interface{}, error) {
		if files, ok := l.Get(prefix); ok {
			return files, nil
		}
		files, err := load()
		if err != nil {
			return nil, err
		}
		l.Put(prefix, files)
		return files, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]b2api.FileInfo), nil
}

// AddFile inserts fi into every cached listing whose key is a prefix of
// fi.Name, deduplicated by name (last write wins), so that an upload is
// immediately visible to readdir without waiting on the next server list.
func (l *ListingCache) AddFile(fi b2api.FileInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache.mu.Lock()
	bucket, ok := l.cache.buckets[listBucketName]
	l.cache.mu.Unlock()
	if !ok {
		return
	}

	for prefix := range bucket {
		if !strings.HasPrefix(fi.Name, prefix) {
			continue
		}
		files, ok := l.Get(prefix)
		if !ok {
			continue
		}
		l.Put(prefix, upsertFile(files, fi))
	}
}

// RemoveFile deletes key from every cached listing that contains it.
func (l *ListingCache) RemoveFile(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache.mu.Lock()
	bucket, ok := l.cache.buckets[listBucketName]
	l.cache.mu.Unlock()
	if !ok {
		return
	}

	for prefix := range bucket {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		files, ok := l.Get(prefix)
		if !ok {
			continue
		}
		l.Put(prefix, removeFile(files, key))
	}
}

// InvalidateAll discards every cached listing, for an operation whose
// effect on the tree cannot be expressed as a simple add/remove. Rename does
// not use it: it goes through the ordinary upload and unlink patches.
func (l *ListingCache) InvalidateAll() {
	l.cache.InvalidateBucket(listBucketName)
}

func upsertFile(files []b2api.FileInfo, fi b2api.FileInfo) []b2api.FileInfo {
	out := make([]b2api.FileInfo, 0, len(files)+1)
	replaced := false
	for _, f := range files {
		if f.Name == fi.Name {
			out = append(out, fi)
			replaced = true
			continue
		}
		out = append(out, f)
	}
	if !replaced {
		out = append(out, fi)
	}
	return out
}

func removeFile(files []b2api.FileInfo, key string) []b2api.FileInfo {
	out := make([]b2api.FileInfo, 0, len(files))
	for _, f := range files {
		if f.Name != key {
			out = append(out, f)
		}
	}
	return out
}

func cloneFiles(files []b2api.FileInfo) []b2api.FileInfo {
	out := make([]b2api.FileInfo, len(files))
	copy(out, files)
	return out
}
