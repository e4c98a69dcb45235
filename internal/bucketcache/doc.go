// Package bucketcache is the Bucket Cache: a per-call-name memoization layer
// in front of internal/b2api, with a time-based expiry and a speculative
// patch path so a put or delete is visible in the next listing without a
// round trip, per the design's Bucket Cache component.
package bucketcache
