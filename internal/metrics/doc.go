// Package metrics exposes the small set of Prometheus instruments b2-fuse
// carries as ambient observability: cache hit/miss counters, the async
// write pipeline's queue depth, and upload latency. It replaces objectfs's
// distributed-deployment metrics collector with a registry scoped to a
// single mount.
package metrics
