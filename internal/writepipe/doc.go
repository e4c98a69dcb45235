// Package writepipe is the optional Async Write Pipeline (§4.5): a staging
// map that coalesces repeated writes to the same key within a debounce
// window, a bounded LIFO ready queue, a per-key mutex serializing remote
// operations, and a fixed worker pool draining the queue.
package writepipe
