package openfile

import (
	"context"
	"strings"
	"sync"

	"github.com/falense/b2-fuse/internal/b2api"
	"github.com/falense/b2-fuse/internal/metrics"
	b2err "github.com/falense/b2-fuse/pkg/errors"
)

// Set tracks the one buffer open per path and hands out monotonically
// increasing handles for it, per §4.6's open/create contract. Multiple
// opens of the same path share the same underlying buffer.
type Set struct {
	mu       sync.Mutex
	remote   Remote
	tempRoot string
	useDisk  bool
	partSize int64

	memoryLimitBytes int64 // 0 = unlimited

	nextHandle uint64
	buffers    map[string]Strategy // path -> buffer
	refs       map[string]int      // path -> open handle count
	handles    map[uint64]string   // handle -> path

	metrics *metrics.Collector
}

// Config configures a Set's buffering policy.
type Config struct {
	TempRoot       string
	UseDisk        bool
	PartSize       int64 // SparseMemory part size; DefaultPartSize if <= 0
	MemoryLimitMiB int   // 0 = unlimited
}

// NewSet builds an empty Set. mcol may be nil, in which case the open-buffer
// and memory-consumption gauges are simply not recorded.
func NewSet(remote Remote, cfg Config, mcol *metrics.Collector) *Set {
	partSize := cfg.PartSize
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	var limit int64
	if cfg.MemoryLimitMiB > 0 {
		limit = int64(cfg.MemoryLimitMiB) << 20
	}
	return &Set{
		remote:           remote,
		tempRoot:         cfg.TempRoot,
		useDisk:          cfg.UseDisk,
		partSize:         partSize,
		memoryLimitBytes: limit,
		buffers:          make(map[string]Strategy),
		refs:             make(map[string]int),
		handles:          make(map[uint64]string),
		metrics:          mcol,
	}
}

// memoryConsumption sums Len() across every currently open memory-backed
// buffer, the basis for the optional memoryLimit ceiling.
func (s *Set) memoryConsumption() int64 {
	var total int64
	for _, b := range s.buffers {
		if b.IsMemoryBacked() {
			total += b.Len()
		}
	}
	return total
}

// reportMetrics pushes the current buffer count and memory consumption to
// the Prometheus gauges. Called with s.mu held, after every mutation of
// s.buffers.
func (s *Set) reportMetrics() {
	s.metrics.SetOpenBuffers(len(s.buffers))
	s.metrics.SetMemoryConsumption(s.memoryConsumption())
}

// Open installs the configured strategy for path if not already open, and
// returns a fresh handle onto it. The sparse selection and sha1Hex (non-empty
// only for a ".sha1" path, which selects the Hash strategy) are supplied by
// the caller (the Filesystem Operations Layer), which already knows whether
// path ends in ".sha1" and what strategy the configuration selects.
func (s *Set) Open(ctx context.Context, path string, existing *b2api.FileInfo, sparse bool, sha1Hex string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sha1Hex != "" {
		return s.install(path, NewHash(sha1Hex))
	}

	if buf, ok := s.buffers[path]; ok {
		return s.ref(path, buf)
	}

	if s.useDisk {
		if s.memoryLimitCheck(false) {
			return 0, b2err.New(b2err.UnsupportedOperation, "openfile", "memory limit exceeded").WithPath(path)
		}
		buf, err := NewDiskBacked(ctx, s.remote, s.tempRoot, path, existing)
		if err != nil {
			return 0, err
		}
		return s.install(path, buf)
	}
	if sparse {
		if s.memoryLimitCheck(true) {
			return 0, b2err.New(b2err.UnsupportedOperation, "openfile", "memory limit exceeded").WithPath(path)
		}
		buf := NewSparseMemory(s.remote, path, existing, s.partSize)
		return s.install(path, buf)
	}
	if s.memoryLimitCheck(true) {
		return 0, b2err.New(b2err.UnsupportedOperation, "openfile", "memory limit exceeded").WithPath(path)
	}
	buf, err := NewSequentialMemory(ctx, s.remote, path, existing)
	if err != nil {
		return 0, err
	}
	return s.install(path, buf)
}

// Create installs a brand-new (dirty, empty) strategy for path.
func (s *Set) Create(ctx context.Context, path string, sparse bool) (uint64, error) {
	return s.Open(ctx, path, nil, sparse, "")
}

func (s *Set) memoryLimitCheck(memoryBacked bool) bool {
	if !memoryBacked || s.memoryLimitBytes <= 0 {
		return false
	}
	return s.memoryConsumption() >= s.memoryLimitBytes
}

func (s *Set) install(path string, buf Strategy) (uint64, error) {
	s.buffers[path] = buf
	s.reportMetrics()
	return s.ref(path, buf)
}

func (s *Set) ref(path string, buf Strategy) (uint64, error) {
	s.nextHandle++
	h := s.nextHandle
	s.handles[h] = path
	s.refs[path]++
	return h, nil
}

// Lookup returns the buffer and path bound to handle.
func (s *Set) Lookup(handle uint64) (Strategy, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, ok := s.handles[handle]
	if !ok {
		return nil, "", false
	}
	buf, ok := s.buffers[path]
	return buf, path, ok
}

// ByPath returns the buffer currently open for path, if any.
func (s *Set) ByPath(path string) (Strategy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[path]
	return buf, ok
}

// Release drops handle. When it was the last handle onto its path and purge
// is true, the buffer is evicted from the set (local storage only; remote
// content is untouched).
func (s *Set) Release(handle uint64, purge bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, ok := s.handles[handle]
	if !ok {
		return
	}
	delete(s.handles, handle)
	s.refs[path]--
	if s.refs[path] > 0 {
		return
	}
	delete(s.refs, path)
	if purge {
		delete(s.buffers, path)
		s.reportMetrics()
	}
}

// Discard immediately removes path's buffer without uploading, used by
// unlink: any outstanding handle onto it now observes NotFound.
func (s *Set) Discard(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, path)
	for h, p := range s.handles {
		if p == path {
			delete(s.handles, h)
		}
	}
	delete(s.refs, path)
	s.reportMetrics()
}

// OpenPaths returns every path currently backed by an open buffer, used by
// readdir to merge local-only files into the listing.
func (s *Set) OpenPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.buffers))
	for p := range s.buffers {
		if !strings.HasSuffix(p, hashSuffix) {
			out = append(out, p)
		}
	}
	return out
}

const hashSuffix = ".sha1"
