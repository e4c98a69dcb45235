package openfile

import (
	"context"
	"sync"

	"github.com/falense/b2-fuse/internal/b2api"
	b2err "github.com/falense/b2-fuse/pkg/errors"
)

// DefaultPartSize is the part granularity SparseMemory splits a file into,
// overridable via the fileDownloadSplit configuration key.
const DefaultPartSize = 1 << 20 // 1 MiB

// prefetchWindow is K, the number of parts opportunistically prefetched
// past the requested range, per §4.4.
const prefetchWindow = 1

// SparseMemory is a part-indexed in-memory buffer for random-access reads
// without downloading the whole object, grounded on B2SparseFileMemory.py.
// Writes support append only; any other write or a non-zero truncate fails
// with UnsupportedOperation.
type SparseMemory struct {
	mu       sync.Mutex
	key      string
	fileID   string
	remote   Remote
	partSize int64

	size      int64
	parts     [][]byte
	ready     []bool
	requested []bool

	dirty   bool
	info    b2api.FileInfo
	hasInfo bool
}

var _ Strategy = (*SparseMemory)(nil)

// NewSparseMemory opens key. A nil existing starts a new file as a single
// empty, ready part. Otherwise parts are indexed lazily from existing.Size.
func NewSparseMemory(remote Remote, key string, existing *b2api.FileInfo, partSize int64) *SparseMemory {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	s := &SparseMemory{key: key, remote: remote, partSize: partSize}

	if existing == nil {
		s.parts = [][]byte{{}}
		s.ready = []bool{true}
		s.requested = []bool{true}
		s.dirty = true
		return s
	}

	s.fileID = existing.ID
	s.size = existing.Size
	s.info = *existing
	s.hasInfo = true
	numParts := s.numParts()
	s.parts = make([][]byte, numParts)
	s.ready = make([]bool, numParts)
	s.requested = make([]bool, numParts)
	return s
}

func (s *SparseMemory) numParts() int64 {
	if s.size == 0 {
		return 1
	}
	return (s.size + s.partSize - 1) / s.partSize
}

func (s *SparseMemory) partRange(p int64) (lo, hi int64) {
	lo = p * s.partSize
	hi = lo + s.partSize - 1
	if hi > s.size-1 {
		hi = s.size - 1
	}
	return lo, hi
}

func (s *SparseMemory) Len() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// fetchParts synchronously downloads every part in [a,b] not yet ready,
// then opportunistically requests the next prefetchWindow parts in the
// background without blocking the caller.
func (s *SparseMemory) fetchParts(ctx context.Context, a, b int64) error {
	for p := a; p <= b; p++ {
		if s.ready[p] {
			continue
		}
		lo, hi := s.partRange(p)
		data, err := s.remote.Fetch(ctx, s.fileID, &b2api.ByteRange{Lo: lo, Hi: hi})
		if err != nil {
			return err
		}
		s.parts[p] = data
		s.ready[p] = true
		s.requested[p] = true
	}

	last := int64(len(s.parts)) - 1
	for p := b + 1; p <= b+prefetchWindow && p <= last; p++ {
		if s.requested[p] {
			continue
		}
		s.requested[p] = true
		go s.prefetchOne(p)
	}
	return nil
}

func (s *SparseMemory) prefetchOne(p int64) {
	lo, hi := s.partRange(p)
	data, err := s.remote.Fetch(context.Background(), s.fileID, &b2api.ByteRange{Lo: lo, Hi: hi})
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		return
	}
	s.parts[p] = data
	s.ready[p] = true
}

func (s *SparseMemory) ReadAt(ctx context.Context, off, length int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if off >= s.size || length <= 0 {
		return []byte{}, nil
	}
	end := off + length
	if end > s.size {
		end = s.size
	}
	a := off / s.partSize
	b := (end - 1) / s.partSize
	if err := s.fetchParts(ctx, a, b); err != nil {
		return nil, err
	}

	out := make([]byte, 0, end-off)
	for p := a; p <= b; p++ {
		lo, _ := s.partRange(p)
		partStart := int64(0)
		partEnd := int64(len(s.parts[p]))
		if p == a && off > lo {
			partStart = off - lo
		}
		if p == b {
			wantEnd := end - lo
			if wantEnd < partEnd {
				partEnd = wantEnd
			}
		}
		if partStart < partEnd {
			out = append(out, s.parts[p][partStart:partEnd]...)
		}
	}
	return out, nil
}

// WriteAt supports append only: off must equal the current logical length.
func (s *SparseMemory) WriteAt(off int64, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if off != s.size {
		return b2err.New(b2err.UnsupportedOperation, "openfile", "random write not supported").WithPath(s.key)
	}

	remaining := buf
	for len(remaining) > 0 {
		lastIdx := int64(len(s.parts)) - 1
		if lastIdx < 0 || int64(len(s.parts[lastIdx])) >= s.partSize {
			s.parts = append(s.parts, nil)
			s.ready = append(s.ready, true)
			s.requested = append(s.requested, true)
			lastIdx++
		}
		room := s.partSize - int64(len(s.parts[lastIdx]))
		n := int64(len(remaining))
		if n > room {
			n = room
		}
		s.parts[lastIdx] = append(s.parts[lastIdx], remaining[:n]...)
		s.ready[lastIdx] = true
		remaining = remaining[n:]
	}

	s.size += int64(len(buf))
	s.dirty = true
	return nil
}

// Truncate only supports resetting to zero length; any other length fails.
func (s *SparseMemory) Truncate(n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n != 0 {
		return b2err.New(b2err.UnsupportedOperation, "openfile", "truncate to non-zero length not supported").WithPath(s.key)
	}
	s.parts = [][]byte{{}}
	s.ready = []bool{true}
	s.requested = []bool{true}
	s.size = 0
	s.dirty = true
	return nil
}

func (s *SparseMemory) Upload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	full := make([]byte, 0, s.size)
	for _, p := range s.parts {
		full = append(full, p...)
	}
	fi, err := s.remote.Publish(ctx, s.key, full)
	if err != nil {
		return b2err.Wrap(b2err.UploadFailed, "openfile", err).WithPath(s.key)
	}
	s.fileID = fi.ID
	s.info = fi
	s.hasInfo = true
	s.dirty = false
	return nil
}

func (s *SparseMemory) Delete(ctx context.Context, remote bool) error {
	s.mu.Lock()
	s.parts = nil
	s.ready = nil
	s.requested = nil
	s.mu.Unlock()
	if remote {
		return s.remote.Purge(ctx, s.key)
	}
	return nil
}

func (s *SparseMemory) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *SparseMemory) SetDirty(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = v
}

func (s *SparseMemory) FileInfo() (b2api.FileInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, s.hasInfo
}

func (s *SparseMemory) IsMemoryBacked() bool { return true }
