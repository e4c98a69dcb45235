package openfile

import (
	"context"
	"sync"

	"github.com/falense/b2-fuse/internal/b2api"
	b2err "github.com/falense/b2-fuse/pkg/errors"
)

// SequentialMemory is a contiguous in-memory buffer, suitable for small
// files and full rewrites, grounded on B2SequentialFileMemory.py's whole-
// buffer strategy.
type SequentialMemory struct {
	mu      sync.Mutex
	key     string
	remote  Remote
	data    []byte
	dirty   bool
	info    b2api.FileInfo
	hasInfo bool
}

var _ Strategy = (*SequentialMemory)(nil)

// NewSequentialMemory opens key. When existing is non-nil its full content
// is fetched eagerly; a nil existing starts an empty, dirty new file.
func NewSequentialMemory(ctx context.Context, remote Remote, key string, existing *b2api.FileInfo) (*SequentialMemory, error) {
	s := &SequentialMemory{key: key, remote: remote}
	if existing == nil {
		s.dirty = true
		return s, nil
	}
	data, err := remote.Fetch(ctx, existing.ID, nil)
	if err != nil {
		return nil, err
	}
	s.data = data
	s.info = *existing
	s.hasInfo = true
	return s, nil
}

func (s *SequentialMemory) Len() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.data))
}

func (s *SequentialMemory) ReadAt(ctx context.Context, off, length int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clampRead(s.data, off, length), nil
}

func (s *SequentialMemory) WriteAt(off int64, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = growAndWrite(s.data, off, buf)
	s.dirty = true
	return nil
}

func (s *SequentialMemory) Truncate(n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = growZero(s.data, n)
	s.dirty = true
	return nil
}

func (s *SequentialMemory) Upload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	fi, err := s.remote.Publish(ctx, s.key, s.data)
	if err != nil {
		return b2err.Wrap(b2err.UploadFailed, "openfile", err).WithPath(s.key)
	}
	s.info = fi
	s.hasInfo = true
	s.dirty = false
	return nil
}

func (s *SequentialMemory) Delete(ctx context.Context, remote bool) error {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	if remote {
		return s.remote.Purge(ctx, s.key)
	}
	return nil
}

func (s *SequentialMemory) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *SequentialMemory) SetDirty(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = v
}

func (s *SequentialMemory) FileInfo() (b2api.FileInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, s.hasInfo
}

func (s *SequentialMemory) IsMemoryBacked() bool { return true }
