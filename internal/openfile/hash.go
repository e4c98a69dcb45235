package openfile

import (
	"context"

	"github.com/falense/b2-fuse/internal/b2api"
	b2err "github.com/falense/b2-fuse/pkg/errors"
)

// Hash is the synthetic read-only "<key>.sha1" virtual file: 40 hex
// characters plus a trailing newline. Unlike the Python original's
// B2HashFile (whose read ignores its offset/length arguments and always
// returns the whole buffer), this honors the common contract's
// read(off,len) semantics exactly, since the specification states the
// contract applies to every strategy, not three of four.
type Hash struct {
	data []byte
}

var _ Strategy = (*Hash)(nil)

// NewHash builds the virtual file content for the given SHA-1 hex digest.
func NewHash(sha1Hex string) *Hash {
	return &Hash{data: []byte(sha1Hex + "\n")}
}

func (h *Hash) Len() int64 { return int64(len(h.data)) }

func (h *Hash) ReadAt(ctx context.Context, off, length int64) ([]byte, error) {
	return clampRead(h.data, off, length), nil
}

func (h *Hash) WriteAt(off int64, buf []byte) error {
	return b2err.New(b2err.UnsupportedOperation, "openfile", "hash file is read-only")
}

func (h *Hash) Truncate(n int64) error {
	return b2err.New(b2err.UnsupportedOperation, "openfile", "hash file is read-only")
}

func (h *Hash) Upload(ctx context.Context) error { return nil }

func (h *Hash) Delete(ctx context.Context, remote bool) error { return nil }

func (h *Hash) Dirty() bool { return false }

func (h *Hash) SetDirty(bool) {}

func (h *Hash) FileInfo() (b2api.FileInfo, bool) { return b2api.FileInfo{}, false }

func (h *Hash) IsMemoryBacked() bool { return false }
