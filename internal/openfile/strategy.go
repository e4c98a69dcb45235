package openfile

import (
	"context"

	"github.com/falense/b2-fuse/internal/b2api"
)

// Strategy is the contract every open-file buffering variant implements,
// per §4.4's common contract.
type Strategy interface {
	// Len returns the current logical size.
	Len() int64
	// ReadAt returns min(length, Len()-off) bytes starting at off; reads
	// beyond EOF yield an empty (non-nil) slice rather than an error.
	ReadAt(ctx context.Context, off, length int64) ([]byte, error)
	// WriteAt implements append / in-place overwrite / extend-then-append
	// depending on off relative to Len(), and marks the buffer dirty.
	WriteAt(off int64, buf []byte) error
	// Truncate sets the logical length to n, zero-extending if n > Len().
	Truncate(n int64) error
	// Upload performs a no-op unless Dirty(); otherwise a whole-object
	// replace against the remote, then clears the dirty flag.
	Upload(ctx context.Context) error
	// Delete releases local storage, and additionally deletes every remote
	// version of the key when remote is true.
	Delete(ctx context.Context, remote bool) error

	Dirty() bool
	SetDirty(bool)

	// FileInfo returns the most recently known remote snapshot, if any.
	FileInfo() (b2api.FileInfo, bool)

	// IsMemoryBacked reports whether this buffer counts against the
	// configured in-memory consumption ceiling (SequentialMemory and
	// SparseMemory do; DiskBacked and Hash do not).
	IsMemoryBacked() bool
}

// growAndWrite returns data resized and overwritten so that buf lands at
// byte offset off, zero-filling any gap between the old length and off.
// This single rule implements all three branches of §4.4's write contract:
// off==len() is a pure append (no gap to fill), off+len(buf)<=len() is an
// in-place overwrite (no growth), and off>len() extends with zeros first.
func growAndWrite(data []byte, off int64, buf []byte) []byte {
	newLen := off + int64(len(buf))
	if newLen > int64(len(data)) {
		grown := make([]byte, newLen)
		copy(grown, data)
		data = grown
	}
	copy(data[off:], buf)
	return data
}

// growZero returns data zero-extended to length n (truncated if n < len(data)).
func growZero(data []byte, n int64) []byte {
	if n <= int64(len(data)) {
		return data[:n]
	}
	grown := make([]byte, n)
	copy(grown, data)
	return grown
}

func clampRead(data []byte, off, length int64) []byte {
	if off < 0 || off >= int64(len(data)) {
		return []byte{}
	}
	end := off + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	out := make([]byte, end-off)
	copy(out, data[off:end])
	return out
}
