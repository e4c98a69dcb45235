package b2fs

import (
	"context"
	"syscall"
	"time"

	"github.com/falense/b2-fuse/internal/b2api"
	b2err "github.com/falense/b2-fuse/pkg/errors"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// FileNode is a regular file (or a synthetic ".sha1" hash file, when
// hashOf is set) somewhere in the tree. info is nil for a file that is
// open locally but not yet present in the remote listing.
type FileNode struct {
	fs.Inode
	fsys   *FileSystem
	path   string
	info   *b2api.FileInfo
	hashOf string // non-empty: this node is a synthetic "<key>.sha1" file
}

var (
	_ fs.NodeOpener    = (*FileNode)(nil)
	_ fs.NodeGetattrer = (*FileNode)(nil)
	_ fs.NodeSetattrer = (*FileNode)(nil)
	_ fs.NodeAccesser  = (*FileNode)(nil)
)

// Open installs (or attaches to) the configured open-file strategy and
// returns a fresh handle, per §4.6's open contract.
func (fn *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	var handle uint64
	var err error
	if fn.hashOf != "" {
		handle, err = fn.fsys.files.Open(ctx, fn.path, nil, false, fn.hashOf)
	} else {
		handle, err = fn.fsys.files.Open(ctx, fn.path, fn.info, fn.fsys.chooseSparse(fn.info), "")
	}
	if err != nil {
		fn.fsys.stats.inc(&fn.fsys.stats.Errors)
		return nil, 0, b2err.Errno(err)
	}
	fn.fsys.stats.inc(&fn.fsys.stats.Opens)
	return &FileHandle{fsys: fn.fsys, path: fn.path, handle: handle}, 0, 0
}

// Getattr fills in the per-kind attributes of §4.6's getattr row: the
// synthetic hash file is REG,0444,size=len(digest)+1; a listed file
// reports its remote size and upload time; a locally-open-but-unlisted
// file reports the current buffer length and a zero timestamp.
func (fn *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	cfg := fn.fsys.cfg

	if fn.hashOf != "" {
		out.Mode = fuse.S_IFREG | 0444
		out.Size = uint64(len(fn.hashOf) + 1)
		return 0
	}

	if fn.info != nil {
		out.Mode = fuse.S_IFREG | cfg.FileMode
		out.Size = uint64(fn.info.Size)
		t := uint64(time.Time(fn.info.UploadTimestamp).Unix())
		out.Mtime, out.Atime, out.Ctime = t, t, t
		out.Uid, out.Gid = cfg.UID, cfg.GID
		return 0
	}

	if buf, ok := fn.fsys.files.ByPath(fn.path); ok {
		out.Mode = fuse.S_IFREG | cfg.FileMode
		out.Size = uint64(buf.Len())
		out.Uid, out.Gid = cfg.UID, cfg.GID
		return 0
	}
	return syscall.ENOENT
}

// Setattr handles truncate (the only mutating attribute this layer acts
// on) and accepts utimens/chmod/chown without effect, per §4.6.
func (fn *FileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if buf, ok := fn.fsys.files.ByPath(fn.path); ok {
			if err := buf.Truncate(int64(size)); err != nil {
				return b2err.Errno(err)
			}
		}
	}
	return fn.Getattr(ctx, fh, out)
}

// Access always succeeds for a node that already resolved via Lookup.
func (fn *FileNode) Access(ctx context.Context, mask uint32) syscall.Errno {
	return 0
}

// FileHandle wraps one open handle onto an OpenFile strategy buffer.
type FileHandle struct {
	fsys   *FileSystem
	path   string
	handle uint64
}

var (
	_ fs.FileReader   = (*FileHandle)(nil)
	_ fs.FileWriter   = (*FileHandle)(nil)
	_ fs.FileFlusher  = (*FileHandle)(nil)
	_ fs.FileReleaser = (*FileHandle)(nil)
)

func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	buf, _, ok := fh.fsys.files.Lookup(fh.handle)
	if !ok {
		return nil, syscall.ENOENT
	}
	fh.fsys.stats.inc(&fh.fsys.stats.Reads)
	data, err := buf.ReadAt(ctx, off, int64(len(dest)))
	if err != nil {
		return nil, b2err.Errno(err)
	}
	return fuse.ReadResultData(data), 0
}

func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	buf, _, ok := fh.fsys.files.Lookup(fh.handle)
	if !ok {
		return 0, syscall.ENOENT
	}
	fh.fsys.stats.inc(&fh.fsys.stats.Writes)
	if err := buf.WriteAt(off, data); err != nil {
		return 0, b2err.Errno(err)
	}
	return uint32(len(data)), 0
}

// Flush calls upload() on the underlying buffer; the dirty bit is cleared
// on success, per §4.6.
func (fh *FileHandle) Flush(ctx context.Context) syscall.Errno {
	buf, path, ok := fh.fsys.files.Lookup(fh.handle)
	if !ok {
		return 0
	}
	if err := fh.fsys.flushBuffer(ctx, path, buf); err != nil {
		return b2err.Errno(err)
	}
	return 0
}

// Release flushes once more (covering writes since the last explicit
// flush) and, if purge-on-release is enabled, evicts the local buffer.
func (fh *FileHandle) Release(ctx context.Context) syscall.Errno {
	buf, path, ok := fh.fsys.files.Lookup(fh.handle)
	if ok {
		if err := fh.fsys.flushBuffer(ctx, path, buf); err != nil {
			fh.fsys.log.Warn().Err(err).Str("path", path).Msg("release: flush failed")
		}
	}
	fh.fsys.files.Release(fh.handle, fh.fsys.cfg.PurgeOnRelease)
	return 0
}
