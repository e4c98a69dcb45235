package openfile

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/falense/b2-fuse/internal/b2api"
	b2err "github.com/falense/b2-fuse/pkg/errors"
)

// DiskBacked buffers a file in a scratch file under a private temp root,
// mirroring the remote key's path, grounded on B2FileDisk.py.
type DiskBacked struct {
	mu      sync.Mutex
	key     string
	path    string
	remote  Remote
	f       *os.File
	dirty   bool
	info    b2api.FileInfo
	hasInfo bool
}

var _ Strategy = (*DiskBacked)(nil)

// NewDiskBacked opens key against a fresh scratch file at tempRoot/key,
// removing any stale leftover first. When existing is non-nil, the full
// remote content is downloaded into the scratch file before returning.
func NewDiskBacked(ctx context.Context, remote Remote, tempRoot, key string, existing *b2api.FileInfo) (*DiskBacked, error) {
	path := filepath.Join(tempRoot, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, b2err.Wrap(b2err.RemoteFatal, "openfile", err).WithPath(key)
	}
	_ = os.Remove(path)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, b2err.Wrap(b2err.RemoteFatal, "openfile", err).WithPath(key)
	}

	d := &DiskBacked{key: key, path: path, remote: remote, f: f}
	if existing == nil {
		d.dirty = true
		return d, nil
	}

	data, err := remote.Fetch(ctx, existing.ID, nil)
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, b2err.Wrap(b2err.RemoteFatal, "openfile", err).WithPath(key)
	}
	d.info = *existing
	d.hasInfo = true
	return d, nil
}

func (d *DiskBacked) Len() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	fi, err := d.f.Stat()
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (d *DiskBacked) ReadAt(ctx context.Context, off, length int64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	size, err := d.f.Stat()
	if err != nil {
		return nil, b2err.Wrap(b2err.RemoteFatal, "openfile", err).WithPath(d.key)
	}
	if off >= size.Size() {
		return []byte{}, nil
	}
	end := off + length
	if end > size.Size() {
		end = size.Size()
	}
	buf := make([]byte, end-off)
	n, err := d.f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, b2err.Wrap(b2err.RemoteFatal, "openfile", err).WithPath(d.key)
	}
	return buf[:n], nil
}

func (d *DiskBacked) WriteAt(off int64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.WriteAt(buf, off); err != nil {
		return b2err.Wrap(b2err.RemoteFatal, "openfile", err).WithPath(d.key)
	}
	d.dirty = true
	return nil
}

func (d *DiskBacked) Truncate(n int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.f.Truncate(n); err != nil {
		return b2err.Wrap(b2err.RemoteFatal, "openfile", err).WithPath(d.key)
	}
	d.dirty = true
	return nil
}

func (d *DiskBacked) Upload(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.dirty {
		return nil
	}
	if _, err := d.f.Seek(0, io.SeekStart); err != nil {
		return b2err.Wrap(b2err.RemoteFatal, "openfile", err).WithPath(d.key)
	}
	data, err := io.ReadAll(d.f)
	if err != nil {
		return b2err.Wrap(b2err.RemoteFatal, "openfile", err).WithPath(d.key)
	}
	fi, err := d.remote.Publish(ctx, d.key, data)
	if err != nil {
		return b2err.Wrap(b2err.UploadFailed, "openfile", err).WithPath(d.key)
	}
	d.info = fi
	d.hasInfo = true
	d.dirty = false
	return nil
}

func (d *DiskBacked) Delete(ctx context.Context, remote bool) error {
	d.mu.Lock()
	d.f.Close()
	_ = os.Remove(d.path)
	d.mu.Unlock()
	if remote {
		return d.remote.Purge(ctx, d.key)
	}
	return nil
}

func (d *DiskBacked) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

func (d *DiskBacked) SetDirty(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirty = v
}

func (d *DiskBacked) FileInfo() (b2api.FileInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info, d.hasInfo
}

func (d *DiskBacked) IsMemoryBacked() bool { return false }
