package b2fs

import (
	"context"
	"strings"
	"syscall"

	"github.com/falense/b2-fuse/internal/b2api"
	b2err "github.com/falense/b2-fuse/pkg/errors"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// DirectoryNode is one directory in the mounted tree: path is the
// canonicalised key prefix it represents ("" for the root).
type DirectoryNode struct {
	fs.Inode
	fsys *FileSystem
	path string
}

var (
	_ fs.NodeLookuper  = (*DirectoryNode)(nil)
	_ fs.NodeReaddirer = (*DirectoryNode)(nil)
	_ fs.NodeMkdirer   = (*DirectoryNode)(nil)
	_ fs.NodeCreater   = (*DirectoryNode)(nil)
	_ fs.NodeUnlinker  = (*DirectoryNode)(nil)
	_ fs.NodeRmdirer   = (*DirectoryNode)(nil)
	_ fs.NodeRenamer   = (*DirectoryNode)(nil)
	_ fs.NodeGetattrer = (*DirectoryNode)(nil)
	_ fs.NodeSetattrer = (*DirectoryNode)(nil)
	_ fs.NodeAccesser  = (*DirectoryNode)(nil)
	_ fs.NodeStatfser  = (*DirectoryNode)(nil)
)

// Lookup resolves name under this directory: a known directory, a listed
// file, a locally-open-but-unlisted file, or (if hashfiles are enabled and
// name ends ".sha1") the synthetic hash virtual file, per §4.6.
func (n *DirectoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.fsys.stats.inc(&n.fsys.stats.Lookups)

	if err := n.fsys.syncIndex(ctx); err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return nil, b2err.Errno(err)
	}

	childPath := joinPath(n.path, name)

	if n.fsys.cfg.EnableHashfiles && strings.HasSuffix(name, hashSuffix) {
		base := strings.TrimSuffix(childPath, hashSuffix)
		if fi, ok := n.fsys.dirIndex.GetFileInfo(base); ok {
			return n.newHashInode(ctx, childPath, fi.SHA1), 0
		}
		return nil, syscall.ENOENT
	}

	if n.fsys.dirIndex.IsDirectory(childPath) {
		return n.newDirInode(ctx, childPath), 0
	}
	if fi, ok := n.fsys.dirIndex.GetFileInfo(childPath); ok {
		return n.newFileInode(ctx, childPath, &fi), 0
	}
	if _, ok := n.fsys.files.ByPath(childPath); ok {
		return n.newFileInode(ctx, childPath, nil), 0
	}
	return nil, syscall.ENOENT
}

// Readdir rebuilds the directory index and emits one entry per
// subdirectory and file directly under this directory, merging in
// locally-open files the listing doesn't know about yet and, when
// hashfiles are enabled, a synthetic "<name>.sha1" entry per file.
func (n *DirectoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	if err := n.fsys.syncIndex(ctx); err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return nil, b2err.Errno(err)
	}

	seen := make(map[string]bool)
	var entries []fuse.DirEntry

	for _, name := range n.fsys.dirIndex.Children(n.path) {
		seen[name] = true
		childPath := joinPath(n.path, name)
		if n.fsys.dirIndex.IsDirectory(childPath) {
			entries = append(entries, fuse.DirEntry{Name: name, Mode: fuse.S_IFDIR})
			continue
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: fuse.S_IFREG})
		if n.fsys.cfg.EnableHashfiles {
			entries = append(entries, fuse.DirEntry{Name: name + hashSuffix, Mode: fuse.S_IFREG})
		}
	}

	for _, p := range n.fsys.files.OpenPaths() {
		dir, base := splitParent(p)
		if dir != n.path || seen[base] {
			continue
		}
		seen[base] = true
		entries = append(entries, fuse.DirEntry{Name: base, Mode: fuse.S_IFREG})
		if n.fsys.cfg.EnableHashfiles {
			entries = append(entries, fuse.DirEntry{Name: base + hashSuffix, Mode: fuse.S_IFREG})
		}
	}

	return fs.NewListDirStream(entries), 0
}

// Mkdir appends path to the local-directories set and rebuilds the index.
func (n *DirectoryNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := joinPath(n.path, name)
	n.fsys.addLocalDir(childPath)
	if err := n.fsys.syncIndex(ctx); err != nil {
		return nil, b2err.Errno(err)
	}
	return n.newDirInode(ctx, childPath), 0
}

// Create installs a brand-new, empty, dirty buffer and opens it immediately.
func (n *DirectoryNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childPath := joinPath(n.path, name)
	handle, err := n.fsys.files.Create(ctx, childPath, false)
	if err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return nil, nil, 0, b2err.Errno(err)
	}
	n.fsys.stats.inc(&n.fsys.stats.Creates)
	node := n.newFileInode(ctx, childPath, nil)
	return node, &FileHandle{fsys: n.fsys, path: childPath, handle: handle}, 0, 0
}

// Unlink deletes the remote key and discards any open buffer for name. A
// missing target is a no-op, per §4.6.
func (n *DirectoryNode) Unlink(ctx context.Context, name string) syscall.Errno {
	childPath := joinPath(n.path, name)
	if err := n.fsys.syncIndex(ctx); err != nil {
		return b2err.Errno(err)
	}
	_, isFile := n.fsys.dirIndex.GetFileInfo(childPath)
	_, isOpen := n.fsys.files.ByPath(childPath)
	if !isFile && !isOpen {
		return 0
	}
	n.fsys.stats.inc(&n.fsys.stats.Unlinks)
	if err := n.fsys.unlinkPath(ctx, childPath); err != nil {
		return b2err.Errno(err)
	}
	return 0
}

// Rmdir removes every remote file one level below name, discards their open
// buffers, and drops name from the local-directories set. It does not
// recurse into grandchildren, matching the original's immediate-children
// check.
func (n *DirectoryNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	childPath := joinPath(n.path, name)
	if err := n.fsys.syncIndex(ctx); err != nil {
		return b2err.Errno(err)
	}
	if dir, ok := n.fsys.dirIndex.GetDirectory(childPath); ok {
		for _, fi := range dir.Files() {
			if err := n.fsys.unlinkPath(ctx, fi.Name); err != nil {
				n.fsys.log.Warn().Err(err).Str("key", fi.Name).Msg("rmdir: failed to purge child file")
			}
		}
		for _, sub := range n.fsys.dirIndex.Children(childPath) {
			if n.fsys.dirIndex.IsDirectory(joinPath(childPath, sub)) {
				n.fsys.log.Warn().Str("path", joinPath(childPath, sub)).Msg("rmdir: files below this subdirectory are not removed")
			}
		}
	}
	n.fsys.removeLocalDir(childPath)
	return 0
}

// Rename implements the backend's lack of a native rename: open(o), read
// its full contents, create(n) (unlinking n first if it already exists),
// write the contents, release(n), unlink(o).
func (n *DirectoryNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	newDir, ok := newParent.(*DirectoryNode)
	if !ok {
		return syscall.EIO
	}
	oldPath := joinPath(n.path, name)
	newPath := joinPath(newDir.path, newName)

	if err := n.fsys.syncIndex(ctx); err != nil {
		return b2err.Errno(err)
	}
	oldInfo, oldIsFile := n.fsys.dirIndex.GetFileInfo(oldPath)
	_, oldIsOpen := n.fsys.files.ByPath(oldPath)
	if !oldIsFile && !oldIsOpen {
		return syscall.ENOENT
	}

	if _, exists := n.fsys.dirIndex.GetFileInfo(newPath); exists {
		if err := n.fsys.unlinkPath(ctx, newPath); err != nil {
			return b2err.Errno(err)
		}
	}

	var existing *b2api.FileInfo
	if oldIsFile {
		existing = &oldInfo
	}
	oldHandle, err := n.fsys.files.Open(ctx, oldPath, existing, n.fsys.chooseSparse(existing), "")
	if err != nil {
		return b2err.Errno(err)
	}
	oldBuf, _, _ := n.fsys.files.Lookup(oldHandle)
	content, err := oldBuf.ReadAt(ctx, 0, oldBuf.Len())
	if err != nil {
		n.fsys.files.Release(oldHandle, true)
		return b2err.Errno(err)
	}

	newHandle, err := n.fsys.files.Create(ctx, newPath, false)
	if err != nil {
		n.fsys.files.Release(oldHandle, true)
		return b2err.Errno(err)
	}
	newBuf, _, _ := n.fsys.files.Lookup(newHandle)
	if err := newBuf.WriteAt(0, content); err != nil {
		n.fsys.files.Release(oldHandle, true)
		n.fsys.files.Release(newHandle, true)
		return b2err.Errno(err)
	}
	if err := n.fsys.flushBuffer(ctx, newPath, newBuf); err != nil {
		n.fsys.files.Release(oldHandle, true)
		n.fsys.files.Release(newHandle, true)
		return b2err.Errno(err)
	}
	n.fsys.files.Release(newHandle, n.fsys.cfg.PurgeOnRelease)
	n.fsys.files.Release(oldHandle, true)

	if err := n.fsys.unlinkPath(ctx, oldPath); err != nil {
		return b2err.Errno(err)
	}
	return 0
}

func (n *DirectoryNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	cfg := n.fsys.cfg
	out.Mode = fuse.S_IFDIR | cfg.DirMode
	out.Uid, out.Gid = cfg.UID, cfg.GID
	return 0
}

// Setattr accepts utimens/chmod/chown without effect, per §4.6.
func (n *DirectoryNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return n.Getattr(ctx, fh, out)
}

// Access always succeeds for a node that already resolved via Lookup; the
// original's standalone access() pre-check has no equivalent in go-fuse's
// Inode model, where ACCESS is only ever sent against an already-resolved
// inode.
func (n *DirectoryNode) Access(ctx context.Context, mask uint32) syscall.Errno {
	return 0
}

// Statfs reports a fixed large capacity minus current known cloud
// consumption, per §4.6.
func (n *DirectoryNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	cfg := n.fsys.cfg
	used := uint64(n.fsys.cloudConsumption()) / uint64(cfg.BlockSize)
	if used > cfg.TotalBlocks {
		used = cfg.TotalBlocks
	}
	out.Blocks = cfg.TotalBlocks
	out.Bfree = cfg.TotalBlocks - used
	out.Bavail = out.Bfree
	out.Bsize = cfg.BlockSize
	out.Frsize = cfg.BlockSize
	out.NameLen = 255
	return 0
}

func (n *DirectoryNode) newDirInode(ctx context.Context, path string) *fs.Inode {
	return n.NewInode(ctx, &DirectoryNode{fsys: n.fsys, path: path}, fs.StableAttr{Mode: fuse.S_IFDIR})
}

func (n *DirectoryNode) newFileInode(ctx context.Context, path string, info *b2api.FileInfo) *fs.Inode {
	return n.NewInode(ctx, &FileNode{fsys: n.fsys, path: path, info: info}, fs.StableAttr{Mode: fuse.S_IFREG})
}

func (n *DirectoryNode) newHashInode(ctx context.Context, path, sha1Hex string) *fs.Inode {
	return n.NewInode(ctx, &FileNode{fsys: n.fsys, path: path, hashOf: sha1Hex}, fs.StableAttr{Mode: fuse.S_IFREG})
}

// splitParent splits "a/b/c" into ("a/b", "c"); "a" splits into ("", "a").
func splitParent(path string) (dir, base string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

func isHiddenBasename(path string) bool {
	_, base := splitParent(path)
	return strings.HasPrefix(base, ".")
}
