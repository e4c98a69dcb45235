package dirtree

import (
	"strings"
	"sync"

	"github.com/falense/b2-fuse/internal/b2api"
)

// Index is the root of the rebuildable directory tree (the DirectoryIndex
// of §3). It is safe for concurrent use; Update replaces the entire tree
// atomically under the lock, matching the "rebuilt from scratch on demand"
// semantics of the original's DirectoryStructure.update_structure.
type Index struct {
	mu   sync.RWMutex
	root *Directory
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{root: newDirectory("")}
}

// Update rebuilds the tree from scratch: first materializing every
// locally-created directory path, then, for each file, materializing its
// parent chain and appending the FileInfo, per §4.3's three-step algorithm.
func (idx *Index) Update(files []b2api.FileInfo, localDirs []string) {
	root := newDirectory("")

	for _, dir := range localDirs {
		materializeChain(root, splitPath(dir))
	}

	for _, fi := range files {
		segs := splitPath(fi.Name)
		if len(segs) == 0 {
			continue
		}
		parent := materializeChain(root, segs[:len(segs)-1])
		if parent == nil {
			continue
		}
		parent.appendFile(fi)
	}

	idx.mu.Lock()
	idx.root = root
	idx.mu.Unlock()
}

// materializeChain walks/creates segs from d, returning the terminal
// directory, or nil if a file occupies one of the intermediate segments.
func materializeChain(d *Directory, segs []string) *Directory {
	cur := d
	for _, seg := range segs {
		cur = cur.materializeChild(seg)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// IsDirectory reports whether path resolves to an existing directory node
// (the root, addressed by the empty path, always qualifies).
func (idx *Index) IsDirectory(path string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.lookupDir(path)
	return ok
}

// IsFile reports whether path resolves to a file record.
func (idx *Index) IsFile(path string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.lookupFile(path)
	return ok
}

// GetDirectory returns the Directory node at path.
func (idx *Index) GetDirectory(path string) (*Directory, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.lookupDir(path)
}

// GetFileInfo returns the FileInfo for the file at path.
func (idx *Index) GetFileInfo(path string) (b2api.FileInfo, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.lookupFile(path)
}

// Children returns the union of subdirectory names and file basenames
// directly under path. Order is unspecified; callers sort if desired.
func (idx *Index) Children(path string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	d, ok := idx.lookupDir(path)
	if !ok {
		return nil
	}
	names := d.childNames()
	for _, fi := range d.files {
		names = append(names, keyBasename(fi.Name))
	}
	return names
}

func (idx *Index) lookupDir(path string) (*Directory, bool) {
	segs := splitPath(path)
	cur := idx.root
	for _, seg := range segs {
		next, ok := cur.children[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func (idx *Index) lookupFile(path string) (b2api.FileInfo, bool) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return b2api.FileInfo{}, false
	}
	parent, ok := idx.lookupDir(strings.Join(segs[:len(segs)-1], "/"))
	if !ok {
		return b2api.FileInfo{}, false
	}
	return parent.fileByBasename(segs[len(segs)-1])
}

// splitPath strips leading/trailing slashes and splits on "/", discarding
// empty segments, so "", "/", "a//b/" and "a/b" all resolve consistently.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
