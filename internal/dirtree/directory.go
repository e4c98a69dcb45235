package dirtree

import "github.com/falense/b2-fuse/internal/b2api"

// Directory is one node of the tree: a name, its subdirectories keyed by
// name, and the files that live directly inside it.
type Directory struct {
	Name     string
	children map[string]*Directory
	files    []b2api.FileInfo
}

func newDirectory(name string) *Directory {
	return &Directory{Name: name, children: make(map[string]*Directory)}
}

func (d *Directory) childNames() []string {
	names := make([]string, 0, len(d.children))
	for name := range d.children {
		names = append(names, name)
	}
	return names
}

// fileByBasename returns the FileInfo whose key's final path segment is
// basename, if this directory holds one.
func (d *Directory) fileByBasename(basename string) (b2api.FileInfo, bool) {
	for _, fi := range d.files {
		if keyBasename(fi.Name) == basename {
			return fi, true
		}
	}
	return b2api.FileInfo{}, false
}

// Files returns the ordered list of FileInfo directly inside this directory.
func (d *Directory) Files() []b2api.FileInfo {
	out := make([]b2api.FileInfo, len(d.files))
	copy(out, d.files)
	return out
}

// appendFile adds fi to this directory's file list, evicting any
// subdirectory of the same basename so the file wins the leaf per the
// collision invariant in §3.
func (d *Directory) appendFile(fi b2api.FileInfo) {
	basename := keyBasename(fi.Name)
	delete(d.children, basename)
	for i, existing := range d.files {
		if keyBasename(existing.Name) == basename {
			d.files[i] = fi
			return
		}
	}
	d.files = append(d.files, fi)
}

// materializeChild returns (creating if absent) the subdirectory named
// name, unless a file already occupies that basename, in which case the
// directory yields to the existing file per the collision invariant.
func (d *Directory) materializeChild(name string) *Directory {
	if _, isFile := d.fileByBasename(name); isFile {
		return nil
	}
	child, ok := d.children[name]
	if !ok {
		child = newDirectory(name)
		d.children[name] = child
	}
	return child
}

func keyBasename(key string) string {
	segs := splitPath(key)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}
