package dirtree

import (
	"sort"
	"testing"

	"github.com/falense/b2-fuse/internal/b2api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateMaterializesFileParentChains(t *testing.T) {
	idx := NewIndex()
	idx.Update([]b2api.FileInfo{
		{Name: "docs/a.txt", Size: 1},
		{Name: "docs/sub/b.txt", Size: 2},
	}, nil)

	assert.True(t, idx.IsDirectory(""))
	assert.True(t, idx.IsDirectory("docs"))
	assert.True(t, idx.IsDirectory("docs/sub"))
	assert.True(t, idx.IsFile("docs/a.txt"))
	assert.True(t, idx.IsFile("docs/sub/b.txt"))
	assert.False(t, idx.IsDirectory("docs/a.txt"))
}

func TestUpdateMaterializesLocalDirectories(t *testing.T) {
	idx := NewIndex()
	idx.Update(nil, []string{"empty/nested"})

	assert.True(t, idx.IsDirectory("empty"))
	assert.True(t, idx.IsDirectory("empty/nested"))
	assert.False(t, idx.IsFile("empty"))
}

func TestFileWinsOverLocalDirectoryCollision(t *testing.T) {
	idx := NewIndex()
	idx.Update([]b2api.FileInfo{{Name: "a", Size: 1}}, []string{"a"})

	assert.True(t, idx.IsFile("a"))
	assert.False(t, idx.IsDirectory("a"))
}

func TestChildrenUnionsDirsAndFiles(t *testing.T) {
	idx := NewIndex()
	idx.Update([]b2api.FileInfo{
		{Name: "docs/a.txt"},
		{Name: "docs/sub/c.txt"},
	}, []string{"docs/empty"})

	children := idx.Children("docs")
	sort.Strings(children)
	assert.Equal(t, []string{"a.txt", "empty", "sub"}, children)
}

func TestGetFileInfoReturnsStoredRecord(t *testing.T) {
	idx := NewIndex()
	idx.Update([]b2api.FileInfo{{Name: "a.txt", Size: 42}}, nil)

	fi, ok := idx.GetFileInfo("a.txt")
	require.True(t, ok)
	assert.Equal(t, int64(42), fi.Size)
}

func TestUpdateIsFullRebuildNotIncremental(t *testing.T) {
	idx := NewIndex()
	idx.Update([]b2api.FileInfo{{Name: "a.txt"}}, nil)
	assert.True(t, idx.IsFile("a.txt"))

	idx.Update([]b2api.FileInfo{{Name: "b.txt"}}, nil)
	assert.False(t, idx.IsFile("a.txt"))
	assert.True(t, idx.IsFile("b.txt"))
}

func TestLeadingAndTrailingSlashesAreEquivalent(t *testing.T) {
	idx := NewIndex()
	idx.Update([]b2api.FileInfo{{Name: "docs/a.txt"}}, nil)

	assert.True(t, idx.IsFile("/docs/a.txt"))
	assert.True(t, idx.IsDirectory("/docs/"))
}
