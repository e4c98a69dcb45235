package b2fs

import (
	"context"
	"testing"
	"time"

	"github.com/falense/b2-fuse/internal/b2api"
	"github.com/falense/b2-fuse/internal/b2api/b2apifake"
	"github.com/falense/b2-fuse/internal/bucketcache"
	"github.com/falense/b2-fuse/internal/dirtree"
	"github.com/falense/b2-fuse/internal/openfile"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestFileSystem(t *testing.T) (*FileSystem, *b2apifake.Client) {
	t.Helper()
	client := b2apifake.New()
	remote := openfile.NewRemote(client)
	listCache := bucketcache.NewListingCache(time.Minute, nil)
	dirIndex := dirtree.NewIndex()
	files := openfile.NewSet(remote, openfile.Config{}, nil)
	cfg := DefaultConfig()
	fsys := NewFileSystem(client, remote, listCache, dirIndex, files, nil, zerolog.Nop(), cfg)
	return fsys, client
}

func TestSyncIndexBuildsDirectoryTreeFromListing(t *testing.T) {
	fsys, client := newTestFileSystem(t)
	client.Seed("dir1/file1.txt", []byte("hello"))
	client.Seed("dir1/file2.txt", []byte("world!"))
	client.Seed("dir2/file3.txt", []byte("x"))

	require.NoError(t, fsys.syncIndex(context.Background()))

	require.True(t, fsys.dirIndex.IsDirectory("dir1"))
	require.True(t, fsys.dirIndex.IsDirectory("dir2"))
	fi, ok := fsys.dirIndex.GetFileInfo("dir1/file1.txt")
	require.True(t, ok)
	require.Equal(t, int64(5), fi.Size)

	require.Equal(t, int64(5+6+1), fsys.cloudConsumption())
}

func TestSyncIndexUnionsLocalDirsWithListing(t *testing.T) {
	fsys, _ := newTestFileSystem(t)
	fsys.addLocalDir("empty")

	require.NoError(t, fsys.syncIndex(context.Background()))
	require.True(t, fsys.dirIndex.IsDirectory("empty"))
}

func TestChooseSparsePicksSparseOnlyAboveThreshold(t *testing.T) {
	fsys, _ := newTestFileSystem(t)
	fsys.cfg.SparseThresholdBytes = 100

	require.False(t, fsys.chooseSparse(nil))
	require.False(t, fsys.chooseSparse(&b2api.FileInfo{Size: 50}))
	require.True(t, fsys.chooseSparse(&b2api.FileInfo{Size: 200}))
}

func TestUnlinkPathSynchronousPurgesAllVersionsAndCache(t *testing.T) {
	fsys, client := newTestFileSystem(t)
	client.Seed("a.txt", []byte("one"))
	client.Seed("a.txt", []byte("two"))
	require.NoError(t, fsys.syncIndex(context.Background()))
	fsys.listCache.Put("", []b2api.FileInfo{{Name: "a.txt", Size: 3}})

	require.NoError(t, fsys.unlinkPath(context.Background(), "a.txt"))

	versions, err := client.ListVersions(context.Background(), "a.txt")
	require.NoError(t, err)
	require.Empty(t, versions)

	cached, ok := fsys.listCache.Get("")
	require.True(t, ok)
	for _, fi := range cached {
		require.NotEqual(t, "a.txt", fi.Name)
	}
}

func TestUnlinkPathDiscardsOpenBuffer(t *testing.T) {
	fsys, _ := newTestFileSystem(t)
	handle, err := fsys.files.Create(context.Background(), "scratch.txt", false)
	require.NoError(t, err)
	_, _, ok := fsys.files.Lookup(handle)
	require.True(t, ok)

	require.NoError(t, fsys.unlinkPath(context.Background(), "scratch.txt"))

	_, ok = fsys.files.ByPath("scratch.txt")
	require.False(t, ok)
}

func TestFlushBufferSkipsHiddenDotfiles(t *testing.T) {
	fsys, _ := newTestFileSystem(t)
	handle, err := fsys.files.Create(context.Background(), "dir/.hidden", false)
	require.NoError(t, err)
	buf, _, ok := fsys.files.Lookup(handle)
	require.True(t, ok)
	require.NoError(t, buf.WriteAt(0, []byte("secret")))

	require.NoError(t, fsys.flushBuffer(context.Background(), "dir/.hidden", buf))
	require.True(t, buf.Dirty(), "hidden file must not be uploaded, so it stays dirty")
}

func TestFlushBufferUploadsDirtyVisibleFileSynchronously(t *testing.T) {
	fsys, client := newTestFileSystem(t)
	handle, err := fsys.files.Create(context.Background(), "note.txt", false)
	require.NoError(t, err)
	buf, _, ok := fsys.files.Lookup(handle)
	require.True(t, ok)
	require.NoError(t, buf.WriteAt(0, []byte("hello")))

	require.NoError(t, fsys.flushBuffer(context.Background(), "note.txt", buf))
	require.False(t, buf.Dirty())

	versions, err := client.ListVersions(context.Background(), "note.txt")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Equal(t, int64(5), versions[0].Size)
}

func TestFlushBufferIsNoOpWhenNotDirty(t *testing.T) {
	fsys, client := newTestFileSystem(t)
	fi := client.Seed("clean.txt", []byte("already uploaded"))
	handle, err := fsys.files.Open(context.Background(), "clean.txt", &fi, false, "")
	require.NoError(t, err)
	buf, _, ok := fsys.files.Lookup(handle)
	require.True(t, ok)
	require.False(t, buf.Dirty())

	require.NoError(t, fsys.flushBuffer(context.Background(), "clean.txt", buf))

	versions, err := client.ListVersions(context.Background(), "clean.txt")
	require.NoError(t, err)
	require.Len(t, versions, 1, "a clean buffer must not trigger a second upload")
}

func TestJoinPath(t *testing.T) {
	require.Equal(t, "a", joinPath("", "a"))
	require.Equal(t, "a/b", joinPath("a", "b"))
}

func TestStatsSnapshotIsIndependentCopy(t *testing.T) {
	fsys, _ := newTestFileSystem(t)
	fsys.stats.inc(&fsys.stats.Opens)
	snap := fsys.Stats()
	require.Equal(t, int64(1), snap.Opens)
	fsys.stats.inc(&fsys.stats.Opens)
	require.Equal(t, int64(1), snap.Opens, "snapshot must not alias the live counters")
}
