package openfile

import (
	"context"
	"testing"

	"github.com/falense/b2-fuse/internal/b2api/b2apifake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSet(t *testing.T) *Set {
	t.Helper()
	remote := NewRemote(b2apifake.New())
	return NewSet(remote, Config{TempRoot: t.TempDir()}, nil)
}

func TestSetCreateThenOpenSharesBuffer(t *testing.T) {
	ctx := context.Background()
	s := newTestSet(t)

	h1, err := s.Create(ctx, "a.txt", false)
	require.NoError(t, err)

	buf1, path, ok := s.Lookup(h1)
	require.True(t, ok)
	assert.Equal(t, "a.txt", path)
	require.NoError(t, buf1.WriteAt(0, []byte("hi")))

	h2, err := s.Open(ctx, "a.txt", nil, false, "")
	require.NoError(t, err)
	buf2, _, _ := s.Lookup(h2)
	assert.Same(t, buf1, buf2)
	assert.NotEqual(t, h1, h2)
}

func TestSetReleaseEvictsOnLastHandle(t *testing.T) {
	ctx := context.Background()
	s := newTestSet(t)

	h1, err := s.Create(ctx, "a.txt", false)
	require.NoError(t, err)
	h2, err := s.Open(ctx, "a.txt", nil, false, "")
	require.NoError(t, err)

	s.Release(h1, true)
	_, ok := s.ByPath("a.txt")
	assert.True(t, ok, "buffer still referenced by h2")

	s.Release(h2, true)
	_, ok = s.ByPath("a.txt")
	assert.False(t, ok)
}

func TestSetDiscardDropsAllHandlesImmediately(t *testing.T) {
	ctx := context.Background()
	s := newTestSet(t)
	h1, err := s.Create(ctx, "a.txt", false)
	require.NoError(t, err)

	s.Discard("a.txt")

	_, _, ok := s.Lookup(h1)
	assert.False(t, ok)
	_, ok = s.ByPath("a.txt")
	assert.False(t, ok)
}

func TestSetOpenHashInstallsHashStrategy(t *testing.T) {
	ctx := context.Background()
	s := newTestSet(t)
	h, err := s.Open(ctx, "a.txt.sha1", nil, false, "da39a3ee5e6b4b0d3255bfef95601890afd80709")
	require.NoError(t, err)

	buf, _, ok := s.Lookup(h)
	require.True(t, ok)
	assert.Equal(t, int64(41), buf.Len())
}

func TestSetMemoryLimitRejectsFurtherOpens(t *testing.T) {
	ctx := context.Background()
	remote := NewRemote(b2apifake.New())
	s := NewSet(remote, Config{TempRoot: t.TempDir(), MemoryLimitMiB: 1}, nil)

	h1, err := s.Create(ctx, "a.txt", false)
	require.NoError(t, err)
	buf, _, _ := s.Lookup(h1)
	require.NoError(t, buf.WriteAt(0, make([]byte, 2<<20))) // exceed 1 MiB

	_, err = s.Create(ctx, "b.txt", false)
	assert.Error(t, err)
}

func TestSetOpenPathsExcludesHashFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestSet(t)
	_, err := s.Create(ctx, "a.txt", false)
	require.NoError(t, err)
	_, err = s.Open(ctx, "a.txt.sha1", nil, false, "da39a3ee5e6b4b0d3255bfef95601890afd80709")
	require.NoError(t, err)

	paths := s.OpenPaths()
	assert.Equal(t, []string{"a.txt"}, paths)
}
