package openfile

import (
	"context"
	"testing"

	"github.com/falense/b2-fuse/internal/b2api/b2apifake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskBackedWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	remote := NewRemote(b2apifake.New())
	d, err := NewDiskBacked(ctx, remote, t.TempDir(), "docs/a.txt", nil)
	require.NoError(t, err)
	defer d.Delete(ctx, false)

	require.NoError(t, d.WriteAt(0, []byte("hello")))
	out, err := d.ReadAt(ctx, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestDiskBackedDownloadsExistingContentOnOpen(t *testing.T) {
	ctx := context.Background()
	fake := b2apifake.New()
	seed := fake.Seed("docs/a.txt", []byte("remote content"))
	remote := NewRemote(fake)

	d, err := NewDiskBacked(ctx, remote, t.TempDir(), "docs/a.txt", &seed)
	require.NoError(t, err)
	defer d.Delete(ctx, false)

	out, err := d.ReadAt(ctx, 0, int64(len("remote content")))
	require.NoError(t, err)
	assert.Equal(t, "remote content", string(out))
	assert.False(t, d.Dirty())
}

func TestDiskBackedUploadPublishes(t *testing.T) {
	ctx := context.Background()
	fake := b2apifake.New()
	remote := NewRemote(fake)
	d, err := NewDiskBacked(ctx, remote, t.TempDir(), "a.txt", nil)
	require.NoError(t, err)
	defer d.Delete(ctx, false)

	require.NoError(t, d.WriteAt(0, []byte("x")))
	require.NoError(t, d.Upload(ctx))
	assert.False(t, d.Dirty())

	fi, ok := d.FileInfo()
	require.True(t, ok)
	assert.Equal(t, int64(1), fi.Size)
}

func TestDiskBackedTruncate(t *testing.T) {
	ctx := context.Background()
	remote := NewRemote(b2apifake.New())
	d, err := NewDiskBacked(ctx, remote, t.TempDir(), "a.txt", nil)
	require.NoError(t, err)
	defer d.Delete(ctx, false)

	require.NoError(t, d.WriteAt(0, []byte("hello")))
	require.NoError(t, d.Truncate(2))
	assert.Equal(t, int64(2), d.Len())
}
