package writepipe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/falense/b2-fuse/internal/b2api"
	"github.com/falense/b2-fuse/internal/b2api/b2apifake"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	mu      sync.Mutex
	added   []b2api.FileInfo
	removed []string
}

func (f *fakeCache) AddFile(fi b2api.FileInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, fi)
}

func (f *fakeCache) RemoveFile(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, key)
}

func TestPutFileReturnsSynthesizedInfoImmediately(t *testing.T) {
	fake := b2apifake.New()
	cache := &fakeCache{}
	p := New(fake, cache, zerolog.Nop(), Config{Debounce: time.Hour}, nil)

	fi := p.PutFile("a.txt", []byte("hello"))
	assert.Equal(t, "a.txt", fi.Name)
	assert.Equal(t, int64(5), fi.Size)
	assert.Equal(t, b2api.ActionUpload, fi.Action)

	require.Len(t, cache.added, 1)
	assert.Equal(t, "a.txt", cache.added[0].Name)
}

func TestDeleteFilePatchesCacheImmediately(t *testing.T) {
	fake := b2apifake.New()
	cache := &fakeCache{}
	p := New(fake, cache, zerolog.Nop(), Config{Debounce: time.Hour}, nil)

	p.DeleteFile("a.txt")
	require.Len(t, cache.removed, 1)
	assert.Equal(t, "a.txt", cache.removed[0])
}

func TestShutdownFlushesStagedUploadToRemote(t *testing.T) {
	fake := b2apifake.New()
	cache := &fakeCache{}
	p := New(fake, cache, zerolog.Nop(), Config{Debounce: time.Hour, Workers: 2}, nil)
	p.Start(context.Background())

	p.PutFile("a.txt", []byte("hello"))
	require.NoError(t, p.Shutdown(context.Background()))

	page, err := fake.ListKeys(context.Background(), "", "")
	require.NoError(t, err)
	require.Len(t, page.Files, 1)
	assert.Equal(t, "a.txt", page.Files[0].Name)
}

func TestShutdownExecutesDeleteAfterSupersedingUpload(t *testing.T) {
	fake := b2apifake.New()
	fake.Seed("a.txt", []byte("old"))
	cache := &fakeCache{}
	p := New(fake, cache, zerolog.Nop(), Config{Debounce: time.Hour, Workers: 2}, nil)
	p.Start(context.Background())

	p.PutFile("a.txt", []byte("new"))
	p.DeleteFile("a.txt") // supersedes the pending upload in the staging window
	require.NoError(t, p.Shutdown(context.Background()))

	versions, err := fake.ListVersions(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestDebounceCoalescesRepeatedWrites(t *testing.T) {
	fake := b2apifake.New()
	cache := &fakeCache{}
	p := New(fake, cache, zerolog.Nop(), Config{Debounce: 50 * time.Millisecond, Workers: 2}, nil)
	p.Start(context.Background())

	p.PutFile("a.txt", []byte("v1"))
	p.PutFile("a.txt", []byte("v2"))
	p.PutFile("a.txt", []byte("v3"))

	time.Sleep(300 * time.Millisecond)
	require.NoError(t, p.Shutdown(context.Background()))

	versions, err := fake.ListVersions(context.Background(), "a.txt")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, int64(2), versions[0].Size) // "v3"
}
