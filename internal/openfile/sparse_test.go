package openfile

import (
	"context"
	"testing"

	"github.com/falense/b2-fuse/internal/b2api/b2apifake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSparseMemoryNewFileStartsAsSingleEmptyPart(t *testing.T) {
	s := NewSparseMemory(NewRemote(b2apifake.New()), "a.bin", nil, 16)
	assert.Equal(t, int64(0), s.Len())
	assert.True(t, s.Dirty())
}

func TestSparseMemoryAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := NewSparseMemory(NewRemote(b2apifake.New()), "a.bin", nil, 4)

	require.NoError(t, s.WriteAt(0, []byte("ab")))
	require.Error(t, s.WriteAt(0, []byte("x"))) // not append -> rejected
	require.NoError(t, s.WriteAt(2, []byte("cd")))
	require.NoError(t, s.WriteAt(4, []byte("ef")))

	out, err := s.ReadAt(ctx, 0, 6)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(out))
}

func TestSparseMemoryFetchesMissingPartsOnRead(t *testing.T) {
	ctx := context.Background()
	fake := b2apifake.New()
	content := make([]byte, 10)
	copy(content, []byte("0123456789"))
	seed := fake.Seed("a.bin", content)

	s := NewSparseMemory(NewRemote(fake), "a.bin", &seed, 4)
	out, err := s.ReadAt(ctx, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(out))

	out, err = s.ReadAt(ctx, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, "4567", string(out))
}

func TestSparseMemoryTruncateZeroResets(t *testing.T) {
	s := NewSparseMemory(NewRemote(b2apifake.New()), "a.bin", nil, 4)
	require.NoError(t, s.WriteAt(0, []byte("abcd")))
	require.NoError(t, s.Truncate(0))
	assert.Equal(t, int64(0), s.Len())
}

func TestSparseMemoryTruncateNonZeroFails(t *testing.T) {
	s := NewSparseMemory(NewRemote(b2apifake.New()), "a.bin", nil, 4)
	require.NoError(t, s.WriteAt(0, []byte("abcd")))
	require.Error(t, s.Truncate(2))
}

func TestSparseMemoryUploadAssemblesFullBuffer(t *testing.T) {
	ctx := context.Background()
	fake := b2apifake.New()
	s := NewSparseMemory(NewRemote(fake), "a.bin", nil, 4)
	require.NoError(t, s.WriteAt(0, []byte("abcdef")))
	require.NoError(t, s.Upload(ctx))

	fi, ok := s.FileInfo()
	require.True(t, ok)
	data, err := fake.Download(ctx, fi.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
}
