package openfile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashContentIsHexDigestPlusNewline(t *testing.T) {
	h := NewHash("da39a3ee5e6b4b0d3255bfef95601890afd80709")
	assert.Equal(t, int64(41), h.Len())
}

func TestHashReadRespectsOffsetAndLength(t *testing.T) {
	h := NewHash("da39a3ee5e6b4b0d3255bfef95601890afd80709")
	out, err := h.ReadAt(context.Background(), 0, 4)
	require.NoError(t, err)
	assert.Equal(t, "da39", string(out))

	out, err = h.ReadAt(context.Background(), 39, 2)
	require.NoError(t, err)
	assert.Equal(t, "9\n", string(out))
}

func TestHashIsNeverDirtyAndReadOnly(t *testing.T) {
	h := NewHash("abc")
	assert.False(t, h.Dirty())
	h.SetDirty(true)
	assert.False(t, h.Dirty())
	assert.Error(t, h.WriteAt(0, []byte("x")))
	assert.Error(t, h.Truncate(0))
	assert.NoError(t, h.Upload(context.Background()))
}
