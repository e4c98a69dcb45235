package errors

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want syscall.Errno
	}{
		{NotFound, syscall.ENOENT},
		{PermissionDenied, syscall.EACCES},
		{AlreadyExists, syscall.EEXIST},
		{UnsupportedOperation, syscall.EIO},
		{RemoteFatal, syscall.EIO},
		{UploadFailed, syscall.EIO},
	}
	for _, c := range cases {
		err := New(c.kind, "b2fs", "boom")
		assert.Equal(t, c.want, Errno(err))
	}
}

func TestErrnoUnclassified(t *testing.T) {
	assert.Equal(t, syscall.EIO, Errno(fmt.Errorf("plain")))
	assert.Equal(t, syscall.Errno(0), Errno(nil))
}

func TestWrapUnwrap(t *testing.T) {
	cause := fmt.Errorf("network reset")
	err := Wrap(RemoteTransient, "b2api", cause)
	assert.ErrorIs(t, err, cause)
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, RemoteTransient, kind)
	assert.True(t, Retryable(err))
}

func TestWithOperationAndPath(t *testing.T) {
	err := New(NotFound, "dirtree", "missing").WithOperation("get_file_info").WithPath("a/b.txt")
	assert.Equal(t, "get_file_info", err.Operation)
	assert.Equal(t, "a/b.txt", err.Path)
	assert.Contains(t, err.Error(), "a/b.txt")
	assert.Contains(t, err.Error(), "get_file_info")
}

func TestIsComparesKindOnly(t *testing.T) {
	a := New(NotFound, "x", "one")
	b := New(NotFound, "y", "two")
	c := New(RemoteFatal, "x", "one")
	assert.True(t, a.Is(b))
	assert.False(t, a.Is(c))
}
