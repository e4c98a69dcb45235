// Package b2apifake is an in-memory stand-in for b2api.Client, grounded on
// the pack's convention of testing storage-backed layers against a fake
// in-process backend rather than a live network call (the same shape as
// objectfs's integration-test mock backend). It keeps every uploaded
// version of every key until DeleteVersion removes it, so ListVersions and
// rename/delete races can be exercised deterministically.
package b2apifake

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/falense/b2-fuse/internal/b2api"
	b2err "github.com/falense/b2-fuse/pkg/errors"
	"github.com/falense/b2-fuse/pkg/health"
)

// Client is an in-memory b2api.Client. The zero value is ready to use.
type Client struct {
	mu       sync.Mutex
	nextID   int
	versions map[string][]version // key -> versions, oldest first

	// UploadErr, when set, is returned by the next Upload call and cleared.
	UploadErr error
}

type version struct {
	id   string
	data []byte
	fi   b2api.FileInfo
}

var _ b2api.Client = (*Client)(nil)

func New() *Client {
	return &Client{versions: make(map[string][]version)}
}

func (c *Client) Authorize(ctx context.Context) error { return nil }

// Health always reports healthy; the fake has no notion of remote failures
// beyond the errors tests inject directly.
func (c *Client) Health() health.Snapshot {
	return health.NewTracker(health.DefaultConfig()).Snapshot()
}

func (c *Client) ListKeys(ctx context.Context, prefix, cursor string) (b2api.ListPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var files []b2api.FileInfo
	for key, vs := range c.versions {
		if len(vs) == 0 {
			continue
		}
		if len(prefix) > 0 && len(key) >= len(prefix) && key[:len(prefix)] != prefix {
			continue
		}
		if len(prefix) > len(key) {
			continue
		}
		files = append(files, vs[len(vs)-1].fi)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return b2api.ListPage{Files: files}, nil
}

func (c *Client) ListVersions(ctx context.Context, key string) ([]b2api.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	vs := c.versions[key]
	out := make([]b2api.FileInfo, len(vs))
	for i, v := range vs {
		out[i] = v.fi
	}
	return out, nil
}

func (c *Client) GetInfo(ctx context.Context, id string) (b2api.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, vs := range c.versions {
		for _, v := range vs {
			if v.id == id {
				return v.fi, nil
			}
		}
	}
	return b2api.FileInfo{}, b2err.New(b2err.NotFound, "b2apifake", "no such file id")
}

func (c *Client) Download(ctx context.Context, id string, rng *b2api.ByteRange) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, vs := range c.versions {
		for _, v := range vs {
			if v.id != id {
				continue
			}
			if rng == nil {
				out := make([]byte, len(v.data))
				copy(out, v.data)
				return out, nil
			}
			lo, hi := rng.Lo, rng.Hi
			if hi >= int64(len(v.data)) {
				hi = int64(len(v.data)) - 1
			}
			if lo > hi {
				return nil, nil
			}
			out := make([]byte, hi-lo+1)
			copy(out, v.data[lo:hi+1])
			return out, nil
		}
	}
	return nil, b2err.New(b2err.NotFound, "b2apifake", "no such file id")
}

func (c *Client) Upload(ctx context.Context, key string, body []byte) (b2api.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.UploadErr != nil {
		err := c.UploadErr
		c.UploadErr = nil
		return b2api.FileInfo{}, err
	}

	c.nextID++
	id := "fake-" + strconv.Itoa(c.nextID)
	fi := b2api.FileInfo{
		ID:     id,
		Name:   key,
		Action: b2api.ActionUpload,
		Size:   int64(len(body)),
	}
	data := make([]byte, len(body))
	copy(data, body)
	c.versions[key] = append(c.versions[key], version{id: id, data: data, fi: fi})
	return fi, nil
}

func (c *Client) DeleteVersion(ctx context.Context, id, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	vs := c.versions[key]
	for i, v := range vs {
		if v.id == id {
			c.versions[key] = append(vs[:i], vs[i+1:]...)
			return nil
		}
	}
	return nil // 404 treated as success
}

// Seed installs key with an initial version, for test setup.
func (c *Client) Seed(key string, body []byte) b2api.FileInfo {
	fi, err := c.Upload(context.Background(), key, body)
	if err != nil {
		panic(fmt.Sprintf("b2apifake: seed upload failed: %v", err))
	}
	return fi
}
