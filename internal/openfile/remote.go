package openfile

import (
	"context"

	"github.com/falense/b2-fuse/internal/b2api"
)

// Remote is the narrow capability an open-file buffer needs from the
// backend: fetch bytes by id, and publish a new version of a key. Modeled
// as two callbacks rather than a full client back-reference, per the
// design's note on cyclic/owning references.
type Remote interface {
	Fetch(ctx context.Context, id string, rng *b2api.ByteRange) ([]byte, error)
	// Publish deletes every existing version of key, uploads data as the
	// new version, and returns its FileInfo — the whole-object replace
	// §4.4's Upload() describes.
	Publish(ctx context.Context, key string, data []byte) (b2api.FileInfo, error)
	// Purge deletes every existing remote version of key without uploading
	// a replacement, used by Delete(remote=true).
	Purge(ctx context.Context, key string) error
}

type clientRemote struct {
	client b2api.Client
}

// NewRemote adapts a b2api.Client down to the Remote capability.
func NewRemote(client b2api.Client) Remote {
	return &clientRemote{client: client}
}

func (r *clientRemote) Fetch(ctx context.Context, id string, rng *b2api.ByteRange) ([]byte, error) {
	return r.client.Download(ctx, id, rng)
}

func (r *clientRemote) Publish(ctx context.Context, key string, data []byte) (b2api.FileInfo, error) {
	if err := r.Purge(ctx, key); err != nil {
		return b2api.FileInfo{}, err
	}
	return r.client.Upload(ctx, key, data)
}

func (r *clientRemote) Purge(ctx context.Context, key string) error {
	versions, err := r.client.ListVersions(ctx, key)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if err := r.client.DeleteVersion(ctx, v.ID, key); err != nil {
			return err
		}
	}
	return nil
}
