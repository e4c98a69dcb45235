package b2fs

import (
	"fmt"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog"
)

// MountOptions carries the FUSE mount-time knobs, trimmed from objectfs's
// MountOptions to the ones this filesystem actually benefits from.
type MountOptions struct {
	AllowOther bool
	Debug      bool
	FSName     string

	AttrTimeout  time.Duration
	EntryTimeout time.Duration
}

// DefaultMountOptions mirrors the teacher's NewMountManager defaults.
func DefaultMountOptions() MountOptions {
	return MountOptions{
		FSName:       "b2fuse",
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
	}
}

// MountManager brings a FileSystem up at a mount point and tears it down
// again, following objectfs's MountManager shape.
type MountManager struct {
	filesystem *FileSystem
	mountPoint string
	opts       MountOptions
	log        zerolog.Logger

	server  *fuse.Server
	mounted bool
}

// NewMountManager builds a MountManager for filesystem at mountPoint.
func NewMountManager(filesystem *FileSystem, mountPoint string, opts MountOptions, log zerolog.Logger) *MountManager {
	return &MountManager{filesystem: filesystem, mountPoint: mountPoint, opts: opts, log: log}
}

// Mount mounts the filesystem and begins serving requests in the
// background.
func (m *MountManager) Mount() error {
	if m.mounted {
		return fmt.Errorf("b2fs: already mounted at %s", m.mountPoint)
	}

	mountOpts := &fs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther: m.opts.AllowOther,
			Debug:      m.opts.Debug,
			FsName:     m.opts.FSName,
			Name:       m.opts.FSName,
		},
		AttrTimeout:  &m.opts.AttrTimeout,
		EntryTimeout: &m.opts.EntryTimeout,
	}

	server, err := fs.Mount(m.mountPoint, m.filesystem.Root(), mountOpts)
	if err != nil {
		return fmt.Errorf("b2fs: mount %s: %w", m.mountPoint, err)
	}
	m.server = server
	m.mounted = true
	m.log.Info().Str("mountpoint", m.mountPoint).Msg("mounted")
	return nil
}

// Wait blocks until the mount is unmounted (by Unmount or externally, e.g.
// fusermount -u).
func (m *MountManager) Wait() {
	if m.server != nil {
		m.server.Wait()
	}
}

// Unmount unmounts the filesystem.
func (m *MountManager) Unmount() error {
	if !m.mounted || m.server == nil {
		return nil
	}
	if err := m.server.Unmount(); err != nil {
		return fmt.Errorf("b2fs: unmount %s: %w", m.mountPoint, err)
	}
	m.mounted = false
	m.log.Info().Str("mountpoint", m.mountPoint).Msg("unmounted")
	return nil
}

// IsMounted reports whether the filesystem is currently mounted.
func (m *MountManager) IsMounted() bool {
	return m.mounted
}
