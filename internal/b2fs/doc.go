// Package b2fs is the Filesystem Operations Layer: it implements the
// POSIX-like operation table over a B2 bucket by composing the directory
// index, the open-file set, the bucket cache and the bucket client, using
// github.com/hanwen/go-fuse/v2's Inode-based fs API.
package b2fs
