// Package b2api is the Remote Bucket Client: typed operations over the
// Backblaze B2 wire API (authorize, paged list, get-info, ranged download,
// upload with SHA-1 verification, delete-version), with the retry and
// error-classification policy described in the design's component design
// and error-handling sections. Every other b2-fuse package talks to the
// remote bucket exclusively through the Client interface in this package.
package b2api
