package b2api

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	b2err "github.com/falense/b2-fuse/pkg/errors"
	"github.com/falense/b2-fuse/pkg/health"
	"github.com/falense/b2-fuse/pkg/retry"
	"github.com/rs/zerolog"
)

const (
	defaultAPIBase  = "https://api.backblazeb2.com"
	contentTypeAuto = "b2/x-auto"
	maxListPageSize = 1000
)

// ByteRange is an inclusive [Lo, Hi] byte range for a ranged download.
type ByteRange struct {
	Lo, Hi int64
}

// Client is the Remote Bucket Client: typed operations over the B2 wire API.
// All methods block; callers that need asynchrony use internal/writepipe.
type Client interface {
	Authorize(ctx context.Context) error
	ListKeys(ctx context.Context, prefix, cursor string) (ListPage, error)
	ListVersions(ctx context.Context, key string) ([]FileInfo, error)
	GetInfo(ctx context.Context, id string) (FileInfo, error)
	Download(ctx context.Context, id string, rng *ByteRange) ([]byte, error)
	Upload(ctx context.Context, key string, body []byte) (FileInfo, error)
	DeleteVersion(ctx context.Context, id, key string) error

	// Health reports the current reachability of the remote, derived from
	// the run of recent call outcomes.
	Health() health.Snapshot
}

// Config configures the retry/timeout policy (§4.1, §5).
type Config struct {
	AccountID      string
	ApplicationKey string
	BucketID       string
	MaxRetries     int           // default 3
	RequestTimeout time.Duration // default 30s (>= 30s per §5)
	APIBase        string        // override for tests; defaults to defaultAPIBase
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.APIBase == "" {
		c.APIBase = defaultAPIBase
	}
	return c
}

// client is the production Client, talking to a real (or test) B2-shaped HTTP API.
type client struct {
	cfg Config
	hc  *http.Client
	log zerolog.Logger

	mu          sync.Mutex
	authToken   string
	apiURL      string
	downloadURL string
	uploadURL   string
	uploadToken string

	health *health.Tracker
}

// NewClient builds a Client. Authorize must be called before any other method.
func NewClient(cfg Config, log zerolog.Logger) Client {
	cfg = cfg.withDefaults()
	return &client{
		cfg:    cfg,
		hc:     &http.Client{Timeout: cfg.RequestTimeout},
		log:    log.With().Str("component", "b2api").Logger(),
		health: health.NewTracker(health.DefaultConfig()),
	}
}

func (c *client) Health() health.Snapshot {
	return c.health.Snapshot()
}

func (c *client) Authorize(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBase+"/b2api/v2/b2_authorize_account", nil)
	if err != nil {
		return b2err.Wrap(b2err.RemoteFatal, "b2api", err).WithOperation("authorize")
	}
	req.SetBasicAuth(c.cfg.AccountID, c.cfg.ApplicationKey)

	var resp authorizeAccountResponse
	if err := c.doJSON(ctx, req, &resp); err != nil {
		return b2err.Wrap(b2err.RemoteFatal, "b2api", err).WithOperation("authorize")
	}

	c.mu.Lock()
	c.authToken = resp.AuthorizationToken
	c.apiURL = resp.APIURL
	c.downloadURL = resp.DownloadURL
	c.mu.Unlock()

	return c.refreshUploadURL(ctx)
}

func (c *client) refreshUploadURL(ctx context.Context) error {
	c.mu.Lock()
	apiURL, token := c.apiURL, c.authToken
	c.mu.Unlock()

	body, _ := json.Marshal(getUploadURLRequest{BucketID: c.cfg.BucketID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/b2api/v2/b2_get_upload_url", bytes.NewReader(body))
	if err != nil {
		return b2err.Wrap(b2err.RemoteFatal, "b2api", err).WithOperation("get_upload_url")
	}
	req.Header.Set("Authorization", token)

	var resp getUploadURLResponse
	if err := c.doJSON(ctx, req, &resp); err != nil {
		return b2err.Wrap(b2err.RemoteFatal, "b2api", err).WithOperation("get_upload_url")
	}

	c.mu.Lock()
	c.uploadURL = resp.UploadURL
	c.uploadToken = resp.AuthorizationToken
	c.mu.Unlock()
	return nil
}

// ListKeys pages with maxFileCount=1000, continuing while the next cursor
// still begins with prefix, per §4.1's algorithm note.
func (c *client) ListKeys(ctx context.Context, prefix, cursor string) (ListPage, error) {
	c.mu.Lock()
	apiURL, token := c.apiURL, c.authToken
	c.mu.Unlock()

	reqBody := listFileNamesRequest{
		BucketID:      c.cfg.BucketID,
		StartFileName: cursor,
		MaxFileCount:  maxListPageSize,
	}
	body, _ := json.Marshal(reqBody)

	var resp listFileNamesResponse
	err := c.withRetry(ctx, "list_keys", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/b2api/v2/b2_list_file_names", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", token)
		resp = listFileNamesResponse{}
		return c.doJSON(ctx, req, &resp)
	})
	if err != nil {
		return ListPage{}, err
	}

	page := ListPage{Files: filterPrefix(resp.Files, prefix)}
	if resp.NextFileName != nil && strings.HasPrefix(*resp.NextFileName, prefix) {
		page.NextCursor = *resp.NextFileName
	}
	return page, nil
}

func filterPrefix(files []FileInfo, prefix string) []FileInfo {
	if prefix == "" {
		return files
	}
	out := make([]FileInfo, 0, len(files))
	for _, f := range files {
		if strings.HasPrefix(f.Name, prefix) {
			out = append(out, f)
		}
	}
	return out
}

// ListVersions returns every version of exactly key, via b2_list_file_versions
// scoped by prefix=key, stopping once a returned name no longer equals key.
// Used by the Open-File Set's whole-object-replace upload (§4.4): every
// existing version is deleted before the new bytes are written.
func (c *client) ListVersions(ctx context.Context, key string) ([]FileInfo, error) {
	c.mu.Lock()
	apiURL, token := c.apiURL, c.authToken
	c.mu.Unlock()

	reqBody := listFileVersionsRequest{
		BucketID:      c.cfg.BucketID,
		Prefix:        key,
		StartFileName: key,
		MaxFileCount:  maxListPageSize,
	}
	body, _ := json.Marshal(reqBody)

	var resp listFileVersionsResponse
	err := c.withRetry(ctx, "list_versions", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/b2api/v2/b2_list_file_versions", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", token)
		resp = listFileVersionsResponse{}
		return c.doJSON(ctx, req, &resp)
	})
	if err != nil {
		return nil, err
	}

	var all []FileInfo
	for _, fi := range resp.Files {
		if fi.Name == key {
			all = append(all, fi)
		}
	}
	return all, nil
}

func (c *client) GetInfo(ctx context.Context, id string) (FileInfo, error) {
	c.mu.Lock()
	apiURL, token := c.apiURL, c.authToken
	c.mu.Unlock()

	body, _ := json.Marshal(getFileInfoRequest{FileID: id})

	var resp FileInfo
	err := c.withRetry(ctx, "get_info", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/b2api/v2/b2_get_file_info", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", token)
		resp = FileInfo{}
		return c.doJSON(ctx, req, &resp)
	})
	if err != nil {
		if apiErr, ok := err.(*apiError); ok && apiErr.Status == http.StatusNotFound {
			return FileInfo{}, b2err.New(b2err.NotFound, "b2api", "file not found").WithOperation("get_info")
		}
		return FileInfo{}, err
	}
	return resp, nil
}

// Download fetches bytes for id, honoring an inclusive byte range via the
// Range header when rng is non-nil.
func (c *client) Download(ctx context.Context, id string, rng *ByteRange) ([]byte, error) {
	c.mu.Lock()
	downloadURL, token := c.downloadURL, c.authToken
	c.mu.Unlock()

	var out []byte
	err := c.withRetry(ctx, "download", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			downloadURL+"/b2api/v2/b2_download_file_by_id?fileId="+url.QueryEscape(id), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", token)
		if rng != nil {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rng.Lo, rng.Hi))
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return classifyTransportErr(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			data, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				return readErr
			}
			out = data
			return nil
		}
		return classifyHTTPStatus(resp)
	})
	return out, err
}

// Upload computes the SHA-1 of body, transmits it as X-Bz-Content-Sha1, and
// retries once with a freshly acquired upload URL/token on an invalid-token
// response, per §4.1.
func (c *client) Upload(ctx context.Context, key string, body []byte) (FileInfo, error) {
	sum := sha1.Sum(body)
	hexSum := hex.EncodeToString(sum[:])

	fi, err := c.tryUpload(ctx, key, body, hexSum)
	if err != nil {
		if kind, ok := b2err.KindOf(err); ok && kind == b2err.RemoteTransient {
			if reErr := c.refreshUploadURL(ctx); reErr == nil {
				fi, err = c.tryUpload(ctx, key, body, hexSum)
			}
		}
	}
	if err != nil {
		c.health.RecordError(err)
		return FileInfo{}, err
	}
	c.health.RecordSuccess()
	return fi, nil
}

func (c *client) tryUpload(ctx context.Context, key string, body []byte, sha1Hex string) (FileInfo, error) {
	c.mu.Lock()
	uploadURL, uploadToken := c.uploadURL, c.uploadToken
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(body))
	if err != nil {
		return FileInfo{}, b2err.Wrap(b2err.RemoteFatal, "b2api", err).WithOperation("upload")
	}
	req.Header.Set("Authorization", uploadToken)
	req.Header.Set("X-Bz-File-Name", percentEncodeFileName(key))
	req.Header.Set("Content-Type", contentTypeAuto)
	req.Header.Set("X-Bz-Content-Sha1", sha1Hex)
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))

	resp, err := c.hc.Do(req)
	if err != nil {
		return FileInfo{}, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return FileInfo{}, b2err.New(b2err.RemoteTransient, "b2api", "upload token invalid").WithOperation("upload")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if err := classifyHTTPStatus(resp); err != nil {
			return FileInfo{}, err
		}
	}

	var fi FileInfo
	if err := json.NewDecoder(resp.Body).Decode(&fi); err != nil {
		return FileInfo{}, b2err.Wrap(b2err.UploadFailed, "b2api", err).WithOperation("upload")
	}
	if fi.SHA1 != "" && fi.SHA1 != sha1Hex {
		return FileInfo{}, b2err.New(b2err.UploadFailed, "b2api", "sha1 mismatch").WithOperation("upload")
	}
	return fi, nil
}

// DeleteVersion deletes one specific version of a key. A 404 is treated as success.
func (c *client) DeleteVersion(ctx context.Context, id, key string) error {
	c.mu.Lock()
	apiURL, token := c.apiURL, c.authToken
	c.mu.Unlock()

	body, _ := json.Marshal(deleteFileVersionRequest{FileName: key, FileID: id})

	err := c.withRetry(ctx, "delete_version", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/b2api/v2/b2_delete_file_version", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", token)
		return c.doJSON(ctx, req, nil)
	})
	if apiErr, ok := err.(*apiError); ok && apiErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

// withRetry runs op up to cfg.MaxRetries+1 times, retrying only on
// RemoteTransient classifications, with exponential backoff between
// attempts.
func (c *client) withRetry(ctx context.Context, op string, fn func() error) error {
	retryer := retry.New(retry.Config{
		MaxAttempts: c.cfg.MaxRetries + 1,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).
				Dur("delay", delay).Msg("retrying transient remote error")
		},
	})
	err := retryer.Do(ctx, op, fn)
	if err != nil {
		c.health.RecordError(err)
	} else {
		c.health.RecordSuccess()
	}
	return err
}

// doJSON issues req, decoding a 2xx JSON body into out (if non-nil) and
// classifying non-2xx responses per §4.1/§7.
func (c *client) doJSON(ctx context.Context, req *http.Request, out interface{}) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyHTTPStatus(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func classifyTransportErr(err error) error {
	// Any network-level error (connection reset, DNS failure, and — via
	// (*http.Client).Do's context-deadline wrapping — read timeouts) is
	// retriable per §4.1/§5 ("TLS read-timeouts are retriable").
	return b2err.Wrap(b2err.RemoteTransient, "b2api", err)
}

func classifyHTTPStatus(resp *http.Response) error {
	aerr := new(apiError)
	_ = json.NewDecoder(resp.Body).Decode(aerr)
	if aerr.Status == 0 {
		aerr.Status = resp.StatusCode
	}
	if aerr.Code == "" {
		aerr.Code = "unknown"
	}
	if resp.StatusCode >= 500 {
		return b2err.Wrap(b2err.RemoteTransient, "b2api", aerr)
	}
	if resp.StatusCode == http.StatusNotFound {
		return aerr
	}
	return b2err.Wrap(b2err.RemoteFatal, "b2api", aerr)
}

// percentEncodeFileName percent-encodes a UTF-8 file name per RFC 3986,
// leaving '/' unescaped so directory-shaped keys survive the round trip
// (B2 itself treats '/' in file names as a plain character, not a separator).
func percentEncodeFileName(name string) string {
	var b strings.Builder
	for _, r := range []byte(name) {
		if isUnreserved(r) || r == '/' {
			b.WriteByte(r)
		} else {
			fmt.Fprintf(&b, "%%%02X", r)
		}
	}
	return b.String()
}

func isUnreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '_' || b == '.' || b == '~':
		return true
	default:
		return false
	}
}
