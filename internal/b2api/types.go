package b2api

import (
	"strconv"
	"time"
)

// FileAction distinguishes an uploaded version from a hide marker, per the
// data model's FileInfo.action field.
type FileAction string

const (
	ActionUpload FileAction = "upload"
	ActionHide   FileAction = "hide"
)

// Timestamp is milliseconds-since-epoch on the wire, matching B2's
// uploadTimestamp encoding (same convention rclone's b2 backend uses).
type Timestamp time.Time

func (t Timestamp) MarshalJSON() ([]byte, error) {
	ms := time.Time(t).UTC().UnixNano() / int64(time.Millisecond)
	return []byte(strconv.FormatInt(ms, 10)), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*t = Timestamp(time.UnixMilli(ms))
	return nil
}

func (t Timestamp) Time() time.Time { return time.Time(t) }

// FileInfo is the immutable snapshot described in the data model: one
// version of one key, as returned by list and get-info calls.
type FileInfo struct {
	ID              string     `json:"fileId"`
	Name            string     `json:"fileName"`
	Action          FileAction `json:"action"`
	Size            int64      `json:"size"`
	UploadTimestamp Timestamp  `json:"uploadTimestamp"`
	SHA1            string     `json:"contentSha1,omitempty"`
	ContentType     string     `json:"contentType,omitempty"`
}

// apiError mirrors a B2 JSON error body: {status, code, message}.
type apiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return e.Message + " (" + strconv.Itoa(e.Status) + " " + e.Code + ")"
}

type authorizeAccountResponse struct {
	AccountID          string `json:"accountId"`
	AuthorizationToken string `json:"authorizationToken"`
	APIURL             string `json:"apiUrl"`
	DownloadURL        string `json:"downloadUrl"`
}

type listFileNamesRequest struct {
	BucketID      string `json:"bucketId"`
	StartFileName string `json:"startFileName,omitempty"`
	MaxFileCount  int    `json:"maxFileCount,omitempty"`
}

type listFileNamesResponse struct {
	Files        []FileInfo `json:"files"`
	NextFileName *string    `json:"nextFileName"`
}

type getFileInfoRequest struct {
	FileID string `json:"fileId"`
}

type listFileVersionsRequest struct {
	BucketID      string `json:"bucketId"`
	Prefix        string `json:"prefix,omitempty"`
	StartFileName string `json:"startFileName,omitempty"`
	MaxFileCount  int    `json:"maxFileCount,omitempty"`
}

type listFileVersionsResponse struct {
	Files        []FileInfo `json:"files"`
	NextFileName *string    `json:"nextFileName"`
}

type getUploadURLRequest struct {
	BucketID string `json:"bucketId"`
}

type getUploadURLResponse struct {
	UploadURL          string `json:"uploadUrl"`
	AuthorizationToken string `json:"authorizationToken"`
}

type deleteFileVersionRequest struct {
	FileName string `json:"fileName"`
	FileID   string `json:"fileId"`
}

// ListPage is one page of a ListKeys call.
type ListPage struct {
	Files      []FileInfo
	NextCursor string // empty when there are no more pages
}
