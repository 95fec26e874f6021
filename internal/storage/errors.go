package storage

import "errors"

// ErrUploadFailed indicates the storage backend rejected or dropped an upload.
// The pending attachment stays retryable when this is returned.
var ErrUploadFailed = errors.New("attachment upload failed")
