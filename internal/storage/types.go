// Package storage talks to the backend that persists uploaded attachment
// bytes. The pipeline only ever needs four operations: upload with progress,
// delete, and resize-URL derivation; validation happens client-side before
// any byte leaves the machine.
package storage

import (
	"context"
	"io"
)

// UploadResult is the persisted reference returned by the storage backend.
type UploadResult struct {
	URL          string `json:"url"`
	Key          string `json:"key"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimeType"`
	OriginalName string `json:"originalName"`
}

// ProgressFunc receives upload progress as a 0–100 percentage.
// Callers are guaranteed monotonically non-decreasing values.
type ProgressFunc func(percent int)

// ResizeOptions describes a server-side image resize transform.
type ResizeOptions struct {
	Width   int
	Height  int
	Quality int
}

// Uploader abstracts the storage collaborator.
type Uploader interface {
	// Upload persists the payload under destinationFolder and reports
	// progress while the bytes are in flight.
	Upload(ctx context.Context, name, mime string, data io.Reader, size int64, destinationFolder string, onProgress ProgressFunc) (UploadResult, error)
	// Delete removes a previously uploaded object by its URL.
	Delete(ctx context.Context, objectURL string) error
	// ResizeURL derives a resized-variant URL for an uploaded image.
	ResizeURL(objectURL string, opts ResizeOptions) string
}
