package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// HTTPClient uploads attachments to an HTTP storage backend.
type HTTPClient struct {
	logger *slog.Logger
	base   string
	client *http.Client
}

// NewHTTPClient creates a storage client for the given base URL.
func NewHTTPClient(log *slog.Logger, baseURL string, client *http.Client) *HTTPClient {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{
		logger: log.With(slog.String("service", "storage")),
		base:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: client,
	}
}

// Upload posts the payload as multipart form data to
// {base}/uploads/{destinationFolder}. Progress is derived from bytes read off
// the source and clamped to be monotonically non-decreasing.
func (c *HTTPClient) Upload(ctx context.Context, name, mime string, data io.Reader, size int64, destinationFolder string, onProgress ProgressFunc) (UploadResult, error) {
	if data == nil {
		return UploadResult{}, fmt.Errorf("upload payload is required")
	}
	destinationFolder = strings.Trim(strings.TrimSpace(destinationFolder), "/")
	if destinationFolder == "" {
		return UploadResult{}, fmt.Errorf("destination folder is required")
	}

	source := data
	if onProgress != nil && size > 0 {
		source = &progressReader{inner: data, total: size, report: onProgress}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return UploadResult{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, source); err != nil {
		return UploadResult{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if mime != "" {
		if err := writer.WriteField("mimeType", mime); err != nil {
			return UploadResult{}, fmt.Errorf("write mime field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("finalize multipart body: %w", err)
	}

	endpoint := c.base + "/uploads/" + destinationFolder
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return UploadResult{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return UploadResult{}, fmt.Errorf("%w: status %d: %s", ErrUploadFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return UploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}
	if result.OriginalName == "" {
		result.OriginalName = name
	}
	if onProgress != nil {
		onProgress(100)
	}
	return result, nil
}

// Delete removes the object at the given URL.
func (c *HTTPClient) Delete(ctx context.Context, objectURL string) error {
	objectURL = strings.TrimSpace(objectURL)
	if objectURL == "" {
		return fmt.Errorf("object url is required")
	}
	if !strings.HasPrefix(objectURL, "http://") && !strings.HasPrefix(objectURL, "https://") {
		objectURL = c.base + "/" + strings.TrimLeft(objectURL, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, objectURL, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delete object: status %d", resp.StatusCode)
	}
	return nil
}

// ResizeURL appends resize transform parameters to an object URL.
func (c *HTTPClient) ResizeURL(objectURL string, opts ResizeOptions) string {
	parsed, err := url.Parse(strings.TrimSpace(objectURL))
	if err != nil || objectURL == "" {
		return objectURL
	}
	query := parsed.Query()
	if opts.Width > 0 {
		query.Set("w", strconv.Itoa(opts.Width))
	}
	if opts.Height > 0 {
		query.Set("h", strconv.Itoa(opts.Height))
	}
	if opts.Quality > 0 {
		query.Set("q", strconv.Itoa(opts.Quality))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// progressReader reports read progress as a percentage of total.
// Reported values never decrease and 100 is only reported by the caller
// once the request fully completes.
type progressReader struct {
	inner  io.Reader
	total  int64
	read   int64
	last   int
	report ProgressFunc
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		r.read += int64(n)
		percent := int(r.read * 100 / r.total)
		if percent > 99 {
			percent = 99
		}
		if percent > r.last {
			r.last = percent
			r.report(percent)
		}
	}
	return n, err
}
