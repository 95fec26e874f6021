package fileref

import (
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/parlorhq/parlor/internal/session"
)

// Purpose tags the intended use of a retrieval URL.
type Purpose string

const (
	// PurposePreview renders the object inline.
	PurposePreview Purpose = "preview"
	// PurposeDownload marks the response as an attachment so the browser
	// downloads instead of rendering.
	PurposeDownload Purpose = "download"
)

// URLOptions configures retrieval URL derivation.
type URLOptions struct {
	Purpose     Purpose
	IncludeAuth bool
}

// imageExtensions are the path extensions eligible for resize transforms.
var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
}

// Resolver derives canonical paths and authenticated retrieval URLs.
// The session it reads is externally owned and treated as read-only.
type Resolver struct {
	logger        *slog.Logger
	storageOrigin string
	apiBase       string
	session       session.Provider
}

// NewResolver creates a path resolver. storageOrigin is the persistent-storage
// origin; when empty, URLs fall back to the API-relative uploads path.
func NewResolver(log *slog.Logger, storageOrigin, apiBase string, sessions session.Provider) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		logger:        log.With(slog.String("service", "fileref")),
		storageOrigin: strings.TrimRight(strings.TrimSpace(storageOrigin), "/"),
		apiBase:       strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		session:       sessions,
	}
}

// Path computes the canonical storage-relative path for the descriptor,
// scoped to roomID where the variant calls for it. Unresolvable descriptors
// yield "" with a warning, never an error.
func (r *Resolver) Path(ref Ref, roomID string) string {
	resolved := ref.resolve(roomID)
	if resolved == "" {
		r.logger.Warn("unresolvable attachment descriptor",
			slog.String("kind", string(ref.kind)),
			slog.String("room_id", roomID))
	}
	return resolved
}

// URL derives a retrieval URL for a canonical path. With IncludeAuth set, the
// current session's token and session id ride along as query parameters; when
// no session is live the parameters are silently omitted and any 401 is the
// transport's concern.
func (r *Resolver) URL(filePath string, opts URLOptions) string {
	filePath = strings.TrimLeft(strings.TrimSpace(filePath), "/")
	if filePath == "" {
		return ""
	}
	base := r.storageOrigin
	if base == "" {
		base = r.apiBase + "/uploads"
	}
	raw := base + "/" + filePath

	query := url.Values{}
	if opts.IncludeAuth {
		if user, ok := r.currentUser(); ok && user.Token != "" {
			query.Set("token", user.Token)
			if user.SessionID != "" {
				query.Set("session", user.SessionID)
			}
		}
	}
	if opts.Purpose == PurposeDownload {
		query.Set("download", "true")
	}
	if len(query) == 0 {
		return raw
	}
	return raw + "?" + query.Encode()
}

// ThumbnailURL derives an authenticated preview URL with a resize transform.
// Non-image paths return the unmodified authenticated URL.
func (r *Resolver) ThumbnailURL(filePath string, width, height, quality int) string {
	base := r.URL(filePath, URLOptions{Purpose: PurposePreview, IncludeAuth: true})
	if base == "" {
		return ""
	}
	ext := strings.ToLower(path.Ext(filePath))
	if _, ok := imageExtensions[ext]; !ok {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	query := url.Values{}
	if width > 0 {
		query.Set("w", strconv.Itoa(width))
	}
	if height > 0 {
		query.Set("h", strconv.Itoa(height))
	}
	if quality > 0 {
		query.Set("q", strconv.Itoa(quality))
	}
	if len(query) == 0 {
		return base
	}
	return base + sep + query.Encode()
}

func (r *Resolver) currentUser() (session.User, bool) {
	if r.session == nil {
		return session.User{}, false
	}
	return r.session.Current()
}
