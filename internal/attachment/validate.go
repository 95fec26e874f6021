package attachment

import (
	"fmt"
	"strings"
)

// MaxAttachmentBytes is the fixed per-attachment size cap. It is not
// configurable from this layer.
const MaxAttachmentBytes int64 = 10 << 20

// allowedMimes is the union of accepted categories: image, video, audio,
// document. Declared types are normalized before lookup, so common aliases
// are listed alongside the canonical names.
var allowedMimes = map[string]struct{}{
	// image
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
	// video
	"video/mp4":       {},
	"video/webm":      {},
	"video/avi":       {},
	"video/x-msvideo": {},
	"video/mov":       {},
	"video/quicktime": {},
	// audio
	"audio/mp3":  {},
	"audio/mpeg": {},
	"audio/wav":  {},
	"audio/aac":  {},
	"audio/ogg":  {},
	// document
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
}

// FileMeta describes a candidate file as declared by the picker.
type FileMeta struct {
	Name string
	Mime string
	Size int64
}

// Validate reports whether a candidate file is acceptable. Size is checked
// before type, and only the first failing check is surfaced. Pure and
// synchronous.
func Validate(meta FileMeta) error {
	if meta.Size > MaxAttachmentBytes {
		return fmt.Errorf("%w: %d bytes, max %d", ErrTooLarge, meta.Size, MaxAttachmentBytes)
	}
	if _, ok := allowedMimes[normalizeMime(meta.Mime)]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, meta.Mime)
	}
	return nil
}

func normalizeMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}
