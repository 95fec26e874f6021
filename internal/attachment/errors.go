package attachment

import "errors"

var (
	// ErrTooLarge indicates the candidate file exceeds the size cap.
	ErrTooLarge = errors.New("attachment exceeds maximum size")
	// ErrUnsupportedType indicates the declared MIME type is outside the
	// accepted categories.
	ErrUnsupportedType = errors.New("attachment type not supported")
	// ErrNoPending indicates the operation needs a pending attachment and
	// none is tracked.
	ErrNoPending = errors.New("no pending attachment")
	// ErrNotReady indicates the pending attachment is not in a state that
	// allows the requested transition.
	ErrNotReady = errors.New("attachment not ready")
)
