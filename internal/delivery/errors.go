package delivery

import "errors"

var (
	// ErrNotConnected means the transport channel or session is unavailable.
	ErrNotConnected = errors.New("not-connected")
	// ErrEmptyDraft means the draft has neither text nor an attachment.
	ErrEmptyDraft = errors.New("empty draft")
	// ErrHistoryInFlight means a history fetch is already outstanding.
	ErrHistoryInFlight = errors.New("history fetch already in flight")
	// ErrSendInFlight means the editor is already dispatching a draft.
	ErrSendInFlight = errors.New("send already in flight")
)
