package transport

import "errors"

var (
	// ErrNotConnected means the channel is closed or never connected.
	ErrNotConnected = errors.New("channel not connected")
)
