// Package transport carries chat frames between the client and the realtime
// gateway. Frames are JSON envelopes with an event name and an opaque payload.
package transport

import "encoding/json"

// Event names on the realtime channel.
const (
	EventChatMessage    = "chatMessage"
	EventFetchPrevious  = "fetchPreviousMessages"
	EventPreviousLoaded = "previousMessagesLoaded"
	EventError          = "error"
)

// MessageType distinguishes text and file payloads.
type MessageType string

const (
	MessageText MessageType = "text"
	MessageFile MessageType = "file"
)

// FileData describes an uploaded attachment referenced by a file message.
type FileData struct {
	URL       string `json:"url"`
	Key       string `json:"key,omitempty"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Mime      string `json:"mime"`
	Validated bool   `json:"validated"`
	Uploaded  bool   `json:"uploaded"`
}

// ChatMessage is the outbound message payload.
type ChatMessage struct {
	Room     string      `json:"room"`
	Type     MessageType `json:"type"`
	Content  string      `json:"content,omitempty"`
	FileData *FileData   `json:"fileData,omitempty"`
}

// FetchPrevious requests a page of history older than Before.
type FetchPrevious struct {
	RoomID string `json:"roomId"`
	Before string `json:"before,omitempty"`
}

// HistoryMessage is one message in a history page.
type HistoryMessage struct {
	ID        string      `json:"id"`
	Room      string      `json:"room"`
	Sender    string      `json:"sender"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content,omitempty"`
	FileData  *FileData   `json:"fileData,omitempty"`
	CreatedAt string      `json:"createdAt,omitempty"`
}

// PreviousLoaded is the server's reply to a FetchPrevious request.
type PreviousLoaded struct {
	RoomID   string           `json:"roomId"`
	Messages []HistoryMessage `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

// ErrorPayload is the server's error event body.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Frame is the wire envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler consumes an inbound frame payload.
type Handler func(data json.RawMessage)

// Channel is the realtime connection the dispatcher emits on and subscribes
// to. Implementations must allow Emit from multiple goroutines.
type Channel interface {
	Connected() bool
	Emit(event string, payload any) error
	On(event string, fn Handler)
}
