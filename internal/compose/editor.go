// Package compose owns the draft text of one room's input box: caret
// movement, mention state, markdown wrap edits, and the readiness gate the
// dispatcher consults before sending.
package compose

import (
	"log/slog"
	"strings"

	"github.com/parlorhq/parlor/internal/mention"
)

// Status is the composer's dispatch readiness.
type Status string

const (
	// StatusIdle means the draft is empty and nothing is attached.
	StatusIdle Status = "idle"
	// StatusReady means the draft has sendable content.
	StatusReady Status = "ready"
	// StatusDispatching blocks edits and re-sends while a send is in flight.
	StatusDispatching Status = "dispatching"
)

// Editor is a single-room draft editor. It is not safe for concurrent use;
// callers serialize access the same way a UI event loop would.
type Editor struct {
	logger *slog.Logger
	text   []rune
	caret  int
	status Status
	roster []mention.Participant

	Mention mention.State
}

// NewEditor creates an empty editor.
func NewEditor(log *slog.Logger) *Editor {
	if log == nil {
		log = slog.Default()
	}
	return &Editor{
		logger: log.With(slog.String("service", "compose")),
		status: StatusIdle,
	}
}

// SetRoster replaces the room roster used for mention filtering and
// recomputes the mention state against the current draft.
func (e *Editor) SetRoster(roster []mention.Participant) {
	e.roster = roster
	e.Mention.Update(e.roster, string(e.text), e.caret)
}

// Text returns the current draft text.
func (e *Editor) Text() string { return string(e.text) }

// Caret returns the caret position as a rune offset.
func (e *Editor) Caret() int { return e.caret }

// Status returns the dispatch readiness.
func (e *Editor) Status() Status { return e.status }

// SetText replaces the draft and positions the caret, clamping it into
// range. Mention state recomputes synchronously so it can never lag the text.
func (e *Editor) SetText(text string, caret int) {
	e.text = []rune(text)
	if caret < 0 {
		caret = 0
	}
	if caret > len(e.text) {
		caret = len(e.text)
	}
	e.caret = caret
	e.refreshStatus()
	e.Mention.Update(e.roster, string(e.text), e.caret)
}

// Insert places s at the caret and advances the caret past it.
func (e *Editor) Insert(s string) {
	if e.status == StatusDispatching {
		return
	}
	inserted := []rune(s)
	next := make([]rune, 0, len(e.text)+len(inserted))
	next = append(next, e.text[:e.caret]...)
	next = append(next, inserted...)
	next = append(next, e.text[e.caret:]...)
	e.text = next
	e.caret += len(inserted)
	e.refreshStatus()
	e.Mention.Update(e.roster, string(e.text), e.caret)
}

// WrapSelection surrounds the rune span [from, to) with the given markdown
// marker (for example "**" or "`") and places the caret after the closing
// marker. An empty span inserts a marker pair at the caret with the caret
// between them.
func (e *Editor) WrapSelection(from, to int, marker string) {
	if e.status == StatusDispatching {
		return
	}
	if from < 0 || to > len(e.text) || from > to {
		e.logger.Warn("wrap selection out of range",
			slog.Int("from", from),
			slog.Int("to", to),
			slog.Int("len", len(e.text)))
		return
	}
	m := []rune(marker)
	next := make([]rune, 0, len(e.text)+2*len(m))
	next = append(next, e.text[:from]...)
	next = append(next, m...)
	next = append(next, e.text[from:to]...)
	next = append(next, m...)
	next = append(next, e.text[to:]...)
	e.text = next
	if from == to {
		e.caret = from + len(m)
	} else {
		e.caret = to + 2*len(m)
	}
	e.refreshStatus()
	e.Mention.Update(e.roster, string(e.text), e.caret)
}

// Sendable reports whether a send may start: content exists (non-blank text
// or a staged attachment) and no send is already in flight.
func (e *Editor) Sendable(hasAttachment bool) bool {
	if e.status == StatusDispatching {
		return false
	}
	return hasAttachment || strings.TrimSpace(string(e.text)) != ""
}

// BeginDispatch marks a send in flight. Returns false if one already is.
func (e *Editor) BeginDispatch() bool {
	if e.status == StatusDispatching {
		return false
	}
	e.status = StatusDispatching
	return true
}

// EndDispatch ends the in-flight send. When cleared is true the draft is
// emptied (successful send), otherwise the text survives for a retry.
func (e *Editor) EndDispatch(cleared bool) {
	if cleared {
		e.text = nil
		e.caret = 0
		e.Mention.Deactivate()
	}
	e.status = StatusIdle
	e.refreshStatus()
}

// Clear drops the draft and mention state.
func (e *Editor) Clear() {
	e.text = nil
	e.caret = 0
	e.status = StatusIdle
	e.Mention.Deactivate()
}

// HandleKey routes navigation keys to the mention popup when it is active.
// It returns true when the key was consumed, meaning the caller must not
// apply its default binding (cursor move, send, etc).
func (e *Editor) HandleKey(key mention.Key) bool {
	if !e.Mention.Active() {
		return false
	}
	switch key {
	case mention.KeyDown:
		e.Mention.MoveDown()
		return true
	case mention.KeyUp:
		e.Mention.MoveUp()
		return true
	case mention.KeyTab, mention.KeyEnter:
		text, caret, ok := e.Mention.Commit(string(e.text), e.caret)
		if !ok {
			e.Mention.Deactivate()
			return true
		}
		e.text = []rune(text)
		e.caret = caret
		e.refreshStatus()
		return true
	case mention.KeyEscape:
		e.Mention.Deactivate()
		return true
	}
	return false
}

func (e *Editor) refreshStatus() {
	if e.status == StatusDispatching {
		return
	}
	if strings.TrimSpace(string(e.text)) != "" {
		e.status = StatusReady
	} else {
		e.status = StatusIdle
	}
}
