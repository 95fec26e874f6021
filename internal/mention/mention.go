// Package mention implements @-mention trigger detection, candidate
// filtering, and caret-aware insertion for the draft composer. All positions
// are rune offsets into the draft text.
package mention

import "strings"

// Participant is a roster entry eligible for mentions.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Assistant   bool   `json:"assistant,omitempty"`
}

// personas are the fixed assistant entries prepended to every roster before
// filtering. Filtering applies to them the same as to human participants.
var personas = []Participant{
	{ID: "assistant-wayne", DisplayName: "Wayne", Assistant: true},
	{ID: "assistant-iris", DisplayName: "Iris", Assistant: true},
}

// Personas returns the fixed assistant participants.
func Personas() []Participant {
	out := make([]Participant, len(personas))
	copy(out, personas)
	return out
}

// Trigger describes the mention trigger at the caret.
type Trigger struct {
	Active bool
	// Prefix is the text between the trigger '@' and the caret.
	Prefix string
	// Index is the rune offset of the trigger '@'.
	Index int
}

// DetectTrigger inspects the current line up to the caret. The trigger is
// active iff that segment contains an unescaped '@' with no space between it
// and the caret.
func DetectTrigger(text string, caret int) Trigger {
	runes := []rune(text)
	if caret < 0 || caret > len(runes) {
		return Trigger{}
	}
	lineStart := 0
	for i := caret - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			lineStart = i + 1
			break
		}
	}
	at := -1
	for i := caret - 1; i >= lineStart; i-- {
		if runes[i] == '@' && (i == lineStart || runes[i-1] != '\\') {
			at = i
			break
		}
	}
	if at < 0 {
		return Trigger{}
	}
	for i := at + 1; i < caret; i++ {
		if runes[i] == ' ' {
			return Trigger{}
		}
	}
	return Trigger{Active: true, Prefix: string(runes[at+1 : caret]), Index: at}
}

// FilterCandidates returns the ordered candidate list for a prefix: the fixed
// assistant personas first, then the room's human participants, matched
// case-insensitively at the start of display name or contact id.
func FilterCandidates(roster []Participant, prefix string) []Participant {
	full := append(Personas(), roster...)
	if strings.TrimSpace(prefix) == "" {
		return full
	}
	lowered := strings.ToLower(prefix)
	matched := make([]Participant, 0, len(full))
	for _, p := range full {
		if strings.HasPrefix(strings.ToLower(p.DisplayName), lowered) ||
			strings.HasPrefix(strings.ToLower(p.ID), lowered) {
			matched = append(matched, p)
		}
	}
	return matched
}

// Key identifies a composer keystroke relevant to mention navigation.
type Key string

const (
	KeyUp     Key = "up"
	KeyDown   Key = "down"
	KeyTab    Key = "tab"
	KeyEnter  Key = "enter"
	KeyEscape Key = "escape"
)

// State tracks the live mention UI state for one draft. It is recomputed
// synchronously on every text change, so candidates can never be stale for a
// newer caret position.
type State struct {
	trigger     Trigger
	candidates  []Participant
	highlighted int
}

// Update recomputes trigger and candidates for the new text and caret.
func (s *State) Update(roster []Participant, text string, caret int) {
	trigger := DetectTrigger(text, caret)
	if !trigger.Active {
		s.clear()
		return
	}
	s.trigger = trigger
	s.candidates = FilterCandidates(roster, trigger.Prefix)
	if s.highlighted >= len(s.candidates) {
		s.highlighted = 0
	}
}

// Active reports whether a mention trigger is live.
func (s *State) Active() bool { return s.trigger.Active }

// Candidates returns the current filtered candidate list.
func (s *State) Candidates() []Participant { return s.candidates }

// Highlighted returns the index of the highlighted candidate.
func (s *State) Highlighted() int { return s.highlighted }

// MoveDown advances the highlight circularly. No-op with zero candidates.
func (s *State) MoveDown() {
	if len(s.candidates) == 0 {
		return
	}
	s.highlighted = (s.highlighted + 1) % len(s.candidates)
}

// MoveUp retreats the highlight circularly. No-op with zero candidates.
func (s *State) MoveUp() {
	if len(s.candidates) == 0 {
		return
	}
	s.highlighted = (s.highlighted - 1 + len(s.candidates)) % len(s.candidates)
}

// Deactivate clears the mention state without touching the text.
func (s *State) Deactivate() { s.clear() }

// Commit replaces the trigger span ('@' through caret) with "@{name} " and
// returns the rewritten text and the caret position just after the inserted
// space. The state deactivates on commit, so a second invocation for the same
// state cannot double-insert.
func (s *State) Commit(text string, caret int) (string, int, bool) {
	if !s.trigger.Active || len(s.candidates) == 0 {
		return text, caret, false
	}
	name := s.candidates[s.highlighted].DisplayName
	runes := []rune(text)
	if caret < 0 || caret > len(runes) || s.trigger.Index >= caret {
		s.clear()
		return text, caret, false
	}
	inserted := []rune("@" + name + " ")
	rewritten := make([]rune, 0, len(runes)+len(inserted))
	rewritten = append(rewritten, runes[:s.trigger.Index]...)
	rewritten = append(rewritten, inserted...)
	rewritten = append(rewritten, runes[caret:]...)
	newCaret := s.trigger.Index + len(inserted)
	s.clear()
	return string(rewritten), newCaret, true
}

func (s *State) clear() {
	s.trigger = Trigger{}
	s.candidates = nil
	s.highlighted = 0
}
