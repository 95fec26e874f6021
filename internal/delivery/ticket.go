package delivery

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal (or pending) state of one delivery attempt.
type Outcome string

const (
	OutcomePending        Outcome = "pending"
	OutcomeAcknowledged   Outcome = "acknowledged"
	OutcomeTimedOut       Outcome = "timed_out"
	OutcomeSessionExpired Outcome = "session_expired"
	OutcomeFailed         Outcome = "failed"
)

// Ticket tracks one outstanding send or history-fetch attempt. A ticket
// resolves to exactly one terminal outcome; later resolution attempts are
// ignored. Resolved tickets are immutable and never reused, a retry opens a
// new ticket.
type Ticket struct {
	id        string
	room      string
	createdAt time.Time

	mu      sync.Mutex
	outcome Outcome
	reason  string
	done    chan struct{}
}

func newTicket(room string) *Ticket {
	return &Ticket{
		id:        uuid.NewString(),
		room:      room,
		createdAt: time.Now(),
		outcome:   OutcomePending,
		done:      make(chan struct{}),
	}
}

// ID returns the ticket's correlation id.
func (t *Ticket) ID() string { return t.id }

// Room returns the target room id.
func (t *Ticket) Room() string { return t.room }

// CreatedAt returns the ticket's creation time.
func (t *Ticket) CreatedAt() time.Time { return t.createdAt }

// Outcome returns the current outcome and, for failures, the reason.
func (t *Ticket) Outcome() (Outcome, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome, t.reason
}

// Done is closed when the ticket reaches a terminal outcome.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// resolve records the terminal outcome. The first resolution wins; the return
// value reports whether this call was the one that resolved the ticket.
func (t *Ticket) resolve(outcome Outcome, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outcome != OutcomePending {
		return false
	}
	t.outcome = outcome
	t.reason = reason
	close(t.done)
	return true
}
