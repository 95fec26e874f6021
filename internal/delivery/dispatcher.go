// Package delivery packages finalized drafts into transport messages, sends
// them, and reconciles outcomes: acknowledgment, timeout, session expiry, or
// a classified failure.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/parlorhq/parlor/internal/attachment"
	"github.com/parlorhq/parlor/internal/compose"
	"github.com/parlorhq/parlor/internal/session"
	"github.com/parlorhq/parlor/internal/transport"
)

// historyTimeout bounds how long a history fetch waits for the gateway.
const historyTimeout = 10 * time.Second

// FailureKind is the best-effort cause attached to a Failed outcome.
type FailureKind string

const (
	FailurePermissionDenied FailureKind = "permission-denied"
	FailureNotFound         FailureKind = "not-found"
	FailureGeneric          FailureKind = "generic"
)

// classifyFailure buckets a transport error message for user display.
func classifyFailure(message string) FailureKind {
	lowered := strings.ToLower(message)
	switch {
	case strings.Contains(lowered, "permission"),
		strings.Contains(lowered, "forbidden"),
		strings.Contains(lowered, "denied"):
		return FailurePermissionDenied
	case strings.Contains(lowered, "not found"),
		strings.Contains(lowered, "404"):
		return FailureNotFound
	default:
		return FailureGeneric
	}
}

// SendInput is a finalized draft ready for transport.
type SendInput struct {
	Room string
	Text string
	File *transport.FileData
}

// Dispatcher sends chat messages and history requests over the transport
// channel and classifies their outcomes. Message sends are fire-and-forget;
// history fetches open a ticket that resolves on reply, error, or timeout,
// whichever arrives first.
type Dispatcher struct {
	logger   *slog.Logger
	channel  transport.Channel
	sessions session.Provider
	timeout  time.Duration

	mu        sync.Mutex
	history   *Ticket
	onOutcome func(*Ticket)
}

// NewDispatcher wires a dispatcher to the channel and subscribes to the
// inbound events that resolve history tickets.
func NewDispatcher(log *slog.Logger, channel transport.Channel, sessions session.Provider) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		logger:   log.With(slog.String("service", "delivery")),
		channel:  channel,
		sessions: sessions,
		timeout:  historyTimeout,
	}
	channel.On(transport.EventPreviousLoaded, d.handlePreviousLoaded)
	channel.On(transport.EventError, d.handleError)
	return d
}

// SetTimeout overrides the history-fetch timeout. Used by tests.
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeout = timeout
}

// OnOutcome installs a subscriber invoked once per resolved ticket.
func (d *Dispatcher) OnOutcome(fn func(*Ticket)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOutcome = fn
}

// Send delivers a finalized draft. The transport contract is fire-and-forget
// for chat messages, so a successful emit resolves the ticket Acknowledged.
// Emit errors matching session-invalidation vocabulary trigger exactly one
// renewal and retry; a second failure resolves SessionExpired.
func (d *Dispatcher) Send(ctx context.Context, input SendInput) (*Ticket, error) {
	if !d.channel.Connected() {
		return nil, ErrNotConnected
	}
	if _, ok := d.sessions.Current(); !ok {
		return nil, ErrNotConnected
	}
	text := strings.TrimSpace(input.Text)
	if text == "" && input.File == nil {
		return nil, ErrEmptyDraft
	}

	payload := transport.ChatMessage{
		Room:    input.Room,
		Type:    transport.MessageText,
		Content: text,
	}
	if input.File != nil {
		payload.Type = transport.MessageFile
		payload.FileData = input.File
	}

	ticket := newTicket(input.Room)
	if err := d.emitWithRenewal(ctx, ticket, transport.EventChatMessage, payload); err != nil {
		return ticket, err
	}
	d.resolve(ticket, OutcomeAcknowledged, "")
	return ticket, nil
}

// FetchHistory requests the page of messages older than before. At most one
// history fetch is outstanding at a time; the ticket resolves to exactly one
// of reply, error, or timeout.
func (d *Dispatcher) FetchHistory(ctx context.Context, roomID, before string) (*Ticket, error) {
	if !d.channel.Connected() {
		return nil, ErrNotConnected
	}

	ticket := newTicket(roomID)
	d.mu.Lock()
	if prev := d.history; prev != nil {
		if outcome, _ := prev.Outcome(); outcome == OutcomePending {
			d.mu.Unlock()
			return nil, ErrHistoryInFlight
		}
	}
	d.history = ticket
	timeout := d.timeout
	d.mu.Unlock()

	payload := transport.FetchPrevious{RoomID: roomID, Before: before}
	if err := d.emitWithRenewal(ctx, ticket, transport.EventFetchPrevious, payload); err != nil {
		return ticket, err
	}

	timer := time.AfterFunc(timeout, func() {
		d.resolve(ticket, OutcomeTimedOut, "history fetch timed out")
	})
	go func() {
		<-ticket.Done()
		timer.Stop()
	}()
	return ticket, nil
}

// SendDraft is the composer-facing entry point: it snapshots the editor and
// attachment controller, sends, and reconciles their state with the outcome.
// On success the draft clears and the completed attachment detaches; on
// failure the draft survives for retry. An attachment whose upload succeeded
// but whose message never went out is not lost, its remote reference is
// logged and the caller is told to resend.
func (d *Dispatcher) SendDraft(ctx context.Context, editor *compose.Editor, ctrl *attachment.Controller, room string) (*Ticket, error) {
	var file *transport.FileData
	snap, hasAttachment := ctrl.Snapshot()
	if hasAttachment && snap.State == attachment.StateComplete && snap.Remote != nil {
		file = &transport.FileData{
			URL:       snap.Remote.URL,
			Key:       snap.Remote.Key,
			Name:      snap.Meta.Name,
			Size:      snap.Meta.Size,
			Mime:      snap.Meta.Mime,
			Validated: true,
			Uploaded:  true,
		}
	}
	if editor.Status() == compose.StatusDispatching {
		return nil, ErrSendInFlight
	}
	if !editor.Sendable(file != nil) {
		return nil, ErrEmptyDraft
	}
	editor.BeginDispatch()

	ticket, err := d.Send(ctx, SendInput{Room: room, Text: editor.Text(), File: file})
	if err != nil {
		editor.EndDispatch(false)
		if file != nil {
			d.logger.Error("message delivery failed after upload; file is stored, resend required",
				slog.String("room", room),
				slog.String("url", file.URL),
				slog.String("key", file.Key))
		}
		return ticket, err
	}

	editor.EndDispatch(true)
	if file != nil {
		if _, err := ctrl.Detach(); err != nil {
			d.logger.Warn("detach after send", slog.String("error", err.Error()))
		}
	}
	return ticket, nil
}

// emitWithRenewal emits once, and on a session-vocabulary failure renews the
// session and retries exactly once. The ticket is resolved here on failure.
func (d *Dispatcher) emitWithRenewal(ctx context.Context, ticket *Ticket, event string, payload any) error {
	err := d.channel.Emit(event, payload)
	if err == nil {
		return nil
	}
	if !session.IsInvalidation(err.Error()) {
		kind := classifyFailure(err.Error())
		d.resolve(ticket, OutcomeFailed, string(kind))
		return fmt.Errorf("emit %s: %w", event, err)
	}

	d.logger.Info("session invalidation detected, renewing",
		slog.String("event", event),
		slog.String("error", err.Error()))
	if renewErr := d.sessions.Renew(ctx); renewErr != nil {
		d.resolve(ticket, OutcomeSessionExpired, renewErr.Error())
		return fmt.Errorf("renew session: %w", renewErr)
	}
	if err := d.channel.Emit(event, payload); err != nil {
		d.resolve(ticket, OutcomeSessionExpired, err.Error())
		return fmt.Errorf("emit %s after renewal: %w", event, err)
	}
	return nil
}

func (d *Dispatcher) handlePreviousLoaded(data json.RawMessage) {
	d.mu.Lock()
	ticket := d.history
	d.mu.Unlock()
	if ticket == nil {
		return
	}
	if !d.resolve(ticket, OutcomeAcknowledged, "") {
		d.logger.Debug("late history reply ignored", slog.String("ticket_id", ticket.ID()))
	}
}

func (d *Dispatcher) handleError(data json.RawMessage) {
	var payload transport.ErrorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		d.logger.Warn("malformed error event", slog.String("error", err.Error()))
		return
	}

	d.mu.Lock()
	ticket := d.history
	d.mu.Unlock()

	if session.IsInvalidation(payload.Message) {
		d.logger.Info("session invalidation from gateway", slog.String("message", payload.Message))
		go func() {
			if err := d.sessions.Renew(context.Background()); err != nil {
				d.logger.Error("session renewal failed", slog.String("error", err.Error()))
			}
		}()
		if ticket != nil {
			d.resolve(ticket, OutcomeSessionExpired, payload.Message)
		}
		return
	}

	if ticket != nil && d.resolve(ticket, OutcomeFailed, string(classifyFailure(payload.Message))) {
		return
	}
	d.logger.Warn("gateway error", slog.String("message", payload.Message))
}

// resolve resolves the ticket and notifies the outcome subscriber once.
func (d *Dispatcher) resolve(ticket *Ticket, outcome Outcome, reason string) bool {
	if !ticket.resolve(outcome, reason) {
		return false
	}
	d.mu.Lock()
	fn := d.onOutcome
	d.mu.Unlock()
	if fn != nil {
		fn(ticket)
	}
	return true
}
