package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/parlorhq/parlor/internal/attachment"
	"github.com/parlorhq/parlor/internal/compose"
	"github.com/parlorhq/parlor/internal/session"
	"github.com/parlorhq/parlor/internal/storage"
	"github.com/parlorhq/parlor/internal/transport"
)

type emitted struct {
	event   string
	payload any
}

// fakeChannel records emitted frames and lets tests inject inbound events.
type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	emitErrs  []error
	frames    []emitted
	handlers  map[string][]transport.Handler
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{connected: true, handlers: make(map[string][]transport.Handler)}
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, emitted{event: event, payload: payload})
	if len(f.emitErrs) > 0 {
		err := f.emitErrs[0]
		f.emitErrs = f.emitErrs[1:]
		return err
	}
	return nil
}

func (f *fakeChannel) On(event string, fn transport.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], fn)
}

func (f *fakeChannel) inject(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal inbound %s: %v", event, err)
	}
	f.mu.Lock()
	handlers := append([]transport.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(data)
	}
}

func (f *fakeChannel) lastFrame(t *testing.T) emitted {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		t.Fatalf("no frames emitted")
	}
	return f.frames[len(f.frames)-1]
}

func liveSession() *session.StaticProvider {
	return session.NewStaticProvider(&session.User{ID: "u1", Token: "tok", SessionID: "s1"})
}

func TestDispatcher_SendPreconditions(t *testing.T) {
	t.Parallel()

	t.Run("not connected", func(t *testing.T) {
		t.Parallel()
		ch := newFakeChannel()
		ch.connected = false
		d := NewDispatcher(nil, ch, liveSession())
		if _, err := d.Send(context.Background(), SendInput{Room: "r", Text: "hi"}); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("Send = %v, want ErrNotConnected", err)
		}
	})

	t.Run("no session", func(t *testing.T) {
		t.Parallel()
		d := NewDispatcher(nil, newFakeChannel(), session.NewStaticProvider(nil))
		if _, err := d.Send(context.Background(), SendInput{Room: "r", Text: "hi"}); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("Send = %v, want ErrNotConnected", err)
		}
	})

	t.Run("empty draft creates no ticket", func(t *testing.T) {
		t.Parallel()
		ch := newFakeChannel()
		d := NewDispatcher(nil, ch, liveSession())
		ticket, err := d.Send(context.Background(), SendInput{Room: "r", Text: "   \n"})
		if !errors.Is(err, ErrEmptyDraft) {
			t.Fatalf("Send = %v, want ErrEmptyDraft", err)
		}
		if ticket != nil {
			t.Fatalf("empty draft produced ticket %v", ticket.ID())
		}
		if len(ch.frames) != 0 {
			t.Fatalf("empty draft reached the transport")
		}
	})
}

func TestDispatcher_SendTextPayload(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	d := NewDispatcher(nil, ch, liveSession())

	ticket, err := d.Send(context.Background(), SendInput{Room: "room-1", Text: "  hello  "})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if outcome, _ := ticket.Outcome(); outcome != OutcomeAcknowledged {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeAcknowledged)
	}

	frame := ch.lastFrame(t)
	if frame.event != transport.EventChatMessage {
		t.Fatalf("event = %s", frame.event)
	}
	msg := frame.payload.(transport.ChatMessage)
	if msg.Room != "room-1" || msg.Type != transport.MessageText || msg.Content != "hello" || msg.FileData != nil {
		t.Fatalf("payload = %+v", msg)
	}
}

func TestDispatcher_SendFilePayload(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	d := NewDispatcher(nil, ch, liveSession())

	file := &transport.FileData{URL: "https://files/x.png", Key: "chat-files/1/x.png", Name: "x.png", Size: 9, Mime: "image/png", Validated: true, Uploaded: true}
	ticket, err := d.Send(context.Background(), SendInput{Room: "room-1", Text: "", File: file})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if outcome, _ := ticket.Outcome(); outcome != OutcomeAcknowledged {
		t.Fatalf("outcome = %s", outcome)
	}

	msg := ch.lastFrame(t).payload.(transport.ChatMessage)
	if msg.Type != transport.MessageFile || msg.Content != "" {
		t.Fatalf("payload = %+v", msg)
	}
	if msg.FileData == nil || !msg.FileData.Validated || !msg.FileData.Uploaded {
		t.Fatalf("fileData = %+v", msg.FileData)
	}
}

func TestDispatcher_SendRenewsSessionOnce(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	ch.emitErrs = []error{errors.New("token expired")}
	sessions := liveSession()
	var renewals int
	sessions.SetRenewFunc(func(ctx context.Context) (session.User, error) {
		renewals++
		return session.User{ID: "u1", Token: "fresh", SessionID: "s2"}, nil
	})
	d := NewDispatcher(nil, ch, sessions)

	ticket, err := d.Send(context.Background(), SendInput{Room: "r", Text: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if outcome, _ := ticket.Outcome(); outcome != OutcomeAcknowledged {
		t.Fatalf("outcome = %s", outcome)
	}
	if renewals != 1 {
		t.Fatalf("renewals = %d, want 1", renewals)
	}
	if len(ch.frames) != 2 {
		t.Fatalf("frames = %d, want 2 (original + retry)", len(ch.frames))
	}
}

func TestDispatcher_SendSessionExpiredAfterFailedRetry(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	ch.emitErrs = []error{errors.New("invalid session"), errors.New("invalid session")}
	sessions := liveSession()
	sessions.SetRenewFunc(func(ctx context.Context) (session.User, error) {
		return session.User{ID: "u1", Token: "fresh"}, nil
	})
	d := NewDispatcher(nil, ch, sessions)

	ticket, err := d.Send(context.Background(), SendInput{Room: "r", Text: "hi"})
	if err == nil {
		t.Fatalf("Send succeeded despite failed retry")
	}
	if outcome, _ := ticket.Outcome(); outcome != OutcomeSessionExpired {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeSessionExpired)
	}
	// Exactly one renewal and one retry, never more.
	if len(ch.frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(ch.frames))
	}
}

func TestDispatcher_SendClassifiesFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		message string
		want    FailureKind
	}{
		{name: "permission", message: "permission denied for room", want: FailurePermissionDenied},
		{name: "not found", message: "room not found", want: FailureNotFound},
		{name: "generic", message: "wire exploded", want: FailureGeneric},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ch := newFakeChannel()
			ch.emitErrs = []error{errors.New(tt.message)}
			d := NewDispatcher(nil, ch, liveSession())

			ticket, err := d.Send(context.Background(), SendInput{Room: "r", Text: "hi"})
			if err == nil {
				t.Fatalf("Send succeeded")
			}
			outcome, reason := ticket.Outcome()
			if outcome != OutcomeFailed || reason != string(tt.want) {
				t.Fatalf("outcome = %s/%s, want %s/%s", outcome, reason, OutcomeFailed, tt.want)
			}
		})
	}
}

func TestDispatcher_FetchHistoryAcknowledged(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	d := NewDispatcher(nil, ch, liveSession())

	ticket, err := d.FetchHistory(context.Background(), "room-1", "msg-50")
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	req := ch.lastFrame(t).payload.(transport.FetchPrevious)
	if req.RoomID != "room-1" || req.Before != "msg-50" {
		t.Fatalf("request = %+v", req)
	}

	ch.inject(t, transport.EventPreviousLoaded, transport.PreviousLoaded{RoomID: "room-1"})

	select {
	case <-ticket.Done():
	case <-time.After(time.Second):
		t.Fatalf("ticket never resolved")
	}
	if outcome, _ := ticket.Outcome(); outcome != OutcomeAcknowledged {
		t.Fatalf("outcome = %s", outcome)
	}

	// A late error event must not flip the resolved ticket.
	ch.inject(t, transport.EventError, transport.ErrorPayload{Message: "too late"})
	if outcome, _ := ticket.Outcome(); outcome != OutcomeAcknowledged {
		t.Fatalf("late error flipped outcome to %s", outcome)
	}
}

func TestDispatcher_FetchHistoryTimeout(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	d := NewDispatcher(nil, ch, liveSession())
	d.SetTimeout(20 * time.Millisecond)

	ticket, err := d.FetchHistory(context.Background(), "room-1", "")
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}

	select {
	case <-ticket.Done():
	case <-time.After(time.Second):
		t.Fatalf("ticket never timed out")
	}
	if outcome, _ := ticket.Outcome(); outcome != OutcomeTimedOut {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeTimedOut)
	}

	// A success event arriving after the timeout is ignored.
	ch.inject(t, transport.EventPreviousLoaded, transport.PreviousLoaded{RoomID: "room-1"})
	if outcome, _ := ticket.Outcome(); outcome != OutcomeTimedOut {
		t.Fatalf("late success flipped outcome to %s", outcome)
	}
}

func TestDispatcher_FetchHistorySingleInFlight(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	d := NewDispatcher(nil, ch, liveSession())

	first, err := d.FetchHistory(context.Background(), "room-1", "")
	if err != nil {
		t.Fatalf("first FetchHistory: %v", err)
	}
	if _, err := d.FetchHistory(context.Background(), "room-1", ""); !errors.Is(err, ErrHistoryInFlight) {
		t.Fatalf("second FetchHistory = %v, want ErrHistoryInFlight", err)
	}

	ch.inject(t, transport.EventPreviousLoaded, transport.PreviousLoaded{RoomID: "room-1"})
	<-first.Done()

	// Resolved ticket frees the slot.
	if _, err := d.FetchHistory(context.Background(), "room-1", "msg-10"); err != nil {
		t.Fatalf("FetchHistory after resolution: %v", err)
	}
}

func TestDispatcher_ErrorEventTriggersRenewal(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	sessions := liveSession()
	renewed := make(chan struct{}, 1)
	sessions.SetRenewFunc(func(ctx context.Context) (session.User, error) {
		renewed <- struct{}{}
		return session.User{ID: "u1", Token: "fresh"}, nil
	})
	d := NewDispatcher(nil, ch, sessions)

	ticket, err := d.FetchHistory(context.Background(), "room-1", "")
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	ch.inject(t, transport.EventError, transport.ErrorPayload{Message: "auth required"})

	select {
	case <-renewed:
	case <-time.After(time.Second):
		t.Fatalf("session renewal never triggered")
	}
	<-ticket.Done()
	if outcome, _ := ticket.Outcome(); outcome != OutcomeSessionExpired {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeSessionExpired)
	}
}

func TestDispatcher_OnOutcomeFiresOnce(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	d := NewDispatcher(nil, ch, liveSession())
	d.SetTimeout(20 * time.Millisecond)

	var mu sync.Mutex
	var outcomes []Outcome
	d.OnOutcome(func(ticket *Ticket) {
		outcome, _ := ticket.Outcome()
		mu.Lock()
		outcomes = append(outcomes, outcome)
		mu.Unlock()
	})

	ticket, err := d.FetchHistory(context.Background(), "room-1", "")
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	<-ticket.Done()
	ch.inject(t, transport.EventPreviousLoaded, transport.PreviousLoaded{RoomID: "room-1"})
	ch.inject(t, transport.EventError, transport.ErrorPayload{Message: "late"})

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 1 || outcomes[0] != OutcomeTimedOut {
		t.Fatalf("outcomes = %v, want single timed_out", outcomes)
	}
}

type stubUploader struct {
	result storage.UploadResult
}

func (s *stubUploader) Upload(ctx context.Context, name, mime string, data io.Reader, size int64, folder string, onProgress storage.ProgressFunc) (storage.UploadResult, error) {
	return s.result, nil
}

func (s *stubUploader) Delete(ctx context.Context, objectURL string) error { return nil }

func (s *stubUploader) ResizeURL(objectURL string, opts storage.ResizeOptions) string {
	return objectURL
}

func TestDispatcher_SendDraftSuccessClearsState(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	d := NewDispatcher(nil, ch, liveSession())

	editor := compose.NewEditor(nil)
	editor.SetText("check this out", 14)

	table := attachment.NewHandleTable("")
	ctrl := attachment.NewController(nil, &stubUploader{result: storage.UploadResult{URL: "https://files/x.png", Key: "chat-files/1/x.png"}}, table)
	if _, err := ctrl.Select(attachment.FileMeta{Name: "x.png", Mime: "image/png", Size: 9}, []byte("bytes")); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if _, err := ctrl.Upload(context.Background(), "chat-files/1"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	ticket, err := d.SendDraft(context.Background(), editor, ctrl, "room-1")
	if err != nil {
		t.Fatalf("SendDraft: %v", err)
	}
	if outcome, _ := ticket.Outcome(); outcome != OutcomeAcknowledged {
		t.Fatalf("outcome = %s", outcome)
	}

	msg := ch.lastFrame(t).payload.(transport.ChatMessage)
	if msg.Type != transport.MessageFile || msg.Content != "check this out" {
		t.Fatalf("payload = %+v", msg)
	}

	if editor.Text() != "" || editor.Status() != compose.StatusIdle {
		t.Fatalf("draft not cleared: %q / %s", editor.Text(), editor.Status())
	}
	if _, ok := ctrl.Snapshot(); ok {
		t.Fatalf("attachment not detached after send")
	}
	if table.Len() != 0 {
		t.Fatalf("preview handle leaked, table len = %d", table.Len())
	}
}

func TestDispatcher_SendDraftFailureKeepsState(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	ch.emitErrs = []error{errors.New("wire exploded")}
	d := NewDispatcher(nil, ch, liveSession())

	editor := compose.NewEditor(nil)
	editor.SetText("hello", 5)

	ctrl := attachment.NewController(nil, &stubUploader{result: storage.UploadResult{URL: "https://files/x.png"}}, attachment.NewHandleTable(""))
	if _, err := ctrl.Select(attachment.FileMeta{Name: "x.png", Mime: "image/png", Size: 9}, []byte("bytes")); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if _, err := ctrl.Upload(context.Background(), "chat-files/1"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if _, err := d.SendDraft(context.Background(), editor, ctrl, "room-1"); err == nil {
		t.Fatalf("SendDraft succeeded despite emit failure")
	}

	// The draft and the uploaded attachment both survive for a resend.
	if editor.Text() != "hello" || editor.Status() != compose.StatusReady {
		t.Fatalf("draft lost on failure: %q / %s", editor.Text(), editor.Status())
	}
	snap, ok := ctrl.Snapshot()
	if !ok || snap.State != attachment.StateComplete {
		t.Fatalf("uploaded attachment lost on failure: %+v", snap)
	}
}

func TestDispatcher_SendDraftEmptyDraft(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil, newFakeChannel(), liveSession())
	editor := compose.NewEditor(nil)
	ctrl := attachment.NewController(nil, &stubUploader{}, attachment.NewHandleTable(""))

	if _, err := d.SendDraft(context.Background(), editor, ctrl, "room-1"); !errors.Is(err, ErrEmptyDraft) {
		t.Fatalf("SendDraft = %v, want ErrEmptyDraft", err)
	}
}
