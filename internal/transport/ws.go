package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSChannel is a websocket-backed Channel. A single reader goroutine
// dispatches inbound frames to registered handlers; writes are serialized
// with a mutex because gorilla/websocket allows one concurrent writer.
type WSChannel struct {
	logger *slog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu        sync.RWMutex
	handlers  map[string][]Handler
	connected bool
}

// Dial connects to the realtime gateway and starts the read loop. The header
// carries authentication (bearer token) when the caller has a session.
func Dial(ctx context.Context, log *slog.Logger, url string, header http.Header) (*WSChannel, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	ch := &WSChannel{
		logger:    log.With(slog.String("service", "transport")),
		conn:      conn,
		handlers:  make(map[string][]Handler),
		connected: true,
	}
	go ch.readLoop()
	return ch, nil
}

// Connected reports whether the channel is usable for Emit.
func (c *WSChannel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Emit writes one frame. The payload is JSON-encoded into the envelope.
func (c *WSChannel) Emit(event string, payload any) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	frame := Frame{Event: event, Data: data}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// On registers a handler for an event. Handlers run on the read loop
// goroutine in registration order and must not block.
func (c *WSChannel) On(event string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

// Close tears the connection down. Safe to call more than once.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *WSChannel) readLoop() {
	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			wasConnected := c.connected
			c.connected = false
			c.mu.Unlock()
			if wasConnected && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("read loop terminated", slog.String("error", err.Error()))
			}
			return
		}
		c.mu.RLock()
		handlers := append([]Handler(nil), c.handlers[frame.Event]...)
		c.mu.RUnlock()
		if len(handlers) == 0 {
			c.logger.Debug("unhandled event", slog.String("event", frame.Event))
			continue
		}
		for _, fn := range handlers {
			fn(frame.Data)
		}
	}
}
