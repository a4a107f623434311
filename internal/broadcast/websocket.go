package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jkoski/edgeflow/pkg/api"
)

// Envelope is the wire frame sent over the WebSocket channel:
// {type: "ws:<event.type>", payload: <event>, timestamp: <unix ms>}.
type Envelope struct {
	Type      string    `json:"type"`
	Payload   api.Event `json:"payload"`
	Timestamp int64     `json:"timestamp"`
}

// NewEnvelope wraps ev in the wire frame.
func NewEnvelope(ev api.Event) Envelope {
	return Envelope{
		Type:      "ws:" + ev.EventType(),
		Payload:   ev,
		Timestamp: ev.At().UnixMilli(),
	}
}

// WebSocketSink sends envelopes over a single gorilla/websocket connection.
// gorilla connections allow one concurrent writer, so writes are serialized
// here; the broadcaster already serializes its own sends, but a sink may be
// shared.
type WebSocketSink struct {
	mu   sync.Mutex
	conn *websocket.Conn

	// WriteTimeout bounds each send. Zero means no deadline.
	WriteTimeout time.Duration
}

var _ Sink = (*WebSocketSink)(nil)

// NewWebSocketSink wraps an established connection. The caller owns the
// connection lifecycle (dial/upgrade and close).
func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn, WriteTimeout: 10 * time.Second}
}

// Send writes the envelope as one JSON text frame. A write error is wrapped
// in api.ConnectionError so the broadcaster degrades to buffering.
func (s *WebSocketSink) Send(ev api.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
	}
	if err := s.conn.WriteJSON(NewEnvelope(ev)); err != nil {
		return &api.ConnectionError{Err: err}
	}
	return nil
}

// Close closes the underlying connection.
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
