package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// WebSocketSink streams Events to an external telemetry collector over a
// websocket connection. The engine is always the client here — it pushes
// events out; it never serves a UI itself (that distinguishes this from the
// excluded web UI, see SPEC_FULL.md §3).
type WebSocketSink struct {
	url  string
	mu   sync.Mutex
	conn *websocket.Conn
}

// DialWebSocketSink connects to url immediately; the connection is retried
// lazily on the next Emit if it drops.
func DialWebSocketSink(ctx context.Context, url string) (*WebSocketSink, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &WebSocketSink{url: url, conn: conn}, nil
}

// Emit marshals evt as JSON and writes it as a text frame. Write errors are
// logged and trigger a reconnect attempt on the next call rather than
// propagating — telemetry delivery is best-effort.
func (s *WebSocketSink) Emit(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Printf("telemetry: marshal event: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		s.reconnectLocked()
		if s.conn == nil {
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		log.Printf("telemetry: websocket write failed, will reconnect: %v", err)
		_ = s.conn.Close(websocket.StatusAbnormalClosure, "write failed")
		s.conn = nil
	}
}

func (s *WebSocketSink) reconnectLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		log.Printf("telemetry: websocket reconnect failed: %v", err)
		return
	}
	s.conn = conn
}

// Close shuts down the websocket connection.
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	return err
}
