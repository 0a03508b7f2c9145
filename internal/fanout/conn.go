package fanout

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientFrame is the shape of every inbound frame of the interactive
// subscription protocol.
type clientFrame struct {
	Type     string   `json:"type"`
	Token    string   `json:"token,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// serverFrame is the shape of every outbound control frame. Broadcast
// events are written as Event directly; serverFrame covers auth_success,
// auth_error, subscribed and pong.
type serverFrame struct {
	Type     string   `json:"type"`
	Message  string   `json:"message,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// wsWriter serialises writes to one connection: gorilla/websocket
// connections are not safe for concurrent writers, and both the reader
// loop (control replies) and the mailbox drain (events) produce frames.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsWriter) writeText(body []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, body)
}

// ServeWS upgrades r to a websocket connection and runs the subscription
// protocol until the client disconnects or its heartbeat lapses. It
// blocks for the lifetime of the connection; call it from an
// http.HandlerFunc.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	writer := &wsWriter{conn: conn}
	sub, ok := h.handshake(conn, writer)
	if !ok {
		return
	}
	h.Register(sub)
	defer h.Unregister(sub)

	done := make(chan struct{})
	go h.writerLoop(writer, sub, done)
	h.readerLoop(conn, writer, sub)
	close(done)
}

// handshake waits for the initial auth frame and replies auth_success or
// auth_error. The connection is otherwise unauthenticated until this
// completes.
func (h *Hub) handshake(conn *websocket.Conn, writer *wsWriter) (*Subscriber, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.HeartbeatTimeout))
	var frame clientFrame
	if err := conn.ReadJSON(&frame); err != nil || frame.Type != "auth" {
		_ = writer.writeJSON(serverFrame{Type: "auth_error", Message: "expected auth frame"})
		return nil, false
	}
	identity, ok := h.Authenticate(frame.Token)
	if !ok {
		_ = writer.writeJSON(serverFrame{Type: "auth_error", Message: "invalid token"})
		return nil, false
	}
	if err := writer.writeJSON(serverFrame{Type: "auth_success"}); err != nil {
		return nil, false
	}
	return NewSubscriber(identity, h.cfg), true
}

// readerLoop processes subscribe/unsubscribe/ping frames until the
// connection errors or the heartbeat window lapses.
func (h *Hub) readerLoop(conn *websocket.Conn, writer *wsWriter, sub *Subscriber) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.HeartbeatTimeout))
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case "subscribe":
			applied := sub.Subscribe(frame.Channels)
			_ = writer.writeJSON(serverFrame{Type: "subscribed", Channels: applied})
		case "unsubscribe":
			sub.Unsubscribe(frame.Channels)
		case "ping":
			sub.Heartbeat()
			_ = writer.writeJSON(serverFrame{Type: "pong"})
		default:
			h.logger.Debug("ignoring unrecognized frame", zap.String("identity", sub.identity), zap.String("type", frame.Type))
		}
	}
}

// writerLoop drains the subscriber's mailbox onto the connection.
func (h *Hub) writerLoop(writer *wsWriter, sub *Subscriber, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case evt, ok := <-sub.Mailbox():
			if !ok {
				return
			}
			body, err := marshalEvent(evt)
			if err != nil {
				continue
			}
			if err := writer.writeText(body); err != nil {
				return
			}
		}
	}
}
