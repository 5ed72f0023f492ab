package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pixil98/go-pandora/internal/protocol"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPongTimeout  = 60 * time.Second
)

// wsFrame is the JSON frame carried in each websocket text message. A frame
// with Ack set answers an earlier frame with that AckID.
type wsFrame struct {
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	AckID   uint64          `json:"ackId,omitempty"`
	Ack     uint64          `json:"ack,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// WebSocket binds a gorilla websocket connection to the Socket interface.
type WebSocket struct {
	id      string
	conn    *websocket.Conn
	pending *pendingAcks
	inbox   *frameQueue

	writeTimeout time.Duration
	pongTimeout  time.Duration

	writeMu   sync.Mutex
	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

type WebSocketOpt func(*WebSocket)

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) WebSocketOpt {
	return func(w *WebSocket) {
		w.writeTimeout = d
	}
}

// WithPongTimeout sets how long the socket waits for any traffic before it
// gives up on the peer. Pings are sent at half this interval.
func WithPongTimeout(d time.Duration) WebSocketOpt {
	return func(w *WebSocket) {
		w.pongTimeout = d
	}
}

// NewWebSocket wraps an established websocket connection.
func NewWebSocket(conn *websocket.Conn, opts ...WebSocketOpt) *WebSocket {
	w := &WebSocket{
		id:           uuid.NewString(),
		conn:         conn,
		pending:      newPendingAcks(),
		inbox:        newFrameQueue(),
		writeTimeout: defaultWriteTimeout,
		pongTimeout:  defaultPongTimeout,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// DialWebSocket connects to a websocket endpoint.
func DialWebSocket(ctx context.Context, url string, opts ...WebSocketOpt) (*WebSocket, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return NewWebSocket(conn, opts...), nil
}

// Upgrader returns the upgrader used for inbound websocket connections.
func Upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func (w *WebSocket) ID() string {
	return w.id
}

func (w *WebSocket) SetHandler(h SocketHandler) {
	w.startOnce.Do(func() {
		go w.inbox.deliver(h)
		go w.readLoop()
		go w.pingLoop()
	})
}

func (w *WebSocket) Emit(msgType string, raw json.RawMessage) error {
	return w.write(wsFrame{Type: msgType, Payload: raw})
}

func (w *WebSocket) EmitWithAck(msgType string, raw json.RawMessage, timeout time.Duration, ack AckFunc) error {
	id, err := w.pending.add(timeout, ack)
	if err != nil {
		return err
	}
	if err := w.write(wsFrame{Type: msgType, Payload: raw, AckID: id}); err != nil {
		w.pending.resolve(id, nil, err)
	}
	return nil
}

func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.pending.failAll(ErrSocketClosed)
		w.inbox.close()

		w.writeMu.Lock()
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
		_ = w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		w.writeMu.Unlock()

		err = w.conn.Close()
	})
	return err
}

func (w *WebSocket) write(f wsFrame) error {
	select {
	case <-w.done:
		return ErrSocketClosed
	default:
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshalling frame: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

func (w *WebSocket) readLoop() {
	defer func() { _ = w.Close() }()

	_ = w.conn.SetReadDeadline(time.Now().Add(w.pongTimeout))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(w.pongTimeout))
	})

	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				slog.Debug("websocket read", "socket", w.id, "error", err)
			}
			return
		}
		_ = w.conn.SetReadDeadline(time.Now().Add(w.pongTimeout))

		if msgType != websocket.TextMessage {
			continue
		}

		var f wsFrame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("discarding malformed websocket frame", "socket", w.id, "error", err)
			continue
		}

		// Acks are settled here rather than queued so that a handler blocked
		// on a response cannot starve its own acknowledgement.
		if f.Ack != 0 {
			if f.Error != "" {
				w.pending.resolve(f.Ack, nil, &protocol.RemoteError{Message: f.Error})
			} else {
				w.pending.resolve(f.Ack, f.Payload, nil)
			}
			continue
		}

		frame := inboundFrame{msgType: f.Type, raw: f.Payload}
		if f.AckID != 0 {
			ackID := f.AckID
			frame.respond = func(errMsg string, result json.RawMessage) {
				if err := w.write(wsFrame{Ack: ackID, Payload: result, Error: errMsg}); err != nil {
					slog.Debug("websocket ack", "socket", w.id, "error", err)
				}
			}
		}
		if !w.inbox.push(frame) {
			return
		}
	}
}

func (w *WebSocket) pingLoop() {
	ticker := time.NewTicker(w.pongTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout))
			w.writeMu.Unlock()
			if err != nil {
				_ = w.Close()
				return
			}
		}
	}
}
