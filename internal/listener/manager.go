package listener

import (
	"log/slog"
	"net/http"

	"github.com/pixil98/go-pandora/internal/network"
)

// AcceptFunc takes ownership of an upgraded socket.
type AcceptFunc func(sock network.Socket) *network.Connection

// ConnectionManager upgrades HTTP requests to websockets and hands each socket
// to the acceptor registered for the request path.
type ConnectionManager struct {
	routes map[string]AcceptFunc
	opts   []network.WebSocketOpt
}

type ConnectionManagerOpt func(*ConnectionManager)

func WithRoute(path string, accept AcceptFunc) ConnectionManagerOpt {
	return func(m *ConnectionManager) {
		m.routes[path] = accept
	}
}

func WithWebSocketOpts(opts ...network.WebSocketOpt) ConnectionManagerOpt {
	return func(m *ConnectionManager) {
		m.opts = append(m.opts, opts...)
	}
}

func NewConnectionManager(opts ...ConnectionManagerOpt) *ConnectionManager {
	m := &ConnectionManager{
		routes: map[string]AcceptFunc{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler serves every registered route.
func (m *ConnectionManager) Handler() http.Handler {
	mux := http.NewServeMux()
	for path, accept := range m.routes {
		mux.HandleFunc("GET "+path, m.upgrade(path, accept))
	}
	return mux
}

func (m *ConnectionManager) upgrade(path string, accept AcceptFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := network.Upgrader().Upgrade(w, r, nil)
		if err != nil {
			// The upgrader has already written the error response.
			slog.WarnContext(r.Context(), "websocket upgrade", "path", path, "remote", r.RemoteAddr, "error", err)
			return
		}

		c := accept(network.NewWebSocket(conn, m.opts...))
		slog.InfoContext(r.Context(), "connection accepted", "path", path, "remote", r.RemoteAddr, "connection", c.ID())
	}
}
