package network

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pixil98/go-pandora/internal/protocol"
)

// Registry is the table of connections held by this process. It is the local
// GroupSender.
type Registry struct {
	serverID string

	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewRegistry(serverID string) *Registry {
	return &Registry{
		serverID: serverID,
		conns:    map[string]*Connection{},
	}
}

func (r *Registry) ServerID() string {
	return r.serverID
}

// Add tracks c until it closes.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	r.conns[c.ID()] = c
	r.mu.Unlock()

	c.OnClose(func() {
		r.Remove(c.ID())
	})
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// SendGroup implements GroupSender for connections held by this process.
// Groups for other servers are dropped with a warning.
func (r *Registry) SendGroup(serverID string, connIDs []string, msgType string, payload protocol.Payload) {
	if serverID != r.serverID {
		slog.Warn("registry cannot reach remote server", "server", serverID, "type", msgType)
		return
	}
	for _, id := range connIDs {
		if c, ok := r.Get(id); ok {
			c.SendMessage(msgType, payload)
		}
	}
}

// SendGroupRaw delivers an encoded oneshot. Each connection parses raw against
// its own outbound protocol before sending.
func (r *Registry) SendGroupRaw(connIDs []string, msgType string, raw json.RawMessage) {
	for _, id := range connIDs {
		c, ok := r.Get(id)
		if !ok {
			continue
		}
		payload, err := c.Outbound().ParseRequest(msgType, raw)
		if err != nil {
			slog.Warn("dropping relayed message", "connection", id, "type", msgType, "error", err)
			continue
		}
		c.SendMessage(msgType, payload)
	}
}
