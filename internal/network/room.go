package network

import (
	"slices"
	"sync"

	"github.com/pixil98/go-pandora/internal/protocol"
)

// GroupSender delivers a oneshot to a set of connections held by one server
// process.
type GroupSender interface {
	SendGroup(serverID string, connIDs []string, msgType string, payload protocol.Payload)
}

// Room is a named multicast group. Members are grouped by the server process
// holding their connection so that a broadcast costs one send per process.
// Whether a room is still needed is up to its owner; an empty room is not
// removed by itself.
type Room struct {
	name     string
	serverID string
	sender   GroupSender

	// order keeps local joins and leaves reported in the order they happened.
	order sync.Mutex

	mu       sync.Mutex
	groups   map[string]map[string]struct{}
	watchers []func(connID string, joined bool)
}

// NewRoom creates a room whose local connections belong to serverID. sender
// performs the per-process fan-out.
func NewRoom(name, serverID string, sender GroupSender) *Room {
	return &Room{
		name:     name,
		serverID: serverID,
		sender:   sender,
		groups:   map[string]map[string]struct{}{},
	}
}

func (r *Room) Name() string {
	return r.name
}

// Join adds a local connection. Joining twice is a no-op, as is joining with
// a connection that has already closed.
func (r *Room) Join(c *Connection) {
	r.order.Lock()
	defer r.order.Unlock()
	if r.join(c) {
		r.notify(c.ID(), true)
	}
}

func (r *Room) join(c *Connection) bool {
	// The connection is marked under the room lock so that a concurrent close,
	// which leaves every marked room, cannot remove it before it is added.
	r.mu.Lock()
	defer r.mu.Unlock()

	if !c.joinRoom(r) {
		return false
	}
	return r.addLocked(r.serverID, c.ID())
}

// JoinRemote adds a connection held by another server process.
func (r *Room) JoinRemote(serverID, connID string) {
	r.add(serverID, connID)
}

// Leave removes a local connection. Leaving a room one is not in is a no-op.
func (r *Room) Leave(c *Connection) {
	r.order.Lock()
	defer r.order.Unlock()
	c.leaveRoom(r)
	if r.remove(r.serverID, c.ID()) {
		r.notify(c.ID(), false)
	}
}

// OnMembership registers fn for every local connection that joins or leaves.
// Remote membership changes are not reported.
func (r *Room) OnMembership(fn func(connID string, joined bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
}

func (r *Room) notify(connID string, joined bool) {
	r.mu.Lock()
	watchers := slices.Clone(r.watchers)
	r.mu.Unlock()

	for _, fn := range watchers {
		fn(connID, joined)
	}
}

// LeaveRemote removes a connection held by another server process.
func (r *Room) LeaveRemote(serverID, connID string) {
	r.remove(serverID, connID)
}

func (r *Room) add(serverID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(serverID, connID)
}

func (r *Room) addLocked(serverID, connID string) bool {
	group, ok := r.groups[serverID]
	if !ok {
		group = map[string]struct{}{}
		r.groups[serverID] = group
	}
	if _, ok := group[connID]; ok {
		return false
	}
	group[connID] = struct{}{}
	return true
}

func (r *Room) remove(serverID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.groups[serverID]
	if !ok {
		return false
	}
	if _, ok := group[connID]; !ok {
		return false
	}
	delete(group, connID)
	if len(group) == 0 {
		delete(r.groups, serverID)
	}
	return true
}

func (r *Room) HasClients() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups) > 0
}

// Members returns the connection ids in the room, grouped by server id.
func (r *Room) Members() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string][]string, len(r.groups))
	for serverID, group := range r.groups {
		ids := make([]string, 0, len(group))
		for id := range group {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		out[serverID] = ids
	}
	return out
}

// SendMessage broadcasts a oneshot to every member.
func (r *Room) SendMessage(msgType string, payload protocol.Payload) {
	for serverID, ids := range r.Members() {
		r.sender.SendGroup(serverID, ids, msgType, payload)
	}
}
