package messaging

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/pixil98/go-pandora/internal/network"
)

// Kinds of membership announcement.
const (
	memberJoin uint8 = iota + 1
	memberLeave
	// memberHello carries the sender's full local membership and asks every
	// peer to answer with a memberSync.
	memberHello
	memberSync
	// memberGone drops everything the sender had in the room.
	memberGone
)

type membership struct {
	Server string   `cbor:"1,keyasint"`
	Kind   uint8    `cbor:"2,keyasint"`
	Conns  []string `cbor:"3,keyasint,omitempty"`
}

type sharedRoom struct {
	bus     *Bus
	room    *network.Room
	subject string
}

// ShareRoom keeps room's membership in step with the rooms of the same name
// on every other server of the bus, so that a broadcast from any of them
// reaches all members. It must be called before Start.
func (b *Bus) ShareRoom(room *network.Room) error {
	subject, err := b.RoomSubject(room.Name())
	if err != nil {
		return err
	}

	sr := &sharedRoom{bus: b, room: room, subject: subject}
	room.OnMembership(func(connID string, joined bool) {
		// Start announces everything present by then.
		select {
		case <-b.ready:
		default:
			return
		}
		kind := memberLeave
		if joined {
			kind = memberJoin
		}
		sr.announce(kind, []string{connID})
	})
	b.rooms = append(b.rooms, sr)
	return nil
}

func (sr *sharedRoom) localMembers() []string {
	return sr.room.Members()[sr.bus.registry.ServerID()]
}

func (sr *sharedRoom) announce(kind uint8, conns []string) {
	data, err := encMode.Marshal(membership{
		Server: sr.bus.registry.ServerID(),
		Kind:   kind,
		Conns:  conns,
	})
	if err == nil {
		err = sr.bus.transport.Publish(sr.subject, data)
	}
	if err != nil {
		slog.Warn("announcing room membership", "room", sr.room.Name(), "kind", kind, "error", err)
	}
}

func (sr *sharedRoom) apply(data []byte) {
	var m membership
	if err := decMode.Unmarshal(data, &m); err != nil {
		slog.Warn("discarding malformed membership", "room", sr.room.Name(), "error", err)
		return
	}
	if m.Server == "" || m.Server == sr.bus.registry.ServerID() {
		return
	}

	switch m.Kind {
	case memberJoin:
		for _, id := range m.Conns {
			sr.room.JoinRemote(m.Server, id)
		}
	case memberLeave:
		for _, id := range m.Conns {
			sr.room.LeaveRemote(m.Server, id)
		}
	case memberHello, memberSync:
		sr.replace(m.Server, m.Conns)
		if m.Kind == memberHello {
			sr.announce(memberSync, sr.localMembers())
		}
	case memberGone:
		sr.replace(m.Server, nil)
	default:
		slog.Warn("discarding membership", "room", sr.room.Name(), "error", fmt.Errorf("unknown kind %d", m.Kind))
	}
}

// replace makes conns the complete membership of serverID.
func (sr *sharedRoom) replace(serverID string, conns []string) {
	for _, id := range sr.room.Members()[serverID] {
		if !slices.Contains(conns, id) {
			sr.room.LeaveRemote(serverID, id)
		}
	}
	for _, id := range conns {
		sr.room.JoinRemote(serverID, id)
	}
}
