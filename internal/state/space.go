package state

import (
	"fmt"
	"slices"

	"github.com/pixil98/go-errors"
)

// SpaceState is the immutable room layout of one space.
type SpaceState struct {
	id    string
	rooms []*RoomState
}

// NewSpaceState creates a space from rooms. The slice is copied.
func NewSpaceState(id string, rooms []*RoomState) *SpaceState {
	return &SpaceState{
		id:    id,
		rooms: slices.Clone(rooms),
	}
}

// DefaultSpaceBundle is the layout of a freshly created space.
func DefaultSpaceBundle(spaceId string) SpaceBundle {
	return SpaceBundle{
		SpaceID: spaceId,
		Rooms: []RoomBundle{
			{ID: "lobby", Name: "Lobby", Items: []ItemBundle{}},
		},
	}
}

// SpaceStateFromBundle rebuilds a space exactly as bundled.
func SpaceStateFromBundle(b SpaceBundle) *SpaceState {
	rooms := make([]*RoomState, 0, len(b.Rooms))
	for _, rb := range b.Rooms {
		rooms = append(rooms, RoomStateFromBundle(rb))
	}
	return &SpaceState{id: b.SpaceID, rooms: rooms}
}

// LoadSpaceState rebuilds a stored space. Rooms sharing a grid cell with an
// earlier room are shifted right until they fit.
func LoadSpaceState(b SpaceBundle) *SpaceState {
	s := SpaceStateFromBundle(b)

	used := make(map[Position]bool, len(s.rooms))
	for i, r := range s.rooms {
		pos := r.position
		for used[pos] {
			pos.X++
		}
		if pos != r.position {
			s.rooms[i] = r.WithPosition(pos)
		}
		used[pos] = true
	}

	return s
}

func (s *SpaceState) ID() string { return s.id }

// Rooms returns the rooms in order. The slice is a copy.
func (s *SpaceState) Rooms() []*RoomState {
	return slices.Clone(s.rooms)
}

// Room returns the room with id, or nil.
func (s *SpaceState) Room(id string) *RoomState {
	for _, r := range s.rooms {
		if r.id == id {
			return r
		}
	}
	return nil
}

// RoomIDs returns the room ids in order.
func (s *SpaceState) RoomIDs() []string {
	ids := make([]string, 0, len(s.rooms))
	for _, r := range s.rooms {
		ids = append(ids, r.id)
	}
	return ids
}

// WithRoom replaces the room sharing room's id, or appends room.
func (s *SpaceState) WithRoom(room *RoomState) *SpaceState {
	rooms := slices.Clone(s.rooms)
	for i, r := range rooms {
		if r.id == room.id {
			rooms[i] = room
			return &SpaceState{id: s.id, rooms: rooms}
		}
	}
	return &SpaceState{id: s.id, rooms: append(rooms, room)}
}

// WithoutRoom removes the room id.
func (s *SpaceState) WithoutRoom(id string) (*SpaceState, error) {
	i := slices.IndexFunc(s.rooms, func(r *RoomState) bool { return r.id == id })
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	return &SpaceState{id: s.id, rooms: slices.Delete(slices.Clone(s.rooms), i, i+1)}, nil
}

// Bundle exports the space.
func (s *SpaceState) Bundle() SpaceBundle {
	rooms := make([]RoomBundle, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r.Bundle())
	}
	return SpaceBundle{SpaceID: s.id, Rooms: rooms}
}

// ExportClientDelta describes what changed since prev, or nil.
func (s *SpaceState) ExportClientDelta(prev *SpaceState) *SpaceClientDeltaBundle {
	if s == prev {
		return nil
	}

	d := &SpaceClientDeltaBundle{}

	ids := s.RoomIDs()
	if !slices.Equal(ids, prev.RoomIDs()) {
		d.List = ids
	}

	for _, r := range s.rooms {
		old := prev.Room(r.id)
		if old == nil {
			d.Bundles = append(d.Bundles, r.Bundle())
			continue
		}
		if rd := r.ExportClientDelta(old); rd != nil {
			d.Deltas = append(d.Deltas, *rd)
		}
	}

	if d.empty() {
		return nil
	}
	return d
}

// ApplyClientDelta patches the space. The order comes from the delta's list or
// the previous order; a room named there that cannot be found is a desync.
func (s *SpaceState) ApplyClientDelta(d SpaceClientDeltaBundle) (*SpaceState, error) {
	order := d.List
	if order == nil {
		order = s.RoomIDs()
	}

	lookup := make(map[string]*RoomState, len(s.rooms)+len(d.Bundles))
	for _, r := range s.rooms {
		lookup[r.id] = r
	}
	for _, rb := range d.Bundles {
		lookup[rb.ID] = RoomStateFromBundle(rb)
	}
	for _, rd := range d.Deltas {
		base, ok := lookup[rd.ID]
		if !ok {
			return nil, fmt.Errorf("%w: delta for unknown room %q", ErrDesync, rd.ID)
		}
		lookup[rd.ID] = base.ApplyClientDelta(rd)
	}

	rooms := make([]*RoomState, 0, len(order))
	for _, id := range order {
		r, ok := lookup[id]
		if !ok {
			return nil, fmt.Errorf("%w: room %q missing from update", ErrDesync, id)
		}
		rooms = append(rooms, r)
	}

	return &SpaceState{id: s.id, rooms: rooms}, nil
}

// Validate checks the space invariants against the catalog.
func (s *SpaceState) Validate(catalog *AssetCatalog) error {
	el := errors.NewErrorList()

	if s.id == "" {
		el.Add(fmt.Errorf("space id is required"))
	}
	if len(s.rooms) == 0 {
		el.Add(fmt.Errorf("space %q has no rooms", s.id))
	}

	ids := make(map[string]bool, len(s.rooms))
	cells := make(map[Position]string, len(s.rooms))
	for _, r := range s.rooms {
		if ids[r.id] {
			el.Add(fmt.Errorf("duplicate room id %q", r.id))
		}
		ids[r.id] = true

		if other, ok := cells[r.position]; ok {
			el.Add(fmt.Errorf("rooms %q and %q overlap at (%d, %d)", other, r.id, r.position.X, r.position.Y))
		} else {
			cells[r.position] = r.id
		}

		el.Add(r.Validate(catalog))
	}

	return el.Err()
}
