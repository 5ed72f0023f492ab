package state

import (
	"fmt"

	"github.com/pixil98/go-errors"
)

// RoomState is one immutable sub-area of a space.
type RoomState struct {
	id         string
	name       string
	background string
	position   Position
	items      *ItemList
}

// NewRoomState creates an empty room.
func NewRoomState(id, name string, pos Position) *RoomState {
	return &RoomState{
		id:       id,
		name:     name,
		position: pos,
		items:    NewItemList(),
	}
}

// RoomStateFromBundle rebuilds a room from its bundle.
func RoomStateFromBundle(b RoomBundle) *RoomState {
	return &RoomState{
		id:         b.ID,
		name:       b.Name,
		background: b.Background,
		position:   b.Position,
		items:      itemListFromBundles(b.Items),
	}
}

func (r *RoomState) ID() string         { return r.id }
func (r *RoomState) Name() string       { return r.name }
func (r *RoomState) Background() string { return r.background }
func (r *RoomState) Position() Position { return r.position }
func (r *RoomState) Items() *ItemList   { return r.items }

func (r *RoomState) clone() *RoomState {
	c := *r
	return &c
}

// WithName returns a copy of the room with a new name.
func (r *RoomState) WithName(name string) *RoomState {
	c := r.clone()
	c.name = name
	return c
}

// WithBackground returns a copy of the room with a new background.
func (r *RoomState) WithBackground(bg string) *RoomState {
	c := r.clone()
	c.background = bg
	return c
}

// WithPosition returns a copy of the room at a new grid cell.
func (r *RoomState) WithPosition(pos Position) *RoomState {
	c := r.clone()
	c.position = pos
	return c
}

// WithItems returns a copy of the room holding items.
func (r *RoomState) WithItems(items *ItemList) *RoomState {
	c := r.clone()
	c.items = items
	return c
}

// Bundle exports the room.
func (r *RoomState) Bundle() RoomBundle {
	return RoomBundle{
		ID:         r.id,
		Name:       r.name,
		Background: r.background,
		Position:   r.position,
		Items:      r.items.bundles(),
	}
}

// ExportClientDelta describes what changed since prev. The result is nil when
// nothing changed.
func (r *RoomState) ExportClientDelta(prev *RoomState) *RoomClientDeltaBundle {
	if r == prev {
		return nil
	}
	d := &RoomClientDeltaBundle{ID: r.id}
	if r.name != prev.name {
		name := r.name
		d.Name = &name
	}
	if r.background != prev.background {
		bg := r.background
		d.Background = &bg
	}
	if r.position != prev.position {
		pos := r.position
		d.Position = &pos
	}
	if r.items != prev.items {
		items := r.items.bundles()
		d.Items = &items
	}
	if d.empty() {
		return nil
	}
	return d
}

// ApplyClientDelta patches the room.
func (r *RoomState) ApplyClientDelta(d RoomClientDeltaBundle) *RoomState {
	c := r.clone()
	if d.Name != nil {
		c.name = *d.Name
	}
	if d.Background != nil {
		c.background = *d.Background
	}
	if d.Position != nil {
		c.position = *d.Position
	}
	if d.Items != nil {
		c.items = itemListFromBundles(*d.Items)
	}
	return c
}

// Validate checks the room against the catalog.
func (r *RoomState) Validate(catalog *AssetCatalog) error {
	el := errors.NewErrorList()

	if r.id == "" {
		el.Add(fmt.Errorf("room id is required"))
	}
	if r.name == "" {
		el.Add(fmt.Errorf("room %q: name is required", r.id))
	}
	if err := r.items.validate(catalog, AssetKindFurniture); err != nil {
		el.Add(fmt.Errorf("room %q: %w", r.id, err))
	}

	return el.Err()
}
