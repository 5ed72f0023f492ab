package state

import (
	"fmt"

	"github.com/pixil98/go-errors"
)

// Bundles are the plain serializable forms of the state tree. Their Validate
// methods only check shape; semantic checks happen when a bundle is turned
// back into state.

// Position is a cell on the space's room grid.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type ItemBundle struct {
	ID    string `json:"id"`
	Asset string `json:"asset"`
	Color string `json:"color,omitempty"`
}

func (b *ItemBundle) Validate() error {
	el := errors.NewErrorList()
	if b.ID == "" {
		el.Add(fmt.Errorf("item id is required"))
	}
	if b.Asset == "" {
		el.Add(fmt.Errorf("item %q: asset is required", b.ID))
	}
	return el.Err()
}

type RoomBundle struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Background string       `json:"background,omitempty"`
	Position   Position     `json:"position"`
	Items      []ItemBundle `json:"items"`
}

func (b *RoomBundle) Validate() error {
	el := errors.NewErrorList()
	if b.ID == "" {
		el.Add(fmt.Errorf("room id is required"))
	}
	for i := range b.Items {
		el.Add(b.Items[i].Validate())
	}
	return el.Err()
}

type SpaceBundle struct {
	SpaceID string       `json:"spaceId"`
	Rooms   []RoomBundle `json:"rooms"`
}

func (b *SpaceBundle) Validate() error {
	el := errors.NewErrorList()
	if b.SpaceID == "" {
		el.Add(fmt.Errorf("spaceId is required"))
	}
	if len(b.Rooms) == 0 {
		el.Add(fmt.Errorf("space %q: at least one room is required", b.SpaceID))
	}
	for i := range b.Rooms {
		el.Add(b.Rooms[i].Validate())
	}
	return el.Err()
}

type PoseBundle struct {
	Bones map[string]int `json:"bones,omitempty"`
	View  string         `json:"view"`
}

type CharacterBundle struct {
	ID                  string       `json:"id"`
	Room                string       `json:"room"`
	Items               []ItemBundle `json:"items"`
	Pose                PoseBundle   `json:"pose"`
	RestrictionOverride string       `json:"restrictionOverride,omitempty"`
}

func (b *CharacterBundle) Validate() error {
	el := errors.NewErrorList()
	if b.ID == "" {
		el.Add(fmt.Errorf("character id is required"))
	}
	for i := range b.Items {
		el.Add(b.Items[i].Validate())
	}
	return el.Err()
}

type GlobalStateBundle struct {
	Assets     string            `json:"assets"`
	Space      SpaceBundle       `json:"space"`
	Characters []CharacterBundle `json:"characters"`
}

func (b *GlobalStateBundle) Validate() error {
	el := errors.NewErrorList()
	if b.Assets == "" {
		el.Add(fmt.Errorf("assets hash is required"))
	}
	el.Add(b.Space.Validate())
	for i := range b.Characters {
		el.Add(b.Characters[i].Validate())
	}
	return el.Err()
}

// RoomClientDeltaBundle carries only the fields of a room that changed.
type RoomClientDeltaBundle struct {
	ID         string        `json:"id"`
	Name       *string       `json:"name,omitempty"`
	Background *string       `json:"background,omitempty"`
	Position   *Position     `json:"position,omitempty"`
	Items      *[]ItemBundle `json:"items,omitempty"`
}

func (d *RoomClientDeltaBundle) empty() bool {
	return d.Name == nil && d.Background == nil && d.Position == nil && d.Items == nil
}

// SpaceClientDeltaBundle carries room changes. List is present only when the
// room order or membership changed; Bundles holds rooms the receiver has never
// seen and Deltas patches rooms it already has.
type SpaceClientDeltaBundle struct {
	List    []string                `json:"list,omitempty"`
	Bundles []RoomBundle            `json:"bundles,omitempty"`
	Deltas  []RoomClientDeltaBundle `json:"deltas,omitempty"`
}

func (d *SpaceClientDeltaBundle) empty() bool {
	return d.List == nil && len(d.Bundles) == 0 && len(d.Deltas) == 0
}

type CharacterClientDeltaBundle struct {
	ID                  string        `json:"id"`
	Room                *string       `json:"room,omitempty"`
	Items               *[]ItemBundle `json:"items,omitempty"`
	Pose                *PoseBundle   `json:"pose,omitempty"`
	RestrictionOverride *string       `json:"restrictionOverride,omitempty"`
}

func (d *CharacterClientDeltaBundle) empty() bool {
	return d.Room == nil && d.Items == nil && d.Pose == nil && d.RestrictionOverride == nil
}

// CharacterMapDelta carries characters that left, joined or changed.
type CharacterMapDelta struct {
	Removed []string                     `json:"removed,omitempty"`
	Bundles []CharacterBundle            `json:"bundles,omitempty"`
	Deltas  []CharacterClientDeltaBundle `json:"deltas,omitempty"`
}

func (d *CharacterMapDelta) empty() bool {
	return len(d.Removed) == 0 && len(d.Bundles) == 0 && len(d.Deltas) == 0
}

// GlobalStateClientDeltaBundle is the incremental update sent to clients.
// Unchanged branches are nil.
type GlobalStateClientDeltaBundle struct {
	Space      *SpaceClientDeltaBundle `json:"space,omitempty"`
	Characters *CharacterMapDelta      `json:"characters,omitempty"`
}

// Empty reports whether the delta carries no changes.
func (d *GlobalStateClientDeltaBundle) Empty() bool {
	return d.Space == nil && d.Characters == nil
}

func (d *GlobalStateClientDeltaBundle) Validate() error {
	el := errors.NewErrorList()
	if d.Space != nil {
		for i := range d.Space.Bundles {
			el.Add(d.Space.Bundles[i].Validate())
		}
		for _, r := range d.Space.Deltas {
			if r.ID == "" {
				el.Add(fmt.Errorf("room delta without id"))
			}
		}
	}
	if d.Characters != nil {
		for i := range d.Characters.Bundles {
			el.Add(d.Characters.Bundles[i].Validate())
		}
		for _, c := range d.Characters.Deltas {
			if c.ID == "" {
				el.Add(fmt.Errorf("character delta without id"))
			}
		}
	}
	return el.Err()
}
