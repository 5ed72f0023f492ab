package state

import (
	"fmt"
	"maps"

	"github.com/pixil98/go-errors"
)

const (
	ViewFront = "front"
	ViewBack  = "back"

	RestrictionOverrideSafemode = "safemode"
	RestrictionOverrideTimeout  = "timeout"

	maxBoneAngle = 180
)

// Pose is an immutable set of bone angles and a facing.
type Pose struct {
	bones map[string]int
	view  string
}

// NewPose creates a pose. The bone map is copied.
func NewPose(view string, bones map[string]int) *Pose {
	return &Pose{bones: maps.Clone(bones), view: view}
}

func poseFromBundle(b PoseBundle) *Pose {
	view := b.View
	if view == "" {
		view = ViewFront
	}
	return NewPose(view, b.Bones)
}

func (p *Pose) View() string { return p.view }

// Bone returns the angle of a bone; missing bones are 0.
func (p *Pose) Bone(name string) int {
	return p.bones[name]
}

func (p *Pose) bundle() PoseBundle {
	return PoseBundle{Bones: maps.Clone(p.bones), View: p.view}
}

func (p *Pose) validate() error {
	el := errors.NewErrorList()

	switch p.view {
	case ViewFront, ViewBack:
	default:
		el.Add(fmt.Errorf("invalid view %q", p.view))
	}
	for bone, angle := range p.bones {
		if angle < -maxBoneAngle || angle > maxBoneAngle {
			el.Add(fmt.Errorf("bone %q: angle %d out of range", bone, angle))
		}
	}

	return el.Err()
}

// CharacterState is the immutable appearance and location of one character.
type CharacterState struct {
	id                  string
	catalog             *AssetCatalog
	room                string
	items               *ItemList
	pose                *Pose
	restrictionOverride string
}

// NewCharacterState creates a character standing in room.
func NewCharacterState(id string, catalog *AssetCatalog, room string) *CharacterState {
	return &CharacterState{
		id:      id,
		catalog: catalog,
		room:    room,
		items:   NewItemList(),
		pose:    NewPose(ViewFront, nil),
	}
}

// CharacterStateFromBundle rebuilds a character.
func CharacterStateFromBundle(b CharacterBundle, catalog *AssetCatalog) *CharacterState {
	return &CharacterState{
		id:                  b.ID,
		catalog:             catalog,
		room:                b.Room,
		items:               itemListFromBundles(b.Items),
		pose:                poseFromBundle(b.Pose),
		restrictionOverride: b.RestrictionOverride,
	}
}

func (c *CharacterState) ID() string                  { return c.id }
func (c *CharacterState) Catalog() *AssetCatalog      { return c.catalog }
func (c *CharacterState) Room() string                { return c.room }
func (c *CharacterState) Items() *ItemList            { return c.items }
func (c *CharacterState) Pose() *Pose                 { return c.pose }
func (c *CharacterState) RestrictionOverride() string { return c.restrictionOverride }

func (c *CharacterState) clone() *CharacterState {
	n := *c
	return &n
}

// WithRoom returns a copy of the character standing in room.
func (c *CharacterState) WithRoom(room string) *CharacterState {
	n := c.clone()
	n.room = room
	return n
}

// WithItems returns a copy of the character wearing items.
func (c *CharacterState) WithItems(items *ItemList) *CharacterState {
	n := c.clone()
	n.items = items
	return n
}

// WithPose returns a copy of the character in pose.
func (c *CharacterState) WithPose(pose *Pose) *CharacterState {
	n := c.clone()
	n.pose = pose
	return n
}

// WithRestrictionOverride returns a copy with the override set; "" clears it.
func (c *CharacterState) WithRestrictionOverride(o string) *CharacterState {
	n := c.clone()
	n.restrictionOverride = o
	return n
}

// Bundle exports the character.
func (c *CharacterState) Bundle() CharacterBundle {
	return CharacterBundle{
		ID:                  c.id,
		Room:                c.room,
		Items:               c.items.bundles(),
		Pose:                c.pose.bundle(),
		RestrictionOverride: c.restrictionOverride,
	}
}

// ExportClientDelta describes what changed since prev, or nil.
func (c *CharacterState) ExportClientDelta(prev *CharacterState) *CharacterClientDeltaBundle {
	if c == prev {
		return nil
	}
	d := &CharacterClientDeltaBundle{ID: c.id}
	if c.room != prev.room {
		room := c.room
		d.Room = &room
	}
	if c.items != prev.items {
		items := c.items.bundles()
		d.Items = &items
	}
	if c.pose != prev.pose {
		pose := c.pose.bundle()
		d.Pose = &pose
	}
	if c.restrictionOverride != prev.restrictionOverride {
		o := c.restrictionOverride
		d.RestrictionOverride = &o
	}
	if d.empty() {
		return nil
	}
	return d
}

// ApplyClientDelta patches the character.
func (c *CharacterState) ApplyClientDelta(d CharacterClientDeltaBundle) *CharacterState {
	n := c.clone()
	if d.Room != nil {
		n.room = *d.Room
	}
	if d.Items != nil {
		n.items = itemListFromBundles(*d.Items)
	}
	if d.Pose != nil {
		n.pose = poseFromBundle(*d.Pose)
	}
	if d.RestrictionOverride != nil {
		n.restrictionOverride = *d.RestrictionOverride
	}
	return n
}

// Validate checks the character against its own catalog.
func (c *CharacterState) Validate() error {
	el := errors.NewErrorList()

	if c.id == "" {
		el.Add(fmt.Errorf("character id is required"))
	}
	if c.catalog == nil {
		el.Add(fmt.Errorf("character %q: no asset catalog", c.id))
		return el.Err()
	}
	if c.room == "" {
		el.Add(fmt.Errorf("character %q: room is required", c.id))
	}
	switch c.restrictionOverride {
	case "", RestrictionOverrideSafemode, RestrictionOverrideTimeout:
	default:
		el.Add(fmt.Errorf("character %q: invalid restriction override %q", c.id, c.restrictionOverride))
	}
	if err := c.items.validate(c.catalog, AssetKindPersonal); err != nil {
		el.Add(fmt.Errorf("character %q: %w", c.id, err))
	}
	if err := c.pose.validate(); err != nil {
		el.Add(fmt.Errorf("character %q: %w", c.id, err))
	}

	return el.Err()
}
