package state

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pixil98/go-errors"
)

// characterSet is an immutable map of characters. GlobalState holds it by
// pointer so an untouched set can be detected by identity.
type characterSet struct {
	byId map[string]*CharacterState
}

// GlobalState is the authoritative snapshot of one space: its layout and every
// character present. It is never mutated; every producer returns a new root
// that shares all untouched branches with its parent.
type GlobalState struct {
	catalog    *AssetCatalog
	space      *SpaceState
	characters *characterSet
}

// NewGlobalState creates a state with no characters.
func NewGlobalState(catalog *AssetCatalog, space *SpaceState) *GlobalState {
	return &GlobalState{
		catalog:    catalog,
		space:      space,
		characters: &characterSet{byId: map[string]*CharacterState{}},
	}
}

// GlobalStateFromBundle rebuilds a state. The bundle must reference catalog by
// hash.
func GlobalStateFromBundle(b GlobalStateBundle, catalog *AssetCatalog) (*GlobalState, error) {
	if b.Assets != catalog.Hash() {
		return nil, fmt.Errorf("%w: bundle has %q, have %q", ErrCatalogMismatch, b.Assets, catalog.Hash())
	}

	chars := make(map[string]*CharacterState, len(b.Characters))
	for _, cb := range b.Characters {
		chars[cb.ID] = CharacterStateFromBundle(cb, catalog)
	}

	g := &GlobalState{
		catalog:    catalog,
		space:      SpaceStateFromBundle(b.Space),
		characters: &characterSet{byId: chars},
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *GlobalState) Catalog() *AssetCatalog { return g.catalog }
func (g *GlobalState) Space() *SpaceState     { return g.space }

// Character returns the character with id, or nil.
func (g *GlobalState) Character(id string) *CharacterState {
	return g.characters.byId[id]
}

// Characters returns every character sorted by id.
func (g *GlobalState) Characters() []*CharacterState {
	chars := slices.Collect(maps.Values(g.characters.byId))
	slices.SortFunc(chars, func(a, b *CharacterState) int {
		return strings.Compare(a.id, b.id)
	})
	return chars
}

// WithSpace returns a state with a new space layout.
func (g *GlobalState) WithSpace(space *SpaceState) *GlobalState {
	n := *g
	n.space = space
	return &n
}

// WithCharacter adds or replaces a character.
func (g *GlobalState) WithCharacter(c *CharacterState) *GlobalState {
	chars := maps.Clone(g.characters.byId)
	chars[c.id] = c
	n := *g
	n.characters = &characterSet{byId: chars}
	return &n
}

// WithoutCharacter removes a character.
func (g *GlobalState) WithoutCharacter(id string) (*GlobalState, error) {
	if _, ok := g.characters.byId[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrCharacterAbsent, id)
	}
	chars := maps.Clone(g.characters.byId)
	delete(chars, id)
	n := *g
	n.characters = &characterSet{byId: chars}
	return &n, nil
}

// Bundle exports the full state.
func (g *GlobalState) Bundle() GlobalStateBundle {
	chars := g.Characters()
	bundles := make([]CharacterBundle, 0, len(chars))
	for _, c := range chars {
		bundles = append(bundles, c.Bundle())
	}
	return GlobalStateBundle{
		Assets:     g.catalog.Hash(),
		Space:      g.space.Bundle(),
		Characters: bundles,
	}
}

// ExportClientDelta describes what changed since prev. Branches shared by
// reference with prev are left out.
func (g *GlobalState) ExportClientDelta(prev *GlobalState) GlobalStateClientDeltaBundle {
	var d GlobalStateClientDeltaBundle
	if g == prev {
		return d
	}

	if g.space != prev.space {
		d.Space = g.space.ExportClientDelta(prev.space)
	}

	if g.characters != prev.characters {
		cd := &CharacterMapDelta{}
		for _, old := range prev.Characters() {
			if _, ok := g.characters.byId[old.id]; !ok {
				cd.Removed = append(cd.Removed, old.id)
			}
		}
		for _, c := range g.Characters() {
			old, ok := prev.characters.byId[c.id]
			if !ok {
				cd.Bundles = append(cd.Bundles, c.Bundle())
				continue
			}
			if delta := c.ExportClientDelta(old); delta != nil {
				cd.Deltas = append(cd.Deltas, *delta)
			}
		}
		if !cd.empty() {
			d.Characters = cd
		}
	}

	return d
}

// ApplyClientDelta patches the state. It must be given the exact state the
// delta was computed from; anything that does not fit, and any result that
// fails validation, is reported as ErrDesync.
func (g *GlobalState) ApplyClientDelta(d GlobalStateClientDeltaBundle) (*GlobalState, error) {
	n := *g

	if d.Space != nil {
		space, err := g.space.ApplyClientDelta(*d.Space)
		if err != nil {
			return nil, err
		}
		n.space = space
	}

	if d.Characters != nil {
		chars := maps.Clone(g.characters.byId)
		for _, id := range d.Characters.Removed {
			if _, ok := chars[id]; !ok {
				return nil, fmt.Errorf("%w: removing unknown character %q", ErrDesync, id)
			}
			delete(chars, id)
		}
		for _, cb := range d.Characters.Bundles {
			if _, ok := chars[cb.ID]; ok {
				return nil, fmt.Errorf("%w: character %q added twice", ErrDesync, cb.ID)
			}
			chars[cb.ID] = CharacterStateFromBundle(cb, g.catalog)
		}
		for _, cd := range d.Characters.Deltas {
			base, ok := chars[cd.ID]
			if !ok {
				return nil, fmt.Errorf("%w: delta for unknown character %q", ErrDesync, cd.ID)
			}
			chars[cd.ID] = base.ApplyClientDelta(cd)
		}
		n.characters = &characterSet{byId: chars}
	}

	if err := n.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDesync, err)
	}
	return &n, nil
}

// Validate checks every invariant of the tree.
func (g *GlobalState) Validate() error {
	el := errors.NewErrorList()

	if g.catalog == nil {
		el.Add(fmt.Errorf("global state has no asset catalog"))
		return el.Err()
	}
	if g.space == nil {
		el.Add(fmt.Errorf("global state has no space"))
		return el.Err()
	}

	el.Add(g.space.Validate(g.catalog))

	for _, c := range g.Characters() {
		if c.catalog != g.catalog {
			el.Add(fmt.Errorf("character %q: %w", c.id, ErrCatalogMismatch))
			continue
		}
		el.Add(c.Validate())
		if g.space.Room(c.room) == nil {
			el.Add(fmt.Errorf("character %q: %w: %s", c.id, ErrRoomNotFound, c.room))
		}
	}

	return el.Err()
}
