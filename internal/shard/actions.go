package shard

import (
	"fmt"

	"github.com/pixil98/go-pandora/internal/protocol"
	"github.com/pixil98/go-pandora/internal/state"
)

// applyAction computes the state after actor performs a. The result is not
// validated here; the container does that when it is committed.
func applyAction(g *state.GlobalState, actor string, a *protocol.ActionData) (*state.GlobalState, error) {
	char := g.Character(actor)
	if char == nil {
		return nil, fmt.Errorf("%w: %s", state.ErrCharacterAbsent, actor)
	}
	space := g.Space()

	switch a.Type {
	case protocol.ActionRoomCreate:
		if space.Room(a.Room) != nil {
			return nil, fmt.Errorf("%w: %s", ErrRoomExists, a.Room)
		}
		return g.WithSpace(space.WithRoom(state.NewRoomState(a.Room, a.Name, *a.Position))), nil

	case protocol.ActionRoomDelete:
		for _, c := range g.Characters() {
			if c.Room() == a.Room {
				return nil, fmt.Errorf("%w: %s", ErrRoomOccupied, a.Room)
			}
		}
		next, err := space.WithoutRoom(a.Room)
		if err != nil {
			return nil, err
		}
		return g.WithSpace(next), nil

	case protocol.ActionRoomMove:
		r, err := findRoom(space, a.Room)
		if err != nil {
			return nil, err
		}
		return g.WithSpace(space.WithRoom(r.WithPosition(*a.Position))), nil

	case protocol.ActionRoomRename:
		r, err := findRoom(space, a.Room)
		if err != nil {
			return nil, err
		}
		return g.WithSpace(space.WithRoom(r.WithName(a.Name))), nil

	case protocol.ActionMoveCharacter:
		if _, err := findRoom(space, a.Room); err != nil {
			return nil, err
		}
		return g.WithCharacter(char.WithRoom(a.Room)), nil

	case protocol.ActionItemAdd:
		item := state.Item{ID: a.Item.ID, Asset: a.Item.Asset, Color: a.Item.Color}
		if a.Room == "" {
			items, err := addItem(char.Items(), item)
			if err != nil {
				return nil, err
			}
			return g.WithCharacter(char.WithItems(items)), nil
		}
		r, err := findRoom(space, a.Room)
		if err != nil {
			return nil, err
		}
		items, err := addItem(r.Items(), item)
		if err != nil {
			return nil, err
		}
		return g.WithSpace(space.WithRoom(r.WithItems(items))), nil

	case protocol.ActionItemRemove:
		if a.Room == "" {
			items, err := removeItem(char.Items(), a.ItemID)
			if err != nil {
				return nil, err
			}
			return g.WithCharacter(char.WithItems(items)), nil
		}
		r, err := findRoom(space, a.Room)
		if err != nil {
			return nil, err
		}
		items, err := removeItem(r.Items(), a.ItemID)
		if err != nil {
			return nil, err
		}
		return g.WithSpace(space.WithRoom(r.WithItems(items))), nil

	case protocol.ActionPose:
		view := a.Pose.View
		if view == "" {
			view = state.ViewFront
		}
		return g.WithCharacter(char.WithPose(state.NewPose(view, a.Pose.Bones))), nil

	case protocol.ActionTransferItem:
		return transferItem(g, actor, a.Target, a.ItemID)

	default:
		return nil, fmt.Errorf("unknown action type %q", a.Type)
	}
}

// transferItem moves one item between two characters.
func transferItem(g *state.GlobalState, from, to, itemID string) (*state.GlobalState, error) {
	src := g.Character(from)
	if src == nil {
		return nil, fmt.Errorf("%w: %s", state.ErrCharacterAbsent, from)
	}
	dst := g.Character(to)
	if dst == nil {
		return nil, fmt.Errorf("%w: %s", state.ErrCharacterAbsent, to)
	}

	item, ok := src.Items().Find(itemID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	srcItems, _ := src.Items().Without(itemID)
	dstItems, err := addItem(dst.Items(), item)
	if err != nil {
		return nil, err
	}

	return g.WithCharacter(src.WithItems(srcItems)).WithCharacter(dst.WithItems(dstItems)), nil
}

func findRoom(space *state.SpaceState, id string) (*state.RoomState, error) {
	r := space.Room(id)
	if r == nil {
		return nil, fmt.Errorf("%w: %s", state.ErrRoomNotFound, id)
	}
	return r, nil
}

func addItem(items *state.ItemList, item state.Item) (*state.ItemList, error) {
	if _, ok := items.Find(item.ID); ok {
		return nil, fmt.Errorf("%w: %s", ErrItemExists, item.ID)
	}
	return items.With(item), nil
}

func removeItem(items *state.ItemList, id string) (*state.ItemList, error) {
	next, ok := items.Without(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return next, nil
}
