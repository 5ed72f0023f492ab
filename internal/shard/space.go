package shard

import (
	"slices"
	"strings"
	"sync"

	"github.com/pixil98/go-pandora/internal/network"
	"github.com/pixil98/go-pandora/internal/protocol"
	"github.com/pixil98/go-pandora/internal/state"
	"github.com/pixil98/go-pandora/internal/statesync"
)

// space is one active space. Lock order is space.mu before the container's
// lock; container observers never take space.mu.
type space struct {
	id        string
	container *statesync.Container
	room      *network.Room

	mu          sync.Mutex
	name        string
	description string
	accessID    string
	savedLayout *state.SpaceState
	stale       bool
	closed      bool
	characters  map[string]*character
}

// character is a connected character. saved is the state last written to the
// directory; comparing it with the current state by reference tells whether a
// flush is due.
type character struct {
	id       string
	name     string
	accessID string
	client   *client
	saved    *state.CharacterState
	stale    bool
	pending  *protocol.ActionData
	prompts  map[string]protocol.ActionData
}

func newSpace(data *protocol.SpaceData, accessID string, container *statesync.Container, room *network.Room) *space {
	return &space{
		id:          data.ID,
		container:   container,
		room:        room,
		name:        data.Name,
		description: data.Description,
		accessID:    accessID,
		characters:  map[string]*character{},
	}
}

// info describes the space for load messages. The caller holds sp.mu.
func (sp *space) info() protocol.SpaceLoadData {
	chars := make([]protocol.SpaceCharacterInfo, 0, len(sp.characters))
	for _, c := range sp.characters {
		chars = append(chars, c.publicInfo())
	}
	slices.SortFunc(chars, func(a, b protocol.SpaceCharacterInfo) int {
		return strings.Compare(a.ID, b.ID)
	})
	return protocol.SpaceLoadData{
		ID:          sp.id,
		Name:        sp.name,
		Description: sp.description,
		Characters:  chars,
	}
}

func (sp *space) lockedInfo() protocol.SpaceLoadData {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.info()
}

func (sp *space) broadcastDelta(ch statesync.Change) {
	delta := ch.Delta
	sp.room.SendMessage("gameStateUpdate", &protocol.GameStateUpdateMessage{GlobalState: &delta})
}

func (sp *space) character(id string) *character {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.characters[id]
}

func (c *character) publicInfo() protocol.SpaceCharacterInfo {
	return protocol.SpaceCharacterInfo{
		ID:     c.id,
		Name:   c.name,
		Online: c.client != nil,
	}
}

// client is the shard's view of one client connection.
type client struct {
	conn *network.Connection

	mu          sync.Mutex
	space       *space
	characterID string
}

func (c *client) get() (*space, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.space, c.characterID
}

func (c *client) set(sp *space, characterID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.space = sp
	c.characterID = characterID
}
