package protocol

import (
	"fmt"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-pandora/internal/state"
)

// ShardClient is everything a shard sends to a client. All of it is oneshot.
var ShardClient = MustSchema("ShardClient", map[string]Contract{
	"load":             Oneshot[LoadMessage](),
	"gameStateLoad":    Oneshot[GameStateLoadMessage](),
	"gameStateUpdate":  Oneshot[GameStateUpdateMessage](),
	"permissionPrompt": Oneshot[PermissionPromptMessage](),
})

// CharacterPrivateData is what a client learns about its own character.
type CharacterPrivateData struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpaceCharacterInfo is the public view of a character present in a space.
type SpaceCharacterInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// SpaceLoadData describes a space beyond its state tree.
type SpaceLoadData struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Characters  []SpaceCharacterInfo `json:"characters"`
}

func (d *SpaceLoadData) validate() error {
	el := errors.NewErrorList()
	if d.ID == "" {
		el.Add(fmt.Errorf("space id is required"))
	}
	for _, c := range d.Characters {
		if c.ID == "" {
			el.Add(fmt.Errorf("space character without id"))
		}
	}
	return el.Err()
}

// SpaceInfoPartial carries changed space metadata.
type SpaceInfoPartial struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// AssetsLoad tells the client which catalog version is in effect and where to
// fetch it from.
type AssetsLoad struct {
	Hash        string                  `json:"hash"`
	Source      string                  `json:"source"`
	Definitions []state.AssetDefinition `json:"definitions"`
}

type LoadMessage struct {
	Character   CharacterPrivateData    `json:"character"`
	GlobalState state.GlobalStateBundle `json:"globalState"`
	Space       SpaceLoadData           `json:"space"`
	Assets      AssetsLoad              `json:"assets"`
}

func (m *LoadMessage) Validate() error {
	el := errors.NewErrorList()
	if m.Character.ID == "" {
		el.Add(fmt.Errorf("character id is required"))
	}
	el.Add(m.GlobalState.Validate())
	el.Add(m.Space.validate())
	if m.Assets.Hash == "" {
		el.Add(fmt.Errorf("assets hash is required"))
	}
	if m.Assets.Hash != m.GlobalState.Assets {
		el.Add(fmt.Errorf("assets hash %q does not match state %q", m.Assets.Hash, m.GlobalState.Assets))
	}
	return el.Err()
}

type GameStateLoadMessage struct {
	GlobalState state.GlobalStateBundle `json:"globalState"`
	Space       SpaceLoadData           `json:"space"`
}

func (m *GameStateLoadMessage) Validate() error {
	el := errors.NewErrorList()
	el.Add(m.GlobalState.Validate())
	el.Add(m.Space.validate())
	return el.Err()
}

type GameStateUpdateMessage struct {
	GlobalState     *state.GlobalStateClientDeltaBundle `json:"globalState,omitempty"`
	Info            *SpaceInfoPartial                   `json:"info,omitempty"`
	Join            *SpaceCharacterInfo                 `json:"join,omitempty"`
	Leave           string                              `json:"leave,omitempty"`
	ModifierEffects map[string][]string                 `json:"modifierEffects,omitempty"`
}

func (m *GameStateUpdateMessage) Validate() error {
	el := errors.NewErrorList()
	if m.GlobalState != nil {
		el.Add(m.GlobalState.Validate())
	}
	if m.Join != nil && m.Join.ID == "" {
		el.Add(fmt.Errorf("join without character id"))
	}
	return el.Err()
}

type PermissionPromptMessage struct {
	From   string     `json:"from"`
	Action ActionData `json:"action"`
}

func (m *PermissionPromptMessage) Validate() error {
	el := errors.NewErrorList()
	if m.From == "" {
		el.Add(fmt.Errorf("from is required"))
	}
	el.Add(m.Action.Validate())
	return el.Err()
}
