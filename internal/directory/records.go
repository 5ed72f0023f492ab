package directory

import (
	"fmt"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-pandora/internal/protocol"
	"github.com/pixil98/go-pandora/internal/state"
)

// Character is the stored form of a character.
type Character struct {
	Name       string                 `json:"name"`
	Appearance *state.CharacterBundle `json:"appearance,omitempty"`
}

func (c *Character) Validate() error {
	el := errors.NewErrorList()

	if c.Name == "" {
		el.Add(fmt.Errorf("name is required"))
	}
	if c.Appearance != nil {
		el.Add(c.Appearance.Validate())
	}

	return el.Err()
}

func (c *Character) data(id string) *protocol.CharacterData {
	return &protocol.CharacterData{
		ID:         id,
		Name:       c.Name,
		Appearance: c.Appearance,
	}
}

// Space is the stored form of a space.
type Space struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Layout      state.SpaceBundle `json:"layout"`
}

func (s *Space) Validate() error {
	el := errors.NewErrorList()

	if s.Name == "" {
		el.Add(fmt.Errorf("name is required"))
	}
	el.Add(s.Layout.Validate())

	return el.Err()
}

func (s *Space) data(id string) *protocol.SpaceData {
	return &protocol.SpaceData{
		ID:          id,
		Name:        s.Name,
		Description: s.Description,
		Layout:      s.Layout,
	}
}
