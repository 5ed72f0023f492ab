package protocol

import (
	"fmt"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-pandora/internal/state"
)

// ShardDirectory is the persistence protocol a shard speaks to the directory.
// Writes carry the access id returned by the last read or write; a stale id is
// answered with invalidAccessId.
var ShardDirectory = MustSchema("ShardDirectory", map[string]Contract{
	"getCharacter": Request[GetCharacterRequest, GetCharacterResponse](),
	"setCharacter": Request[SetCharacterRequest, AccessResponse](),
	"getSpaceData": Request[GetSpaceDataRequest, GetSpaceDataResponse](),
	"setSpaceData": Request[SetSpaceDataRequest, AccessResponse](),
	"createSpace":  Request[CreateSpaceRequest, AccessResponse](),
})

// DirectoryShard is what the directory may send to a shard. Nothing yet.
var DirectoryShard = MustSchema("DirectoryShard", map[string]Contract{})

func requireID(id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

func validResult(result string, allowed ...string) error {
	for _, a := range allowed {
		if result == a {
			return nil
		}
	}
	return fmt.Errorf("invalid result %q", result)
}

// CharacterData is the stored form of a character.
type CharacterData struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Appearance *state.CharacterBundle `json:"appearance,omitempty"`
}

type GetCharacterRequest struct {
	ID string `json:"id"`
}

func (r *GetCharacterRequest) Validate() error {
	return requireID(r.ID)
}

type GetCharacterResponse struct {
	Result    string         `json:"result"`
	AccessID  string         `json:"accessId,omitempty"`
	Character *CharacterData `json:"character,omitempty"`
}

func (r *GetCharacterResponse) Validate() error {
	el := errors.NewErrorList()
	el.Add(validResult(r.Result, ResultOK, ResultNotFound))
	if r.Result == ResultOK && r.Character == nil {
		el.Add(fmt.Errorf("ok without character"))
	}
	if r.Character != nil && r.Character.Appearance != nil {
		el.Add(r.Character.Appearance.Validate())
	}
	return el.Err()
}

type SetCharacterRequest struct {
	ID         string                `json:"id"`
	AccessID   string                `json:"accessId"`
	Appearance state.CharacterBundle `json:"appearance"`
}

func (r *SetCharacterRequest) Validate() error {
	el := errors.NewErrorList()
	el.Add(requireID(r.ID))
	el.Add(r.Appearance.Validate())
	return el.Err()
}

// AccessResponse answers every write. AccessID is the token for the next
// write.
type AccessResponse struct {
	Result   string `json:"result"`
	AccessID string `json:"accessId,omitempty"`
}

func (r *AccessResponse) Validate() error {
	return validResult(r.Result, ResultOK, ResultNotFound, ResultInvalidAccessID, ResultExists)
}

// SpaceData is the stored form of a space.
type SpaceData struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Layout      state.SpaceBundle `json:"layout"`
}

type GetSpaceDataRequest struct {
	ID string `json:"id"`
}

func (r *GetSpaceDataRequest) Validate() error {
	return requireID(r.ID)
}

type GetSpaceDataResponse struct {
	Result   string     `json:"result"`
	AccessID string     `json:"accessId,omitempty"`
	Space    *SpaceData `json:"space,omitempty"`
}

func (r *GetSpaceDataResponse) Validate() error {
	el := errors.NewErrorList()
	el.Add(validResult(r.Result, ResultOK, ResultNotFound))
	if r.Result == ResultOK && r.Space == nil {
		el.Add(fmt.Errorf("ok without space"))
	}
	if r.Space != nil {
		el.Add(r.Space.Layout.Validate())
	}
	return el.Err()
}

type SetSpaceDataRequest struct {
	ID       string            `json:"id"`
	AccessID string            `json:"accessId"`
	Layout   state.SpaceBundle `json:"layout"`
}

func (r *SetSpaceDataRequest) Validate() error {
	el := errors.NewErrorList()
	el.Add(requireID(r.ID))
	el.Add(r.Layout.Validate())
	return el.Err()
}

type CreateSpaceRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (r *CreateSpaceRequest) Validate() error {
	el := errors.NewErrorList()
	el.Add(requireID(r.ID))
	if r.Name == "" {
		el.Add(fmt.Errorf("name is required"))
	}
	return el.Err()
}
