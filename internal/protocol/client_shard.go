package protocol

import (
	"fmt"
	"slices"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-pandora/internal/state"
)

// ClientShard is everything a client sends to a shard.
var ClientShard = MustSchema("ClientShard", map[string]Contract{
	"characterConnect":   Request[CharacterConnectRequest, CharacterConnectResponse](),
	"gameLogicAction":    Request[GameLogicActionRequest, GameLogicActionResponse](),
	"gameStateResync":    Oneshot[GameStateResyncMessage](),
	"permissionResponse": Oneshot[PermissionResponseMessage](),
})

const (
	ResultOK              = "ok"
	ResultNotFound        = "notFound"
	ResultInvalidAccessID = "invalidAccessId"
	ResultExists          = "exists"
)

type CharacterConnectRequest struct {
	CharacterID string `json:"characterId"`
	SpaceID     string `json:"spaceId"`
}

func (r *CharacterConnectRequest) Validate() error {
	el := errors.NewErrorList()
	if r.CharacterID == "" {
		el.Add(fmt.Errorf("characterId is required"))
	}
	if r.SpaceID == "" {
		el.Add(fmt.Errorf("spaceId is required"))
	}
	return el.Err()
}

type CharacterConnectResponse struct {
	Result string `json:"result"`
}

func (r *CharacterConnectResponse) Validate() error {
	switch r.Result {
	case ResultOK, ResultNotFound:
		return nil
	default:
		return fmt.Errorf("invalid result %q", r.Result)
	}
}

// Action types understood by the shard.
const (
	ActionRoomCreate    = "roomCreate"
	ActionRoomDelete    = "roomDelete"
	ActionRoomMove      = "roomMove"
	ActionRoomRename    = "roomRename"
	ActionMoveCharacter = "moveCharacter"
	ActionItemAdd       = "itemAdd"
	ActionItemRemove    = "itemRemove"
	ActionPose          = "pose"
	ActionTransferItem  = "transferItem"
)

// ActionData is a tagged union keyed by Type. Only the fields a type uses may
// be set; see actionFields.
type ActionData struct {
	Type     string            `json:"type"`
	Room     string            `json:"room,omitempty"`
	Name     string            `json:"name,omitempty"`
	Position *state.Position   `json:"position,omitempty"`
	Target   string            `json:"target,omitempty"`
	Item     *state.ItemBundle `json:"item,omitempty"`
	ItemID   string            `json:"itemId,omitempty"`
	Pose     *state.PoseBundle `json:"pose,omitempty"`
}

// actionFields lists the fields each action type may carry. For items the
// room is optional and selects a room instead of the acting character.
var actionFields = map[string][]string{
	ActionRoomCreate:    {"room", "name", "position"},
	ActionRoomDelete:    {"room"},
	ActionRoomMove:      {"room", "position"},
	ActionRoomRename:    {"room", "name"},
	ActionMoveCharacter: {"room"},
	ActionItemAdd:       {"room", "item"},
	ActionItemRemove:    {"room", "itemId"},
	ActionPose:          {"pose"},
	ActionTransferItem:  {"target", "itemId"},
}

// setFields returns the names of the populated fields in declaration order.
func (a *ActionData) setFields() []string {
	var out []string
	for _, f := range []struct {
		name string
		set  bool
	}{
		{"room", a.Room != ""},
		{"name", a.Name != ""},
		{"position", a.Position != nil},
		{"target", a.Target != ""},
		{"item", a.Item != nil},
		{"itemId", a.ItemID != ""},
		{"pose", a.Pose != nil},
	} {
		if f.set {
			out = append(out, f.name)
		}
	}
	return out
}

func (a *ActionData) Validate() error {
	el := errors.NewErrorList()

	require := func(ok bool, field string) {
		if !ok {
			el.Add(fmt.Errorf("%s: %s is required", a.Type, field))
		}
	}

	switch a.Type {
	case ActionRoomCreate:
		require(a.Room != "", "room")
		require(a.Name != "", "name")
		require(a.Position != nil, "position")
	case ActionRoomDelete:
		require(a.Room != "", "room")
	case ActionRoomMove:
		require(a.Room != "", "room")
		require(a.Position != nil, "position")
	case ActionRoomRename:
		require(a.Room != "", "room")
		require(a.Name != "", "name")
	case ActionMoveCharacter:
		require(a.Room != "", "room")
	case ActionItemAdd:
		require(a.Item != nil, "item")
		if a.Item != nil {
			el.Add(a.Item.Validate())
		}
	case ActionItemRemove:
		require(a.ItemID != "", "itemId")
	case ActionPose:
		require(a.Pose != nil, "pose")
	case ActionTransferItem:
		require(a.Target != "", "target")
		require(a.ItemID != "", "itemId")
	default:
		el.Add(fmt.Errorf("unknown action type %q", a.Type))
		return el.Err()
	}

	for _, field := range a.setFields() {
		if !slices.Contains(actionFields[a.Type], field) {
			el.Add(fmt.Errorf("%s: %s is not allowed", a.Type, field))
		}
	}

	return el.Err()
}

// Game logic operations.
const (
	OperationDoImmediately = "doImmediately"
	OperationStart         = "start"
	OperationComplete      = "complete"
	OperationAbort         = "abortCurrentAction"
)

type GameLogicActionRequest struct {
	Operation string      `json:"operation"`
	Action    *ActionData `json:"action,omitempty"`
}

func (r *GameLogicActionRequest) Validate() error {
	switch r.Operation {
	case OperationDoImmediately, OperationStart:
		if r.Action == nil {
			return fmt.Errorf("%s: action is required", r.Operation)
		}
		return r.Action.Validate()
	case OperationComplete, OperationAbort:
		if r.Action != nil {
			return fmt.Errorf("%s: action is not allowed", r.Operation)
		}
		return nil
	default:
		return fmt.Errorf("unknown operation %q", r.Operation)
	}
}

// Game logic results.
const (
	ActionResultSuccess             = "success"
	ActionResultPromptSent          = "promptSent"
	ActionResultPromptFailedOffline = "promptFailedCharacterOffline"
	ActionResultFailure             = "failure"
)

type GameLogicActionResponse struct {
	Result   string      `json:"result"`
	Data     *ActionData `json:"data,omitempty"`
	Problems []string    `json:"problems,omitempty"`
}

func (r *GameLogicActionResponse) Validate() error {
	switch r.Result {
	case ActionResultSuccess, ActionResultPromptSent, ActionResultPromptFailedOffline:
		return nil
	case ActionResultFailure:
		if len(r.Problems) == 0 {
			return fmt.Errorf("failure without problems")
		}
		return nil
	default:
		return fmt.Errorf("invalid result %q", r.Result)
	}
}

type GameStateResyncMessage struct{}

func (m *GameStateResyncMessage) Validate() error {
	return nil
}

// PermissionResponseMessage answers a permissionPrompt. From is the character
// that asked.
type PermissionResponseMessage struct {
	From  string `json:"from"`
	Allow bool   `json:"allow"`
}

func (m *PermissionResponseMessage) Validate() error {
	if m.From == "" {
		return fmt.Errorf("from is required")
	}
	return nil
}
