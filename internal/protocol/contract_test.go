package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/pixil98/go-pandora/internal/state"
	"github.com/pixil98/go-testutil"
)

type testPayload struct {
	Test int `json:"test"`
}

func (p *testPayload) Validate() error {
	if p.Test < 0 {
		return errors.New("test must not be negative")
	}
	return nil
}

type notAStruct int

func (n *notAStruct) Validate() error { return nil }

func TestNewSchema(t *testing.T) {
	tests := map[string]struct {
		contracts map[string]Contract
		expErr    string
	}{
		"valid": {
			contracts: map[string]Contract{
				"a": Oneshot[testPayload](),
				"b": Request[testPayload, testPayload](),
			},
		},
		"empty type": {
			contracts: map[string]Contract{"": Oneshot[testPayload]()},
			expErr:    "empty message type",
		},
		"missing request": {
			contracts: map[string]Contract{"a": {}},
			expErr:    "no request factory",
		},
		"non struct request": {
			contracts: map[string]Contract{"a": Oneshot[notAStruct]()},
			expErr:    "pointer to a struct",
		},
		"non struct response": {
			contracts: map[string]Contract{"a": Request[testPayload, notAStruct]()},
			expErr:    "message \"a\" response",
		},
		"nil factory result": {
			contracts: map[string]Contract{"a": {Request: func() Payload { return nil }}},
			expErr:    "factory returned nil",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s, err := NewSchema("Test", tt.contracts)
			if tt.expErr != "" {
				testutil.AssertErrorContains(t, err, tt.expErr)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "name", s.Name(), "Test")
			testutil.AssertEqual(t, "types", len(s.MessageTypes()), len(tt.contracts))
		})
	}
}

func TestSchema_ParseRequest(t *testing.T) {
	s := MustSchema("Test", map[string]Contract{
		"message1": Request[testPayload, testPayload](),
		"event":    Oneshot[testPayload](),
	})

	tests := map[string]struct {
		msgType string
		raw     string
		exp     int
		expErr  error
	}{
		"valid":            {msgType: "message1", raw: `{"test":10}`, exp: 10},
		"empty body":       {msgType: "event", raw: ``, exp: 0},
		"unknown type":     {msgType: "whoknows1", raw: `{}`, expErr: ErrUnknownMessage},
		"malformed json":   {msgType: "message1", raw: `{"test":`, expErr: ErrInvalidPayload},
		"wrong field type": {msgType: "message1", raw: `{"test":"x"}`, expErr: ErrInvalidPayload},
		"fails validation": {msgType: "message1", raw: `{"test":-1}`, expErr: ErrInvalidPayload},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			p, err := s.ParseRequest(tt.msgType, json.RawMessage(tt.raw))
			if tt.expErr != nil {
				if !errors.Is(err, tt.expErr) {
					t.Fatalf("expected %v, got %v", tt.expErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "test", p.(*testPayload).Test, tt.exp)
		})
	}
}

func TestSchema_ParseResponse(t *testing.T) {
	s := MustSchema("Test", map[string]Contract{
		"message1": Request[testPayload, testPayload](),
		"event":    Oneshot[testPayload](),
	})

	_, err := s.ParseResponse("event", json.RawMessage(`{}`))
	if !errors.Is(err, ErrNoResponse) {
		t.Errorf("expected ErrNoResponse, got %v", err)
	}

	p, err := s.ParseResponse("message1", json.RawMessage(`{"test":11}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "test", p.(*testPayload).Test, 11)
}

func TestSchema_StripsUnknownFields(t *testing.T) {
	s := MustSchema("Test", map[string]Contract{
		"message1": Request[testPayload, testPayload](),
	})

	raw, p, err := s.CanonicalRequest("message1", &testPayload{Test: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "raw", string(raw), `{"test":4}`)
	testutil.AssertEqual(t, "value", p.(*testPayload).Test, 4)

	parsed, err := s.ParseRequest("message1", json.RawMessage(`{"test":4,"extra":"dropped"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := json.Marshal(parsed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "reencoded", string(out), `{"test":4}`)
}

func TestSchema_CanonicalRejects(t *testing.T) {
	s := MustSchema("Test", map[string]Contract{
		"message1": Request[testPayload, testPayload](),
		"event":    Oneshot[testPayload](),
	})

	tests := map[string]struct {
		run    func() error
		expErr error
	}{
		"nil payload": {
			run: func() error {
				_, _, err := s.CanonicalRequest("message1", (*testPayload)(nil))
				return err
			},
			expErr: ErrInvalidPayload,
		},
		"invalid payload": {
			run: func() error {
				_, _, err := s.CanonicalRequest("message1", &testPayload{Test: -3})
				return err
			},
			expErr: ErrInvalidPayload,
		},
		"unknown type": {
			run: func() error {
				_, _, err := s.CanonicalRequest("nope", &testPayload{})
				return err
			},
			expErr: ErrUnknownMessage,
		},
		"oneshot response": {
			run: func() error {
				_, _, err := s.CanonicalResponse("event", &testPayload{})
				return err
			},
			expErr: ErrNoResponse,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.expErr) {
				t.Errorf("expected %v, got %v", tt.expErr, err)
			}
		})
	}
}

// Every declared protocol must build, and a zero value of each payload that
// validates must survive an encode and parse unchanged.
func TestProtocols_ZeroValueRoundTrip(t *testing.T) {
	for _, s := range All() {
		for _, msgType := range s.MessageTypes() {
			c, _ := s.Contract(msgType)
			factories := map[string]func() Payload{"request": c.Request}
			if !c.IsOneshot() {
				factories["response"] = c.Response
			}
			for kind, factory := range factories {
				p := factory()
				if p.Validate() != nil {
					continue
				}
				raw, err := json.Marshal(p)
				if err != nil {
					t.Fatalf("%s.%s %s: %v", s.Name(), msgType, kind, err)
				}
				out, err := parse(factory, raw)
				if err != nil {
					t.Errorf("%s.%s %s: %v", s.Name(), msgType, kind, err)
					continue
				}
				again, _ := json.Marshal(out)
				testutil.AssertEqual(t, s.Name()+"."+msgType+" "+kind, string(again), string(raw))
			}
		}
	}
}

// Populated payloads survive a canonical round trip unchanged, and fields no
// contract declares are dropped on the way in.
func TestProtocols_PopulatedRoundTrip(t *testing.T) {
	garden := "Garden"
	pos := state.Position{X: 2, Y: -1}
	items := []state.ItemBundle{{ID: "i1", Asset: "shirt", Color: "#ff0000"}}
	layout := state.SpaceBundle{
		SpaceID: "space-1",
		Rooms: []state.RoomBundle{
			{ID: "lobby", Name: "Lobby", Background: "bg.png", Items: []state.ItemBundle{{ID: "c1", Asset: "chair"}}},
			{ID: "garden", Name: "Garden", Position: pos, Items: []state.ItemBundle{}},
		},
	}
	alice := state.CharacterBundle{
		ID:                  "alice",
		Room:                "lobby",
		Items:               items,
		Pose:                state.PoseBundle{View: "front", Bones: map[string]int{"arm": 30}},
		RestrictionOverride: "ghost",
	}
	global := state.GlobalStateBundle{Assets: "hash-1", Space: layout, Characters: []state.CharacterBundle{alice}}
	characters := []SpaceCharacterInfo{{ID: "alice", Name: "Alice", Online: true}, {ID: "bob", Name: "Bob"}}
	transfer := ActionData{Type: ActionTransferItem, Target: "bob", ItemID: "i1"}

	tests := map[string]struct {
		schema   *Schema
		msgType  string
		response bool
		payload  Payload
	}{
		"characterConnect request": {
			schema: ClientShard, msgType: "characterConnect",
			payload: &CharacterConnectRequest{CharacterID: "alice", SpaceID: "space-1"},
		},
		"characterConnect response": {
			schema: ClientShard, msgType: "characterConnect", response: true,
			payload: &CharacterConnectResponse{Result: ResultNotFound},
		},
		"gameLogicAction request": {
			schema: ClientShard, msgType: "gameLogicAction",
			payload: &GameLogicActionRequest{Operation: OperationStart, Action: &ActionData{
				Type: ActionItemAdd, Room: "garden", Item: &state.ItemBundle{ID: "c2", Asset: "chair"},
			}},
		},
		"gameLogicAction response": {
			schema: ClientShard, msgType: "gameLogicAction", response: true,
			payload: &GameLogicActionResponse{Result: ActionResultFailure, Data: &transfer, Problems: []string{"no", "never"}},
		},
		"gameStateResync": {
			schema: ClientShard, msgType: "gameStateResync",
			payload: &GameStateResyncMessage{},
		},
		"permissionResponse": {
			schema: ClientShard, msgType: "permissionResponse",
			payload: &PermissionResponseMessage{From: "alice", Allow: true},
		},
		"load": {
			schema: ShardClient, msgType: "load",
			payload: &LoadMessage{
				Character:   CharacterPrivateData{ID: "alice", Name: "Alice"},
				GlobalState: global,
				Space:       SpaceLoadData{ID: "space-1", Name: "Home", Description: "A home", Characters: characters},
				Assets: AssetsLoad{
					Hash:        "hash-1",
					Source:      "https://assets.example/",
					Definitions: []state.AssetDefinition{{ID: "chair", Name: "Chair", Kind: state.AssetKindFurniture}},
				},
			},
		},
		"gameStateLoad": {
			schema: ShardClient, msgType: "gameStateLoad",
			payload: &GameStateLoadMessage{GlobalState: global, Space: SpaceLoadData{ID: "space-1", Name: "Home", Characters: characters}},
		},
		"gameStateUpdate": {
			schema: ShardClient, msgType: "gameStateUpdate",
			payload: &GameStateUpdateMessage{
				GlobalState: &state.GlobalStateClientDeltaBundle{
					Space: &state.SpaceClientDeltaBundle{
						List:    []string{"lobby", "garden"},
						Bundles: []state.RoomBundle{layout.Rooms[1]},
						Deltas:  []state.RoomClientDeltaBundle{{ID: "lobby", Name: &garden, Position: &pos, Items: &items}},
					},
					Characters: &state.CharacterMapDelta{
						Removed: []string{"carol"},
						Bundles: []state.CharacterBundle{alice},
						Deltas:  []state.CharacterClientDeltaBundle{{ID: "bob", Room: &garden, Pose: &state.PoseBundle{View: "back"}}},
					},
				},
				Info:            &SpaceInfoPartial{Name: &garden},
				Join:            &characters[1],
				Leave:           "carol",
				ModifierEffects: map[string][]string{"alice": {"glow"}},
			},
		},
		"permissionPrompt": {
			schema: ShardClient, msgType: "permissionPrompt",
			payload: &PermissionPromptMessage{From: "alice", Action: transfer},
		},
		"getCharacter request": {
			schema: ShardDirectory, msgType: "getCharacter",
			payload: &GetCharacterRequest{ID: "alice"},
		},
		"getCharacter response": {
			schema: ShardDirectory, msgType: "getCharacter", response: true,
			payload: &GetCharacterResponse{Result: ResultOK, AccessID: "a1", Character: &CharacterData{ID: "alice", Name: "Alice", Appearance: &alice}},
		},
		"setCharacter request": {
			schema: ShardDirectory, msgType: "setCharacter",
			payload: &SetCharacterRequest{ID: "alice", AccessID: "a1", Appearance: alice},
		},
		"setCharacter response": {
			schema: ShardDirectory, msgType: "setCharacter", response: true,
			payload: &AccessResponse{Result: ResultOK, AccessID: "a2"},
		},
		"getSpaceData request": {
			schema: ShardDirectory, msgType: "getSpaceData",
			payload: &GetSpaceDataRequest{ID: "space-1"},
		},
		"getSpaceData response": {
			schema: ShardDirectory, msgType: "getSpaceData", response: true,
			payload: &GetSpaceDataResponse{Result: ResultOK, AccessID: "s1", Space: &SpaceData{ID: "space-1", Name: "Home", Description: "A home", Layout: layout}},
		},
		"setSpaceData request": {
			schema: ShardDirectory, msgType: "setSpaceData",
			payload: &SetSpaceDataRequest{ID: "space-1", AccessID: "s1", Layout: layout},
		},
		"createSpace request": {
			schema: ShardDirectory, msgType: "createSpace",
			payload: &CreateSpaceRequest{ID: "space-2", Name: "Cabin"},
		},
		"createSpace response": {
			schema: ShardDirectory, msgType: "createSpace", response: true,
			payload: &AccessResponse{Result: ResultExists},
		},
		"getShardForSpace request": {
			schema: ClientDirectory, msgType: "getShardForSpace",
			payload: &GetShardForSpaceRequest{SpaceID: "space-1"},
		},
		"getShardForSpace response": {
			schema: ClientDirectory, msgType: "getShardForSpace", response: true,
			payload: &GetShardForSpaceResponse{Result: ResultOK, URL: "ws://shard-1/client"},
		},
		"serverMessage": {
			schema: DirectoryClient, msgType: "serverMessage",
			payload: &ServerMessage{Message: "Maintenance at noon"},
		},
	}

	covered := map[string]bool{}
	for name, tt := range tests {
		if !tt.response {
			covered[tt.schema.Name()+"."+tt.msgType] = true
		}

		t.Run(name, func(t *testing.T) {
			canonicalize, parseRaw := tt.schema.CanonicalRequest, tt.schema.ParseRequest
			if tt.response {
				canonicalize, parseRaw = tt.schema.CanonicalResponse, tt.schema.ParseResponse
			}

			raw, out, err := canonicalize(tt.msgType, tt.payload)
			if err != nil {
				t.Fatalf("canonical: %v", err)
			}
			if !reflect.DeepEqual(out, tt.payload) {
				t.Errorf("round trip changed the payload:\n got %#v\nwant %#v", out, tt.payload)
			}

			var fields map[string]any
			if err := json.Unmarshal(raw, &fields); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			fields["unexpected"] = map[string]any{"nested": true}
			extra, err := json.Marshal(fields)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			parsed, err := parseRaw(tt.msgType, extra)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			again, err := json.Marshal(parsed)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "stripped", string(again), string(raw))
		})
	}

	for _, s := range All() {
		for _, msgType := range s.MessageTypes() {
			if !covered[s.Name()+"."+msgType] {
				t.Errorf("no populated payload for %s.%s", s.Name(), msgType)
			}
		}
	}
}

func TestGameLogicActionRequest_Validate(t *testing.T) {
	pos := &state.Position{X: 1, Y: 2}

	tests := map[string]struct {
		req    GameLogicActionRequest
		expErr string
	}{
		"room create": {
			req: GameLogicActionRequest{Operation: OperationDoImmediately, Action: &ActionData{Type: ActionRoomCreate, Room: "r", Name: "R", Position: pos}},
		},
		"room create without position": {
			req:    GameLogicActionRequest{Operation: OperationDoImmediately, Action: &ActionData{Type: ActionRoomCreate, Room: "r", Name: "R"}},
			expErr: "position is required",
		},
		"start without action": {
			req:    GameLogicActionRequest{Operation: OperationStart},
			expErr: "action is required",
		},
		"complete with action": {
			req:    GameLogicActionRequest{Operation: OperationComplete, Action: &ActionData{Type: ActionRoomDelete, Room: "r"}},
			expErr: "action is not allowed",
		},
		"abort": {
			req: GameLogicActionRequest{Operation: OperationAbort},
		},
		"unknown action": {
			req:    GameLogicActionRequest{Operation: OperationDoImmediately, Action: &ActionData{Type: "fly"}},
			expErr: "unknown action type",
		},
		"unknown operation": {
			req:    GameLogicActionRequest{Operation: "later"},
			expErr: "unknown operation",
		},
		"transfer": {
			req: GameLogicActionRequest{Operation: OperationDoImmediately, Action: &ActionData{Type: ActionTransferItem, Target: "c2", ItemID: "i1"}},
		},
		"item add into room": {
			req: GameLogicActionRequest{Operation: OperationStart, Action: &ActionData{Type: ActionItemAdd, Room: "r", Item: &state.ItemBundle{ID: "i1", Asset: "chair"}}},
		},
		"move with name": {
			req:    GameLogicActionRequest{Operation: OperationDoImmediately, Action: &ActionData{Type: ActionMoveCharacter, Room: "r", Name: "R"}},
			expErr: "moveCharacter: name is not allowed",
		},
		"pose in room": {
			req:    GameLogicActionRequest{Operation: OperationDoImmediately, Action: &ActionData{Type: ActionPose, Room: "r", Pose: &state.PoseBundle{}}},
			expErr: "pose: room is not allowed",
		},
		"transfer with item": {
			req: GameLogicActionRequest{Operation: OperationDoImmediately, Action: &ActionData{
				Type:   ActionTransferItem,
				Target: "c2",
				ItemID: "i1",
				Item:   &state.ItemBundle{ID: "i1", Asset: "chair"},
			}},
			expErr: "transferItem: item is not allowed",
		},
		"room delete with position": {
			req:    GameLogicActionRequest{Operation: OperationDoImmediately, Action: &ActionData{Type: ActionRoomDelete, Room: "r", Position: pos}},
			expErr: "roomDelete: position is not allowed",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.expErr != "" {
				testutil.AssertErrorContains(t, err, tt.expErr)
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestGameLogicActionResponse_FailureNeedsProblems(t *testing.T) {
	r := &GameLogicActionResponse{Result: ActionResultFailure}
	testutil.AssertErrorContains(t, r.Validate(), "without problems")

	r.Problems = []string{"room does not exist"}
	if err := r.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
