package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/pixil98/go-testutil"
)

func testCatalog(t *testing.T) *AssetCatalog {
	t.Helper()
	c, err := NewAssetCatalog([]AssetDefinition{
		{ID: "chair", Name: "Chair", Kind: AssetKindFurniture},
		{ID: "table", Name: "Table", Kind: AssetKindFurniture},
		{ID: "shirt", Name: "Shirt", Kind: AssetKindPersonal, Colorizable: true},
		{ID: "collar", Name: "Collar", Kind: AssetKindPersonal},
	})
	if err != nil {
		t.Fatalf("building catalog: %v", err)
	}
	return c
}

func testSpace(rooms int) *SpaceState {
	rs := make([]*RoomState, 0, rooms)
	for i := 0; i < rooms; i++ {
		rs = append(rs, NewRoomState(fmt.Sprintf("room-%d", i), fmt.Sprintf("Room %d", i), Position{X: i}))
	}
	return NewSpaceState("space-1", rs)
}

func testGlobal(t *testing.T) *GlobalState {
	t.Helper()
	cat := testCatalog(t)
	g := NewGlobalState(cat, testSpace(3))
	g = g.WithCharacter(NewCharacterState("alice", cat, "room-0"))
	g = g.WithCharacter(NewCharacterState("bob", cat, "room-1").
		WithItems(NewItemList(Item{ID: "i1", Asset: "shirt", Color: "#ff0000"})))
	if err := g.Validate(); err != nil {
		t.Fatalf("base state invalid: %v", err)
	}
	return g
}

// wire sends the delta through JSON the way a connection would.
func wire(t *testing.T, d GlobalStateClientDeltaBundle) GlobalStateClientDeltaBundle {
	t.Helper()
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshalling delta: %v", err)
	}
	var out GlobalStateClientDeltaBundle
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshalling delta: %v", err)
	}
	return out
}

func TestGlobalState_DeltaRoundTrip(t *testing.T) {
	tests := map[string]struct {
		mutate func(t *testing.T, g *GlobalState) *GlobalState
	}{
		"add room": {
			mutate: func(t *testing.T, g *GlobalState) *GlobalState {
				return g.WithSpace(g.Space().WithRoom(NewRoomState("garden", "Garden", Position{Y: 5})))
			},
		},
		"remove room": {
			mutate: func(t *testing.T, g *GlobalState) *GlobalState {
				s, err := g.Space().WithoutRoom("room-2")
				if err != nil {
					t.Fatalf("removing room: %v", err)
				}
				return g.WithSpace(s)
			},
		},
		"rename room": {
			mutate: func(t *testing.T, g *GlobalState) *GlobalState {
				return g.WithSpace(g.Space().WithRoom(g.Space().Room("room-1").WithName("Kitchen")))
			},
		},
		"furnish room": {
			mutate: func(t *testing.T, g *GlobalState) *GlobalState {
				r := g.Space().Room("room-0")
				r = r.WithItems(r.Items().With(Item{ID: "f1", Asset: "table"}))
				return g.WithSpace(g.Space().WithRoom(r))
			},
		},
		"reorder rooms": {
			mutate: func(t *testing.T, g *GlobalState) *GlobalState {
				rooms := g.Space().Rooms()
				rooms[0], rooms[2] = rooms[2], rooms[0]
				return g.WithSpace(NewSpaceState(g.Space().ID(), rooms))
			},
		},
		"character joins": {
			mutate: func(t *testing.T, g *GlobalState) *GlobalState {
				return g.WithCharacter(NewCharacterState("carol", g.Catalog(), "room-2"))
			},
		},
		"character leaves": {
			mutate: func(t *testing.T, g *GlobalState) *GlobalState {
				n, err := g.WithoutCharacter("bob")
				if err != nil {
					t.Fatalf("removing character: %v", err)
				}
				return n
			},
		},
		"character moves and poses": {
			mutate: func(t *testing.T, g *GlobalState) *GlobalState {
				c := g.Character("alice").WithRoom("room-2").WithPose(NewPose(ViewBack, map[string]int{"arm_l": 45}))
				return g.WithCharacter(c)
			},
		},
		"character undresses": {
			mutate: func(t *testing.T, g *GlobalState) *GlobalState {
				c := g.Character("bob")
				items, _ := c.Items().Without("i1")
				return g.WithCharacter(c.WithItems(items).WithRestrictionOverride(RestrictionOverrideSafemode))
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s0 := testGlobal(t)
			s1 := tt.mutate(t, s0)
			if err := s1.Validate(); err != nil {
				t.Fatalf("mutated state invalid: %v", err)
			}

			delta := wire(t, s1.ExportClientDelta(s0))
			if delta.Empty() {
				t.Fatal("expected a non-empty delta")
			}

			applied, err := s0.ApplyClientDelta(delta)
			if err != nil {
				t.Fatalf("applying delta: %v", err)
			}
			if !reflect.DeepEqual(applied.Bundle(), s1.Bundle()) {
				t.Errorf("applied state differs:\n got %+v\n exp %+v", applied.Bundle(), s1.Bundle())
			}

			copy0, err := GlobalStateFromBundle(s0.Bundle(), s0.Catalog())
			if err != nil {
				t.Fatalf("copying base state: %v", err)
			}
			again, err := copy0.ApplyClientDelta(delta)
			if err != nil {
				t.Fatalf("applying delta to copy: %v", err)
			}
			if !reflect.DeepEqual(again.Bundle(), applied.Bundle()) {
				t.Errorf("independent applies differ")
			}
		})
	}
}

func TestGlobalState_ExportClientDelta_Unchanged(t *testing.T) {
	g := testGlobal(t)

	d := g.ExportClientDelta(g)
	testutil.AssertEqual(t, "empty", d.Empty(), true)

	// A rebuilt but identical room still yields no room delta.
	same := g.WithSpace(g.Space().WithRoom(g.Space().Room("room-0").WithName("Room 0")))
	d = same.ExportClientDelta(g)
	testutil.AssertEqual(t, "empty", d.Empty(), true)
}

func TestSpaceState_ExportClientDelta_Minimal(t *testing.T) {
	cat := testCatalog(t)
	s0 := NewGlobalState(cat, testSpace(5))
	s1 := s0.WithSpace(s0.Space().WithRoom(s0.Space().Room("room-3").WithBackground("#202020")))

	d := s1.ExportClientDelta(s0)
	if d.Space == nil {
		t.Fatal("expected a space delta")
	}
	if d.Space.List != nil {
		t.Errorf("unexpected list %v", d.Space.List)
	}
	testutil.AssertEqual(t, "bundles", len(d.Space.Bundles), 0)
	testutil.AssertEqual(t, "deltas", len(d.Space.Deltas), 1)
	testutil.AssertEqual(t, "delta room", d.Space.Deltas[0].ID, "room-3")
	if d.Space.Deltas[0].Name != nil || d.Space.Deltas[0].Items != nil || d.Space.Deltas[0].Position != nil {
		t.Errorf("delta carries unchanged fields: %+v", d.Space.Deltas[0])
	}
	if d.Characters != nil {
		t.Errorf("unexpected character delta %+v", d.Characters)
	}

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshalling: %v", err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshalling: %v", err)
	}
	if _, ok := raw["space"]["list"]; ok {
		t.Error("list present on the wire")
	}
}

func TestGlobalState_ApplyClientDelta_Desync(t *testing.T) {
	pos := Position{X: 0}
	newName := "x"

	tests := map[string]struct {
		delta GlobalStateClientDeltaBundle
	}{
		"overlapping rooms": {
			delta: GlobalStateClientDeltaBundle{Space: &SpaceClientDeltaBundle{
				Deltas: []RoomClientDeltaBundle{{ID: "room-1", Position: &pos}},
			}},
		},
		"list names unknown room": {
			delta: GlobalStateClientDeltaBundle{Space: &SpaceClientDeltaBundle{
				List: []string{"room-0", "room-1", "room-9"},
			}},
		},
		"delta for unknown room": {
			delta: GlobalStateClientDeltaBundle{Space: &SpaceClientDeltaBundle{
				Deltas: []RoomClientDeltaBundle{{ID: "room-9", Name: &newName}},
			}},
		},
		"remove unknown character": {
			delta: GlobalStateClientDeltaBundle{Characters: &CharacterMapDelta{Removed: []string{"zed"}}},
		},
		"character added twice": {
			delta: GlobalStateClientDeltaBundle{Characters: &CharacterMapDelta{
				Bundles: []CharacterBundle{{ID: "alice", Room: "room-0"}},
			}},
		},
		"room removed under character": {
			delta: GlobalStateClientDeltaBundle{Space: &SpaceClientDeltaBundle{
				List: []string{"room-1", "room-2"},
			}},
		},
		"unknown asset": {
			delta: GlobalStateClientDeltaBundle{Characters: &CharacterMapDelta{
				Deltas: []CharacterClientDeltaBundle{{ID: "alice", Items: &[]ItemBundle{{ID: "i9", Asset: "crown"}}}},
			}},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			g := testGlobal(t)

			_, err := g.ApplyClientDelta(tt.delta)
			if err == nil {
				t.Fatal("expected desync error")
			}
			if !errors.Is(err, ErrDesync) {
				t.Errorf("error %v is not a desync", err)
			}
		})
	}
}

func TestGlobalState_Validate(t *testing.T) {
	tests := map[string]struct {
		build  func(t *testing.T) *GlobalState
		expErr string
	}{
		"valid": {
			build: testGlobal,
		},
		"foreign catalog": {
			build: func(t *testing.T) *GlobalState {
				g := testGlobal(t)
				return g.WithCharacter(NewCharacterState("eve", testCatalog(t), "room-0"))
			},
			expErr: "asset catalog mismatch",
		},
		"character in unknown room": {
			build: func(t *testing.T) *GlobalState {
				g := testGlobal(t)
				return g.WithCharacter(g.Character("alice").WithRoom("attic"))
			},
			expErr: "room not found",
		},
		"furniture worn": {
			build: func(t *testing.T) *GlobalState {
				g := testGlobal(t)
				c := g.Character("alice")
				return g.WithCharacter(c.WithItems(c.Items().With(Item{ID: "c1", Asset: "chair"})))
			},
			expErr: "expected personal",
		},
		"color on plain asset": {
			build: func(t *testing.T) *GlobalState {
				g := testGlobal(t)
				c := g.Character("alice")
				return g.WithCharacter(c.WithItems(c.Items().With(Item{ID: "c1", Asset: "collar", Color: "#000"})))
			},
			expErr: "not colorizable",
		},
		"duplicate room id": {
			build: func(t *testing.T) *GlobalState {
				g := testGlobal(t)
				rooms := append(g.Space().Rooms(), NewRoomState("room-0", "Again", Position{Y: 3}))
				return g.WithSpace(NewSpaceState("space-1", rooms))
			},
			expErr: `duplicate room id "room-0"`,
		},
		"no rooms": {
			build: func(t *testing.T) *GlobalState {
				return NewGlobalState(testCatalog(t), NewSpaceState("space-1", nil))
			},
			expErr: "has no rooms",
		},
		"bad pose": {
			build: func(t *testing.T) *GlobalState {
				g := testGlobal(t)
				return g.WithCharacter(g.Character("alice").WithPose(NewPose("sideways", map[string]int{"leg": 200})))
			},
			expErr: "out of range",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.build(t).Validate()
			if tt.expErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			testutil.AssertErrorContains(t, err, tt.expErr)
		})
	}
}

func TestGlobalStateFromBundle(t *testing.T) {
	g := testGlobal(t)

	loaded, err := GlobalStateFromBundle(g.Bundle(), g.Catalog())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(loaded.Bundle(), g.Bundle()) {
		t.Error("bundle round trip changed the state")
	}
	if loaded.Character("alice").Catalog() != g.Catalog() {
		t.Error("loaded character does not share the catalog")
	}

	other, err := NewAssetCatalog([]AssetDefinition{{ID: "x", Name: "X", Kind: AssetKindPersonal}})
	if err != nil {
		t.Fatalf("building catalog: %v", err)
	}
	_, err = GlobalStateFromBundle(g.Bundle(), other)
	if !errors.Is(err, ErrCatalogMismatch) {
		t.Errorf("expected catalog mismatch, got %v", err)
	}
}

func TestLoadSpaceState_ShiftsOverlaps(t *testing.T) {
	b := SpaceBundle{
		SpaceID: "s",
		Rooms: []RoomBundle{
			{ID: "a", Name: "A", Position: Position{X: 0, Y: 0}},
			{ID: "b", Name: "B", Position: Position{X: 0, Y: 0}},
			{ID: "c", Name: "C", Position: Position{X: 1, Y: 0}},
		},
	}

	strict := SpaceStateFromBundle(b)
	testutil.AssertErrorContains(t, strict.Validate(testCatalog(t)), "overlap")

	s := LoadSpaceState(b)
	if err := s.Validate(testCatalog(t)); err != nil {
		t.Fatalf("loaded space invalid: %v", err)
	}
	testutil.AssertEqual(t, "a", s.Room("a").Position(), Position{X: 0})
	testutil.AssertEqual(t, "b", s.Room("b").Position(), Position{X: 1})
	testutil.AssertEqual(t, "c", s.Room("c").Position(), Position{X: 2})
}

func TestGlobalState_StructuralSharing(t *testing.T) {
	g := testGlobal(t)
	n := g.WithCharacter(g.Character("alice").WithRoom("room-1"))

	if n.Space() != g.Space() {
		t.Error("space was copied on a character change")
	}
	if n.Character("bob") != g.Character("bob") {
		t.Error("untouched character was copied")
	}
	if n.Character("alice") == g.Character("alice") {
		t.Error("changed character kept its identity")
	}
	testutil.AssertEqual(t, "original room", g.Character("alice").Room(), "room-0")
}

func TestNewAssetCatalog(t *testing.T) {
	a, err := NewAssetCatalog([]AssetDefinition{
		{ID: "b", Name: "B", Kind: AssetKindPersonal},
		{ID: "a", Name: "A", Kind: AssetKindFurniture},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := NewAssetCatalog([]AssetDefinition{
		{ID: "a", Name: "A", Kind: AssetKindFurniture},
		{ID: "b", Name: "B", Kind: AssetKindPersonal},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "hash", a.Hash(), b.Hash())
	testutil.AssertEqual(t, "hash length", len(a.Hash()), 64)

	_, err = NewAssetCatalog([]AssetDefinition{
		{ID: "a", Name: "A", Kind: AssetKindFurniture},
		{ID: "a", Name: "A2", Kind: AssetKindFurniture},
	})
	testutil.AssertErrorContains(t, err, `duplicate asset id "a"`)

	_, err = NewAssetCatalog([]AssetDefinition{{ID: "a", Name: "A", Kind: "hat"}})
	testutil.AssertErrorContains(t, err, "invalid kind")
}
