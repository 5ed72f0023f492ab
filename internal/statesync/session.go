package statesync

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pixil98/go-pandora/internal/network"
	"github.com/pixil98/go-pandora/internal/protocol"
	"github.com/pixil98/go-pandora/internal/state"
)

// ShardSession is the client end of a shard connection. It keeps a Reconciler
// in step with the shard and asks for a full reload whenever it desyncs.
type ShardSession struct {
	conn       *network.Connection
	reconciler *Reconciler

	// resyncing is set from the first desync until the next full load, so a
	// burst of bad updates asks for one reload.
	resyncing atomic.Bool

	mu        sync.Mutex
	catalog   *state.AssetCatalog
	character protocol.CharacterPrivateData
	space     protocol.SpaceLoadData

	prompts observers[protocol.PermissionPromptMessage]
	updates observers[protocol.GameStateUpdateMessage]
}

// NewShardSession starts a session over sock.
func NewShardSession(sock network.Socket, opts ...network.ConnectionOpt) (*ShardSession, error) {
	s := &ShardSession{
		conn:       network.NewConnection(sock, protocol.ClientShard, protocol.ShardClient, opts...),
		reconciler: NewReconciler(),
	}

	h := network.NewMessageHandler[*network.Connection](protocol.ShardClient)
	for _, err := range []error{
		network.HandleOneshot(h, "load", s.handleLoad),
		network.HandleOneshot(h, "gameStateLoad", s.handleGameStateLoad),
		network.HandleOneshot(h, "gameStateUpdate", s.handleGameStateUpdate),
		network.HandleOneshot(h, "permissionPrompt", s.handlePermissionPrompt),
	} {
		if err != nil {
			return nil, err
		}
	}

	s.reconciler.OnDesync(func(error) {
		if !s.resyncing.CompareAndSwap(false, true) {
			return
		}
		s.conn.SendMessage("gameStateResync", &protocol.GameStateResyncMessage{})
	})
	s.conn.OnClose(s.reconciler.Close)
	s.conn.Start(h.Dispatcher(s.conn))

	return s, nil
}

func (s *ShardSession) Connection() *network.Connection {
	return s.conn
}

func (s *ShardSession) Reconciler() *Reconciler {
	return s.reconciler
}

// Character returns what the shard told us about our own character.
func (s *ShardSession) Character() protocol.CharacterPrivateData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.character
}

// Space returns the latest space information.
func (s *ShardSession) Space() protocol.SpaceLoadData {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp := s.space
	sp.Characters = slices.Clone(sp.Characters)
	return sp
}

// Connect asks the shard to put a character into a space.
func (s *ShardSession) Connect(ctx context.Context, characterID, spaceID string) error {
	res, err := network.Request[protocol.CharacterConnectResponse](ctx, s.conn, "characterConnect", &protocol.CharacterConnectRequest{
		CharacterID: characterID,
		SpaceID:     spaceID,
	}, 0)
	if err != nil {
		return err
	}
	if res.Result != protocol.ResultOK {
		return fmt.Errorf("connecting %s to %s: %s", characterID, spaceID, res.Result)
	}
	return nil
}

// Do runs one game logic operation.
func (s *ShardSession) Do(ctx context.Context, req *protocol.GameLogicActionRequest) (*protocol.GameLogicActionResponse, error) {
	return network.Request[protocol.GameLogicActionResponse](ctx, s.conn, "gameLogicAction", req, 0)
}

// OnPermissionPrompt registers fn for prompts from other characters.
func (s *ShardSession) OnPermissionPrompt(fn func(protocol.PermissionPromptMessage)) func() {
	return s.prompts.add(fn)
}

// OnUpdate registers fn for every update message, after its delta has been
// applied.
func (s *ShardSession) OnUpdate(fn func(protocol.GameStateUpdateMessage)) func() {
	return s.updates.add(fn)
}

func (s *ShardSession) Close() error {
	return s.conn.Close()
}

func (s *ShardSession) handleLoad(_ context.Context, _ *network.Connection, m *protocol.LoadMessage) error {
	catalog, err := state.NewAssetCatalog(m.Assets.Definitions)
	if err != nil {
		return protocol.NewBadMessageError(fmt.Sprintf("asset catalog: %v", err))
	}
	if catalog.Hash() != m.Assets.Hash {
		return protocol.NewBadMessageError(fmt.Sprintf("asset catalog hash %s does not match %s", catalog.Hash(), m.Assets.Hash))
	}

	s.mu.Lock()
	s.catalog = catalog
	s.character = m.Character
	s.space = m.Space
	s.mu.Unlock()

	// Desyncs are reported through OnDesync.
	s.resyncing.Store(false)
	_ = s.reconciler.Load(m.GlobalState, catalog)
	return nil
}

func (s *ShardSession) handleGameStateLoad(_ context.Context, _ *network.Connection, m *protocol.GameStateLoadMessage) error {
	s.mu.Lock()
	catalog := s.catalog
	s.space = m.Space
	s.mu.Unlock()

	if catalog == nil {
		return protocol.NewBadMessageError("game state load before load")
	}
	s.resyncing.Store(false)
	_ = s.reconciler.Load(m.GlobalState, catalog)
	return nil
}

func (s *ShardSession) handleGameStateUpdate(_ context.Context, _ *network.Connection, m *protocol.GameStateUpdateMessage) error {
	if m.GlobalState != nil {
		if err := s.reconciler.Update(*m.GlobalState); err != nil {
			return nil
		}
	}

	s.mu.Lock()
	if m.Info != nil {
		if m.Info.Name != nil {
			s.space.Name = *m.Info.Name
		}
		if m.Info.Description != nil {
			s.space.Description = *m.Info.Description
		}
	}
	if m.Join != nil {
		s.space.Characters = upsertCharacter(s.space.Characters, *m.Join)
	}
	if m.Leave != "" {
		s.space.Characters = slices.DeleteFunc(s.space.Characters, func(c protocol.SpaceCharacterInfo) bool {
			return c.ID == m.Leave
		})
	}
	s.mu.Unlock()

	s.updates.notify(*m)
	return nil
}

func (s *ShardSession) handlePermissionPrompt(_ context.Context, _ *network.Connection, m *protocol.PermissionPromptMessage) error {
	s.prompts.notify(*m)
	return nil
}

func upsertCharacter(list []protocol.SpaceCharacterInfo, c protocol.SpaceCharacterInfo) []protocol.SpaceCharacterInfo {
	for i := range list {
		if list[i].ID == c.ID {
			list[i] = c
			return list
		}
	}
	return append(list, c)
}

// Respond answers a permission prompt from another character.
func (s *ShardSession) Respond(from string, allow bool) {
	s.conn.SendMessage("permissionResponse", &protocol.PermissionResponseMessage{From: from, Allow: allow})
}
