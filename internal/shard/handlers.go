package shard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pixil98/go-pandora/internal/network"
	"github.com/pixil98/go-pandora/internal/protocol"
	"github.com/pixil98/go-pandora/internal/state"
)

func (s *Shard) handleConnect(ctx context.Context, c *client, req *protocol.CharacterConnectRequest) (*protocol.CharacterConnectResponse, error) {
	if sp, _ := c.get(); sp != nil {
		return nil, protocol.NewRejectError("Already connected")
	}

	res, err := s.directory.GetCharacter(ctx, req.CharacterID)
	if err != nil {
		return nil, fmt.Errorf("fetching character %s: %w", req.CharacterID, err)
	}
	if res.Result != protocol.ResultOK {
		return &protocol.CharacterConnectResponse{Result: protocol.ResultNotFound}, nil
	}

	for {
		sp, err := s.activate(ctx, req.SpaceID)
		if errors.Is(err, ErrSpaceNotFound) {
			return &protocol.CharacterConnectResponse{Result: protocol.ResultNotFound}, nil
		}
		if err != nil {
			return nil, err
		}

		entered, err := s.enter(ctx, sp, c, res)
		if err != nil {
			return nil, err
		}
		if entered {
			return &protocol.CharacterConnectResponse{Result: protocol.ResultOK}, nil
		}
		// The space was deactivated in between; load it again.
	}
}

// enter puts the character into sp and sends the client its initial load. It
// reports false when sp has been deactivated.
func (s *Shard) enter(ctx context.Context, sp *space, c *client, res *protocol.GetCharacterResponse) (bool, error) {
	id := res.Character.ID

	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return false, nil
	}

	var previous *client
	entry, ok := sp.characters[id]
	if ok {
		previous = entry.client
		entry.client = c
		entry.pending = nil
	} else {
		var cs *state.CharacterState
		var stored bool
		_, err := sp.container.Produce(func(g *state.GlobalState) (*state.GlobalState, error) {
			cs, stored = s.characterState(g, id, res.Character.Appearance)
			return g.WithCharacter(cs), nil
		})
		if err != nil {
			sp.mu.Unlock()
			return false, fmt.Errorf("adding character %s: %w", id, err)
		}

		entry = &character{
			id:       id,
			name:     res.Character.Name,
			accessID: res.AccessID,
			client:   c,
			prompts:  map[string]protocol.ActionData{},
		}
		if stored {
			entry.saved = cs
		}
		sp.characters[id] = entry

		join := entry.publicInfo()
		sp.room.SendMessage("gameStateUpdate", &protocol.GameStateUpdateMessage{Join: &join})
	}

	info := sp.info()
	c.set(sp, id)
	sp.container.View(func(g *state.GlobalState) {
		sp.room.Join(c.conn)
		c.conn.SendMessage("load", &protocol.LoadMessage{
			Character:   protocol.CharacterPrivateData{ID: id, Name: entry.name},
			GlobalState: g.Bundle(),
			Space:       info,
			Assets:      s.assets(),
		})
	})
	sp.mu.Unlock()

	slog.InfoContext(ctx, "character entered space", "character", id, "space", sp.id, "connection", c.conn.ID())

	// A connection closed while entering has already run its close observer.
	if !c.conn.IsConnected() {
		s.disconnect(c)
	}

	if previous != nil {
		previous.set(nil, "")
		_ = previous.conn.Close()
	}
	return true, nil
}

func (s *Shard) handleAction(ctx context.Context, c *client, req *protocol.GameLogicActionRequest) (*protocol.GameLogicActionResponse, error) {
	sp, id := c.get()
	if sp == nil {
		return nil, protocol.NewRejectError("Not connected")
	}
	entry := sp.character(id)
	if entry == nil {
		return nil, protocol.NewRejectError("Not connected")
	}

	switch req.Operation {
	case protocol.OperationDoImmediately:
		return s.perform(ctx, sp, id, req.Action), nil

	case protocol.OperationStart:
		next, err := applyAction(sp.container.Current(), id, req.Action)
		if err == nil {
			err = next.Validate()
		}
		if err != nil {
			return failure(err), nil
		}
		sp.mu.Lock()
		entry.pending = req.Action
		sp.mu.Unlock()
		return &protocol.GameLogicActionResponse{Result: protocol.ActionResultSuccess, Data: req.Action}, nil

	case protocol.OperationComplete:
		sp.mu.Lock()
		a := entry.pending
		entry.pending = nil
		sp.mu.Unlock()
		if a == nil {
			return failure(ErrNoPendingAction), nil
		}
		return s.perform(ctx, sp, id, a), nil

	case protocol.OperationAbort:
		sp.mu.Lock()
		entry.pending = nil
		sp.mu.Unlock()
		return &protocol.GameLogicActionResponse{Result: protocol.ActionResultSuccess}, nil

	default:
		return nil, protocol.NewBadMessageError(fmt.Sprintf("operation %q", req.Operation))
	}
}

func (s *Shard) perform(ctx context.Context, sp *space, actor string, a *protocol.ActionData) *protocol.GameLogicActionResponse {
	if a.Type == protocol.ActionTransferItem {
		return s.requestTransfer(ctx, sp, actor, a)
	}

	_, err := sp.container.Produce(func(g *state.GlobalState) (*state.GlobalState, error) {
		return applyAction(g, actor, a)
	})
	if err != nil {
		slog.DebugContext(ctx, "action failed", "character", actor, "action", a.Type, "error", err)
		return failure(err)
	}
	return &protocol.GameLogicActionResponse{Result: protocol.ActionResultSuccess, Data: a}
}

// requestTransfer asks the receiving character for consent. The transfer
// itself happens when the answer arrives.
func (s *Shard) requestTransfer(ctx context.Context, sp *space, actor string, a *protocol.ActionData) *protocol.GameLogicActionResponse {
	if a.Target == actor {
		return failure(fmt.Errorf("cannot transfer to yourself"))
	}
	if cs := sp.container.Current().Character(actor); cs == nil {
		return failure(fmt.Errorf("%w: %s", state.ErrCharacterAbsent, actor))
	} else if _, ok := cs.Items().Find(a.ItemID); !ok {
		return failure(fmt.Errorf("%w: %s", ErrItemNotFound, a.ItemID))
	}

	sp.mu.Lock()
	target := sp.characters[a.Target]
	if target == nil || target.client == nil {
		sp.mu.Unlock()
		return &protocol.GameLogicActionResponse{Result: protocol.ActionResultPromptFailedOffline}
	}
	target.prompts[actor] = *a
	conn := target.client.conn
	sp.mu.Unlock()

	conn.SendMessage("permissionPrompt", &protocol.PermissionPromptMessage{From: actor, Action: *a})
	slog.DebugContext(ctx, "permission prompt sent", "from", actor, "to", a.Target)
	return &protocol.GameLogicActionResponse{Result: protocol.ActionResultPromptSent}
}

func (s *Shard) handlePermissionResponse(ctx context.Context, c *client, m *protocol.PermissionResponseMessage) error {
	sp, id := c.get()
	if sp == nil {
		return protocol.NewBadMessageError("not connected")
	}

	sp.mu.Lock()
	var a protocol.ActionData
	var ok bool
	if entry := sp.characters[id]; entry != nil {
		a, ok = entry.prompts[m.From]
		delete(entry.prompts, m.From)
	}
	sp.mu.Unlock()

	if !ok {
		return protocol.NewBadMessageError(fmt.Sprintf("no prompt from %s", m.From))
	}
	if !m.Allow {
		slog.DebugContext(ctx, "permission denied", "from", m.From, "to", id)
		return nil
	}

	_, err := sp.container.Produce(func(g *state.GlobalState) (*state.GlobalState, error) {
		return transferItem(g, m.From, id, a.ItemID)
	})
	if err != nil {
		slog.WarnContext(ctx, "transfer failed", "from", m.From, "to", id, "item", a.ItemID, "error", err)
	}
	return nil
}

func (s *Shard) handleResync(ctx context.Context, c *client, _ *protocol.GameStateResyncMessage) error {
	sp, id := c.get()
	if sp == nil {
		return protocol.NewBadMessageError("not connected")
	}

	info := sp.lockedInfo()
	sp.container.View(func(g *state.GlobalState) {
		c.conn.SendMessage("gameStateLoad", &protocol.GameStateLoadMessage{
			GlobalState: g.Bundle(),
			Space:       info,
		})
	})
	slog.InfoContext(ctx, "client resynchronized", "character", id, "space", sp.id)
	return nil
}

// disconnect removes the character of a closed connection and saves it.
func (s *Shard) disconnect(c *client) {
	sp, id := c.get()
	if sp == nil {
		return
	}
	c.set(nil, "")

	sp.mu.Lock()
	entry := sp.characters[id]
	if entry == nil || entry.client != c {
		sp.mu.Unlock()
		return
	}
	delete(sp.characters, id)
	for _, other := range sp.characters {
		delete(other.prompts, id)
	}

	var last *state.CharacterState
	_, err := sp.container.Produce(func(g *state.GlobalState) (*state.GlobalState, error) {
		last = g.Character(id)
		return g.WithoutCharacter(id)
	})
	sp.mu.Unlock()

	if err != nil {
		slog.Warn("removing character", "character", id, "space", sp.id, "error", err)
	}
	sp.room.SendMessage("gameStateUpdate", &protocol.GameStateUpdateMessage{Leave: id})

	ctx, cancel := context.WithTimeout(context.Background(), network.DefaultAckTimeout)
	defer cancel()
	s.saveCharacter(ctx, entry, last)
	slog.Info("character left space", "character", id, "space", sp.id)
}
