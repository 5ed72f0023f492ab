package shard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/pixil98/go-pandora/internal/network"
	"github.com/pixil98/go-pandora/internal/protocol"
	"github.com/pixil98/go-pandora/internal/state"
	"github.com/pixil98/go-pandora/internal/statesync"
	"golang.org/x/sync/singleflight"
)

// Shard hosts active spaces. Each space keeps its authoritative state in a
// statesync.Container and broadcasts every change to a network.Room holding
// the connections of the characters inside it.
type Shard struct {
	catalog      *state.AssetCatalog
	assetsSource string
	directory    Directory
	registry     *network.Registry
	sender       network.GroupSender
	handler      *network.MessageHandler[*client]
	connOpts     []network.ConnectionOpt

	createSpaces bool

	mu     sync.Mutex
	spaces map[string]*space
	// loads lets one directory read per space be in flight without holding mu.
	loads singleflight.Group

	// saveMu serializes directory writes and guards access ids, saved
	// pointers and stale flags.
	saveMu sync.Mutex
}

type ShardOpt func(*Shard)

// WithGroupSender routes room broadcasts, for instance through a messaging.Bus.
// The registry is used when none is given.
func WithGroupSender(sender network.GroupSender) ShardOpt {
	return func(s *Shard) {
		s.sender = sender
	}
}

// WithSpaceCreation makes the shard create spaces the directory does not know
// yet instead of refusing the connection.
func WithSpaceCreation() ShardOpt {
	return func(s *Shard) {
		s.createSpaces = true
	}
}

// WithAssetsSource sets where clients fetch asset files from.
func WithAssetsSource(src string) ShardOpt {
	return func(s *Shard) {
		s.assetsSource = src
	}
}

func WithConnectionOpts(opts ...network.ConnectionOpt) ShardOpt {
	return func(s *Shard) {
		s.connOpts = append(s.connOpts, opts...)
	}
}

func NewShard(registry *network.Registry, catalog *state.AssetCatalog, dir Directory, opts ...ShardOpt) (*Shard, error) {
	s := &Shard{
		catalog:   catalog,
		directory: dir,
		registry:  registry,
		sender:    registry,
		handler:   network.NewMessageHandler[*client](protocol.ClientShard),
		spaces:    map[string]*space{},
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, err := range []error{
		network.HandleRequest(s.handler, "characterConnect", s.handleConnect),
		network.HandleRequest(s.handler, "gameLogicAction", s.handleAction),
		network.HandleOneshot(s.handler, "gameStateResync", s.handleResync),
		network.HandleOneshot(s.handler, "permissionResponse", s.handlePermissionResponse),
	} {
		if err != nil {
			return nil, fmt.Errorf("registering handlers: %w", err)
		}
	}

	return s, nil
}

// Accept serves a client on sock.
func (s *Shard) Accept(sock network.Socket) *network.Connection {
	conn := network.NewConnection(sock, protocol.ShardClient, protocol.ClientShard, s.connOpts...)
	c := &client{conn: conn}

	s.registry.Add(conn)
	conn.OnClose(func() { s.disconnect(c) })
	conn.Start(s.handler.Dispatcher(c))
	return conn
}

// Start waits for ctx and then flushes every space one last time.
func (s *Shard) Start(ctx context.Context) error {
	<-ctx.Done()

	flushCtx, cancel := context.WithTimeout(context.Background(), network.DefaultAckTimeout)
	defer cancel()
	return s.Flush(flushCtx)
}

// Flush writes changed spaces and characters to the directory.
func (s *Shard) Flush(ctx context.Context) error {
	for _, sp := range s.activeSpaces() {
		s.saveSpace(ctx, sp)

		current := sp.container.Current()
		for _, c := range s.onlineCharacters(sp) {
			s.saveCharacter(ctx, c, current.Character(c.id))
		}
	}
	return nil
}

// Evict deactivates spaces nobody is in any more once they are saved.
func (s *Shard) Evict(ctx context.Context) error {
	s.evictIdle(ctx)
	slog.DebugContext(ctx, "idle spaces evicted", "active", len(s.activeSpaces()), "connections", s.registry.Len())
	return nil
}

func (s *Shard) activeSpaces() []*space {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*space, 0, len(s.spaces))
	for _, sp := range s.spaces {
		out = append(out, sp)
	}
	return out
}

func (s *Shard) onlineCharacters(sp *space) []*character {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	out := make([]*character, 0, len(sp.characters))
	for _, c := range sp.characters {
		out = append(out, c)
	}
	return out
}

// activate returns the space, loading it from the directory the first time.
// Concurrent activations of one space share a single load.
func (s *Shard) activate(ctx context.Context, id string) (*space, error) {
	if sp := s.lookup(id); sp != nil {
		return sp, nil
	}

	v, err, _ := s.loads.Do(id, func() (any, error) {
		if sp := s.lookup(id); sp != nil {
			return sp, nil
		}

		sp, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.spaces[id] = sp
		s.mu.Unlock()
		slog.InfoContext(ctx, "space activated", "space", id)
		return sp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*space), nil
}

func (s *Shard) lookup(id string) *space {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spaces[id]
}

func (s *Shard) load(ctx context.Context, id string) (*space, error) {
	res, err := s.directory.GetSpace(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching space %s: %w", id, err)
	}
	if res.Result == protocol.ResultNotFound && s.createSpaces {
		res, err = s.create(ctx, id)
		if err != nil {
			return nil, err
		}
	}
	if res.Result != protocol.ResultOK {
		return nil, fmt.Errorf("%w: %s", ErrSpaceNotFound, id)
	}

	layout := state.LoadSpaceState(res.Space.Layout)
	container, err := statesync.NewContainer(state.NewGlobalState(s.catalog, layout))
	if err != nil {
		return nil, fmt.Errorf("loading space %s: %w", id, err)
	}

	sp := newSpace(res.Space, res.AccessID, container, network.NewRoom("space/"+id, s.registry.ServerID(), s.sender))
	if reflect.DeepEqual(layout.Bundle(), res.Space.Layout) {
		sp.savedLayout = layout
	}
	container.Subscribe(sp.broadcastDelta)
	return sp, nil
}

// create asks the directory for a fresh space and reads it back. Losing a
// creation race to another shard is fine; the space exists either way.
func (s *Shard) create(ctx context.Context, id string) (*protocol.GetSpaceDataResponse, error) {
	created, err := s.directory.CreateSpace(ctx, &protocol.CreateSpaceRequest{ID: id, Name: id})
	var remote *protocol.RemoteError
	if errors.As(err, &remote) {
		return nil, fmt.Errorf("%w: %s: %s", ErrSpaceNotFound, id, remote.Message)
	}
	if err != nil {
		return nil, fmt.Errorf("creating space %s: %w", id, err)
	}
	if created.Result != protocol.ResultOK && created.Result != protocol.ResultExists {
		return nil, fmt.Errorf("%w: %s: %s", ErrSpaceNotFound, id, created.Result)
	}
	slog.InfoContext(ctx, "space created", "space", id, "result", created.Result)

	res, err := s.directory.GetSpace(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching space %s: %w", id, err)
	}
	return res, nil
}

func (s *Shard) evictIdle(ctx context.Context) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sp := range s.spaces {
		sp.mu.Lock()
		idle := len(sp.characters) == 0
		saved := sp.stale || sp.container.Current().Space() == sp.savedLayout
		if idle && saved {
			sp.closed = true
			delete(s.spaces, id)
			slog.InfoContext(ctx, "space deactivated", "space", id)
		}
		sp.mu.Unlock()
	}
}

func (s *Shard) saveSpace(ctx context.Context, sp *space) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	layout := sp.container.Current().Space()
	if sp.stale || layout == sp.savedLayout {
		return
	}

	res, err := s.directory.SetSpace(ctx, &protocol.SetSpaceDataRequest{
		ID:       sp.id,
		AccessID: sp.accessID,
		Layout:   layout.Bundle(),
	})
	if err != nil {
		slog.WarnContext(ctx, "saving space", "space", sp.id, "error", err)
		return
	}

	switch res.Result {
	case protocol.ResultOK:
		sp.accessID = res.AccessID
		sp.savedLayout = layout
	default:
		// Someone else owns the record now; further writes would clobber it.
		slog.WarnContext(ctx, "space save refused, marking stale", "space", sp.id, "result", res.Result)
		sp.stale = true
	}
}

func (s *Shard) saveCharacter(ctx context.Context, c *character, cs *state.CharacterState) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if cs == nil || c.stale || cs == c.saved {
		return
	}

	res, err := s.directory.SetCharacter(ctx, &protocol.SetCharacterRequest{
		ID:         c.id,
		AccessID:   c.accessID,
		Appearance: cs.Bundle(),
	})
	if err != nil {
		slog.WarnContext(ctx, "saving character", "character", c.id, "error", err)
		return
	}

	switch res.Result {
	case protocol.ResultOK:
		c.accessID = res.AccessID
		c.saved = cs
	default:
		slog.WarnContext(ctx, "character save refused, marking stale", "character", c.id, "result", res.Result)
		c.stale = true
	}
}

// characterState builds the state of a joining character from its stored
// appearance, falling back to a fresh character in the first room.
func (s *Shard) characterState(g *state.GlobalState, id string, appearance *state.CharacterBundle) (*state.CharacterState, bool) {
	first := g.Space().RoomIDs()[0]

	if appearance != nil {
		b := *appearance
		b.ID = id
		if g.Space().Room(b.Room) == nil {
			b.Room = first
		}
		cs := state.CharacterStateFromBundle(b, s.catalog)
		err := cs.Validate()
		if err == nil {
			return cs, true
		}
		slog.Warn("discarding stored appearance", "character", id, "error", err)
	}

	return state.NewCharacterState(id, s.catalog, first), false
}

func (s *Shard) assets() protocol.AssetsLoad {
	return protocol.AssetsLoad{
		Hash:        s.catalog.Hash(),
		Source:      s.assetsSource,
		Definitions: s.catalog.Definitions(),
	}
}

func failure(err error) *protocol.GameLogicActionResponse {
	return &protocol.GameLogicActionResponse{
		Result:   protocol.ActionResultFailure,
		Problems: []string{err.Error()},
	}
}
