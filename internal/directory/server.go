package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pixil98/go-pandora/internal/network"
	"github.com/pixil98/go-pandora/internal/protocol"
	"github.com/pixil98/go-pandora/internal/state"
	"github.com/pixil98/go-pandora/internal/storage"
)

const clientsRoom = "clients"

// Server is the persistence collaborator of the shards. Shards read and write
// characters and spaces through it; clients ask it which shard hosts a space.
type Server struct {
	characters storage.Storer[*Character]
	spaces     storage.Storer[*Space]

	shardURLs    map[string]string
	defaultShard string

	registry *network.Registry
	sender   network.GroupSender
	clients  *network.Room

	shardHandler  *network.MessageHandler[*network.Connection]
	clientHandler *network.MessageHandler[*network.Connection]
	connOpts      []network.ConnectionOpt
}

type ServerOpt func(*Server)

// WithShardURL routes one space to a specific shard.
func WithShardURL(spaceID, url string) ServerOpt {
	return func(s *Server) {
		s.shardURLs[spaceID] = url
	}
}

// WithDefaultShardURL routes every other known space.
func WithDefaultShardURL(url string) ServerOpt {
	return func(s *Server) {
		s.defaultShard = url
	}
}

// WithRegistry tracks connections in r instead of a private registry.
func WithRegistry(r *network.Registry) ServerOpt {
	return func(s *Server) {
		s.registry = r
	}
}

// WithGroupSender delivers broadcasts through g, which lets the clients room
// span several directory processes.
func WithGroupSender(g network.GroupSender) ServerOpt {
	return func(s *Server) {
		s.sender = g
	}
}

func WithConnectionOpts(opts ...network.ConnectionOpt) ServerOpt {
	return func(s *Server) {
		s.connOpts = append(s.connOpts, opts...)
	}
}

func NewServer(serverID string, characters storage.Storer[*Character], spaces storage.Storer[*Space], opts ...ServerOpt) (*Server, error) {
	s := &Server{
		characters:    characters,
		spaces:        spaces,
		shardURLs:     map[string]string{},
		registry:      network.NewRegistry(serverID),
		shardHandler:  network.NewMessageHandler[*network.Connection](protocol.ShardDirectory),
		clientHandler: network.NewMessageHandler[*network.Connection](protocol.ClientDirectory),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sender == nil {
		s.sender = s.registry
	}
	s.clients = network.NewRoom(clientsRoom, s.registry.ServerID(), s.sender)

	for _, err := range []error{
		network.HandleRequest(s.shardHandler, "getCharacter", s.getCharacter),
		network.HandleRequest(s.shardHandler, "setCharacter", s.setCharacter),
		network.HandleRequest(s.shardHandler, "getSpaceData", s.getSpaceData),
		network.HandleRequest(s.shardHandler, "setSpaceData", s.setSpaceData),
		network.HandleRequest(s.shardHandler, "createSpace", s.createSpace),
		network.HandleRequest(s.clientHandler, "getShardForSpace", s.getShardForSpace),
	} {
		if err != nil {
			return nil, fmt.Errorf("registering handlers: %w", err)
		}
	}

	return s, nil
}

// AcceptShard serves the shard protocol on sock.
func (s *Server) AcceptShard(sock network.Socket) *network.Connection {
	conn := network.NewConnection(sock, protocol.DirectoryShard, protocol.ShardDirectory, s.connOpts...)
	s.registry.Add(conn)
	conn.Start(s.shardHandler.Dispatcher(conn))
	slog.Info("shard connected", "connection", conn.ID())
	return conn
}

// AcceptClient serves the client protocol on sock.
func (s *Server) AcceptClient(sock network.Socket) *network.Connection {
	conn := network.NewConnection(sock, protocol.DirectoryClient, protocol.ClientDirectory, s.connOpts...)
	s.registry.Add(conn)
	s.clients.Join(conn)
	conn.Start(s.clientHandler.Dispatcher(conn))
	slog.Debug("client connected", "connection", conn.ID(), "connections", s.registry.Len())
	return conn
}

// ClientRoom is the room every connected client is in.
func (s *Server) ClientRoom() *network.Room {
	return s.clients
}

// Broadcast shows a notice to every connected client.
func (s *Server) Broadcast(message string) {
	s.clients.SendMessage("serverMessage", &protocol.ServerMessage{Message: message})
}

func (s *Server) getCharacter(ctx context.Context, _ *network.Connection, req *protocol.GetCharacterRequest) (*protocol.GetCharacterResponse, error) {
	c, accessID, ok := s.characters.Get(req.ID)
	if !ok {
		return &protocol.GetCharacterResponse{Result: protocol.ResultNotFound}, nil
	}
	return &protocol.GetCharacterResponse{
		Result:    protocol.ResultOK,
		AccessID:  accessID,
		Character: c.data(req.ID),
	}, nil
}

func (s *Server) setCharacter(ctx context.Context, _ *network.Connection, req *protocol.SetCharacterRequest) (*protocol.AccessResponse, error) {
	if req.Appearance.ID != req.ID {
		return nil, protocol.NewBadMessageError(fmt.Sprintf("appearance of %q sent for %q", req.Appearance.ID, req.ID))
	}

	current, _, ok := s.characters.Get(req.ID)
	if !ok {
		return &protocol.AccessResponse{Result: protocol.ResultNotFound}, nil
	}
	appearance := req.Appearance
	next := &Character{
		Name:       current.Name,
		Appearance: &appearance,
	}

	accessID, err := s.characters.Update(req.ID, req.AccessID, next)
	return s.accessResponse(ctx, "character", req.ID, accessID, err)
}

func (s *Server) getSpaceData(ctx context.Context, _ *network.Connection, req *protocol.GetSpaceDataRequest) (*protocol.GetSpaceDataResponse, error) {
	sp, accessID, ok := s.spaces.Get(req.ID)
	if !ok {
		return &protocol.GetSpaceDataResponse{Result: protocol.ResultNotFound}, nil
	}
	return &protocol.GetSpaceDataResponse{
		Result:   protocol.ResultOK,
		AccessID: accessID,
		Space:    sp.data(req.ID),
	}, nil
}

func (s *Server) setSpaceData(ctx context.Context, _ *network.Connection, req *protocol.SetSpaceDataRequest) (*protocol.AccessResponse, error) {
	if req.Layout.SpaceID != req.ID {
		return nil, protocol.NewBadMessageError(fmt.Sprintf("layout of %q sent for %q", req.Layout.SpaceID, req.ID))
	}

	current, _, ok := s.spaces.Get(req.ID)
	if !ok {
		return &protocol.AccessResponse{Result: protocol.ResultNotFound}, nil
	}
	next := &Space{
		Name:        current.Name,
		Description: current.Description,
		Layout:      req.Layout,
	}

	accessID, err := s.spaces.Update(req.ID, req.AccessID, next)
	return s.accessResponse(ctx, "space", req.ID, accessID, err)
}

func (s *Server) createSpace(ctx context.Context, _ *network.Connection, req *protocol.CreateSpaceRequest) (*protocol.AccessResponse, error) {
	if !storage.ValidIdentifier(req.ID) {
		return nil, protocol.NewRejectError("Invalid space id")
	}

	accessID, err := s.spaces.Create(req.ID, &Space{
		Name:   req.Name,
		Layout: state.DefaultSpaceBundle(req.ID),
	})
	if err == nil {
		s.Broadcast(fmt.Sprintf("A new space is open: %s", req.Name))
	}
	return s.accessResponse(ctx, "space", req.ID, accessID, err)
}

func (s *Server) accessResponse(ctx context.Context, kind, id, accessID string, err error) (*protocol.AccessResponse, error) {
	switch {
	case err == nil:
		slog.DebugContext(ctx, "record written", "kind", kind, "id", id)
		return &protocol.AccessResponse{Result: protocol.ResultOK, AccessID: accessID}, nil
	case errors.Is(err, storage.ErrNotFound):
		return &protocol.AccessResponse{Result: protocol.ResultNotFound}, nil
	case errors.Is(err, storage.ErrInvalidAccessID):
		slog.WarnContext(ctx, "stale access id", "kind", kind, "id", id)
		return &protocol.AccessResponse{Result: protocol.ResultInvalidAccessID}, nil
	case errors.Is(err, storage.ErrExists):
		return &protocol.AccessResponse{Result: protocol.ResultExists}, nil
	default:
		return nil, fmt.Errorf("writing %s %s: %w", kind, id, err)
	}
}

func (s *Server) getShardForSpace(ctx context.Context, _ *network.Connection, req *protocol.GetShardForSpaceRequest) (*protocol.GetShardForSpaceResponse, error) {
	if url, ok := s.shardURLs[req.SpaceID]; ok {
		return &protocol.GetShardForSpaceResponse{Result: protocol.ResultOK, URL: url}, nil
	}
	if _, _, ok := s.spaces.Get(req.SpaceID); ok && s.defaultShard != "" {
		return &protocol.GetShardForSpaceResponse{Result: protocol.ResultOK, URL: s.defaultShard}, nil
	}
	return &protocol.GetShardForSpaceResponse{Result: protocol.ResultNotFound}, nil
}
