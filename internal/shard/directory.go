package shard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pixil98/go-pandora/internal/network"
	"github.com/pixil98/go-pandora/internal/protocol"
)

const defaultRedialDelay = 2 * time.Second

// Directory is the persistence a shard reads from and flushes to.
type Directory interface {
	GetCharacter(ctx context.Context, id string) (*protocol.GetCharacterResponse, error)
	SetCharacter(ctx context.Context, req *protocol.SetCharacterRequest) (*protocol.AccessResponse, error)
	GetSpace(ctx context.Context, id string) (*protocol.GetSpaceDataResponse, error)
	SetSpace(ctx context.Context, req *protocol.SetSpaceDataRequest) (*protocol.AccessResponse, error)
	CreateSpace(ctx context.Context, req *protocol.CreateSpaceRequest) (*protocol.AccessResponse, error)
}

// RemoteDirectory speaks the shard protocol to a directory server. Start keeps
// a websocket to it open, redialling whenever it drops.
type RemoteDirectory struct {
	url         string
	redialDelay time.Duration
	connOpts    []network.ConnectionOpt

	mu    sync.Mutex
	conn  *network.Connection
	ready chan struct{}
	once  sync.Once
}

type RemoteDirectoryOpt func(*RemoteDirectory)

func WithRedialDelay(d time.Duration) RemoteDirectoryOpt {
	return func(r *RemoteDirectory) {
		r.redialDelay = d
	}
}

func WithDirectoryConnectionOpts(opts ...network.ConnectionOpt) RemoteDirectoryOpt {
	return func(r *RemoteDirectory) {
		r.connOpts = append(r.connOpts, opts...)
	}
}

func NewRemoteDirectory(url string, opts ...RemoteDirectoryOpt) *RemoteDirectory {
	r := &RemoteDirectory{
		url:         url,
		redialDelay: defaultRedialDelay,
		ready:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RemoteDirectory) Start(ctx context.Context) error {
	for {
		sock, err := network.DialWebSocket(ctx, r.url)
		if err != nil {
			slog.WarnContext(ctx, "directory unreachable", "url", r.url, "error", err)
		} else {
			conn := r.Attach(sock)
			slog.InfoContext(ctx, "directory connected", "url", r.url)

			select {
			case <-ctx.Done():
				_ = conn.Close()
				return nil
			case <-conn.Context().Done():
				slog.WarnContext(ctx, "directory connection lost", "url", r.url)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.redialDelay):
		}
	}
}

// Attach uses sock as the directory connection.
func (r *RemoteDirectory) Attach(sock network.Socket) *network.Connection {
	conn := network.NewConnection(sock, protocol.ShardDirectory, protocol.DirectoryShard, r.connOpts...)
	conn.Start(network.NewMessageHandler[*network.Connection](protocol.DirectoryShard).Dispatcher(conn))

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	r.once.Do(func() { close(r.ready) })
	return conn
}

// WaitReady blocks until the first connection is established.
func (r *RemoteDirectory) WaitReady(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RemoteDirectory) connection() (*network.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil || !r.conn.IsConnected() {
		return nil, ErrDirectoryUnavailable
	}
	return r.conn, nil
}

func (r *RemoteDirectory) GetCharacter(ctx context.Context, id string) (*protocol.GetCharacterResponse, error) {
	conn, err := r.connection()
	if err != nil {
		return nil, err
	}
	return network.Request[protocol.GetCharacterResponse](ctx, conn, "getCharacter", &protocol.GetCharacterRequest{ID: id}, 0)
}

func (r *RemoteDirectory) SetCharacter(ctx context.Context, req *protocol.SetCharacterRequest) (*protocol.AccessResponse, error) {
	conn, err := r.connection()
	if err != nil {
		return nil, err
	}
	return network.Request[protocol.AccessResponse](ctx, conn, "setCharacter", req, 0)
}

func (r *RemoteDirectory) GetSpace(ctx context.Context, id string) (*protocol.GetSpaceDataResponse, error) {
	conn, err := r.connection()
	if err != nil {
		return nil, err
	}
	return network.Request[protocol.GetSpaceDataResponse](ctx, conn, "getSpaceData", &protocol.GetSpaceDataRequest{ID: id}, 0)
}

func (r *RemoteDirectory) SetSpace(ctx context.Context, req *protocol.SetSpaceDataRequest) (*protocol.AccessResponse, error) {
	conn, err := r.connection()
	if err != nil {
		return nil, err
	}
	return network.Request[protocol.AccessResponse](ctx, conn, "setSpaceData", req, 0)
}

func (r *RemoteDirectory) CreateSpace(ctx context.Context, req *protocol.CreateSpaceRequest) (*protocol.AccessResponse, error) {
	conn, err := r.connection()
	if err != nil {
		return nil, err
	}
	return network.Request[protocol.AccessResponse](ctx, conn, "createSpace", req, 0)
}
