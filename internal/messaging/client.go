package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// Transport is the publish/subscribe surface the Bus needs. NatsServer and
// NatsClient both provide it.
type Transport interface {
	WaitReady(ctx context.Context) error
	Subscribe(subject string, handler func(data []byte)) (func(), error)
	Publish(subject string, data []byte) error
}

// NatsClient connects to a NATS server run elsewhere in the fleet.
type NatsClient struct {
	url  string
	name string

	mu    sync.RWMutex
	conn  *nats.Conn
	ready chan struct{}
}

func NewNatsClient(url, name string) *NatsClient {
	return &NatsClient{
		url:   url,
		name:  name,
		ready: make(chan struct{}),
	}
}

func (c *NatsClient) Start(ctx context.Context) error {
	conn, err := nats.Connect(c.url, nats.Name(c.name), nats.MaxReconnects(-1))
	if err != nil {
		return fmt.Errorf("connecting to nats at %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	close(c.ready)

	slog.InfoContext(ctx, "connected to nats", "url", c.url)

	<-ctx.Done()
	if err := conn.Drain(); err != nil {
		conn.Close()
	}
	return nil
}

func (c *NatsClient) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *NatsClient) Subscribe(subject string, handler func(data []byte)) (func(), error) {
	conn, err := c.client()
	if err != nil {
		return nil, err
	}
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	if err := conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flushing subscription to %s: %w", subject, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (c *NatsClient) Publish(subject string, data []byte) error {
	conn, err := c.client()
	if err != nil {
		return err
	}
	return conn.Publish(subject, data)
}

func (c *NatsClient) client() (*nats.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil, fmt.Errorf("nats client not connected")
	}
	return c.conn, nil
}
