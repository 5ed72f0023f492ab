package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-pandora/internal/listener"
	"github.com/pixil98/go-pandora/internal/network"
)

type ListenerConfig struct {
	Port         uint16 `json:"port"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	PongTimeout  string `json:"pong_timeout,omitempty"`
}

func (cl *ListenerConfig) validate() error {
	el := errors.NewErrorList()

	if cl.Port == 0 {
		el.Add(fmt.Errorf("listener: port must be set to a positive integer"))
	}
	for name, v := range map[string]string{"write_timeout": cl.WriteTimeout, "pong_timeout": cl.PongTimeout} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			el.Add(fmt.Errorf("listener: parsing %s: %w", name, err))
		}
	}

	return el.Err()
}

func (cl *ListenerConfig) socketOpts() []network.WebSocketOpt {
	var opts []network.WebSocketOpt
	if d, err := time.ParseDuration(cl.WriteTimeout); err == nil {
		opts = append(opts, network.WithWriteTimeout(d))
	}
	if d, err := time.ParseDuration(cl.PongTimeout); err == nil {
		opts = append(opts, network.WithPongTimeout(d))
	}
	return opts
}

func (cl *ListenerConfig) BuildListener(routes []listener.ConnectionManagerOpt, opts ...listener.WebSocketListenerOpt) *listener.WebSocketListener {
	routes = append(routes, listener.WithWebSocketOpts(cl.socketOpts()...))
	return listener.NewWebSocketListener(cl.Port, listener.NewConnectionManager(routes...), opts...)
}
