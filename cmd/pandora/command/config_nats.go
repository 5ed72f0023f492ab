package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-pandora/internal/messaging"
	"github.com/pixil98/go-pandora/internal/network"
	"github.com/pixil98/go-service"
)

// NatsConfig selects the transport for cross-server room broadcasts. With a
// url the process joins an existing NATS server; otherwise it embeds one.
type NatsConfig struct {
	URL             string `json:"url,omitempty"`
	Host            string `json:"host,omitempty"`
	Port            int    `json:"port,omitempty"`
	StartTimeout    string `json:"start_timeout,omitempty"`
	SubjectTemplate string `json:"subject_template,omitempty"`
	// RoomSubjectTemplate names the subject carrying a shared room's
	// membership. It is rendered with the room name.
	RoomSubjectTemplate string `json:"room_subject_template,omitempty"`
}

func (n *NatsConfig) validate() error {
	el := errors.NewErrorList()

	if n.StartTimeout != "" {
		_, err := time.ParseDuration(n.StartTimeout)
		if err != nil {
			el.Add(fmt.Errorf("nats: parsing start_timeout: %w", err))
		}
	}
	if n.URL != "" && (n.Host != "" || n.Port != 0) {
		el.Add(fmt.Errorf("nats: host and port only apply to the embedded server, not with url"))
	}

	return el.Err()
}

func (c *NatsConfig) buildTransport(name string) (messaging.Transport, service.Worker, error) {
	if c.URL != "" {
		client := messaging.NewNatsClient(c.URL, name)
		return client, client, nil
	}

	s, err := c.buildNatsServer()
	if err != nil {
		return nil, nil, err
	}
	return s, s, nil
}

func (c *NatsConfig) buildNatsServer() (*messaging.NatsServer, error) {
	var opts []messaging.NatsServerOpt
	if c.StartTimeout != "" {
		d, err := time.ParseDuration(c.StartTimeout)
		if err != nil {
			return nil, fmt.Errorf("parsing start_timeout: %w", err)
		}
		opts = append(opts, messaging.WithStartTimeout(d))
	}
	if c.Host != "" {
		opts = append(opts, messaging.WithHost(c.Host))
	}
	if c.Port != 0 {
		opts = append(opts, messaging.WithPort(c.Port))
	}

	s, err := messaging.NewNatsServer(opts...)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (c *NatsConfig) buildBus(transport messaging.Transport, registry *network.Registry) (*messaging.Bus, error) {
	var opts []messaging.BusOpt
	if c.SubjectTemplate != "" {
		opts = append(opts, messaging.WithSubjectTemplate(c.SubjectTemplate))
	}
	if c.RoomSubjectTemplate != "" {
		opts = append(opts, messaging.WithRoomSubjectTemplate(c.RoomSubjectTemplate))
	}
	return messaging.NewBus(transport, registry, opts...)
}
