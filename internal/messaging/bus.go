package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/fxamacker/cbor/v2"
	"github.com/pixil98/go-pandora/internal/network"
	"github.com/pixil98/go-pandora/internal/protocol"
)

const (
	// DefaultSubjectTemplate renders the subject a server listens on.
	DefaultSubjectTemplate = `pandora.server.{{ .ServerID | lower }}`
	// DefaultRoomSubjectTemplate renders the subject a shared room's
	// membership changes travel on.
	DefaultRoomSubjectTemplate = `pandora.room.{{ .Room | lower | replace "/" "." }}`
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("messaging: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("messaging: cbor decoder: " + err.Error())
	}
}

// envelope carries one room broadcast to another server. Payload stays JSON
// so the receiving connections can validate it against their own protocol.
type envelope struct {
	Conns   []string `cbor:"1,keyasint"`
	Type    string   `cbor:"2,keyasint"`
	Payload []byte   `cbor:"3,keyasint"`
}

// Bus routes room broadcasts across a fleet. Groups held by this process go
// straight to the local registry; the rest are published to the owning
// server's subject. Rooms passed to ShareRoom also have their membership
// kept in step across the fleet.
type Bus struct {
	transport   Transport
	registry    *network.Registry
	subject     *template.Template
	roomSubject *template.Template
	ready       chan struct{}
	rooms       []*sharedRoom
}

type BusOpt func(*Bus) error

// WithSubjectTemplate overrides DefaultSubjectTemplate. The template sees
// .ServerID and has the sprig functions available.
func WithSubjectTemplate(tmpl string) BusOpt {
	return func(b *Bus) error {
		t, err := template.New("subject").Funcs(sprig.TxtFuncMap()).Parse(tmpl)
		if err != nil {
			return fmt.Errorf("parsing subject template: %w", err)
		}
		b.subject = t
		return nil
	}
}

// WithRoomSubjectTemplate overrides DefaultRoomSubjectTemplate. The template
// sees .Room and has the sprig functions available.
func WithRoomSubjectTemplate(tmpl string) BusOpt {
	return func(b *Bus) error {
		t, err := template.New("room").Funcs(sprig.TxtFuncMap()).Parse(tmpl)
		if err != nil {
			return fmt.Errorf("parsing room subject template: %w", err)
		}
		b.roomSubject = t
		return nil
	}
}

func NewBus(transport Transport, registry *network.Registry, opts ...BusOpt) (*Bus, error) {
	b := &Bus{
		transport: transport,
		registry:  registry,
		ready:     make(chan struct{}),
	}

	opts = append([]BusOpt{
		WithSubjectTemplate(DefaultSubjectTemplate),
		WithRoomSubjectTemplate(DefaultRoomSubjectTemplate),
	}, opts...)
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// Subject renders the subject for serverID.
func (b *Bus) Subject(serverID string) (string, error) {
	var buf bytes.Buffer
	if err := b.subject.Execute(&buf, struct{ ServerID string }{serverID}); err != nil {
		return "", fmt.Errorf("executing subject template: %w", err)
	}
	return buf.String(), nil
}

// RoomSubject renders the membership subject for a room name.
func (b *Bus) RoomSubject(room string) (string, error) {
	var buf bytes.Buffer
	if err := b.roomSubject.Execute(&buf, struct{ Room string }{room}); err != nil {
		return "", fmt.Errorf("executing room subject template: %w", err)
	}
	return buf.String(), nil
}

// Start subscribes to this server's subject and to every shared room, and
// relays what arrives until ctx is done.
func (b *Bus) Start(ctx context.Context) error {
	if err := b.transport.WaitReady(ctx); err != nil {
		return nil
	}

	subject, err := b.Subject(b.registry.ServerID())
	if err != nil {
		return err
	}

	unsubscribe, err := b.transport.Subscribe(subject, b.deliver)
	if err != nil {
		return err
	}
	defer unsubscribe()

	for _, sr := range b.rooms {
		unsubscribe, err := b.transport.Subscribe(sr.subject, sr.apply)
		if err != nil {
			return err
		}
		defer unsubscribe()
	}
	close(b.ready)
	for _, sr := range b.rooms {
		sr.announce(memberHello, sr.localMembers())
		defer sr.announce(memberGone, nil)
	}

	slog.InfoContext(ctx, "bus subscribed", "subject", subject, "rooms", len(b.rooms))
	<-ctx.Done()
	return nil
}

// Ready is closed once Start has subscribed.
func (b *Bus) Ready() <-chan struct{} {
	return b.ready
}

// SendGroup implements network.GroupSender.
func (b *Bus) SendGroup(serverID string, connIDs []string, msgType string, payload protocol.Payload) {
	if serverID == b.registry.ServerID() {
		b.registry.SendGroup(serverID, connIDs, msgType, payload)
		return
	}

	if err := b.publish(serverID, connIDs, msgType, payload); err != nil {
		slog.Warn("relaying group message", "server", serverID, "type", msgType, "error", err)
	}
}

func (b *Bus) publish(serverID string, connIDs []string, msgType string, payload protocol.Payload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}

	data, err := encMode.Marshal(envelope{Conns: connIDs, Type: msgType, Payload: raw})
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	subject, err := b.Subject(serverID)
	if err != nil {
		return err
	}

	return b.transport.Publish(subject, data)
}

func (b *Bus) deliver(data []byte) {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		slog.Warn("discarding malformed envelope", "error", err)
		return
	}
	b.registry.SendGroupRaw(env.Conns, env.Type, env.Payload)
}
