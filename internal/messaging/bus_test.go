package messaging

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/pixil98/go-pandora/internal/network"
	"github.com/pixil98/go-pandora/internal/protocol"
	"github.com/pixil98/go-testutil"
)

type busMsg struct {
	Text string `json:"text"`
}

func (m *busMsg) Validate() error {
	return nil
}

var busProtocol = protocol.MustSchema("Bus", map[string]protocol.Contract{
	"notice": protocol.Oneshot[busMsg](),
})

// attach registers a server-side connection in registry and returns a
// channel receiving what its client end is sent.
func attach(t *testing.T, registry *network.Registry) (*network.Connection, chan string) {
	t.Helper()

	got := make(chan string, 4)
	h := network.NewMessageHandler[*network.Connection](busProtocol)
	err := network.HandleOneshot(h, "notice", func(_ context.Context, _ *network.Connection, m *busMsg) error {
		got <- m.Text
		return nil
	})
	if err != nil {
		t.Fatalf("registering handler: %v", err)
	}

	clientSock, serverSock := network.NewMockSocketPair()
	client := network.NewConnection(clientSock, busProtocol, busProtocol)
	client.Start(h.Dispatcher(client))
	server := network.NewConnection(serverSock, busProtocol, busProtocol)
	server.Start(nil)
	registry.Add(server)

	t.Cleanup(func() { _ = client.Close() })
	return server, got
}

func startNats(t *testing.T) *NatsServer {
	t.Helper()

	ns, err := NewNatsServer(WithPort(-1))
	if err != nil {
		t.Fatalf("creating nats server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ns.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	if err := ns.WaitReady(waitCtx); err != nil {
		t.Fatalf("nats server not ready: %v", err)
	}
	return ns
}

func startBus(t *testing.T, transport Transport, registry *network.Registry) *Bus {
	t.Helper()

	bus, err := NewBus(transport, registry)
	if err != nil {
		t.Fatalf("creating bus: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = bus.Start(ctx) }()
	t.Cleanup(cancel)

	select {
	case <-bus.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("bus not subscribed")
	}
	return bus
}

func TestBus_RoomSpansServers(t *testing.T) {
	ns := startNats(t)

	regA := network.NewRegistry("shard-a")
	regB := network.NewRegistry("shard-b")
	busA := startBus(t, ns, regA)
	startBus(t, ns, regB)

	local, gotLocal := attach(t, regA)
	remote, gotRemote := attach(t, regB)

	room := network.NewRoom("space-1", regA.ServerID(), busA)
	room.Join(local)
	room.JoinRemote(regB.ServerID(), remote.ID())

	room.SendMessage("notice", &busMsg{Text: "hello"})

	for name, got := range map[string]chan string{"local": gotLocal, "remote": gotRemote} {
		select {
		case text := <-got:
			testutil.AssertEqual(t, name, text, "hello")
		case <-time.After(5 * time.Second):
			t.Fatalf("%s member did not receive broadcast", name)
		}
	}
}

func TestBus_Subject(t *testing.T) {
	tests := map[string]struct {
		tmpl   string
		server string
		exp    string
		expErr string
	}{
		"default": {
			server: "Shard-A",
			exp:    "pandora.server.shard-a",
		},
		"custom": {
			tmpl:   `fleet.{{ .ServerID | upper | replace "-" "_" }}`,
			server: "shard-a",
			exp:    "fleet.SHARD_A",
		},
		"bad template": {
			tmpl:   `{{ .ServerID `,
			expErr: "parsing subject template",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var opts []BusOpt
			if tt.tmpl != "" {
				opts = append(opts, WithSubjectTemplate(tt.tmpl))
			}
			bus, err := NewBus(nil, network.NewRegistry("x"), opts...)
			if tt.expErr != "" {
				testutil.AssertErrorContains(t, err, tt.expErr)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			subject, err := bus.Subject(tt.server)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "subject", subject, tt.exp)
		})
	}
}

func TestBus_DropsMalformedEnvelope(t *testing.T) {
	registry := network.NewRegistry("shard-a")
	bus, err := NewBus(nil, registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, got := attach(t, registry)

	bus.deliver([]byte{0xff, 0x00})

	data, err := encMode.Marshal(envelope{Conns: []string{"nobody"}, Type: "notice", Payload: []byte(`{"text":"x"}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bus.deliver(data)

	testutil.AssertEqual(t, "delivered", len(got), 0)
}

// startSharedRoom runs a bus for registry sharing a "clients" room. The
// returned function stops the bus.
func startSharedRoom(t *testing.T, transport Transport, registry *network.Registry) (*network.Room, func()) {
	t.Helper()

	bus, err := NewBus(transport, registry)
	if err != nil {
		t.Fatalf("creating bus: %v", err)
	}
	room := network.NewRoom("clients", registry.ServerID(), bus)
	if err := bus.ShareRoom(room); err != nil {
		t.Fatalf("sharing room: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = bus.Start(ctx)
		close(done)
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)

	select {
	case <-bus.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("bus not subscribed")
	}
	return room, stop
}

func waitMembers(t *testing.T, room *network.Room, serverID string, exp ...string) {
	t.Helper()
	slices.Sort(exp)
	deadline := time.Now().Add(5 * time.Second)
	for !slices.Equal(room.Members()[serverID], exp) {
		if time.Now().After(deadline) {
			t.Fatalf("members of %s on %s: got %v, expected %v", room.Name(), serverID, room.Members()[serverID], exp)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBus_SharedRoomMembership(t *testing.T) {
	ns := startNats(t)

	regA := network.NewRegistry("dir-a")
	regB := network.NewRegistry("dir-b")
	roomA, _ := startSharedRoom(t, ns, regA)
	roomB, stopB := startSharedRoom(t, ns, regB)

	remote, gotRemote := attach(t, regB)
	roomB.Join(remote)
	waitMembers(t, roomA, "dir-b", remote.ID())

	roomA.SendMessage("notice", &busMsg{Text: "from a"})
	select {
	case text := <-gotRemote:
		testutil.AssertEqual(t, "remote notice", text, "from a")
	case <-time.After(5 * time.Second):
		t.Fatal("remote member did not receive broadcast")
	}

	// A server joining the fleet later learns who is already there, and
	// everyone learns about its members.
	local, _ := attach(t, regA)
	roomA.Join(local)
	roomC, _ := startSharedRoom(t, ns, network.NewRegistry("dir-c"))
	waitMembers(t, roomC, "dir-a", local.ID())
	waitMembers(t, roomC, "dir-b", remote.ID())
	waitMembers(t, roomB, "dir-a", local.ID())

	// Closing a connection leaves the room everywhere.
	_ = local.Close()
	waitMembers(t, roomB, "dir-a")
	waitMembers(t, roomC, "dir-a")

	// A stopped server takes its members with it.
	stopB()
	waitMembers(t, roomA, "dir-b")
	waitMembers(t, roomC, "dir-b")
}

func TestBus_RoomSubject(t *testing.T) {
	tests := map[string]struct {
		tmpl   string
		room   string
		exp    string
		expErr string
	}{
		"default": {
			room: "space/Home",
			exp:  "pandora.room.space.home",
		},
		"custom": {
			tmpl: `fleet.rooms.{{ .Room | upper }}`,
			room: "clients",
			exp:  "fleet.rooms.CLIENTS",
		},
		"bad template": {
			tmpl:   `{{ .Room `,
			expErr: "parsing room subject template",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var opts []BusOpt
			if tt.tmpl != "" {
				opts = append(opts, WithRoomSubjectTemplate(tt.tmpl))
			}
			bus, err := NewBus(nil, network.NewRegistry("x"), opts...)
			if tt.expErr != "" {
				testutil.AssertErrorContains(t, err, tt.expErr)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			subject, err := bus.RoomSubject(tt.room)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "subject", subject, tt.exp)
		})
	}
}
