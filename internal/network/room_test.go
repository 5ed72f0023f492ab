package network

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pixil98/go-pandora/internal/protocol"
	"github.com/pixil98/go-testutil"
)

type recordingSender struct {
	mu    sync.Mutex
	sends map[string][]string
}

func (r *recordingSender) SendGroup(serverID string, connIDs []string, _ string, _ protocol.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends[serverID] = append(r.sends[serverID], connIDs...)
}

// receiver is a client end that records the oneshot1 values it receives.
func receiver(t *testing.T, registry *Registry) (*Connection, chan int) {
	t.Helper()

	got := make(chan int, 8)
	h := NewMessageHandler[*Connection](testProtocol)
	mustRegister(t, HandleOneshot(h, "oneshot1", func(_ context.Context, _ *Connection, m *testMsg) error {
		got <- m.Test
		return nil
	}))

	clientSock, serverSock := NewMockSocketPair()
	client := NewConnection(clientSock, testProtocol, testProtocol)
	client.Start(h.Dispatcher(client))
	server := NewConnection(serverSock, testProtocol, testProtocol)
	server.Start(nil)
	registry.Add(server)

	t.Cleanup(func() { _ = client.Close() })
	return server, got
}

func TestRoom_Broadcast(t *testing.T) {
	registry := NewRegistry("local")
	room := NewRoom("space-1", registry.ServerID(), registry)

	a, gotA := receiver(t, registry)
	b, gotB := receiver(t, registry)
	c, gotC := receiver(t, registry)
	room.Join(a)
	room.Join(b)

	room.SendMessage("oneshot1", &testMsg{Test: 5})

	for name, got := range map[string]chan int{"a": gotA, "b": gotB} {
		select {
		case v := <-got:
			testutil.AssertEqual(t, name, v, 5)
		case <-time.After(time.Second):
			t.Fatalf("%s did not receive broadcast", name)
		}
	}

	room.Leave(b)
	room.Leave(c)
	room.SendMessage("oneshot1", &testMsg{Test: 6})

	select {
	case v := <-gotA:
		testutil.AssertEqual(t, "a", v, 6)
	case <-time.After(time.Second):
		t.Fatal("a did not receive broadcast")
	}
	testutil.AssertEqual(t, "b queued", len(gotB), 0)
	testutil.AssertEqual(t, "c queued", len(gotC), 0)
}

func TestRoom_GroupsByServer(t *testing.T) {
	sender := &recordingSender{sends: map[string][]string{}}
	room := NewRoom("space-1", "shard-a", sender)

	room.JoinRemote("shard-b", "c1")
	room.JoinRemote("shard-b", "c2")
	room.JoinRemote("shard-b", "c1")
	room.JoinRemote("shard-c", "c3")
	testutil.AssertEqual(t, "has clients", room.HasClients(), true)

	room.SendMessage("oneshot1", &testMsg{Test: 1})

	testutil.AssertEqual(t, "shard-b", len(sender.sends["shard-b"]), 2)
	testutil.AssertEqual(t, "shard-c", len(sender.sends["shard-c"]), 1)

	room.LeaveRemote("shard-b", "c1")
	room.LeaveRemote("shard-b", "c2")
	room.LeaveRemote("shard-c", "c3")
	room.LeaveRemote("shard-c", "never-joined")
	testutil.AssertEqual(t, "has clients", room.HasClients(), false)
}

func TestRoom_JoinRacingClose(t *testing.T) {
	s := newTestServer(t)
	room := NewRoom("space-1", "local", NewRegistry("local"))

	for range 50 {
		client, server, _ := connect(t, s)
		closed := make(chan struct{})
		server.OnClose(func() { close(closed) })

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			room.Join(server)
		}()
		go func() {
			defer wg.Done()
			_ = client.Close()
		}()
		wg.Wait()

		select {
		case <-closed:
		case <-time.After(time.Second):
			t.Fatal("server did not observe close")
		}
		// The close has either removed the member or kept it from joining.
		testutil.AssertEqual(t, "has clients", room.HasClients(), false)
	}
}

func TestRoom_OnMembership(t *testing.T) {
	registry := NewRegistry("local")
	room := NewRoom("clients", registry.ServerID(), registry)

	var events []string
	room.OnMembership(func(connID string, joined bool) {
		if joined {
			events = append(events, "+"+connID)
		} else {
			events = append(events, "-"+connID)
		}
	})

	a, _ := receiver(t, registry)
	room.Join(a)
	room.Join(a)
	room.JoinRemote("other", "r1")
	room.LeaveRemote("other", "r1")
	room.Leave(a)
	room.Leave(a)

	testutil.AssertEqual(t, "events", strings.Join(events, " "), "+"+a.ID()+" -"+a.ID())
}
