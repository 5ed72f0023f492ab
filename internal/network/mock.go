package network

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pixil98/go-pandora/internal/protocol"
)

// MockSocket is one end of an in-process socket pair. It is used by tests and
// by local simulation where both ends live in the same process.
type MockSocket struct {
	id      string
	peer    *MockSocket
	inbox   *frameQueue
	pending *pendingAcks

	startOnce sync.Once
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// NewMockSocketPair returns two connected sockets. Whatever one emits the other
// receives, in order.
func NewMockSocketPair() (*MockSocket, *MockSocket) {
	a := newMockSocket()
	b := newMockSocket()
	a.peer = b
	b.peer = a
	return a, b
}

func newMockSocket() *MockSocket {
	return &MockSocket{
		id:      uuid.NewString(),
		inbox:   newFrameQueue(),
		pending: newPendingAcks(),
	}
}

func (s *MockSocket) ID() string {
	return s.id
}

func (s *MockSocket) SetHandler(h SocketHandler) {
	s.startOnce.Do(func() {
		go s.inbox.deliver(h)
	})
}

func (s *MockSocket) Emit(msgType string, raw json.RawMessage) error {
	if s.isClosed() {
		return ErrSocketClosed
	}
	if !s.peer.inbox.push(inboundFrame{msgType: msgType, raw: bytes.Clone(raw)}) {
		return ErrSocketClosed
	}
	return nil
}

func (s *MockSocket) EmitWithAck(msgType string, raw json.RawMessage, timeout time.Duration, ack AckFunc) error {
	if s.isClosed() {
		return ErrSocketClosed
	}

	id, err := s.pending.add(timeout, ack)
	if err != nil {
		return err
	}

	respond := func(errMsg string, result json.RawMessage) {
		if errMsg != "" {
			s.pending.resolve(id, nil, &protocol.RemoteError{Message: errMsg})
			return
		}
		s.pending.resolve(id, bytes.Clone(result), nil)
	}

	if !s.peer.inbox.push(inboundFrame{msgType: msgType, raw: bytes.Clone(raw), respond: respond}) {
		s.pending.resolve(id, nil, ErrSocketClosed)
	}
	return nil
}

// Close closes both ends of the pair.
func (s *MockSocket) Close() error {
	s.shutdown()
	s.peer.shutdown()
	return nil
}

func (s *MockSocket) shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.pending.failAll(ErrSocketClosed)
		s.inbox.close()
	})
}

func (s *MockSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
