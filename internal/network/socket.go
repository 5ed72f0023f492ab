package network

import (
	"encoding/json"
	"sync"
	"time"
)

// AckFunc receives the outcome of an EmitWithAck. It is called exactly once,
// with either the remote result or an error (timeout, closed socket, or a
// *protocol.RemoteError carrying the remote's error string).
type AckFunc func(result json.RawMessage, err error)

// RespondFunc acknowledges an inbound message. A non-empty errMsg is sent as
// the remote's error string, otherwise result is the response body.
type RespondFunc func(errMsg string, result json.RawMessage)

// SocketHandler receives inbound traffic from a Socket. respond is nil for
// messages sent without an acknowledgement callback.
type SocketHandler interface {
	HandleSocketMessage(msgType string, raw json.RawMessage, respond RespondFunc)
	HandleSocketClose()
}

// Socket is the minimal bidirectional emitter a Connection is built on.
// Delivery between two ends must be reliable and ordered.
type Socket interface {
	ID() string
	// SetHandler attaches the inbound handler and starts delivery. Messages
	// are not delivered before a handler is set.
	SetHandler(h SocketHandler)
	Emit(msgType string, raw json.RawMessage) error
	EmitWithAck(msgType string, raw json.RawMessage, timeout time.Duration, ack AckFunc) error
	Close() error
}

type pendingAck struct {
	timer *time.Timer
	fn    AckFunc
}

// pendingAcks matches acknowledgements to outstanding calls. Whichever of the
// ack, the timeout or a close reaches an entry first removes it; later
// arrivals find nothing and are ignored.
type pendingAcks struct {
	mu     sync.Mutex
	next   uint64
	calls  map[uint64]*pendingAck
	closed bool
}

func newPendingAcks() *pendingAcks {
	return &pendingAcks{calls: map[uint64]*pendingAck{}}
}

func (p *pendingAcks) add(timeout time.Duration, fn AckFunc) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrSocketClosed
	}

	p.next++
	id := p.next
	entry := &pendingAck{fn: fn}
	entry.timer = time.AfterFunc(timeout, func() {
		p.resolve(id, nil, ErrAckTimeout)
	})
	p.calls[id] = entry

	return id, nil
}

// resolve settles an outstanding call. It reports false if the call had
// already been settled.
func (p *pendingAcks) resolve(id uint64, result json.RawMessage, err error) bool {
	p.mu.Lock()
	entry, ok := p.calls[id]
	delete(p.calls, id)
	p.mu.Unlock()

	if !ok {
		return false
	}
	entry.timer.Stop()
	entry.fn(result, err)
	return true
}

func (p *pendingAcks) failAll(err error) {
	p.mu.Lock()
	calls := p.calls
	p.calls = map[uint64]*pendingAck{}
	p.closed = true
	p.mu.Unlock()

	for _, entry := range calls {
		entry.timer.Stop()
		entry.fn(nil, err)
	}
}
