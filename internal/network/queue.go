package network

import (
	"encoding/json"
	"sync"
)

type inboundFrame struct {
	msgType string
	raw     json.RawMessage
	respond RespondFunc
}

// frameQueue is an unbounded FIFO between a socket's receive side and its
// single dispatch goroutine. Unbounded so that a handler waiting on an
// acknowledgement never blocks the reader that would deliver it.
type frameQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []inboundFrame
	closed bool
}

func newFrameQueue() *frameQueue {
	q := &frameQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *frameQueue) push(f inboundFrame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, f)
	q.cond.Signal()
	return true
}

// pop blocks until a frame is available. Frames received before close are
// still handed out; it returns false once the queue is closed and empty.
func (q *frameQueue) pop() (inboundFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return inboundFrame{}, false
	}

	f := q.items[0]
	q.items[0] = inboundFrame{}
	q.items = q.items[1:]
	return f, true
}

func (q *frameQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// deliver runs the dispatch loop for one socket. The close is reported after
// the last queued frame.
func (q *frameQueue) deliver(h SocketHandler) {
	for {
		f, ok := q.pop()
		if !ok {
			h.HandleSocketClose()
			return
		}
		h.HandleSocketMessage(f.msgType, f.raw, f.respond)
	}
}
