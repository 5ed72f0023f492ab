package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/pixil98/go-pandora/internal/protocol"
)

const (
	// DefaultAckTimeout bounds AwaitResponse when no timeout is given.
	DefaultAckTimeout = 10 * time.Second
	// DefaultSendQueue is how many outgoing frames may wait for a slow peer
	// before the connection is dropped.
	DefaultSendQueue = 256
)

// DispatchFunc handles one validated inbound message. For oneshot messages
// the returned payload is ignored.
type DispatchFunc func(ctx context.Context, msgType string, payload protocol.Payload, expectsResponse bool) (protocol.Payload, error)

// Connection binds a Socket to an outbound and an incoming protocol. Both
// directions are validated; outgoing payloads are stripped to what their
// contract declares before they are sent.
//
// Outgoing frames are queued and written by one goroutine per connection, so
// a sender never waits on the peer. A peer that lets the queue fill up is
// disconnected.
type Connection struct {
	socket   Socket
	outbound *protocol.Schema
	incoming *protocol.Schema
	dispatch DispatchFunc
	outbox   chan outboundFrame
	queueLen int

	validate   bool
	debugAll   bool
	debugTypes map[string]bool
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	connected bool
	rooms     map[*Room]struct{}
	observers map[int]func()
	nextObs   int
}

type ConnectionOpt func(*Connection)

type outboundFrame struct {
	msgType string
	raw     json.RawMessage
	timeout time.Duration
	ack     AckFunc
}

// WithSendQueue sets how many outgoing frames may be pending.
func WithSendQueue(n int) ConnectionOpt {
	return func(c *Connection) {
		if n > 0 {
			c.queueLen = n
		}
	}
}

// WithoutValidation disables validation in both directions. Only for fully
// trusted in-process peers.
func WithoutValidation() ConnectionOpt {
	return func(c *Connection) {
		c.validate = false
	}
}

// WithDebug logs traffic for the listed message types, or for all of them.
func WithDebug(all bool, types ...string) ConnectionOpt {
	return func(c *Connection) {
		c.debugAll = all
		for _, t := range types {
			c.debugTypes[t] = true
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) ConnectionOpt {
	return func(c *Connection) {
		c.logger = l
	}
}

// NewConnection wraps socket. Nothing is received until Start is called.
func NewConnection(socket Socket, outbound, incoming *protocol.Schema, opts ...ConnectionOpt) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		socket:     socket,
		outbound:   outbound,
		incoming:   incoming,
		queueLen:   DefaultSendQueue,
		validate:   true,
		debugTypes: map[string]bool{},
		logger:     slog.Default(),
		ctx:        ctx,
		cancel:     cancel,
		connected:  true,
		rooms:      map[*Room]struct{}{},
		observers:  map[int]func(){},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("connection", socket.ID(), "protocol", outbound.Name())
	c.outbox = make(chan outboundFrame, c.queueLen)
	go c.writeLoop()
	return c
}

// Start attaches dispatch and begins receiving.
func (c *Connection) Start(dispatch DispatchFunc) {
	c.dispatch = dispatch
	c.socket.SetHandler(c)
}

func (c *Connection) ID() string {
	return c.socket.ID()
}

// Outbound returns the protocol this connection sends.
func (c *Connection) Outbound() *protocol.Schema {
	return c.outbound
}

func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Context is cancelled when the connection closes.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// OnClose registers fn to run once the connection has closed. Observers run in
// registration order. The returned function removes the registration.
func (c *Connection) OnClose(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// Close closes the underlying socket. Room membership and observers are
// handled once the socket reports the close. Frames still queued are dropped.
func (c *Connection) Close() error {
	err := c.socket.Close()
	c.closed()
	return err
}

// SendMessage queues a oneshot and returns without waiting for the peer.
// Failures are logged and the message dropped; nothing is partially sent.
func (c *Connection) SendMessage(msgType string, payload protocol.Payload) {
	contract, ok := c.outbound.Contract(msgType)
	if !ok {
		c.logger.Error("send: unknown message type", "type", msgType)
		return
	}
	if !contract.IsOneshot() {
		c.logger.Error("send: message expects a response", "type", msgType)
		return
	}

	raw, err := c.encode(msgType, payload, c.outbound.CanonicalRequest)
	if err != nil {
		c.logger.Error("send: invalid payload", "type", msgType, "error", err)
		return
	}

	c.debug("send", msgType, raw)
	if err := c.enqueue(outboundFrame{msgType: msgType, raw: raw}); err != nil {
		c.logger.Warn("send failed", "type", msgType, "error", err)
	}
}

// AwaitResponse sends a request and waits for its validated response. A
// timeout of zero or less uses DefaultAckTimeout.
func (c *Connection) AwaitResponse(ctx context.Context, msgType string, payload protocol.Payload, timeout time.Duration) (protocol.Payload, error) {
	contract, ok := c.outbound.Contract(msgType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownMessage, msgType)
	}
	if contract.IsOneshot() {
		return nil, fmt.Errorf("%w: %s", ErrOneshot, msgType)
	}
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}

	raw, err := c.encode(msgType, payload, c.outbound.CanonicalRequest)
	if err != nil {
		return nil, err
	}

	type ackResult struct {
		raw json.RawMessage
		err error
	}
	done := make(chan ackResult, 1)

	c.debug("request", msgType, raw)
	err = c.enqueue(outboundFrame{
		msgType: msgType,
		raw:     raw,
		timeout: timeout,
		ack: func(result json.RawMessage, err error) {
			done <- ackResult{raw: result, err: err}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("emitting %s: %w", msgType, err)
	}

	var res ackResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, fmt.Errorf("%s: %w", msgType, ErrSocketClosed)
	}
	if res.err != nil {
		return nil, fmt.Errorf("%s: %w", msgType, res.err)
	}

	c.debug("response", msgType, res.raw)
	out, err := c.decode(contract.Response, msgType, res.raw, c.outbound.ParseResponse)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadResponse, msgType, err)
	}
	return out, nil
}

// Request is AwaitResponse with the response asserted to its concrete type.
func Request[Res any, PRes interface {
	*Res
	protocol.Payload
}](ctx context.Context, c *Connection, msgType string, payload protocol.Payload, timeout time.Duration) (*Res, error) {
	p, err := c.AwaitResponse(ctx, msgType, payload, timeout)
	if err != nil {
		return nil, err
	}
	res, ok := p.(PRes)
	if !ok {
		return nil, fmt.Errorf("%w: %s response is %T", ErrBadResponse, msgType, p)
	}
	return (*Res)(res), nil
}

// HandleSocketMessage implements SocketHandler.
func (c *Connection) HandleSocketMessage(msgType string, raw json.RawMessage, respond RespondFunc) {
	contract, ok := c.incoming.Contract(msgType)
	if !ok {
		c.logger.Warn("received unknown message type", "type", msgType)
		c.reply(respond, protocol.AckUnknownRequest, nil)
		return
	}
	if contract.IsOneshot() != (respond == nil) {
		c.logger.Warn("received message with mismatched callback", "type", msgType, "callback", respond != nil)
		c.reply(respond, protocol.AckUnexpectedCallback, nil)
		return
	}

	c.debug("received", msgType, raw)
	payload, err := c.decode(contract.Request, msgType, raw, c.incoming.ParseRequest)
	if err != nil {
		c.logger.Warn("received invalid payload", "type", msgType, "error", err)
		c.reply(respond, protocol.AckBadContent, nil)
		return
	}

	result, err := c.safeDispatch(msgType, payload, respond != nil)
	if err != nil {
		var reject *protocol.RejectError
		var bad *protocol.BadMessageError
		switch {
		case errors.As(err, &reject):
			c.reply(respond, reject.Error(), nil)
		case errors.As(err, &bad):
			c.logger.Warn("bad message", "type", msgType, "reason", bad.Reason, "payload", string(raw))
			c.reply(respond, protocol.AckBadMessage, nil)
		case errors.Is(err, ErrUnhandled):
			c.logger.Warn("unhandled message", "type", msgType)
			c.reply(respond, protocol.AckUnknownRequest, nil)
		default:
			c.logger.Error("error processing message", "type", msgType, "error", err)
			c.reply(respond, protocol.AckProcessingError, nil)
		}
		return
	}

	if respond == nil {
		return
	}

	out, err := c.encode(msgType, result, c.incoming.CanonicalResponse)
	if err != nil {
		c.logger.Error("handler returned invalid response", "type", msgType, "error", err)
		c.reply(respond, protocol.AckBadResponse, nil)
		return
	}
	c.debug("respond", msgType, out)
	c.reply(respond, "", out)
}

// HandleSocketClose implements SocketHandler.
func (c *Connection) HandleSocketClose() {
	c.closed()
}

func (c *Connection) closed() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	rooms := c.rooms
	c.rooms = map[*Room]struct{}{}
	ids := make([]int, 0, len(c.observers))
	for id := range c.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	observers := make([]func(), 0, len(ids))
	for _, id := range ids {
		observers = append(observers, c.observers[id])
	}
	c.observers = map[int]func(){}
	c.mu.Unlock()

	c.cancel()
	for r := range rooms {
		r.Leave(c)
	}
	for _, fn := range observers {
		fn()
	}
	c.logger.Debug("connection closed")
}

func (c *Connection) enqueue(f outboundFrame) error {
	if !c.IsConnected() {
		return ErrSocketClosed
	}

	select {
	case c.outbox <- f:
		return nil
	default:
		c.logger.Warn("send queue full, dropping connection", "type", f.msgType, "queued", c.queueLen)
		// Callers may hold state locks that the close observers need.
		go func() { _ = c.Close() }()
		return ErrSendQueueFull
	}
}

// writeLoop hands queued frames to the socket in order until the connection
// closes.
func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case f := <-c.outbox:
			c.emit(f)
		}
	}
}

func (c *Connection) emit(f outboundFrame) {
	if f.ack == nil {
		if err := c.socket.Emit(f.msgType, f.raw); err != nil {
			c.logger.Warn("send failed", "type", f.msgType, "error", err)
		}
		return
	}
	if err := c.socket.EmitWithAck(f.msgType, f.raw, f.timeout, f.ack); err != nil {
		f.ack(nil, err)
	}
}

func (c *Connection) safeDispatch(msgType string, payload protocol.Payload, expectsResponse bool) (result protocol.Payload, err error) {
	if c.dispatch == nil {
		return nil, ErrUnhandled
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.dispatch(c.ctx, msgType, payload, expectsResponse)
}

func (c *Connection) reply(respond RespondFunc, errMsg string, result json.RawMessage) {
	if respond != nil {
		respond(errMsg, result)
	}
}

type canonicalFunc func(string, protocol.Payload) (json.RawMessage, protocol.Payload, error)
type parseFunc func(string, json.RawMessage) (protocol.Payload, error)

func (c *Connection) encode(msgType string, p protocol.Payload, canonical canonicalFunc) (json.RawMessage, error) {
	if c.validate {
		raw, _, err := canonical(msgType, p)
		return raw, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrInvalidPayload, err)
	}
	return raw, nil
}

func (c *Connection) decode(factory func() protocol.Payload, msgType string, raw json.RawMessage, parse parseFunc) (protocol.Payload, error) {
	if c.validate {
		return parse(msgType, raw)
	}
	p := factory()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("%w: %w", protocol.ErrInvalidPayload, err)
		}
	}
	return p, nil
}

func (c *Connection) debug(direction, msgType string, raw json.RawMessage) {
	if c.debugAll || c.debugTypes[msgType] {
		c.logger.Debug("message "+direction, "type", msgType, "payload", string(raw))
	}
}

func (c *Connection) joinRoom(r *Room) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return false
	}
	c.rooms[r] = struct{}{}
	return true
}

func (c *Connection) leaveRoom(r *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, r)
}
