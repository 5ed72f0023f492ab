package network

import (
	"context"
	"fmt"

	"github.com/pixil98/go-pandora/internal/protocol"
)

type RespondingFunc[C any] func(ctx context.Context, client C, payload protocol.Payload) (protocol.Payload, error)

type OneshotFunc[C any] func(ctx context.Context, client C, payload protocol.Payload) error

// MessageHandler routes inbound messages for one protocol to handler
// functions. C is whatever the server uses to represent the sender.
type MessageHandler[C any] struct {
	schema     *protocol.Schema
	responding map[string]RespondingFunc[C]
	oneshot    map[string]OneshotFunc[C]
}

// NewMessageHandler creates an empty dispatch table for schema.
func NewMessageHandler[C any](schema *protocol.Schema) *MessageHandler[C] {
	return &MessageHandler[C]{
		schema:     schema,
		responding: map[string]RespondingFunc[C]{},
		oneshot:    map[string]OneshotFunc[C]{},
	}
}

func (h *MessageHandler[C]) checkRegistration(msgType string, oneshot bool) error {
	contract, ok := h.schema.Contract(msgType)
	if !ok {
		return fmt.Errorf("registering %s: %w", msgType, protocol.ErrUnknownMessage)
	}
	if contract.IsOneshot() != oneshot {
		return fmt.Errorf("registering %s: %w", msgType, ErrCallbackMismatch)
	}
	_, inResponding := h.responding[msgType]
	_, inOneshot := h.oneshot[msgType]
	if inResponding || inOneshot {
		return fmt.Errorf("registering %s: already registered", msgType)
	}
	return nil
}

// Responding registers a handler for a request/response message.
func (h *MessageHandler[C]) Responding(msgType string, fn RespondingFunc[C]) error {
	if err := h.checkRegistration(msgType, false); err != nil {
		return err
	}
	h.responding[msgType] = fn
	return nil
}

// Oneshot registers a handler for a oneshot message.
func (h *MessageHandler[C]) Oneshot(msgType string, fn OneshotFunc[C]) error {
	if err := h.checkRegistration(msgType, true); err != nil {
		return err
	}
	h.oneshot[msgType] = fn
	return nil
}

// HandleMessage runs the handler registered for msgType. It returns
// ErrUnhandled when nothing is registered and ErrCallbackMismatch when the
// message arrived on the wrong table.
func (h *MessageHandler[C]) HandleMessage(ctx context.Context, client C, msgType string, payload protocol.Payload, expectsResponse bool) (protocol.Payload, error) {
	if expectsResponse {
		if fn, ok := h.responding[msgType]; ok {
			return fn(ctx, client, payload)
		}
		if _, ok := h.oneshot[msgType]; ok {
			return nil, fmt.Errorf("%s: %w", msgType, ErrCallbackMismatch)
		}
		return nil, fmt.Errorf("%s: %w", msgType, ErrUnhandled)
	}

	if fn, ok := h.oneshot[msgType]; ok {
		return nil, fn(ctx, client, payload)
	}
	if _, ok := h.responding[msgType]; ok {
		return nil, fmt.Errorf("%s: %w", msgType, ErrCallbackMismatch)
	}
	return nil, fmt.Errorf("%s: %w", msgType, ErrUnhandled)
}

// Dispatcher binds the table to one client, for Connection.Start.
func (h *MessageHandler[C]) Dispatcher(client C) DispatchFunc {
	return func(ctx context.Context, msgType string, payload protocol.Payload, expectsResponse bool) (protocol.Payload, error) {
		return h.HandleMessage(ctx, client, msgType, payload, expectsResponse)
	}
}

// HandleRequest registers a typed request handler.
func HandleRequest[C any, Req any, Res any, PReq interface {
	*Req
	protocol.Payload
}, PRes interface {
	*Res
	protocol.Payload
}](h *MessageHandler[C], msgType string, fn func(context.Context, C, PReq) (PRes, error)) error {
	return h.Responding(msgType, func(ctx context.Context, client C, payload protocol.Payload) (protocol.Payload, error) {
		req, ok := payload.(PReq)
		if !ok {
			return nil, protocol.NewBadMessageError(fmt.Sprintf("%s: unexpected payload %T", msgType, payload))
		}
		res, err := fn(ctx, client, req)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

// HandleOneshot registers a typed oneshot handler.
func HandleOneshot[C any, Msg any, PMsg interface {
	*Msg
	protocol.Payload
}](h *MessageHandler[C], msgType string, fn func(context.Context, C, PMsg) error) error {
	return h.Oneshot(msgType, func(ctx context.Context, client C, payload protocol.Payload) error {
		msg, ok := payload.(PMsg)
		if !ok {
			return protocol.NewBadMessageError(fmt.Sprintf("%s: unexpected payload %T", msgType, payload))
		}
		return fn(ctx, client, msg)
	})
}
