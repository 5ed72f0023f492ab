package network

import "errors"

var (
	ErrSocketClosed     = errors.New("socket closed")
	ErrAckTimeout       = errors.New("acknowledgement timed out")
	ErrUnhandled        = errors.New("message not handled")
	ErrCallbackMismatch = errors.New("callback presence does not match contract")
	ErrOneshot          = errors.New("message is oneshot")
	ErrNotOneshot       = errors.New("message expects a response")
	ErrBadResponse      = errors.New("bad response")
	ErrSendQueueFull    = errors.New("send queue full")
)
