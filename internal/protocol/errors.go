package protocol

import "errors"

var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrNoResponse     = errors.New("message does not expect a response")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Error acknowledgements. These are the only strings that cross the wire when
// a request fails; internal error details stay local.
const (
	AckUnknownRequest     = "Unknown request"
	AckUnexpectedCallback = "Request does not expect callback"
	AckBadContent         = "Bad message content"
	AckBadResponse        = "Bad response"
	AckRejected           = "Rejected"
	AckBadMessage         = "Bad message"
	AckProcessingError    = "Error processing message"
)

// BadMessageError is returned by a handler that finds a message it cannot act
// on even though it passed schema validation.
type BadMessageError struct {
	Reason string
}

func (e *BadMessageError) Error() string {
	return "bad message: " + e.Reason
}

// NewBadMessageError creates a BadMessageError.
func NewBadMessageError(reason string) *BadMessageError {
	return &BadMessageError{Reason: reason}
}

// RejectError is a deliberate rejection. Its message is sent to the remote
// verbatim.
type RejectError struct {
	Message string
}

func (e *RejectError) Error() string {
	if e.Message == "" {
		return AckRejected
	}
	return e.Message
}

// NewRejectError creates a RejectError.
func NewRejectError(msg string) *RejectError {
	return &RejectError{Message: msg}
}

// RemoteError is an error acknowledgement received from the remote side.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}
