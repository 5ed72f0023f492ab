package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
)

// Payload is a message body. Every request and response is a record type that
// knows how to validate itself.
type Payload interface {
	Validate() error
}

// payloadPtr constrains a factory type parameter to *T implementing Payload.
type payloadPtr[T any] interface {
	*T
	Payload
}

// Contract describes one message type. A nil Response marks a oneshot.
type Contract struct {
	Request  func() Payload
	Response func() Payload
}

// Oneshot builds a contract that is never acknowledged.
func Oneshot[T any, P payloadPtr[T]]() Contract {
	return Contract{
		Request: func() Payload { return P(new(T)) },
	}
}

// Request builds a contract that is always acknowledged with a Res.
func Request[Req any, Res any, PReq payloadPtr[Req], PRes payloadPtr[Res]]() Contract {
	return Contract{
		Request:  func() Payload { return PReq(new(Req)) },
		Response: func() Payload { return PRes(new(Res)) },
	}
}

// IsOneshot reports whether the contract expects no response.
func (c Contract) IsOneshot() bool {
	return c.Response == nil
}

// Schema is a verified, immutable map from message type to contract for one
// protocol direction.
type Schema struct {
	name      string
	contracts map[string]Contract
}

// NewSchema verifies every contract and returns the schema. Request and
// response payloads must be pointers to structs so they can travel inside a
// uniform envelope.
func NewSchema(name string, contracts map[string]Contract) (*Schema, error) {
	s := &Schema{
		name:      name,
		contracts: make(map[string]Contract, len(contracts)),
	}

	for msgType, c := range contracts {
		if msgType == "" {
			return nil, fmt.Errorf("schema %s: empty message type", name)
		}
		if c.Request == nil {
			return nil, fmt.Errorf("schema %s: message %q has no request factory", name, msgType)
		}
		if err := verifyRecord(c.Request()); err != nil {
			return nil, fmt.Errorf("schema %s: message %q request: %w", name, msgType, err)
		}
		if c.Response != nil {
			if err := verifyRecord(c.Response()); err != nil {
				return nil, fmt.Errorf("schema %s: message %q response: %w", name, msgType, err)
			}
		}
		s.contracts[msgType] = c
	}

	return s, nil
}

// MustSchema is NewSchema for package-level protocol declarations. It panics so
// a malformed protocol stops the process at start.
func MustSchema(name string, contracts map[string]Contract) *Schema {
	s, err := NewSchema(name, contracts)
	if err != nil {
		panic(err)
	}
	return s
}

func verifyRecord(p Payload) error {
	if p == nil {
		return fmt.Errorf("factory returned nil")
	}
	t := reflect.TypeOf(p)
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("payload must be a pointer to a struct, got %s", t)
	}
	return nil
}

// Name returns the protocol name, e.g. "ShardClient".
func (s *Schema) Name() string {
	return s.name
}

// Contract returns the contract for a message type.
func (s *Schema) Contract(msgType string) (Contract, bool) {
	c, ok := s.contracts[msgType]
	return c, ok
}

// MessageTypes returns every message type in sorted order.
func (s *Schema) MessageTypes() []string {
	types := make([]string, 0, len(s.contracts))
	for t := range s.contracts {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// ParseRequest decodes raw into a fresh request value and validates it. Fields
// the contract does not declare are dropped.
func (s *Schema) ParseRequest(msgType string, raw json.RawMessage) (Payload, error) {
	c, ok := s.contracts[msgType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, msgType)
	}
	return parse(c.Request, raw)
}

// ParseResponse decodes raw into a fresh response value and validates it.
func (s *Schema) ParseResponse(msgType string, raw json.RawMessage) (Payload, error) {
	c, ok := s.contracts[msgType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, msgType)
	}
	if c.Response == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoResponse, msgType)
	}
	return parse(c.Response, raw)
}

// CanonicalRequest round trips an outgoing request through its contract,
// returning the encoded form and the stripped, validated value.
func (s *Schema) CanonicalRequest(msgType string, p Payload) (json.RawMessage, Payload, error) {
	c, ok := s.contracts[msgType]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownMessage, msgType)
	}
	return canonical(c.Request, p)
}

// CanonicalResponse round trips an outgoing response through its contract.
func (s *Schema) CanonicalResponse(msgType string, p Payload) (json.RawMessage, Payload, error) {
	c, ok := s.contracts[msgType]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownMessage, msgType)
	}
	if c.Response == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoResponse, msgType)
	}
	return canonical(c.Response, p)
}

func parse(factory func() Payload, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	p := factory()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return p, nil
}

func canonical(factory func() Payload, p Payload) (json.RawMessage, Payload, error) {
	if p == nil {
		return nil, nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	if v := reflect.ValueOf(p); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil, nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	out, err := parse(factory, raw)
	if err != nil {
		return nil, nil, err
	}
	// Re-encode so the bytes on the wire match the stripped value.
	raw, err = json.Marshal(out)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return raw, out, nil
}
