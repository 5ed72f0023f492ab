package statesync

import (
	"fmt"
	"sync"

	"github.com/pixil98/go-pandora/internal/state"
)

// Change describes one accepted transition of a Container.
type Change struct {
	Previous *state.GlobalState
	Current  *state.GlobalState
	Delta    state.GlobalStateClientDeltaBundle
}

// ProduceFunc computes the next state from the current one. Returning the
// same pointer means nothing changed.
type ProduceFunc func(current *state.GlobalState) (*state.GlobalState, error)

// Container holds the authoritative state of one space. Every write is a
// single read-modify-write under the container's lock, so a producer always
// sees the latest state and changes are observed in the order they happened.
type Container struct {
	mu      sync.Mutex
	current *state.GlobalState
	changes observers[Change]
}

// NewContainer validates initial and wraps it.
func NewContainer(initial *state.GlobalState) (*Container, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return &Container{current: initial}, nil
}

// Current returns the latest state. The value is immutable and may be read
// freely.
func (c *Container) Current() *state.GlobalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Produce applies fn. A result that fails validation is rejected and the
// container keeps its state. Observers run before Produce returns and before
// any later Produce starts; they must not call Produce themselves and must
// not block. network.Connection queues its sends, so broadcasting is safe.
func (c *Container) Produce(fn ProduceFunc) (Change, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current
	next, err := fn(prev)
	if err != nil {
		return Change{}, err
	}
	if next == nil {
		return Change{}, fmt.Errorf("%w: producer returned nil", ErrInvalidState)
	}
	if next == prev {
		return Change{Previous: prev, Current: prev}, nil
	}
	if err := next.Validate(); err != nil {
		return Change{}, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	change := Change{
		Previous: prev,
		Current:  next,
		Delta:    next.ExportClientDelta(prev),
	}
	c.current = next

	if !change.Delta.Empty() {
		c.changes.notify(change)
	}
	return change, nil
}

// Subscribe registers fn for every non-empty change. The returned function
// unsubscribes.
func (c *Container) Subscribe(fn func(Change)) func() {
	return c.changes.add(fn)
}

// View runs fn with the current state while holding the container's lock. No
// change is published until fn returns, so fn can hand the state to a new
// subscriber without missing or repeating a delta.
func (c *Container) View(fn func(current *state.GlobalState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.current)
}
