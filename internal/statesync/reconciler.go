package statesync

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pixil98/go-pandora/internal/state"
)

type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseLoaded
	PhaseTornDown
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseLoaded:
		return "loaded"
	case PhaseTornDown:
		return "torn down"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Reconciler follows the server's state on the client side. A full bundle
// replaces whatever it holds; deltas are applied in arrival order against the
// state they were computed from. Anything that does not apply cleanly is a
// desync: the reconciler forgets its state and reports it, and only a fresh
// full load recovers.
type Reconciler struct {
	mu      sync.Mutex
	phase   Phase
	current *state.GlobalState

	changes observers[*state.GlobalState]
	desyncs observers[error]
}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

func (r *Reconciler) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Current returns the held state, or nil before a load.
func (r *Reconciler) Current() *state.GlobalState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Load replaces the state with a full bundle.
func (r *Reconciler) Load(b state.GlobalStateBundle, catalog *state.AssetCatalog) error {
	r.mu.Lock()
	if r.phase == PhaseTornDown {
		r.mu.Unlock()
		return ErrTornDown
	}

	g, err := state.GlobalStateFromBundle(b, catalog)
	if err != nil {
		r.mu.Unlock()
		return r.desync(fmt.Errorf("%w: loading bundle: %w", state.ErrDesync, err))
	}

	r.phase = PhaseLoaded
	r.current = g
	r.mu.Unlock()

	r.changes.notify(g)
	return nil
}

// Update applies one delta.
func (r *Reconciler) Update(d state.GlobalStateClientDeltaBundle) error {
	r.mu.Lock()
	switch r.phase {
	case PhaseTornDown:
		r.mu.Unlock()
		return ErrTornDown
	case PhaseUninitialized:
		r.mu.Unlock()
		return r.desync(fmt.Errorf("%w: %w", state.ErrDesync, ErrNotLoaded))
	}

	next, err := r.current.ApplyClientDelta(d)
	if err != nil {
		r.mu.Unlock()
		return r.desync(err)
	}
	r.current = next
	r.mu.Unlock()

	r.changes.notify(next)
	return nil
}

func (r *Reconciler) desync(err error) error {
	r.mu.Lock()
	if r.phase != PhaseTornDown {
		r.phase = PhaseUninitialized
		r.current = nil
	}
	r.mu.Unlock()

	slog.Warn("state desync, full reload required", "error", err)
	r.desyncs.notify(err)
	return err
}

// OnChange registers fn for every new state. The returned function
// unsubscribes.
func (r *Reconciler) OnChange(fn func(*state.GlobalState)) func() {
	return r.changes.add(fn)
}

// OnDesync registers fn for every desync. The owner is expected to request a
// full reload from it.
func (r *Reconciler) OnDesync(fn func(error)) func() {
	return r.desyncs.add(fn)
}

// Close tears the reconciler down and drops all observers.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.phase = PhaseTornDown
	r.current = nil
	r.mu.Unlock()

	r.changes.clear()
	r.desyncs.clear()
}
