package sensor

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// Lifecycle is the state machine shared by models and publishers. Start and Stop move through
// the transitional Starting and Stopping states while their hook runs; a concurrent Start or Stop
// that finds a transition in progress waits for it to finish before deciding what to do. Hooks
// run outside of the lock, so they may call into other components, but a hook must not call Start
// or Stop on its own lifecycle.
type Lifecycle struct {
	mu    sync.Mutex
	state atomic.Int32
	// done is closed when the transition in progress ends. It is nil between transitions.
	done chan struct{}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// Initialize runs init and moves to Initialized if it succeeds. It fails if the lifecycle has
// already been initialized or shut down.
func (l *Lifecycle) Initialize(init func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.State() {
	case StateUninitialized:
	case StateShutdown:
		return ErrShutdown
	default:
		return ErrAlreadyInitialized
	}
	if init != nil {
		if err := init(); err != nil {
			return err
		}
	}
	l.state.Store(int32(StateInitialized))
	return nil
}

// Start moves to Started, running hook in between. It reports whether this call performed the
// transition; starting a started lifecycle is a no-op. If hook fails the previous state is kept.
func (l *Lifecycle) Start(ctx context.Context, hook func(ctx context.Context) error) (bool, error) {
	return l.transition(ctx, true, hook)
}

// Stop moves to Stopped, running hook in between. It reports whether this call performed the
// transition; stopping a lifecycle that was never started or is already stopped is a no-op. The
// lifecycle ends up Stopped even if hook fails.
func (l *Lifecycle) Stop(ctx context.Context, hook func(ctx context.Context) error) (bool, error) {
	return l.transition(ctx, false, hook)
}

func (l *Lifecycle) transition(ctx context.Context, start bool, hook func(ctx context.Context) error) (bool, error) {
	l.mu.Lock()
	from, err := l.awaitLocked(ctx)
	if err != nil {
		l.mu.Unlock()
		return false, err
	}
	switch {
	case from == StateUninitialized:
		l.mu.Unlock()
		return false, ErrNotInitialized
	case from == StateShutdown:
		l.mu.Unlock()
		return false, ErrShutdown
	case start && from == StateStarted, !start && from != StateStarted:
		l.mu.Unlock()
		return false, nil
	}

	via, to, onFailure := StateStarting, StateStarted, from
	if !start {
		via, to, onFailure = StateStopping, StateStopped, StateStopped
	}
	l.state.Store(int32(via))
	done := make(chan struct{})
	l.done = done
	l.mu.Unlock()

	if hook != nil {
		err = hook(ctx)
	}

	l.mu.Lock()
	if err != nil {
		l.state.Store(int32(onFailure))
	} else {
		l.state.Store(int32(to))
	}
	l.done = nil
	close(done)
	l.mu.Unlock()
	return true, err
}

// awaitLocked waits, with l.mu released, until no transition is in progress and returns the
// settled state with l.mu held.
func (l *Lifecycle) awaitLocked(ctx context.Context) (State, error) {
	for l.done != nil {
		done := l.done
		l.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			l.mu.Lock()
			return l.State(), ctx.Err()
		}
		l.mu.Lock()
	}
	return l.State(), nil
}

// Shutdown waits for any transition in progress and moves to the terminal Shutdown state. It
// reports whether this call performed the move.
func (l *Lifecycle) Shutdown(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	from, err := l.awaitLocked(ctx)
	if err != nil {
		return false, err
	}
	if from == StateShutdown {
		return false, nil
	}
	l.state.Store(int32(StateShutdown))
	return true, nil
}
