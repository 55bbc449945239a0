package utils

import (
	"context"
	"sync"
	"time"
)

// OneShot is a result slot that can be filled at most once and waited on by any number of
// readers. It hands a value from a background callback to a foreground waiter.
type OneShot[T any] struct {
	once  sync.Once
	ready chan struct{}
	value T
}

// NewOneShot returns an empty result slot.
func NewOneShot[T any]() *OneShot[T] {
	return &OneShot[T]{ready: make(chan struct{})}
}

// Set stores the value if the slot is still empty. It reports whether this call filled the slot.
func (o *OneShot[T]) Set(value T) bool {
	set := false
	o.once.Do(func() {
		o.value = value
		set = true
		close(o.ready)
	})
	return set
}

// Ready reports whether the slot has been filled.
func (o *OneShot[T]) Ready() bool {
	select {
	case <-o.ready:
		return true
	default:
		return false
	}
}

// Wait blocks until the slot is filled or the context is done.
func (o *OneShot[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-o.ready:
		return o.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// WaitFor blocks until the slot is filled or the timeout elapses. The boolean is false on timeout.
func (o *OneShot[T]) WaitFor(timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-o.ready:
		return o.value, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}
