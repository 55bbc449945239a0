package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// Workers is a group of goroutines that share one context and are stopped together. The zero
// value is not usable; use NewWorkers.
type Workers struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	running sync.WaitGroup
}

// NewWorkers starts one goroutine per function.
func NewWorkers(funcs ...func(context.Context)) *Workers {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Workers{ctx: ctx, cancel: cancel}
	w.Go(funcs...)
	return w
}

// Go starts one more goroutine per function. It does nothing once Stop has been called.
func (w *Workers) Go(funcs ...func(context.Context)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.running.Add(len(funcs))
	for _, f := range funcs {
		goutils.PanicCapturingGo(func() {
			defer w.running.Done()
			f(w.ctx)
		})
	}
}

// Stop cancels the shared context and waits for every goroutine to return. It must not be
// called from one of the group's own goroutines.
func (w *Workers) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.cancel()
	w.mu.Unlock()
	w.running.Wait()
}

// Context is canceled by Stop.
func (w *Workers) Context() context.Context {
	return w.ctx
}
