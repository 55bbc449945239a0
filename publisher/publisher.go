// Package publisher defines components that are notified with the graph after every optimization
// pass, and a publisher that serializes it onto the bus.
package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/fuse/graph"
	"go.viam.com/fuse/logging"
	"go.viam.com/fuse/sensor"
	"go.viam.com/fuse/transaction"
	"go.viam.com/fuse/transport"
	"go.viam.com/fuse/utils"
)

// A Publisher receives every optimized graph together with the transactions applied since the
// previous notification.
type Publisher interface {
	Name() string
	Initialize(ctx context.Context, name string) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Close(ctx context.Context) error
	Notify(ctx context.Context, tx *transaction.Transaction, g *graph.Graph) error
}

// A SnapshotWriter stores serialized graphs.
type SnapshotWriter interface {
	Put(stamp time.Time, data []byte) error
}

// Dependencies are the shared facilities a publisher is constructed with.
type Dependencies struct {
	Bus       *transport.Bus
	Clock     clock.Clock
	Snapshots SnapshotWriter
}

// Hooks are the parts of a publisher that differ between publisher types.
type Hooks struct {
	OnInit   func(ctx context.Context) error
	OnStart  func(ctx context.Context) error
	OnStop   func(ctx context.Context) error
	OnNotify func(ctx context.Context, tx *transaction.Transaction, g *graph.Graph) error
}

// AsyncPublisher runs OnNotify on a private executor so that a slow publisher never holds up the
// optimizer. Notifications that arrive while the queue is full are dropped.
type AsyncPublisher struct {
	logger    logging.Logger
	queueSize int
	hooks     Hooks

	lifecycle sensor.Lifecycle

	mu       sync.Mutex
	name     string
	executor *utils.Executor
}

// NewAsyncPublisher returns an uninitialized publisher.
func NewAsyncPublisher(logger logging.Logger, queueSize int, hooks Hooks) *AsyncPublisher {
	return &AsyncPublisher{logger: logger, queueSize: queueSize, hooks: hooks}
}

// Name returns the name given at Initialize.
func (p *AsyncPublisher) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// Initialize starts the executor and runs OnInit.
func (p *AsyncPublisher) Initialize(ctx context.Context, name string) error {
	return p.lifecycle.Initialize(func() error {
		exec := utils.NewExecutor(p.queueSize)
		p.mu.Lock()
		p.name = name
		p.executor = exec
		p.mu.Unlock()
		if p.hooks.OnInit == nil {
			return nil
		}
		if err := p.hooks.OnInit(ctx); err != nil {
			p.mu.Lock()
			p.executor = nil
			p.mu.Unlock()
			exec.Close()
			return errors.Wrapf(err, "initializing publisher %q", name)
		}
		return nil
	})
}

// State returns the current lifecycle state.
func (p *AsyncPublisher) State() sensor.State {
	return p.lifecycle.State()
}

// Start runs OnStart unless the publisher is already started.
func (p *AsyncPublisher) Start(ctx context.Context) error {
	_, err := p.lifecycle.Start(ctx, p.hooks.OnStart)
	return err
}

// Stop runs OnStop unless the publisher is already stopped.
func (p *AsyncPublisher) Stop(ctx context.Context) error {
	_, err := p.lifecycle.Stop(ctx, p.hooks.OnStop)
	return err
}

// Close stops the publisher and its executor.
func (p *AsyncPublisher) Close(ctx context.Context) error {
	var err error
	if state := p.State(); state != sensor.StateUninitialized && state != sensor.StateShutdown {
		err = p.Stop(ctx)
	}
	if _, shutdownErr := p.lifecycle.Shutdown(ctx); err == nil {
		err = shutdownErr
	}
	p.mu.Lock()
	exec := p.executor
	p.executor = nil
	p.mu.Unlock()
	if exec != nil {
		exec.Close()
	}
	return err
}

// Notify queues OnNotify. It is a no-op while the publisher is not started.
func (p *AsyncPublisher) Notify(ctx context.Context, tx *transaction.Transaction, g *graph.Graph) error {
	if p.State() != sensor.StateStarted || p.hooks.OnNotify == nil {
		return nil
	}
	p.mu.Lock()
	exec := p.executor
	p.mu.Unlock()
	if exec == nil {
		return sensor.ErrShutdown
	}
	queued := exec.TryPost(func(ctx context.Context) {
		if err := p.hooks.OnNotify(ctx, tx, g); err != nil {
			p.logger.Warnw("publisher failed", "publisher", p.Name(), "error", err)
		}
	})
	if !queued {
		p.logger.Debugw("publisher queue full, dropping notification", "publisher", p.Name())
	}
	return nil
}
