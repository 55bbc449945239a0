package sensor

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/fuse/graph"
	"go.viam.com/fuse/logging"
	"go.viam.com/fuse/transaction"
	"go.viam.com/fuse/utils"
)

// Hooks are the parts of a model that differ between model types. All of them are optional.
type Hooks struct {
	// OnInit runs once during Initialize, after the callback is wired. An error aborts
	// initialization.
	OnInit func(ctx context.Context) error
	// OnStart subscribes to inputs. It runs outside of any lifecycle lock, but never concurrently
	// with OnStop.
	OnStart func(ctx context.Context) error
	// OnStop unsubscribes from inputs. It runs outside of any lifecycle lock.
	OnStop func(ctx context.Context) error
	// OnGraphUpdate runs on the model's executor after every optimization pass.
	OnGraphUpdate func(ctx context.Context, g *graph.Graph)
}

// AsyncModel implements the Model lifecycle for models that process their inputs one at a time on
// a private executor. Concrete models embed it and supply Hooks.
type AsyncModel struct {
	logger    logging.Logger
	queueSize int
	hooks     Hooks
	lifecycle Lifecycle

	mu       sync.Mutex
	name     string
	callback TransactionCallback
	executor *utils.Executor

	// emitMu is held for reading by every in-flight emission; Stop takes it for writing to wait
	// for them.
	emitMu sync.RWMutex
}

// NewAsyncModel returns an uninitialized model whose executor will queue up to queueSize inputs.
func NewAsyncModel(logger logging.Logger, queueSize int, hooks Hooks) *AsyncModel {
	return &AsyncModel{logger: logger, queueSize: queueSize, hooks: hooks}
}

// Name returns the name given at Initialize.
func (m *AsyncModel) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Logger returns the model's logger.
func (m *AsyncModel) Logger() logging.Logger {
	return m.logger
}

// State returns the current lifecycle state.
func (m *AsyncModel) State() State {
	return m.lifecycle.State()
}

// Initialize wires the transaction callback and runs OnInit.
func (m *AsyncModel) Initialize(ctx context.Context, name string, callback TransactionCallback) error {
	return m.lifecycle.Initialize(func() error {
		if callback == nil {
			return errors.New("transaction callback must not be nil")
		}
		exec := utils.NewExecutor(m.queueSize)
		m.mu.Lock()
		m.name = name
		m.callback = callback
		m.executor = exec
		m.mu.Unlock()
		if m.hooks.OnInit == nil {
			return nil
		}
		if err := m.hooks.OnInit(ctx); err != nil {
			m.mu.Lock()
			m.executor = nil
			m.mu.Unlock()
			exec.Close()
			return errors.Wrapf(err, "initializing sensor model %q", name)
		}
		return nil
	})
}

// Start runs OnStart unless the model is already started. A Start that overlaps a Stop waits for
// it, so OnStart and OnStop never run concurrently.
func (m *AsyncModel) Start(ctx context.Context) error {
	_, err := m.lifecycle.Start(ctx, m.wrapHook(m.hooks.OnStart, "starting"))
	return err
}

// Stop runs OnStop unless the model is already stopped, then waits for emissions in flight.
func (m *AsyncModel) Stop(ctx context.Context) error {
	changed, err := m.lifecycle.Stop(ctx, m.wrapHook(m.hooks.OnStop, "stopping"))
	if changed {
		m.emitMu.Lock()
		//nolint:staticcheck
		m.emitMu.Unlock()
	}
	return err
}

func (m *AsyncModel) wrapHook(hook func(ctx context.Context) error, verb string) func(ctx context.Context) error {
	if hook == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return errors.Wrapf(hook(ctx), "%s sensor model %q", verb, m.Name())
	}
}

// Close stops the model and its executor. Inputs still queued are discarded.
func (m *AsyncModel) Close(ctx context.Context) error {
	var err error
	if m.State() != StateUninitialized && m.State() != StateShutdown {
		err = m.Stop(ctx)
	}
	if _, shutdownErr := m.lifecycle.Shutdown(ctx); err == nil {
		err = shutdownErr
	}

	m.mu.Lock()
	exec := m.executor
	m.executor = nil
	m.mu.Unlock()

	if exec != nil {
		exec.Close()
	}
	return err
}

// Post queues work on the model's executor. Errors and panics from the work are logged and do
// not stop the model.
func (m *AsyncModel) Post(ctx context.Context, work func(ctx context.Context) error) error {
	m.mu.Lock()
	exec := m.executor
	m.mu.Unlock()
	if exec == nil {
		if m.State() == StateShutdown {
			return ErrShutdown
		}
		return ErrNotInitialized
	}
	return exec.Post(ctx, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Errorw("sensor model input handler panicked", "model", m.Name(), "panic", r)
			}
		}()
		if err := work(ctx); err != nil {
			m.logger.Warnw("sensor model failed to process input", "model", m.Name(), "error", err)
		}
	})
}

// Emit hands a transaction to the callback. It fails with ErrNotStarted once Stop has begun.
func (m *AsyncModel) Emit(ctx context.Context, tx *transaction.Transaction) error {
	m.emitMu.RLock()
	defer m.emitMu.RUnlock()
	if state := m.State(); state != StateStarted && state != StateStarting {
		return ErrNotStarted
	}
	m.mu.Lock()
	callback := m.callback
	m.mu.Unlock()
	return callback(ctx, tx)
}

// GraphUpdated posts OnGraphUpdate to the executor while the model is started.
func (m *AsyncModel) GraphUpdated(ctx context.Context, g *graph.Graph) {
	if m.hooks.OnGraphUpdate == nil || m.State() != StateStarted {
		return
	}
	if err := m.Post(ctx, func(ctx context.Context) error {
		m.hooks.OnGraphUpdate(ctx, g)
		return nil
	}); err != nil {
		m.logger.Debugw("dropping graph update", "model", m.Name(), "error", err)
	}
}
