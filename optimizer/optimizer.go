// Package optimizer owns the graph: it applies the transactions produced by sensor models,
// periodically runs a solver over the graph and notifies publishers with the result.
package optimizer

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"go.viam.com/fuse/config"
	"go.viam.com/fuse/graph"
	"go.viam.com/fuse/logging"
	"go.viam.com/fuse/msgs"
	"go.viam.com/fuse/publisher"
	"go.viam.com/fuse/sensor"
	"go.viam.com/fuse/transaction"
	"go.viam.com/fuse/transport"
	"go.viam.com/fuse/utils"
	"go.viam.com/fuse/variable"
)

// A Solver adjusts the values of the graph's variables to best satisfy its constraints, using
// Graph.SetValues.
type Solver interface {
	Optimize(ctx context.Context, g *graph.Graph) error
}

// NopSolver leaves the graph untouched.
type NopSolver struct{}

// Optimize does nothing.
func (NopSolver) Optimize(ctx context.Context, g *graph.Graph) error {
	return nil
}

type namedModel struct {
	name  string
	model sensor.Model
}

type namedPublisher struct {
	name      string
	publisher publisher.Publisher
}

// Orchestrator owns one graph and the sensor models and publishers attached to it.
type Orchestrator struct {
	logger   logging.Logger
	bus      *transport.Bus
	clock    clock.Clock
	conf     config.OptimizerConfig
	solver   Solver
	registry *prometheus.Registry
	metrics  *metrics

	// mu guards the graph, the stamp index and the pending transaction together, so that
	// transactions are never applied during an optimization pass.
	mu         sync.Mutex
	graph      *graph.Graph
	stampIndex *graph.StampIndex
	pending    *transaction.Builder
	dirty      bool

	// resetMu serializes resets.
	resetMu sync.Mutex

	componentsMu sync.Mutex
	models       []namedModel
	publishers   []namedPublisher

	lifecycle    sensor.Lifecycle
	resetService *transport.Service
	workers      *utils.Workers
}

// New returns a stopped orchestrator with an empty graph.
func New(logger logging.Logger, deps sensor.Dependencies, conf config.OptimizerConfig, solver Solver) (*Orchestrator, error) {
	if err := conf.Validate("optimizer"); err != nil {
		return nil, err
	}
	if deps.Bus == nil {
		return nil, errors.New("optimizer requires a bus")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if solver == nil {
		solver = NopSolver{}
	}
	registry := prometheus.NewRegistry()
	o := &Orchestrator{
		logger:     logger,
		bus:        deps.Bus,
		clock:      deps.Clock,
		conf:       conf,
		solver:     solver,
		registry:   registry,
		metrics:    newMetrics(registry),
		graph:      graph.New(),
		stampIndex: graph.NewStampIndex(),
		pending:    transaction.NewBuilder(time.Time{}),
	}
	if err := o.lifecycle.Initialize(nil); err != nil {
		return nil, err
	}
	return o, nil
}

// Registry returns the registry holding the orchestrator's metrics.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}

// RegisterModel initializes the model with the orchestrator's transaction callback. An
// initialization failure is returned as is; callers treat it as fatal.
func (o *Orchestrator) RegisterModel(ctx context.Context, name string, model sensor.Model) error {
	o.componentsMu.Lock()
	for _, existing := range o.models {
		if existing.name == name {
			o.componentsMu.Unlock()
			return errors.Errorf("sensor model %q is already registered", name)
		}
	}
	o.componentsMu.Unlock()

	if err := model.Initialize(ctx, name, o.processTransaction); err != nil {
		return err
	}
	o.componentsMu.Lock()
	o.models = append(o.models, namedModel{name: name, model: model})
	o.componentsMu.Unlock()

	if o.running() {
		return model.Start(ctx)
	}
	return nil
}

// RegisterPublisher initializes the publisher and adds it to the set notified after every pass.
func (o *Orchestrator) RegisterPublisher(ctx context.Context, name string, pub publisher.Publisher) error {
	if err := pub.Initialize(ctx, name); err != nil {
		return err
	}
	o.componentsMu.Lock()
	o.publishers = append(o.publishers, namedPublisher{name: name, publisher: pub})
	o.componentsMu.Unlock()

	if o.running() {
		return pub.Start(ctx)
	}
	return nil
}

func (o *Orchestrator) snapshotComponents() ([]namedModel, []namedPublisher) {
	o.componentsMu.Lock()
	defer o.componentsMu.Unlock()
	return append([]namedModel(nil), o.models...), append([]namedPublisher(nil), o.publishers...)
}

// running reports whether the orchestrator is started or starting.
func (o *Orchestrator) running() bool {
	state := o.lifecycle.State()
	return state == sensor.StateStarted || state == sensor.StateStarting
}

// Start advertises the reset service, starts every publisher and model and begins optimizing.
// Component start failures are returned combined, but the orchestrator stays started.
func (o *Orchestrator) Start(ctx context.Context) error {
	var componentErr error
	_, err := o.lifecycle.Start(ctx, func(ctx context.Context) error {
		svc, err := transport.Advertise(o.bus, o.conf.ResetService,
			func(ctx context.Context, req msgs.ResetRequest) (msgs.ResetResponse, error) {
				return msgs.ResetResponse{}, o.Reset(ctx)
			})
		if err != nil {
			return errors.Wrap(err, "advertising the reset service")
		}
		o.resetService = svc

		models, publishers := o.snapshotComponents()
		for _, p := range publishers {
			componentErr = multierr.Combine(componentErr, errors.Wrapf(p.publisher.Start(ctx), "starting publisher %q", p.name))
		}
		for _, m := range models {
			componentErr = multierr.Combine(componentErr, errors.Wrapf(m.model.Start(ctx), "starting sensor model %q", m.name))
		}
		o.workers = utils.NewWorkers(o.optimizationLoop)
		return nil
	})
	return multierr.Combine(err, componentErr)
}

func (o *Orchestrator) optimizationLoop(ctx context.Context) {
	ticker := o.clock.Ticker(o.conf.OptimizationPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := o.Optimize(ctx); err != nil {
			o.logger.Warnw("optimization pass failed", "error", err)
		}
	}
}

// Stop stops the optimization loop, every model and every publisher.
func (o *Orchestrator) Stop(ctx context.Context) error {
	var componentErr error
	_, err := o.lifecycle.Stop(ctx, func(ctx context.Context) error {
		if o.workers != nil {
			o.workers.Stop()
			o.workers = nil
		}
		o.resetService.Unadvertise()
		o.resetService = nil

		// A reset in progress must not restart models after they are stopped here.
		o.resetMu.Lock()
		defer o.resetMu.Unlock()
		models, publishers := o.snapshotComponents()
		for _, m := range models {
			componentErr = multierr.Combine(componentErr, errors.Wrapf(m.model.Stop(ctx), "stopping sensor model %q", m.name))
		}
		for _, p := range publishers {
			componentErr = multierr.Combine(componentErr, errors.Wrapf(p.publisher.Stop(ctx), "stopping publisher %q", p.name))
		}
		return nil
	})
	return multierr.Combine(err, componentErr)
}

// Close stops the orchestrator and closes every model and publisher.
func (o *Orchestrator) Close(ctx context.Context) error {
	err := o.Stop(ctx)
	models, publishers := o.snapshotComponents()
	for _, m := range models {
		err = multierr.Combine(err, errors.Wrapf(m.model.Close(ctx), "closing sensor model %q", m.name))
	}
	for _, p := range publishers {
		err = multierr.Combine(err, errors.Wrapf(p.publisher.Close(ctx), "closing publisher %q", p.name))
	}
	return err
}

// processTransaction is the callback handed to every sensor model. It applies the transaction
// before returning, so the caller observes the outcome.
func (o *Orchestrator) processTransaction(ctx context.Context, tx *transaction.Transaction) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.graph.Apply(tx); err != nil {
		o.metrics.rejected.Inc()
		o.logger.Warnw("rejected transaction", "stamp", tx.Stamp(), "error", err)
		return err
	}
	o.stampIndex.AddNewTransaction(tx)
	o.pending.Merge(tx, true)
	o.dirty = true
	o.metrics.applied.Inc()
	o.updateGaugesLocked()
	return nil
}

func (o *Orchestrator) updateGaugesLocked() {
	o.metrics.variables.Set(float64(o.graph.NumVariables()))
	o.metrics.constraints.Set(float64(o.graph.NumConstraints()))
}

// Optimize runs one pass of the solver if anything changed since the last pass, then notifies
// publishers and models with a copy of the graph.
func (o *Orchestrator) Optimize(ctx context.Context) error {
	o.mu.Lock()
	if !o.dirty {
		o.mu.Unlock()
		return nil
	}
	solveErr := o.solver.Optimize(ctx, o.graph)
	tx := o.pending.Build()
	o.pending = transaction.NewBuilder(time.Time{})
	o.dirty = false
	snapshot := o.graph.Clone()
	o.mu.Unlock()

	err := errors.Wrap(solveErr, "solver")
	models, publishers := o.snapshotComponents()
	for _, p := range publishers {
		err = multierr.Combine(err, errors.Wrapf(p.publisher.Notify(ctx, tx, snapshot), "notifying publisher %q", p.name))
	}
	for _, m := range models {
		if updater, ok := m.model.(sensor.GraphUpdater); ok {
			updater.GraphUpdated(ctx, snapshot)
		}
	}
	return err
}

// Reset stops every model, clears the graph and starts the models again. It returns once the
// models have restarted. Models that were started before the reset are restarted only if the
// orchestrator is running. Reset must not be called from inside a transaction emission of an
// AsyncModel, whose Stop waits for that emission.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.resetMu.Lock()
	defer o.resetMu.Unlock()

	var err error
	models, _ := o.snapshotComponents()
	for _, m := range models {
		err = multierr.Combine(err, errors.Wrapf(m.model.Stop(ctx), "stopping sensor model %q", m.name))
	}

	o.mu.Lock()
	o.graph.Clear()
	o.stampIndex.Clear()
	o.pending = transaction.NewBuilder(time.Time{})
	o.dirty = false
	o.updateGaugesLocked()
	o.mu.Unlock()

	if o.running() {
		for _, m := range models {
			err = multierr.Combine(err, errors.Wrapf(m.model.Start(ctx), "starting sensor model %q", m.name))
		}
	}
	o.metrics.resets.Inc()
	o.logger.Infow("estimate reset", "models", len(models))
	return err
}

// Graph returns a copy of the current graph.
func (o *Orchestrator) Graph() *graph.Graph {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.graph.Clone()
}

// CurrentStamp returns the newest stamp seen among the graph's stamped variables.
func (o *Orchestrator) CurrentStamp() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stampIndex.CurrentStamp()
}

// VariablesBefore returns the variables whose time, including the time of the variables they
// are constrained with, is before stamp. They are the candidates for marginalization.
func (o *Orchestrator) VariablesBefore(stamp time.Time) []variable.Variable {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := o.stampIndex.Query(stamp)
	vars := make([]variable.Variable, 0, len(ids))
	for _, id := range ids {
		if v, err := o.graph.Variable(id); err == nil {
			vars = append(vars, v)
		}
	}
	return vars
}
