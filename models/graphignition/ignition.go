// Package graphignition implements an ignition model that replaces the whole estimate with a
// previously recorded graph.
package graphignition

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/fuse/config"
	"go.viam.com/fuse/graph"
	"go.viam.com/fuse/logging"
	"go.viam.com/fuse/msgs"
	"go.viam.com/fuse/sensor"
	"go.viam.com/fuse/transport"
	"go.viam.com/fuse/utils"
)

// ModelType is the registered type of the graph ignition model.
const ModelType = "graph_ignition"

func init() {
	sensor.RegisterModel(ModelType, sensor.Registration{
		Constructor: func(
			ctx context.Context,
			deps sensor.Dependencies,
			conf config.Component,
			logger logging.Logger,
		) (sensor.Model, error) {
			native, ok := conf.ConvertedAttributes.(*Config)
			if !ok {
				return nil, utils.NewUnexpectedTypeError(native, conf.ConvertedAttributes)
			}
			return NewIgnition(deps, native, logger)
		},
		AttributeMapConverter: sensor.RegisterAttributes[*Config](),
	})
}

// Ignition resets the optimizer and seeds it with the content of a serialized graph received on
// its topic or through its set graph service. Like every ignition model it never waits for its
// own work in flight, so the reset it requests can stop and restart it mid-request.
type Ignition struct {
	logger     logging.Logger
	bus        *transport.Bus
	conf       *Config
	lifecycle  sensor.Lifecycle
	generation atomic.Uint64

	mu           sync.Mutex
	name         string
	callback     sensor.TransactionCallback
	executor     *utils.Executor
	subscription *transport.Subscription
	service      *transport.Service
}

// NewIgnition returns an uninitialized graph ignition model.
func NewIgnition(deps sensor.Dependencies, conf *Config, logger logging.Logger) (*Ignition, error) {
	if err := conf.Validate(ModelType); err != nil {
		return nil, err
	}
	if deps.Bus == nil {
		return nil, errors.New("graph ignition requires a bus")
	}
	return &Ignition{logger: logger, bus: deps.Bus, conf: conf}, nil
}

// Name returns the name given at Initialize.
func (m *Ignition) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Initialize wires the transaction callback and starts the executor.
func (m *Ignition) Initialize(ctx context.Context, name string, callback sensor.TransactionCallback) error {
	return m.lifecycle.Initialize(func() error {
		if callback == nil {
			return errors.New("transaction callback must not be nil")
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		m.name = name
		m.callback = callback
		m.executor = utils.NewExecutor(m.conf.QueueSize)
		return nil
	})
}

// Start subscribes to the graph topic and advertises the set graph service.
func (m *Ignition) Start(ctx context.Context) error {
	_, err := m.lifecycle.Start(ctx, func(ctx context.Context) error {
		m.generation.Inc()
		m.mu.Lock()
		defer m.mu.Unlock()
		if topic := *m.conf.Topic; topic != "" {
			sub, err := transport.Subscribe(m.bus, topic, m.conf.QueueSize, m.onGraph)
			if err != nil {
				return errors.Wrapf(err, "subscribing to %q", topic)
			}
			m.subscription = sub
		}
		if name := *m.conf.SetGraphService; name != "" {
			svc, err := transport.Advertise(m.bus, name, m.setGraph)
			if err != nil {
				m.unsubscribeLocked()
				return err
			}
			m.service = svc
		}
		return nil
	})
	return err
}

// Stop removes the subscription and service without waiting for work in flight.
func (m *Ignition) Stop(ctx context.Context) error {
	_, err := m.lifecycle.Stop(ctx, func(ctx context.Context) error {
		m.generation.Inc()
		m.mu.Lock()
		defer m.mu.Unlock()
		m.unsubscribeLocked()
		return nil
	})
	return err
}

func (m *Ignition) unsubscribeLocked() {
	if m.subscription != nil {
		m.subscription.Unsubscribe()
		m.subscription = nil
	}
	if m.service != nil {
		m.service.Unadvertise()
		m.service = nil
	}
}

// Close stops the model and its executor.
func (m *Ignition) Close(ctx context.Context) error {
	var err error
	if state := m.lifecycle.State(); state != sensor.StateUninitialized && state != sensor.StateShutdown {
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

func (m *Ignition) onGraph(ctx context.Context, msg msgs.SerializedGraph) {
	if _, err := m.process(ctx, msg); err != nil {
		m.logger.Warnw("rejected graph message", "error", err)
	}
}

func (m *Ignition) setGraph(ctx context.Context, req msgs.SetGraphRequest) (msgs.SetGraphResponse, error) {
	result, err := m.process(ctx, req.Graph)
	if err != nil {
		return msgs.SetGraphResponse{Message: err.Error()}, nil
	}
	outcome, err := result.Wait(ctx)
	if err != nil {
		return msgs.SetGraphResponse{Message: err.Error()}, nil
	}
	if outcome != nil {
		return msgs.SetGraphResponse{Message: outcome.Error()}, nil
	}
	return msgs.SetGraphResponse{Success: true}, nil
}

// process decodes and checks the graph, resets the optimizer and queues the seeding job.
func (m *Ignition) process(ctx context.Context, msg msgs.SerializedGraph) (*utils.OneShot[error], error) {
	if m.lifecycle.State() != sensor.StateStarted {
		return nil, sensor.ErrNotStarted
	}
	g, err := graph.Deserialize(msg.Data)
	if err != nil {
		return nil, err
	}
	if g.Empty() {
		return nil, errors.New("refusing to seed with an empty graph")
	}

	if reset := *m.conf.ResetService; reset != "" {
		if _, err := transport.Call[msgs.ResetRequest, msgs.ResetResponse](ctx, m.bus, reset, msgs.ResetRequest{}); err != nil {
			return nil, errors.Wrapf(err, "resetting the optimizer via %q", reset)
		}
	}

	m.mu.Lock()
	exec := m.executor
	m.mu.Unlock()
	if exec == nil {
		return nil, sensor.ErrShutdown
	}
	generation := m.generation.Load()
	result := utils.NewOneShot[error]()
	// A topic delivery context is canceled by the reset above.
	if err := exec.Post(context.WithoutCancel(ctx), func(ctx context.Context) {
		err := m.sendGraph(ctx, generation, g, msg.Header.Stamp)
		if err != nil {
			m.logger.Warnw("failed to send graph", "error", err)
		}
		result.Set(err)
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// sendGraph hands the callback a transaction that adds every variable and constraint of g.
func (m *Ignition) sendGraph(ctx context.Context, generation uint64, g *graph.Graph, stamp time.Time) error {
	if m.lifecycle.State() != sensor.StateStarted || m.generation.Load() != generation {
		return errors.New("model stopped before the graph was sent")
	}
	tx := g.AsTransaction(stamp)
	m.logger.Debugw("sending graph", "stamp", stamp, "variables", g.NumVariables(), "constraints", g.NumConstraints())
	return m.callback(ctx, tx)
}
