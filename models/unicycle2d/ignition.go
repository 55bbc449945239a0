// Package unicycle2d implements the ignition model of a planar unicycle: it seeds the graph with
// a pose, velocity and acceleration prior, either from its configuration on startup or on request.
package unicycle2d

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/fuse/config"
	"go.viam.com/fuse/constraint"
	"go.viam.com/fuse/logging"
	"go.viam.com/fuse/msgs"
	"go.viam.com/fuse/sensor"
	"go.viam.com/fuse/transaction"
	"go.viam.com/fuse/transport"
	"go.viam.com/fuse/utils"
	"go.viam.com/fuse/variable"
)

// ModelType is the registered type of the unicycle ignition model.
const ModelType = "unicycle_2d_ignition"

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

// Ignition seeds the graph with a full unicycle state. It does not use sensor.AsyncModel: a
// reset requested by this model stops and restarts it while the request is still being served,
// so Stop only removes the entry points and never waits for work in flight.
type Ignition struct {
	logger    logging.Logger
	bus       *transport.Bus
	clock     clock.Clock
	conf      *Config
	lifecycle sensor.Lifecycle

	// generation changes on every Start and Stop. A seeding job emits only if it still matches.
	generation      atomic.Uint64
	seededOnStartup atomic.Bool

	name     string
	callback sensor.TransactionCallback
	executor *utils.Executor

	mu           sync.Mutex
	subscription *transport.Subscription
	services     []*transport.Service
}

// NewIgnition returns an uninitialized ignition model.
func NewIgnition(deps sensor.Dependencies, conf *Config, logger logging.Logger) (*Ignition, error) {
	if err := conf.Validate(ModelType); err != nil {
		return nil, err
	}
	if deps.Bus == nil {
		return nil, errors.New("unicycle ignition requires a bus")
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Ignition{logger: logger, bus: deps.Bus, clock: clk, conf: conf}, nil
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

// Start subscribes to the pose topic, advertises the set pose services and, the first time only,
// sends the configured initial state when publish_on_startup is set.
func (m *Ignition) Start(ctx context.Context) error {
	var generation uint64
	changed, err := m.lifecycle.Start(ctx, func(ctx context.Context) error {
		generation = m.generation.Inc()
		if err := m.subscribe(); err != nil {
			m.unsubscribe()
			return err
		}
		return nil
	})
	if err != nil || !changed {
		return err
	}

	if *m.conf.PublishOnStartup && m.seededOnStartup.CompareAndSwap(false, true) {
		seed := m.initialPrior(m.clock.Now())
		if _, err := m.post(ctx, generation, seed); err != nil {
			return errors.Wrap(err, "sending the initial state")
		}
	}
	return nil
}

// Stop removes the subscription and services. It does not wait for seeding in flight; a seeding
// job that finds the model stopped drops its transaction.
func (m *Ignition) Stop(ctx context.Context) error {
	_, err := m.lifecycle.Stop(ctx, func(ctx context.Context) error {
		m.generation.Inc()
		m.unsubscribe()
		return nil
	})
	return err
}

// Close stops the model and its executor. It must not be called from the transaction callback.
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

func (m *Ignition) subscribe() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if topic := *m.conf.Topic; topic != "" {
		sub, err := transport.Subscribe(m.bus, topic, m.conf.QueueSize, m.onPose)
		if err != nil {
			return errors.Wrapf(err, "subscribing to %q", topic)
		}
		m.subscription = sub
	}
	if name := *m.conf.SetPoseService; name != "" {
		svc, err := transport.Advertise(m.bus, name, m.setPose)
		if err != nil {
			return err
		}
		m.services = append(m.services, svc)
	}
	if name := *m.conf.SetPoseDeprecatedService; name != "" {
		svc, err := transport.Advertise(m.bus, name, m.setPoseDeprecated)
		if err != nil {
			return err
		}
		m.services = append(m.services, svc)
	}
	return nil
}

func (m *Ignition) unsubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscription != nil {
		m.subscription.Unsubscribe()
		m.subscription = nil
	}
	for _, svc := range m.services {
		svc.Unadvertise()
	}
	m.services = nil
}

func (m *Ignition) onPose(ctx context.Context, pose msgs.PoseWithCovarianceStamped) {
	if _, err := m.process(ctx, msgs.SetPoseRequest{Pose: pose}); err != nil {
		m.logger.Warnw("rejected pose message", "error", err)
	}
}

func (m *Ignition) setPose(ctx context.Context, req msgs.SetPoseRequest) (msgs.SetPoseResponse, error) {
	result, err := m.process(ctx, req)
	if err != nil {
		return msgs.SetPoseResponse{Message: err.Error()}, nil
	}
	outcome, err := result.Wait(ctx)
	if err != nil {
		return msgs.SetPoseResponse{Message: err.Error()}, nil
	}
	if outcome != nil {
		return msgs.SetPoseResponse{Message: outcome.Error()}, nil
	}
	return msgs.SetPoseResponse{Success: true}, nil
}

func (m *Ignition) setPoseDeprecated(
	ctx context.Context,
	req msgs.SetPoseDeprecatedRequest,
) (msgs.SetPoseDeprecatedResponse, error) {
	resp, err := m.setPose(ctx, msgs.SetPoseRequest{Pose: req.Pose})
	if err == nil && !resp.Success {
		m.logger.Warnw("rejected deprecated set pose request", "error", resp.Message)
	}
	return msgs.SetPoseDeprecatedResponse{}, nil
}

// process validates a request, resets the optimizer and queues the seeding job. The returned slot
// receives the outcome of handing the seeding transaction to the callback.
func (m *Ignition) process(ctx context.Context, req msgs.SetPoseRequest) (*utils.OneShot[error], error) {
	if m.lifecycle.State() != sensor.StateStarted {
		return nil, sensor.ErrNotStarted
	}
	seed, err := m.priorFromRequest(req)
	if err != nil {
		return nil, err
	}

	if reset := *m.conf.ResetService; reset != "" {
		if _, err := transport.Call[msgs.ResetRequest, msgs.ResetResponse](ctx, m.bus, reset, msgs.ResetRequest{}); err != nil {
			return nil, errors.Wrapf(err, "resetting the optimizer via %q", reset)
		}
	}
	// The reset stopped this model, which cancels the context of a topic delivery. The seeding
	// job must still be queued.
	return m.post(context.WithoutCancel(ctx), m.generation.Load(), seed)
}

func (m *Ignition) post(ctx context.Context, generation uint64, seed prior) (*utils.OneShot[error], error) {
	m.mu.Lock()
	exec := m.executor
	m.mu.Unlock()
	if exec == nil {
		return nil, sensor.ErrShutdown
	}
	result := utils.NewOneShot[error]()
	err := exec.Post(ctx, func(ctx context.Context) {
		err := m.sendPrior(ctx, generation, seed)
		if err != nil {
			m.logger.Warnw("failed to send the initial state", "error", err)
		}
		result.Set(err)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// prior is a full unicycle state with the covariance of each part.
type prior struct {
	stamp time.Time

	position           []float64
	positionCov        *mat.SymDense
	yaw                float64
	yawCov             *mat.SymDense
	linearVelocity     []float64
	linearVelocityCov  *mat.SymDense
	angularVelocity    float64
	angularVelocityCov *mat.SymDense
	linearAccel        []float64
	linearAccelCov     *mat.SymDense
}

func (m *Ignition) initialPrior(stamp time.Time) prior {
	state, sigma := m.conf.InitialState, m.conf.InitialSigma
	return prior{
		stamp:              stamp,
		position:           []float64{state[0], state[1]},
		positionCov:        utils.DiagonalFromSigmas(sigma[0], sigma[1]),
		yaw:                state[2],
		yawCov:             utils.DiagonalFromSigmas(sigma[2]),
		linearVelocity:     []float64{state[3], state[4]},
		linearVelocityCov:  utils.DiagonalFromSigmas(sigma[3], sigma[4]),
		angularVelocity:    state[5],
		angularVelocityCov: utils.DiagonalFromSigmas(sigma[5]),
		linearAccel:        []float64{state[6], state[7]},
		linearAccelCov:     utils.DiagonalFromSigmas(sigma[6], sigma[7]),
	}
}

// priorFromRequest validates a request and fills what it leaves out from the configured initial
// state. Only the x, y and yaw parts of the 6x6 covariances are used.
func (m *Ignition) priorFromRequest(req msgs.SetPoseRequest) (prior, error) {
	stamp := req.Pose.Header.Stamp
	if stamp.IsZero() {
		stamp = m.clock.Now()
	}
	seed := m.initialPrior(stamp)

	pose := req.Pose.Pose.Pose
	q := pose.Orientation
	if !utils.AllFinite(pose.Position.X, pose.Position.Y, q.Real, q.Imag, q.Jmag, q.Kmag) {
		return prior{}, errors.New("pose must be finite")
	}
	if math.Abs(q.Real)+math.Abs(q.Imag)+math.Abs(q.Jmag)+math.Abs(q.Kmag) == 0 {
		return prior{}, errors.New("pose orientation must not be the zero quaternion")
	}
	cov := &req.Pose.Pose.Covariance
	if err := utils.ValidateCovariance("pose", cov.Sub(0, 1, 5), m.conf.DisableChecks); err != nil {
		return prior{}, err
	}
	seed.position = []float64{pose.Position.X, pose.Position.Y}
	seed.positionCov = cov.Block(0, 1)
	seed.yaw = msgs.Yaw(q)
	seed.yawCov = cov.Block(5)

	if twist := req.Twist; twist != nil {
		if !utils.AllFinite(twist.Twist.Linear.X, twist.Twist.Linear.Y, twist.Twist.Angular.Z) {
			return prior{}, errors.New("twist must be finite")
		}
		if err := utils.ValidateCovariance("twist", twist.Covariance.Sub(0, 1, 5), m.conf.DisableChecks); err != nil {
			return prior{}, err
		}
		seed.linearVelocity = []float64{twist.Twist.Linear.X, twist.Twist.Linear.Y}
		seed.linearVelocityCov = twist.Covariance.Block(0, 1)
		seed.angularVelocity = twist.Twist.Angular.Z
		seed.angularVelocityCov = twist.Covariance.Block(5)
	}
	if accel := req.Accel; accel != nil {
		if !utils.AllFinite(accel.Accel.Linear.X, accel.Accel.Linear.Y) {
			return prior{}, errors.New("acceleration must be finite")
		}
		if err := utils.ValidateCovariance("acceleration", accel.Covariance.Sub(0, 1), m.conf.DisableChecks); err != nil {
			return prior{}, err
		}
		seed.linearAccel = []float64{accel.Accel.Linear.X, accel.Accel.Linear.Y}
		seed.linearAccelCov = accel.Covariance.Block(0, 1)
	}
	return seed, nil
}

// sendPrior builds the seeding transaction and hands it to the callback.
func (m *Ignition) sendPrior(ctx context.Context, generation uint64, seed prior) error {
	if m.lifecycle.State() != sensor.StateStarted || m.generation.Load() != generation {
		return errors.New("model stopped before the initial state was sent")
	}

	tx, err := m.seedTransaction(seed)
	if err != nil {
		return err
	}
	m.logger.Debugw("sending initial state", "stamp", seed.stamp, "x", seed.position[0], "y", seed.position[1], "yaw", seed.yaw)
	return m.callback(ctx, tx)
}

func (m *Ignition) seedTransaction(seed prior) (*transaction.Transaction, error) {
	b := transaction.NewBuilder(seed.stamp).AddInvolvedStamp(seed.stamp)
	parts := []struct {
		kind variable.Kind
		mean []float64
		cov  *mat.SymDense
	}{
		{variable.Position2D, seed.position, seed.positionCov},
		{variable.Orientation2D, []float64{seed.yaw}, seed.yawCov},
		{variable.VelocityLinear2D, seed.linearVelocity, seed.linearVelocityCov},
		{variable.VelocityAngular2D, []float64{seed.angularVelocity}, seed.angularVelocityCov},
		{variable.AccelerationLinear2D, seed.linearAccel, seed.linearAccelCov},
	}
	for _, part := range parts {
		v, err := variable.NewStampedWithData(part.kind, seed.stamp, m.conf.DeviceID, part.mean...)
		if err != nil {
			return nil, err
		}
		c, err := constraint.NewAbsolute(m.Name(), v, part.mean, part.cov)
		if err != nil {
			return nil, errors.Wrapf(err, "%s prior", part.kind.Name)
		}
		b.AddVariable(v, false).AddConstraint(c, false)
	}
	return b.Build(), nil
}
