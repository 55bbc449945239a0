// Package pose2d implements a sensor model for absolute planar pose measurements, such as the
// output of a localization system.
package pose2d

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/fuse/config"
	"go.viam.com/fuse/constraint"
	"go.viam.com/fuse/logging"
	"go.viam.com/fuse/loss"
	"go.viam.com/fuse/msgs"
	"go.viam.com/fuse/sensor"
	"go.viam.com/fuse/transaction"
	"go.viam.com/fuse/transport"
	fuseutils "go.viam.com/fuse/utils"
	"go.viam.com/fuse/variable"
)

// ModelType is the registered type of the pose model.
const ModelType = "pose_2d"

// Config configures the pose model.
type Config struct {
	Topic         string `json:"topic,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	DeviceID      string `json:"device_id,omitempty"`
	DisableChecks bool   `json:"disable_checks,omitempty"`
	// Loss is applied to both the position and the orientation constraint.
	Loss loss.Config `json:"loss,omitempty"`
}

// Validate fills in defaults.
func (conf *Config) Validate(path string) error {
	if conf.QueueSize < 0 {
		return utils.NewConfigValidationError(path, errors.New("queue_size must not be negative"))
	}
	if conf.QueueSize == 0 {
		conf.QueueSize = 10
	}
	if conf.Topic == "" {
		conf.Topic = "pose"
	}
	return conf.Loss.Validate(path + ".loss")
}

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
				return nil, fuseutils.NewUnexpectedTypeError(native, conf.ConvertedAttributes)
			}
			return NewModel(deps, native, logger)
		},
		AttributeMapConverter: sensor.RegisterAttributes[*Config](),
	})
}

// Model turns every pose message into absolute position and orientation constraints.
type Model struct {
	*sensor.AsyncModel
	bus  *transport.Bus
	conf *Config
	loss loss.Loss

	mu  sync.Mutex
	sub *transport.Subscription
}

// NewModel returns an uninitialized pose model.
func NewModel(deps sensor.Dependencies, conf *Config, logger logging.Logger) (*Model, error) {
	if err := conf.Validate(ModelType); err != nil {
		return nil, err
	}
	if deps.Bus == nil {
		return nil, errors.New("pose model requires a bus")
	}
	l, err := conf.Loss.Build()
	if err != nil {
		return nil, err
	}
	m := &Model{bus: deps.Bus, conf: conf, loss: l}
	m.AsyncModel = sensor.NewAsyncModel(logger, conf.QueueSize, sensor.Hooks{
		OnStart: m.onStart,
		OnStop:  m.onStop,
	})
	return m, nil
}

func (m *Model) onStart(ctx context.Context) error {
	sub, err := transport.Subscribe(m.bus, m.conf.Topic, m.conf.QueueSize,
		func(ctx context.Context, msg msgs.PoseWithCovarianceStamped) {
			if err := m.Post(ctx, func(ctx context.Context) error { return m.process(ctx, msg) }); err != nil {
				m.Logger().Debugw("dropping pose", "error", err)
			}
		})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()
	return nil
}

func (m *Model) onStop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
	return nil
}

func (m *Model) process(ctx context.Context, msg msgs.PoseWithCovarianceStamped) error {
	pose := msg.Pose.Pose
	q := pose.Orientation
	if !fuseutils.AllFinite(pose.Position.X, pose.Position.Y, q.Real, q.Imag, q.Jmag, q.Kmag) {
		return errors.New("pose must be finite")
	}
	cov := &msg.Pose.Covariance
	if err := fuseutils.ValidateCovariance("pose", cov.Sub(0, 1, 5), m.conf.DisableChecks); err != nil {
		return err
	}

	stamp := msg.Header.Stamp
	position, err := variable.NewStampedWithData(variable.Position2D, stamp, m.conf.DeviceID, pose.Position.X, pose.Position.Y)
	if err != nil {
		return err
	}
	orientation, err := variable.NewStampedWithData(variable.Orientation2D, stamp, m.conf.DeviceID, msgs.Yaw(q))
	if err != nil {
		return err
	}
	positionPrior, err := constraint.NewAbsolute(m.Name(), position, position.Data(), cov.Block(0, 1), constraint.WithLoss(m.loss))
	if err != nil {
		return err
	}
	orientationPrior, err := constraint.NewAbsolute(m.Name(), orientation, orientation.Data(), cov.Block(5), constraint.WithLoss(m.loss))
	if err != nil {
		return err
	}

	tx := transaction.NewBuilder(stamp).
		AddInvolvedStamp(stamp).
		AddVariable(position, false).
		AddVariable(orientation, false).
		AddConstraint(positionPrior, false).
		AddConstraint(orientationPrior, false).
		Build()
	return m.Emit(ctx, tx)
}
