package unicycle2d

import (
	"github.com/pkg/errors"
	"go.viam.com/utils"

	fuseutils "go.viam.com/fuse/utils"
)

// StateSize is the length of initial_state and initial_sigma:
// x, y, yaw, vx, vy, vyaw, ax, ay.
const StateSize = 8

const (
	defaultSetPoseService           = "set_pose"
	defaultSetPoseDeprecatedService = "set_pose_deprecated"
	defaultResetService             = "reset"
	defaultTopic                    = "set_pose"
	defaultQueueSize                = 10
	defaultSigma                    = 1e-9
)

// Config is the native configuration of the unicycle ignition model. Service and topic names are
// pointers so that an explicit empty string, which disables that entry point, can be told apart
// from an absent key, which selects the default.
type Config struct {
	InitialState             []float64 `json:"initial_state,omitempty"`
	InitialSigma             []float64 `json:"initial_sigma,omitempty"`
	PublishOnStartup         *bool     `json:"publish_on_startup,omitempty"`
	SetPoseService           *string   `json:"set_pose_service,omitempty"`
	SetPoseDeprecatedService *string   `json:"set_pose_deprecated_service,omitempty"`
	ResetService             *string   `json:"reset_service,omitempty"`
	Topic                    *string   `json:"topic,omitempty"`
	QueueSize                int       `json:"queue_size,omitempty"`
	DisableChecks            bool      `json:"disable_checks,omitempty"`
	DeviceID                 string    `json:"device_id,omitempty"`
}

// Validate checks the configuration and fills in defaults.
func (conf *Config) Validate(path string) error {
	if conf.InitialState == nil {
		conf.InitialState = make([]float64, StateSize)
	}
	if conf.InitialSigma == nil {
		conf.InitialSigma = make([]float64, StateSize)
		for i := range conf.InitialSigma {
			conf.InitialSigma[i] = defaultSigma
		}
	}
	if len(conf.InitialState) != StateSize {
		return utils.NewConfigValidationError(path,
			fuseutils.NewDimensionMismatchError("initial_state", StateSize, len(conf.InitialState)))
	}
	if len(conf.InitialSigma) != StateSize {
		return utils.NewConfigValidationError(path,
			fuseutils.NewDimensionMismatchError("initial_sigma", StateSize, len(conf.InitialSigma)))
	}
	if !fuseutils.AllFinite(conf.InitialState...) {
		return utils.NewConfigValidationError(path, errors.New("initial_state must be finite"))
	}
	for _, sigma := range conf.InitialSigma {
		if !fuseutils.AllFinite(sigma) || sigma <= 0 {
			return utils.NewConfigValidationError(path, errors.New("initial_sigma entries must be finite and positive"))
		}
	}
	if conf.QueueSize < 0 {
		return utils.NewConfigValidationError(path, errors.New("queue_size must not be negative"))
	}
	if conf.QueueSize == 0 {
		conf.QueueSize = defaultQueueSize
	}
	conf.PublishOnStartup = withDefault(conf.PublishOnStartup, true)
	conf.SetPoseService = withDefault(conf.SetPoseService, defaultSetPoseService)
	conf.SetPoseDeprecatedService = withDefault(conf.SetPoseDeprecatedService, defaultSetPoseDeprecatedService)
	conf.ResetService = withDefault(conf.ResetService, defaultResetService)
	conf.Topic = withDefault(conf.Topic, defaultTopic)

	if *conf.SetPoseService != "" && *conf.SetPoseService == *conf.SetPoseDeprecatedService {
		return utils.NewConfigValidationError(path,
			errors.Errorf("set_pose_service and set_pose_deprecated_service are both %q", *conf.SetPoseService))
	}
	if *conf.ResetService != "" &&
		(*conf.ResetService == *conf.SetPoseService || *conf.ResetService == *conf.SetPoseDeprecatedService) {
		return utils.NewConfigValidationError(path,
			errors.Errorf("reset_service %q must differ from the set pose services", *conf.ResetService))
	}
	return nil
}

func withDefault[T any](value *T, def T) *T {
	if value != nil {
		return value
	}
	return &def
}
