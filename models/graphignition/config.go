package graphignition

import (
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

const (
	defaultSetGraphService = "set_graph"
	defaultTopic           = "graph"
	defaultResetService    = "reset"
	defaultQueueSize       = 10
)

// Config is the native configuration of the graph ignition model. An explicit empty name
// disables that entry point; an absent one selects the default.
type Config struct {
	SetGraphService *string `json:"set_graph_service,omitempty"`
	Topic           *string `json:"topic,omitempty"`
	ResetService    *string `json:"reset_service,omitempty"`
	QueueSize       int     `json:"queue_size,omitempty"`
}

// Validate checks the configuration and fills in defaults.
func (conf *Config) Validate(path string) error {
	if conf.QueueSize < 0 {
		return utils.NewConfigValidationError(path, errors.New("queue_size must not be negative"))
	}
	if conf.QueueSize == 0 {
		conf.QueueSize = defaultQueueSize
	}
	conf.SetGraphService = withDefault(conf.SetGraphService, defaultSetGraphService)
	conf.Topic = withDefault(conf.Topic, defaultTopic)
	conf.ResetService = withDefault(conf.ResetService, defaultResetService)
	if *conf.ResetService != "" && *conf.ResetService == *conf.SetGraphService {
		return utils.NewConfigValidationError(path,
			errors.Errorf("reset_service and set_graph_service are both %q", *conf.ResetService))
	}
	return nil
}

func withDefault(value *string, def string) *string {
	if value != nil {
		return value
	}
	return &def
}
