package sensor

import (
	"context"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/fuse/config"
	"go.viam.com/fuse/logging"
	"go.viam.com/fuse/transport"
)

// Dependencies are the shared facilities a model is constructed with.
type Dependencies struct {
	Bus   *transport.Bus
	Clock clock.Clock
}

type (
	// A Constructor builds a model from its configuration. conf.ConvertedAttributes holds the
	// output of the registration's AttributeMapConverter.
	Constructor func(ctx context.Context, deps Dependencies, conf config.Component, logger logging.Logger) (Model, error)

	// An AttributeMapConverter decodes a component's attributes into the model's native config.
	AttributeMapConverter func(attributes config.AttributeMap) (interface{}, error)
)

// A Registration stores how to build one model type.
type Registration struct {
	Constructor           Constructor
	AttributeMapConverter AttributeMapConverter
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Registration{}
)

// RegisterModel registers a model type. It panics on a duplicate type or a missing constructor.
func RegisterModel(modelType string, reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, old := registry[modelType]; old {
		panic(errors.Errorf("trying to register two sensor models with the same type %q", modelType))
	}
	if reg.Constructor == nil {
		panic(errors.Errorf("cannot register sensor model %q with nil constructor", modelType))
	}
	registry[modelType] = reg
}

// RegisterAttributes builds an AttributeMapConverter for a native config type.
func RegisterAttributes[ConfigT any]() AttributeMapConverter {
	return func(attributes config.AttributeMap) (interface{}, error) {
		return config.TransformAttributeMap[ConfigT](attributes)
	}
}

// LookupModel returns the registration of a model type.
func LookupModel(modelType string) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[modelType]
	return reg, ok
}

// RegisteredModels returns every registered model type, sorted.
func RegisteredModels() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// NewFromConfig converts and validates a component's attributes and constructs the model.
// path locates the component in the configuration file for error messages.
func NewFromConfig(
	ctx context.Context,
	deps Dependencies,
	conf config.Component,
	path string,
	logger logging.Logger,
) (Model, error) {
	reg, ok := LookupModel(conf.Type)
	if !ok {
		return nil, errors.Errorf("unknown sensor model type %q", conf.Type)
	}
	if reg.AttributeMapConverter != nil {
		converted, err := reg.AttributeMapConverter(conf.Attributes)
		if err != nil {
			return nil, errors.Wrapf(err, "error converting attributes of %s", conf.String())
		}
		conf.ConvertedAttributes = converted
	}
	if err := conf.Validate(path); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	return reg.Constructor(ctx, deps, conf, logger.Sublogger(conf.Name))
}
