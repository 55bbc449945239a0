package publisher

import (
	"context"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/fuse/config"
	"go.viam.com/fuse/logging"
)

// A Constructor builds a publisher from its configuration.
type Constructor func(ctx context.Context, deps Dependencies, conf config.Component, logger logging.Logger) (Publisher, error)

// A Registration stores how to build one publisher type.
type Registration struct {
	Constructor           Constructor
	AttributeMapConverter func(attributes config.AttributeMap) (interface{}, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Registration{}
)

// RegisterPublisher registers a publisher type. It panics on a duplicate type.
func RegisterPublisher(publisherType string, reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, old := registry[publisherType]; old {
		panic(errors.Errorf("trying to register two publishers with the same type %q", publisherType))
	}
	if reg.Constructor == nil {
		panic(errors.Errorf("cannot register publisher %q with nil constructor", publisherType))
	}
	registry[publisherType] = reg
}

// RegisteredPublishers returns every registered publisher type, sorted.
func RegisteredPublishers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// NewFromConfig converts and validates a component's attributes and constructs the publisher.
func NewFromConfig(
	ctx context.Context,
	deps Dependencies,
	conf config.Component,
	path string,
	logger logging.Logger,
) (Publisher, error) {
	registryMu.RLock()
	reg, ok := registry[conf.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown publisher type %q", conf.Type)
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
