// Package config defines the file that configures an estimator: the optimizer, its sensor models
// and its publishers.
package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Config is the whole estimator configuration.
type Config struct {
	Debug      bool            `json:"debug,omitempty"`
	Optimizer  OptimizerConfig `json:"optimizer"`
	Models     []Component     `json:"sensor_models"`
	Publishers []Component     `json:"publishers,omitempty"`
	Snapshots  *SnapshotConfig `json:"snapshots,omitempty"`

	// ConfigFilePath is where the configuration was read from, if anywhere.
	ConfigFilePath string `json:"-"`
}

// Validate checks the whole configuration and fills in defaults.
func (c *Config) Validate() error {
	if err := c.Optimizer.Validate("optimizer"); err != nil {
		return err
	}
	names := map[string]struct{}{}
	for i := range c.Models {
		path := fmt.Sprintf("sensor_models.%d", i)
		if err := c.Models[i].Validate(path); err != nil {
			return err
		}
		if _, dup := names[c.Models[i].Name]; dup {
			return utils.NewConfigValidationError(path, errors.Errorf("sensor model name %q is not unique", c.Models[i].Name))
		}
		names[c.Models[i].Name] = struct{}{}
	}
	names = map[string]struct{}{}
	for i := range c.Publishers {
		path := fmt.Sprintf("publishers.%d", i)
		if err := c.Publishers[i].Validate(path); err != nil {
			return err
		}
		if _, dup := names[c.Publishers[i].Name]; dup {
			return utils.NewConfigValidationError(path, errors.Errorf("publisher name %q is not unique", c.Publishers[i].Name))
		}
		names[c.Publishers[i].Name] = struct{}{}
	}
	if c.Snapshots != nil {
		if err := c.Snapshots.Validate("snapshots"); err != nil {
			return err
		}
	}
	return nil
}

// Component configures one sensor model or publisher. Attributes are decoded by the component's
// registration into its native configuration, which is kept in ConvertedAttributes.
type Component struct {
	Name       string       `json:"name"`
	Type       string       `json:"type"`
	Attributes AttributeMap `json:"attributes,omitempty"`

	ConvertedAttributes interface{} `json:"-"`
}

type validator interface {
	Validate(path string) error
}

// Validate ensures the component is named and typed and that its converted attributes, if any,
// are valid.
func (c *Component) Validate(path string) error {
	if c.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if c.Type == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "type")
	}
	if v, ok := c.ConvertedAttributes.(validator); ok {
		if err := v.Validate(path); err != nil {
			return err
		}
	}
	return nil
}

func (c *Component) String() string {
	return fmt.Sprintf("%s (%s)", c.Name, c.Type)
}

// DefaultOptimizationPeriod is how often the optimizer runs when the configuration does not say.
const DefaultOptimizationPeriod = 100 * time.Millisecond

// OptimizerConfig configures the optimizer that owns the graph.
type OptimizerConfig struct {
	// OptimizationPeriodSec is the time between optimization passes, in seconds.
	OptimizationPeriodSec float64 `json:"optimization_period_sec,omitempty"`
	// ResetService is the name under which the optimizer advertises its reset service. Empty
	// means "reset".
	ResetService string `json:"reset_service,omitempty"`
	// MetricsAddress, when set, serves Prometheus metrics on this address.
	MetricsAddress string `json:"metrics_address,omitempty"`
}

// Validate checks the optimizer configuration.
func (c *OptimizerConfig) Validate(path string) error {
	if c.OptimizationPeriodSec < 0 {
		return utils.NewConfigValidationError(path, errors.New("optimization_period_sec must not be negative"))
	}
	if c.ResetService == "" {
		c.ResetService = "reset"
	}
	return nil
}

// OptimizationPeriod returns the configured period or the default.
func (c *OptimizerConfig) OptimizationPeriod() time.Duration {
	if c.OptimizationPeriodSec == 0 {
		return DefaultOptimizationPeriod
	}
	return time.Duration(c.OptimizationPeriodSec * float64(time.Second))
}

// SnapshotConfig configures the on-disk store of published graphs.
type SnapshotConfig struct {
	// Path is the store directory. Empty keeps snapshots in memory.
	Path string `json:"path,omitempty"`
	// Retain is how many of the newest snapshots to keep. Zero keeps all of them.
	Retain int `json:"retain,omitempty"`
}

// Validate checks the snapshot configuration.
func (c *SnapshotConfig) Validate(path string) error {
	if c.Retain < 0 {
		return utils.NewConfigValidationError(path, errors.New("retain must not be negative"))
	}
	return nil
}
