package optimizer

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"go.viam.com/fuse/config"
	"go.viam.com/fuse/publisher"
	"go.viam.com/fuse/sensor"
)

// Configure builds every sensor model and publisher listed in cfg and registers them. Any
// failure is fatal: nothing is started and the caller should Close the orchestrator.
func (o *Orchestrator) Configure(ctx context.Context, cfg *config.Config, snapshots publisher.SnapshotWriter) error {
	modelDeps := sensor.Dependencies{Bus: o.bus, Clock: o.clock}
	for i, conf := range cfg.Models {
		model, err := sensor.NewFromConfig(ctx, modelDeps, conf, fmt.Sprintf("sensor_models.%d", i), o.logger)
		if err != nil {
			return err
		}
		if err := o.RegisterModel(ctx, conf.Name, model); err != nil {
			return errors.Wrapf(err, "registering sensor model %s", conf.String())
		}
	}

	publisherDeps := publisher.Dependencies{Bus: o.bus, Clock: o.clock, Snapshots: snapshots}
	for i, conf := range cfg.Publishers {
		pub, err := publisher.NewFromConfig(ctx, publisherDeps, conf, fmt.Sprintf("publishers.%d", i), o.logger)
		if err != nil {
			return err
		}
		if err := o.RegisterPublisher(ctx, conf.Name, pub); err != nil {
			return errors.Wrapf(err, "registering publisher %s", conf.String())
		}
	}
	return nil
}
