package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/fuse/config"
	"go.viam.com/fuse/graph"
	"go.viam.com/fuse/msgs"
	"go.viam.com/fuse/optimizer"
	"go.viam.com/fuse/publisher"
	"go.viam.com/fuse/sensor"
	"go.viam.com/fuse/snapshot"
	"go.viam.com/fuse/transport"
	"go.viam.com/fuse/variable"
)

const snapshotGCInterval = 10 * time.Minute

// estimator is everything a running configuration owns.
type estimator struct {
	orchestrator *optimizer.Orchestrator
	bus          *transport.Bus
	store        *snapshot.Store
	metrics      *http.Server
}

func readConfig(c *cli.Context) (*config.Config, error) {
	config.InitLoggingSettings(logger, c.Bool(flagDebug))
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	config.UpdateFileConfigDebug(cfg.Debug)
	return cfg, nil
}

func openStore(conf *config.SnapshotConfig, path string) (*snapshot.Store, error) {
	storeConf := snapshot.Config{Path: path, GCInterval: snapshotGCInterval}
	if conf != nil {
		storeConf.Retain = conf.Retain
		if path == "" {
			storeConf.Path = conf.Path
		}
	}
	return snapshot.Open(storeConf, logger.Sublogger("snapshots"))
}

func startEstimator(ctx context.Context, cfg *config.Config) (est *estimator, err error) {
	est = &estimator{bus: transport.NewBus(logger.Sublogger("bus"))}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, est.close(ctx))
			est = nil
		}
	}()

	var snapshots publisher.SnapshotWriter
	if cfg.Snapshots != nil {
		if est.store, err = openStore(cfg.Snapshots, ""); err != nil {
			return est, err
		}
		snapshots = est.store
	}

	est.orchestrator, err = optimizer.New(logger.Sublogger("optimizer"), sensor.Dependencies{Bus: est.bus}, cfg.Optimizer, nil)
	if err != nil {
		return est, err
	}
	if err := est.orchestrator.Configure(ctx, cfg, snapshots); err != nil {
		return est, err
	}
	if err := est.orchestrator.Start(ctx); err != nil {
		return est, err
	}

	if addr := cfg.Optimizer.MetricsAddress; addr != "" {
		est.metrics = &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(est.orchestrator.Registry(), promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		goutils.PanicCapturingGo(func() {
			if err := est.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorw("metrics server failed", "address", addr, "error", err)
			}
		})
		logger.Infow("serving metrics", "address", addr)
	}
	return est, nil
}

func (est *estimator) close(ctx context.Context) error {
	var err error
	if est.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = multierr.Combine(err, est.metrics.Shutdown(shutdownCtx))
		cancel()
	}
	if est.orchestrator != nil {
		err = multierr.Combine(err, est.orchestrator.Close(ctx))
	}
	if est.store != nil {
		err = multierr.Combine(err, est.store.Close())
	}
	return err
}

func runUntilDone(c *cli.Context, est *estimator) error {
	<-c.Context.Done()
	logger.Info("shutting down")
	return est.close(context.Background())
}

// RunAction runs the configured estimator until interrupted.
func RunAction(c *cli.Context) error {
	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	est, err := startEstimator(c.Context, cfg)
	if err != nil {
		return err
	}
	logger.Infow("estimator running", "sensor_models", len(cfg.Models), "publishers", len(cfg.Publishers))
	return runUntilDone(c, est)
}

// readSnapshot returns the snapshot at the --stamp flag, or the newest one.
func readSnapshot(c *cli.Context, store *snapshot.Store) (time.Time, []byte, error) {
	if !c.IsSet(flagStamp) {
		return store.Latest()
	}
	stamp := time.Unix(0, c.Int64(flagStamp))
	data, err := store.Get(stamp)
	return stamp, data, err
}

// ListSnapshotsAction prints every stored snapshot.
func ListSnapshotsAction(c *cli.Context) error {
	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	if cfg.Snapshots == nil {
		return errors.New("configuration has no snapshot store")
	}
	store, err := openStore(cfg.Snapshots, "")
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(store.Close)

	entries, err := store.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(c.App.Writer, "%d\t%s\t%d bytes\n", e.Stamp.UnixNano(), e.Stamp.UTC().Format(time.RFC3339Nano), e.Size)
	}
	return nil
}

// ShowSnapshotAction prints the variable and constraint counts of one snapshot.
func ShowSnapshotAction(c *cli.Context) error {
	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	if cfg.Snapshots == nil {
		return errors.New("configuration has no snapshot store")
	}
	store, err := openStore(cfg.Snapshots, "")
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(store.Close)

	stamp, data, err := readSnapshot(c, store)
	if err != nil {
		return err
	}
	g, err := graph.Deserialize(data)
	if err != nil {
		return errors.Wrapf(err, "decoding snapshot %d", stamp.UnixNano())
	}
	fmt.Fprintf(c.App.Writer, "stamp: %s\nvariables: %d\nconstraints: %d\n",
		stamp.UTC().Format(time.RFC3339Nano), g.NumVariables(), g.NumConstraints())
	printCounts(c, lo.CountValuesBy(g.Variables(), func(v variable.Variable) string { return v.Type() }))
	return nil
}

func printCounts(c *cli.Context, counts map[string]int) {
	types := lo.Keys(counts)
	sort.Strings(types)
	for _, typ := range types {
		fmt.Fprintf(c.App.Writer, "  %s: %d\n", typ, counts[typ])
	}
}

// ReplayAction starts the estimator and seeds it with a stored snapshot through a graph
// ignition model's set graph service.
func ReplayAction(c *cli.Context) error {
	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	if cfg.Snapshots == nil && !c.IsSet(flagSnapshots) {
		return errors.New("configuration has no snapshot store and --snapshots is not set")
	}
	source, err := openStore(cfg.Snapshots, c.String(flagSnapshots))
	if err != nil {
		return err
	}
	stamp, data, err := readSnapshot(c, source)
	if closeErr := source.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	est, err := startEstimator(c.Context, cfg)
	if err != nil {
		return err
	}
	req := msgs.SetGraphRequest{Graph: msgs.SerializedGraph{Header: msgs.Header{Stamp: stamp}, Data: data}}
	resp, err := transport.Call[msgs.SetGraphRequest, msgs.SetGraphResponse](c.Context, est.bus, c.String(flagService), req)
	if err == nil && !resp.Success {
		err = errors.Errorf("graph ignition rejected the snapshot: %s", resp.Message)
	}
	if err != nil {
		return multierr.Combine(err, est.close(context.Background()))
	}
	logger.Infow("replayed snapshot", "stamp", stamp)
	return runUntilDone(c, est)
}
