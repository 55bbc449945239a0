package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/fuse/config"
	"go.viam.com/fuse/graph"
	"go.viam.com/fuse/logging"
	"go.viam.com/fuse/msgs"
	"go.viam.com/fuse/transaction"
	"go.viam.com/fuse/transport"
	"go.viam.com/fuse/utils"
)

// SerializedType is the registered type of the serialized publisher.
const SerializedType = "serialized_publisher"

// SerializedConfig configures the serialized publisher.
type SerializedConfig struct {
	FrameID          string `json:"frame_id,omitempty"`
	GraphTopic       string `json:"graph_topic,omitempty"`
	TransactionTopic string `json:"transaction_topic,omitempty"`
	// GraphThrottlePeriodSec is the minimum time between two published graphs. Zero publishes
	// every graph.
	GraphThrottlePeriodSec float64 `json:"graph_throttle_period_sec,omitempty"`
	// StoreSnapshots writes every published graph to the snapshot store.
	StoreSnapshots bool `json:"store_snapshots,omitempty"`
	QueueSize      int  `json:"queue_size,omitempty"`
}

// Validate fills in defaults.
func (conf *SerializedConfig) Validate(path string) error {
	if conf.GraphThrottlePeriodSec < 0 {
		return goutils.NewConfigValidationError(path, errors.New("graph_throttle_period_sec must not be negative"))
	}
	if conf.QueueSize < 0 {
		return goutils.NewConfigValidationError(path, errors.New("queue_size must not be negative"))
	}
	if conf.FrameID == "" {
		conf.FrameID = "map"
	}
	if conf.GraphTopic == "" {
		conf.GraphTopic = "graph"
	}
	if conf.TransactionTopic == "" {
		conf.TransactionTopic = "graph_update"
	}
	if conf.QueueSize == 0 {
		conf.QueueSize = 1
	}
	return nil
}

func init() {
	RegisterPublisher(SerializedType, Registration{
		Constructor: func(ctx context.Context, deps Dependencies, conf config.Component, logger logging.Logger) (Publisher, error) {
			native, ok := conf.ConvertedAttributes.(*SerializedConfig)
			if !ok {
				return nil, utils.NewUnexpectedTypeError(native, conf.ConvertedAttributes)
			}
			return NewSerialized(deps, native, logger)
		},
		AttributeMapConverter: func(attributes config.AttributeMap) (interface{}, error) {
			return config.TransformAttributeMap[*SerializedConfig](attributes)
		},
	})
}

// Serialized publishes every transaction and, throttled, every graph in serialized form.
type Serialized struct {
	*AsyncPublisher
	bus       *transport.Bus
	clock     clock.Clock
	snapshots SnapshotWriter
	conf      *SerializedConfig
	throttle  time.Duration

	mu            sync.Mutex
	lastPublished time.Time
}

// NewSerialized returns an uninitialized serialized publisher.
func NewSerialized(deps Dependencies, conf *SerializedConfig, logger logging.Logger) (*Serialized, error) {
	if err := conf.Validate(SerializedType); err != nil {
		return nil, err
	}
	if deps.Bus == nil {
		return nil, errors.New("serialized publisher requires a bus")
	}
	if conf.StoreSnapshots && deps.Snapshots == nil {
		return nil, errors.New("store_snapshots is set but no snapshot store is configured")
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	p := &Serialized{
		bus:       deps.Bus,
		clock:     clk,
		snapshots: deps.Snapshots,
		conf:      conf,
		throttle:  time.Duration(conf.GraphThrottlePeriodSec * float64(time.Second)),
	}
	p.AsyncPublisher = NewAsyncPublisher(logger, conf.QueueSize, Hooks{OnNotify: p.notify})
	return p, nil
}

func (p *Serialized) notify(ctx context.Context, tx *transaction.Transaction, g *graph.Graph) error {
	publishGraph := p.due()
	header := msgs.Header{Stamp: tx.Stamp(), FrameID: p.conf.FrameID}
	txData, err := transaction.Marshal(tx)
	if err != nil {
		return err
	}
	p.bus.Publish(p.conf.TransactionTopic, msgs.SerializedTransaction{Header: header, Data: txData})

	if !publishGraph {
		return nil
	}
	graphData, err := g.Serialize()
	if err != nil {
		return err
	}
	p.bus.Publish(p.conf.GraphTopic, msgs.SerializedGraph{Header: header, Data: graphData})
	if p.conf.StoreSnapshots {
		if err := p.snapshots.Put(header.Stamp, graphData); err != nil {
			return errors.Wrap(err, "storing graph snapshot")
		}
	}
	return nil
}

// due reports whether a graph may be published now and, if so, records the time.
func (p *Serialized) due() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	if !p.lastPublished.IsZero() && now.Sub(p.lastPublished) < p.throttle {
		return false
	}
	p.lastPublished = now
	return true
}
