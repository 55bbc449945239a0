package optimizer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	applied     prometheus.Counter
	rejected    prometheus.Counter
	resets      prometheus.Counter
	variables   prometheus.Gauge
	constraints prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		applied: factory.NewCounter(prometheus.CounterOpts{
			Name: "fuse_transactions_applied_total",
			Help: "Transactions applied to the graph",
		}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "fuse_transactions_rejected_total",
			Help: "Transactions the graph refused",
		}),
		resets: factory.NewCounter(prometheus.CounterOpts{
			Name: "fuse_resets_total",
			Help: "Completed resets of the estimate",
		}),
		variables: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fuse_graph_variables",
			Help: "Variables currently in the graph",
		}),
		constraints: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fuse_graph_constraints",
			Help: "Constraints currently in the graph",
		}),
	}
}
