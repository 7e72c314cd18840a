// Package metrics holds the prometheus instruments for the memory store
// and the precompute service. Each Collector owns its own registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ham"

// Collector groups every ham metric.
type Collector struct {
	registry *prometheus.Registry

	Stores            prometheus.Counter
	StoreFailures     *prometheus.CounterVec
	Recalls           *prometheus.CounterVec
	IntegrityFailures prometheus.Counter
	QueryDuration     *prometheus.HistogramVec
	Records           prometheus.Gauge

	VectorFailures prometheus.Counter

	PrecomputeProcessed prometheus.Counter
	PrecomputeFailed    prometheus.Counter
	PrecomputeDropped   prometheus.Counter
	QueueDepth          prometheus.Gauge
	GenerationDuration  prometheus.Histogram
}

// New creates a collector with a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Stores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stores_total",
			Help: "Experiences stored.",
		}),
		StoreFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_failures_total",
			Help: "Failed store operations by error kind.",
		}, []string{"kind"}),
		Recalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "recalls_total",
			Help: "Recall operations by path and result.",
		}, []string{"path", "result"}),
		IntegrityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "integrity_failures_total",
			Help: "Checksum mismatches and decrypt failures seen on recall.",
		}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "query_duration_seconds",
			Help:    "Query latency by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		Records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "records",
			Help: "Records currently held.",
		}),
		VectorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "vector_failures_total",
			Help: "Failed forwards to the semantic index.",
		}),
		PrecomputeProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "precompute", Name: "processed_total",
			Help: "Precompute tasks turned into templates.",
		}),
		PrecomputeFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "precompute", Name: "failed_total",
			Help: "Precompute tasks that errored or timed out.",
		}),
		PrecomputeDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "precompute", Name: "dropped_total",
			Help: "Tasks dropped because the queue was full.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "precompute", Name: "queue_depth",
			Help: "Tasks waiting in the precompute queue.",
		}),
		GenerationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "precompute", Name: "generation_seconds",
			Help:    "Generation backend latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
	}

	c.registry.MustRegister(
		c.Stores, c.StoreFailures, c.Recalls, c.IntegrityFailures, c.QueryDuration, c.Records,
		c.VectorFailures,
		c.PrecomputeProcessed, c.PrecomputeFailed, c.PrecomputeDropped, c.QueueDepth, c.GenerationDuration,
	)
	return c
}

// Registry exposes the collector's registry for a host to serve.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// OrNew returns c, or a fresh unexported collector when c is nil.
func OrNew(c *Collector) *Collector {
	if c == nil {
		return New()
	}
	return c
}
