// Package metrics exposes Prometheus collectors fed from the event bus.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanpama/aegraph/internal/eventbus"
	"github.com/hanpama/aegraph/internal/events"
)

var sizeBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250}

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	batches      *prometheus.CounterVec
	batchSize    *prometheus.HistogramVec
	batchMissing *prometheus.CounterVec
	rootCalls    *prometheus.CounterVec
	rpcDuration  *prometheus.HistogramVec
	operations   *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
}

// New creates the collectors on a fresh registry that also carries the Go
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegraph",
			Subsystem: "loader",
			Name:      "batches_total",
			Help:      "Batch windows dispatched per entity kind",
		}, []string{"kind", "outcome"}),

		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aegraph",
			Subsystem: "loader",
			Name:      "batch_size",
			Help:      "Distinct ids sent in one batch window",
			Buckets:   sizeBuckets,
		}, []string{"kind"}),

		batchMissing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegraph",
			Subsystem: "loader",
			Name:      "missing_total",
			Help:      "Ids requested in a batch window and not found",
		}, []string{"kind"}),

		rootCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegraph",
			Subsystem: "gateway",
			Name:      "root_dispatches_total",
			Help:      "Root field calls sent per owning service",
		}, []string{"service", "operation_type", "outcome"}),

		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aegraph",
			Subsystem: "rpc",
			Name:      "client_duration_seconds",
			Help:      "Duration of subgraph operations seen by the caller",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "operation", "code"}),

		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegraph",
			Subsystem: "graphql",
			Name:      "operations_total",
			Help:      "GraphQL operations per type and outcome",
		}, []string{"operation_type", "outcome"}),

		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aegraph",
			Subsystem: "graphql",
			Name:      "operation_duration_seconds",
			Help:      "Duration of GraphQL operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation_type"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegraph",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests per status code",
		}, []string{"code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.batches, m.batchSize, m.batchMissing, m.rootCalls,
		m.rpcDuration, m.operations, m.opDuration, m.httpRequests,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Subscribe feeds the collectors from the global bus.
func (m *Metrics) Subscribe() (unsubscribe func()) {
	subs := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.BatchDispatch) {
			m.batches.WithLabelValues(e.Kind, outcome(e.Err)).Inc()
			m.batchSize.WithLabelValues(e.Kind).Observe(float64(e.Size))
			if e.Missing > 0 {
				m.batchMissing.WithLabelValues(e.Kind).Add(float64(e.Missing))
			}
		}),
		eventbus.Subscribe(func(_ context.Context, e events.RootDispatch) {
			m.rootCalls.WithLabelValues(e.Service, e.OperationType, outcome(e.Err)).Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.RPCClientFinish) {
			m.rpcDuration.WithLabelValues(e.Service, e.Operation, e.Code.String()).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.GraphQLFinish) {
			m.operations.WithLabelValues(e.OperationType, e.Outcome).Inc()
			m.opDuration.WithLabelValues(e.OperationType).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.HTTPFinish) {
			m.httpRequests.WithLabelValues(strconv.Itoa(e.Status)).Inc()
		}),
	}
	return func() {
		for _, f := range subs {
			f()
		}
	}
}
