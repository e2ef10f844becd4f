package runtime

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the runtime's Prometheus metrics on a private registry so
// multiple runtimes (and tests) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	BatchesTotal     prometheus.Counter
	RequestsTotal    prometheus.Counter
	InferErrorsTotal prometheus.Counter
	BatchSize        prometheus.Histogram
	BatchLatency     prometheus.Histogram
	QueueDepth       prometheus.GaugeFunc
}

// NewMetrics creates and registers all metrics. The queue depth gauge
// samples the queue on scrape.
func NewMetrics(queue *PriorityQueue) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runtime_batches_total",
			Help: "Total number of executed batches",
		}),
		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runtime_requests_total",
			Help: "Total number of processed inference requests",
		}),
		InferErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runtime_infer_errors_total",
			Help: "Total number of failed batch executions",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "runtime_batch_size",
			Help:    "Distribution of executed batch sizes",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		BatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "runtime_batch_latency_seconds",
			Help:    "Batch execution latency",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "runtime_queue_depth",
			Help: "Requests waiting in the priority queue",
		}, func() float64 { return float64(queue.Depth()) }),
	}

	m.registry.MustRegister(
		m.BatchesTotal,
		m.RequestsTotal,
		m.InferErrorsTotal,
		m.BatchSize,
		m.BatchLatency,
		m.QueueDepth,
	)
	return m
}

// Handler serves the metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
