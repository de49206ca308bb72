// Package metrics exposes Prometheus collectors for the listener.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scenectl"

// Collector holds the listener's metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	connectionsRejected prometheus.Counter
	queueDepth          prometheus.Gauge
	backendRequests     *prometheus.CounterVec
	jobPolls            *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled by the listener.",
		}, []string{"op", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from accept to response.",
			Buckets:   []float64{.005, .025, .1, .5, 1, 5, 30, 120, 300},
		}, []string{"op"}),
		connectionsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Connections refused because the listener was at capacity.",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_queue_depth",
			Help:      "Jobs waiting for the host main context.",
		}),
		backendRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Calls to external generation and asset backends.",
		}, []string{"backend", "outcome"}),
		jobPolls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_polls_total",
			Help:      "Job status polls by resulting phase.",
		}, []string{"phase"}),
	}
}

// ObserveRequest records one served request.
func (c *Collector) ObserveRequest(op, status string, elapsed time.Duration) {
	c.requestsTotal.WithLabelValues(op, status).Inc()
	c.requestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ConnectionRejected counts a connection turned away at capacity.
func (c *Collector) ConnectionRejected() {
	c.connectionsRejected.Inc()
}

// SetQueueDepth reports the host loop queue depth.
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// ObserveBackend counts a backend call.
func (c *Collector) ObserveBackend(backend string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.backendRequests.WithLabelValues(backend, outcome).Inc()
}

// ObservePoll counts a job poll by phase.
func (c *Collector) ObservePoll(phase string) {
	c.jobPolls.WithLabelValues(phase).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
