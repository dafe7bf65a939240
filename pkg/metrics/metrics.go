package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orders"

// ServerMetrics holds HTTP and order lifecycle collectors on a private registry
type ServerMetrics struct {
	registry *prometheus.Registry

	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec

	OrdersCreated   prometheus.Counter
	Transitions     *prometheus.CounterVec
	SweepOrders     *prometheus.CounterVec
	SweepDurationMS prometheus.Histogram
	SweepRuns       prometheus.Counter
}

// NewServerMetrics creates and registers every collector
func NewServerMetrics() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &ServerMetrics{
		registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route", "method"}),
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "created_total",
			Help:      "Orders accepted and persisted.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Committed order status transitions.",
		}, []string{"from", "to"}),
		SweepOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "orders_total",
			Help:      "Orders seen by the pending sweep, by outcome.",
		}, []string{"outcome"}),
		SweepDurationMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_ms",
			Help:      "Duration of pending sweeps in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
		}),
		SweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Completed pending sweeps.",
		}),
	}

	reg.MustRegister(
		m.Requests,
		m.LatencyMS,
		m.OrdersCreated,
		m.Transitions,
		m.SweepOrders,
		m.SweepDurationMS,
		m.SweepRuns,
	)

	return m
}

// OrderCreated counts a persisted order
func (m *ServerMetrics) OrderCreated() {
	m.OrdersCreated.Inc()
}

// StatusChanged counts a committed transition
func (m *ServerMetrics) StatusChanged(from, to string) {
	m.Transitions.WithLabelValues(from, to).Inc()
}

// SweepCompleted records the outcome of one sweep
func (m *ServerMetrics) SweepCompleted(promoted, skipped, failed int, duration time.Duration) {
	m.SweepRuns.Inc()
	m.SweepOrders.WithLabelValues("promoted").Add(float64(promoted))
	m.SweepOrders.WithLabelValues("skipped").Add(float64(skipped))
	m.SweepOrders.WithLabelValues("failed").Add(float64(failed))
	m.SweepDurationMS.Observe(float64(duration.Milliseconds()))
}

// ObserveRequest records one served HTTP request
func (m *ServerMetrics) ObserveRequest(route, method, status string, duration time.Duration) {
	m.Requests.WithLabelValues(route, method, status).Inc()
	m.LatencyMS.WithLabelValues(route, method).Observe(float64(duration.Milliseconds()))
}

// Registry exposes the private registry, mainly for tests
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *ServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
