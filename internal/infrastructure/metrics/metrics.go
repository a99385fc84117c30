package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace prefixes every metric name.
const namespace = "poolbridge"

// Collector holds the service's Prometheus metrics on a private registry.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Collector struct {
	reg *prometheus.Registry

	upstreamRequests  *prometheus.CounterVec
	upstreamLatency   *prometheus.HistogramVec
	throttleRejection prometheus.Counter
	commandsIssued    *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	activeTransitions prometheus.Gauge
	failures          prometheus.Gauge
	lastFetch         prometheus.Gauge
}

// New creates a Collector with Go runtime and process collectors registered.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		reg: reg,
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Cloud API calls by operation and result",
		}, []string{"operation", "result"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Cloud API call latency by operation",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		throttleRejection: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttle_rejections_total",
			Help:      "Cloud API calls rejected for arriving too soon",
		}),
		commandsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_issued_total",
			Help:      "Actions sent to the controller by channel and action",
		}, []string{"channel", "action"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Resolved mode transitions by channel and outcome",
		}, []string{"channel", "outcome"}),
		activeTransitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_transitions",
			Help:      "Mode transitions currently in progress",
		}),
		failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_failures",
			Help:      "Consecutive failed status reads",
		}),
		lastFetch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_fetch_timestamp_seconds",
			Help:      "Unix time of the last successful status read",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.upstreamRequests,
		c.upstreamLatency,
		c.throttleRejection,
		c.commandsIssued,
		c.transitions,
		c.activeTransitions,
		c.failures,
		c.lastFetch,
	)
	return c
}

// Registry exposes the underlying registry for additional collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// UpstreamRequest counts one cloud API call.
func (c *Collector) UpstreamRequest(operation, result string, elapsed time.Duration) {
	c.upstreamRequests.WithLabelValues(operation, result).Inc()
	c.upstreamLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
	if result == "throttled" {
		c.throttleRejection.Inc()
	}
}

// CommandIssued counts one action sent to the controller.
func (c *Collector) CommandIssued(channel, action string) {
	c.commandsIssued.WithLabelValues(channel, action).Inc()
}

// TransitionResolved counts one resolved mode transition.
func (c *Collector) TransitionResolved(channel, outcome string) {
	c.transitions.WithLabelValues(channel, outcome).Inc()
}

// ActiveTransitions sets the in-progress gauge.
func (c *Collector) ActiveTransitions(n int) {
	c.activeTransitions.Set(float64(n))
}

// SnapshotObserved records a new status snapshot.
func (c *Collector) SnapshotObserved(fetchedAt time.Time, consecutiveFailures int) {
	c.failures.Set(float64(consecutiveFailures))
	if !fetchedAt.IsZero() {
		c.lastFetch.Set(float64(fetchedAt.Unix()))
	}
}
