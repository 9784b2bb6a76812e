// Package metrics exposes reactor, registry, worker pool and bridge
// measurements in Prometheus format.
package metrics

import (
	"errors"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/quill/internal/bridge"
	"github.com/dshills/quill/internal/event"
	"github.com/dshills/quill/internal/event/dispatch"
)

const namespace = "quill"

// Registry owns the daemon's metrics. It implements event.Recorder.
type Registry struct {
	registry *prometheus.Registry

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	handlerTotal     *prometheus.CounterVec
	handlerDuration  *prometheus.HistogramVec

	buildInfo *prometheus.GaugeVec
	startTime prometheus.Gauge

	mu     sync.Mutex
	checks map[string]HealthCheck
}

// HealthCheck returns nil when a component is healthy.
type HealthCheck func() error

var _ event.Recorder = (*Registry)(nil)

// NewRegistry creates a registry with the Go and process collectors and the
// dispatch metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		checks:   make(map[string]HealthCheck),

		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Total number of event dispatches",
			},
			[]string{"type", "status"}, // status: ok, cancelled, error
		),

		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Time spent folding handlers for one event",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
			},
			[]string{"type"},
		),

		handlerTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_calls_total",
				Help:      "Total number of handler calls",
			},
			[]string{"handler", "runtime", "status"},
		),

		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_seconds",
				Help:      "Time spent in one handler call",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"runtime"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Build information (value is always 1)",
			},
			[]string{"version", "api"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "start_time_seconds",
				Help:      "Unix timestamp when the daemon started",
			},
		),
	}

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(
		r.dispatchTotal,
		r.dispatchDuration,
		r.handlerTotal,
		r.handlerDuration,
		r.buildInfo,
		r.startTime,
	)
	r.startTime.SetToCurrentTime()

	return r
}

// Gatherer returns the underlying Prometheus gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// ObserveDispatch implements event.Recorder.
func (r *Registry) ObserveDispatch(eventType, status string, d time.Duration) {
	r.dispatchTotal.WithLabelValues(eventType, status).Inc()
	r.dispatchDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

// ObserveHandler implements event.Recorder.
func (r *Registry) ObserveHandler(handler string, runtime event.Runtime, status string, d time.Duration) {
	r.handlerTotal.WithLabelValues(handler, runtime.String(), status).Inc()
	r.handlerDuration.WithLabelValues(runtime.String()).Observe(d.Seconds())
}

// SetBuildInfo records the daemon version and handler API version.
func (r *Registry) SetBuildInfo(version, api string) {
	r.buildInfo.WithLabelValues(version, api).Set(1)
}

// WatchRegistry exports the number of registered handlers.
func (r *Registry) WatchRegistry(reg *event.Registry) {
	r.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handlers_registered",
			Help:      "Number of handlers currently registered",
		},
		func() float64 { return float64(reg.Len()) },
	))
}

// WatchPool exports the counters of a worker pool under the given name.
func (r *Registry) WatchPool(name string, pool *dispatch.WorkerPool) {
	labels := prometheus.Labels{"pool": name}
	r.registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "pool",
				Name:        "queue_depth",
				Help:        "Tasks waiting in the worker pool queue",
				ConstLabels: labels,
			},
			func() float64 { return float64(pool.QueueDepth()) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "pool",
				Name:        "tasks_processed_total",
				Help:        "Tasks processed by the worker pool",
				ConstLabels: labels,
			},
			func() float64 { return float64(pool.Stats().Processed) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "pool",
				Name:        "tasks_failed_total",
				Help:        "Tasks that returned an error, panicked or were skipped",
				ConstLabels: labels,
			},
			func() float64 {
				s := pool.Stats()
				return float64(s.Failed + s.Panicked)
			},
		),
	)
}

// WatchBridge exports plugin bridge delivery counters and health.
func (r *Registry) WatchBridge(b *bridge.Bridge) {
	r.registry.MustRegister(
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "sent_total",
				Help:      "Events delivered to the plugin bridge sink",
			},
			func() float64 { return float64(b.Stats().Sent) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "dropped_total",
				Help:      "Events dropped because the bridge queue was full",
			},
			func() float64 { return float64(b.Stats().Dropped) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "failed_total",
				Help:      "Events the sink failed to accept",
			},
			func() float64 { return float64(b.Stats().Failed) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "healthy",
				Help:      "1 when the plugin bridge is healthy",
			},
			func() float64 {
				if b.Healthy() {
					return 1
				}
				return 0
			},
		),
	)

	r.AddHealthCheck("bridge", func() error {
		if b.Healthy() {
			return nil
		}
		if err := b.LastError(); err != nil {
			return err
		}
		return errBridgeStopped
	})
}

var errBridgeStopped = errors.New("bridge is not running")

// WatchReactor exports the reactor's failure counters.
func (r *Registry) WatchReactor(reactor *event.Reactor) {
	r.registry.MustRegister(
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reactor",
				Name:      "handler_failures_total",
				Help:      "Handler soft errors, errors, panics and timeouts",
			},
			func() float64 { return float64(reactor.Stats().HandlerFailures) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reactor",
				Name:      "handler_timeouts_total",
				Help:      "Handlers abandoned after the handler timeout",
			},
			func() float64 { return float64(reactor.Stats().HandlerTimeouts) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reactor",
				Name:      "handler_panics_total",
				Help:      "Handlers that panicked",
			},
			func() float64 { return float64(reactor.Stats().HandlerPanics) },
		),
	)
}

// AddHealthCheck registers check under name for the /health endpoint,
// replacing any check with the same name.
func (r *Registry) AddHealthCheck(name string, check HealthCheck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = check
}

// Health runs every health check and returns the failures by name.
func (r *Registry) Health() map[string]string {
	r.mu.Lock()
	checks := maps.Clone(r.checks)
	r.mu.Unlock()

	failed := make(map[string]string)
	for name, check := range checks {
		if err := check(); err != nil {
			failed[name] = err.Error()
		}
	}
	return failed
}
