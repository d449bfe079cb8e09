package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for build sessions.
type Metrics struct {
	config MetricsConfig

	// Session metrics
	sessionsStarted   *prometheus.CounterVec
	sessionsCompleted *prometheus.CounterVec
	sessionDuration   *prometheus.HistogramVec

	// Part build metrics
	partBuilds        *prometheus.CounterVec
	partBuildDuration *prometheus.HistogramVec

	// Environment metrics
	environmentsBuilt      *prometheus.CounterVec
	environmentDuration    prometheus.Histogram
	environmentAssignments prometheus.Histogram

	// Error metrics
	errorsByCode *prometheus.CounterVec

	// Scheduler metrics
	activeBuilds     prometheus.Gauge
	queuedParts      prometheus.Gauge
	buildParallelism prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Every recording method is a no-op on a disabled collector.
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		sessionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_started_total",
				Help:      "Total number of build sessions started",
			},
			[]string{"project"},
		),
		sessionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_completed_total",
				Help:      "Total number of build sessions completed",
			},
			[]string{"status"},
		),
		sessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Duration of build sessions in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		partBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "part_builds_total",
				Help:      "Total number of part builds by outcome",
			},
			[]string{"status"},
		),
		partBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "part_build_duration_seconds",
				Help:      "Duration of part build steps in seconds",
				Buckets:   buckets,
			},
			[]string{"plugin"},
		),

		environmentsBuilt: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "environments_built_total",
				Help:      "Total number of part environments computed",
			},
			[]string{"root_part"},
		),
		environmentDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "environment_build_duration_seconds",
				Help:      "Time spent computing part environments in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		environmentAssignments: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "environment_assignments",
				Help:      "Number of assignments in computed part environments",
				Buckets:   prometheus.LinearBuckets(10, 5, 8),
			},
		),

		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activeBuilds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_part_builds",
				Help:      "Current number of part builds in progress",
			},
		),
		queuedParts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_parts",
				Help:      "Current number of parts waiting for their dependencies",
			},
		),
		buildParallelism: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_parallelism",
				Help:      "Maximum number of concurrent part builds in the current session",
			},
		),
	}

	registry.MustRegister(
		m.sessionsStarted,
		m.sessionsCompleted,
		m.sessionDuration,
		m.partBuilds,
		m.partBuildDuration,
		m.environmentsBuilt,
		m.environmentDuration,
		m.environmentAssignments,
		m.errorsByCode,
		m.activeBuilds,
		m.queuedParts,
		m.buildParallelism,
	)

	return m, nil
}

// Session Metrics

// RecordSessionStarted increments the counter for started sessions.
func (m *Metrics) RecordSessionStarted(project string, queued, parallelism int) {
	if m.sessionsStarted == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(project).Inc()
	m.queuedParts.Set(float64(queued))
	m.buildParallelism.Set(float64(parallelism))
}

// RecordSessionCompleted records a finished session with its status and duration.
func (m *Metrics) RecordSessionCompleted(status string, duration time.Duration) {
	if m.sessionsCompleted == nil {
		return
	}
	m.sessionsCompleted.WithLabelValues(status).Inc()
	m.sessionDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.queuedParts.Set(0)
}

// Part Build Metrics

// RecordPartStarted moves a part from the queue to the active builds.
func (m *Metrics) RecordPartStarted() {
	if m.activeBuilds == nil {
		return
	}
	m.activeBuilds.Inc()
	m.queuedParts.Dec()
}

// RecordPartBuild records a finished part build.
func (m *Metrics) RecordPartBuild(plugin, status string, duration time.Duration) {
	if m.partBuilds == nil {
		return
	}
	m.partBuilds.WithLabelValues(status).Inc()
	m.partBuildDuration.WithLabelValues(plugin).Observe(duration.Seconds())
	m.activeBuilds.Dec()
}

// RecordPartSkipped records a part that never started.
func (m *Metrics) RecordPartSkipped() {
	if m.partBuilds == nil {
		return
	}
	m.partBuilds.WithLabelValues("skipped").Inc()
	m.queuedParts.Dec()
}

// Environment Metrics

// RecordEnvironmentBuilt records a computed part environment.
func (m *Metrics) RecordEnvironmentBuilt(rootPart bool, assignments int, duration time.Duration) {
	if m.environmentsBuilt == nil {
		return
	}
	m.environmentsBuilt.WithLabelValues(strconv.FormatBool(rootPart)).Inc()
	m.environmentDuration.Observe(duration.Seconds())
	m.environmentAssignments.Observe(float64(assignments))
}

// Error Metrics

// RecordError records an error by code.
func (m *Metrics) RecordError(code string) {
	if m.errorsByCode == nil {
		return
	}
	if code == "" {
		code = "UNKNOWN"
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// Registry returns the registry holding the collectors, or nil when
// metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing the metrics. It does
// nothing when metrics are disabled or no listen address is configured.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Metrics are best effort; a failed listener must not stop a build.
			fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Shutdown stops the metrics server if one was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
