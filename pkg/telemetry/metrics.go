package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for matrix runs.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Matrix metrics
	matrixJobs     *prometheus.GaugeVec
	candidatesDrop *prometheus.CounterVec

	// Job metrics
	jobsFinished *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	activeJobs   prometheus.Gauge

	// Upload metrics
	uploads *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Every recorder is a no-op without collectors.
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"runner"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of a run in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		matrixJobs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "matrix_jobs",
				Help:      "Number of jobs in the expanded matrix and in the current page",
			},
			[]string{"scope"},
		),
		candidatesDrop: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "matrix_candidates_dropped_total",
				Help:      "Candidate configurations dropped during expansion",
			},
			[]string{"reason"},
		),

		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_finished_total",
				Help:      "Total number of jobs finished",
			},
			[]string{"runner", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration of a job build in seconds",
				Buckets:   buckets,
			},
			[]string{"runner"},
		),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_jobs",
				Help:      "Jobs currently building",
			},
		),

		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Upload attempts by outcome",
			},
			[]string{"kind", "outcome"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.matrixJobs,
		m.candidatesDrop,
		m.jobsFinished,
		m.jobDuration,
		m.activeJobs,
		m.uploads,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Registry returns the registry holding the collectors, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(runner string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(runner).Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Matrix Metrics

// SetMatrixSize records the size of the expanded matrix and of the page.
func (m *Metrics) SetMatrixSize(total, page int) {
	if m.matrixJobs == nil {
		return
	}
	m.matrixJobs.WithLabelValues("total").Set(float64(total))
	m.matrixJobs.WithLabelValues("page").Set(float64(page))
}

// RecordDropped counts candidates removed by reason: duplicate, excluded
// or policy.
func (m *Metrics) RecordDropped(reason string, n int) {
	if m.candidatesDrop == nil || n == 0 {
		return
	}
	m.candidatesDrop.WithLabelValues(reason).Add(float64(n))
}

// Job Metrics

// RecordJobStarted marks a job as building.
func (m *Metrics) RecordJobStarted() {
	if m.activeJobs == nil {
		return
	}
	m.activeJobs.Inc()
}

// RecordJobFinished records the outcome of a job.
func (m *Metrics) RecordJobFinished(runner, status string, duration time.Duration) {
	if m.jobsFinished == nil {
		return
	}
	m.activeJobs.Dec()
	m.jobsFinished.WithLabelValues(runner, status).Inc()
	m.jobDuration.WithLabelValues(runner).Observe(duration.Seconds())
}

// Upload Metrics

// RecordUpload counts an upload of kind (recipe, package) by outcome
// (uploaded, skipped, failed).
func (m *Metrics) RecordUpload(kind, outcome string) {
	if m.uploads == nil {
		return
	}
	m.uploads.WithLabelValues(kind, outcome).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
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

// StartMetricsServer serves the metrics on ListenAddress until ctx ends.
// It returns the bound address, or "" when there is nothing to serve.
func (m *Metrics) StartMetricsServer(ctx context.Context) (string, error) {
	if m.registry == nil || m.config.ListenAddress == "" {
		return "", nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", m.config.ListenAddress, err)
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			FromContext(ctx).WithError(err).Error("metrics server stopped")
		}
	}()

	return ln.Addr().String(), nil
}

// WriteTextfile writes the current metrics to TextfilePath, if set.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", m.config.TextfilePath, err)
	}
	return nil
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
