package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer and metrics of a run.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger)
}

func newTelemetry(cfg *Config, logger *Logger) (*Telemetry, error) {
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// NewTelemetryWithLogger is NewTelemetry for callers that already built a
// logger, such as the CLI with its --verbose flag.
func NewTelemetryWithLogger(cfg *Config, logger *Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger)
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// nil when there is none.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown writes the metrics textfile and flushes the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Metrics.WriteTextfile(), t.Tracer.Shutdown(ctx))
}

// StartMetricsServer serves metrics until ctx ends when an address is set.
func (t *Telemetry) StartMetricsServer(ctx context.Context) (string, error) {
	return t.Metrics.StartMetricsServer(ctx)
}

type runStateKey struct{}

type runState struct {
	span  trace.Span
	start time.Time
}

// WithRunContext starts the telemetry of a run: root span, run logger and
// the started counter.
func WithRunContext(ctx context.Context, runID, reference, runner string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	ctx, span := tel.Tracer.StartRunSpan(ctx, runID, reference)
	logger := tel.Logger.WithRunID(runID).WithReference(reference)
	if id := TraceID(ctx); id != "" {
		logger = logger.WithField("trace_id", id)
	}
	ctx = logger.WithContext(ctx)
	tel.Metrics.RecordRunStarted(runner)

	return context.WithValue(ctx, runStateKey{}, &runState{span: span, start: time.Now()})
}

// EndRunContext closes the run span and records the run outcome.
func EndRunContext(ctx context.Context, status string, jobs int, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	var duration time.Duration
	if st, ok := ctx.Value(runStateKey{}).(*runState); ok {
		duration = time.Since(st.start)
		st.span.SetAttributes(AttrRunStatus.String(status), AttrJobCount.Int(jobs))
		if err != nil {
			RecordError(st.span, err)
		} else {
			RecordSuccess(st.span)
		}
		st.span.End()
	}

	tel.Metrics.RecordRunCompleted(status, duration)
	if err != nil {
		RecordErrorMetric(ctx, err)
	}
}

// JobObserver times a single job. The zero value, returned when ctx has no
// telemetry, only logs.
type JobObserver struct {
	Ctx    context.Context
	Logger *Logger

	tel    *Telemetry
	span   trace.Span
	runner string
	timer  *Timer
}

// StartJob opens the span and the active job gauge of one build.
func StartJob(ctx context.Context, jobID, configuration, runner string) *JobObserver {
	logger := FromContext(ctx).WithJobID(jobID)
	obs := &JobObserver{Ctx: ctx, Logger: logger, runner: runner, timer: NewTimer()}

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		obs.Ctx = logger.WithContext(ctx)
		return obs
	}

	ctx, span := tel.Tracer.StartJobSpan(ctx, jobID, configuration, runner)
	obs.Ctx = logger.WithContext(ctx)
	obs.tel = tel
	obs.span = span
	tel.Metrics.RecordJobStarted()
	return obs
}

// End records the job status and closes its span.
func (o *JobObserver) End(status string, err error) time.Duration {
	duration := o.timer.Duration()
	if o.tel == nil {
		return duration
	}

	o.span.SetAttributes(AttrJobStatus.String(status))
	if err != nil {
		RecordError(o.span, err)
		RecordErrorMetric(o.Ctx, err)
	} else {
		RecordSuccess(o.span)
	}
	o.span.End()
	o.tel.Metrics.RecordJobFinished(o.runner, status, duration)
	return duration
}

// RecordErrorMetric counts err by class and code. Errors that are not
// *matrix.Error count as internal.
func RecordErrorMetric(ctx context.Context, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil || err == nil {
		return
	}

	var merr *matrix.Error
	if errors.As(err, &merr) {
		tel.Metrics.RecordError(string(merr.Class), merr.Code)
		return
	}
	tel.Metrics.RecordError("internal", "")
}
