package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestConfigFromEnv(t *testing.T) {
	tests := []struct {
		name         string
		env          map[string]string
		wantLevel    string
		wantExporter string
		wantTracing  bool
		wantMetrics  string
		wantErr      bool
	}{
		{
			name:         "defaults",
			env:          map[string]string{},
			wantLevel:    "info",
			wantExporter: "none",
		},
		{
			name:         "generic log level",
			env:          map[string]string{"LOG_LEVEL": "warn"},
			wantLevel:    "warn",
			wantExporter: "none",
		},
		{
			name:         "endpoint enables otlp",
			env:          map[string]string{"PKGMATRIX_OTLP_ENDPOINT": "localhost:4317"},
			wantLevel:    "info",
			wantExporter: "otlp",
			wantTracing:  true,
		},
		{
			name:         "stdout exporter",
			env:          map[string]string{"PKGMATRIX_TRACE_EXPORTER": "stdout"},
			wantLevel:    "info",
			wantExporter: "stdout",
			wantTracing:  true,
		},
		{
			name:         "metrics file",
			env:          map[string]string{"PKGMATRIX_METRICS_FILE": "/var/lib/node_exporter/pkgmatrix.prom"},
			wantLevel:    "info",
			wantExporter: "none",
			wantMetrics:  "/var/lib/node_exporter/pkgmatrix.prom",
		},
		{
			name:    "otlp without endpoint",
			env:     map[string]string{"PKGMATRIX_TRACE_EXPORTER": "otlp"},
			wantErr: true,
		},
		{
			name:    "bad level",
			env:     map[string]string{"LOG_LEVEL": "verbose"},
			wantErr: true,
		},
		{
			name:    "bad sampling",
			env:     map[string]string{"PKGMATRIX_TRACE_SAMPLING": "half"},
			wantErr: true,
		},
		{
			name:    "sampling out of range",
			env:     map[string]string{"PKGMATRIX_TRACE_SAMPLING": "2"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ConfigFromEnv(lookupFrom(tt.env))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Logging.Level != tt.wantLevel {
				t.Errorf("level = %q, want %q", cfg.Logging.Level, tt.wantLevel)
			}
			if cfg.Tracing.Exporter != tt.wantExporter {
				t.Errorf("exporter = %q, want %q", cfg.Tracing.Exporter, tt.wantExporter)
			}
			if cfg.Tracing.Enabled != tt.wantTracing {
				t.Errorf("tracing enabled = %v, want %v", cfg.Tracing.Enabled, tt.wantTracing)
			}
			if cfg.Metrics.TextfilePath != tt.wantMetrics {
				t.Errorf("textfile = %q, want %q", cfg.Metrics.TextfilePath, tt.wantMetrics)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("packager").
		WithRunID("run-1").
		WithJobID("5d2b0c41a9e3").
		WithReference("zlib/1.2.13@lasote/stable").
		WithError(errors.New("boom")).
		Warnf("attempt %d", 2)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v: %s", err, buf.String())
	}
	delete(entry, "time")

	want := map[string]interface{}{
		"level":     "warn",
		"component": "packager",
		"run_id":    "run-1",
		"job_id":    "5d2b0c41a9e3",
		"reference": "zlib/1.2.13@lasote/stable",
		"error":     "boom",
		"message":   "attempt 2",
	}
	if diff := cmp.Diff(want, entry); diff != "" {
		t.Errorf("log entry mismatch (-want +got):\n%s", diff)
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Error("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], "shown") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"debug": zerolog.DebugLevel,
		"error": zerolog.ErrorLevel,
		"bogus": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromContextDefault(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected a fallback logger")
	}

	logger := NewLoggerWithWriter(LoggingConfig{Format: "json"}, io.Discard)
	ctx := logger.WithContext(context.Background())
	if FromContext(ctx) != logger {
		t.Error("expected the logger stored in the context")
	}
}

func testMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestMetrics(t *testing.T) {
	m := testMetrics(t)

	m.RecordRunStarted("docker")
	m.SetMatrixSize(12, 4)
	m.RecordDropped("excluded", 3)
	m.RecordDropped("duplicate", 0)
	m.RecordJobStarted()
	m.RecordJobStarted()
	m.RecordJobFinished("docker", "success", 30*time.Second)
	m.RecordUpload("package", "uploaded")
	m.RecordUpload("package", "uploaded")
	m.RecordError("permanent", matrix.ErrCodeBuildFailed)
	m.RecordError("transient", "")
	m.RecordRunCompleted("completed", time.Minute)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"runs started", testutil.ToFloat64(m.runsStarted.WithLabelValues("docker")), 1},
		{"runs completed", testutil.ToFloat64(m.runsCompleted.WithLabelValues("completed")), 1},
		{"matrix total", testutil.ToFloat64(m.matrixJobs.WithLabelValues("total")), 12},
		{"matrix page", testutil.ToFloat64(m.matrixJobs.WithLabelValues("page")), 4},
		{"excluded", testutil.ToFloat64(m.candidatesDrop.WithLabelValues("excluded")), 3},
		{"active", testutil.ToFloat64(m.activeJobs), 1},
		{"finished", testutil.ToFloat64(m.jobsFinished.WithLabelValues("docker", "success")), 1},
		{"uploads", testutil.ToFloat64(m.uploads.WithLabelValues("package", "uploaded")), 2},
		{"permanent", testutil.ToFloat64(m.errorsByClass.WithLabelValues("permanent")), 1},
		{"build failed", testutil.ToFloat64(m.errorsByCode.WithLabelValues(matrix.ErrCodeBuildFailed)), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	// A zero drop does not create the series.
	if n := testutil.CollectAndCount(m.candidatesDrop); n != 1 {
		t.Errorf("dropped series = %d, want 1", n)
	}
	if n := testutil.CollectAndCount(m.errorsByCode); n != 1 {
		t.Errorf("error code series = %d, want 1", n)
	}
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false, TextfilePath: filepath.Join(t.TempDir(), "m.prom")})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.RecordRunStarted("local")
	m.RecordJobStarted()
	m.RecordJobFinished("local", "success", time.Second)
	m.RecordUpload("recipe", "skipped")
	m.RecordError("permanent", "X")

	if m.Registry() != nil {
		t.Error("disabled metrics should have no registry")
	}
	if err := m.WriteTextfile(); err != nil {
		t.Errorf("WriteTextfile: %v", err)
	}
	if _, err := os.Stat(m.config.TextfilePath); !os.IsNotExist(err) {
		t.Error("disabled metrics should not write a textfile")
	}
	addr, err := m.StartMetricsServer(context.Background())
	if err != nil || addr != "" {
		t.Errorf("StartMetricsServer = %q, %v", addr, err)
	}
}

func TestWriteTextfile(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.TextfilePath = filepath.Join(t.TempDir(), "pkgmatrix.prom")
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordUpload("recipe", "uploaded")

	if err := m.WriteTextfile(); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(cfg.TextfilePath)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	want := `pkgmatrix_uploads_total{kind="recipe",outcome="uploaded"} 1`
	if !strings.Contains(string(data), want) {
		t.Errorf("textfile missing %q:\n%s", want, data)
	}
}

func TestStartMetricsServer(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.ListenAddress = "127.0.0.1:0"
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordRunStarted("ssh")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := m.StartMetricsServer(ctx)
	if err != nil {
		t.Fatalf("StartMetricsServer: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `pkgmatrix_runs_started_total{runner="ssh"} 1`) {
		t.Errorf("metrics body missing run counter:\n%s", body)
	}
}

func TestJobObserver(t *testing.T) {
	var spans bytes.Buffer
	cfg := DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"

	tracer, err := newTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment, &spans)
	if err != nil {
		t.Fatalf("newTracer: %v", err)
	}
	var logs bytes.Buffer
	tel := &Telemetry{
		Logger:  NewLoggerWithWriter(LoggingConfig{Level: "info", Format: "json"}, &logs),
		Tracer:  tracer,
		Metrics: testMetrics(t),
		Config:  cfg,
	}

	ctx := tel.WithContext(context.Background())
	ctx = WithRunContext(ctx, "run-1", "zlib/1.2.13@lasote/stable", "docker")

	obs := StartJob(ctx, "5d2b0c41a9e3", "compiler=gcc", "docker")
	if TraceID(obs.Ctx) == "" {
		t.Error("job context should carry a trace")
	}
	obs.Logger.Info("building")
	buildErr := matrix.NewPermanentError("build failed", nil).WithCode(matrix.ErrCodeBuildFailed)
	obs.End("failed", buildErr)

	EndRunContext(ctx, "failed", 1, buildErr)
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	for _, name := range []string{`"Name":"matrix.run"`, `"Name":"matrix.job"`, `"Value":"5d2b0c41a9e3"`} {
		if !strings.Contains(spans.String(), name) {
			t.Errorf("exported spans missing %s", name)
		}
	}
	if !strings.Contains(logs.String(), `"job_id":"5d2b0c41a9e3"`) || !strings.Contains(logs.String(), `"run_id":"run-1"`) {
		t.Errorf("job log lacks run or job id: %s", logs.String())
	}

	m := tel.Metrics
	if got := testutil.ToFloat64(m.jobsFinished.WithLabelValues("docker", "failed")); got != 1 {
		t.Errorf("failed jobs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeJobs); got != 0 {
		t.Errorf("active jobs = %v, want 0", got)
	}
	// Counted once by the job and once by the run.
	if got := testutil.ToFloat64(m.errorsByCode.WithLabelValues(matrix.ErrCodeBuildFailed)); got != 2 {
		t.Errorf("build failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.runsCompleted.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed runs = %v, want 1", got)
	}
}

func TestStartJobWithoutTelemetry(t *testing.T) {
	obs := StartJob(context.Background(), "5d2b0c41a9e3", "", "local")
	if obs.Logger == nil || obs.Ctx == nil {
		t.Fatal("observer should always carry a logger and a context")
	}
	if d := obs.End("success", nil); d < 0 {
		t.Errorf("negative duration %v", d)
	}
	EndRunContext(context.Background(), "completed", 0, nil)
}

func TestRecordErrorMetricInternal(t *testing.T) {
	tel := &Telemetry{Metrics: testMetrics(t)}
	ctx := context.WithValue(context.Background(), telemetryContextKey{}, tel)

	RecordErrorMetric(ctx, errors.New("disk full"))
	RecordErrorMetric(ctx, nil)

	if got := testutil.ToFloat64(tel.Metrics.errorsByClass.WithLabelValues("internal")); got != 1 {
		t.Errorf("internal errors = %v, want 1", got)
	}
}

func TestTracerDisabled(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Exporter: "none"}, "pkgmatrix", "dev", "local")
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	ctx, span := tracer.StartRunSpan(context.Background(), "run-1", "zlib/1.2.13")
	defer span.End()

	if TraceID(ctx) != "" {
		t.Error("disabled tracer should not produce trace ids")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
