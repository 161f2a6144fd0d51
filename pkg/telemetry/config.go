package telemetry

import (
	"fmt"
	"strconv"
	"time"
)

// Config contains the telemetry configuration of a pkgmatrix run.
type Config struct {
	// ServiceName is the name of the service for telemetry identification.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Environment names where the run happens, usually the CI provider.
	Environment string

	// Logging contains logging configuration.
	Logging LoggingConfig

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string

	// Format specifies the log format (console, json).
	Format string

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool

	// NoColor disables colors of the console format, e.g. on CI logs.
	NoColor bool
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string

	// Endpoint is the OTLP collector address, e.g. "localhost:4317".
	Endpoint string

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64

	// ExportTimeout is the timeout for trace export.
	ExportTimeout time.Duration

	// Headers are additional headers for OTLP exporter.
	Headers map[string]string

	// Insecure disables TLS for the exporter connection.
	Insecure bool
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// ListenAddress serves /metrics while the run lasts when set.
	ListenAddress string

	// Path is the HTTP path for metrics (default: /metrics).
	Path string

	// TextfilePath receives the metrics when the run ends, in the node
	// exporter textfile format.
	TextfilePath string

	// Namespace is the metrics namespace prefix.
	Namespace string

	// DurationBuckets are the build duration buckets in seconds.
	DurationBuckets []float64
}

// DefaultConfig returns a default telemetry configuration: console logs on
// stderr, metrics collected in memory, tracing off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "pkgmatrix",
		ServiceVersion: "dev",
		Environment:    "local",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Headers:       make(map[string]string),
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "pkgmatrix",
			DurationBuckets: []float64{
				1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
			},
		},
	}
}

// ConfigFromEnv applies PKGMATRIX_* variables read through lookup to
// DefaultConfig.
func ConfigFromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PKGMATRIX_LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("PKGMATRIX_LOG_FORMAT", &cfg.Logging.Format)
	str("PKGMATRIX_LOG_OUTPUT", &cfg.Logging.Output)
	str("PKGMATRIX_ENVIRONMENT", &cfg.Environment)
	str("PKGMATRIX_METRICS_ADDR", &cfg.Metrics.ListenAddress)
	str("PKGMATRIX_METRICS_FILE", &cfg.Metrics.TextfilePath)
	str("PKGMATRIX_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	str("PKGMATRIX_TRACE_EXPORTER", &cfg.Tracing.Exporter)

	if _, ok := lookup("NO_COLOR"); ok {
		cfg.Logging.NoColor = true
	}
	if cfg.Tracing.Endpoint != "" && cfg.Tracing.Exporter == "none" {
		cfg.Tracing.Exporter = "otlp"
	}
	cfg.Tracing.Enabled = cfg.Tracing.Exporter != "none"

	if v, ok := lookup("PKGMATRIX_TRACE_SAMPLING"); ok && v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid PKGMATRIX_TRACE_SAMPLING %q: %w", v, err)
		}
		cfg.Tracing.SamplingRate = rate
	}

	return cfg, cfg.Validate()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{
		"otlp": true, "stdout": true, "none": true,
	}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("otlp exporter requires an endpoint")
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	return nil
}
