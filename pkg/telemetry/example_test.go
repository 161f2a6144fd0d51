package telemetry_test

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openfroyo/pkgmatrix/pkg/telemetry"
)

// ExampleConfigFromEnv builds the configuration of a CI job.
func ExampleConfigFromEnv() {
	env := map[string]string{
		"PKGMATRIX_LOG_LEVEL":     "debug",
		"PKGMATRIX_OTLP_ENDPOINT": "otel-collector:4317",
		"NO_COLOR":                "1",
	}
	cfg, err := telemetry.ConfigFromEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	if err != nil {
		panic(err)
	}

	fmt.Println(cfg.Logging.Level, cfg.Logging.NoColor)
	fmt.Println(cfg.Tracing.Enabled, cfg.Tracing.Exporter, cfg.Tracing.Endpoint)
	// Output:
	// debug true
	// true otlp otel-collector:4317
}

// Example_runInstrumentation instruments a run of two jobs.
func Example_runInstrumentation() {
	cfg := telemetry.DefaultConfig()
	logger := telemetry.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	tel, err := telemetry.NewTelemetryWithLogger(cfg, logger)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	ctx = telemetry.WithRunContext(ctx, "run-1", "zlib/1.2.13@lasote/stable", "local")

	for _, id := range []string{"5d2b0c41a9e3", "9f41c7e20b18"} {
		obs := telemetry.StartJob(ctx, id, "compiler=gcc", "local")
		obs.Logger.Info("building")
		time.Sleep(time.Millisecond)
		obs.End("success", nil)
	}
	telemetry.EndRunContext(ctx, "completed", 2, nil)

	fmt.Println(must(testutil.GatherAndCount(tel.Metrics.Registry(), "pkgmatrix_jobs_finished_total")))
	// Output: 1
}

func must(n int, err error) int {
	if err != nil {
		panic(err)
	}
	return n
}
