// Package telemetry wires logging, tracing and metrics for pkgmatrix runs.
//
// Logs are structured zerolog records, written to stderr in console form by
// default so plan output on stdout stays parseable. Traces are OpenTelemetry
// spans exported over OTLP gRPC or to stderr. Metrics are Prometheus
// collectors held in a private registry; they can be served while a run lasts
// or written to a node exporter textfile when it ends.
//
// # Usage
//
//	cfg, err := telemetry.ConfigFromEnv(os.LookupEnv)
//	if err != nil {
//	    return err
//	}
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//	ctx = telemetry.WithRunContext(ctx, run.ID, ref.String(), "docker")
//	for _, job := range jobs {
//	    obs := telemetry.StartJob(ctx, job.ID, job.Configuration.String(), "docker")
//	    result, err := r.Run(obs.Ctx, job)
//	    obs.End(string(result.Status), err)
//	}
//	telemetry.EndRunContext(ctx, "completed", len(jobs), nil)
//
// # Environment
//
// ConfigFromEnv reads:
//
//	PKGMATRIX_LOG_LEVEL, LOG_LEVEL   minimum level (debug, info, ...)
//	PKGMATRIX_LOG_FORMAT             console or json
//	PKGMATRIX_LOG_OUTPUT             stdout, stderr or a file path
//	PKGMATRIX_METRICS_ADDR           serve /metrics on this address
//	PKGMATRIX_METRICS_FILE           write metrics here when the run ends
//	PKGMATRIX_OTLP_ENDPOINT          enables OTLP trace export
//	PKGMATRIX_TRACE_EXPORTER         otlp, stdout or none
//	PKGMATRIX_TRACE_SAMPLING         ratio between 0 and 1
//	NO_COLOR                         plain console output
//
// # Metrics
//
// All collectors share the pkgmatrix namespace:
//
//	runs_started_total{runner}
//	runs_completed_total{status}, run_duration_seconds{status}
//	matrix_jobs{scope}, matrix_candidates_dropped_total{reason}
//	jobs_finished_total{runner,status}, job_duration_seconds{runner}
//	active_jobs
//	uploads_total{kind,outcome}
//	errors_by_class_total{class}, errors_by_code_total{code}
package telemetry
