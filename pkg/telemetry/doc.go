// Package telemetry provides observability for partcraft build sessions.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus) behind a single Telemetry bundle.
//
// # Usage
//
// Initialize telemetry once at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("scheduler")
//	logger.WithSessionID(id).WithPart("libfoo").Info("part build started")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Tracing
//
// A build session produces one session span with a child span per part
// build and per environment computation:
//
//	ctx, span := tel.Tracer.StartSessionSpan(ctx, sessionID, project)
//	defer span.End()
//
// Supported exporters: otlp, stdout, none.
//
// # Metrics
//
// Session, part build and environment metrics are registered on a private
// registry and served by StartMetricsServer when a listen address is set:
//
//	partcraft_sessions_started_total{project}
//	partcraft_sessions_completed_total{status}
//	partcraft_session_duration_seconds{status}
//	partcraft_part_builds_total{status}
//	partcraft_part_build_duration_seconds{plugin}
//	partcraft_environments_built_total{root_part}
//	partcraft_environment_build_duration_seconds
//	partcraft_environment_assignments
//	partcraft_errors_total{code}
//	partcraft_active_part_builds
//	partcraft_queued_parts
//	partcraft_build_parallelism
package telemetry
