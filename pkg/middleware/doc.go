// Package middleware provides instrumentation for the server's apply
// pipeline.
//
// Every action the server receives runs through a chain of Middleware
// before it is applied to the canonical state. This package includes:
//   - OpenTelemetry tracing of every applied action
//   - Prometheus metrics for actions, sessions and state frames
//
// # OpenTelemetry Middleware
//
// The OpenTelemetry middleware creates one span per action with its type,
// update id and session id:
//
//	srv := server.New(cfg,
//	    server.WithMiddleware(
//	        middleware.OpenTelemetry(middleware.WithTracerName("tablesync")),
//	    ),
//	)
//
// The tracer uses the global OpenTelemetry tracer provider. Configure it in
// main() before starting the server.
//
// # Prometheus Metrics
//
// The Prometheus middleware collects:
//   - tablesync_actions_total: actions applied by type and status
//   - tablesync_action_duration_seconds: apply duration histogram
//   - tablesync_action_errors_total: failed actions by type and error type
//   - tablesync_state_frames_sent_total: SetState and PatchState frames sent
//   - tablesync_active_sessions: current number of sessions
//   - tablesync_duplicate_updates_total: resent updates that were skipped
//   - tablesync_websocket_errors_total: websocket errors by type
//   - tablesync_persists_total: snapshot saves by status
//
// Expose them with promhttp:
//
//	r.Handle("/metrics", promhttp.Handler())
package middleware
