/*
Package metrics defines and registers the controller's Prometheus metrics.

The metrics package owns every metric name in the binary, the periodic
collector that derives inventory gauges from storage, and the /metrics
handler the API mounts. Components increment counters at the point where
the thing happened; nothing else in the codebase touches the registry.

# Metrics Catalog

Inventory gauges (refreshed by the collector):

	challengectl_challenges_total{status}   challenges by dispatch status
	challengectl_runners_total{status}      runners by liveness status
	challengectl_runners_disabled           runners excluded by an operator
	challengectl_files_total                payload files in the blob store
	challengectl_system_paused              1 while dispatch is paused

Dispatch counters and histograms:

	challengectl_assignments_total          assignments handed to runners
	challengectl_assign_latency_seconds     time to select and assign
	challengectl_transmissions_total{outcome}  completion reports
	challengectl_stale_reports_total        reports after reclaim

Liveness sweep:

	challengectl_assignments_expired_total  reclaims after TTL lapse
	challengectl_runners_timed_out_total    runners marked offline
	challengectl_sweep_duration_seconds{sweep}

Auth and API:

	challengectl_auth_failures_total{reason}
	challengectl_api_requests_total{method,status}
	challengectl_api_request_duration_seconds{method}
	challengectl_event_subscribers

# Usage

Counters are package-level and incremented inline:

	metrics.AssignmentsTotal.Inc()
	metrics.TransmissionsTotal.WithLabelValues(string(report.Outcome)).Inc()

The collector runs on an interval inside the controller and rewrites the
inventory gauges from a single storage Stats() call:

	collector := metrics.NewCollector(store)
	go collector.Run(ctx)

The API mounts the exposition endpoint:

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

# Design Notes

Registration happens in init via MustRegister, so importing the package
twice with conflicting definitions panics at startup rather than
miscounting in production. Gauges derived from storage are set, not
incremented, which keeps them correct across controller restarts.

# See Also

  - pkg/api for the endpoint and per-request instrumentation
  - pkg/monitor for the sweep metrics
*/
package metrics
