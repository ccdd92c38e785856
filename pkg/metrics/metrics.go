package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory metrics
	ChallengesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "challengectl_challenges_total",
			Help: "Total number of challenges by status",
		},
		[]string{"status"},
	)

	RunnersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "challengectl_runners_total",
			Help: "Total number of runners by status",
		},
		[]string{"status"},
	)

	RunnersDisabled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "challengectl_runners_disabled",
			Help: "Number of runners excluded from dispatch by an operator",
		},
	)

	FilesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "challengectl_files_total",
			Help: "Total number of payload files in the blob store",
		},
	)

	SystemPaused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "challengectl_system_paused",
			Help: "Whether dispatch is paused (1 = paused, 0 = running)",
		},
	)

	// Dispatch metrics
	AssignmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "challengectl_assignments_total",
			Help: "Total number of challenge assignments handed to runners",
		},
	)

	AssignLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "challengectl_assign_latency_seconds",
			Help:    "Time taken to select and assign a challenge in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TransmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challengectl_transmissions_total",
			Help: "Total number of transmission reports by outcome",
		},
		[]string{"outcome"},
	)

	StaleReports = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "challengectl_stale_reports_total",
			Help: "Total number of completion reports that arrived after the assignment was reclaimed",
		},
	)

	// Liveness metrics
	AssignmentsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "challengectl_assignments_expired_total",
			Help: "Total number of assignments reclaimed after their TTL lapsed",
		},
	)

	RunnersTimedOut = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "challengectl_runners_timed_out_total",
			Help: "Total number of runners marked offline after missing heartbeats",
		},
	)

	SweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "challengectl_sweep_duration_seconds",
			Help:    "Liveness sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	// Auth metrics
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challengectl_auth_failures_total",
			Help: "Total number of rejected credentials by reason",
		},
		[]string{"reason"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challengectl_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "challengectl_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Event stream metrics
	EventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "challengectl_event_subscribers",
			Help: "Number of connected event stream subscribers",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ChallengesTotal)
	prometheus.MustRegister(RunnersTotal)
	prometheus.MustRegister(RunnersDisabled)
	prometheus.MustRegister(FilesTotal)
	prometheus.MustRegister(SystemPaused)
	prometheus.MustRegister(AssignmentsTotal)
	prometheus.MustRegister(AssignLatency)
	prometheus.MustRegister(TransmissionsTotal)
	prometheus.MustRegister(StaleReports)
	prometheus.MustRegister(AssignmentsExpired)
	prometheus.MustRegister(RunnersTimedOut)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(AuthFailures)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(EventSubscribers)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
