package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler state gauges, refreshed from instance snapshots.
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "herd_instances_total",
			Help: "Number of live scheduler instances by state",
		},
		[]string{"state"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "herd_tasks_total",
			Help: "Number of tasks across all instances by state",
		},
		[]string{"state"},
	)

	DevicesHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "herd_devices_held_total",
			Help: "Number of devices currently held by queue workers",
		},
	)

	// Lifecycle counters, incremented from broker events.
	TaskRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "herd_task_runs_total",
			Help: "Total number of task executions started",
		},
	)

	TaskRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "herd_task_retries_total",
			Help: "Total number of task retries",
		},
	)

	TaskBackoffsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "herd_task_backoffs_total",
			Help: "Total number of retry backoff sleeps",
		},
	)

	TaskTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "herd_task_timeouts_total",
			Help: "Total number of child process timeouts",
		},
	)

	TasksCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "herd_tasks_completed_total",
			Help: "Total number of tasks that completed successfully",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herd_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herd_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(DevicesHeld)
	prometheus.MustRegister(TaskRunsTotal)
	prometheus.MustRegister(TaskRetriesTotal)
	prometheus.MustRegister(TaskBackoffsTotal)
	prometheus.MustRegister(TaskTimeoutsTotal)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
