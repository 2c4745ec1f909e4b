package server

import "github.com/prometheus/client_golang/prometheus"

var (
	executionsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "server",
		Name:      "executions_started_total",
		Help:      "Total number of workflow executions started.",
	}, []string{"domain", "workflow_type"})

	executionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "server",
		Name:      "executions_closed_total",
		Help:      "Total number of workflow executions closed by status.",
	}, []string{"domain", "workflow_type", "status"})

	executionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "loom",
		Subsystem: "server",
		Name:      "execution_duration_seconds",
		Help:      "Workflow execution start to close duration in seconds.",
		Buckets:   []float64{1, 60, 10 * 60, 60 * 60, 24 * 60 * 60, 7 * 24 * 60 * 60, 30 * 24 * 60 * 60},
	}, []string{"domain", "workflow_type"})

	timersFired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "server",
		Name:      "timers_fired_total",
		Help:      "Total number of durable timers fired.",
	})
)

func init() {
	prometheus.MustRegister(
		executionsStarted,
		executionsClosed,
		executionDuration,
		timersFired,
	)
}
