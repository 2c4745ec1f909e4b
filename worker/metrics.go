package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	decisionTasks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "worker",
		Name:      "decision_tasks_total",
		Help:      "Total number of decision tasks processed by result.",
	}, []string{"task_queue", "result"})

	decisionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "loom",
		Subsystem: "worker",
		Name:      "decision_task_duration_seconds",
		Help:      "Decision task processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"task_queue"})

	activityTasks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "worker",
		Name:      "activity_tasks_total",
		Help:      "Total number of activity tasks executed by result.",
	}, []string{"task_queue", "activity", "result"})

	activityDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "loom",
		Subsystem: "worker",
		Name:      "activity_task_duration_seconds",
		Help:      "Activity execution duration in seconds.",
		Buckets:   []float64{.01, .1, 1, 10, 60, 10 * 60, 60 * 60},
	}, []string{"task_queue", "activity"})

	stickyCacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "worker",
		Name:      "sticky_cache_misses_total",
		Help:      "Total number of decision tasks requiring a full history replay.",
	}, []string{"task_queue"})
)

func init() {
	prometheus.MustRegister(
		decisionTasks,
		decisionDuration,
		activityTasks,
		activityDuration,
		stickyCacheMisses,
	)
}

// Metrics overrides the default prometheus worker metrics, mainly for tests.
type Metrics struct {
	IncDecision   func(result string)
	DecisionTook  func(seconds float64)
	IncActivity   func(activity, result string)
	ActivityTook  func(activity string, seconds float64)
	IncStickyMiss func()
}

func defaultMetrics(taskQueue string) Metrics {
	return Metrics{
		IncDecision: func(result string) {
			decisionTasks.WithLabelValues(taskQueue, result).Inc()
		},
		DecisionTook: func(seconds float64) {
			decisionDuration.WithLabelValues(taskQueue).Observe(seconds)
		},
		IncActivity: func(activity, result string) {
			activityTasks.WithLabelValues(taskQueue, activity, result).Inc()
		},
		ActivityTook: func(activity string, seconds float64) {
			activityDuration.WithLabelValues(taskQueue, activity).Observe(seconds)
		},
		IncStickyMiss: func() {
			stickyCacheMisses.WithLabelValues(taskQueue).Inc()
		},
	}
}
