package worker

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestActivityTaskMetricLabels(t *testing.T) {
	m := defaultMetrics("metricsq")
	m.IncActivity("PingActivity", "completed")
	m.IncActivity("PingActivity", "completed")
	m.IncActivity("PongActivity", "failed")

	require.Equal(t, 2.0, testutil.ToFloat64(activityTasks.WithLabelValues("metricsq", "PingActivity", "completed")))
	require.Equal(t, 1.0, testutil.ToFloat64(activityTasks.WithLabelValues("metricsq", "PongActivity", "failed")))
}
