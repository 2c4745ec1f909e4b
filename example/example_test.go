package example

import (
	"context"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/client"
	"github.com/corverroos/loom/server"
)

// step advances workflow time and fires the timers that became due.
func step(s *server.Server, fc *clocktesting.FakeClock, d time.Duration) {
	fc.Step(d)
	s.FireDueTimers()
}

// awaitHistory polls the current run's history until cond is satisfied,
// giving the worker goroutine time to process outstanding tasks.
func awaitHistory(t *testing.T, c *client.Client, workflowID string, cond func([]api.HistoryEvent) bool) {
	t.Helper()
	ctx := context.Background()
	require.Eventually(t, func() bool {
		history, err := c.GetWorkflowHistory(ctx, workflowID, "").All(ctx)
		jtest.RequireNil(t, err)
		return cond(history)
	}, time.Second*5, time.Millisecond*10)
}

func awaitStatus(t *testing.T, c *client.Client, workflowID string, status loom.Status) api.ExecutionInfo {
	t.Helper()
	ctx := context.Background()
	var info api.ExecutionInfo
	require.Eventually(t, func() bool {
		var err error
		info, err = c.DescribeWorkflowExecution(ctx, workflowID, "")
		jtest.RequireNil(t, err)
		return info.Status == status
	}, time.Second*5, time.Millisecond*10)
	return info
}

func countEvents(history []api.HistoryEvent, typ api.EventType) int {
	var n int
	for _, ev := range history {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func hasTimers(n int) func([]api.HistoryEvent) bool {
	return func(history []api.HistoryEvent) bool {
		return countEvents(history, api.EventTimerStarted) >= n
	}
}

func TestCalculateSignal(t *testing.T) {
	c, _, _ := SetupForTesting(t)
	ctx := context.Background()

	run, err := c.StartWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "calc_signal",
		TaskQueue: "example",
	}, Calculate, 4, 5, 6)
	jtest.RequireNil(t, err)

	// The await timer only starts once all three products completed.
	awaitHistory(t, c, "calc_signal", hasTimers(1))

	jtest.RequireNil(t, c.SignalWorkflow(ctx, "calc_signal", "", "factor", 3))

	var result int
	jtest.RequireNil(t, run.Get(ctx, &result))
	require.Equal(t, 75, result)
}

func TestCalculateTimeout(t *testing.T) {
	c, s, fc := SetupForTesting(t)
	ctx := context.Background()

	run, err := c.StartWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "calc_timeout",
		TaskQueue: "example",
	}, Calculate, 4, 5, 6)
	jtest.RequireNil(t, err)

	awaitHistory(t, c, "calc_timeout", hasTimers(1))

	step(s, fc, time.Minute*2)

	var result int
	jtest.RequireNil(t, run.Get(ctx, &result))
	require.Equal(t, 74, result)
}

func TestHelloAsync(t *testing.T) {
	c, _, _ := SetupForTesting(t)
	ctx := context.Background()

	run, err := c.StartWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "hello_async",
		TaskQueue: "example",
	}, HelloAsync, "World")
	jtest.RequireNil(t, err)

	var result string
	jtest.RequireNil(t, run.Get(ctx, &result))
	require.Equal(t, "Hello World!\nBye World!", result)
}

func TestNamedGreeting(t *testing.T) {
	c, _, _ := SetupForTesting(t)
	ctx := context.Background()

	run, err := c.StartWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "named_greeting",
		TaskQueue: "example",
	}, NamedGreeting)
	jtest.RequireNil(t, err)

	info, err := c.DescribeWorkflowExecution(ctx, "named_greeting", "")
	jtest.RequireNil(t, err)
	h0 := info.HistoryLength

	jtest.RequireNil(t, c.SignalWorkflow(ctx, "named_greeting", "", "receiveName", "A"))

	// Wait for a decision completed after the signal was recorded.
	awaitHistory(t, c, "named_greeting", func(history []api.HistoryEvent) bool {
		for _, ev := range history {
			if ev.Type == api.EventDecisionTaskCompleted && ev.ID > h0 {
				return true
			}
		}
		return false
	})

	var result string
	jtest.RequireNil(t, run.Get(ctx, &result))
	require.Equal(t, "Hello A!", result)

	info = awaitStatus(t, c, "named_greeting", loom.StatusCompleted)
	require.Equal(t, "A:No_Error", info.SearchAttributes["CustomKeywordField"])
}

func TestFarewellOnCancel(t *testing.T) {
	c, _, _ := SetupForTesting(t)
	ctx := context.Background()
	ResetInvocations()

	run, err := c.StartWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "farewell",
		TaskQueue: "example",
	}, FarewellOnCancel, "World")
	jtest.RequireNil(t, err)

	// Wait for the ten day sleep before cancelling.
	awaitHistory(t, c, "farewell", hasTimers(1))

	jtest.RequireNil(t, c.CancelWorkflow(ctx, "farewell", ""))

	err = run.Get(ctx, nil)
	require.True(t, loom.IsCanceledError(err))

	awaitStatus(t, c, "farewell", loom.StatusCanceled)
	require.Equal(t, []string{"ComposeGreeting", "SayGoodbye"}, Invocations())
}

func TestCron(t *testing.T) {
	c, s, fc := SetupForTesting(t)
	ctx := context.Background()

	_, err := c.StartWorkflow(ctx, client.StartWorkflowOptions{
		ID:           "cron",
		TaskQueue:    "example",
		CronSchedule: "*/1 * * * *",
	}, Heartbeat)
	jtest.RequireNil(t, err)

	// The first decision is deferred to the next cron fire.
	info, err := c.DescribeWorkflowExecution(ctx, "cron", "")
	jtest.RequireNil(t, err)
	require.Equal(t, loom.StatusRunning, info.Status)
	require.Equal(t, int64(1), info.HistoryLength)

	listClosed := func() []api.ExecutionInfo {
		res, err := c.ListClosedWorkflowExecutions(ctx, &api.ListClosedWorkflowExecutionsRequest{
			WorkflowType: "Heartbeat",
		})
		jtest.RequireNil(t, err)
		return res.Executions
	}

	step(s, fc, time.Minute)

	require.Eventually(t, func() bool {
		return len(listClosed()) == 1
	}, time.Second*5, time.Millisecond*10)

	closed := listClosed()
	require.Equal(t, "cron", closed[0].Execution.WorkflowID)
	require.Equal(t, loom.StatusContinuedAsNew, closed[0].Status)

	// Ninety seconds in, the next run has not fired yet.
	step(s, fc, time.Second*30)
	require.Len(t, listClosed(), 1)

	info, err = c.DescribeWorkflowExecution(ctx, "cron", "")
	jtest.RequireNil(t, err)
	require.Equal(t, loom.StatusRunning, info.Status)
}

func TestExtendableTimerExpires(t *testing.T) {
	c, s, fc := SetupForTesting(t)
	ctx := context.Background()

	run, err := c.StartWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "timer_expires",
		TaskQueue: "example",
	}, ExtendableTimer)
	jtest.RequireNil(t, err)

	awaitHistory(t, c, "timer_expires", hasTimers(1))
	step(s, fc, time.Minute)

	jtest.RequireNil(t, run.Get(ctx, nil))

	info := awaitStatus(t, c, "timer_expires", loom.StatusCompleted)
	require.Equal(t, time.Minute, info.CloseTime.Sub(info.StartTime))
}

func TestExtendableTimerExtended(t *testing.T) {
	c, s, fc := SetupForTesting(t)
	ctx := context.Background()

	run, err := c.StartWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "timer_extended",
		TaskQueue: "example",
	}, ExtendableTimer)
	jtest.RequireNil(t, err)

	awaitHistory(t, c, "timer_extended", hasTimers(1))

	// Two extend signals forty seconds apart, each rearming the timer.
	step(s, fc, time.Second*40)
	jtest.RequireNil(t, c.SignalWorkflow(ctx, "timer_extended", "", "extend"))
	awaitHistory(t, c, "timer_extended", hasTimers(2))

	step(s, fc, time.Second*40)
	jtest.RequireNil(t, c.SignalWorkflow(ctx, "timer_extended", "", "extend"))
	awaitHistory(t, c, "timer_extended", hasTimers(3))

	step(s, fc, time.Minute)

	jtest.RequireNil(t, run.Get(ctx, nil))

	info := awaitStatus(t, c, "timer_extended", loom.StatusCompleted)
	require.Greater(t, info.CloseTime.Sub(info.StartTime), time.Minute*2)
}
