package replayer_test

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/client"
	"github.com/corverroos/loom/converter"
	"github.com/corverroos/loom/replayer"
	"github.com/corverroos/loom/server"
	"github.com/corverroos/loom/worker"
	"github.com/corverroos/loom/workflow"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func hist(evs ...api.HistoryEvent) []api.HistoryEvent {
	for i := range evs {
		evs[i].ID = int64(i + 1)
		evs[i].Timestamp = t0
	}
	return evs
}

func encode(t *testing.T, values ...any) []byte {
	t.Helper()
	data, err := converter.Default().ToData(values...)
	jtest.RequireNil(t, err)
	return data
}

func doubleActivity(ctx context.Context, x int) (int, error) {
	return x * 2, nil
}

func orderWorkflow(ctx workflow.Context, x int) (int, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
	})

	var doubled int
	if err := workflow.ExecuteActivity(ctx, doubleActivity, x).Get(ctx, &doubled); err != nil {
		return 0, err
	}
	if err := workflow.Sleep(ctx, time.Hour); err != nil {
		return 0, err
	}
	return doubled, nil
}

// orderHistory is the complete recorded history of one orderWorkflow run:
// an activity, a timer and a successful completion.
func orderHistory(t *testing.T, activityType string) []api.HistoryEvent {
	t.Helper()

	schedAttr := &api.ActivityTaskScheduledAttributes{
		ActivityID:          "1",
		ActivityType:        activityType,
		TaskQueue:           "tq",
		Input:               encode(t, 7),
		StartToCloseTimeout: time.Minute,
	}

	return hist(
		api.HistoryEvent{Type: api.EventWorkflowExecutionStarted, WorkflowExecutionStarted: &api.WorkflowExecutionStartedAttributes{
			WorkflowType: "orderWorkflow",
			TaskQueue:    "tq",
			Input:        encode(t, 7),
		}},
		api.HistoryEvent{Type: api.EventDecisionTaskScheduled, DecisionTaskScheduled: &api.DecisionTaskScheduledAttributes{}},
		api.HistoryEvent{Type: api.EventDecisionTaskStarted, DecisionTaskStarted: &api.DecisionTaskStartedAttributes{}},
		api.HistoryEvent{Type: api.EventDecisionTaskCompleted, DecisionTaskCompleted: &api.DecisionTaskCompletedAttributes{StartedEventID: 3}},
		api.HistoryEvent{Type: api.EventActivityTaskScheduled, ActivityTaskScheduled: schedAttr},
		api.HistoryEvent{Type: api.EventActivityTaskCompleted, ActivityTaskCompleted: &api.ActivityTaskCompletedAttributes{
			ScheduledEventID: 5,
			Result:           encode(t, 14),
		}},
		api.HistoryEvent{Type: api.EventDecisionTaskScheduled, DecisionTaskScheduled: &api.DecisionTaskScheduledAttributes{}},
		api.HistoryEvent{Type: api.EventDecisionTaskStarted, DecisionTaskStarted: &api.DecisionTaskStartedAttributes{}},
		api.HistoryEvent{Type: api.EventDecisionTaskCompleted, DecisionTaskCompleted: &api.DecisionTaskCompletedAttributes{StartedEventID: 8}},
		api.HistoryEvent{Type: api.EventTimerStarted, TimerStarted: &api.TimerStartedAttributes{TimerID: "1", Duration: time.Hour}},
		api.HistoryEvent{Type: api.EventTimerFired, TimerFired: &api.TimerFiredAttributes{TimerID: "1", StartedEventID: 10}},
		api.HistoryEvent{Type: api.EventDecisionTaskScheduled, DecisionTaskScheduled: &api.DecisionTaskScheduledAttributes{}},
		api.HistoryEvent{Type: api.EventDecisionTaskStarted, DecisionTaskStarted: &api.DecisionTaskStartedAttributes{}},
		api.HistoryEvent{Type: api.EventDecisionTaskCompleted, DecisionTaskCompleted: &api.DecisionTaskCompletedAttributes{StartedEventID: 13}},
		api.HistoryEvent{Type: api.EventWorkflowExecutionCompleted, WorkflowExecutionCompleted: &api.WorkflowExecutionCompletedAttributes{
			Result: encode(t, 14),
		}},
	)
}

func newReplayer(t *testing.T) *replayer.Replayer {
	t.Helper()
	r := replayer.New()
	jtest.RequireNil(t, r.RegisterWorkflow(orderWorkflow))
	return r
}

func TestReplayMatch(t *testing.T) {
	r := newReplayer(t)

	err := r.Replay(context.Background(), "orderWorkflow",
		loom.Execution{WorkflowID: "wf", RunID: "run"}, orderHistory(t, "doubleActivity"))
	jtest.RequireNil(t, err)
}

func TestReplayJSON(t *testing.T) {
	r := newReplayer(t)

	data, err := json.Marshal(replayer.WorkflowHistory{
		Execution:    loom.Execution{WorkflowID: "wf", RunID: "run"},
		WorkflowType: "orderWorkflow",
		History:      orderHistory(t, "doubleActivity"),
	})
	jtest.RequireNil(t, err)

	jtest.RequireNil(t, r.ReplayJSON(context.Background(), data))
}

func TestReplayDivergence(t *testing.T) {
	r := newReplayer(t)

	// The recorded run scheduled a different activity than the current
	// code does.
	err := r.Replay(context.Background(), "orderWorkflow",
		loom.Execution{WorkflowID: "wf", RunID: "run"}, orderHistory(t, "legacyActivity"))
	jtest.Require(t, loom.ErrNonDeterministic, err)
}

func TestReplayUnregistered(t *testing.T) {
	r := replayer.New()

	err := r.Replay(context.Background(), "orderWorkflow",
		loom.Execution{WorkflowID: "wf", RunID: "run"}, orderHistory(t, "doubleActivity"))
	require.Error(t, err)
}

func TestTraceGolden(t *testing.T) {
	r := newReplayer(t)

	lines, err := r.Trace(context.Background(), "orderWorkflow",
		loom.Execution{WorkflowID: "wf", RunID: "run"}, orderHistory(t, "doubleActivity"))
	jtest.RequireNil(t, err)

	g := goldie.New(t)
	g.Assert(t, "order_workflow_trace", []byte(strings.Join(lines, "\n")+"\n"))
}

func greetShadowWorkflow(ctx workflow.Context, name string) (string, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
	})

	var doubled int
	if err := workflow.ExecuteActivity(ctx, doubleActivity, 2).Get(ctx, &doubled); err != nil {
		return "", err
	}
	return name, nil
}

func TestShadower(t *testing.T) {
	s := server.New()

	w := worker.New(s, "default", "tq")
	jtest.RequireNil(t, w.RegisterWorkflow(greetShadowWorkflow))
	jtest.RequireNil(t, w.RegisterActivity(doubleActivity))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = w.Run(ctx)
	}()

	c := client.New(s, "default")
	run, err := c.StartWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "shadow1",
		TaskQueue: "tq",
	}, greetShadowWorkflow, "hello")
	jtest.RequireNil(t, err)

	var result string
	jtest.RequireNil(t, run.Get(ctx, &result))
	require.Equal(t, "hello", result)

	r := replayer.New()
	jtest.RequireNil(t, r.RegisterWorkflow(greetShadowWorkflow))

	sh := replayer.NewShadower(r, s, s.Stream, "default")
	sh.SetOutput(io.Discard)

	res, err := sh.Run(ctx, replayer.ShadowOptions{
		WorkflowTypes: []string{"greetShadowWorkflow"},
		Statuses:      []loom.Status{loom.StatusCompleted},
		Query:         `task_queue == "tq"`,
	})
	jtest.RequireNil(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, 1, res.Succeeded)
	require.Empty(t, res.Mismatches)
}
