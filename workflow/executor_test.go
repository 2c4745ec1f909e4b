package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/converter"
	"github.com/corverroos/loom/workflow"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// hist assigns 1-based event IDs and the fixed test timestamp.
func hist(evs ...api.HistoryEvent) []api.HistoryEvent {
	for i := range evs {
		evs[i].ID = int64(i + 1)
		evs[i].Timestamp = t0
	}
	return evs
}

func started(input []byte) api.HistoryEvent {
	return api.HistoryEvent{
		Type: api.EventWorkflowExecutionStarted,
		WorkflowExecutionStarted: &api.WorkflowExecutionStartedAttributes{
			WorkflowType: "test",
			TaskQueue:    "tq",
			Input:        input,
		},
	}
}

func decisionCycle() []api.HistoryEvent {
	return []api.HistoryEvent{
		{Type: api.EventDecisionTaskScheduled, DecisionTaskScheduled: &api.DecisionTaskScheduledAttributes{}},
		{Type: api.EventDecisionTaskStarted, DecisionTaskStarted: &api.DecisionTaskStartedAttributes{}},
	}
}

func task(evs []api.HistoryEvent) *api.DecisionTask {
	return &api.DecisionTask{
		TaskToken:    "tok",
		Execution:    loom.Execution{WorkflowID: "wf", RunID: "run"},
		WorkflowType: "test",
		History:      evs,
	}
}

func newExecutor(t *testing.T, fn any) *workflow.Executor {
	t.Helper()
	ex, err := workflow.NewExecutor(fn, converter.Default(), "default")
	jtest.RequireNil(t, err)
	t.Cleanup(ex.Close)
	return ex
}

func encode(t *testing.T, values ...any) []byte {
	t.Helper()
	data, err := converter.Default().ToData(values...)
	jtest.RequireNil(t, err)
	return data
}

func greetWorkflow(ctx workflow.Context, name string) (string, error) {
	return "hello " + name, nil
}

func TestCompleteWorkflow(t *testing.T) {
	ex := newExecutor(t, greetWorkflow)

	evs := append([]api.HistoryEvent{started(encode(t, "world"))}, decisionCycle()...)
	res, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)

	require.Len(t, res.Commands, 1)
	require.Equal(t, api.CommandCompleteWorkflow, res.Commands[0].Type)

	var result string
	jtest.RequireNil(t, converter.Default().FromData(res.Commands[0].CompleteWorkflow.Result, &result))
	require.Equal(t, "hello world", result)
	require.True(t, ex.Done())
}

func failWorkflow(ctx workflow.Context) error {
	return loom.NewApplicationError("boom", nil)
}

func TestFailWorkflow(t *testing.T) {
	ex := newExecutor(t, failWorkflow)

	evs := append([]api.HistoryEvent{started(nil)}, decisionCycle()...)
	res, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)

	require.Len(t, res.Commands, 1)
	require.Equal(t, api.CommandFailWorkflow, res.Commands[0].Type)
	require.Equal(t, api.FailureReasonApplication, res.Commands[0].FailWorkflow.Failure.Reason)
}

func doActivity(ctx context.Context, x int) (int, error) {
	return x * 2, nil
}

func activityWorkflow(ctx workflow.Context, x int) (int, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
	})

	var doubled int
	err := workflow.ExecuteActivity(ctx, doActivity, x).Get(ctx, &doubled)
	if err != nil {
		return 0, err
	}
	return doubled + 1, nil
}

func TestActivityLifecycle(t *testing.T) {
	ex := newExecutor(t, activityWorkflow)

	// First decision: schedule the activity.
	evs := append([]api.HistoryEvent{started(encode(t, 5))}, decisionCycle()...)
	res, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)

	require.Len(t, res.Commands, 1)
	require.Equal(t, api.CommandScheduleActivity, res.Commands[0].Type)
	schedAttr := res.Commands[0].ScheduleActivity
	require.Equal(t, "doActivity", schedAttr.ActivityType)
	require.Equal(t, "tq", schedAttr.TaskQueue)

	// Second decision: the activity completed.
	evs = append(evs,
		api.HistoryEvent{Type: api.EventDecisionTaskCompleted, DecisionTaskCompleted: &api.DecisionTaskCompletedAttributes{}},
		api.HistoryEvent{Type: api.EventActivityTaskScheduled, ActivityTaskScheduled: schedAttr},
		api.HistoryEvent{Type: api.EventActivityTaskStarted, ActivityTaskStarted: &api.ActivityTaskStartedAttributes{ScheduledEventID: 5}},
		api.HistoryEvent{Type: api.EventActivityTaskCompleted, ActivityTaskCompleted: &api.ActivityTaskCompletedAttributes{
			ScheduledEventID: 5,
			Result:           encode(t, 10),
		}},
	)
	evs = append(evs, decisionCycle()...)

	res, err = ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)

	require.Len(t, res.Commands, 1)
	require.Equal(t, api.CommandCompleteWorkflow, res.Commands[0].Type)

	var result int
	jtest.RequireNil(t, converter.Default().FromData(res.Commands[0].CompleteWorkflow.Result, &result))
	require.Equal(t, 11, result)

	// A fresh executor replaying the full history emits the same terminal
	// command and nothing else.
	ex2 := newExecutor(t, activityWorkflow)
	res2, err := ex2.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)
	require.Equal(t, res.Commands, res2.Commands)
}

func TestActivityFailure(t *testing.T) {
	ex := newExecutor(t, activityWorkflow)

	evs := append([]api.HistoryEvent{started(encode(t, 5))}, decisionCycle()...)
	res, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)
	schedAttr := res.Commands[0].ScheduleActivity

	evs = append(evs,
		api.HistoryEvent{Type: api.EventDecisionTaskCompleted, DecisionTaskCompleted: &api.DecisionTaskCompletedAttributes{}},
		api.HistoryEvent{Type: api.EventActivityTaskScheduled, ActivityTaskScheduled: schedAttr},
		api.HistoryEvent{Type: api.EventActivityTaskFailed, ActivityTaskFailed: &api.ActivityTaskFailedAttributes{
			ScheduledEventID: 5,
			Failure:          &api.Failure{Reason: api.FailureReasonApplication, Message: "no luck"},
		}},
	)
	evs = append(evs, decisionCycle()...)

	res, err = ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)

	require.Len(t, res.Commands, 1)
	require.Equal(t, api.CommandFailWorkflow, res.Commands[0].Type)
	require.Equal(t, api.FailureReasonActivity, res.Commands[0].FailWorkflow.Failure.Reason)
}

func TestNonDeterminism(t *testing.T) {
	ex := newExecutor(t, activityWorkflow)

	// History records a timer where the code schedules an activity.
	evs := append([]api.HistoryEvent{started(encode(t, 5))}, decisionCycle()...)
	evs = append(evs,
		api.HistoryEvent{Type: api.EventDecisionTaskCompleted, DecisionTaskCompleted: &api.DecisionTaskCompletedAttributes{}},
		api.HistoryEvent{Type: api.EventTimerStarted, TimerStarted: &api.TimerStartedAttributes{TimerID: "1", Duration: time.Minute}},
	)

	_, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.Require(t, loom.ErrNonDeterministic, err)
}

func timerWorkflow(ctx workflow.Context) (string, error) {
	if err := workflow.Sleep(ctx, time.Hour); err != nil {
		return "", err
	}
	return "woke", nil
}

func TestTimer(t *testing.T) {
	ex := newExecutor(t, timerWorkflow)

	evs := append([]api.HistoryEvent{started(nil)}, decisionCycle()...)
	res, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)

	require.Len(t, res.Commands, 1)
	require.Equal(t, api.CommandStartTimer, res.Commands[0].Type)
	require.Equal(t, time.Hour, res.Commands[0].StartTimer.Duration)

	evs = append(evs,
		api.HistoryEvent{Type: api.EventDecisionTaskCompleted, DecisionTaskCompleted: &api.DecisionTaskCompletedAttributes{}},
		api.HistoryEvent{Type: api.EventTimerStarted, TimerStarted: res.Commands[0].StartTimer},
		api.HistoryEvent{Type: api.EventTimerFired, TimerFired: &api.TimerFiredAttributes{TimerID: "1", StartedEventID: 5}},
	)
	evs = append(evs, decisionCycle()...)

	res, err = ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)
	require.Len(t, res.Commands, 1)
	require.Equal(t, api.CommandCompleteWorkflow, res.Commands[0].Type)
}

var sideEffectCalls int

func sideEffectWorkflow(ctx workflow.Context) (int, error) {
	val, err := workflow.SideEffect(ctx, func() any {
		sideEffectCalls++
		return sideEffectCalls * 100
	})
	if err != nil {
		return 0, err
	}
	var n int
	if err := val.Get(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func TestSideEffectReplay(t *testing.T) {
	sideEffectCalls = 0

	ex := newExecutor(t, sideEffectWorkflow)

	evs := append([]api.HistoryEvent{started(nil)}, decisionCycle()...)
	res, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)

	require.Len(t, res.Commands, 2)
	require.Equal(t, api.CommandRecordMarker, res.Commands[0].Type)
	require.Equal(t, api.CommandCompleteWorkflow, res.Commands[1].Type)

	var result int
	jtest.RequireNil(t, converter.Default().FromData(res.Commands[1].CompleteWorkflow.Result, &result))
	require.Equal(t, 100, result)

	// Replay with the recorded marker: the function must not re-execute,
	// the recorded value is reused.
	full := append([]api.HistoryEvent{started(nil)}, decisionCycle()...)
	full = append(full,
		api.HistoryEvent{Type: api.EventDecisionTaskCompleted, DecisionTaskCompleted: &api.DecisionTaskCompletedAttributes{}},
		api.HistoryEvent{Type: api.EventMarkerRecorded, MarkerRecorded: res.Commands[0].RecordMarker},
		api.HistoryEvent{Type: api.EventWorkflowExecutionCompleted, WorkflowExecutionCompleted: res.Commands[1].CompleteWorkflow},
	)

	ex2 := newExecutor(t, sideEffectWorkflow)
	res2, err := ex2.ProcessTask(context.Background(), task(hist(full...)))
	jtest.RequireNil(t, err)
	require.Empty(t, res2.Commands)
	require.Equal(t, 1, sideEffectCalls)
}

func versionedWorkflow(ctx workflow.Context) (int, error) {
	v := workflow.GetVersion(ctx, "change-1", workflow.DefaultVersion, 2)
	return v, nil
}

func TestGetVersion(t *testing.T) {
	ex := newExecutor(t, versionedWorkflow)

	evs := append([]api.HistoryEvent{started(nil)}, decisionCycle()...)
	res, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)

	require.Len(t, res.Commands, 2)
	require.Equal(t, api.CommandRecordMarker, res.Commands[0].Type)
	require.Equal(t, api.MarkerVersion, res.Commands[0].RecordMarker.Name)

	var result int
	jtest.RequireNil(t, converter.Default().FromData(res.Commands[1].CompleteWorkflow.Result, &result))
	require.Equal(t, 2, result)

	// Replay a history recorded at version 1: GetVersion returns 1.
	full := append([]api.HistoryEvent{started(nil)}, decisionCycle()...)
	full = append(full,
		api.HistoryEvent{Type: api.EventDecisionTaskCompleted, DecisionTaskCompleted: &api.DecisionTaskCompletedAttributes{}},
		api.HistoryEvent{Type: api.EventMarkerRecorded, MarkerRecorded: &api.MarkerRecordedAttributes{
			Name:     api.MarkerVersion,
			MarkerID: "change-1",
			Data:     []byte("1"),
		}},
	)
	full = append(full, decisionCycle()...)

	ex2 := newExecutor(t, versionedWorkflow)
	res2, err := ex2.ProcessTask(context.Background(), task(hist(full...)))
	jtest.RequireNil(t, err)

	require.Len(t, res2.Commands, 1)
	require.Equal(t, api.CommandCompleteWorkflow, res2.Commands[0].Type)
	jtest.RequireNil(t, converter.Default().FromData(res2.Commands[0].CompleteWorkflow.Result, &result))
	require.Equal(t, 1, result)
}

func signalWorkflow(ctx workflow.Context) (string, error) {
	var got string
	workflow.GetSignalChannel(ctx, "name").Receive(ctx, &got)
	return "hello " + got, nil
}

func TestSignal(t *testing.T) {
	ex := newExecutor(t, signalWorkflow)

	evs := append([]api.HistoryEvent{started(nil)}, decisionCycle()...)
	res, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)
	require.Empty(t, res.Commands)

	evs = append(evs,
		api.HistoryEvent{Type: api.EventDecisionTaskCompleted, DecisionTaskCompleted: &api.DecisionTaskCompletedAttributes{}},
		api.HistoryEvent{Type: api.EventWorkflowExecutionSignaled, WorkflowExecutionSignaled: &api.WorkflowExecutionSignaledAttributes{
			SignalName: "name",
			Input:      encode(t, "signals"),
		}},
	)
	evs = append(evs, decisionCycle()...)

	res, err = ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)

	require.Len(t, res.Commands, 1)
	var result string
	jtest.RequireNil(t, converter.Default().FromData(res.Commands[0].CompleteWorkflow.Result, &result))
	require.Equal(t, "hello signals", result)
}

func queryableWorkflow(ctx workflow.Context) (string, error) {
	state := "started"
	if err := workflow.SetQueryHandler(ctx, "state", func() (string, error) {
		return state, nil
	}); err != nil {
		return "", err
	}

	ch := workflow.GetSignalChannel(ctx, "advance")
	ch.Receive(ctx, nil)
	state = "advanced"
	ch.Receive(ctx, nil)
	return state, nil
}

func TestQuery(t *testing.T) {
	ex := newExecutor(t, queryableWorkflow)

	evs := append([]api.HistoryEvent{started(nil)}, decisionCycle()...)
	_, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)

	qt := task(nil)
	qt.Query = &api.QueryInput{QueryType: "state"}
	res, err := ex.ProcessTask(context.Background(), qt)
	jtest.RequireNil(t, err)
	jtest.RequireNil(t, res.QueryErr)

	var state string
	jtest.RequireNil(t, converter.Default().FromData(res.QueryResult, &state))
	require.Equal(t, "started", state)

	qt.Query = &api.QueryInput{QueryType: "missing"}
	res, err = ex.ProcessTask(context.Background(), qt)
	jtest.RequireNil(t, err)
	jtest.Require(t, loom.ErrQueryNotRegistered, res.QueryErr)
}

func signalThenActivityWorkflow(ctx workflow.Context) (int, error) {
	state := "waiting"
	if err := workflow.SetQueryHandler(ctx, "state", func() (string, error) {
		return state, nil
	}); err != nil {
		return 0, err
	}

	workflow.GetSignalChannel(ctx, "go").Receive(ctx, nil)
	state = "working"

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
	})
	var n int
	if err := workflow.ExecuteActivity(ctx, doActivity, 3).Get(ctx, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func TestQueryBetweenSignalAndDecision(t *testing.T) {
	ex := newExecutor(t, signalThenActivityWorkflow)

	evs := append([]api.HistoryEvent{started(nil)}, decisionCycle()...)
	res, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)
	require.Empty(t, res.Commands)

	// A query task snapshots the history including the signal before the
	// next decision task arrives. Its response carries no commands, so the
	// schedule command the signal unblocked must stay buffered.
	evs = append(evs,
		api.HistoryEvent{Type: api.EventDecisionTaskCompleted, DecisionTaskCompleted: &api.DecisionTaskCompletedAttributes{}},
		api.HistoryEvent{Type: api.EventWorkflowExecutionSignaled, WorkflowExecutionSignaled: &api.WorkflowExecutionSignaledAttributes{
			SignalName: "go",
		}},
	)
	qt := task(hist(evs...))
	qt.Query = &api.QueryInput{QueryType: "state"}
	res, err = ex.ProcessTask(context.Background(), qt)
	jtest.RequireNil(t, err)
	jtest.RequireNil(t, res.QueryErr)
	require.Empty(t, res.Commands)

	var state string
	jtest.RequireNil(t, converter.Default().FromData(res.QueryResult, &state))
	require.Equal(t, "working", state)

	// The next real decision task drains the buffered command.
	evs = append(evs, decisionCycle()...)
	res, err = ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)
	require.Len(t, res.Commands, 1)
	require.Equal(t, api.CommandScheduleActivity, res.Commands[0].Type)
}

func commandEmittingQueryWorkflow(ctx workflow.Context) error {
	err := workflow.SetQueryHandler(ctx, "bad", func() (string, error) {
		workflow.ExecuteActivity(ctx, doActivity, 1)
		return "", nil
	})
	if err != nil {
		return err
	}
	workflow.GetSignalChannel(ctx, "never").Receive(ctx, nil)
	return nil
}

func TestQueryConsistencyViolation(t *testing.T) {
	ex := newExecutor(t, commandEmittingQueryWorkflow)

	evs := append([]api.HistoryEvent{started(nil)}, decisionCycle()...)
	_, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)

	qt := task(nil)
	qt.Query = &api.QueryInput{QueryType: "bad"}
	res, err := ex.ProcessTask(context.Background(), qt)
	jtest.RequireNil(t, err)
	jtest.Require(t, loom.ErrQueryConsistency, res.QueryErr)
}

func cancellableWorkflow(ctx workflow.Context) (string, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
	})

	err := workflow.ExecuteActivity(ctx, doActivity, 1).Get(ctx, nil)
	if loom.IsCanceledError(err) {
		// Cleanup survives cancellation via a disconnected scope.
		cctx, _ := workflow.NewDisconnectedContext(ctx)
		cctx = workflow.WithActivityOptions(cctx, workflow.ActivityOptions{
			StartToCloseTimeout: time.Minute,
		})
		workflow.ExecuteActivity(cctx, doActivity, 2)
		return "", err
	}
	return "done", err
}

func TestCancellation(t *testing.T) {
	ex := newExecutor(t, cancellableWorkflow)

	evs := append([]api.HistoryEvent{started(nil)}, decisionCycle()...)
	res, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)
	require.Len(t, res.Commands, 1)
	schedAttr := res.Commands[0].ScheduleActivity

	evs = append(evs,
		api.HistoryEvent{Type: api.EventDecisionTaskCompleted, DecisionTaskCompleted: &api.DecisionTaskCompletedAttributes{}},
		api.HistoryEvent{Type: api.EventActivityTaskScheduled, ActivityTaskScheduled: schedAttr},
		api.HistoryEvent{Type: api.EventWorkflowExecutionCancelRequested, WorkflowExecutionCancelRequested: &api.WorkflowExecutionCancelRequestedAttributes{}},
	)
	evs = append(evs, decisionCycle()...)

	res, err = ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)

	// Cancel request for the pending activity, the cleanup activity in the
	// disconnected scope, and the terminal cancel command.
	require.Len(t, res.Commands, 3)
	require.Equal(t, api.CommandRequestCancelActivity, res.Commands[0].Type)
	require.Equal(t, api.CommandScheduleActivity, res.Commands[1].Type)
	require.Equal(t, api.CommandCancelWorkflow, res.Commands[2].Type)
}

func cancelDetailsWorkflow(ctx workflow.Context) error {
	return &loom.CanceledError{Details: []byte("cleanup done")}
}

func TestCanceledDetailsReplay(t *testing.T) {
	base := append([]api.HistoryEvent{started(nil)}, decisionCycle()...)

	// Matching details replay cleanly.
	evs := append(append([]api.HistoryEvent{}, base...),
		api.HistoryEvent{Type: api.EventDecisionTaskCompleted, DecisionTaskCompleted: &api.DecisionTaskCompletedAttributes{}},
		api.HistoryEvent{Type: api.EventWorkflowExecutionCanceled, WorkflowExecutionCanceled: &api.WorkflowExecutionCanceledAttributes{
			Details: []byte("cleanup done"),
		}},
	)
	ex := newExecutor(t, cancelDetailsWorkflow)
	res, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)
	require.Empty(t, res.Commands)

	// History recording different details means the code diverged.
	evs = append(append([]api.HistoryEvent{}, base...),
		api.HistoryEvent{Type: api.EventDecisionTaskCompleted, DecisionTaskCompleted: &api.DecisionTaskCompletedAttributes{}},
		api.HistoryEvent{Type: api.EventWorkflowExecutionCanceled, WorkflowExecutionCanceled: &api.WorkflowExecutionCanceledAttributes{
			Details: []byte("other"),
		}},
	)
	ex2 := newExecutor(t, cancelDetailsWorkflow)
	_, err = ex2.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.Require(t, loom.ErrNonDeterministic, err)
}

func loopingWorkflow(ctx workflow.Context, n int) error {
	if n >= 3 {
		return nil
	}
	return workflow.NewContinueAsNewError(ctx, loopingWorkflow, n+1)
}

func TestContinueAsNew(t *testing.T) {
	ex := newExecutor(t, loopingWorkflow)

	evs := append([]api.HistoryEvent{started(encode(t, 1))}, decisionCycle()...)
	res, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)

	require.Len(t, res.Commands, 1)
	require.Equal(t, api.CommandContinueAsNew, res.Commands[0].Type)
	require.Equal(t, "loopingWorkflow", res.Commands[0].ContinueAsNew.WorkflowType)

	var n int
	jtest.RequireNil(t, converter.Default().FromData(res.Commands[0].ContinueAsNew.Input, &n))
	require.Equal(t, 2, n)
}

var localCalls int

func localActivity(ctx context.Context, x int) (int, error) {
	localCalls++
	return x + 10, nil
}

func localActivityWorkflow(ctx workflow.Context) (int, error) {
	var n int
	if err := workflow.ExecuteLocalActivity(ctx, localActivity, 7).Get(ctx, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func TestLocalActivity(t *testing.T) {
	localCalls = 0

	ex := newExecutor(t, localActivityWorkflow)

	evs := append([]api.HistoryEvent{started(nil)}, decisionCycle()...)
	res, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)

	require.Len(t, res.Commands, 2)
	require.Equal(t, api.CommandRecordMarker, res.Commands[0].Type)
	require.Equal(t, api.MarkerLocalActivity, res.Commands[0].RecordMarker.Name)
	require.Equal(t, api.CommandCompleteWorkflow, res.Commands[1].Type)
	require.Equal(t, 1, localCalls)

	var result int
	jtest.RequireNil(t, converter.Default().FromData(res.Commands[1].CompleteWorkflow.Result, &result))
	require.Equal(t, 17, result)

	// Replay reuses the recorded marker without re-executing.
	full := append([]api.HistoryEvent{started(nil)}, decisionCycle()...)
	full = append(full,
		api.HistoryEvent{Type: api.EventDecisionTaskCompleted, DecisionTaskCompleted: &api.DecisionTaskCompletedAttributes{}},
		api.HistoryEvent{Type: api.EventMarkerRecorded, MarkerRecorded: res.Commands[0].RecordMarker},
		api.HistoryEvent{Type: api.EventWorkflowExecutionCompleted, WorkflowExecutionCompleted: res.Commands[1].CompleteWorkflow},
	)

	ex2 := newExecutor(t, localActivityWorkflow)
	res2, err := ex2.ProcessTask(context.Background(), task(hist(full...)))
	jtest.RequireNil(t, err)
	require.Empty(t, res2.Commands)
	require.Equal(t, 1, localCalls)
}

func goWorkflow(ctx workflow.Context) (int, error) {
	var a, b int
	workflow.Go(ctx, func(ctx workflow.Context) {
		a = 1
	})
	workflow.Go(ctx, func(ctx workflow.Context) {
		b = 2
	})
	if err := workflow.Await(ctx, func() bool { return a > 0 && b > 0 }); err != nil {
		return 0, err
	}
	return a + b, nil
}

func TestGoAndAwait(t *testing.T) {
	ex := newExecutor(t, goWorkflow)

	evs := append([]api.HistoryEvent{started(nil)}, decisionCycle()...)
	res, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)

	require.Len(t, res.Commands, 1)
	var result int
	jtest.RequireNil(t, converter.Default().FromData(res.Commands[0].CompleteWorkflow.Result, &result))
	require.Equal(t, 3, result)
}

func nowWorkflow(ctx workflow.Context) (time.Time, error) {
	return workflow.Now(ctx), nil
}

func TestDeterministicNow(t *testing.T) {
	ex := newExecutor(t, nowWorkflow)

	evs := append([]api.HistoryEvent{started(nil)}, decisionCycle()...)
	res, err := ex.ProcessTask(context.Background(), task(hist(evs...)))
	jtest.RequireNil(t, err)

	var got time.Time
	jtest.RequireNil(t, converter.Default().FromData(res.Commands[0].CompleteWorkflow.Result, &got))
	require.Equal(t, t0, got.UTC())
}
