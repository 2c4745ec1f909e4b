package workflow

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/converter"
	"github.com/corverroos/loom/internal"
)

// GetInfo returns the current execution's info.
func GetInfo(ctx Context) Info {
	return getEnv(ctx).info
}

// Now returns deterministic workflow time: the timestamp of the decision
// task that is (re)executing this code. It only advances between decision
// tasks, never within one.
func Now(ctx Context) time.Time {
	return getEnv(ctx).now
}

// Go runs fn as a new workflow coroutine. Coroutines are scheduled
// cooperatively in creation order, so execution stays deterministic.
func Go(ctx Context, fn func(ctx Context)) {
	getEnv(ctx).disp.newCoroutine("go", func() {
		fn(ctx)
	})
}

// ExecuteActivity schedules an activity on the server and returns a future
// for its result. The activity argument is the registered function or its
// name. Options are taken from WithActivityOptions on ctx.
func ExecuteActivity(ctx Context, activity any, args ...any) Future {
	env := getEnv(ctx)
	opts := getActivityOptions(ctx)

	input, err := env.dc.ToData(args...)
	if err != nil {
		return env.newReadyFuture(nil, err)
	}

	taskQueue := opts.TaskQueue
	if taskQueue == "" {
		taskQueue = env.info.TaskQueue
	}

	env.activitySeq++
	st := env.addCommand(api.Command{
		Type: api.CommandScheduleActivity,
		ScheduleActivity: &api.ActivityTaskScheduledAttributes{
			ActivityID:             strconv.Itoa(env.activitySeq),
			ActivityType:           internal.FuncName(activity),
			TaskQueue:              taskQueue,
			Input:                  input,
			ScheduleToCloseTimeout: opts.ScheduleToCloseTimeout,
			ScheduleToStartTimeout: opts.ScheduleToStartTimeout,
			StartToCloseTimeout:    opts.StartToCloseTimeout,
			HeartbeatTimeout:       opts.HeartbeatTimeout,
			RetryPolicy:            opts.RetryPolicy,
		},
	}, scopeOf(ctx))

	return st.fut
}

// ExecuteLocalActivity runs the function synchronously inside the current
// decision task and records the outcome as a marker, so replays reuse the
// recorded result instead of re-executing. Use it for short, idempotent
// work; long work belongs in ExecuteActivity.
func ExecuteLocalActivity(ctx Context, fn any, args ...any) Future {
	env := getEnv(ctx)
	env.localSeq++
	id := strconv.Itoa(env.localSeq)

	rec, ok := env.nextMarker(api.MarkerLocalActivity, id)
	if !ok {
		input, err := env.dc.ToData(args...)
		if err != nil {
			return env.newReadyFuture(nil, err)
		}
		data, ferr := internal.InvokeActivity(env.taskCtx, fn, env.dc, input)
		rec = markerRecord{data: data, failure: api.FailureFromError(ferr)}
	}

	env.addCommand(api.Command{
		Type: api.CommandRecordMarker,
		RecordMarker: &api.MarkerRecordedAttributes{
			Name:     api.MarkerLocalActivity,
			MarkerID: id,
			Data:     rec.data,
			Failure:  rec.failure,
		},
	}, nil)

	return env.newReadyFuture(rec.data, rec.failure.ToError())
}

// NewTimer returns a future that resolves after d of workflow time.
// Cancelling the scope cancels the timer and resolves the future with a
// CanceledError.
func NewTimer(ctx Context, d time.Duration) Future {
	env := getEnv(ctx)
	env.timerSeq++

	st := env.addCommand(api.Command{
		Type: api.CommandStartTimer,
		StartTimer: &api.TimerStartedAttributes{
			TimerID:  strconv.Itoa(env.timerSeq),
			Duration: d,
		},
	}, scopeOf(ctx))

	return st.fut
}

// Sleep pauses the workflow for d of workflow time.
func Sleep(ctx Context, d time.Duration) error {
	return NewTimer(ctx, d).Get(ctx, nil)
}

// Await blocks until cond returns true. cond is re-evaluated after every
// state change and must be side-effect free.
func Await(ctx Context, cond func() bool) error {
	env := getEnv(ctx)
	env.disp.yieldUntil(func() bool {
		return cond() || ctx.Err() != nil
	})
	if !cond() {
		return loom.NewCanceledError()
	}
	return nil
}

// AwaitWithTimeout blocks until cond returns true or timeout of workflow
// time elapsed. It returns true if the condition was met.
func AwaitWithTimeout(ctx Context, timeout time.Duration, cond func() bool) (bool, error) {
	tctx, cancel := WithCancel(ctx)
	timer := NewTimer(tctx, timeout)

	env := getEnv(ctx)
	env.disp.yieldUntil(func() bool {
		return cond() || timer.IsReady() || ctx.Err() != nil
	})

	if cond() {
		cancel()
		return true, nil
	}
	if ctx.Err() != nil {
		cancel()
		return false, loom.NewCanceledError()
	}
	return false, nil
}

// ExecuteChildWorkflow starts a child workflow execution and returns a
// future for its result. Options are taken from WithChildOptions on ctx.
func ExecuteChildWorkflow(ctx Context, childWorkflow any, args ...any) ChildWorkflowFuture {
	env := getEnv(ctx)
	opts := getChildOptions(ctx)

	env.childSeq++
	input, err := env.dc.ToData(args...)
	if err != nil {
		return &childWorkflowFuture{
			futureImpl: env.newReadyFuture(nil, err),
			started:    env.newReadyFuture(nil, err),
		}
	}

	workflowID := opts.WorkflowID
	if workflowID == "" {
		workflowID = fmt.Sprintf("%s_%d", env.info.Execution.WorkflowID, env.childSeq)
	}
	taskQueue := opts.TaskQueue
	if taskQueue == "" {
		taskQueue = env.info.TaskQueue
	}

	st := env.addCommand(api.Command{
		Type: api.CommandStartChildWorkflow,
		StartChildWorkflow: &api.StartChildWorkflowInitiatedAttributes{
			WorkflowID:        workflowID,
			WorkflowType:      internal.FuncName(childWorkflow),
			TaskQueue:         taskQueue,
			Input:             input,
			ExecutionTimeout:  opts.ExecutionTimeout,
			ParentClosePolicy: opts.ParentClosePolicy,
			IDReusePolicy:     opts.IDReusePolicy,
		},
	}, scopeOf(ctx))
	st.started = env.newFuture()

	return &childWorkflowFuture{futureImpl: st.fut, started: st.started}
}

// SignalExternalWorkflow signals another workflow execution. The future
// resolves once the signal is recorded, or with ErrExecutionNotFound.
func SignalExternalWorkflow(ctx Context, workflowID, runID, signalName string, args ...any) Future {
	env := getEnv(ctx)

	input, err := env.dc.ToData(args...)
	if err != nil {
		return env.newReadyFuture(nil, err)
	}

	env.extSignalSeq++
	st := env.addCommand(api.Command{
		Type: api.CommandSignalExternalWorkflow,
		SignalExternalWorkflow: &api.SignalExternalWorkflowInitiatedAttributes{
			WorkflowID: workflowID,
			RunID:      runID,
			SignalName: signalName,
			Input:      input,
		},
	}, scopeOf(ctx))

	return st.fut
}

// GetSignalChannel returns the channel delivering signals of the given name
// in history order.
func GetSignalChannel(ctx Context, name string) Channel {
	return getEnv(ctx).signalChannel(name)
}

// SideEffect executes fn once and records its result, so replays return the
// recorded value instead of re-executing. fn must not block or interact
// with the outside world beyond producing a value.
func SideEffect(ctx Context, fn func() any) (*converter.EncodedValue, error) {
	env := getEnv(ctx)
	env.sideEffectSeq++
	id := strconv.Itoa(env.sideEffectSeq)

	var data []byte
	if rec, ok := env.nextMarker(api.MarkerSideEffect, id); ok {
		data = rec.data
	} else {
		var err error
		data, err = env.dc.ToData(fn())
		if err != nil {
			return nil, err
		}
	}

	env.addCommand(api.Command{
		Type: api.CommandRecordMarker,
		RecordMarker: &api.MarkerRecordedAttributes{
			Name:     api.MarkerSideEffect,
			MarkerID: id,
			Data:     data,
		},
	}, nil)

	return converter.NewEncodedValue(data, env.dc), nil
}

// MutableSideEffect executes fn and records the result under id if it
// differs from the previously recorded value. Replays return recorded
// values in order.
func MutableSideEffect(ctx Context, id string, fn func() any) (*converter.EncodedValue, error) {
	env := getEnv(ctx)

	if rec, ok := env.nextMarker(api.MarkerMutableSideEffect, id); ok {
		env.addCommand(api.Command{
			Type: api.CommandRecordMarker,
			RecordMarker: &api.MarkerRecordedAttributes{
				Name:     api.MarkerMutableSideEffect,
				MarkerID: id,
				Data:     rec.data,
			},
		}, nil)
		env.mutableLast[id] = rec.data
		return converter.NewEncodedValue(rec.data, env.dc), nil
	}

	data, err := env.dc.ToData(fn())
	if err != nil {
		return nil, err
	}

	if last, ok := env.mutableLast[id]; !ok || string(last) != string(data) {
		env.addCommand(api.Command{
			Type: api.CommandRecordMarker,
			RecordMarker: &api.MarkerRecordedAttributes{
				Name:     api.MarkerMutableSideEffect,
				MarkerID: id,
				Data:     data,
			},
		}, nil)
		env.mutableLast[id] = data
	}

	return converter.NewEncodedValue(data, env.dc), nil
}

// DefaultVersion is returned by GetVersion for code paths recorded before
// the change was introduced.
const DefaultVersion = -1

// GetVersion records the maximum supported version for changeID on first
// execution and returns the recorded version on replay, enabling safe
// workflow code changes. Replays of histories outside [minSupported,
// maxSupported] panic, failing the decision task.
func GetVersion(ctx Context, changeID string, minSupported, maxSupported int) int {
	env := getEnv(ctx)

	if v, ok := env.versions[changeID]; ok {
		return v
	}

	version := maxSupported
	if rec, ok := env.nextMarker(api.MarkerVersion, changeID); ok {
		var err error
		version, err = strconv.Atoi(string(rec.data))
		if err != nil {
			panic(errors.Wrap(err, "corrupt version marker", j.KV("change_id", changeID)))
		}
	}

	if version < minSupported || version > maxSupported {
		panic(errors.New("unsupported workflow version",
			j.MKV{"change_id": changeID, "version": version, "min": minSupported, "max": maxSupported}))
	}

	env.addCommand(api.Command{
		Type: api.CommandRecordMarker,
		RecordMarker: &api.MarkerRecordedAttributes{
			Name:     api.MarkerVersion,
			MarkerID: changeID,
			Data:     []byte(strconv.Itoa(version)),
		},
	}, nil)
	env.versions[changeID] = version

	return version
}

// NewUUID returns a random UUID recorded as a side effect, stable across
// replays.
func NewUUID(ctx Context) (string, error) {
	val, err := SideEffect(ctx, func() any {
		return uuid.New().String()
	})
	if err != nil {
		return "", err
	}
	var s string
	if err := val.Get(&s); err != nil {
		return "", err
	}
	return s, nil
}

// UpsertSearchAttributes merges attrs into the execution's visibility
// record.
func UpsertSearchAttributes(ctx Context, attrs map[string]string) error {
	if len(attrs) == 0 {
		return errors.New("empty search attributes")
	}
	env := getEnv(ctx)

	for k, v := range attrs {
		env.searchAttributes[k] = v
	}

	env.addCommand(api.Command{
		Type: api.CommandUpsertSearchAttributes,
		UpsertSearchAttributes: &api.UpsertSearchAttributesAttributes{
			SearchAttributes: attrs,
		},
	}, nil)

	return nil
}

// SetQueryHandler registers handler for the query type. The handler takes
// the query arguments and returns (result, error). It must not mutate
// workflow state or emit commands.
func SetQueryHandler(ctx Context, queryType string, handler any) error {
	if err := validateQueryHandler(handler); err != nil {
		return err
	}
	getEnv(ctx).queryHandlers[queryType] = handler
	return nil
}

// NewContinueAsNewError returns an error that, when returned from the
// workflow function, closes this run as continued-as-new and starts a fresh
// run with the given arguments.
func NewContinueAsNewError(ctx Context, wf any, args ...any) error {
	env := getEnv(ctx)
	input, err := env.dc.ToData(args...)
	if err != nil {
		return err
	}
	return &loom.ContinueAsNewError{
		WorkflowType: internal.FuncName(wf),
		Input:        input,
	}
}
