package workflow

import (
	"bytes"
	"reflect"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
)

// applyEvent advances the execution state by one history event. Events that
// resolve futures run the dispatcher to quiescence afterwards so workflow
// code reacts before the next event, mirroring live execution order.
func (e *executionEnv) applyEvent(ev api.HistoryEvent) error {
	switch ev.Type {
	case api.EventWorkflowExecutionStarted:
		e.now = ev.Timestamp
		e.startRoot(ev.WorkflowExecutionStarted)
		return e.disp.run()

	case api.EventDecisionTaskStarted:
		e.now = ev.Timestamp
		return nil

	case api.EventDecisionTaskScheduled,
		api.EventDecisionTaskCompleted,
		api.EventDecisionTaskFailed,
		api.EventActivityTaskStarted:
		return nil

	case api.EventWorkflowExecutionSignaled:
		attr := ev.WorkflowExecutionSignaled
		e.signalChannel(attr.SignalName).push(attr.Input)
		return e.disp.run()

	case api.EventWorkflowExecutionCancelRequested:
		e.cancelRequested = true
		e.rootScope.cancel()
		return e.disp.run()

	case api.EventWorkflowExecutionTerminated, api.EventWorkflowExecutionTimedOut:
		// Force-closed by the server, no command to match.
		e.terminated = true
		return nil

	case api.EventActivityTaskScheduled,
		api.EventActivityTaskCancelRequested,
		api.EventTimerStarted,
		api.EventTimerCanceled,
		api.EventMarkerRecorded,
		api.EventStartChildWorkflowInitiated,
		api.EventSignalExternalWorkflowInitiated,
		api.EventUpsertSearchAttributes,
		api.EventWorkflowExecutionCompleted,
		api.EventWorkflowExecutionFailed,
		api.EventWorkflowExecutionCanceled,
		api.EventWorkflowExecutionContinuedAsNew:
		return e.matchCommand(ev)

	case api.EventActivityTaskCompleted:
		attr := ev.ActivityTaskCompleted
		return e.resolve(attr.ScheduledEventID, attr.Result, nil)

	case api.EventActivityTaskFailed:
		attr := ev.ActivityTaskFailed
		return e.resolveActivityErr(attr.ScheduledEventID, attr.Failure.ToError())

	case api.EventActivityTaskTimedOut:
		attr := ev.ActivityTaskTimedOut
		terr := &loom.TimeoutError{Type: attr.TimeoutType, Details: attr.LastHeartbeatDetails}
		return e.resolveActivityErr(attr.ScheduledEventID, terr)

	case api.EventActivityTaskCanceled:
		attr := ev.ActivityTaskCanceled
		return e.resolve(attr.ScheduledEventID, nil, &loom.CanceledError{Details: attr.Details})

	case api.EventTimerFired:
		attr := ev.TimerFired
		return e.resolve(attr.StartedEventID, nil, nil)

	case api.EventChildWorkflowExecutionStarted:
		attr := ev.ChildWorkflowExecutionStarted
		st, ok := e.open[attr.InitiatedEventID]
		if !ok {
			return errors.Wrap(loom.ErrNonDeterministic, "unknown initiated event",
				j.KV("event_id", attr.InitiatedEventID))
		}
		data, err := e.dc.ToData(attr.Execution)
		if err != nil {
			return err
		}
		st.started.set(data, nil)
		return e.disp.run()

	case api.EventChildWorkflowExecutionCompleted:
		attr := ev.ChildWorkflowExecutionCompleted
		return e.resolve(attr.InitiatedEventID, attr.Result, nil)

	case api.EventChildWorkflowExecutionFailed:
		attr := ev.ChildWorkflowExecutionFailed
		return e.resolveChildErr(attr.InitiatedEventID, attr.Execution, attr.Failure.ToError())

	case api.EventChildWorkflowExecutionCanceled:
		attr := ev.ChildWorkflowExecutionCanceled
		return e.resolve(attr.InitiatedEventID, nil, &loom.CanceledError{Details: attr.Details})

	case api.EventChildWorkflowExecutionTimedOut:
		attr := ev.ChildWorkflowExecutionTimedOut
		return e.resolveChildErr(attr.InitiatedEventID, attr.Execution,
			&loom.TimeoutError{Type: attr.TimeoutType})

	case api.EventChildWorkflowExecutionTerminated:
		attr := ev.ChildWorkflowExecutionTerminated
		return e.resolveChildErr(attr.InitiatedEventID, attr.Execution,
			&loom.TerminatedError{Reason: "parent or operator"})

	case api.EventExternalWorkflowSignaled:
		attr := ev.ExternalWorkflowSignaled
		return e.resolve(attr.InitiatedEventID, nil, nil)

	case api.EventSignalExternalWorkflowFailed:
		attr := ev.SignalExternalWorkflowFailed
		return e.resolve(attr.InitiatedEventID, nil,
			errors.Wrap(loom.ErrExecutionNotFound, attr.Cause, j.KV("workflow_id", attr.WorkflowID)))

	default:
		return errors.New("unsupported event type", j.KV("type", ev.Type))
	}
}

// matchCommand pops the head of the pending command queue and verifies the
// event was produced by it. A mismatch means workflow code diverged from
// recorded history.
func (e *executionEnv) matchCommand(ev api.HistoryEvent) error {
	if len(e.pending) == 0 {
		return errors.Wrap(loom.ErrNonDeterministic, "event without matching command",
			j.MKV{"event_id": ev.ID, "event_type": ev.Type.String()})
	}

	st := e.pending[0]
	e.pending = e.pending[1:]

	if !commandMatchesEvent(st.cmd, ev) {
		return errors.Wrap(loom.ErrNonDeterministic, "command does not match recorded event",
			j.MKV{
				"event_id":     ev.ID,
				"event_type":   ev.Type.String(),
				"command_type": st.cmd.Type.String(),
			})
	}

	st.eventID = ev.ID

	switch st.cmd.Type {
	case api.CommandScheduleActivity,
		api.CommandStartTimer,
		api.CommandStartChildWorkflow,
		api.CommandSignalExternalWorkflow:
		e.open[ev.ID] = st
	}

	return nil
}

// commandMatchesEvent returns true if the recorded event was produced by the
// command. Initiating commands reuse the event attribute structs so the
// comparison is structural.
func commandMatchesEvent(cmd api.Command, ev api.HistoryEvent) bool {
	switch ev.Type {
	case api.EventActivityTaskScheduled:
		return cmd.Type == api.CommandScheduleActivity &&
			reflect.DeepEqual(cmd.ScheduleActivity, ev.ActivityTaskScheduled)
	case api.EventActivityTaskCancelRequested:
		return cmd.Type == api.CommandRequestCancelActivity &&
			cmd.RequestCancelActivity.ActivityID == ev.ActivityTaskCancelRequested.ActivityID
	case api.EventTimerStarted:
		return cmd.Type == api.CommandStartTimer &&
			reflect.DeepEqual(cmd.StartTimer, ev.TimerStarted)
	case api.EventTimerCanceled:
		return cmd.Type == api.CommandCancelTimer &&
			cmd.CancelTimer.TimerID == ev.TimerCanceled.TimerID
	case api.EventMarkerRecorded:
		return cmd.Type == api.CommandRecordMarker &&
			cmd.RecordMarker.Name == ev.MarkerRecorded.Name &&
			cmd.RecordMarker.MarkerID == ev.MarkerRecorded.MarkerID &&
			bytes.Equal(cmd.RecordMarker.Data, ev.MarkerRecorded.Data)
	case api.EventStartChildWorkflowInitiated:
		return cmd.Type == api.CommandStartChildWorkflow &&
			reflect.DeepEqual(cmd.StartChildWorkflow, ev.StartChildWorkflowInitiated)
	case api.EventSignalExternalWorkflowInitiated:
		return cmd.Type == api.CommandSignalExternalWorkflow &&
			reflect.DeepEqual(cmd.SignalExternalWorkflow, ev.SignalExternalWorkflowInitiated)
	case api.EventUpsertSearchAttributes:
		return cmd.Type == api.CommandUpsertSearchAttributes &&
			reflect.DeepEqual(cmd.UpsertSearchAttributes, ev.UpsertSearchAttributes)
	case api.EventWorkflowExecutionCompleted:
		return cmd.Type == api.CommandCompleteWorkflow &&
			bytes.Equal(cmd.CompleteWorkflow.Result, ev.WorkflowExecutionCompleted.Result)
	case api.EventWorkflowExecutionFailed:
		return cmd.Type == api.CommandFailWorkflow &&
			failureReason(cmd.FailWorkflow.Failure) == failureReason(ev.WorkflowExecutionFailed.Failure)
	case api.EventWorkflowExecutionCanceled:
		return cmd.Type == api.CommandCancelWorkflow &&
			reflect.DeepEqual(cmd.CancelWorkflow, ev.WorkflowExecutionCanceled)
	case api.EventWorkflowExecutionContinuedAsNew:
		return cmd.Type == api.CommandContinueAsNew &&
			bytes.Equal(cmd.ContinueAsNew.Input, ev.WorkflowExecutionContinuedAsNew.Input)
	default:
		return false
	}
}

func failureReason(f *api.Failure) string {
	if f == nil {
		return ""
	}
	return f.Reason
}

// resolve sets the outcome of the operation initiated at eventID and runs
// the dispatcher.
func (e *executionEnv) resolve(eventID int64, data []byte, err error) error {
	st, ok := e.open[eventID]
	if !ok {
		return errors.Wrap(loom.ErrNonDeterministic, "unknown initiated event",
			j.KV("event_id", eventID))
	}
	delete(e.open, eventID)
	st.fut.set(data, err)
	return e.disp.run()
}

func (e *executionEnv) resolveActivityErr(scheduledEventID int64, cause error) error {
	st, ok := e.open[scheduledEventID]
	if !ok {
		return errors.Wrap(loom.ErrNonDeterministic, "unknown scheduled event",
			j.KV("event_id", scheduledEventID))
	}
	delete(e.open, scheduledEventID)

	attr := st.cmd.ScheduleActivity
	st.fut.set(nil, loom.NewActivityError(attr.ActivityType, attr.ActivityID, scheduledEventID, cause))
	return e.disp.run()
}

func (e *executionEnv) resolveChildErr(initiatedEventID int64, execution loom.Execution, cause error) error {
	st, ok := e.open[initiatedEventID]
	if !ok {
		return errors.Wrap(loom.ErrNonDeterministic, "unknown initiated event",
			j.KV("event_id", initiatedEventID))
	}
	delete(e.open, initiatedEventID)

	st.fut.set(nil, loom.NewChildWorkflowError(st.cmd.StartChildWorkflow.WorkflowType, execution, cause))
	return e.disp.run()
}
