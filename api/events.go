// Package api defines the wire-agnostic surface between workflow workers,
// activity workers, clients and the workflow service: history events,
// commands, tasks, failures and the Service verb set. All user data is
// opaque bytes produced by a converter.DataConverter.
package api

import (
	"time"

	"github.com/corverroos/loom"
)

// EventType identifies the kind of a history event. It implements
// reflex.EventType so terminal events double as close stream event types.
type EventType int

func (t EventType) ReflexType() int {
	return int(t)
}

const (
	EventUnknown EventType = 0

	EventWorkflowExecutionStarted         EventType = 1
	EventWorkflowExecutionCompleted       EventType = 2
	EventWorkflowExecutionFailed          EventType = 3
	EventWorkflowExecutionCanceled        EventType = 4
	EventWorkflowExecutionTerminated      EventType = 5
	EventWorkflowExecutionContinuedAsNew  EventType = 6
	EventWorkflowExecutionTimedOut        EventType = 7
	EventWorkflowExecutionCancelRequested EventType = 8
	EventWorkflowExecutionSignaled        EventType = 9

	EventDecisionTaskScheduled EventType = 10
	EventDecisionTaskStarted   EventType = 11
	EventDecisionTaskCompleted EventType = 12
	EventDecisionTaskFailed    EventType = 13

	EventActivityTaskScheduled       EventType = 14
	EventActivityTaskStarted         EventType = 15
	EventActivityTaskCompleted       EventType = 16
	EventActivityTaskFailed          EventType = 17
	EventActivityTaskTimedOut        EventType = 18
	EventActivityTaskCancelRequested EventType = 19
	EventActivityTaskCanceled        EventType = 20

	EventTimerStarted  EventType = 21
	EventTimerFired    EventType = 22
	EventTimerCanceled EventType = 23

	EventMarkerRecorded EventType = 24

	EventStartChildWorkflowInitiated      EventType = 25
	EventChildWorkflowExecutionStarted    EventType = 26
	EventChildWorkflowExecutionCompleted  EventType = 27
	EventChildWorkflowExecutionFailed     EventType = 28
	EventChildWorkflowExecutionCanceled   EventType = 29
	EventChildWorkflowExecutionTimedOut   EventType = 30
	EventChildWorkflowExecutionTerminated EventType = 31

	EventSignalExternalWorkflowInitiated EventType = 32
	EventExternalWorkflowSignaled        EventType = 33
	EventSignalExternalWorkflowFailed    EventType = 34

	EventUpsertSearchAttributes EventType = 35
)

func (t EventType) String() string {
	s, ok := eventTypeNames[t]
	if !ok {
		return "unknown"
	}
	return s
}

var eventTypeNames = map[EventType]string{
	EventWorkflowExecutionStarted:         "WorkflowExecutionStarted",
	EventWorkflowExecutionCompleted:       "WorkflowExecutionCompleted",
	EventWorkflowExecutionFailed:          "WorkflowExecutionFailed",
	EventWorkflowExecutionCanceled:        "WorkflowExecutionCanceled",
	EventWorkflowExecutionTerminated:      "WorkflowExecutionTerminated",
	EventWorkflowExecutionContinuedAsNew:  "WorkflowExecutionContinuedAsNew",
	EventWorkflowExecutionTimedOut:        "WorkflowExecutionTimedOut",
	EventWorkflowExecutionCancelRequested: "WorkflowExecutionCancelRequested",
	EventWorkflowExecutionSignaled:        "WorkflowExecutionSignaled",
	EventDecisionTaskScheduled:            "DecisionTaskScheduled",
	EventDecisionTaskStarted:              "DecisionTaskStarted",
	EventDecisionTaskCompleted:            "DecisionTaskCompleted",
	EventDecisionTaskFailed:               "DecisionTaskFailed",
	EventActivityTaskScheduled:            "ActivityTaskScheduled",
	EventActivityTaskStarted:              "ActivityTaskStarted",
	EventActivityTaskCompleted:            "ActivityTaskCompleted",
	EventActivityTaskFailed:               "ActivityTaskFailed",
	EventActivityTaskTimedOut:             "ActivityTaskTimedOut",
	EventActivityTaskCancelRequested:      "ActivityTaskCancelRequested",
	EventActivityTaskCanceled:             "ActivityTaskCanceled",
	EventTimerStarted:                     "TimerStarted",
	EventTimerFired:                       "TimerFired",
	EventTimerCanceled:                    "TimerCanceled",
	EventMarkerRecorded:                   "MarkerRecorded",
	EventStartChildWorkflowInitiated:      "StartChildWorkflowInitiated",
	EventChildWorkflowExecutionStarted:    "ChildWorkflowExecutionStarted",
	EventChildWorkflowExecutionCompleted:  "ChildWorkflowExecutionCompleted",
	EventChildWorkflowExecutionFailed:     "ChildWorkflowExecutionFailed",
	EventChildWorkflowExecutionCanceled:   "ChildWorkflowExecutionCanceled",
	EventChildWorkflowExecutionTimedOut:   "ChildWorkflowExecutionTimedOut",
	EventChildWorkflowExecutionTerminated: "ChildWorkflowExecutionTerminated",
	EventSignalExternalWorkflowInitiated:  "SignalExternalWorkflowInitiated",
	EventExternalWorkflowSignaled:         "ExternalWorkflowSignaled",
	EventSignalExternalWorkflowFailed:     "SignalExternalWorkflowFailed",
	EventUpsertSearchAttributes:           "UpsertSearchAttributes",
}

// StatusEventType maps a terminal status to its terminal event type.
func StatusEventType(s loom.Status) EventType {
	switch s {
	case loom.StatusCompleted:
		return EventWorkflowExecutionCompleted
	case loom.StatusFailed:
		return EventWorkflowExecutionFailed
	case loom.StatusCanceled:
		return EventWorkflowExecutionCanceled
	case loom.StatusTerminated:
		return EventWorkflowExecutionTerminated
	case loom.StatusContinuedAsNew:
		return EventWorkflowExecutionContinuedAsNew
	case loom.StatusTimedOut:
		return EventWorkflowExecutionTimedOut
	default:
		return EventUnknown
	}
}

// HistoryEvent is an immutable entry of the per-execution append-only log.
// IDs are 1-based and monotonic. Exactly one attribute field is set,
// matching Type. The struct is JSON-serialisable for offline replay.
type HistoryEvent struct {
	ID        int64     `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	WorkflowExecutionStarted         *WorkflowExecutionStartedAttributes         `json:"workflow_execution_started,omitempty"`
	WorkflowExecutionCompleted       *WorkflowExecutionCompletedAttributes       `json:"workflow_execution_completed,omitempty"`
	WorkflowExecutionFailed          *WorkflowExecutionFailedAttributes          `json:"workflow_execution_failed,omitempty"`
	WorkflowExecutionCanceled        *WorkflowExecutionCanceledAttributes        `json:"workflow_execution_canceled,omitempty"`
	WorkflowExecutionTerminated      *WorkflowExecutionTerminatedAttributes      `json:"workflow_execution_terminated,omitempty"`
	WorkflowExecutionContinuedAsNew  *WorkflowExecutionContinuedAsNewAttributes  `json:"workflow_execution_continued_as_new,omitempty"`
	WorkflowExecutionTimedOut        *WorkflowExecutionTimedOutAttributes        `json:"workflow_execution_timed_out,omitempty"`
	WorkflowExecutionCancelRequested *WorkflowExecutionCancelRequestedAttributes `json:"workflow_execution_cancel_requested,omitempty"`
	WorkflowExecutionSignaled        *WorkflowExecutionSignaledAttributes        `json:"workflow_execution_signaled,omitempty"`

	DecisionTaskScheduled *DecisionTaskScheduledAttributes `json:"decision_task_scheduled,omitempty"`
	DecisionTaskStarted   *DecisionTaskStartedAttributes   `json:"decision_task_started,omitempty"`
	DecisionTaskCompleted *DecisionTaskCompletedAttributes `json:"decision_task_completed,omitempty"`
	DecisionTaskFailed    *DecisionTaskFailedAttributes    `json:"decision_task_failed,omitempty"`

	ActivityTaskScheduled       *ActivityTaskScheduledAttributes       `json:"activity_task_scheduled,omitempty"`
	ActivityTaskStarted         *ActivityTaskStartedAttributes         `json:"activity_task_started,omitempty"`
	ActivityTaskCompleted       *ActivityTaskCompletedAttributes       `json:"activity_task_completed,omitempty"`
	ActivityTaskFailed          *ActivityTaskFailedAttributes          `json:"activity_task_failed,omitempty"`
	ActivityTaskTimedOut        *ActivityTaskTimedOutAttributes        `json:"activity_task_timed_out,omitempty"`
	ActivityTaskCancelRequested *ActivityTaskCancelRequestedAttributes `json:"activity_task_cancel_requested,omitempty"`
	ActivityTaskCanceled        *ActivityTaskCanceledAttributes        `json:"activity_task_canceled,omitempty"`

	TimerStarted  *TimerStartedAttributes  `json:"timer_started,omitempty"`
	TimerFired    *TimerFiredAttributes    `json:"timer_fired,omitempty"`
	TimerCanceled *TimerCanceledAttributes `json:"timer_canceled,omitempty"`

	MarkerRecorded *MarkerRecordedAttributes `json:"marker_recorded,omitempty"`

	StartChildWorkflowInitiated      *StartChildWorkflowInitiatedAttributes      `json:"start_child_workflow_initiated,omitempty"`
	ChildWorkflowExecutionStarted    *ChildWorkflowExecutionStartedAttributes    `json:"child_workflow_execution_started,omitempty"`
	ChildWorkflowExecutionCompleted  *ChildWorkflowExecutionCompletedAttributes  `json:"child_workflow_execution_completed,omitempty"`
	ChildWorkflowExecutionFailed     *ChildWorkflowExecutionFailedAttributes     `json:"child_workflow_execution_failed,omitempty"`
	ChildWorkflowExecutionCanceled   *ChildWorkflowExecutionCanceledAttributes   `json:"child_workflow_execution_canceled,omitempty"`
	ChildWorkflowExecutionTimedOut   *ChildWorkflowExecutionTimedOutAttributes   `json:"child_workflow_execution_timed_out,omitempty"`
	ChildWorkflowExecutionTerminated *ChildWorkflowExecutionTerminatedAttributes `json:"child_workflow_execution_terminated,omitempty"`

	SignalExternalWorkflowInitiated *SignalExternalWorkflowInitiatedAttributes `json:"signal_external_workflow_initiated,omitempty"`
	ExternalWorkflowSignaled        *ExternalWorkflowSignaledAttributes        `json:"external_workflow_signaled,omitempty"`
	SignalExternalWorkflowFailed    *SignalExternalWorkflowFailedAttributes    `json:"signal_external_workflow_failed,omitempty"`

	UpsertSearchAttributes *UpsertSearchAttributesAttributes `json:"upsert_search_attributes,omitempty"`
}

type WorkflowExecutionStartedAttributes struct {
	WorkflowType     string            `json:"workflow_type"`
	TaskQueue        string            `json:"task_queue"`
	Input            []byte            `json:"input,omitempty"`
	ExecutionTimeout time.Duration     `json:"execution_timeout,omitempty"`
	DecisionTimeout  time.Duration     `json:"decision_timeout,omitempty"`
	Attempt          int               `json:"attempt,omitempty"`
	CronSchedule     string            `json:"cron_schedule,omitempty"`
	ContinuedRunID   string            `json:"continued_run_id,omitempty"`
	ParentExecution  *loom.Execution   `json:"parent_execution,omitempty"`
	SearchAttributes map[string]string `json:"search_attributes,omitempty"`
}

type WorkflowExecutionCompletedAttributes struct {
	Result []byte `json:"result,omitempty"`
}

type WorkflowExecutionFailedAttributes struct {
	Failure *Failure `json:"failure"`
}

type WorkflowExecutionCanceledAttributes struct {
	Details []byte `json:"details,omitempty"`
}

type WorkflowExecutionTerminatedAttributes struct {
	Reason string `json:"reason,omitempty"`
}

type WorkflowExecutionContinuedAsNewAttributes struct {
	Input    []byte `json:"input,omitempty"`
	NewRunID string `json:"new_run_id"`
}

type WorkflowExecutionTimedOutAttributes struct{}

type WorkflowExecutionCancelRequestedAttributes struct {
	Cause string `json:"cause,omitempty"`
}

type WorkflowExecutionSignaledAttributes struct {
	SignalName string `json:"signal_name"`
	Input      []byte `json:"input,omitempty"`
}

type DecisionTaskScheduledAttributes struct {
	Attempt int `json:"attempt,omitempty"`
}

type DecisionTaskStartedAttributes struct {
	Identity string `json:"identity,omitempty"`
}

type DecisionTaskCompletedAttributes struct {
	StartedEventID int64 `json:"started_event_id"`
}

type DecisionTaskFailedAttributes struct {
	StartedEventID int64  `json:"started_event_id"`
	Cause          string `json:"cause,omitempty"`
}

type ActivityTaskScheduledAttributes struct {
	ActivityID             string            `json:"activity_id"`
	ActivityType           string            `json:"activity_type"`
	TaskQueue              string            `json:"task_queue,omitempty"`
	Input                  []byte            `json:"input,omitempty"`
	ScheduleToCloseTimeout time.Duration     `json:"schedule_to_close_timeout,omitempty"`
	ScheduleToStartTimeout time.Duration     `json:"schedule_to_start_timeout,omitempty"`
	StartToCloseTimeout    time.Duration     `json:"start_to_close_timeout,omitempty"`
	HeartbeatTimeout       time.Duration     `json:"heartbeat_timeout,omitempty"`
	RetryPolicy            *loom.RetryPolicy `json:"retry_policy,omitempty"`
}

type ActivityTaskStartedAttributes struct {
	ScheduledEventID int64  `json:"scheduled_event_id"`
	Attempt          int    `json:"attempt"`
	Identity         string `json:"identity,omitempty"`
}

type ActivityTaskCompletedAttributes struct {
	ScheduledEventID int64  `json:"scheduled_event_id"`
	Result           []byte `json:"result,omitempty"`
}

type ActivityTaskFailedAttributes struct {
	ScheduledEventID int64    `json:"scheduled_event_id"`
	Failure          *Failure `json:"failure"`
}

type ActivityTaskTimedOutAttributes struct {
	ScheduledEventID     int64            `json:"scheduled_event_id"`
	TimeoutType          loom.TimeoutType `json:"timeout_type"`
	LastHeartbeatDetails []byte           `json:"last_heartbeat_details,omitempty"`
}

type ActivityTaskCancelRequestedAttributes struct {
	ActivityID string `json:"activity_id"`
}

type ActivityTaskCanceledAttributes struct {
	ScheduledEventID int64  `json:"scheduled_event_id"`
	Details          []byte `json:"details,omitempty"`
}

type TimerStartedAttributes struct {
	TimerID  string        `json:"timer_id"`
	Duration time.Duration `json:"duration"`
}

type TimerFiredAttributes struct {
	TimerID        string `json:"timer_id"`
	StartedEventID int64  `json:"started_event_id"`
}

type TimerCanceledAttributes struct {
	TimerID        string `json:"timer_id"`
	StartedEventID int64  `json:"started_event_id,omitempty"`
}

// MarkerRecordedAttributes records an opaque payload chosen by the workflow;
// used for side effects, versions, mutable side effects and local activity
// results.
type MarkerRecordedAttributes struct {
	Name     string   `json:"name"`
	MarkerID string   `json:"marker_id"`
	Data     []byte   `json:"data,omitempty"`
	Failure  *Failure `json:"failure,omitempty"`
}

const (
	MarkerSideEffect        = "side_effect"
	MarkerMutableSideEffect = "mutable_side_effect"
	MarkerVersion           = "version"
	MarkerLocalActivity     = "local_activity"
)

type StartChildWorkflowInitiatedAttributes struct {
	WorkflowID        string                 `json:"workflow_id"`
	WorkflowType      string                 `json:"workflow_type"`
	TaskQueue         string                 `json:"task_queue,omitempty"`
	Input             []byte                 `json:"input,omitempty"`
	ExecutionTimeout  time.Duration          `json:"execution_timeout,omitempty"`
	ParentClosePolicy loom.ParentClosePolicy `json:"parent_close_policy,omitempty"`
	IDReusePolicy     loom.IDReusePolicy     `json:"id_reuse_policy,omitempty"`
}

type ChildWorkflowExecutionStartedAttributes struct {
	InitiatedEventID int64          `json:"initiated_event_id"`
	Execution        loom.Execution `json:"execution"`
	WorkflowType     string         `json:"workflow_type"`
}

type ChildWorkflowExecutionCompletedAttributes struct {
	InitiatedEventID int64          `json:"initiated_event_id"`
	Execution        loom.Execution `json:"execution"`
	Result           []byte         `json:"result,omitempty"`
}

type ChildWorkflowExecutionFailedAttributes struct {
	InitiatedEventID int64          `json:"initiated_event_id"`
	Execution        loom.Execution `json:"execution"`
	Failure          *Failure       `json:"failure"`
}

type ChildWorkflowExecutionCanceledAttributes struct {
	InitiatedEventID int64          `json:"initiated_event_id"`
	Execution        loom.Execution `json:"execution"`
	Details          []byte         `json:"details,omitempty"`
}

type ChildWorkflowExecutionTimedOutAttributes struct {
	InitiatedEventID int64            `json:"initiated_event_id"`
	Execution        loom.Execution   `json:"execution"`
	TimeoutType      loom.TimeoutType `json:"timeout_type"`
}

type ChildWorkflowExecutionTerminatedAttributes struct {
	InitiatedEventID int64          `json:"initiated_event_id"`
	Execution        loom.Execution `json:"execution"`
}

type SignalExternalWorkflowInitiatedAttributes struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id,omitempty"`
	SignalName string `json:"signal_name"`
	Input      []byte `json:"input,omitempty"`
}

type ExternalWorkflowSignaledAttributes struct {
	InitiatedEventID int64  `json:"initiated_event_id"`
	WorkflowID       string `json:"workflow_id"`
}

type SignalExternalWorkflowFailedAttributes struct {
	InitiatedEventID int64  `json:"initiated_event_id"`
	WorkflowID       string `json:"workflow_id"`
	Cause            string `json:"cause,omitempty"`
}

type UpsertSearchAttributesAttributes struct {
	SearchAttributes map[string]string `json:"search_attributes"`
}
