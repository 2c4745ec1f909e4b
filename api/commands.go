package api

// CommandType identifies a decision emitted by a workflow worker after
// executing a decision task.
type CommandType int

const (
	CommandUnknown CommandType = 0

	CommandScheduleActivity       CommandType = 1
	CommandRequestCancelActivity  CommandType = 2
	CommandStartTimer             CommandType = 3
	CommandCancelTimer            CommandType = 4
	CommandRecordMarker           CommandType = 5
	CommandStartChildWorkflow     CommandType = 6
	CommandSignalExternalWorkflow CommandType = 7
	CommandUpsertSearchAttributes CommandType = 8
	CommandCompleteWorkflow       CommandType = 9
	CommandFailWorkflow           CommandType = 10
	CommandCancelWorkflow         CommandType = 11
	CommandContinueAsNew          CommandType = 12
)

func (t CommandType) String() string {
	s, ok := commandTypeNames[t]
	if !ok {
		return "unknown"
	}
	return s
}

var commandTypeNames = map[CommandType]string{
	CommandScheduleActivity:       "ScheduleActivity",
	CommandRequestCancelActivity:  "RequestCancelActivity",
	CommandStartTimer:             "StartTimer",
	CommandCancelTimer:            "CancelTimer",
	CommandRecordMarker:           "RecordMarker",
	CommandStartChildWorkflow:     "StartChildWorkflow",
	CommandSignalExternalWorkflow: "SignalExternalWorkflow",
	CommandUpsertSearchAttributes: "UpsertSearchAttributes",
	CommandCompleteWorkflow:       "CompleteWorkflow",
	CommandFailWorkflow:           "FailWorkflow",
	CommandCancelWorkflow:         "CancelWorkflow",
	CommandContinueAsNew:          "ContinueAsNew",
}

// Command is a single decision. Exactly one attribute field is set, matching
// Type. Commands that initiate something reuse the attribute structs of the
// history events they produce, so replay can compare a fresh command against
// a recorded event field by field.
type Command struct {
	Type CommandType `json:"type"`

	ScheduleActivity       *ActivityTaskScheduledAttributes           `json:"schedule_activity,omitempty"`
	RequestCancelActivity  *ActivityTaskCancelRequestedAttributes     `json:"request_cancel_activity,omitempty"`
	StartTimer             *TimerStartedAttributes                    `json:"start_timer,omitempty"`
	CancelTimer            *TimerCanceledAttributes                   `json:"cancel_timer,omitempty"`
	RecordMarker           *MarkerRecordedAttributes                  `json:"record_marker,omitempty"`
	StartChildWorkflow     *StartChildWorkflowInitiatedAttributes     `json:"start_child_workflow,omitempty"`
	SignalExternalWorkflow *SignalExternalWorkflowInitiatedAttributes `json:"signal_external_workflow,omitempty"`
	UpsertSearchAttributes *UpsertSearchAttributesAttributes          `json:"upsert_search_attributes,omitempty"`
	CompleteWorkflow       *WorkflowExecutionCompletedAttributes      `json:"complete_workflow,omitempty"`
	FailWorkflow           *WorkflowExecutionFailedAttributes         `json:"fail_workflow,omitempty"`
	CancelWorkflow         *WorkflowExecutionCanceledAttributes       `json:"cancel_workflow,omitempty"`
	ContinueAsNew          *ContinueAsNewAttributes                   `json:"continue_as_new,omitempty"`
}

// ContinueAsNewAttributes carries the restart request of a continue-as-new
// command. The new run id is assigned by the service.
type ContinueAsNewAttributes struct {
	WorkflowType string `json:"workflow_type,omitempty"`
	Input        []byte `json:"input,omitempty"`
}

// IsTerminal returns true if the command closes the workflow execution.
func (c Command) IsTerminal() bool {
	switch c.Type {
	case CommandCompleteWorkflow, CommandFailWorkflow, CommandCancelWorkflow, CommandContinueAsNew:
		return true
	default:
		return false
	}
}
