package api

import (
	"context"
	"time"

	"github.com/corverroos/loom"
)

// Service is the workflow service verb set. The in-memory server implements
// it directly and clients and workers depend only on this interface.
//
// Poll verbs block until a task is available or ctx is done. Idempotent
// verbs dedupe on RequestID.
type Service interface {
	StartWorkflowExecution(ctx context.Context, req *StartWorkflowExecutionRequest) (*StartWorkflowExecutionResponse, error)
	SignalWorkflowExecution(ctx context.Context, req *SignalWorkflowExecutionRequest) error
	SignalWithStartWorkflowExecution(ctx context.Context, req *SignalWithStartWorkflowExecutionRequest) (*StartWorkflowExecutionResponse, error)
	QueryWorkflow(ctx context.Context, req *QueryWorkflowRequest) (*QueryWorkflowResponse, error)
	RequestCancelWorkflowExecution(ctx context.Context, req *RequestCancelWorkflowExecutionRequest) error
	TerminateWorkflowExecution(ctx context.Context, req *TerminateWorkflowExecutionRequest) error
	DescribeWorkflowExecution(ctx context.Context, req *DescribeWorkflowExecutionRequest) (*DescribeWorkflowExecutionResponse, error)
	GetWorkflowExecutionHistory(ctx context.Context, req *GetWorkflowExecutionHistoryRequest) (*GetWorkflowExecutionHistoryResponse, error)
	ListClosedWorkflowExecutions(ctx context.Context, req *ListClosedWorkflowExecutionsRequest) (*ListClosedWorkflowExecutionsResponse, error)

	PollForDecisionTask(ctx context.Context, req *PollForDecisionTaskRequest) (*DecisionTask, error)
	RespondDecisionTaskCompleted(ctx context.Context, req *RespondDecisionTaskCompletedRequest) error
	RespondDecisionTaskFailed(ctx context.Context, req *RespondDecisionTaskFailedRequest) error

	PollForActivityTask(ctx context.Context, req *PollForActivityTaskRequest) (*ActivityTask, error)
	RespondActivityTaskCompleted(ctx context.Context, req *RespondActivityTaskCompletedRequest) error
	RespondActivityTaskFailed(ctx context.Context, req *RespondActivityTaskFailedRequest) error
	RespondActivityTaskCanceled(ctx context.Context, req *RespondActivityTaskCanceledRequest) error
	RecordActivityTaskHeartbeat(ctx context.Context, req *RecordActivityTaskHeartbeatRequest) (*RecordActivityTaskHeartbeatResponse, error)
}

type StartWorkflowExecutionRequest struct {
	Domain       string
	WorkflowID   string
	WorkflowType string
	TaskQueue    string
	Input        []byte

	ExecutionTimeout time.Duration
	DecisionTimeout  time.Duration

	IDReusePolicy    loom.IDReusePolicy
	CronSchedule     string
	SearchAttributes map[string]string

	// RequestID dedupes retried starts onto the same run.
	RequestID string
}

type StartWorkflowExecutionResponse struct {
	RunID string

	// AlreadyStarted is true if RequestID matched an existing run.
	AlreadyStarted bool
}

type SignalWorkflowExecutionRequest struct {
	Domain     string
	WorkflowID string
	RunID      string
	SignalName string
	Input      []byte
	RequestID  string
}

type SignalWithStartWorkflowExecutionRequest struct {
	Start       StartWorkflowExecutionRequest
	SignalName  string
	SignalInput []byte
}

type QueryWorkflowRequest struct {
	Domain      string
	WorkflowID  string
	RunID       string
	QueryType   string
	Args        []byte
	Consistency loom.QueryConsistency
}

type QueryWorkflowResponse struct {
	Result []byte
}

type RequestCancelWorkflowExecutionRequest struct {
	Domain     string
	WorkflowID string
	RunID      string
	Cause      string
	RequestID  string
}

type TerminateWorkflowExecutionRequest struct {
	Domain     string
	WorkflowID string
	RunID      string
	Reason     string
}

type DescribeWorkflowExecutionRequest struct {
	Domain     string
	WorkflowID string
	RunID      string
}

type DescribeWorkflowExecutionResponse struct {
	Info ExecutionInfo
}

// ExecutionInfo is the visibility record of one run.
type ExecutionInfo struct {
	Execution        loom.Execution    `json:"execution"`
	WorkflowType     string            `json:"workflow_type"`
	TaskQueue        string            `json:"task_queue"`
	Status           loom.Status       `json:"status"`
	StartTime        time.Time         `json:"start_time"`
	CloseTime        time.Time         `json:"close_time,omitempty"`
	HistoryLength    int64             `json:"history_length"`
	SearchAttributes map[string]string `json:"search_attributes,omitempty"`
	ParentExecution  *loom.Execution   `json:"parent_execution,omitempty"`
}

type GetWorkflowExecutionHistoryRequest struct {
	Domain     string
	WorkflowID string
	RunID      string

	PageSize      int
	NextPageToken string

	// WaitForNewEvent long-polls until at least one event past the token
	// exists or ctx is done.
	WaitForNewEvent bool

	// CloseEventOnly long-polls for the terminal event and returns only it.
	CloseEventOnly bool
}

type GetWorkflowExecutionHistoryResponse struct {
	History       []HistoryEvent
	NextPageToken string
}

type ListClosedWorkflowExecutionsRequest struct {
	Domain string

	// WorkflowType and Status filter the results when non-zero.
	WorkflowType string
	Status       loom.Status

	PageSize      int
	NextPageToken string
}

type ListClosedWorkflowExecutionsResponse struct {
	Executions    []ExecutionInfo
	NextPageToken string
}

type PollForDecisionTaskRequest struct {
	Domain    string
	TaskQueue string
	Identity  string
}

type RespondDecisionTaskCompletedRequest struct {
	TaskToken string
	Commands  []Command

	// QueryResult and QueryError answer the task's query, if any.
	QueryResult []byte
	QueryError  string

	// StickyWorkerID advertises the responding worker for sticky routing.
	StickyWorkerID string
}

type RespondDecisionTaskFailedRequest struct {
	TaskToken string
	Cause     string
}

type PollForActivityTaskRequest struct {
	Domain    string
	TaskQueue string
	Identity  string
}

type RespondActivityTaskCompletedRequest struct {
	TaskToken string
	Result    []byte
}

type RespondActivityTaskFailedRequest struct {
	TaskToken string
	Failure   *Failure
}

type RespondActivityTaskCanceledRequest struct {
	TaskToken string
	Details   []byte
}

type RecordActivityTaskHeartbeatRequest struct {
	TaskToken string
	Details   []byte
}

type RecordActivityTaskHeartbeatResponse struct {
	// CancelRequested tells the activity to cancel cooperatively.
	CancelRequested bool
}
