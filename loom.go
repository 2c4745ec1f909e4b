// Package loom provides the shared types of a durable workflow runtime:
// execution identity, lifecycle statuses, policies and the error taxonomy
// surfaced to workflow, activity and client code.
//
// Workflow code is authored against the workflow package, activities are
// plain functions executed by the worker package, and the client package
// starts, signals and queries executions against an implementation of the
// api.Service interface.
package loom

import (
	"time"
)

// Execution identifies a single workflow execution attempt. WorkflowID is
// user-chosen, RunID is server-minted per run.
type Execution struct {
	WorkflowID string
	RunID      string
}

// Status defines the lifecycle state of a workflow execution.
type Status int

const (
	StatusUnknown        Status = 0
	StatusRunning        Status = 1
	StatusCompleted      Status = 2
	StatusFailed         Status = 3
	StatusCanceled       Status = 4
	StatusTerminated     Status = 5
	StatusContinuedAsNew Status = 6
	StatusTimedOut       Status = 7
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	case StatusTerminated:
		return "terminated"
	case StatusContinuedAsNew:
		return "continued_as_new"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Closed returns true if the status is terminal.
func (s Status) Closed() bool {
	return s != StatusUnknown && s != StatusRunning
}

// IDReusePolicy defines whether a workflow ID of a closed execution may be
// reused by a new execution.
type IDReusePolicy int

const (
	// AllowDuplicate allows starting a new execution regardless of how a
	// previous execution with the same ID closed. This is the default.
	AllowDuplicate IDReusePolicy = 0

	// AllowDuplicateFailedOnly only allows reuse if the previous execution
	// closed failed, canceled, terminated or timed out.
	AllowDuplicateFailedOnly IDReusePolicy = 1

	// RejectDuplicate never allows reuse of a workflow ID.
	RejectDuplicate IDReusePolicy = 2
)

// ParentClosePolicy defines what happens to child workflows when the parent
// execution closes.
type ParentClosePolicy int

const (
	// ParentCloseTerminate terminates open children. This is the default.
	ParentCloseTerminate ParentClosePolicy = 0

	// ParentCloseAbandon leaves open children running.
	ParentCloseAbandon ParentClosePolicy = 1

	// ParentCloseRequestCancel requests cancellation of open children.
	ParentCloseRequestCancel ParentClosePolicy = 2
)

// QueryConsistency defines the consistency level of a workflow query.
type QueryConsistency int

const (
	// QueryEventual serves the query against whatever history the worker
	// has seen. This is the default.
	QueryEventual QueryConsistency = 0

	// QueryStrong drains all pending decision tasks before serving the
	// query.
	QueryStrong QueryConsistency = 1
)

// TimeoutType identifies which server-enforced deadline expired.
type TimeoutType int

const (
	TimeoutScheduleToStart TimeoutType = 1
	TimeoutScheduleToClose TimeoutType = 2
	TimeoutStartToClose    TimeoutType = 3
	TimeoutHeartbeat       TimeoutType = 4
)

func (t TimeoutType) String() string {
	switch t {
	case TimeoutScheduleToStart:
		return "schedule_to_start"
	case TimeoutScheduleToClose:
		return "schedule_to_close"
	case TimeoutStartToClose:
		return "start_to_close"
	case TimeoutHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// RetryPolicy defines how failed activities are retried by the server.
// Zero MaximumAttempts means unlimited attempts (bounded by the
// schedule-to-close timeout).
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	MaximumAttempts    int

	// NonRetryableErrorReasons short-circuits retries for failures with a
	// matching reason.
	NonRetryableErrorReasons []string
}
