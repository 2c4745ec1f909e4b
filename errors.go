package loom

import (
	"fmt"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var (
	// ErrWorkflowAlreadyStarted indicates a start violated the workflow ID
	// reuse policy.
	ErrWorkflowAlreadyStarted = errors.New("workflow already started", j.C("ERR_6a8f2c1d9b03e47a"))

	// ErrExecutionNotFound indicates the workflow execution is unknown.
	ErrExecutionNotFound = errors.New("workflow execution not found", j.C("ERR_1d4b97fa02c6e853"))

	// ErrNonDeterministic indicates replayed workflow code produced commands
	// that diverge from recorded history. It fails the decision task, never
	// the workflow.
	ErrNonDeterministic = errors.New("non-deterministic workflow code", j.C("ERR_9c03ab5e71f2d648"))

	// ErrQueryConsistency indicates a query handler attempted to emit
	// commands. It fails the query only.
	ErrQueryConsistency = errors.New("query handler emitted commands", j.C("ERR_3fa61e08d94c27b5"))

	// ErrQueryNotRegistered indicates the workflow has no handler for the
	// query type.
	ErrQueryNotRegistered = errors.New("query type not registered", j.C("ERR_84dd01c6fe2a95b3"))

	// ErrDuplicateRequest indicates a request ID was already processed.
	ErrDuplicateRequest = errors.New("duplicate request", j.C("ERR_b71c44209a8ef3d6"))
)

// CanceledError is the outcome delivered when a workflow, activity, timer or
// cancellation scope is cancelled.
type CanceledError struct {
	Details []byte
}

func NewCanceledError() *CanceledError {
	return new(CanceledError)
}

func (e *CanceledError) Error() string {
	return "canceled"
}

// IsCanceledError returns true if err is or wraps a CanceledError.
func IsCanceledError(err error) bool {
	var ce *CanceledError
	return errors.As(err, &ce)
}

// TimeoutError indicates a server-enforced deadline expired.
type TimeoutError struct {
	Type TimeoutType

	// Details carries the last recorded heartbeat details for heartbeat
	// timeouts.
	Details []byte
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s", e.Type)
}

// ApplicationError carries a failure raised by user activity or workflow
// code across the data converter. Reason is matched against retry policy
// non-retryable reasons.
type ApplicationError struct {
	Reason  string
	Details []byte
}

func NewApplicationError(reason string, details []byte) *ApplicationError {
	return &ApplicationError{Reason: reason, Details: details}
}

func (e *ApplicationError) Error() string {
	return e.Reason
}

// ActivityError wraps the cause of a failed activity with its identity.
type ActivityError struct {
	ActivityType     string
	ActivityID       string
	ScheduledEventID int64

	cause error
}

func NewActivityError(activityType, activityID string, scheduledEventID int64, cause error) *ActivityError {
	return &ActivityError{
		ActivityType:     activityType,
		ActivityID:       activityID,
		ScheduledEventID: scheduledEventID,
		cause:            cause,
	}
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %s failed: %v", e.ActivityType, e.cause)
}

func (e *ActivityError) Unwrap() error {
	return e.cause
}

// ChildWorkflowError wraps the terminal error of a failed child workflow.
type ChildWorkflowError struct {
	WorkflowType string
	Execution    Execution

	cause error
}

func NewChildWorkflowError(workflowType string, execution Execution, cause error) *ChildWorkflowError {
	return &ChildWorkflowError{
		WorkflowType: workflowType,
		Execution:    execution,
		cause:        cause,
	}
}

func (e *ChildWorkflowError) Error() string {
	return fmt.Sprintf("child workflow %s failed: %v", e.WorkflowType, e.cause)
}

func (e *ChildWorkflowError) Unwrap() error {
	return e.cause
}

// PanicError indicates workflow or activity code panicked.
type PanicError struct {
	Value string
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %s", e.Value)
}

// TerminatedError indicates the execution was forcefully terminated.
type TerminatedError struct {
	Reason string
}

func (e *TerminatedError) Error() string {
	return fmt.Sprintf("terminated: %s", e.Reason)
}

// WorkflowExecutionError wraps the terminal error of a failed workflow as
// surfaced to the client by GetResult.
type WorkflowExecutionError struct {
	Execution    Execution
	WorkflowType string

	cause error
}

func NewWorkflowExecutionError(workflowType string, execution Execution, cause error) *WorkflowExecutionError {
	return &WorkflowExecutionError{
		Execution:    execution,
		WorkflowType: workflowType,
		cause:        cause,
	}
}

func (e *WorkflowExecutionError) Error() string {
	return fmt.Sprintf("workflow %s failed: %v", e.WorkflowType, e.cause)
}

func (e *WorkflowExecutionError) Unwrap() error {
	return e.cause
}

// ContinueAsNewError closes the current run with intent and starts a fresh
// run of the same workflow ID with the provided input. It is returned from a
// workflow function, typically via workflow.NewContinueAsNewError.
type ContinueAsNewError struct {
	WorkflowType string
	Input        []byte
}

func (e *ContinueAsNewError) Error() string {
	return "continue as new"
}

// IsContinueAsNewError returns true if err is or wraps a ContinueAsNewError.
func IsContinueAsNewError(err error) bool {
	var cn *ContinueAsNewError
	return errors.As(err, &cn)
}
