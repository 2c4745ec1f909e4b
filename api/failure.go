package api

import (
	stderrors "errors"

	"github.com/luno/jettison/errors"

	"github.com/corverroos/loom"
)

// maxFailureDepth caps the serialised cause chain.
const maxFailureDepth = 5

// Failure is the serialisable form of a workflow or activity error. It
// round-trips the typed errors of the root package across the service
// boundary so that retry classification and error unwrapping behave the
// same on both sides.
type Failure struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
	Details []byte `json:"details,omitempty"`

	TimeoutType loom.TimeoutType `json:"timeout_type,omitempty"`

	ActivityType     string `json:"activity_type,omitempty"`
	ActivityID       string `json:"activity_id,omitempty"`
	ScheduledEventID int64  `json:"scheduled_event_id,omitempty"`

	WorkflowType string          `json:"workflow_type,omitempty"`
	Execution    *loom.Execution `json:"execution,omitempty"`

	Cause *Failure `json:"cause,omitempty"`
}

// Failure reason discriminators.
const (
	FailureReasonGeneric       = "generic"
	FailureReasonApplication   = "application"
	FailureReasonCanceled      = "canceled"
	FailureReasonTimeout       = "timeout"
	FailureReasonPanic         = "panic"
	FailureReasonTerminated    = "terminated"
	FailureReasonActivity      = "activity"
	FailureReasonChildWorkflow = "child_workflow"
)

// FailureFromError converts an error into its serialisable form, preserving
// the typed error chain up to maxFailureDepth.
func FailureFromError(err error) *Failure {
	return failureFromError(err, 0)
}

func failureFromError(err error, depth int) *Failure {
	if err == nil {
		return nil
	}
	if depth >= maxFailureDepth {
		return &Failure{Reason: FailureReasonGeneric, Message: err.Error()}
	}

	switch terr := err.(type) {
	case *loom.ApplicationError:
		return &Failure{
			Reason:  FailureReasonApplication,
			Message: terr.Reason,
			Details: terr.Details,
		}
	case *loom.CanceledError:
		return &Failure{
			Reason:  FailureReasonCanceled,
			Details: terr.Details,
		}
	case *loom.TimeoutError:
		return &Failure{
			Reason:      FailureReasonTimeout,
			TimeoutType: terr.Type,
			Details:     terr.Details,
		}
	case *loom.PanicError:
		return &Failure{
			Reason:  FailureReasonPanic,
			Message: terr.Value,
			Details: []byte(terr.Stack),
		}
	case *loom.TerminatedError:
		return &Failure{
			Reason:  FailureReasonTerminated,
			Message: terr.Reason,
		}
	case *loom.ActivityError:
		return &Failure{
			Reason:           FailureReasonActivity,
			Message:          terr.Error(),
			ActivityType:     terr.ActivityType,
			ActivityID:       terr.ActivityID,
			ScheduledEventID: terr.ScheduledEventID,
			Cause:            failureFromError(terr.Unwrap(), depth+1),
		}
	case *loom.ChildWorkflowError:
		return &Failure{
			Reason:       FailureReasonChildWorkflow,
			Message:      terr.Error(),
			WorkflowType: terr.WorkflowType,
			Execution:    &terr.Execution,
			Cause:        failureFromError(terr.Unwrap(), depth+1),
		}
	}

	f := &Failure{Reason: FailureReasonGeneric, Message: err.Error()}
	if cause := stderrors.Unwrap(err); cause != nil && cause.Error() != err.Error() {
		f.Cause = failureFromError(cause, depth+1)
	}
	return f
}

// ToError reconstructs the typed error chain from its serialisable form.
func (f *Failure) ToError() error {
	if f == nil {
		return nil
	}

	switch f.Reason {
	case FailureReasonApplication:
		return &loom.ApplicationError{Reason: f.Message, Details: f.Details}
	case FailureReasonCanceled:
		return &loom.CanceledError{Details: f.Details}
	case FailureReasonTimeout:
		return &loom.TimeoutError{Type: f.TimeoutType, Details: f.Details}
	case FailureReasonPanic:
		return &loom.PanicError{Value: f.Message, Stack: string(f.Details)}
	case FailureReasonTerminated:
		return &loom.TerminatedError{Reason: f.Message}
	case FailureReasonActivity:
		return loom.NewActivityError(f.ActivityType, f.ActivityID, f.ScheduledEventID, f.Cause.ToError())
	case FailureReasonChildWorkflow:
		var ex loom.Execution
		if f.Execution != nil {
			ex = *f.Execution
		}
		return loom.NewChildWorkflowError(f.WorkflowType, ex, f.Cause.ToError())
	default:
		return errors.New(f.Message)
	}
}
