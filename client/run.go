package client

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
)

// WorkflowRun is a handle to one workflow execution.
type WorkflowRun interface {
	// GetID returns the workflow ID.
	GetID() string

	// GetRunID returns the run ID of the handle's run.
	GetRunID() string

	// Get blocks until the execution closes and decodes its result into
	// valuePtr. Continue-as-new chains are followed to the final run.
	// Failed runs return a WorkflowExecutionError wrapping the cause,
	// cancelled runs a CanceledError, terminated runs a TerminatedError
	// and timed out runs a TimeoutError.
	Get(ctx context.Context, valuePtr any) error
}

type workflowRun struct {
	c          *Client
	workflowID string
	runID      string
}

func (r *workflowRun) GetID() string {
	return r.workflowID
}

func (r *workflowRun) GetRunID() string {
	return r.runID
}

func (r *workflowRun) Get(ctx context.Context, valuePtr any) error {
	runID := r.runID
	for {
		ev, err := r.closeEvent(ctx, runID)
		if err != nil {
			return err
		}

		execution := loom.Execution{WorkflowID: r.workflowID, RunID: runID}

		switch ev.Type {
		case api.EventWorkflowExecutionCompleted:
			result := ev.WorkflowExecutionCompleted.Result
			if valuePtr == nil || len(result) == 0 {
				return nil
			}
			return r.c.o.dc.FromData(result, valuePtr)

		case api.EventWorkflowExecutionFailed:
			cause := ev.WorkflowExecutionFailed.Failure.ToError()
			return loom.NewWorkflowExecutionError("", execution, cause)

		case api.EventWorkflowExecutionCanceled:
			return &loom.CanceledError{Details: ev.WorkflowExecutionCanceled.Details}

		case api.EventWorkflowExecutionTerminated:
			return &loom.TerminatedError{Reason: ev.WorkflowExecutionTerminated.Reason}

		case api.EventWorkflowExecutionTimedOut:
			return &loom.TimeoutError{Type: loom.TimeoutScheduleToClose}

		case api.EventWorkflowExecutionContinuedAsNew:
			runID = ev.WorkflowExecutionContinuedAsNew.NewRunID

		default:
			return errors.New("unexpected close event", j.KV("type", ev.Type))
		}
	}
}

// closeEvent long-polls for the terminal event of the run.
func (r *workflowRun) closeEvent(ctx context.Context, runID string) (api.HistoryEvent, error) {
	res, err := r.c.svc.GetWorkflowExecutionHistory(ctx, &api.GetWorkflowExecutionHistoryRequest{
		Domain:         r.c.domain,
		WorkflowID:     r.workflowID,
		RunID:          runID,
		CloseEventOnly: true,
	})
	if err != nil {
		return api.HistoryEvent{}, errors.Wrap(err, "get close event")
	}
	if len(res.History) == 0 {
		return api.HistoryEvent{}, errors.New("missing close event")
	}
	return res.History[len(res.History)-1], nil
}
