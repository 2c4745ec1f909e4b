package client_test

import (
	"context"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/client"
	"github.com/corverroos/loom/converter"
	"github.com/corverroos/loom/workflow"
)

// stubService fakes the close-event and start verbs of the service.
type stubService struct {
	api.Service

	startReq    *api.StartWorkflowExecutionRequest
	closeEvents map[string]api.HistoryEvent
}

func (s *stubService) StartWorkflowExecution(_ context.Context, req *api.StartWorkflowExecutionRequest) (*api.StartWorkflowExecutionResponse, error) {
	s.startReq = req
	return &api.StartWorkflowExecutionResponse{RunID: "run1"}, nil
}

func (s *stubService) GetWorkflowExecutionHistory(_ context.Context, req *api.GetWorkflowExecutionHistoryRequest) (*api.GetWorkflowExecutionHistoryResponse, error) {
	ev, ok := s.closeEvents[req.RunID]
	if !ok {
		return nil, loom.ErrExecutionNotFound
	}
	return &api.GetWorkflowExecutionHistoryResponse{History: []api.HistoryEvent{ev}}, nil
}

func testWorkflow(ctx workflow.Context, name string) (string, error) {
	return name, nil
}

func TestStartWorkflow(t *testing.T) {
	svc := &stubService{closeEvents: make(map[string]api.HistoryEvent)}
	c := client.New(svc, "default")

	run, err := c.StartWorkflow(context.Background(), client.StartWorkflowOptions{
		ID:            "wf1",
		TaskQueue:     "tq",
		IDReusePolicy: loom.RejectDuplicate,
		CronSchedule:  "*/2 * * * *",
	}, testWorkflow, "in")
	jtest.RequireNil(t, err)

	require.Equal(t, "wf1", run.GetID())
	require.Equal(t, "run1", run.GetRunID())

	require.Equal(t, "testWorkflow", svc.startReq.WorkflowType)
	require.Equal(t, "tq", svc.startReq.TaskQueue)
	require.Equal(t, loom.RejectDuplicate, svc.startReq.IDReusePolicy)
	require.Equal(t, "*/2 * * * *", svc.startReq.CronSchedule)
	require.NotEmpty(t, svc.startReq.RequestID)

	var arg string
	jtest.RequireNil(t, converter.Default().FromData(svc.startReq.Input, &arg))
	require.Equal(t, "in", arg)
}

func TestRunGetFollowsContinueAsNew(t *testing.T) {
	result, err := converter.Default().ToData("final")
	jtest.RequireNil(t, err)

	svc := &stubService{closeEvents: map[string]api.HistoryEvent{
		"run1": {
			Type: api.EventWorkflowExecutionContinuedAsNew,
			WorkflowExecutionContinuedAsNew: &api.WorkflowExecutionContinuedAsNewAttributes{
				NewRunID: "run2",
			},
		},
		"run2": {
			Type: api.EventWorkflowExecutionCompleted,
			WorkflowExecutionCompleted: &api.WorkflowExecutionCompletedAttributes{
				Result: result,
			},
		},
	}}
	c := client.New(svc, "default")

	var got string
	err = c.GetWorkflowRun("wf1", "run1").Get(context.Background(), &got)
	jtest.RequireNil(t, err)
	require.Equal(t, "final", got)
}

func TestRunGetTerminalErrors(t *testing.T) {
	svc := &stubService{closeEvents: map[string]api.HistoryEvent{
		"failed": {
			Type: api.EventWorkflowExecutionFailed,
			WorkflowExecutionFailed: &api.WorkflowExecutionFailedAttributes{
				Failure: &api.Failure{Reason: api.FailureReasonApplication, Message: "boom"},
			},
		},
		"canceled": {
			Type:                      api.EventWorkflowExecutionCanceled,
			WorkflowExecutionCanceled: &api.WorkflowExecutionCanceledAttributes{},
		},
		"terminated": {
			Type:                        api.EventWorkflowExecutionTerminated,
			WorkflowExecutionTerminated: &api.WorkflowExecutionTerminatedAttributes{Reason: "ops"},
		},
	}}
	c := client.New(svc, "default")

	err := c.GetWorkflowRun("wf1", "failed").Get(context.Background(), nil)
	var werr *loom.WorkflowExecutionError
	require.ErrorAs(t, err, &werr)
	var aerr *loom.ApplicationError
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, "boom", aerr.Reason)

	err = c.GetWorkflowRun("wf1", "canceled").Get(context.Background(), nil)
	require.True(t, loom.IsCanceledError(err))

	err = c.GetWorkflowRun("wf1", "terminated").Get(context.Background(), nil)
	var terr *loom.TerminatedError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "ops", terr.Reason)
}
