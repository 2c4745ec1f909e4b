// Package client provides the application-facing API to start, signal,
// query and await workflow executions against an api.Service.
package client

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/converter"
	"github.com/corverroos/loom/internal"
)

// Client talks to one domain of a workflow service.
type Client struct {
	svc    api.Service
	domain string
	o      options
}

// New returns a client for the given domain.
func New(svc api.Service, domain string, opts ...Option) *Client {
	o := options{dc: converter.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{svc: svc, domain: domain, o: o}
}

// StartWorkflowOptions configure a new workflow execution.
type StartWorkflowOptions struct {
	// ID is the user-chosen workflow ID, defaulting to a random UUID.
	ID string

	TaskQueue        string
	ExecutionTimeout time.Duration
	DecisionTimeout  time.Duration
	IDReusePolicy    loom.IDReusePolicy

	// CronSchedule re-runs the workflow on the given standard cron spec,
	// each run closing as continued-as-new.
	CronSchedule string

	SearchAttributes map[string]string
}

// StartWorkflow starts a new workflow execution. The workflow argument is
// the registered function or its name. Starting is idempotent per client
// call; retries reuse the same request ID.
func (c *Client) StartWorkflow(ctx context.Context, opts StartWorkflowOptions, wf any, args ...any) (WorkflowRun, error) {
	req, err := c.startRequest(opts, wf, args...)
	if err != nil {
		return nil, err
	}

	res, err := c.svc.StartWorkflowExecution(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "start workflow", j.KV("workflow_id", req.WorkflowID))
	}

	return &workflowRun{c: c, workflowID: req.WorkflowID, runID: res.RunID}, nil
}

func (c *Client) startRequest(opts StartWorkflowOptions, wf any, args ...any) (*api.StartWorkflowExecutionRequest, error) {
	input, err := c.o.dc.ToData(args...)
	if err != nil {
		return nil, err
	}

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}

	return &api.StartWorkflowExecutionRequest{
		Domain:           c.domain,
		WorkflowID:       id,
		WorkflowType:     internal.FuncName(wf),
		TaskQueue:        opts.TaskQueue,
		Input:            input,
		ExecutionTimeout: opts.ExecutionTimeout,
		DecisionTimeout:  opts.DecisionTimeout,
		IDReusePolicy:    opts.IDReusePolicy,
		CronSchedule:     opts.CronSchedule,
		SearchAttributes: opts.SearchAttributes,
		RequestID:        uuid.New().String(),
	}, nil
}

// SignalWorkflow sends a signal to a running workflow execution. An empty
// runID targets the current run of the workflow ID.
func (c *Client) SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, args ...any) error {
	input, err := c.o.dc.ToData(args...)
	if err != nil {
		return err
	}

	return c.svc.SignalWorkflowExecution(ctx, &api.SignalWorkflowExecutionRequest{
		Domain:     c.domain,
		WorkflowID: workflowID,
		RunID:      runID,
		SignalName: signalName,
		Input:      input,
		RequestID:  uuid.New().String(),
	})
}

// SignalWithStartWorkflow signals the current run of the workflow ID,
// starting a new execution first if none is running. The signal is recorded
// before the new run's first decision task.
func (c *Client) SignalWithStartWorkflow(ctx context.Context, opts StartWorkflowOptions, signalName string, signalArg any, wf any, args ...any) (WorkflowRun, error) {
	req, err := c.startRequest(opts, wf, args...)
	if err != nil {
		return nil, err
	}
	if req.WorkflowID == "" || opts.ID == "" {
		return nil, errors.New("signal with start requires a workflow id")
	}

	signalInput, err := c.o.dc.ToData(signalArg)
	if err != nil {
		return nil, err
	}

	res, err := c.svc.SignalWithStartWorkflowExecution(ctx, &api.SignalWithStartWorkflowExecutionRequest{
		Start:       *req,
		SignalName:  signalName,
		SignalInput: signalInput,
	})
	if err != nil {
		return nil, errors.Wrap(err, "signal with start", j.KV("workflow_id", req.WorkflowID))
	}

	return &workflowRun{c: c, workflowID: req.WorkflowID, runID: res.RunID}, nil
}

// QueryOptions configure a workflow query.
type QueryOptions struct {
	// Consistency defaults to eventual: the query is served against
	// whatever history a worker has already seen. Strong consistency
	// drains pending decision tasks first.
	Consistency loom.QueryConsistency
}

// QueryWorkflow queries workflow state with eventual consistency.
func (c *Client) QueryWorkflow(ctx context.Context, workflowID, runID, queryType string, args ...any) (*converter.EncodedValue, error) {
	return c.QueryWorkflowWithOptions(ctx, QueryOptions{}, workflowID, runID, queryType, args...)
}

// QueryWorkflowWithOptions queries workflow state.
func (c *Client) QueryWorkflowWithOptions(ctx context.Context, opts QueryOptions, workflowID, runID, queryType string, args ...any) (*converter.EncodedValue, error) {
	input, err := c.o.dc.ToData(args...)
	if err != nil {
		return nil, err
	}

	res, err := c.svc.QueryWorkflow(ctx, &api.QueryWorkflowRequest{
		Domain:      c.domain,
		WorkflowID:  workflowID,
		RunID:       runID,
		QueryType:   queryType,
		Args:        input,
		Consistency: opts.Consistency,
	})
	if err != nil {
		return nil, err
	}

	return converter.NewEncodedValue(res.Result, c.o.dc), nil
}

// CancelWorkflow requests cooperative cancellation of a workflow execution.
// The workflow observes it via its context and may run cleanup before
// closing.
func (c *Client) CancelWorkflow(ctx context.Context, workflowID, runID string) error {
	return c.svc.RequestCancelWorkflowExecution(ctx, &api.RequestCancelWorkflowExecutionRequest{
		Domain:     c.domain,
		WorkflowID: workflowID,
		RunID:      runID,
		RequestID:  uuid.New().String(),
	})
}

// TerminateWorkflow force-closes a workflow execution without running any
// workflow code.
func (c *Client) TerminateWorkflow(ctx context.Context, workflowID, runID, reason string) error {
	return c.svc.TerminateWorkflowExecution(ctx, &api.TerminateWorkflowExecutionRequest{
		Domain:     c.domain,
		WorkflowID: workflowID,
		RunID:      runID,
		Reason:     reason,
	})
}

// DescribeWorkflowExecution returns the visibility record of an execution.
func (c *Client) DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (api.ExecutionInfo, error) {
	res, err := c.svc.DescribeWorkflowExecution(ctx, &api.DescribeWorkflowExecutionRequest{
		Domain:     c.domain,
		WorkflowID: workflowID,
		RunID:      runID,
	})
	if err != nil {
		return api.ExecutionInfo{}, err
	}
	return res.Info, nil
}

// ListClosedWorkflowExecutions lists closed executions, newest first,
// optionally filtered by workflow type and status.
func (c *Client) ListClosedWorkflowExecutions(ctx context.Context, req *api.ListClosedWorkflowExecutionsRequest) (*api.ListClosedWorkflowExecutionsResponse, error) {
	r := *req
	r.Domain = c.domain
	return c.svc.ListClosedWorkflowExecutions(ctx, &r)
}

// GetWorkflowHistory returns an iterator over the execution's history.
func (c *Client) GetWorkflowHistory(ctx context.Context, workflowID, runID string) *api.HistoryIterator {
	return api.NewHistoryIterator(c.svc, c.domain, workflowID, runID, 0)
}

// GetWorkflowRun returns a handle to an existing execution. An empty runID
// targets the current run.
func (c *Client) GetWorkflowRun(workflowID, runID string) WorkflowRun {
	return &workflowRun{c: c, workflowID: workflowID, runID: runID}
}
