// Package replayer verifies workflow code determinism offline: it replays
// recorded histories against the current code version and reports the first
// divergence. The shadower variant sources live histories from the service
// close stream.
package replayer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/converter"
	"github.com/corverroos/loom/internal"
	"github.com/corverroos/loom/workflow"
)

// WorkflowHistory is the JSON serialisation format of one recorded
// execution, as exported by history tooling and consumed by ReplayJSON.
type WorkflowHistory struct {
	Execution    loom.Execution     `json:"execution"`
	WorkflowType string             `json:"workflow_type"`
	History      []api.HistoryEvent `json:"history"`
}

type options struct {
	dc     converter.DataConverter
	domain string
}

type Option func(*options)

// WithDataConverter overrides the default JSON data converter. It must
// match the converter the histories were recorded with.
func WithDataConverter(dc converter.DataConverter) Option {
	return func(o *options) {
		o.dc = dc
	}
}

// WithDomain sets the domain replayed workflows report via GetInfo.
func WithDomain(domain string) Option {
	return func(o *options) {
		o.domain = domain
	}
}

// Replayer replays recorded histories against registered workflow
// functions in replay-only mode: commands are only compared against
// historical events, never sent anywhere.
type Replayer struct {
	o         options
	workflows map[string]any
}

func New(opts ...Option) *Replayer {
	o := options{
		dc:     converter.Default(),
		domain: "default",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Replayer{
		o:         o,
		workflows: make(map[string]any),
	}
}

// RegisterWorkflow registers the current version of a workflow function
// under its function name.
func (r *Replayer) RegisterWorkflow(fn any) error {
	if err := workflow.ValidateWorkflow(fn); err != nil {
		return err
	}

	name := internal.FuncName(fn)
	if _, ok := r.workflows[name]; ok {
		return errors.New("workflow already registered", j.KV("workflow_type", name))
	}
	r.workflows[name] = fn
	return nil
}

// Replay replays a history and returns ErrNonDeterministic on the first
// divergence between the code's commands and the recorded events.
func (r *Replayer) Replay(ctx context.Context, workflowType string, execution loom.Execution, history []api.HistoryEvent) error {
	ex, err := r.newExecutor(workflowType)
	if err != nil {
		return err
	}
	defer ex.Close()

	res, err := ex.ProcessTask(ctx, &api.DecisionTask{
		Execution:    execution,
		WorkflowType: workflowType,
		History:      history,
	})
	if err != nil {
		return err
	}

	return unmatched(res.Commands)
}

// ReplayJSON replays a JSON encoded WorkflowHistory.
func (r *Replayer) ReplayJSON(ctx context.Context, data []byte) error {
	var wh WorkflowHistory
	if err := json.Unmarshal(data, &wh); err != nil {
		return errors.Wrap(err, "unmarshal workflow history")
	}
	return r.Replay(ctx, wh.WorkflowType, wh.Execution, wh.History)
}

// ReplayExecution fetches the full history of an execution from the
// service and replays it.
func (r *Replayer) ReplayExecution(ctx context.Context, svc api.Service, domain string, execution loom.Execution) error {
	res, err := svc.DescribeWorkflowExecution(ctx, &api.DescribeWorkflowExecutionRequest{
		Domain:     domain,
		WorkflowID: execution.WorkflowID,
		RunID:      execution.RunID,
	})
	if err != nil {
		return err
	}

	history, err := api.NewHistoryIterator(svc, domain, execution.WorkflowID, execution.RunID, 0).All(ctx)
	if err != nil {
		return err
	}

	return r.Replay(ctx, res.Info.WorkflowType, execution, history)
}

// Trace replays a history one decision at a time and returns a readable
// line per command, for diffing command traces across code versions.
func (r *Replayer) Trace(ctx context.Context, workflowType string, execution loom.Execution, history []api.HistoryEvent) ([]string, error) {
	ex, err := r.newExecutor(workflowType)
	if err != nil {
		return nil, err
	}
	defer ex.Close()

	var (
		lines    []string
		decision int
	)
	for i, ev := range history {
		if ev.Type != api.EventDecisionTaskStarted {
			continue
		}
		decision++

		res, err := ex.ProcessTask(ctx, &api.DecisionTask{
			Execution:    execution,
			WorkflowType: workflowType,
			History:      history[:i+1],
		})
		if err != nil {
			return nil, err
		}

		lines = append(lines, fmt.Sprintf("decision %d:", decision))
		for _, cmd := range res.Commands {
			lines = append(lines, "  "+formatCommand(cmd))
		}
	}

	// Process the tail so terminal commands are matched against their
	// terminal events.
	res, err := ex.ProcessTask(ctx, &api.DecisionTask{
		Execution:    execution,
		WorkflowType: workflowType,
		History:      history,
	})
	if err != nil {
		return nil, err
	}
	if err := unmatched(res.Commands); err != nil {
		return nil, err
	}

	return lines, nil
}

func (r *Replayer) newExecutor(workflowType string) (*workflow.Executor, error) {
	fn, ok := r.workflows[workflowType]
	if !ok {
		return nil, errors.New("workflow type not registered", j.KV("workflow_type", workflowType))
	}
	return workflow.NewExecutor(fn, r.o.dc, r.o.domain)
}

// unmatched flags commands the recorded history never acknowledged, which
// means the current code schedules more than the recorded version did.
func unmatched(commands []api.Command) error {
	if len(commands) == 0 {
		return nil
	}
	return errors.Wrap(loom.ErrNonDeterministic, "commands unmatched by recorded history",
		j.MKV{"count": len(commands), "first": formatCommand(commands[0])})
}

func formatCommand(cmd api.Command) string {
	switch cmd.Type {
	case api.CommandScheduleActivity:
		return fmt.Sprintf("ScheduleActivity id=%s type=%s",
			cmd.ScheduleActivity.ActivityID, cmd.ScheduleActivity.ActivityType)
	case api.CommandRequestCancelActivity:
		return fmt.Sprintf("RequestCancelActivity id=%s", cmd.RequestCancelActivity.ActivityID)
	case api.CommandStartTimer:
		return fmt.Sprintf("StartTimer id=%s duration=%s",
			cmd.StartTimer.TimerID, cmd.StartTimer.Duration)
	case api.CommandCancelTimer:
		return fmt.Sprintf("CancelTimer id=%s", cmd.CancelTimer.TimerID)
	case api.CommandRecordMarker:
		return fmt.Sprintf("RecordMarker name=%s id=%s",
			cmd.RecordMarker.Name, cmd.RecordMarker.MarkerID)
	case api.CommandStartChildWorkflow:
		return fmt.Sprintf("StartChildWorkflow id=%s type=%s",
			cmd.StartChildWorkflow.WorkflowID, cmd.StartChildWorkflow.WorkflowType)
	case api.CommandSignalExternalWorkflow:
		return fmt.Sprintf("SignalExternalWorkflow id=%s signal=%s",
			cmd.SignalExternalWorkflow.WorkflowID, cmd.SignalExternalWorkflow.SignalName)
	case api.CommandUpsertSearchAttributes:
		return "UpsertSearchAttributes"
	case api.CommandCompleteWorkflow:
		return "CompleteWorkflow"
	case api.CommandFailWorkflow:
		return fmt.Sprintf("FailWorkflow reason=%s", cmd.FailWorkflow.Failure.Reason)
	case api.CommandCancelWorkflow:
		return "CancelWorkflow"
	case api.CommandContinueAsNew:
		return "ContinueAsNew"
	default:
		return cmd.Type.String()
	}
}
