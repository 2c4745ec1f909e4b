package workflow

import (
	"time"

	"github.com/corverroos/loom"
)

// Info describes the current workflow execution.
type Info struct {
	Execution    loom.Execution
	WorkflowType string
	Domain       string
	TaskQueue    string
	Attempt      int

	ExecutionTimeout time.Duration
	CronSchedule     string

	// ContinuedRunID is the run this execution continued from, if any.
	ContinuedRunID string

	// Parent is set for child workflow executions.
	Parent *loom.Execution
}

// ActivityOptions configure activities scheduled via ExecuteActivity. At
// least one of ScheduleToCloseTimeout or StartToCloseTimeout is required.
type ActivityOptions struct {
	// TaskQueue overrides the workflow's task queue.
	TaskQueue string

	ScheduleToCloseTimeout time.Duration
	ScheduleToStartTimeout time.Duration
	StartToCloseTimeout    time.Duration
	HeartbeatTimeout       time.Duration

	RetryPolicy *loom.RetryPolicy
}

// ChildWorkflowOptions configure child workflows started via
// ExecuteChildWorkflow.
type ChildWorkflowOptions struct {
	// WorkflowID defaults to "<parent workflow id>_<n>" which is stable
	// across replays.
	WorkflowID string

	TaskQueue         string
	ExecutionTimeout  time.Duration
	ParentClosePolicy loom.ParentClosePolicy
	IDReusePolicy     loom.IDReusePolicy
}

type activityOptionsKey struct{}
type childOptionsKey struct{}

// WithActivityOptions returns a context applying opts to activities
// scheduled from it.
func WithActivityOptions(ctx Context, opts ActivityOptions) Context {
	return WithValue(ctx, activityOptionsKey{}, opts)
}

// WithChildOptions returns a context applying opts to child workflows
// started from it.
func WithChildOptions(ctx Context, opts ChildWorkflowOptions) Context {
	return WithValue(ctx, childOptionsKey{}, opts)
}

func getActivityOptions(ctx Context) ActivityOptions {
	opts, _ := ctx.Value(activityOptionsKey{}).(ActivityOptions)
	return opts
}

func getChildOptions(ctx Context) ChildWorkflowOptions {
	opts, _ := ctx.Value(childOptionsKey{}).(ChildWorkflowOptions)
	return opts
}
