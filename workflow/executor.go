package workflow

import (
	"context"
	"reflect"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/converter"
	"github.com/corverroos/loom/internal"
)

var (
	wfCtxType = reflect.TypeOf((*Context)(nil)).Elem()
	errType   = reflect.TypeOf((*error)(nil)).Elem()
)

// ValidateWorkflow checks a workflow function signature:
// func(workflow.Context, args...) (result?, error).
func ValidateWorkflow(fn any) error {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return errors.New("workflow not a function", j.KV("type", reflect.TypeOf(fn)))
	}
	if t.NumIn() < 1 || t.In(0) != wfCtxType {
		return errors.New("workflow first parameter must be workflow.Context",
			j.KV("workflow", internal.FuncName(fn)))
	}
	if t.NumOut() < 1 || t.NumOut() > 2 || !t.Out(t.NumOut()-1).Implements(errType) {
		return errors.New("workflow must return (result?, error)",
			j.KV("workflow", internal.FuncName(fn)))
	}
	return nil
}

func validateQueryHandler(fn any) error {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return errors.New("query handler not a function")
	}
	if t.NumOut() != 2 || !t.Out(1).Implements(errType) {
		return errors.New("query handler must return (result, error)")
	}
	return nil
}

// Executor replays one workflow run. It is stateful: after a task is
// processed it retains the coroutine state so the next task only needs the
// new events, enabling sticky caching. On a fresh executor a task carrying
// full history replays from the start.
//
// Executors are not safe for concurrent use; one run is always processed
// serially.
type Executor struct {
	fn     any
	dc     converter.DataConverter
	domain string

	env         *executionEnv
	lastEventID int64
}

// NewExecutor returns an executor for the given workflow function.
func NewExecutor(fn any, dc converter.DataConverter, domain string) (*Executor, error) {
	if err := ValidateWorkflow(fn); err != nil {
		return nil, err
	}
	if dc == nil {
		dc = converter.Default()
	}
	return &Executor{fn: fn, dc: dc, domain: domain}, nil
}

// TaskResult is the outcome of processing one decision task.
type TaskResult struct {
	// Commands are the new decisions to respond with.
	Commands []api.Command

	// QueryResult and QueryErr answer the task's query, if it carried one.
	QueryResult []byte
	QueryErr    error
}

// ProcessTask applies the task's new events, running workflow code to
// quiescence after each resolution, and returns the resulting commands.
// Events at or below the last processed ID are skipped, so both full
// histories and sticky continuations are accepted.
//
// An error return means the decision task failed: non-deterministic
// divergence from history, a workflow code panic, or corrupt history. The
// workflow itself is not failed; the server retries the task.
func (e *Executor) ProcessTask(ctx context.Context, task *api.DecisionTask) (*TaskResult, error) {
	if e.env == nil {
		e.env = newEnv(Info{
			Execution:    task.Execution,
			WorkflowType: task.WorkflowType,
			Domain:       e.domain,
			Attempt:      task.Attempt,
		}, e.dc)
		e.env.fn = e.fn
	}
	e.env.taskCtx = ctx

	e.env.prescanMarkers(task.History)

	for _, ev := range task.History {
		if ev.ID <= e.lastEventID {
			continue
		}
		if err := e.env.applyEvent(ev); err != nil {
			return nil, err
		}
		e.lastEventID = ev.ID
	}

	res := new(TaskResult)
	if task.Query != nil {
		// A query response has no command channel: commands produced by
		// events the query snapshot happened to carry stay buffered for the
		// next real decision task.
		res.QueryResult, res.QueryErr = e.env.handleQuery(task.Query)
		return res, nil
	}

	res.Commands = e.env.takeNewCommands()
	return res, nil
}

// Done returns true once the workflow function has returned.
func (e *Executor) Done() bool {
	return e.env != nil && (e.env.done || e.env.terminated)
}

// Close releases the executor's coroutines. The executor cannot be used
// afterwards.
func (e *Executor) Close() {
	if e.env != nil {
		e.env.disp.close()
	}
}

// startRoot populates execution info from the started event and launches
// the main workflow coroutine.
func (e *executionEnv) startRoot(attr *api.WorkflowExecutionStartedAttributes) {
	e.info.TaskQueue = attr.TaskQueue
	e.info.ExecutionTimeout = attr.ExecutionTimeout
	e.info.CronSchedule = attr.CronSchedule
	e.info.ContinuedRunID = attr.ContinuedRunID
	e.info.Parent = attr.ParentExecution
	if attr.Attempt > 0 {
		e.info.Attempt = attr.Attempt
	}
	for k, v := range attr.SearchAttributes {
		e.searchAttributes[k] = v
	}

	input := attr.Input
	e.disp.newCoroutine("root", func() {
		result, err := e.invokeWorkflow(input)
		e.finish(result, err)
	})
}

// invokeWorkflow decodes the input, calls the workflow function and encodes
// its result.
func (e *executionEnv) invokeWorkflow(input []byte) ([]byte, error) {
	t := reflect.TypeOf(e.fn)

	in := make([]reflect.Value, 0, t.NumIn())
	in = append(in, reflect.ValueOf(e.root))

	if t.NumIn() > 1 {
		ptrs := make([]any, 0, t.NumIn()-1)
		for i := 1; i < t.NumIn(); i++ {
			ptrs = append(ptrs, reflect.New(t.In(i)).Interface())
		}
		if err := e.dc.FromData(input, ptrs...); err != nil {
			return nil, errors.Wrap(err, "decode workflow input",
				j.KV("workflow", e.info.WorkflowType))
		}
		for _, p := range ptrs {
			in = append(in, reflect.ValueOf(p).Elem())
		}
	}

	out := reflect.ValueOf(e.fn).Call(in)

	if errv := out[len(out)-1]; !errv.IsNil() {
		return nil, errv.Interface().(error)
	}
	if len(out) == 1 {
		return nil, nil
	}

	return e.dc.ToData(out[0].Interface())
}

// handleQuery invokes the registered query handler. Handlers run outside
// the dispatcher with command emission blocked, so queries never mutate
// history.
func (e *executionEnv) handleQuery(q *api.QueryInput) (result []byte, err error) {
	handler, ok := e.queryHandlers[q.QueryType]
	if !ok {
		return nil, errors.Wrap(loom.ErrQueryNotRegistered, "", j.KV("query_type", q.QueryType))
	}

	e.queryMode = true
	defer func() {
		e.queryMode = false
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok && errors.Is(rerr, errQueryViolation) {
				err = errors.Wrap(loom.ErrQueryConsistency, "", j.KV("query_type", q.QueryType))
				return
			}
			panic(r)
		}
	}()

	t := reflect.TypeOf(handler)
	in := make([]reflect.Value, 0, t.NumIn())
	if t.NumIn() > 0 {
		ptrs := make([]any, 0, t.NumIn())
		for i := 0; i < t.NumIn(); i++ {
			ptrs = append(ptrs, reflect.New(t.In(i)).Interface())
		}
		if err := e.dc.FromData(q.Args, ptrs...); err != nil {
			return nil, errors.Wrap(err, "decode query args", j.KV("query_type", q.QueryType))
		}
		for _, p := range ptrs {
			in = append(in, reflect.ValueOf(p).Elem())
		}
	}

	out := reflect.ValueOf(handler).Call(in)
	if errv := out[1]; !errv.IsNil() {
		return nil, errv.Interface().(error)
	}
	return e.dc.ToData(out[0].Interface())
}
