package workflow

import (
	"github.com/corverroos/loom"
)

// Future is the asynchronous result of a workflow operation. Get blocks the
// calling coroutine deterministically until the future resolves or ctx is
// cancelled.
type Future interface {
	// Get decodes the result into valuePtr once resolved. A nil valuePtr
	// discards the value. It returns the operation's error, or a
	// CanceledError if ctx was cancelled first.
	Get(ctx Context, valuePtr any) error

	// IsReady returns true once the future has resolved.
	IsReady() bool
}

// ChildWorkflowFuture is the result of ExecuteChildWorkflow.
type ChildWorkflowFuture interface {
	Future

	// GetChildWorkflowExecution resolves once the child has started, with a
	// loom.Execution value.
	GetChildWorkflowExecution() Future
}

type futureImpl struct {
	env   *executionEnv
	ready bool
	data  []byte
	err   error
}

func (e *executionEnv) newFuture() *futureImpl {
	return &futureImpl{env: e}
}

// newReadyFuture returns an already resolved future, used for operations
// that fail before a command is emitted.
func (e *executionEnv) newReadyFuture(data []byte, err error) *futureImpl {
	return &futureImpl{env: e, ready: true, data: data, err: err}
}

// set resolves the future. Later resolutions are ignored, so a future
// cancelled locally keeps its CanceledError when the terminal event arrives.
func (f *futureImpl) set(data []byte, err error) {
	if f.ready {
		return
	}
	f.ready = true
	f.data = data
	f.err = err
}

func (f *futureImpl) IsReady() bool {
	return f.ready
}

func (f *futureImpl) Get(ctx Context, valuePtr any) error {
	f.env.disp.yieldUntil(func() bool {
		return f.ready || ctx.Err() != nil
	})
	if !f.ready {
		return loom.NewCanceledError()
	}
	if f.err != nil {
		return f.err
	}
	if valuePtr == nil || len(f.data) == 0 {
		return nil
	}
	return f.env.dc.FromData(f.data, valuePtr)
}

type childWorkflowFuture struct {
	*futureImpl
	started *futureImpl
}

func (f *childWorkflowFuture) GetChildWorkflowExecution() Future {
	return f.started
}
