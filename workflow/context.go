package workflow

import (
	"github.com/corverroos/loom"
)

// Context carries the execution environment, user values and the
// cancellation scope through workflow code. It mirrors context.Context but
// cancellation is deterministic: Done resolves via recorded history, never
// wall-clock time.
type Context interface {
	// Value returns the value associated with key, walking parent contexts.
	Value(key any) any

	// Err returns a CanceledError once the context's scope is cancelled.
	Err() error

	// Done resolves once the context's scope is cancelled.
	Done() Future
}

// CancelFunc cancels a scope: pending activities and timers in the scope get
// cancellation commands and all pending futures resolve with CanceledError.
type CancelFunc func()

type envKey struct{}

type valueCtx struct {
	Context
	key, val any
}

func (c *valueCtx) Value(key any) any {
	if key == c.key {
		return c.val
	}
	return c.Context.Value(key)
}

// WithValue returns a child context associating key with val.
func WithValue(parent Context, key, val any) Context {
	return &valueCtx{Context: parent, key: key, val: val}
}

type scopeCtx struct {
	Context
	scope *cancelScope
}

func (c *scopeCtx) Err() error {
	if c.scope.canceled {
		return loom.NewCanceledError()
	}
	return nil
}

func (c *scopeCtx) Done() Future {
	return c.scope.done
}

// WithCancel returns a child context with its own cancellation scope, nested
// under the parent's scope so cancelling the parent cancels it too.
func WithCancel(parent Context) (Context, CancelFunc) {
	env := getEnv(parent)
	scope := env.newScope(scopeOf(parent))
	return &scopeCtx{Context: parent, scope: scope}, scope.cancel
}

// NewDisconnectedContext returns a child context whose scope is detached
// from the parent's, so it survives workflow cancellation. Use it for
// cleanup work after the main scope is cancelled.
func NewDisconnectedContext(parent Context) (Context, CancelFunc) {
	env := getEnv(parent)
	scope := env.newScope(nil)
	return &scopeCtx{Context: parent, scope: scope}, scope.cancel
}

type rootCtx struct {
	env *executionEnv
}

func (c *rootCtx) Value(key any) any {
	if (key == envKey{}) {
		return c.env
	}
	return nil
}

func (c *rootCtx) Err() error   { return nil }
func (c *rootCtx) Done() Future { return c.env.never }

func getEnv(ctx Context) *executionEnv {
	env, ok := ctx.Value(envKey{}).(*executionEnv)
	if !ok {
		panic("not a workflow context")
	}
	return env
}

// scopeOf returns the nearest enclosing cancellation scope.
func scopeOf(ctx Context) *cancelScope {
	for {
		switch c := ctx.(type) {
		case *scopeCtx:
			return c.scope
		case *valueCtx:
			ctx = c.Context
		case *rootCtx:
			return c.env.rootScope
		default:
			panic("not a workflow context")
		}
	}
}

// cancelScope groups cancellable operations. Cancelling a scope cancels its
// child scopes, emits cancellation commands for pending activities and
// timers, and resolves all pending member futures with CanceledError.
type cancelScope struct {
	env      *executionEnv
	parent   *cancelScope
	children []*cancelScope
	members  []*commandState
	canceled bool
	done     *futureImpl
}

func (e *executionEnv) newScope(parent *cancelScope) *cancelScope {
	s := &cancelScope{
		env:    e,
		parent: parent,
		done:   e.newFuture(),
	}
	if parent != nil {
		parent.children = append(parent.children, s)
	}
	return s
}

func (s *cancelScope) cancel() {
	if s.canceled {
		return
	}
	s.canceled = true
	s.done.set(nil, nil)

	for _, child := range s.children {
		child.cancel()
	}
	for _, m := range s.members {
		m.cancelLocal()
	}
}

func (s *cancelScope) add(st *commandState) {
	s.members = append(s.members, st)
	if s.canceled {
		st.cancelLocal()
	}
}
