// Package workflow provides the deterministic execution environment for
// workflow functions: a cooperative coroutine dispatcher, futures, signal
// channels, cancellation scopes and the operations (activities, timers,
// child workflows, markers) that workflow code drives the world with.
//
// Workflow functions must be deterministic: all side effects go through the
// Context operations so they can be recorded in history and replayed.
package workflow

import (
	"fmt"
	"runtime/debug"

	"github.com/luno/jettison/errors"

	"github.com/corverroos/loom"
)

// errCoroutineExit aborts parked coroutines when the dispatcher closes.
var errCoroutineExit = errors.New("dispatcher closed")

// dispatcher cooperatively schedules workflow coroutines. Exactly one
// goroutine runs at a time: either the host applying history events or a
// single resumed coroutine. Coroutines park via yieldUntil and are resumed
// in creation order whenever their ready predicate holds.
type dispatcher struct {
	coroutines []*coroutine
	active     *coroutine
	closed     bool
	panicked   *loom.PanicError
}

type coroutine struct {
	d    *dispatcher
	name string
	fn   func()

	resume chan struct{}
	notify chan struct{}

	// ready gates resumption, nil means runnable. Written by the coroutine
	// before signalling notify, read by the host after receiving it.
	ready func() bool
	done  bool
}

func newDispatcher() *dispatcher {
	return new(dispatcher)
}

// newCoroutine registers fn for scheduling. The goroutine starts parked and
// only runs once the dispatcher resumes it.
func (d *dispatcher) newCoroutine(name string, fn func()) {
	c := &coroutine{
		d:      d,
		name:   name,
		fn:     fn,
		resume: make(chan struct{}),
		notify: make(chan struct{}),
	}
	d.coroutines = append(d.coroutines, c)

	go func() {
		defer func() {
			if r := recover(); r != nil && r != errCoroutineExit { //nolint:errorlint // sentinel identity
				d.panicked = &loom.PanicError{
					Value: fmt.Sprint(r),
					Stack: string(debug.Stack()),
				}
			}
			c.done = true
			c.notify <- struct{}{}
		}()

		<-c.resume
		if d.closed {
			panic(errCoroutineExit)
		}
		c.fn()
	}()
}

// run resumes runnable coroutines in FIFO order until none can progress.
// It returns a PanicError if any coroutine panicked.
func (d *dispatcher) run() error {
	for {
		var progressed bool
		for _, c := range d.coroutines {
			if c.done {
				continue
			}
			if c.ready != nil && !c.ready() {
				continue
			}
			c.ready = nil

			d.active = c
			c.resume <- struct{}{}
			<-c.notify
			d.active = nil

			if d.panicked != nil {
				return d.panicked
			}
			progressed = true
		}
		if !progressed {
			return nil
		}
	}
}

// yieldUntil parks the calling coroutine until pred holds. It must only be
// called from workflow code running inside a coroutine.
func (d *dispatcher) yieldUntil(pred func() bool) {
	c := d.active
	if c == nil {
		panic("workflow operation outside workflow coroutine")
	}
	if pred() {
		return
	}

	c.ready = pred
	c.notify <- struct{}{}
	<-c.resume
	if d.closed {
		panic(errCoroutineExit)
	}
}

// close unwinds all parked coroutines and waits for their goroutines.
func (d *dispatcher) close() {
	d.closed = true
	for _, c := range d.coroutines {
		if c.done {
			continue
		}
		c.resume <- struct{}{}
		<-c.notify
	}
}
