package workflow

import (
	"context"
	"time"

	"github.com/luno/jettison/errors"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/converter"
)

// errQueryViolation aborts query handlers that attempt to emit commands.
var errQueryViolation = errors.New("command emitted during query")

// executionEnv is the deterministic execution environment of one workflow
// run. It owns the dispatcher, the buffered command queue, recorded marker
// values and signal channels. All fields are only touched while either the
// host (applying events) or a single coroutine runs, so no locking is
// needed.
type executionEnv struct {
	info Info
	fn   any
	dc   converter.DataConverter
	disp *dispatcher

	// taskCtx is the real context of the decision task being processed,
	// used only for synchronous local activity execution.
	taskCtx context.Context

	// now is the timestamp of the last DecisionTaskStarted event applied.
	now time.Time

	// pending holds emitted commands in order. Scheduled-class history
	// events pop and match the head; leftovers at task end are the new
	// commands to respond with.
	pending []*commandState

	// open maps initiating event IDs to matched command states awaiting a
	// resolution event.
	open map[int64]*commandState

	// markers holds recorded marker values prescanned from history, keyed
	// by marker name and ID, consumed in order via markerIdx.
	markers    map[string][]markerRecord
	markerIdx  map[string]int
	prescanned int64

	// versions caches GetVersion results per change ID.
	versions map[string]int

	// mutableLast tracks the last value per mutable side effect ID.
	mutableLast map[string][]byte

	signals       map[string]*signalChannel
	queryHandlers map[string]any
	queryMode     bool

	searchAttributes map[string]string

	rootScope *cancelScope
	root      Context

	// never is a future that never resolves, backing Done of the root
	// context.
	never *futureImpl

	cancelRequested bool

	activitySeq   int
	timerSeq      int
	sideEffectSeq int
	localSeq      int
	childSeq      int
	extSignalSeq  int

	// done is set once the main workflow function returned and the terminal
	// command was emitted.
	done       bool
	terminated bool
}

type markerRecord struct {
	data    []byte
	failure *api.Failure
}

func newEnv(info Info, dc converter.DataConverter) *executionEnv {
	e := &executionEnv{
		info:             info,
		dc:               dc,
		disp:             newDispatcher(),
		open:             make(map[int64]*commandState),
		markers:          make(map[string][]markerRecord),
		markerIdx:        make(map[string]int),
		versions:         make(map[string]int),
		mutableLast:      make(map[string][]byte),
		signals:          make(map[string]*signalChannel),
		queryHandlers:    make(map[string]any),
		searchAttributes: make(map[string]string),
	}
	e.never = e.newFuture()
	e.rootScope = e.newScope(nil)
	e.root = &scopeCtx{Context: &rootCtx{env: e}, scope: e.rootScope}
	return e
}

// commandState tracks one emitted command through matching and resolution.
type commandState struct {
	env *executionEnv
	cmd api.Command

	// eventID is the initiating history event once matched.
	eventID int64

	fut     *futureImpl
	started *futureImpl

	// sent is true once the command was returned in a task result, so it is
	// not returned again while awaiting its initiating event.
	sent bool
}

// addCommand buffers a command for matching or sending. Commands with a
// pending outcome register with scope for cancellation.
func (e *executionEnv) addCommand(cmd api.Command, scope *cancelScope) *commandState {
	if e.queryMode {
		panic(errQueryViolation)
	}

	st := &commandState{env: e, cmd: cmd, fut: e.newFuture()}
	e.pending = append(e.pending, st)
	if scope != nil {
		scope.add(st)
	}
	return st
}

// cancelLocal cancels a pending operation from its scope: cancellation
// commands are emitted for activities and timers, and the future resolves
// with a CanceledError immediately. The eventual terminal event finds the
// future already resolved and is ignored.
func (s *commandState) cancelLocal() {
	if s.fut.ready {
		return
	}

	switch s.cmd.Type {
	case api.CommandScheduleActivity:
		s.env.addCommand(api.Command{
			Type: api.CommandRequestCancelActivity,
			RequestCancelActivity: &api.ActivityTaskCancelRequestedAttributes{
				ActivityID: s.cmd.ScheduleActivity.ActivityID,
			},
		}, nil)
	case api.CommandStartTimer:
		s.env.addCommand(api.Command{
			Type: api.CommandCancelTimer,
			CancelTimer: &api.TimerCanceledAttributes{
				TimerID: s.cmd.StartTimer.TimerID,
			},
		}, nil)
	}

	s.fut.set(nil, loom.NewCanceledError())
	if s.started != nil {
		s.started.set(nil, loom.NewCanceledError())
	}
}

// takeNewCommands returns buffered commands not yet sent, marking them sent.
func (e *executionEnv) takeNewCommands() []api.Command {
	var cmds []api.Command
	for _, st := range e.pending {
		if st.sent {
			continue
		}
		st.sent = true
		cmds = append(cmds, st.cmd)
	}
	return cmds
}

// prescanMarkers indexes marker events of the task history ahead of replay,
// so side effects and versions recorded later in the same batch are visible
// when workflow code re-executes.
func (e *executionEnv) prescanMarkers(history []api.HistoryEvent) {
	for _, ev := range history {
		if ev.ID <= e.prescanned {
			continue
		}
		if ev.Type != api.EventMarkerRecorded {
			continue
		}
		attr := ev.MarkerRecorded
		key := attr.Name + "/" + attr.MarkerID
		e.markers[key] = append(e.markers[key], markerRecord{data: attr.Data, failure: attr.Failure})
	}
	if len(history) > 0 {
		last := history[len(history)-1].ID
		if last > e.prescanned {
			e.prescanned = last
		}
	}
}

// nextMarker consumes the next recorded marker value for the given name and
// ID, if any.
func (e *executionEnv) nextMarker(name, id string) (markerRecord, bool) {
	key := name + "/" + id
	idx := e.markerIdx[key]
	recs := e.markers[key]
	if idx >= len(recs) {
		return markerRecord{}, false
	}
	e.markerIdx[key] = idx + 1
	return recs[idx], true
}

// signalChannel returns the channel for name, creating it if needed.
func (e *executionEnv) signalChannel(name string) *signalChannel {
	ch, ok := e.signals[name]
	if !ok {
		ch = &signalChannel{env: e, name: name}
		e.signals[name] = ch
	}
	return ch
}

// finish emits the terminal command for the main workflow function outcome.
func (e *executionEnv) finish(result []byte, err error) {
	e.done = true

	var cmd api.Command
	switch {
	case err == nil:
		cmd = api.Command{
			Type:             api.CommandCompleteWorkflow,
			CompleteWorkflow: &api.WorkflowExecutionCompletedAttributes{Result: result},
		}
	case loom.IsContinueAsNewError(err):
		var cn *loom.ContinueAsNewError
		errors.As(err, &cn)
		cmd = api.Command{
			Type: api.CommandContinueAsNew,
			ContinueAsNew: &api.ContinueAsNewAttributes{
				WorkflowType: cn.WorkflowType,
				Input:        cn.Input,
			},
		}
	case loom.IsCanceledError(err):
		var ce *loom.CanceledError
		errors.As(err, &ce)
		cmd = api.Command{
			Type:           api.CommandCancelWorkflow,
			CancelWorkflow: &api.WorkflowExecutionCanceledAttributes{Details: ce.Details},
		}
	default:
		cmd = api.Command{
			Type:         api.CommandFailWorkflow,
			FailWorkflow: &api.WorkflowExecutionFailedAttributes{Failure: api.FailureFromError(err)},
		}
	}

	e.addCommand(cmd, nil)
}
