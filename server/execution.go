package server

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/internal"
)

// execution holds the server-side state of one workflow run: its history,
// outstanding decision task, pending activities, timers and children.
// All fields are guarded by Server.mu.
type execution struct {
	s *Server

	domain string
	exec   loom.Execution

	workflowType string
	taskQueue    string

	status    loom.Status
	startTime time.Time
	closeTime time.Time

	events []api.HistoryEvent

	// changed is closed and replaced on every history append, waking
	// long-polls on this execution.
	changed chan struct{}

	searchAttributes map[string]string

	decisionScheduled   bool
	decisionStarted     bool
	decisionScheduledID int64
	decisionStartedID   int64
	decisionAttempt     int
	lastStartedEventID  int64
	decisionTimeout     time.Duration

	// queries buffered while a decision task is outstanding, dispatched
	// as query-only tasks once it completes.
	queries []*pendingQuery

	activities map[int64]*activityState
	timers     map[int64]string
	children   map[int64]*childInfo

	parent          *parentInfo
	cancelRequested bool

	// startReq is retained for cron re-runs and continue-as-new.
	startReq  *api.StartWorkflowExecutionRequest
	cronSched cron.Schedule

	// nextCronRunID is pre-minted when a cron run closes so the
	// continued-as-new event can name it before the run exists.
	nextCronRunID string
}

type activityState struct {
	scheduledEventID int64
	attrs            *api.ActivityTaskScheduledAttributes
	attempt          int
	started          bool
	closed           bool
	cancelRequested  bool
	heartbeatDetails []byte
	scheduledTime    time.Time
	startedTime      time.Time
	lastHeartbeat    time.Time

	// gen invalidates timeout and retry timers registered for earlier
	// attempts.
	gen int
}

type childInfo struct {
	path   string
	exec   loom.Execution
	policy loom.ParentClosePolicy
	closed bool
}

type parentInfo struct {
	path             string
	exec             loom.Execution
	initiatedEventID int64
}

// createRun registers a new execution and appends its started event. A
// non-zero firstDecisionAt defers the first decision task to that time,
// used to align cron runs with their schedule. Callers must hold s.mu.
func (s *Server) createRun(req *api.StartWorkflowExecutionRequest, runID, continuedRunID string, parent *parentInfo, firstDecisionAt time.Time) (*execution, error) {
	var sched cron.Schedule
	if req.CronSchedule != "" {
		var err error
		sched, err = cron.ParseStandard(req.CronSchedule)
		if err != nil {
			return nil, err
		}
	}

	decisionTimeout := req.DecisionTimeout
	if decisionTimeout == 0 {
		decisionTimeout = defaultDecisionTimeout
	}

	e := &execution{
		s:      s,
		domain: req.Domain,
		exec: loom.Execution{
			WorkflowID: req.WorkflowID,
			RunID:      runID,
		},
		workflowType:     req.WorkflowType,
		taskQueue:        req.TaskQueue,
		status:           loom.StatusRunning,
		startTime:        s.clock.Now(),
		changed:          make(chan struct{}),
		searchAttributes: make(map[string]string),
		decisionTimeout:  decisionTimeout,
		activities:       make(map[int64]*activityState),
		timers:           make(map[int64]string),
		children:         make(map[int64]*childInfo),
		parent:           parent,
		startReq:         req,
		cronSched:        sched,
	}
	for k, v := range req.SearchAttributes {
		e.searchAttributes[k] = v
	}

	var parentExec *loom.Execution
	if parent != nil {
		parentExec = &parent.exec
	}

	e.append(api.HistoryEvent{
		Type: api.EventWorkflowExecutionStarted,
		WorkflowExecutionStarted: &api.WorkflowExecutionStartedAttributes{
			WorkflowType:     req.WorkflowType,
			TaskQueue:        req.TaskQueue,
			Input:            req.Input,
			ExecutionTimeout: req.ExecutionTimeout,
			DecisionTimeout:  decisionTimeout,
			CronSchedule:     req.CronSchedule,
			ContinuedRunID:   continuedRunID,
			ParentExecution:  parentExec,
			SearchAttributes: req.SearchAttributes,
		},
	})

	s.executions[e.path()] = e
	s.current[internal.RunPath(req.Domain, req.WorkflowID, "")] = runID

	executionsStarted.WithLabelValues(req.Domain, req.WorkflowType).Inc()

	if req.ExecutionTimeout > 0 {
		s.addTimer(e.startTime.Add(req.ExecutionTimeout), func() {
			if e.status != loom.StatusRunning {
				return
			}
			e.close(loom.StatusTimedOut, api.HistoryEvent{
				Type:                      api.EventWorkflowExecutionTimedOut,
				WorkflowExecutionTimedOut: &api.WorkflowExecutionTimedOutAttributes{},
			})
		})
	}

	if firstDecisionAt.IsZero() {
		e.ensureDecisionScheduled()
	} else {
		s.addTimer(firstDecisionAt, e.ensureDecisionScheduled)
	}

	return e, nil
}

func (e *execution) path() string {
	return internal.RunPath(e.domain, e.exec.WorkflowID, e.exec.RunID)
}

// append assigns the next event ID and timestamp, appends the event and
// wakes history long-polls.
func (e *execution) append(ev api.HistoryEvent) int64 {
	ev.ID = int64(len(e.events)) + 1
	ev.Timestamp = e.s.clock.Now()
	e.events = append(e.events, ev)
	close(e.changed)
	e.changed = make(chan struct{})
	return ev.ID
}

func (e *execution) ensureDecisionScheduled() {
	if e.status != loom.StatusRunning || e.decisionScheduled || e.decisionStarted {
		return
	}
	e.scheduleDecision(0)
}

func (e *execution) scheduleDecision(attempt int) {
	e.decisionScheduled = true
	e.decisionStarted = false
	e.decisionAttempt = attempt
	e.decisionScheduledID = e.append(api.HistoryEvent{
		Type:                  api.EventDecisionTaskScheduled,
		DecisionTaskScheduled: &api.DecisionTaskScheduledAttributes{Attempt: attempt},
	})
	e.s.decQueue(e.domain, e.taskQueue).push(&decisionRef{path: e.path()})
}

// failDecision fails the outstanding started decision task and reschedules
// it with an incremented attempt.
func (e *execution) failDecision(cause string) {
	if e.status != loom.StatusRunning || !e.decisionStarted {
		return
	}
	e.append(api.HistoryEvent{
		Type: api.EventDecisionTaskFailed,
		DecisionTaskFailed: &api.DecisionTaskFailedAttributes{
			StartedEventID: e.decisionStartedID,
			Cause:          cause,
		},
	})
	e.decisionStarted = false
	e.decisionScheduled = false
	e.scheduleDecision(e.decisionAttempt + 1)
}

// dispatchQueries flushes buffered strong-consistency queries once no
// decision task is outstanding.
func (e *execution) dispatchQueries() {
	if e.decisionScheduled || e.decisionStarted {
		return
	}
	for _, q := range e.queries {
		e.s.decQueue(e.domain, e.taskQueue).push(&decisionRef{path: e.path(), query: q})
	}
	e.queries = nil
}

func (e *execution) signal(name string, input []byte) {
	e.append(api.HistoryEvent{
		Type: api.EventWorkflowExecutionSignaled,
		WorkflowExecutionSignaled: &api.WorkflowExecutionSignaledAttributes{
			SignalName: name,
			Input:      input,
		},
	})
	e.ensureDecisionScheduled()
}

func (e *execution) requestCancel(cause string) {
	if e.status != loom.StatusRunning || e.cancelRequested {
		return
	}
	e.cancelRequested = true
	e.append(api.HistoryEvent{
		Type: api.EventWorkflowExecutionCancelRequested,
		WorkflowExecutionCancelRequested: &api.WorkflowExecutionCancelRequestedAttributes{
			Cause: cause,
		},
	})
	e.ensureDecisionScheduled()
}

func (e *execution) terminate(reason string) {
	if e.status != loom.StatusRunning {
		return
	}
	e.close(loom.StatusTerminated, api.HistoryEvent{
		Type: api.EventWorkflowExecutionTerminated,
		WorkflowExecutionTerminated: &api.WorkflowExecutionTerminatedAttributes{
			Reason: reason,
		},
	})
}

// close appends the terminal event, updates visibility state, notifies the
// parent, applies parent close policies to open children and continues the
// cron chain if applicable.
func (e *execution) close(status loom.Status, ev api.HistoryEvent) {
	if e.status != loom.StatusRunning {
		return
	}

	e.append(ev)
	e.status = status
	e.closeTime = e.s.clock.Now()
	e.decisionScheduled = false
	e.decisionStarted = false

	executionsClosed.WithLabelValues(e.domain, e.workflowType, status.String()).Inc()
	executionDuration.WithLabelValues(e.domain, e.workflowType).
		Observe(e.closeTime.Sub(e.startTime).Seconds())

	e.s.pushCloseEvent(e, ev)

	if e.parent != nil {
		if p, ok := e.s.executions[e.parent.path]; ok {
			p.childClosed(e.parent.initiatedEventID, e.exec, ev)
		}
	}

	for _, c := range e.children {
		if c.closed {
			continue
		}
		ce, ok := e.s.executions[c.path]
		if !ok {
			continue
		}
		switch c.policy {
		case loom.ParentCloseTerminate:
			ce.terminate("parent workflow closed")
		case loom.ParentCloseRequestCancel:
			ce.requestCancel("parent workflow closed")
		}
	}

	// Buffered queries can still be served against the closed history.
	e.dispatchQueries()

	if e.cronSched != nil && status == loom.StatusContinuedAsNew && e.nextCronRunID != "" {
		e.s.scheduleCronRun(e)
	}
}

// childClosed records a child's terminal event on the parent history. A
// child continuing as new stays open under its new run ID.
func (e *execution) childClosed(initiatedID int64, child loom.Execution, closeEv api.HistoryEvent) {
	c, ok := e.children[initiatedID]
	if !ok {
		return
	}

	if closeEv.Type == api.EventWorkflowExecutionContinuedAsNew {
		c.exec.RunID = closeEv.WorkflowExecutionContinuedAsNew.NewRunID
		c.path = internal.RunPath(e.domain, c.exec.WorkflowID, c.exec.RunID)
		return
	}

	c.closed = true
	if e.status != loom.StatusRunning {
		return
	}

	switch closeEv.Type {
	case api.EventWorkflowExecutionCompleted:
		e.append(api.HistoryEvent{
			Type: api.EventChildWorkflowExecutionCompleted,
			ChildWorkflowExecutionCompleted: &api.ChildWorkflowExecutionCompletedAttributes{
				InitiatedEventID: initiatedID,
				Execution:        child,
				Result:           closeEv.WorkflowExecutionCompleted.Result,
			},
		})
	case api.EventWorkflowExecutionFailed:
		e.append(api.HistoryEvent{
			Type: api.EventChildWorkflowExecutionFailed,
			ChildWorkflowExecutionFailed: &api.ChildWorkflowExecutionFailedAttributes{
				InitiatedEventID: initiatedID,
				Execution:        child,
				Failure:          closeEv.WorkflowExecutionFailed.Failure,
			},
		})
	case api.EventWorkflowExecutionCanceled:
		e.append(api.HistoryEvent{
			Type: api.EventChildWorkflowExecutionCanceled,
			ChildWorkflowExecutionCanceled: &api.ChildWorkflowExecutionCanceledAttributes{
				InitiatedEventID: initiatedID,
				Execution:        child,
				Details:          closeEv.WorkflowExecutionCanceled.Details,
			},
		})
	case api.EventWorkflowExecutionTerminated:
		e.append(api.HistoryEvent{
			Type: api.EventChildWorkflowExecutionTerminated,
			ChildWorkflowExecutionTerminated: &api.ChildWorkflowExecutionTerminatedAttributes{
				InitiatedEventID: initiatedID,
				Execution:        child,
			},
		})
	case api.EventWorkflowExecutionTimedOut:
		e.append(api.HistoryEvent{
			Type: api.EventChildWorkflowExecutionTimedOut,
			ChildWorkflowExecutionTimedOut: &api.ChildWorkflowExecutionTimedOutAttributes{
				InitiatedEventID: initiatedID,
				Execution:        child,
				TimeoutType:      loom.TimeoutScheduleToClose,
			},
		})
	default:
		return
	}

	e.ensureDecisionScheduled()
}

// scheduleCronRun creates the pre-minted next run of a cron chain with its
// first decision deferred to the next schedule fire.
func (s *Server) scheduleCronRun(e *execution) {
	next := e.cronSched.Next(s.clock.Now())

	// The schedule already parsed at start, so createRun cannot fail here.
	_, _ = s.createRun(e.startReq, e.nextCronRunID, e.exec.RunID, e.parent, next)
}

func (e *execution) info() api.ExecutionInfo {
	var parent *loom.Execution
	if e.parent != nil {
		p := e.parent.exec
		parent = &p
	}

	var attrs map[string]string
	if len(e.searchAttributes) > 0 {
		attrs = make(map[string]string, len(e.searchAttributes))
		for k, v := range e.searchAttributes {
			attrs[k] = v
		}
	}

	return api.ExecutionInfo{
		Execution:        e.exec,
		WorkflowType:     e.workflowType,
		TaskQueue:        e.taskQueue,
		Status:           e.status,
		StartTime:        e.startTime,
		CloseTime:        e.closeTime,
		HistoryLength:    int64(len(e.events)),
		SearchAttributes: attrs,
		ParentExecution:  parent,
	}
}
