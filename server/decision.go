package server

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/internal"
)

func (s *Server) PollForDecisionTask(ctx context.Context, req *api.PollForDecisionTaskRequest) (*api.DecisionTask, error) {
	s.mu.Lock()
	q := s.decQueue(req.Domain, req.TaskQueue)
	s.mu.Unlock()

	for {
		ref, err := q.poll(ctx)
		if err != nil {
			return nil, err
		}

		task, ok := s.buildDecisionTask(ref, req.Identity)
		if ok {
			return task, nil
		}
		// Stale reference, the decision was superseded. Keep polling.
	}
}

func (s *Server) buildDecisionTask(ref *decisionRef, identity string) (*api.DecisionTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[ref.path]
	if !ok {
		return nil, false
	}

	if ref.query != nil {
		token := "query/" + uuid.New().String()
		ref.query.token = token
		s.pendingQueries[token] = ref.query

		return &api.DecisionTask{
			TaskToken:              token,
			Execution:              e.exec,
			WorkflowType:           e.workflowType,
			History:                e.historySnapshot(),
			PreviousStartedEventID: e.lastStartedEventID,
			Query:                  ref.query.input,
		}, true
	}

	if e.status != loom.StatusRunning || !e.decisionScheduled || e.decisionStarted {
		return nil, false
	}

	e.decisionStarted = true
	e.decisionStartedID = e.append(api.HistoryEvent{
		Type:                api.EventDecisionTaskStarted,
		DecisionTaskStarted: &api.DecisionTaskStartedAttributes{Identity: identity},
	})

	scheduledID := e.decisionScheduledID
	attempt := e.decisionAttempt
	s.addTimer(s.clock.Now().Add(e.decisionTimeout), func() {
		if e.decisionStarted && e.decisionScheduledID == scheduledID && e.decisionAttempt == attempt {
			e.failDecision("decision task timeout")
		}
	})

	return &api.DecisionTask{
		TaskToken: internal.TaskToken{
			Domain:           e.domain,
			WorkflowID:       e.exec.WorkflowID,
			RunID:            e.exec.RunID,
			ScheduledEventID: scheduledID,
			Attempt:          attempt,
		}.Encode(),
		Execution:              e.exec,
		WorkflowType:           e.workflowType,
		History:                e.historySnapshot(),
		PreviousStartedEventID: e.lastStartedEventID,
		StartedEventID:         e.decisionStartedID,
		Attempt:                attempt,
	}, true
}

func (e *execution) historySnapshot() []api.HistoryEvent {
	h := make([]api.HistoryEvent, len(e.events))
	copy(h, e.events)
	return h
}

func (s *Server) RespondDecisionTaskCompleted(ctx context.Context, req *api.RespondDecisionTaskCompletedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.pendingQueries[req.TaskToken]; ok {
		delete(s.pendingQueries, req.TaskToken)
		var err error
		if req.QueryError != "" {
			err = errors.New(req.QueryError)
		}
		q.resCh <- queryResult{result: req.QueryResult, err: err}
		return nil
	}

	token, err := internal.DecodeTaskToken(req.TaskToken)
	if err != nil {
		return err
	}

	e, err := s.lookup(token.Domain, token.WorkflowID, token.RunID)
	if err != nil {
		return err
	}
	if e.status != loom.StatusRunning || !e.decisionStarted ||
		e.decisionScheduledID != token.ScheduledEventID || e.decisionAttempt != token.Attempt {
		return errors.New("stale decision task", j.KV("token", req.TaskToken))
	}

	startedID := e.decisionStartedID
	e.append(api.HistoryEvent{
		Type:                  api.EventDecisionTaskCompleted,
		DecisionTaskCompleted: &api.DecisionTaskCompletedAttributes{StartedEventID: startedID},
	})
	e.lastStartedEventID = startedID
	e.decisionScheduled = false
	e.decisionStarted = false

	for _, cmd := range req.Commands {
		if e.status != loom.StatusRunning {
			break
		}
		if err := s.applyCommand(e, cmd); err != nil {
			return err
		}
	}

	if e.status == loom.StatusRunning && e.needsDecision(startedID) {
		e.ensureDecisionScheduled()
	}
	e.dispatchQueries()

	return nil
}

func (s *Server) RespondDecisionTaskFailed(ctx context.Context, req *api.RespondDecisionTaskFailedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.pendingQueries[req.TaskToken]; ok {
		delete(s.pendingQueries, req.TaskToken)
		q.resCh <- queryResult{err: errors.New(req.Cause)}
		return nil
	}

	token, err := internal.DecodeTaskToken(req.TaskToken)
	if err != nil {
		return err
	}

	e, err := s.lookup(token.Domain, token.WorkflowID, token.RunID)
	if err != nil {
		return err
	}
	if !e.decisionStarted || e.decisionScheduledID != token.ScheduledEventID ||
		e.decisionAttempt != token.Attempt {
		return nil
	}

	e.failDecision(req.Cause)
	return nil
}

// wakeEventTypes are event types that resolve workflow futures or deliver
// signals, so their presence after a completed decision requires a new one.
var wakeEventTypes = map[api.EventType]bool{
	api.EventWorkflowExecutionSignaled:        true,
	api.EventWorkflowExecutionCancelRequested: true,
	api.EventActivityTaskCompleted:            true,
	api.EventActivityTaskFailed:               true,
	api.EventActivityTaskTimedOut:             true,
	api.EventActivityTaskCanceled:             true,
	api.EventTimerFired:                       true,
	api.EventChildWorkflowExecutionStarted:    true,
	api.EventChildWorkflowExecutionCompleted:  true,
	api.EventChildWorkflowExecutionFailed:     true,
	api.EventChildWorkflowExecutionCanceled:   true,
	api.EventChildWorkflowExecutionTimedOut:   true,
	api.EventChildWorkflowExecutionTerminated: true,
	api.EventExternalWorkflowSignaled:         true,
	api.EventSignalExternalWorkflowFailed:     true,
}

func (e *execution) needsDecision(afterEventID int64) bool {
	for i := afterEventID; i < int64(len(e.events)); i++ {
		if wakeEventTypes[e.events[i].Type] {
			return true
		}
	}
	return false
}

func (s *Server) applyCommand(e *execution, cmd api.Command) error {
	switch cmd.Type {
	case api.CommandScheduleActivity:
		s.scheduleActivity(e, cmd.ScheduleActivity)

	case api.CommandRequestCancelActivity:
		s.requestCancelActivity(e, cmd.RequestCancelActivity.ActivityID)

	case api.CommandStartTimer:
		s.startTimer(e, cmd.StartTimer)

	case api.CommandCancelTimer:
		s.cancelTimer(e, cmd.CancelTimer.TimerID)

	case api.CommandRecordMarker:
		e.append(api.HistoryEvent{
			Type:           api.EventMarkerRecorded,
			MarkerRecorded: cmd.RecordMarker,
		})

	case api.CommandStartChildWorkflow:
		s.startChildWorkflow(e, cmd.StartChildWorkflow)

	case api.CommandSignalExternalWorkflow:
		s.signalExternalWorkflow(e, cmd.SignalExternalWorkflow)

	case api.CommandUpsertSearchAttributes:
		e.append(api.HistoryEvent{
			Type:                   api.EventUpsertSearchAttributes,
			UpsertSearchAttributes: cmd.UpsertSearchAttributes,
		})
		for k, v := range cmd.UpsertSearchAttributes.SearchAttributes {
			e.searchAttributes[k] = v
		}

	case api.CommandCompleteWorkflow:
		if e.cronSched != nil {
			s.continueCron(e)
			return nil
		}
		e.close(loom.StatusCompleted, api.HistoryEvent{
			Type:                       api.EventWorkflowExecutionCompleted,
			WorkflowExecutionCompleted: cmd.CompleteWorkflow,
		})

	case api.CommandFailWorkflow:
		if e.cronSched != nil {
			s.continueCron(e)
			return nil
		}
		e.close(loom.StatusFailed, api.HistoryEvent{
			Type:                    api.EventWorkflowExecutionFailed,
			WorkflowExecutionFailed: cmd.FailWorkflow,
		})

	case api.CommandCancelWorkflow:
		e.close(loom.StatusCanceled, api.HistoryEvent{
			Type:                      api.EventWorkflowExecutionCanceled,
			WorkflowExecutionCanceled: cmd.CancelWorkflow,
		})

	case api.CommandContinueAsNew:
		s.continueAsNew(e, cmd.ContinueAsNew)

	default:
		return errors.New("unknown command type", j.KV("type", cmd.Type))
	}
	return nil
}

// continueCron closes a cron run as continued-as-new onto the pre-minted
// next run, which createRun defers to the next schedule fire.
func (s *Server) continueCron(e *execution) {
	e.nextCronRunID = newRunID()
	e.close(loom.StatusContinuedAsNew, api.HistoryEvent{
		Type: api.EventWorkflowExecutionContinuedAsNew,
		WorkflowExecutionContinuedAsNew: &api.WorkflowExecutionContinuedAsNewAttributes{
			Input:    e.startReq.Input,
			NewRunID: e.nextCronRunID,
		},
	})
}

func (s *Server) continueAsNew(e *execution, attrs *api.ContinueAsNewAttributes) {
	req := *e.startReq
	req.Input = attrs.Input
	if attrs.WorkflowType != "" {
		req.WorkflowType = attrs.WorkflowType
	}
	req.RequestID = ""
	e.startReq = &req

	if e.cronSched != nil {
		s.continueCron(e)
		return
	}

	newID := newRunID()
	e.close(loom.StatusContinuedAsNew, api.HistoryEvent{
		Type: api.EventWorkflowExecutionContinuedAsNew,
		WorkflowExecutionContinuedAsNew: &api.WorkflowExecutionContinuedAsNewAttributes{
			Input:    attrs.Input,
			NewRunID: newID,
		},
	})

	// The schedule parsed at start if present, so createRun cannot fail.
	_, _ = s.createRun(&req, newID, e.exec.RunID, e.parent, time.Time{})
}

func (s *Server) startTimer(e *execution, attrs *api.TimerStartedAttributes) {
	id := e.append(api.HistoryEvent{
		Type:         api.EventTimerStarted,
		TimerStarted: attrs,
	})
	e.timers[id] = attrs.TimerID

	s.addTimer(s.clock.Now().Add(attrs.Duration), func() {
		if _, ok := e.timers[id]; !ok || e.status != loom.StatusRunning {
			return
		}
		delete(e.timers, id)
		e.append(api.HistoryEvent{
			Type: api.EventTimerFired,
			TimerFired: &api.TimerFiredAttributes{
				TimerID:        attrs.TimerID,
				StartedEventID: id,
			},
		})
		e.ensureDecisionScheduled()
	})
}

func (s *Server) cancelTimer(e *execution, timerID string) {
	for id, tid := range e.timers {
		if tid != timerID {
			continue
		}
		delete(e.timers, id)
		e.append(api.HistoryEvent{
			Type: api.EventTimerCanceled,
			TimerCanceled: &api.TimerCanceledAttributes{
				TimerID:        timerID,
				StartedEventID: id,
			},
		})
		return
	}
}

func (s *Server) startChildWorkflow(e *execution, attrs *api.StartChildWorkflowInitiatedAttributes) {
	initiatedID := e.append(api.HistoryEvent{
		Type:                        api.EventStartChildWorkflowInitiated,
		StartChildWorkflowInitiated: attrs,
	})

	taskQueue := attrs.TaskQueue
	if taskQueue == "" {
		taskQueue = e.taskQueue
	}

	fail := func(err error) {
		e.append(api.HistoryEvent{
			Type: api.EventChildWorkflowExecutionFailed,
			ChildWorkflowExecutionFailed: &api.ChildWorkflowExecutionFailedAttributes{
				InitiatedEventID: initiatedID,
				Execution:        loom.Execution{WorkflowID: attrs.WorkflowID},
				Failure:          api.FailureFromError(err),
			},
		})
	}

	if err := s.checkIDReuse(e.domain, attrs.WorkflowID, attrs.IDReusePolicy); err != nil {
		fail(err)
		return
	}

	req := &api.StartWorkflowExecutionRequest{
		Domain:           e.domain,
		WorkflowID:       attrs.WorkflowID,
		WorkflowType:     attrs.WorkflowType,
		TaskQueue:        taskQueue,
		Input:            attrs.Input,
		ExecutionTimeout: attrs.ExecutionTimeout,
		IDReusePolicy:    attrs.IDReusePolicy,
	}

	parent := &parentInfo{
		path:             e.path(),
		exec:             e.exec,
		initiatedEventID: initiatedID,
	}

	child, err := s.createRun(req, newRunID(), "", parent, time.Time{})
	if err != nil {
		fail(err)
		return
	}

	e.children[initiatedID] = &childInfo{
		path:   child.path(),
		exec:   child.exec,
		policy: attrs.ParentClosePolicy,
	}

	e.append(api.HistoryEvent{
		Type: api.EventChildWorkflowExecutionStarted,
		ChildWorkflowExecutionStarted: &api.ChildWorkflowExecutionStartedAttributes{
			InitiatedEventID: initiatedID,
			Execution:        child.exec,
			WorkflowType:     attrs.WorkflowType,
		},
	})
}

func (s *Server) signalExternalWorkflow(e *execution, attrs *api.SignalExternalWorkflowInitiatedAttributes) {
	initiatedID := e.append(api.HistoryEvent{
		Type:                            api.EventSignalExternalWorkflowInitiated,
		SignalExternalWorkflowInitiated: attrs,
	})

	target, err := s.lookup(e.domain, attrs.WorkflowID, attrs.RunID)
	if err != nil || target.status != loom.StatusRunning {
		e.append(api.HistoryEvent{
			Type: api.EventSignalExternalWorkflowFailed,
			SignalExternalWorkflowFailed: &api.SignalExternalWorkflowFailedAttributes{
				InitiatedEventID: initiatedID,
				WorkflowID:       attrs.WorkflowID,
				Cause:            "external execution not found",
			},
		})
		return
	}

	target.signal(attrs.SignalName, attrs.Input)
	e.append(api.HistoryEvent{
		Type: api.EventExternalWorkflowSignaled,
		ExternalWorkflowSignaled: &api.ExternalWorkflowSignaledAttributes{
			InitiatedEventID: initiatedID,
			WorkflowID:       attrs.WorkflowID,
		},
	})
}

func (s *Server) QueryWorkflow(ctx context.Context, req *api.QueryWorkflowRequest) (*api.QueryWorkflowResponse, error) {
	s.mu.Lock()

	e, err := s.lookup(req.Domain, req.WorkflowID, req.RunID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	q := &pendingQuery{
		input: &api.QueryInput{QueryType: req.QueryType, Args: req.Args},
		resCh: make(chan queryResult, 1),
	}

	if req.Consistency == loom.QueryStrong && (e.decisionScheduled || e.decisionStarted) {
		e.queries = append(e.queries, q)
	} else {
		s.decQueue(e.domain, e.taskQueue).push(&decisionRef{path: e.path(), query: q})
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-q.resCh:
		if res.err != nil {
			return nil, res.err
		}
		return &api.QueryWorkflowResponse{Result: res.result}, nil
	}
}
