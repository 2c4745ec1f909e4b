package server

import (
	"context"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/internal"
)

// scheduleActivity records the scheduled event, registers activity state
// and timeout timers and dispatches the first attempt.
func (s *Server) scheduleActivity(e *execution, attrs *api.ActivityTaskScheduledAttributes) {
	id := e.append(api.HistoryEvent{
		Type:                  api.EventActivityTaskScheduled,
		ActivityTaskScheduled: attrs,
	})

	st := &activityState{
		scheduledEventID: id,
		attrs:            attrs,
		attempt:          1,
		scheduledTime:    s.clock.Now(),
	}
	e.activities[id] = st

	if attrs.ScheduleToCloseTimeout > 0 {
		s.addTimer(st.scheduledTime.Add(attrs.ScheduleToCloseTimeout), func() {
			if st.closed {
				return
			}
			s.closeActivity(e, st, api.HistoryEvent{
				Type: api.EventActivityTaskTimedOut,
				ActivityTaskTimedOut: &api.ActivityTaskTimedOutAttributes{
					ScheduledEventID:     st.scheduledEventID,
					TimeoutType:          loom.TimeoutScheduleToClose,
					LastHeartbeatDetails: st.heartbeatDetails,
				},
			})
		})
	}

	s.dispatchActivity(e, st)
}

// dispatchActivity queues one attempt of the activity and arms its
// schedule-to-start timeout.
func (s *Server) dispatchActivity(e *execution, st *activityState) {
	taskQueue := st.attrs.TaskQueue
	if taskQueue == "" {
		taskQueue = e.taskQueue
	}

	gen := st.gen
	s.actQueue(e.domain, taskQueue).push(&activityRef{
		path:             e.path(),
		scheduledEventID: st.scheduledEventID,
		gen:              gen,
	})

	if st.attrs.ScheduleToStartTimeout > 0 {
		s.addTimer(s.clock.Now().Add(st.attrs.ScheduleToStartTimeout), func() {
			if st.closed || st.started || st.gen != gen {
				return
			}
			s.retryOrCloseActivity(e, st, api.FailureReasonTimeout, api.HistoryEvent{
				Type: api.EventActivityTaskTimedOut,
				ActivityTaskTimedOut: &api.ActivityTaskTimedOutAttributes{
					ScheduledEventID: st.scheduledEventID,
					TimeoutType:      loom.TimeoutScheduleToStart,
				},
			})
		})
	}
}

// retryOrCloseActivity retries a failed attempt under the retry policy,
// otherwise records the final event and wakes the workflow.
func (s *Server) retryOrCloseActivity(e *execution, st *activityState, reason string, finalEvent api.HistoryEvent) {
	if e.status == loom.StatusRunning && !st.cancelRequested &&
		!internal.NonRetryable(st.attrs.RetryPolicy, reason) {
		if delay, ok := internal.Backoff(st.attrs.RetryPolicy, st.attempt); ok {
			st.attempt++
			st.gen++
			st.started = false
			st.startedTime = time.Time{}
			s.addTimer(s.clock.Now().Add(delay), func() {
				if st.closed {
					return
				}
				s.dispatchActivity(e, st)
			})
			return
		}
	}

	s.closeActivity(e, st, finalEvent)
}

func (s *Server) closeActivity(e *execution, st *activityState, finalEvent api.HistoryEvent) {
	st.closed = true
	if e.status != loom.StatusRunning {
		return
	}
	e.append(finalEvent)
	e.ensureDecisionScheduled()
}

// requestCancelActivity handles the workflow's cancel command. Unstarted
// attempts are cancelled immediately, running ones learn of the request on
// their next heartbeat.
func (s *Server) requestCancelActivity(e *execution, activityID string) {
	for _, st := range e.activities {
		if st.closed || st.attrs.ActivityID != activityID {
			continue
		}

		e.append(api.HistoryEvent{
			Type: api.EventActivityTaskCancelRequested,
			ActivityTaskCancelRequested: &api.ActivityTaskCancelRequestedAttributes{
				ActivityID: activityID,
			},
		})
		st.cancelRequested = true

		if !st.started {
			st.gen++
			s.closeActivity(e, st, api.HistoryEvent{
				Type: api.EventActivityTaskCanceled,
				ActivityTaskCanceled: &api.ActivityTaskCanceledAttributes{
					ScheduledEventID: st.scheduledEventID,
				},
			})
		}
		return
	}
}

func (s *Server) PollForActivityTask(ctx context.Context, req *api.PollForActivityTaskRequest) (*api.ActivityTask, error) {
	s.mu.Lock()
	q := s.actQueue(req.Domain, req.TaskQueue)
	s.mu.Unlock()

	for {
		ref, err := q.poll(ctx)
		if err != nil {
			return nil, err
		}

		task, ok := s.buildActivityTask(ref, req.Identity)
		if ok {
			return task, nil
		}
	}
}

func (s *Server) buildActivityTask(ref *activityRef, identity string) (*api.ActivityTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[ref.path]
	if !ok || e.status != loom.StatusRunning {
		return nil, false
	}
	st, ok := e.activities[ref.scheduledEventID]
	if !ok || st.closed || st.started || st.gen != ref.gen {
		return nil, false
	}

	now := s.clock.Now()
	st.started = true
	st.startedTime = now
	st.lastHeartbeat = now

	e.append(api.HistoryEvent{
		Type: api.EventActivityTaskStarted,
		ActivityTaskStarted: &api.ActivityTaskStartedAttributes{
			ScheduledEventID: st.scheduledEventID,
			Attempt:          st.attempt,
			Identity:         identity,
		},
	})

	gen := st.gen
	if st.attrs.StartToCloseTimeout > 0 {
		s.addTimer(now.Add(st.attrs.StartToCloseTimeout), func() {
			if st.closed || st.gen != gen {
				return
			}
			s.retryOrCloseActivity(e, st, api.FailureReasonTimeout, api.HistoryEvent{
				Type: api.EventActivityTaskTimedOut,
				ActivityTaskTimedOut: &api.ActivityTaskTimedOutAttributes{
					ScheduledEventID:     st.scheduledEventID,
					TimeoutType:          loom.TimeoutStartToClose,
					LastHeartbeatDetails: st.heartbeatDetails,
				},
			})
		})
	}
	if st.attrs.HeartbeatTimeout > 0 {
		s.armHeartbeatTimer(e, st, gen)
	}

	token := internal.TaskToken{
		Domain:           e.domain,
		WorkflowID:       e.exec.WorkflowID,
		RunID:            e.exec.RunID,
		ScheduledEventID: st.scheduledEventID,
		Attempt:          st.attempt,
	}

	return &api.ActivityTask{
		TaskToken:              token.Encode(),
		Execution:              e.exec,
		ActivityID:             st.attrs.ActivityID,
		ActivityType:           st.attrs.ActivityType,
		Input:                  st.attrs.Input,
		Attempt:                st.attempt,
		ScheduledTime:          st.scheduledTime,
		StartedTime:            st.startedTime,
		ScheduleToCloseTimeout: st.attrs.ScheduleToCloseTimeout,
		StartToCloseTimeout:    st.attrs.StartToCloseTimeout,
		HeartbeatTimeout:       st.attrs.HeartbeatTimeout,
		HeartbeatDetails:       st.heartbeatDetails,
	}, true
}

// armHeartbeatTimer checks the heartbeat deadline and re-arms itself while
// the attempt is still running.
func (s *Server) armHeartbeatTimer(e *execution, st *activityState, gen int) {
	timeout := st.attrs.HeartbeatTimeout
	s.addTimer(st.lastHeartbeat.Add(timeout), func() {
		if st.closed || st.gen != gen {
			return
		}
		if s.clock.Now().Sub(st.lastHeartbeat) < timeout {
			s.armHeartbeatTimer(e, st, gen)
			return
		}
		s.retryOrCloseActivity(e, st, api.FailureReasonTimeout, api.HistoryEvent{
			Type: api.EventActivityTaskTimedOut,
			ActivityTaskTimedOut: &api.ActivityTaskTimedOutAttributes{
				ScheduledEventID:     st.scheduledEventID,
				TimeoutType:          loom.TimeoutHeartbeat,
				LastHeartbeatDetails: st.heartbeatDetails,
			},
		})
	})
}

// activityForToken resolves and validates the activity attempt a respond
// verb refers to. Callers must hold s.mu.
func (s *Server) activityForToken(tokenStr string) (*execution, *activityState, error) {
	token, err := internal.DecodeTaskToken(tokenStr)
	if err != nil {
		return nil, nil, err
	}

	e, err := s.lookup(token.Domain, token.WorkflowID, token.RunID)
	if err != nil {
		return nil, nil, err
	}

	st, ok := e.activities[token.ScheduledEventID]
	if !ok || st.closed || st.attempt != token.Attempt {
		return nil, nil, errors.New("stale activity task", j.KV("token", tokenStr))
	}
	return e, st, nil
}

func (s *Server) RespondActivityTaskCompleted(ctx context.Context, req *api.RespondActivityTaskCompletedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, st, err := s.activityForToken(req.TaskToken)
	if err != nil {
		return err
	}

	s.closeActivity(e, st, api.HistoryEvent{
		Type: api.EventActivityTaskCompleted,
		ActivityTaskCompleted: &api.ActivityTaskCompletedAttributes{
			ScheduledEventID: st.scheduledEventID,
			Result:           req.Result,
		},
	})
	return nil
}

func (s *Server) RespondActivityTaskFailed(ctx context.Context, req *api.RespondActivityTaskFailedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, st, err := s.activityForToken(req.TaskToken)
	if err != nil {
		return err
	}

	var reason string
	if req.Failure != nil {
		reason = req.Failure.Reason
	}

	s.retryOrCloseActivity(e, st, reason, api.HistoryEvent{
		Type: api.EventActivityTaskFailed,
		ActivityTaskFailed: &api.ActivityTaskFailedAttributes{
			ScheduledEventID: st.scheduledEventID,
			Failure:          req.Failure,
		},
	})
	return nil
}

func (s *Server) RespondActivityTaskCanceled(ctx context.Context, req *api.RespondActivityTaskCanceledRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, st, err := s.activityForToken(req.TaskToken)
	if err != nil {
		return err
	}

	s.closeActivity(e, st, api.HistoryEvent{
		Type: api.EventActivityTaskCanceled,
		ActivityTaskCanceled: &api.ActivityTaskCanceledAttributes{
			ScheduledEventID: st.scheduledEventID,
			Details:          req.Details,
		},
	})
	return nil
}

func (s *Server) RecordActivityTaskHeartbeat(ctx context.Context, req *api.RecordActivityTaskHeartbeatRequest) (*api.RecordActivityTaskHeartbeatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, st, err := s.activityForToken(req.TaskToken)
	if err != nil {
		return nil, err
	}

	st.heartbeatDetails = req.Details
	st.lastHeartbeat = s.clock.Now()

	return &api.RecordActivityTaskHeartbeatResponse{
		CancelRequested: st.cancelRequested,
	}, nil
}
