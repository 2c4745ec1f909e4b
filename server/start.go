package server

import (
	"context"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/robfig/cron/v3"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/internal"
)

func (s *Server) StartWorkflowExecution(ctx context.Context, req *api.StartWorkflowExecutionRequest) (*api.StartWorkflowExecutionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.startLocked(req)
}

func (s *Server) startLocked(req *api.StartWorkflowExecutionRequest) (*api.StartWorkflowExecutionResponse, error) {
	if req.WorkflowID == "" || req.WorkflowType == "" || req.TaskQueue == "" {
		return nil, errors.New("workflow id, type and task queue required",
			j.MKV{"workflow_id": req.WorkflowID, "workflow_type": req.WorkflowType})
	}

	if req.RequestID != "" {
		if runID, ok := s.requestIDs["start/"+req.RequestID]; ok {
			return &api.StartWorkflowExecutionResponse{RunID: runID, AlreadyStarted: true}, nil
		}
	}

	if err := s.checkIDReuse(req.Domain, req.WorkflowID, req.IDReusePolicy); err != nil {
		return nil, err
	}

	var firstDecisionAt time.Time
	if req.CronSchedule != "" {
		sched, err := cron.ParseStandard(req.CronSchedule)
		if err != nil {
			return nil, errors.Wrap(err, "parse cron schedule",
				j.KV("cron_schedule", req.CronSchedule))
		}
		firstDecisionAt = sched.Next(s.clock.Now())
	}

	runID := newRunID()
	if _, err := s.createRun(req, runID, "", nil, firstDecisionAt); err != nil {
		return nil, err
	}

	if req.RequestID != "" {
		s.requestIDs["start/"+req.RequestID] = runID
	}

	return &api.StartWorkflowExecutionResponse{RunID: runID}, nil
}

// checkIDReuse enforces the workflow ID reuse policy against the latest run
// of the workflow ID. Callers must hold s.mu.
func (s *Server) checkIDReuse(domain, workflowID string, policy loom.IDReusePolicy) error {
	curID, ok := s.current[internal.RunPath(domain, workflowID, "")]
	if !ok {
		return nil
	}

	cur := s.executions[internal.RunPath(domain, workflowID, curID)]
	if cur.status == loom.StatusRunning {
		return errors.Wrap(loom.ErrWorkflowAlreadyStarted, "",
			j.MKV{"workflow_id": workflowID, "run_id": curID})
	}

	switch policy {
	case loom.RejectDuplicate:
		return errors.Wrap(loom.ErrWorkflowAlreadyStarted, "workflow id reuse rejected",
			j.KV("workflow_id", workflowID))
	case loom.AllowDuplicateFailedOnly:
		switch cur.status {
		case loom.StatusFailed, loom.StatusTimedOut, loom.StatusTerminated:
		default:
			return errors.Wrap(loom.ErrWorkflowAlreadyStarted,
				"workflow id reuse limited to failed runs",
				j.MKV{"workflow_id": workflowID, "status": cur.status.String()})
		}
	}
	return nil
}

func (s *Server) SignalWorkflowExecution(ctx context.Context, req *api.SignalWorkflowExecutionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.RequestID != "" {
		if _, ok := s.requestIDs["signal/"+req.RequestID]; ok {
			return nil
		}
	}

	e, err := s.lookup(req.Domain, req.WorkflowID, req.RunID)
	if err != nil {
		return err
	}
	if e.status != loom.StatusRunning {
		return errors.Wrap(loom.ErrExecutionNotFound, "signal target closed",
			j.MKV{"workflow_id": req.WorkflowID, "run_id": e.exec.RunID})
	}

	e.signal(req.SignalName, req.Input)

	if req.RequestID != "" {
		s.requestIDs["signal/"+req.RequestID] = ""
	}
	return nil
}

func (s *Server) SignalWithStartWorkflowExecution(ctx context.Context, req *api.SignalWithStartWorkflowExecutionRequest) (*api.StartWorkflowExecutionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := req.Start

	key := internal.RunPath(start.Domain, start.WorkflowID, "")
	if curID, ok := s.current[key]; ok {
		cur := s.executions[internal.RunPath(start.Domain, start.WorkflowID, curID)]
		if cur.status == loom.StatusRunning {
			cur.signal(req.SignalName, req.SignalInput)
			return &api.StartWorkflowExecutionResponse{RunID: curID, AlreadyStarted: true}, nil
		}
	}

	res, err := s.startLocked(&start)
	if err != nil {
		return nil, err
	}
	if res.AlreadyStarted {
		// Deduped retry, the signal was already applied.
		return res, nil
	}

	e, err := s.lookup(start.Domain, start.WorkflowID, res.RunID)
	if err != nil {
		return nil, err
	}
	e.signal(req.SignalName, req.SignalInput)

	return res, nil
}

func (s *Server) RequestCancelWorkflowExecution(ctx context.Context, req *api.RequestCancelWorkflowExecutionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.RequestID != "" {
		if _, ok := s.requestIDs["cancel/"+req.RequestID]; ok {
			return nil
		}
	}

	e, err := s.lookup(req.Domain, req.WorkflowID, req.RunID)
	if err != nil {
		return err
	}

	e.requestCancel(req.Cause)

	if req.RequestID != "" {
		s.requestIDs["cancel/"+req.RequestID] = ""
	}
	return nil
}

func (s *Server) TerminateWorkflowExecution(ctx context.Context, req *api.TerminateWorkflowExecutionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(req.Domain, req.WorkflowID, req.RunID)
	if err != nil {
		return err
	}

	e.terminate(req.Reason)
	return nil
}
