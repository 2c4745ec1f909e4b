package server

import (
	"context"
	"sort"
	"strconv"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
)

const defaultPageSize = 1000

func (s *Server) DescribeWorkflowExecution(ctx context.Context, req *api.DescribeWorkflowExecutionRequest) (*api.DescribeWorkflowExecutionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(req.Domain, req.WorkflowID, req.RunID)
	if err != nil {
		return nil, err
	}

	return &api.DescribeWorkflowExecutionResponse{Info: e.info()}, nil
}

func (s *Server) GetWorkflowExecutionHistory(ctx context.Context, req *api.GetWorkflowExecutionHistoryRequest) (*api.GetWorkflowExecutionHistoryResponse, error) {
	var after int
	if req.NextPageToken != "" {
		var err error
		after, err = strconv.Atoi(req.NextPageToken)
		if err != nil {
			return nil, errors.New("invalid page token", j.KV("token", req.NextPageToken))
		}
	}

	for {
		s.mu.Lock()
		e, err := s.lookup(req.Domain, req.WorkflowID, req.RunID)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}

		if req.CloseEventOnly {
			if e.status.Closed() {
				ev := e.events[len(e.events)-1]
				s.mu.Unlock()
				return &api.GetWorkflowExecutionHistoryResponse{
					History: []api.HistoryEvent{ev},
				}, nil
			}
			changed := e.changed
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-changed:
			}
			continue
		}

		if after > len(e.events) {
			s.mu.Unlock()
			return nil, errors.New("page token beyond history", j.KV("token", req.NextPageToken))
		}

		pending := e.events[after:]
		if len(pending) == 0 && req.WaitForNewEvent && !e.status.Closed() {
			changed := e.changed
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-changed:
			}
			continue
		}

		pageSize := req.PageSize
		if pageSize <= 0 {
			pageSize = defaultPageSize
		}
		if len(pending) > pageSize {
			pending = pending[:pageSize]
		}

		history := make([]api.HistoryEvent, len(pending))
		copy(history, pending)

		var nextToken string
		if after+len(history) < len(e.events) {
			nextToken = strconv.Itoa(after + len(history))
		}
		s.mu.Unlock()

		return &api.GetWorkflowExecutionHistoryResponse{
			History:       history,
			NextPageToken: nextToken,
		}, nil
	}
}

func (s *Server) ListClosedWorkflowExecutions(ctx context.Context, req *api.ListClosedWorkflowExecutionsRequest) (*api.ListClosedWorkflowExecutionsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var infos []api.ExecutionInfo
	for _, e := range s.executions {
		if e.domain != req.Domain || !e.status.Closed() {
			continue
		}
		if req.WorkflowType != "" && e.workflowType != req.WorkflowType {
			continue
		}
		if req.Status != loom.StatusUnknown && e.status != req.Status {
			continue
		}
		infos = append(infos, e.info())
	}

	// Most recently closed first, run ID breaks ties for stable paging.
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CloseTime.Equal(infos[j].CloseTime) {
			return infos[i].CloseTime.After(infos[j].CloseTime)
		}
		return infos[i].Execution.RunID < infos[j].Execution.RunID
	})

	var offset int
	if req.NextPageToken != "" {
		var err error
		offset, err = strconv.Atoi(req.NextPageToken)
		if err != nil {
			return nil, errors.New("invalid page token", j.KV("token", req.NextPageToken))
		}
	}
	if offset > len(infos) {
		offset = len(infos)
	}
	infos = infos[offset:]

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var nextToken string
	if len(infos) > pageSize {
		infos = infos[:pageSize]
		nextToken = strconv.Itoa(offset + pageSize)
	}

	return &api.ListClosedWorkflowExecutionsResponse{
		Executions:    infos,
		NextPageToken: nextToken,
	}, nil
}
