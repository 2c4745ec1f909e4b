package api

import (
	"context"

	"github.com/luno/jettison/errors"
)

// HistoryIterator pages through an execution's history via
// GetWorkflowExecutionHistory, hiding page tokens from the caller.
type HistoryIterator struct {
	service Service
	req     GetWorkflowExecutionHistoryRequest

	page []HistoryEvent
	idx  int
	done bool
}

// NewHistoryIterator returns an iterator over the full history of the given
// execution, starting at event 1.
func NewHistoryIterator(service Service, domain, workflowID, runID string, pageSize int) *HistoryIterator {
	return &HistoryIterator{
		service: service,
		req: GetWorkflowExecutionHistoryRequest{
			Domain:     domain,
			WorkflowID: workflowID,
			RunID:      runID,
			PageSize:   pageSize,
		},
	}
}

// HasNext reports whether another event is available without fetching it.
// It may block on a page fetch.
func (it *HistoryIterator) HasNext(ctx context.Context) (bool, error) {
	if it.idx < len(it.page) {
		return true, nil
	}
	if it.done {
		return false, nil
	}

	res, err := it.service.GetWorkflowExecutionHistory(ctx, &it.req)
	if err != nil {
		return false, errors.Wrap(err, "get history page")
	}

	it.page = res.History
	it.idx = 0
	it.req.NextPageToken = res.NextPageToken
	if res.NextPageToken == "" {
		it.done = true
	}

	return it.idx < len(it.page), nil
}

// Next returns the next event. Call HasNext first.
func (it *HistoryIterator) Next(ctx context.Context) (HistoryEvent, error) {
	ok, err := it.HasNext(ctx)
	if err != nil {
		return HistoryEvent{}, err
	}
	if !ok {
		return HistoryEvent{}, errors.New("history iterator exhausted")
	}

	ev := it.page[it.idx]
	it.idx++
	return ev, nil
}

// All drains the iterator and returns the remaining events.
func (it *HistoryIterator) All(ctx context.Context) ([]HistoryEvent, error) {
	var events []HistoryEvent
	for {
		ok, err := it.HasNext(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return events, nil
		}
		ev, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
}
