// Package server provides an in-memory implementation of api.Service: a
// single-process workflow service with event-sourced histories, decision
// and activity task matching, retries, timeouts, cron scheduling and a
// reflex stream of close events.
//
// State lives in memory only; it exists for embedding in tests and
// single-process deployments. The semantics match what a persistent
// implementation would provide.
package server

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"k8s.io/utils/clock"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/internal"
)

// defaultDecisionTimeout bounds decision task processing before the task
// is failed and rescheduled.
const defaultDecisionTimeout = 10 * time.Second

var _ api.Service = (*Server)(nil)

// Server is the in-memory workflow service.
type Server struct {
	clock      clock.Clock
	pollPeriod time.Duration

	mu sync.Mutex

	// executions keyed by domain/workflow_id/run_id.
	executions map[string]*execution

	// current maps domain/workflow_id to the latest run ID, open or
	// closed. Start consults it for ID reuse policies.
	current map[string]string

	// requestIDs dedupes idempotent verbs. Starts map to the run ID they
	// created, signals and cancels to an empty string.
	requestIDs map[string]string

	// timers holds all pending durable timers: workflow timers, activity
	// retries and timeouts, execution timeouts, decision timeouts and
	// cron fires.
	timers []*serverTimer

	decQueues map[string]*queue[*decisionRef]
	actQueues map[string]*queue[*activityRef]

	// pendingQueries routes query-only decision task responses back to
	// the blocked QueryWorkflow call, keyed by task token.
	pendingQueries map[string]*pendingQuery

	// closeEvents feed the reflex stream of closed executions.
	closeEvents  []closeEvent
	streamNotify chan struct{}
}

type serverTimer struct {
	at   time.Time
	fire func()
}

type decisionRef struct {
	path  string
	query *pendingQuery
}

type activityRef struct {
	path             string
	scheduledEventID int64

	// gen rejects refs of attempts superseded by a retry.
	gen int
}

type pendingQuery struct {
	token string
	input *api.QueryInput
	resCh chan queryResult
}

type queryResult struct {
	result []byte
	err    error
}

type option func(*Server)

// WithClock overrides the wall clock, enabling fake clocks in tests.
func WithClock(c clock.Clock) option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithPollPeriod overrides the timer poll interval.
func WithPollPeriod(d time.Duration) option {
	return func(s *Server) {
		s.pollPeriod = d
	}
}

// New returns an in-memory workflow service. Call Run to drive timers.
func New(opts ...option) *Server {
	s := &Server{
		clock:          clock.RealClock{},
		pollPeriod:     time.Second,
		executions:     make(map[string]*execution),
		current:        make(map[string]string),
		requestIDs:     make(map[string]string),
		decQueues:      make(map[string]*queue[*decisionRef]),
		actQueues:      make(map[string]*queue[*activityRef]),
		pendingQueries: make(map[string]*pendingQuery),
		streamNotify:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives due timers until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollPeriod):
		}
		s.FireDueTimers()
	}
}

// FireDueTimers fires all timers due at the current clock time. Run calls
// it periodically; tests advancing a fake clock call it directly.
func (s *Server) FireDueTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Firing a timer may register new timers that are already due, so
	// loop until quiescent.
	for {
		now := s.clock.Now()
		var due []*serverTimer
		var remaining []*serverTimer
		for _, t := range s.timers {
			if t.at.After(now) {
				remaining = append(remaining, t)
			} else {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			return
		}
		s.timers = remaining
		for _, t := range due {
			timersFired.Inc()
			t.fire()
		}
	}
}

// addTimer registers a durable timer. Callers must hold s.mu; fire runs
// under s.mu.
func (s *Server) addTimer(at time.Time, fire func()) {
	s.timers = append(s.timers, &serverTimer{at: at, fire: fire})
}

func (s *Server) decQueue(domain, taskQueue string) *queue[*decisionRef] {
	key := path.Join(domain, taskQueue)
	q, ok := s.decQueues[key]
	if !ok {
		q = newQueue[*decisionRef]()
		s.decQueues[key] = q
	}
	return q
}

func (s *Server) actQueue(domain, taskQueue string) *queue[*activityRef] {
	key := path.Join(domain, taskQueue)
	q, ok := s.actQueues[key]
	if !ok {
		q = newQueue[*activityRef]()
		s.actQueues[key] = q
	}
	return q
}

// lookup returns the execution, resolving an empty run ID to the latest
// run of the workflow ID. Callers must hold s.mu.
func (s *Server) lookup(domain, workflowID, runID string) (*execution, error) {
	if runID == "" {
		cur, ok := s.current[path.Join(domain, workflowID)]
		if !ok {
			return nil, errors.Wrap(loom.ErrExecutionNotFound, "",
				j.MKV{"domain": domain, "workflow_id": workflowID})
		}
		runID = cur
	}

	e, ok := s.executions[internal.RunPath(domain, workflowID, runID)]
	if !ok {
		return nil, errors.Wrap(loom.ErrExecutionNotFound, "",
			j.MKV{"domain": domain, "workflow_id": workflowID, "run_id": runID})
	}
	return e, nil
}

func newRunID() string {
	return uuid.New().String()
}
