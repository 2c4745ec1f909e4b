// Package worker hosts workflow and activity functions: it polls the
// service for tasks, replays workflow code through the deterministic
// executor and runs activities with heartbeating and bounded concurrency.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"time"

	"github.com/dgryski/go-jump"
	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
	"golang.org/x/sync/errgroup"

	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/converter"
	"github.com/corverroos/loom/internal"
	"github.com/corverroos/loom/workflow"
)

// pollErrBackoff paces retries after poll errors. Tests override it.
var pollErrBackoff = time.Second

// Worker polls one task queue of one domain for decision and activity
// tasks. Register all workflows and activities before calling Run.
type Worker struct {
	svc       api.Service
	domain    string
	taskQueue string
	o         options

	workflows  map[string]any
	activities map[string]any

	shards []chan *api.DecisionTask
	cache  *stickyCache
}

// New returns a worker for the given domain and task queue.
func New(svc api.Service, domain, taskQueue string, opts ...Option) *Worker {
	o := options{
		config:   defaultConfig(),
		dc:       converter.Default(),
		identity: defaultIdentity(),
		metrics:  defaultMetrics(taskQueue),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Worker{
		svc:        svc,
		domain:     domain,
		taskQueue:  taskQueue,
		o:          o,
		workflows:  make(map[string]any),
		activities: make(map[string]any),
	}
}

func defaultIdentity() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}

// RegisterWorkflow registers a workflow function under its short function
// name.
func (w *Worker) RegisterWorkflow(fn any) error {
	if err := workflow.ValidateWorkflow(fn); err != nil {
		return err
	}

	name := internal.FuncName(fn)
	if _, ok := w.workflows[name]; ok {
		return errors.New("workflow already registered", j.KV("workflow", name))
	}
	w.workflows[name] = fn
	return nil
}

// RegisterActivity registers an activity function under its short function
// name.
func (w *Worker) RegisterActivity(fn any) error {
	if err := internal.ValidateActivity(fn); err != nil {
		return err
	}

	name := internal.FuncName(fn)
	if _, ok := w.activities[name]; ok {
		return errors.New("activity already registered", j.KV("activity", name))
	}
	w.activities[name] = fn
	return nil
}

// Run polls and processes tasks until ctx is cancelled. Decision tasks are
// routed to a fixed shard per run so one run is always processed serially;
// activities run concurrently up to the configured limit.
func (w *Worker) Run(ctx context.Context) error {
	w.cache = newStickyCache(w.o.config.StickyCacheSize)
	defer w.cache.close()

	w.shards = make([]chan *api.DecisionTask, w.o.config.DecisionShards)
	for i := range w.shards {
		w.shards[i] = make(chan *api.DecisionTask)
	}

	g, ctx := errgroup.WithContext(ctx)

	for i := range w.shards {
		shard := w.shards[i]
		g.Go(func() error {
			return w.runShard(ctx, shard)
		})
	}
	for i := 0; i < w.o.config.DecisionPollers; i++ {
		g.Go(func() error {
			return w.pollDecisions(ctx)
		})
	}

	sem := make(chan struct{}, w.o.config.MaxConcurrentActivities)
	for i := 0; i < w.o.config.ActivityPollers; i++ {
		g.Go(func() error {
			return w.pollActivities(ctx, sem)
		})
	}

	return g.Wait()
}

// shardOf consistently maps a run to a decision shard.
func (w *Worker) shardOf(runID string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(runID))
	return int(jump.Hash(h.Sum64(), len(w.shards)))
}

func (w *Worker) pollDecisions(ctx context.Context) error {
	for {
		task, err := w.svc.PollForDecisionTask(ctx, &api.PollForDecisionTaskRequest{
			Domain:    w.domain,
			TaskQueue: w.taskQueue,
			Identity:  w.o.identity,
		})
		if ctx.Err() != nil {
			return ctx.Err()
		} else if err != nil {
			log.Error(ctx, errors.Wrap(err, "poll decision task"))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollErrBackoff):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case w.shards[w.shardOf(task.Execution.RunID)] <- task:
		}
	}
}

func (w *Worker) runShard(ctx context.Context, tasks <-chan *api.DecisionTask) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-tasks:
			if err := w.processDecision(ctx, task); err != nil {
				log.Error(ctx, errors.Wrap(err, "process decision task",
					j.KV("run_id", task.Execution.RunID)))
			}
		}
	}
}

func (w *Worker) processDecision(ctx context.Context, task *api.DecisionTask) error {
	t0 := time.Now()
	defer func() {
		w.o.metrics.DecisionTook(time.Since(t0).Seconds())
	}()

	ex, fresh, err := w.executorFor(task)
	if err != nil {
		w.o.metrics.IncDecision("rejected")
		return errors.Wrap(err, "", j.KV("workflow_type", task.WorkflowType))
	}
	// The executor is pinned until the task is done so cross-shard cache
	// eviction cannot close it mid-replay.
	defer w.cache.release(task.Execution.RunID, ex)
	if fresh {
		w.o.metrics.IncStickyMiss()
	}

	if err := w.fetchRemainingHistory(ctx, task); err != nil {
		return err
	}

	res, err := ex.ProcessTask(ctx, task)
	if err != nil {
		// Replay failed: evict so the next attempt replays from scratch,
		// then fail the task for the server to retry.
		w.cache.remove(task.Execution.RunID)
		w.o.metrics.IncDecision("failed")

		ferr := w.svc.RespondDecisionTaskFailed(ctx, &api.RespondDecisionTaskFailedRequest{
			TaskToken: task.TaskToken,
			Cause:     err.Error(),
		})
		if ferr != nil {
			return errors.Wrap(ferr, "respond decision task failed")
		}
		return err
	}

	req := &api.RespondDecisionTaskCompletedRequest{
		TaskToken:      task.TaskToken,
		Commands:       res.Commands,
		QueryResult:    res.QueryResult,
		StickyWorkerID: w.o.identity,
	}
	if res.QueryErr != nil {
		req.QueryError = res.QueryErr.Error()
	}
	if err := w.svc.RespondDecisionTaskCompleted(ctx, req); err != nil {
		w.cache.remove(task.Execution.RunID)
		return errors.Wrap(err, "respond decision task completed")
	}

	if ex.Done() {
		w.cache.remove(task.Execution.RunID)
	}
	w.o.metrics.IncDecision("completed")
	return nil
}

// executorFor returns the executor for the task's run, pinned in the
// sticky cache, creating one on a cache miss. A fresh executor replays the
// full history shipped with the task. Callers release after responding.
func (w *Worker) executorFor(task *api.DecisionTask) (*workflow.Executor, bool, error) {
	if ex, ok := w.cache.acquire(task.Execution.RunID); ok {
		return ex, false, nil
	}

	fn, ok := w.workflows[task.WorkflowType]
	if !ok {
		return nil, false, errors.New("workflow type not registered")
	}

	ex, err := workflow.NewExecutor(fn, w.o.dc, w.domain)
	if err != nil {
		return nil, false, err
	}
	w.cache.add(task.Execution.RunID, ex)
	return ex, true, nil
}

// fetchRemainingHistory pages in the rest of the task's history if the
// first page was truncated.
func (w *Worker) fetchRemainingHistory(ctx context.Context, task *api.DecisionTask) error {
	for token := task.NextPageToken; token != ""; {
		res, err := w.svc.GetWorkflowExecutionHistory(ctx, &api.GetWorkflowExecutionHistoryRequest{
			Domain:        w.domain,
			WorkflowID:    task.Execution.WorkflowID,
			RunID:         task.Execution.RunID,
			NextPageToken: token,
		})
		if err != nil {
			return errors.Wrap(err, "fetch history page")
		}
		task.History = append(task.History, res.History...)
		token = res.NextPageToken
	}
	task.NextPageToken = ""
	return nil
}
