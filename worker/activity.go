package worker

import (
	"context"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/activity"
	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/internal"
)

func (w *Worker) pollActivities(ctx context.Context, sem chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sem <- struct{}{}:
		}

		task, err := w.svc.PollForActivityTask(ctx, &api.PollForActivityTaskRequest{
			Domain:    w.domain,
			TaskQueue: w.taskQueue,
			Identity:  w.o.identity,
		})
		if ctx.Err() != nil {
			<-sem
			return ctx.Err()
		} else if err != nil {
			<-sem
			log.Error(ctx, errors.Wrap(err, "poll activity task"))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollErrBackoff):
			}
			continue
		}

		go func() {
			defer func() { <-sem }()
			w.runActivity(ctx, task)
		}()
	}
}

func (w *Worker) runActivity(ctx context.Context, task *api.ActivityTask) {
	t0 := time.Now()

	fn, ok := w.activities[task.ActivityType]
	if !ok {
		w.respondActivityErr(ctx, task,
			loom.NewApplicationError("activity type not registered: "+task.ActivityType, nil))
		w.o.metrics.IncActivity(task.ActivityType, "rejected")
		return
	}

	actCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if task.StartToCloseTimeout > 0 {
		var tcancel context.CancelFunc
		actCtx, tcancel = context.WithTimeout(actCtx, task.StartToCloseTimeout)
		defer tcancel()
	}

	hb := &heartbeater{
		svc:      w.svc,
		token:    task.TaskToken,
		interval: task.HeartbeatTimeout / 2,
		cancel:   cancel,
	}

	actCtx = activity.WithEnv(actCtx, &activity.Env{
		Info: activity.Info{
			TaskToken:        task.TaskToken,
			Execution:        task.Execution,
			ActivityID:       task.ActivityID,
			ActivityType:     task.ActivityType,
			Attempt:          task.Attempt,
			ScheduledTime:    task.ScheduledTime,
			StartedTime:      task.StartedTime,
			HeartbeatTimeout: task.HeartbeatTimeout,
			HeartbeatDetails: task.HeartbeatDetails,
		},
		DC:        w.o.dc,
		Heartbeat: hb.beat,
	})

	result, err := internal.InvokeActivity(actCtx, fn, w.o.dc, task.Input)

	switch {
	case err == nil:
		rerr := w.svc.RespondActivityTaskCompleted(ctx, &api.RespondActivityTaskCompletedRequest{
			TaskToken: task.TaskToken,
			Result:    result,
		})
		if rerr != nil {
			log.Error(ctx, errors.Wrap(rerr, "respond activity completed"))
		}
		w.o.metrics.IncActivity(task.ActivityType, "completed")

	case loom.IsCanceledError(err), errors.Is(err, context.Canceled):
		var details []byte
		var ce *loom.CanceledError
		if errors.As(err, &ce) {
			details = ce.Details
		}
		rerr := w.svc.RespondActivityTaskCanceled(ctx, &api.RespondActivityTaskCanceledRequest{
			TaskToken: task.TaskToken,
			Details:   details,
		})
		if rerr != nil {
			log.Error(ctx, errors.Wrap(rerr, "respond activity canceled"))
		}
		w.o.metrics.IncActivity(task.ActivityType, "canceled")

	default:
		w.respondActivityErr(ctx, task, err)
		w.o.metrics.IncActivity(task.ActivityType, "failed")
	}

	w.o.metrics.ActivityTook(task.ActivityType, time.Since(t0).Seconds())
}

func (w *Worker) respondActivityErr(ctx context.Context, task *api.ActivityTask, err error) {
	rerr := w.svc.RespondActivityTaskFailed(ctx, &api.RespondActivityTaskFailedRequest{
		TaskToken: task.TaskToken,
		Failure:   api.FailureFromError(err),
	})
	if rerr != nil {
		log.Error(ctx, errors.Wrap(rerr, "respond activity failed",
			j.KV("activity_id", task.ActivityID)))
	}
}

// heartbeater forwards activity heartbeats to the service, rate-limited to
// half the heartbeat timeout, and cancels the activity context when the
// service requests cancellation.
type heartbeater struct {
	svc      api.Service
	token    string
	interval time.Duration
	cancel   context.CancelFunc

	lastSent time.Time
	lastData []byte
}

func (h *heartbeater) beat(ctx context.Context, details []byte) error {
	h.lastData = details
	if h.interval > 0 && time.Since(h.lastSent) < h.interval {
		return nil
	}
	h.lastSent = time.Now()

	res, err := h.svc.RecordActivityTaskHeartbeat(ctx, &api.RecordActivityTaskHeartbeatRequest{
		TaskToken: h.token,
		Details:   details,
	})
	if err != nil {
		return err
	}
	if res.CancelRequested {
		h.cancel()
	}
	return nil
}
