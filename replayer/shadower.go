package replayer

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/fatih/color"
	"github.com/luno/fate"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/reflex"
	"github.com/luno/reflex/rpatterns"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
)

// errExitConditionMet stops the shadow consumer once the exit condition is
// reached.
var errExitConditionMet = errors.New("shadow exit condition met")

// ExitCondition bounds a shadow run. Zero values mean unbounded.
type ExitCondition struct {
	// MaxCount stops after this many executions were replayed.
	MaxCount int

	// Duration stops after this much wall time.
	Duration time.Duration
}

// ShadowOptions filters which closed executions are replayed.
type ShadowOptions struct {
	// WorkflowTypes restricts shadowing to these types. Empty means all
	// registered types.
	WorkflowTypes []string

	// Statuses restricts shadowing to executions that closed with one of
	// these statuses. Empty means all closed statuses.
	Statuses []loom.Status

	// SamplingRate replays only this fraction of matching executions.
	// Zero or one means all.
	SamplingRate float64

	// Query is an optional expr-lang boolean expression evaluated against
	// the execution's visibility record, with workflow_id, workflow_type,
	// status, task_queue and search_attributes in scope.
	Query string

	ExitCondition ExitCondition
}

// Mismatch is one execution whose replay diverged.
type Mismatch struct {
	Execution loom.Execution
	Err       error
}

// ShadowResult summarises a shadow run.
type ShadowResult struct {
	Total      int
	Succeeded  int
	Mismatches []Mismatch
}

// Shadower consumes the service close stream and replays matching closed
// executions against the registered workflow code.
type Shadower struct {
	r      *Replayer
	svc    api.Service
	stream reflex.StreamFunc
	domain string
	out    io.Writer
}

func NewShadower(r *Replayer, svc api.Service, stream reflex.StreamFunc, domain string) *Shadower {
	return &Shadower{
		r:      r,
		svc:    svc,
		stream: stream,
		domain: domain,
		out:    os.Stdout,
	}
}

// SetOutput redirects the per-execution progress report.
func (s *Shadower) SetOutput(w io.Writer) {
	s.out = w
}

// Run consumes the close stream from the start to the current head and
// replays each matching execution. It returns the summary along with any
// stream error; individual replay divergences are collected in the result,
// not returned as errors.
func (s *Shadower) Run(ctx context.Context, o ShadowOptions) (*ShadowResult, error) {
	var program *vm.Program
	if o.Query != "" {
		var err error
		program, err = expr.Compile(o.Query,
			expr.Env(map[string]any{}),
			expr.AllowUndefinedVariables(),
			expr.AsBool(),
		)
		if err != nil {
			return nil, errors.Wrap(err, "compile shadow query", j.KV("query", o.Query))
		}
	}

	if o.ExitCondition.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.ExitCondition.Duration)
		defer cancel()
	}

	res := new(ShadowResult)

	fn := func(ctx context.Context, f fate.Fate, e *reflex.Event) error {
		var info api.ExecutionInfo
		if err := json.Unmarshal(e.MetaData, &info); err != nil {
			return errors.Wrap(err, "unmarshal close event metadata")
		}

		ok, err := s.matches(o, program, info)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		res.Total++
		if rerr := s.r.ReplayExecution(ctx, s.svc, s.domain, info.Execution); rerr != nil {
			res.Mismatches = append(res.Mismatches, Mismatch{Execution: info.Execution, Err: rerr})
			color.New(color.FgRed).Fprintf(s.out, "FAIL %s %s/%s: %v\n",
				info.WorkflowType, info.Execution.WorkflowID, info.Execution.RunID, rerr)
		} else {
			res.Succeeded++
			color.New(color.FgGreen).Fprintf(s.out, "OK   %s %s/%s\n",
				info.WorkflowType, info.Execution.WorkflowID, info.Execution.RunID)
		}

		if o.ExitCondition.MaxCount > 0 && res.Total >= o.ExitCondition.MaxCount {
			return errExitConditionMet
		}
		return nil
	}

	spec := reflex.NewSpec(s.stream, rpatterns.MemCursorStore(),
		reflex.NewConsumer("loom_shadower", fn), reflex.WithStreamToHead())

	err := reflex.Run(ctx, spec)
	switch {
	case errors.Is(err, reflex.ErrHeadReached),
		errors.Is(err, errExitConditionMet),
		errors.Is(err, context.DeadlineExceeded):
		return res, nil
	default:
		return res, err
	}
}

func (s *Shadower) matches(o ShadowOptions, program *vm.Program, info api.ExecutionInfo) (bool, error) {
	if len(o.WorkflowTypes) > 0 && !contains(o.WorkflowTypes, info.WorkflowType) {
		return false, nil
	}
	if _, ok := s.r.workflows[info.WorkflowType]; !ok {
		return false, nil
	}

	if len(o.Statuses) > 0 && !contains(o.Statuses, info.Status) {
		return false, nil
	}

	if program != nil {
		out, err := vm.Run(program, map[string]any{
			"workflow_id":       info.Execution.WorkflowID,
			"workflow_type":     info.WorkflowType,
			"status":            info.Status.String(),
			"task_queue":        info.TaskQueue,
			"search_attributes": info.SearchAttributes,
		})
		if err != nil {
			return false, errors.Wrap(err, "run shadow query")
		}
		ok, isBool := out.(bool)
		if !isBool {
			return false, errors.New("shadow query not boolean", j.KV("query", o.Query))
		}
		if !ok {
			return false, nil
		}
	}

	if o.SamplingRate > 0 && o.SamplingRate < 1 && rand.Float64() > o.SamplingRate {
		return false, nil
	}

	return true, nil
}

func contains[T comparable](sl []T, v T) bool {
	for _, s := range sl {
		if s == v {
			return true
		}
	}
	return false
}
