package api_test

import (
	"testing"

	"github.com/luno/jettison/errors"
	"github.com/stretchr/testify/require"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/api"
)

func TestFailureRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "application",
			err:  loom.NewApplicationError("insufficient_funds", []byte(`{"short":12}`)),
		},
		{
			name: "canceled",
			err:  loom.NewCanceledError(),
		},
		{
			name: "timeout",
			err:  &loom.TimeoutError{Type: loom.TimeoutStartToClose},
		},
		{
			name: "terminated",
			err:  &loom.TerminatedError{Reason: "operator"},
		},
		{
			name: "activity wrapping application",
			err: loom.NewActivityError("Withdraw", "5", 5,
				loom.NewApplicationError("insufficient_funds", nil)),
		},
		{
			name: "child workflow wrapping timeout",
			err: loom.NewChildWorkflowError("Transfer", loom.Execution{WorkflowID: "w1", RunID: "r1"},
				&loom.TimeoutError{Type: loom.TimeoutScheduleToClose}),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := api.FailureFromError(test.err)
			got := f.ToError()
			require.Equal(t, test.err.Error(), got.Error())
			require.IsType(t, test.err, got)
		})
	}
}

func TestFailureActivityUnwrap(t *testing.T) {
	cause := loom.NewApplicationError("boom", nil)
	f := api.FailureFromError(loom.NewActivityError("Act", "3", 3, cause))

	err := f.ToError()
	var aerr *loom.ActivityError
	require.True(t, errors.As(err, &aerr))
	require.Equal(t, "Act", aerr.ActivityType)

	var app *loom.ApplicationError
	require.True(t, errors.As(err, &app))
	require.Equal(t, "boom", app.Reason)
}

func TestFailureDepthCap(t *testing.T) {
	err := error(loom.NewApplicationError("leaf", nil))
	for i := 0; i < 10; i++ {
		err = loom.NewActivityError("Act", "1", 1, err)
	}

	f := api.FailureFromError(err)

	var depth int
	for c := f; c != nil; c = c.Cause {
		depth++
	}
	require.LessOrEqual(t, depth, 5)

	require.NotNil(t, f.ToError())
}

func TestNilFailure(t *testing.T) {
	require.Nil(t, api.FailureFromError(nil))

	var f *api.Failure
	require.NoError(t, f.ToError())
}

func TestStatusEventType(t *testing.T) {
	require.Equal(t, api.EventWorkflowExecutionCompleted, api.StatusEventType(loom.StatusCompleted))
	require.Equal(t, api.EventWorkflowExecutionContinuedAsNew, api.StatusEventType(loom.StatusContinuedAsNew))
	require.Equal(t, api.EventUnknown, api.StatusEventType(loom.StatusRunning))
}
