// Package example contains small end-to-end workflows run against the
// in-memory server in tests. They double as usage documentation for the
// client, worker and workflow packages.
package example

import (
	"context"
	"sync"
	"time"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/workflow"
)

// Multiply is an activity returning the product of x and y.
func Multiply(ctx context.Context, x, y int) (int, error) {
	recordInvocation("Multiply")
	return x * y, nil
}

// ComposeGreeting is an activity combining a greeting and a name.
func ComposeGreeting(ctx context.Context, greeting, name string) (string, error) {
	recordInvocation("ComposeGreeting")
	return greeting + " " + name + "!", nil
}

// SayGoodbye is the cleanup activity of FarewellOnCancel.
func SayGoodbye(ctx context.Context) (string, error) {
	recordInvocation("SayGoodbye")
	return "Goodbye.", nil
}

// Calculate spawns three parallel Multiply activities for the pairwise
// products of a, b and c, then waits up to two minutes for a factor signal.
// Without a signal the factor defaults to 10. The factor feeds a small
// correction term added to the sum of the products.
func Calculate(ctx workflow.Context, a, b, c int) (int, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
	})

	futs := []workflow.Future{
		workflow.ExecuteActivity(ctx, Multiply, a, b),
		workflow.ExecuteActivity(ctx, Multiply, a, c),
		workflow.ExecuteActivity(ctx, Multiply, b, c),
	}

	var sum int
	for _, fut := range futs {
		var product int
		if err := fut.Get(ctx, &product); err != nil {
			return 0, err
		}
		sum += product
	}

	var factor int
	ch := workflow.GetSignalChannel(ctx, "factor")
	workflow.Go(ctx, func(ctx workflow.Context) {
		ch.Receive(ctx, &factor)
	})

	ok, err := workflow.AwaitWithTimeout(ctx, time.Minute*2, func() bool {
		return factor > 1
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		factor = 10
	}

	for i := 0; i < 3; i++ {
		f := (i + 1) / factor
		sum += f * f
	}

	return sum, nil
}

// HelloAsync runs two ComposeGreeting activities in parallel and joins
// their results.
func HelloAsync(ctx workflow.Context, name string) (string, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
	})

	helloFut := workflow.ExecuteActivity(ctx, ComposeGreeting, "Hello", name)
	byeFut := workflow.ExecuteActivity(ctx, ComposeGreeting, "Bye", name)

	var hello, bye string
	if err := helloFut.Get(ctx, &hello); err != nil {
		return "", err
	}
	if err := byeFut.Get(ctx, &bye); err != nil {
		return "", err
	}

	return hello + "\n" + bye, nil
}

// NamedGreeting waits for a receiveName signal, greets the received name
// and records the processed name in the CustomKeywordField search
// attribute.
func NamedGreeting(ctx workflow.Context) (string, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
	})

	var name string
	if !workflow.GetSignalChannel(ctx, "receiveName").Receive(ctx, &name) {
		return "", loom.NewCanceledError()
	}

	var greeting string
	err := workflow.ExecuteActivity(ctx, ComposeGreeting, "Hello", name).Get(ctx, &greeting)

	status := "No_Error"
	if err != nil {
		status = "Error"
	}
	if uerr := workflow.UpsertSearchAttributes(ctx, map[string]string{
		"CustomKeywordField": name + ":" + status,
	}); uerr != nil {
		return "", uerr
	}
	if err != nil {
		return "", err
	}

	return greeting, nil
}

// FarewellOnCancel greets and then sleeps for ten days. On cancellation it
// still says goodbye from a disconnected scope before closing as canceled.
func FarewellOnCancel(ctx workflow.Context, name string) (string, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
	})

	var greeting string
	if err := workflow.ExecuteActivity(ctx, ComposeGreeting, "Hello", name).Get(ctx, &greeting); err != nil {
		return "", err
	}

	err := workflow.Sleep(ctx, time.Hour*24*10)
	if loom.IsCanceledError(err) {
		dctx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()

		if gerr := workflow.ExecuteActivity(dctx, SayGoodbye).Get(dctx, nil); gerr != nil {
			return "", gerr
		}
	}
	if err != nil {
		return "", err
	}

	return greeting, nil
}

// ExtendableTimer completes one minute after the last extend signal, or
// one minute after start if no signal arrives.
func ExtendableTimer(ctx workflow.Context) error {
	ch := workflow.GetSignalChannel(ctx, "extend")

	var extends int
	workflow.Go(ctx, func(ctx workflow.Context) {
		for ch.Receive(ctx, nil) {
			extends++
		}
	})

	for {
		seen := extends
		ok, err := workflow.AwaitWithTimeout(ctx, time.Minute, func() bool {
			return extends > seen
		})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// Heartbeat is a trivial workflow run on a cron schedule.
func Heartbeat(ctx workflow.Context) error {
	return nil
}

// invocations records the order activities ran in, for assertions on
// cleanup behavior.
var invocations struct {
	sync.Mutex
	names []string
}

func recordInvocation(name string) {
	invocations.Lock()
	defer invocations.Unlock()
	invocations.names = append(invocations.names, name)
}

// Invocations returns the recorded activity invocation order.
func Invocations() []string {
	invocations.Lock()
	defer invocations.Unlock()
	return append([]string(nil), invocations.names...)
}

// ResetInvocations clears the recorded activity invocations.
func ResetInvocations() {
	invocations.Lock()
	defer invocations.Unlock()
	invocations.names = nil
}
