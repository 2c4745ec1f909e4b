package example

import (
	"context"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/corverroos/loom/client"
	"github.com/corverroos/loom/server"
	"github.com/corverroos/loom/worker"
)

// t0 is the fake clock start, aligned to a minute boundary for cron tests.
var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// SetupForTesting starts an in-memory server on a fake clock and a worker
// serving all example workflows and activities, and returns a connected
// client. Timers only fire when the fake clock is stepped and
// server.FireDueTimers is called.
func SetupForTesting(t *testing.T) (*client.Client, *server.Server, *clocktesting.FakeClock) {
	fc := clocktesting.NewFakeClock(t0)
	s := server.New(server.WithClock(fc))

	w := worker.New(s, "default", "example")
	for _, wf := range []any{Calculate, HelloAsync, NamedGreeting, FarewellOnCancel, ExtendableTimer, Heartbeat} {
		jtest.RequireNil(t, w.RegisterWorkflow(wf))
	}
	for _, act := range []any{Multiply, ComposeGreeting, SayGoodbye} {
		jtest.RequireNil(t, w.RegisterActivity(act))
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = w.Run(ctx)
	}()

	return client.New(s, "default"), s, fc
}
