package example

import (
	"context"
	"io"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/client"
	"github.com/corverroos/loom/replayer"
)

// TestReplayExamples runs example workflows to completion and verifies the
// current code replays their recorded histories without divergence.
func TestReplayExamples(t *testing.T) {
	c, s, _ := SetupForTesting(t)
	ctx := context.Background()

	hello, err := c.StartWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "replay_hello",
		TaskQueue: "example",
	}, HelloAsync, "World")
	jtest.RequireNil(t, err)
	jtest.RequireNil(t, hello.Get(ctx, nil))

	named, err := c.StartWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "replay_named",
		TaskQueue: "example",
	}, NamedGreeting)
	jtest.RequireNil(t, err)
	jtest.RequireNil(t, c.SignalWorkflow(ctx, "replay_named", "", "receiveName", "A"))
	jtest.RequireNil(t, named.Get(ctx, nil))

	r := replayer.New()
	jtest.RequireNil(t, r.RegisterWorkflow(HelloAsync))
	jtest.RequireNil(t, r.RegisterWorkflow(NamedGreeting))

	jtest.RequireNil(t, r.ReplayExecution(ctx, s, "default", loom.Execution{
		WorkflowID: "replay_hello",
		RunID:      hello.GetRunID(),
	}))

	sh := replayer.NewShadower(r, s, s.Stream, "default")
	sh.SetOutput(io.Discard)

	res, err := sh.Run(ctx, replayer.ShadowOptions{
		Statuses: []loom.Status{loom.StatusCompleted},
	})
	jtest.RequireNil(t, err)
	require.Equal(t, 2, res.Total)
	require.Equal(t, 2, res.Succeeded)
	require.Empty(t, res.Mismatches)
}
