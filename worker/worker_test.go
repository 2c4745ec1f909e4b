package worker

import (
	"context"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/corverroos/loom/api"
	"github.com/corverroos/loom/converter"
	"github.com/corverroos/loom/workflow"
)

func validWorkflow(ctx workflow.Context) error { return nil }

func validActivity(ctx context.Context, s string) (string, error) { return s, nil }

func TestRegister(t *testing.T) {
	w := New(nil, "default", "tq")

	jtest.RequireNil(t, w.RegisterWorkflow(validWorkflow))
	require.Error(t, w.RegisterWorkflow(validWorkflow))
	require.Error(t, w.RegisterWorkflow("not a function"))
	require.Error(t, w.RegisterWorkflow(func(s string) error { return nil }))

	jtest.RequireNil(t, w.RegisterActivity(validActivity))
	require.Error(t, w.RegisterActivity(validActivity))
	require.Error(t, w.RegisterActivity(func(s string) string { return s }))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LOOM_DECISION_POLLERS", "7")
	t.Setenv("LOOM_STICKY_CACHE_SIZE", "3")

	c, err := ConfigFromEnv()
	jtest.RequireNil(t, err)
	require.Equal(t, 7, c.DecisionPollers)
	require.Equal(t, 3, c.StickyCacheSize)
	require.Equal(t, 2, c.ActivityPollers)
}

func TestStickyCacheEviction(t *testing.T) {
	c := newStickyCache(2)
	defer c.close()

	newEx := func() *workflow.Executor {
		ex, err := workflow.NewExecutor(validWorkflow, converter.Default(), "default")
		jtest.RequireNil(t, err)
		return ex
	}

	c.add("r1", newEx())
	c.add("r2", newEx())
	c.add("r3", newEx())

	_, ok := c.acquire("r1")
	require.False(t, ok)
	_, ok = c.acquire("r3")
	require.True(t, ok)

	c.remove("r3")
	_, ok = c.acquire("r3")
	require.False(t, ok)
}

func TestShardOf(t *testing.T) {
	w := New(nil, "default", "tq")
	w.shards = make([]chan *api.DecisionTask, 4)

	require.Equal(t, w.shardOf("run-a"), w.shardOf("run-a"))
	require.GreaterOrEqual(t, w.shardOf("run-a"), 0)
	require.Less(t, w.shardOf("run-a"), 4)
}
