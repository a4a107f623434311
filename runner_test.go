package edgeflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRunner_BuiltinsAndCustomCapability(t *testing.T) {
	runner := NewLocalRunner(&LocalRunnerOptions{Quiet: true})
	defer runner.Close()

	// Built-ins are preloaded.
	_, ok := runner.Registry.Resolve("set")
	assert.True(t, ok)
	_, ok = runner.Registry.Resolve("logic")
	assert.True(t, ok)

	require.NoError(t, runner.Registry.Register("double", CapabilityFunc{
		Name: "double",
		Fn: func(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
			n, _ := ec.Config["n"].(int)
			ec.State.Set("doubled", n*2)
			return Outcome{Name: "success"}, nil
		},
	}))

	def := New("double-wf", "Double").
		Node("double", Config{"n": 21},
			On("success", Next("set", Config{"$.done": true})),
		).
		MustBuild()

	res, err := runner.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 42, res.State["doubled"])
	assert.Equal(t, true, res.State["done"])
}

func TestLocalRunner_EventsAndHistory(t *testing.T) {
	runner := NewLocalRunner(&LocalRunnerOptions{Quiet: true})
	defer runner.Close()

	var lifecycle []string
	unsub := runner.Broadcaster.Subscribe(CategoryLifecycle, func(ev Event) {
		lifecycle = append(lifecycle, ev.EventType())
	})
	defer unsub()

	def := New("evented", "Evented").
		Node("noop", nil).
		MustBuild()

	res, err := runner.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"workflow:started", "workflow:completed"}, lifecycle)

	rec, err := runner.History.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), rec.Status)

	snap := runner.Metrics.Snapshot()
	assert.EqualValues(t, 1, snap.RunsCompleted)
}

func TestLocalRunner_BranchErrorRouting(t *testing.T) {
	runner := NewLocalRunner(&LocalRunnerOptions{Quiet: true})
	defer runner.Close()

	def := New("failing", "Failing").
		Node("fail", Config{"message": "primary path down"},
			On("error", Next("set", Config{"$.recovered": true})),
		).
		MustBuild()

	res, err := runner.Run(context.Background(), def, nil)
	require.NoError(t, err, "the error edge absorbs the failure")
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, true, res.State["recovered"])
}

func TestLocalRunner_HistoryFilter(t *testing.T) {
	runner := NewLocalRunner(&LocalRunnerOptions{Quiet: true})
	defer runner.Close()

	def := New("twice", "Twice").Node("noop", nil).MustBuild()
	_, err := runner.Run(context.Background(), def, nil)
	require.NoError(t, err)
	_, err = runner.Run(context.Background(), def, nil)
	require.NoError(t, err)

	runs, err := runner.History.ListRuns(context.Background(), RunFilter{WorkflowID: "twice"})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
