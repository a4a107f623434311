package nodes

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkoski/edgeflow/pkg/api"
)

func execCtx(config map[string]any) *api.ExecutionContext {
	return &api.ExecutionContext{
		RunID:  "test-run",
		NodeID: "test#1",
		Config: config,
		State:  api.NewState(nil),
	}
}

func TestAll_ReturnsDistinctTypes(t *testing.T) {
	caps := All(nil)
	seen := make(map[string]bool)
	for _, c := range caps {
		assert.False(t, seen[c.Type()], "duplicate type %q", c.Type())
		seen[c.Type()] = true
	}
	assert.True(t, seen["set"])
	assert.True(t, seen["logic"])
	assert.True(t, seen["counter"])
}

func TestSet_WritesState(t *testing.T) {
	ec := execCtx(map[string]any{"$.a.b": 1, "plain": "ignored"})
	out, err := Set{}.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, out.Name)

	v, ok := ec.State.Get("a.b")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestLogic_Comparisons(t *testing.T) {
	cases := []struct {
		op   string
		a, b any
		want string
	}{
		{"equal", 2, 2, OutcomeTrue},
		{"notEqual", 2, 3, OutcomeTrue},
		{"greater", json.Number("5"), json.Number("3"), OutcomeTrue},
		{"greater", 2, 5, OutcomeFalse},
		{"less", "1.5", "2.5", OutcomeTrue}, // numeric strings compare as numbers
		{"equal", "abc", "abc", OutcomeTrue},
		{"greater", "b", "a", OutcomeTrue}, // non-numeric strings compare lexically
	}
	for _, c := range cases {
		ec := execCtx(map[string]any{"operation": c.op, "values": []any{c.a, c.b}})
		out, err := Logic{}.Execute(context.Background(), ec)
		require.NoError(t, err, "%s(%v, %v)", c.op, c.a, c.b)
		assert.Equal(t, c.want, out.Name, "%s(%v, %v)", c.op, c.a, c.b)
	}
}

func TestLogic_Errors(t *testing.T) {
	_, err := Logic{}.Execute(context.Background(), execCtx(map[string]any{"operation": "equal"}))
	assert.Error(t, err, "values array is required")

	_, err = Logic{}.Execute(context.Background(), execCtx(map[string]any{
		"operation": "sideways",
		"values":    []any{1, 2},
	}))
	assert.Error(t, err, "unknown operation")
}

func TestDelay_Cancellable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Delay{}.Execute(ctx, execCtx(map[string]any{"duration": "5s"}))
	assert.ErrorIs(t, err, context.Canceled)

	out, err := Delay{}.Execute(context.Background(), execCtx(map[string]any{"duration": "1ms"}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, out.Name)
}

func TestDelay_BadDuration(t *testing.T) {
	_, err := Delay{}.Execute(context.Background(), execCtx(map[string]any{"duration": "soon"}))
	assert.Error(t, err)
}

func TestNoop_ConfigurableOutcome(t *testing.T) {
	out, err := Noop{}.Execute(context.Background(), execCtx(nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, out.Name)

	out, err = Noop{}.Execute(context.Background(), execCtx(map[string]any{"outcome": "skipped"}))
	require.NoError(t, err)
	assert.Equal(t, "skipped", out.Name)
}

func TestFail_ReturnsError(t *testing.T) {
	_, err := Fail{}.Execute(context.Background(), execCtx(map[string]any{"message": "kaput"}))
	require.Error(t, err)
	assert.Equal(t, "kaput", err.Error())
}

func TestCounter_LoopProtocol(t *testing.T) {
	ec := execCtx(map[string]any{"path": "n", "until": 3})

	for _, want := range []string{OutcomeNext, OutcomeNext, OutcomeDone} {
		out, err := Counter{}.Execute(context.Background(), ec)
		require.NoError(t, err)
		assert.Equal(t, want, out.Name)
	}

	v, _ := ec.State.Get("n")
	assert.Equal(t, 3, v)
}
