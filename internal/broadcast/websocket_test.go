package broadcast

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkoski/edgeflow/pkg/api"
)

func TestNewEnvelope(t *testing.T) {
	ev := api.NewNodeCompleted("run-1", "db#1", "database", "success", 0)
	env := NewEnvelope(ev)

	assert.Equal(t, "ws:node:completed", env.Type)
	assert.Equal(t, ev.At().UnixMilli(), env.Timestamp)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "ws:node:completed", decoded["type"])

	payload, ok := decoded["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-1", payload["runId"])
	assert.Equal(t, "db#1", payload["nodeId"])
	assert.Equal(t, "success", payload["outcome"])
}
