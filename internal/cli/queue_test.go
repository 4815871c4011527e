package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guido-cesarano/syncq/pkg/actions"
)

type listResponse struct {
	Status string                 `json:"status"`
	Data   []actions.QueuedAction `json:"data"`
}

func listQueue(t *testing.T, cfg string) []actions.QueuedAction {
	t.Helper()
	out, err := execute(t, "queue", "list", "--config", cfg, "--format", "json")
	require.NoError(t, err)
	var resp listResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestQueueLifecycle(t *testing.T) {
	cfg := writeConfig(t, offlineURL)

	out, err := execute(t, "enqueue", "meal/create", `{"name":"soup","calories":300}`, "--correlation-id", "tmp-1", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Action queued:")

	_, err = execute(t, "enqueue", "meal/delete", `{"id":"7"}`, "--config", cfg)
	require.NoError(t, err)

	// The queue survives across processes.
	list := listQueue(t, cfg)
	require.Len(t, list, 2)
	assert.Equal(t, "meal/create", list[0].Type)
	assert.Equal(t, "tmp-1", list[0].Metadata.CorrelationID)
	assert.Equal(t, "meal/delete", list[1].Type)

	out, err = execute(t, "queue", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "meal/create")
	assert.Contains(t, out, "pending")

	out, err = execute(t, "queue", "stats", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "pending: 2")

	_, err = execute(t, "queue", "remove", list[1].ID, "--config", cfg)
	require.NoError(t, err)
	assert.Len(t, listQueue(t, cfg), 1)

	_, err = execute(t, "queue", "remove", list[1].ID, "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = execute(t, "queue", "clear", "--config", cfg)
	require.Error(t, err, "clear needs --yes")
	assert.Len(t, listQueue(t, cfg), 1)

	out, err = execute(t, "queue", "clear", "--yes", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 1 actions")
	assert.Empty(t, listQueue(t, cfg))
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	cfg := writeConfig(t, offlineURL)

	_, err := execute(t, "enqueue", "meal/create", `{"name":`, "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")

	_, err = execute(t, "enqueue", "widget/create", `{}`, "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action type")

	assert.Empty(t, listQueue(t, cfg))
}

func TestQueueTypes(t *testing.T) {
	cfg := writeConfig(t, offlineURL)
	out, err := execute(t, "queue", "types", "--config", cfg)
	require.NoError(t, err)
	for _, typ := range []string{"meal/create", "meal/update", "meal/delete", "workout/create", "workout/toggle", "workout/delete"} {
		assert.Contains(t, out, typ)
	}
}
