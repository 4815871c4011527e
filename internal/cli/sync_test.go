package cli

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncOfflineLeavesQueueUntouched(t *testing.T) {
	cfg := writeConfig(t, offlineURL)
	_, err := execute(t, "enqueue", "meal/create", `{"name":"soup","calories":300}`, "--config", cfg)
	require.NoError(t, err)

	_, err = execute(t, "sync", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "unreachable")

	list := listQueue(t, cfg)
	require.Len(t, list, 1)
	assert.Equal(t, 0, list[0].Metadata.RetryCount, "no attempt is made while offline")
}

func TestSyncDrainsQueue(t *testing.T) {
	remote := &fakeRemote{}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	cfg := writeConfig(t, srv.URL)
	_, err := execute(t, "enqueue", "meal/create", `{"name":"soup","calories":300}`, "--correlation-id", "tmp-1", "--config", cfg)
	require.NoError(t, err)
	_, err = execute(t, "enqueue", "workout/create", `{"name":"run","scheduled_for":"2026-10-20T07:00:00Z"}`, "--config", cfg)
	require.NoError(t, err)

	out, err := execute(t, "sync", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "synced:   2")
	assert.Equal(t, int64(2), remote.created.Load())
	assert.Empty(t, listQueue(t, cfg))
}

func TestSyncRecordsFailures(t *testing.T) {
	srv := httptest.NewServer(&fakeRemote{})
	defer srv.Close()

	cfg := writeConfig(t, srv.URL)
	_, err := execute(t, "enqueue", "meal/create", `{"name":"","calories":300}`, "--config", cfg)
	require.NoError(t, err)

	_, err = execute(t, "sync", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	list := listQueue(t, cfg)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Metadata.RetryCount)
	assert.Contains(t, list[0].Metadata.Error, "name is required")
	assert.False(t, list[0].Metadata.Failed)

	// Manual retry resets the metadata.
	_, err = execute(t, "queue", "retry", list[0].ID, "--config", cfg)
	require.NoError(t, err)
	list = listQueue(t, cfg)
	assert.Equal(t, 0, list[0].Metadata.RetryCount)
	assert.Empty(t, list[0].Metadata.Error)
}
