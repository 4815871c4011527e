package cli

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guido-cesarano/syncq/pkg/config"
)

func memoryConfig(t *testing.T, remoteURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Driver = "memory"
	cfg.Remote.BaseURL = remoteURL
	cfg.Connectivity.ProbeInterval = 50 * time.Millisecond
	cfg.Admin.Addr = ""
	return *cfg
}

func TestServeDrainsQueueWhenOnline(t *testing.T) {
	remote := &fakeRemote{}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, memoryConfig(t, srv.URL))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.queue.Enqueue(ctx, "meal/create", map[string]any{"name": "soup", "calories": 300}, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- serve(ctx, a) }()

	require.Eventually(t, func() bool { return a.queue.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, a.flag.Online())
	assert.Equal(t, int64(1), remote.created.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not shut down")
	}
}

func TestServeRejectsBadDepthSchedule(t *testing.T) {
	cfg := memoryConfig(t, offlineURL)
	cfg.Metrics.DepthSchedule = "every now and then"

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	err = serve(context.Background(), a)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestOpenStorageUnknownDriver(t *testing.T) {
	cfg := memoryConfig(t, offlineURL)
	cfg.Storage.Driver = "postgres"
	_, err := newApp(context.Background(), cfg)
	assert.Error(t, err)
}

func TestScheduledRunOnlyWhileOnline(t *testing.T) {
	srv := httptest.NewServer(&fakeRemote{})
	defer srv.Close()

	ctx := context.Background()
	a, err := newApp(ctx, memoryConfig(t, srv.URL))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.queue.Enqueue(ctx, "workout/create", map[string]any{"name": "run"}, nil)
	require.NoError(t, err)

	a.scheduledRun(ctx)
	assert.Equal(t, 1, a.queue.Len(), "offline: nothing attempted")

	a.flag.Set(true)
	a.scheduledRun(ctx)
	assert.Equal(t, 0, a.queue.Len())
}
