package connectivity

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guido-cesarano/syncq/pkg/queue"
	"github.com/guido-cesarano/syncq/pkg/registry"
	"github.com/guido-cesarano/syncq/pkg/storage"
	"github.com/guido-cesarano/syncq/pkg/syncer"
)

type fakeSyncer struct {
	calls atomic.Int32
	err   error
	runs  chan struct{}
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{runs: make(chan struct{}, 16)}
}

func (f *fakeSyncer) ProcessQueue(context.Context) (syncer.Summary, error) {
	f.calls.Add(1)
	f.runs <- struct{}{}
	return syncer.Summary{}, f.err
}

func (f *fakeSyncer) waitRun(t *testing.T) {
	t.Helper()
	select {
	case <-f.runs:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a sync run")
	}
}

func TestMonitor_StartOnlineTriggersOnce(t *testing.T) {
	flag := NewFlag(true)
	s := newFakeSyncer()
	m := NewMonitor(flag, s)

	m.Start(context.Background())
	s.waitRun(t)
	m.Stop()

	assert.Equal(t, int32(1), s.calls.Load())
}

func TestMonitor_Transitions(t *testing.T) {
	flag := NewFlag(false)
	s := newFakeSyncer()
	m := NewMonitor(flag, s)
	m.Start(context.Background())
	defer m.Stop()

	assert.Zero(t, s.calls.Load(), "offline at startup does not sync")

	flag.Set(true)
	s.waitRun(t)

	flag.Set(true) // no change, no notification
	flag.Set(false)
	flag.Set(true)
	s.waitRun(t)

	m.Stop()
	assert.Equal(t, int32(2), s.calls.Load())
}

func TestMonitor_ReconnectDuringImmediateAttemptStillDrains(t *testing.T) {
	ctx := context.Background()
	q := queue.New(storage.NewMemory())
	_, err := q.Enqueue(ctx, "widget/create", nil, nil)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	reg := registry.New()
	require.NoError(t, reg.Handle("widget/create", func(context.Context, json.RawMessage) (registry.Result, error) {
		return registry.Result{Success: true}, nil
	}))
	require.NoError(t, reg.Handle("widget/update", func(context.Context, json.RawMessage) (registry.Result, error) {
		close(started)
		<-release
		return registry.Result{Success: true}, nil
	}))

	flag := NewFlag(false)
	p := syncer.NewProcessor(q, reg, syncer.WithOnline(func() bool { return true }))
	m := NewMonitor(flag, p)
	m.Start(ctx)
	defer m.Stop()

	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		_, err := p.Submit(ctx, "widget/update", map[string]string{"id": "w"}, "w")
		assert.NoError(t, err)
	}()
	<-started

	flag.Set(true)
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-submitted

	assert.Eventually(t, func() bool { return q.Len() == 0 }, 2*time.Second, 10*time.Millisecond,
		"the reconnect run waits for the attempt and drains the queue")
}

func TestMonitor_StopUnsubscribes(t *testing.T) {
	flag := NewFlag(false)
	s := newFakeSyncer()
	m := NewMonitor(flag, s)
	m.Start(context.Background())
	m.Stop()

	flag.Set(true)
	assert.Zero(t, s.calls.Load())

	// Stop is idempotent.
	m.Stop()
}

func TestMonitor_RunErrorsAreAbsorbed(t *testing.T) {
	for _, err := range []error{syncer.ErrRunInProgress, errors.New("persist queue: disk full")} {
		flag := NewFlag(true)
		s := newFakeSyncer()
		s.err = err
		m := NewMonitor(flag, s)
		m.Start(context.Background())
		s.waitRun(t)
		m.Stop()
	}
}

func TestFlag_Subscribe(t *testing.T) {
	flag := NewFlag(false)
	var got []bool
	unsub := flag.Subscribe(func(online bool) { got = append(got, online) })

	flag.Set(true)
	flag.Set(true)
	flag.Set(false)
	unsub()
	unsub()
	flag.Set(true)

	assert.Equal(t, []bool{true, false}, got)
	assert.True(t, flag.Online())
}

type fakePinger struct {
	err atomic.Pointer[error]
}

func (p *fakePinger) Ping(ctx context.Context) error {
	if e := p.err.Load(); e != nil {
		return *e
	}
	return ctx.Err()
}

func TestProbe_Check(t *testing.T) {
	pinger := &fakePinger{}
	flag := NewFlag(false)
	probe := NewProbe(pinger, flag, time.Hour, time.Second)

	require.True(t, probe.Check(context.Background()))
	assert.True(t, flag.Online())

	down := errors.New("connection refused")
	pinger.err.Store(&down)
	require.False(t, probe.Check(context.Background()))
	assert.False(t, flag.Online())
}

func TestProbe_RunDrivesMonitor(t *testing.T) {
	pinger := &fakePinger{}
	flag := NewFlag(false)
	s := newFakeSyncer()
	m := NewMonitor(flag, s)
	m.Start(context.Background())
	defer m.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewProbe(pinger, flag, 10*time.Millisecond, time.Second).Run(ctx)
		close(done)
	}()

	s.waitRun(t)
	cancel()
	<-done
	assert.True(t, flag.Online())
}
