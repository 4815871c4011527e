// Package connectivity bridges network state changes to the sync processor.
//
// A Signal reports whether the remote authority is reachable. The Monitor
// subscribes to it and triggers a sync run on every offline-to-online
// transition and once at startup when already online. It never polls: Flag is
// a settable Signal, and Probe is an optional source that keeps a Flag in step
// with a health check.
package connectivity

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/guido-cesarano/syncq/pkg/logger"
	"github.com/guido-cesarano/syncq/pkg/syncer"
)

// Signal reports connectivity and notifies subscribers of changes.
type Signal interface {
	Online() bool
	// Subscribe registers fn for state changes and returns a function that
	// removes the subscription.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Syncer is the processor entry point the monitor triggers.
type Syncer interface {
	ProcessQueue(ctx context.Context) (syncer.Summary, error)
}

// Monitor triggers sync runs when connectivity is regained.
type Monitor struct {
	signal Signal
	syncer Syncer
	log    zerolog.Logger

	mu          sync.Mutex
	ctx         context.Context
	unsubscribe func()
	wg          sync.WaitGroup
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorLogger sets the logger.
func WithMonitorLogger(l zerolog.Logger) MonitorOption {
	return func(m *Monitor) { m.log = l }
}

// NewMonitor creates a monitor. Call Start to begin listening.
func NewMonitor(sig Signal, s Syncer, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		signal: sig,
		syncer: s,
		log:    logger.Named("connectivity"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start subscribes to the signal and triggers a run if already online.
// Runs use ctx; cancelling it stops in-progress runs between actions.
// Calling Start twice is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.unsubscribe != nil {
		m.mu.Unlock()
		return
	}
	m.ctx = ctx
	m.unsubscribe = m.signal.Subscribe(m.onChange)
	m.mu.Unlock()

	if m.signal.Online() {
		m.log.Info().Msg("Online at startup, syncing queue")
		m.trigger()
	}
}

// Stop unsubscribes and waits for triggered runs to return.
func (m *Monitor) Stop() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.wg.Wait()
}

func (m *Monitor) onChange(online bool) {
	if !online {
		m.log.Warn().Msg("Connection lost, actions will be queued")
		return
	}
	m.log.Info().Msg("Connection restored, syncing queue")
	m.trigger()
}

func (m *Monitor) trigger() {
	m.mu.Lock()
	if m.unsubscribe == nil {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		sum, err := m.syncer.ProcessQueue(ctx)
		switch {
		case errors.Is(err, syncer.ErrRunInProgress):
			m.log.Debug().Msg("Sync already running, trigger dropped")
		case err != nil:
			m.log.Error().Err(err).Msg("Sync run failed")
		default:
			m.log.Debug().Int("synced", sum.Synced).Int("failed", sum.Failed).Msg("Triggered sync finished")
		}
	}()
}
