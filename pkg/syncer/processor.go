// Package syncer replays queued offline actions against the remote authority.
//
// The Processor drains the queue one action at a time:
//   - terminal (failed) actions are skipped
//   - actions still inside their backoff window are skipped, not slept on
//   - the rest are validated and dispatched through the registry
//   - success removes the action, failure bumps its retry metadata and marks it
//     terminal once the retry cap is exceeded
//
// The domain's reconciler is told about every outcome so optimistic local
// state converges to what the remote authority accepted.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/guido-cesarano/syncq/pkg/actions"
	"github.com/guido-cesarano/syncq/pkg/logger"
	"github.com/guido-cesarano/syncq/pkg/registry"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the fixed backoff window between attempts.
	DefaultRetryDelay = 10 * time.Second
)

// Queue is the part of the queue store the processor needs.
type Queue interface {
	Enqueue(ctx context.Context, actionType string, payload any, meta *actions.Metadata) (string, error)
	List() []actions.QueuedAction
	Get(id string) (actions.QueuedAction, bool)
	Remove(ctx context.Context, id string) error
	UpdateMetadata(ctx context.Context, id string, patch actions.MetadataPatch) error
	HasCorrelated(domain, correlationID string) bool
	Rekey(ctx context.Context, domain, from, to string) (int, error)
}

// Routes resolves action types to handlers and reconcilers.
type Routes interface {
	Lookup(actionType string) (registry.Route, bool)
	ReconcilerFor(actionType string) (registry.Reconciler, bool)
}

// OutcomeStatus is the state an action ends up in after one dispatch.
type OutcomeStatus string

const (
	OutcomeSynced   OutcomeStatus = "synced"
	OutcomeRetrying OutcomeStatus = "retrying"
	OutcomeFailed   OutcomeStatus = "failed"
)

// Outcome is emitted to observers after every dispatch attempt.
type Outcome struct {
	Action actions.QueuedAction
	Status OutcomeStatus
	Err    error
}

// Observer receives outcome signals, e.g. for a presentation layer.
type Observer func(Outcome)

// Summary describes one ProcessQueue run.
type Summary struct {
	Total    int           `json:"total"`
	Synced   int           `json:"synced"`
	Failed   int           `json:"failed"`
	Terminal int           `json:"terminal"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Processor runs the sync loop. The zero value is not usable; call NewProcessor.
type Processor struct {
	queue  Queue
	routes Routes

	maxRetries int
	retryDelay time.Duration
	now        func() time.Time
	online     func() bool
	observers  []Observer
	metrics    *Metrics
	log        zerolog.Logger

	running atomic.Bool
	// dispatchMu serializes a run with immediate Submit attempts.
	dispatchMu sync.Mutex
}

// Option configures a Processor.
type Option func(*Processor)

// WithMaxRetries sets the retry cap. An action is terminal once its retry
// count exceeds it.
func WithMaxRetries(n int) Option {
	return func(p *Processor) { p.maxRetries = n }
}

// WithRetryDelay sets the fixed backoff window.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Processor) { p.retryDelay = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithOnline tells Submit whether an immediate attempt is worth making.
// Without it Submit always enqueues.
func WithOnline(online func() bool) Option {
	return func(p *Processor) { p.online = online }
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(p *Processor) { p.observers = append(p.observers, o) }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) { p.log = l }
}

// NewProcessor creates a processor over q dispatching through routes.
func NewProcessor(q Queue, routes Routes, opts ...Option) *Processor {
	p := &Processor{
		queue:      q,
		routes:     routes,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		now:        time.Now,
		online:     func() bool { return false },
		log:        logger.Named("syncer"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Running reports whether a run is in progress.
func (p *Processor) Running() bool {
	return p.running.Load()
}

// ProcessQueue attempts every eligible queued action once, in queue order.
//
// Only one run is active at a time; a call made while another run is in
// progress returns ErrRunInProgress immediately. A run started while Submit
// is making an immediate attempt waits for that attempt instead. Dispatch failures of any
// kind are recorded on the action and never returned. The returned error is
// non-nil only when persisting the queue fails or ctx is cancelled, in which
// case the run stops early.
func (p *Processor) ProcessQueue(ctx context.Context) (Summary, error) {
	if !p.running.CompareAndSwap(false, true) {
		p.metrics.run("dropped")
		p.log.Debug().Msg("Sync run already in progress, dropping trigger")
		return Summary{}, ErrRunInProgress
	}
	defer p.running.Store(false)

	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	list := p.queue.List()
	if len(list) == 0 {
		return Summary{}, nil
	}

	started := time.Now()
	sum := Summary{Total: len(list)}

	for _, action := range list {
		if err := ctx.Err(); err != nil {
			sum.Duration = time.Since(started)
			p.metrics.run("aborted")
			return sum, err
		}

		if !p.eligible(action) {
			sum.Skipped++
			continue
		}

		status, err := p.process(ctx, action)
		if err != nil {
			sum.Duration = time.Since(started)
			p.metrics.run("aborted")
			p.log.Error().Err(err).Str("action_id", action.ID).Msg("Sync run aborted")
			return sum, err
		}

		switch status {
		case OutcomeSynced:
			sum.Synced++
		case OutcomeRetrying:
			sum.Failed++
		case OutcomeFailed:
			sum.Failed++
			sum.Terminal++
		}
	}

	sum.Duration = time.Since(started)
	p.metrics.run("completed")
	p.log.Info().
		Int("synced", sum.Synced).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Dur("duration", sum.Duration).
		Msgf("%d synced, %d failed", sum.Synced, sum.Failed)

	return sum, nil
}

// eligible applies the skip rules: terminal actions, actions inside their
// backoff window (the first attempt is never delayed) and actions removed
// from the queue since the snapshot was taken.
func (p *Processor) eligible(action actions.QueuedAction) bool {
	md := action.Metadata
	if md.Failed {
		return false
	}
	if md.RetryCount > 0 && md.LastAttemptAt != nil &&
		p.now().Before(md.LastAttemptAt.Add(p.retryDelay)) {
		return false
	}
	_, stillQueued := p.queue.Get(action.ID)
	return stillQueued
}

// process dispatches one action and records the outcome on the queue.
func (p *Processor) process(ctx context.Context, action actions.QueuedAction) (OutcomeStatus, error) {
	started := time.Now()
	result, dispatchErr := p.dispatch(ctx, action)
	p.metrics.observeDispatch(action.Type, time.Since(started))

	log := p.log.With().
		Str("action_id", action.ID).
		Str("type", action.Type).
		Int("retry_count", action.Metadata.RetryCount).
		Logger()

	if dispatchErr == nil {
		p.reconcile(action, true, &result)
		if err := p.queue.Remove(ctx, action.ID); err != nil {
			return "", fmt.Errorf("remove action %s: %w", action.ID, err)
		}
		if err := p.rekey(ctx, action, result); err != nil {
			return "", err
		}
		p.metrics.processed(OutcomeSynced, action)
		p.metrics.observeLatency(action, p.now())
		p.notify(Outcome{Action: action, Status: OutcomeSynced})
		log.Debug().Msg("Action synced")
		return OutcomeSynced, nil
	}

	now := p.now()
	retry := action.Metadata.RetryCount + 1
	failed := retry > p.maxRetries
	msg := dispatchErr.Error()
	patch := actions.MetadataPatch{
		RetryCount:    &retry,
		LastAttemptAt: &now,
		Failed:        &failed,
		Error:         &msg,
	}
	if err := p.queue.UpdateMetadata(ctx, action.ID, patch); err != nil {
		return "", fmt.Errorf("update action %s: %w", action.ID, err)
	}
	action.Metadata = action.Metadata.Apply(patch)

	p.reconcile(action, false, nil)

	status := OutcomeRetrying
	if failed {
		status = OutcomeFailed
		log.Error().Err(dispatchErr).Msg("Action failed permanently")
	} else {
		log.Warn().Err(dispatchErr).Msg("Action failed, will retry")
	}
	p.metrics.processed(status, action)
	p.notify(Outcome{Action: action, Status: status, Err: dispatchErr})
	return status, nil
}

// dispatch validates the payload and calls the registered handler.
func (p *Processor) dispatch(ctx context.Context, action actions.QueuedAction) (registry.Result, error) {
	route, ok := p.routes.Lookup(action.Type)
	if !ok {
		return registry.Result{}, &UnknownTypeError{Type: action.Type}
	}
	if route.Validate != nil {
		if err := route.Validate(action.Payload); err != nil {
			return registry.Result{}, &ValidationError{Type: action.Type, Err: err}
		}
	}
	return callHandler(ctx, route.Handler, action)
}

func callHandler(ctx context.Context, h registry.Handler, action actions.QueuedAction) (result registry.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &RemoteError{Message: fmt.Sprintf("handler panic: %v", r)}
		}
	}()

	result, err = h(ctx, action.Payload)
	if err != nil {
		return result, &RemoteError{Message: err.Error(), Err: err}
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "remote mutation failed"
		}
		return result, &RemoteError{Message: msg}
	}
	return result, nil
}

// rekey moves follow-ups of a confirmed create from its temporary id to the
// server id the handler reported.
func (p *Processor) rekey(ctx context.Context, action actions.QueuedAction, result registry.Result) error {
	if action.Verb() != actions.VerbCreate {
		return nil
	}
	serverID, ok := result.String("id")
	from := action.Metadata.CorrelationID
	if !ok || serverID == "" || from == "" || serverID == from {
		return nil
	}
	if _, err := p.queue.Rekey(ctx, action.Domain(), from, serverID); err != nil {
		return fmt.Errorf("rekey %s: %w", from, err)
	}
	return nil
}

func (p *Processor) reconcile(action actions.QueuedAction, success bool, result *registry.Result) {
	rc, ok := p.routes.ReconcilerFor(action.Type)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().
				Str("action_id", action.ID).
				Str("type", action.Type).
				Interface("panic", r).
				Msg("Reconciler panicked")
		}
	}()
	rc.Reconcile(action, success, result)
}

func (p *Processor) notify(o Outcome) {
	for _, obs := range p.observers {
		obs(o)
	}
}
