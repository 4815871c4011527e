package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/guido-cesarano/syncq/pkg/actions"
	"github.com/guido-cesarano/syncq/pkg/registry"
)

// SubmitResult tells a producer what happened to its action.
type SubmitResult struct {
	// Queued is true when the action was stored for a later run.
	Queued   bool
	ActionID string
	// Result is the handler result of a successful immediate attempt.
	Result *registry.Result
}

// Submit is the producer entry point for a state-changing operation whose
// optimistic local update has already been applied.
//
// When online, no run holds the dispatch lock and nothing for the same entity
// is queued, the handler is attempted immediately and a success is reconciled
// without touching the queue. Otherwise, or if the attempt fails, the action
// is enqueued as a fresh pending action. A run triggered during the attempt
// waits for it and is not dropped.
func (p *Processor) Submit(ctx context.Context, actionType string, payload any, correlationID string) (SubmitResult, error) {
	domain, _ := actions.SplitType(actionType)

	if p.online() && p.dispatchMu.TryLock() {
		var (
			res registry.Result
			ok  bool
		)
		if !p.queue.HasCorrelated(domain, correlationID) {
			res, ok = p.attemptNow(ctx, actionType, payload, correlationID)
		}
		p.dispatchMu.Unlock()
		if ok {
			return SubmitResult{Result: &res}, nil
		}
	}

	id, err := p.queue.Enqueue(ctx, actionType, payload, &actions.Metadata{CorrelationID: correlationID})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("enqueue %s: %w", actionType, err)
	}
	return SubmitResult{Queued: true, ActionID: id}, nil
}

func (p *Processor) attemptNow(ctx context.Context, actionType string, payload any, correlationID string) (registry.Result, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return registry.Result{}, false
	}
	action := actions.QueuedAction{
		CreatedAt: p.now(),
		Type:      actionType,
		Payload:   raw,
		Metadata:  actions.Metadata{CorrelationID: correlationID},
	}

	result, err := p.dispatch(ctx, action)
	if err != nil {
		p.log.Info().Err(err).Str("type", actionType).Msg("Online attempt failed, queueing action")
		return registry.Result{}, false
	}

	p.reconcile(action, true, &result)
	if err := p.rekey(ctx, action, result); err != nil {
		p.log.Error().Err(err).Str("type", actionType).Msg("Rekeying follow-ups failed")
	}
	p.metrics.processed(OutcomeSynced, action)
	p.notify(Outcome{Action: action, Status: OutcomeSynced})
	return result, true
}
