// Package queue provides the durable, ordered store of pending offline actions.
// It is pure data plus CRUD: it never dispatches actions and holds no business
// logic beyond collapsing a still-queued create.
//
// The Store type keeps an in-memory view that every read is served from, and
// writes the whole action list through to a storage.Storage after each
// mutation:
//   - Enqueue appends an action with a fresh UUID and timestamp
//   - Remove and UpdateMetadata are no-ops for unknown ids
//   - Collapse drops a queued create (and its follow-ups) for a cancelled entity
//   - Rekey moves follow-ups from a temporary id to the confirmed server id
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/guido-cesarano/syncq/pkg/actions"
	"github.com/guido-cesarano/syncq/pkg/logger"
	"github.com/guido-cesarano/syncq/pkg/storage"
)

// DefaultKey is the storage key the action list is persisted under.
const DefaultKey = "syncq:actions"

// Store manages the offline action queue.
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	storage storage.Storage
	key     string
	actions []actions.QueuedAction

	now   func() time.Time
	newID func() string
	log   zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides action id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New creates an empty store backed by st. Call Load to hydrate it from
// previously persisted state.
//
// Example:
//
//	q := queue.New(storage.NewRedis("localhost:6379"))
//	if err := q.Load(ctx); err != nil { ... }
func New(st storage.Storage, opts ...Option) *Store {
	s := &Store{
		storage: st,
		key:     DefaultKey,
		now:     time.Now,
		newID:   uuid.NewString,
		log:     logger.Named("queue"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory view with the persisted action list.
// A missing key is an empty queue.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.storage.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		s.mu.Lock()
		s.actions = nil
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}

	var list []actions.QueuedAction
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decode queue: %w", err)
	}

	s.mu.Lock()
	s.actions = list
	s.mu.Unlock()

	s.log.Info().Int("actions", len(list)).Msg("Queue loaded")
	return nil
}

// Enqueue appends a new action and returns its id.
//
// The payload may be a json.RawMessage or any value encoding/json can marshal.
// meta may be nil; its retry fields are always reset so that a new action
// starts in the pending state. Only CorrelationID is taken from it.
func (s *Store) Enqueue(ctx context.Context, actionType string, payload any, meta *actions.Metadata) (string, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload for %s: %w", actionType, err)
	}

	action := actions.QueuedAction{
		ID:        s.newID(),
		CreatedAt: s.now(),
		Type:      actionType,
		Payload:   raw,
	}
	if meta != nil {
		action.Metadata.CorrelationID = meta.CorrelationID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.actions = append(s.actions, action)
	if err := s.persistLocked(ctx); err != nil {
		return "", err
	}

	s.log.Debug().Str("action_id", action.ID).Str("type", actionType).Msg("Action enqueued")
	return action.ID, nil
}

// List returns a snapshot of all actions in insertion order.
func (s *Store) List() []actions.QueuedAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]actions.QueuedAction, len(s.actions))
	for i, a := range s.actions {
		out[i] = a.Clone()
	}
	return out
}

// Get returns a snapshot of one action.
func (s *Store) Get(id string) (actions.QueuedAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(id); i >= 0 {
		return s.actions[i].Clone(), true
	}
	return actions.QueuedAction{}, false
}

// Len returns the number of queued actions, terminal ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

// Remove deletes an action. Removing an absent id is a no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return nil
	}
	s.actions = append(s.actions[:i], s.actions[i+1:]...)
	return s.persistLocked(ctx)
}

// UpdateMetadata merges patch into the action's metadata.
// Unknown ids are ignored.
func (s *Store) UpdateMetadata(ctx context.Context, id string, patch actions.MetadataPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return nil
	}
	s.actions[i].Metadata = s.actions[i].Metadata.Apply(patch)
	return s.persistLocked(ctx)
}

// Clear empties the queue.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actions = nil
	if err := s.storage.Remove(ctx, s.key); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// Collapse cancels a never-confirmed entity. If a "<domain>/create" action
// carrying correlationID is still queued, it is removed together with every
// other queued action of that domain with the same correlation id, and the
// number of removed actions is returned. If no such create is queued nothing
// changes and 0 is returned: the entity exists remotely and the caller has to
// enqueue a real delete.
func (s *Store) Collapse(ctx context.Context, domain, correlationID string) (int, error) {
	if correlationID == "" {
		return 0, nil
	}
	createType := actions.Type(domain, actions.VerbCreate)

	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for _, a := range s.actions {
		if a.Type == createType && a.Metadata.CorrelationID == correlationID {
			found = true
			break
		}
	}
	if !found {
		return 0, nil
	}

	kept := s.actions[:0]
	removed := 0
	for _, a := range s.actions {
		if a.Domain() == domain && a.Metadata.CorrelationID == correlationID {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	s.actions = kept

	if err := s.persistLocked(ctx); err != nil {
		return removed, err
	}

	s.log.Info().
		Str("domain", domain).
		Str("correlation_id", correlationID).
		Int("removed", removed).
		Msg("Collapsed pending create")
	return removed, nil
}

// Rekey points every queued action of domain correlated with from at to
// instead. It runs once a create has been confirmed under a server id, so
// follow-ups queued against the temporary id keep ordering against work
// submitted later under the server id.
func (s *Store) Rekey(ctx context.Context, domain, from, to string) (int, error) {
	if from == "" || to == "" || from == to {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i, a := range s.actions {
		if a.Domain() == domain && a.Metadata.CorrelationID == from {
			s.actions[i].Metadata.CorrelationID = to
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}

	if err := s.persistLocked(ctx); err != nil {
		return n, err
	}

	s.log.Debug().
		Str("domain", domain).
		Str("from", from).
		Str("to", to).
		Int("actions", n).
		Msg("Rekeyed correlated actions")
	return n, nil
}

// HasCorrelated reports whether any queued action of domain targets correlationID.
func (s *Store) HasCorrelated(domain, correlationID string) bool {
	if correlationID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.actions {
		if a.Domain() == domain && a.Metadata.CorrelationID == correlationID {
			return true
		}
	}
	return false
}

// Stats summarizes the queue by retry state.
type Stats struct {
	Pending  int `json:"pending"`
	Retrying int `json:"retrying"`
	Failed   int `json:"failed"`
}

// Total returns the number of actions counted in s.
func (s Stats) Total() int {
	return s.Pending + s.Retrying + s.Failed
}

// Stats returns the current depth per state.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, a := range s.actions {
		switch {
		case a.Metadata.Failed:
			st.Failed++
		case a.Metadata.RetryCount > 0:
			st.Retrying++
		default:
			st.Pending++
		}
	}
	return st
}

func (s *Store) indexLocked(id string) int {
	for i := range s.actions {
		if s.actions[i].ID == id {
			return i
		}
	}
	return -1
}

// persistLocked writes the full list. The in-memory view has already been
// updated, so a failed write only loses durability, not the mutation.
func (s *Store) persistLocked(ctx context.Context) error {
	list := s.actions
	if list == nil {
		list = []actions.QueuedAction{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := s.storage.Set(ctx, s.key, data); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist queue")
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return append(json.RawMessage(nil), p...), nil
	default:
		return json.Marshal(p)
	}
}
