// Package entities provides the optimistic local store a domain keeps next to
// the offline queue.
//
// Domain code writes entities here first (marked pending) and the store's
// Reconcile method, registered as the domain's reconciler, converges them
// with what the remote authority accepted:
//   - a confirmed create replaces the temporary id with the server id
//   - a confirmed update or toggle marks the entity synced
//   - a confirmed delete drops the tombstone
//   - any failure marks the entity (or tombstone) as error
//
// Deleted entities are kept as tombstones until the remote delete is
// confirmed, so a failed delete can be restored by hand. Nothing is reverted
// automatically.
//
// A store created WithStorage writes a snapshot of its entities, tombstones
// and id aliases after every change and is hydrated with Load, so local state
// and temp-id resolution survive a restart alongside the queue.
package entities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/guido-cesarano/syncq/pkg/actions"
	"github.com/guido-cesarano/syncq/pkg/logger"
	"github.com/guido-cesarano/syncq/pkg/registry"
	"github.com/guido-cesarano/syncq/pkg/storage"
)

// KeyPrefix is prepended to the domain name to form the storage key.
const KeyPrefix = "syncq:entities:"

// Entity is a locally held domain object.
type Entity struct {
	ID         string             `json:"id"`
	Fields     map[string]any     `json:"fields"`
	SyncStatus actions.SyncStatus `json:"sync_status"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func (e Entity) clone() Entity {
	e.Fields = maps.Clone(e.Fields)
	return e
}

// Store holds the entities of one domain. Safe for concurrent use.
type Store struct {
	domain  string
	now     func() time.Time
	log     zerolog.Logger
	storage storage.Storage
	key     string

	mu         sync.RWMutex
	items      map[string]Entity
	order      []string
	tombstones map[string]Entity
	aliases    map[string]string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithStorage persists the store under key. An empty key means
// KeyPrefix + domain.
func WithStorage(st storage.Storage, key string) Option {
	return func(s *Store) {
		s.storage = st
		s.key = key
	}
}

// New creates an empty store for domain.
func New(domain string, opts ...Option) *Store {
	s := &Store{
		domain:     domain,
		now:        time.Now,
		log:        logger.Named("entities").With().Str("domain", domain).Logger(),
		items:      make(map[string]Entity),
		tombstones: make(map[string]Entity),
		aliases:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.key == "" {
		s.key = KeyPrefix + domain
	}
	return s
}

type snapshot struct {
	Items      []Entity          `json:"items"`
	Tombstones []Entity          `json:"tombstones"`
	Aliases    map[string]string `json:"aliases"`
}

// Load replaces the store's contents with the persisted snapshot. A missing
// key leaves the store empty. Field values come back as their JSON
// equivalents, so numbers are float64 and times are strings.
func (s *Store) Load(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	data, err := s.storage.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s entities: %w", s.domain, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode %s entities: %w", s.domain, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]Entity, len(snap.Items))
	s.order = s.order[:0]
	for _, e := range snap.Items {
		if _, dup := s.items[e.ID]; !dup {
			s.order = append(s.order, e.ID)
		}
		s.items[e.ID] = e
	}
	s.tombstones = make(map[string]Entity, len(snap.Tombstones))
	for _, e := range snap.Tombstones {
		s.tombstones[e.ID] = e
	}
	s.aliases = make(map[string]string, len(snap.Aliases))
	maps.Copy(s.aliases, snap.Aliases)

	s.log.Info().
		Int("entities", len(s.items)).
		Int("tombstones", len(s.tombstones)).
		Msg("Entities loaded")
	return nil
}

// persistLocked writes the snapshot through. Failures are logged and the
// in-memory view stays authoritative, since a local edit must not fail on a
// flush the next change will retry.
func (s *Store) persistLocked() {
	if s.storage == nil {
		return
	}
	snap := snapshot{
		Items:      make([]Entity, 0, len(s.order)),
		Tombstones: s.tombstonesLocked(),
		Aliases:    s.aliases,
	}
	for _, id := range s.order {
		snap.Items = append(snap.Items, s.items[id])
	}

	data, err := json.Marshal(snap)
	if err != nil {
		s.log.Error().Err(err).Msg("Encoding entities failed")
		return
	}
	if err := s.storage.Set(context.Background(), s.key, data); err != nil {
		s.log.Error().Err(err).Str("key", s.key).Msg("Persisting entities failed")
	}
}

// Domain returns the domain name the store was created for.
func (s *Store) Domain() string { return s.domain }

// Resolve maps a temporary id to the server id it was replaced with.
// Unknown ids are returned unchanged.
func (s *Store) Resolve(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(id)
}

func (s *Store) resolveLocked(id string) string {
	if serverID, ok := s.aliases[id]; ok {
		return serverID
	}
	return id
}

// Put inserts or replaces an entity. New entities are appended to the list order.
func (s *Store) Put(e Entity) Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	e = e.clone()
	e.ID = s.resolveLocked(e.ID)
	e.UpdatedAt = s.now()
	if _, exists := s.items[e.ID]; !exists {
		s.order = append(s.order, e.ID)
	}
	s.items[e.ID] = e
	s.persistLocked()
	return e.clone()
}

// Get returns the entity with id, following temp-id aliases.
func (s *Store) Get(id string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[s.resolveLocked(id)]
	if !ok {
		return Entity{}, false
	}
	return e.clone(), true
}

// List returns all live entities in insertion order.
func (s *Store) List() []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].clone())
	}
	return out
}

// Patch merges fields into the entity and sets its status.
func (s *Store) Patch(id string, fields map[string]any, status actions.SyncStatus) (Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = s.resolveLocked(id)
	e, ok := s.items[id]
	if !ok {
		return Entity{}, false
	}
	e = e.clone()
	if e.Fields == nil {
		e.Fields = make(map[string]any, len(fields))
	}
	maps.Copy(e.Fields, fields)
	e.SyncStatus = status
	e.UpdatedAt = s.now()
	s.items[id] = e
	s.persistLocked()
	return e.clone(), true
}

// SetStatus updates the sync status of a live entity.
func (s *Store) SetStatus(id string, status actions.SyncStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.setStatusLocked(s.resolveLocked(id), status) {
		return false
	}
	s.persistLocked()
	return true
}

func (s *Store) setStatusLocked(id string, status actions.SyncStatus) bool {
	e, ok := s.items[id]
	if !ok {
		return false
	}
	e.SyncStatus = status
	e.UpdatedAt = s.now()
	s.items[id] = e
	return true
}

// Remove deletes a live entity and keeps a pending tombstone until the remote
// delete is confirmed.
func (s *Store) Remove(id string) (Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = s.resolveLocked(id)
	e, ok := s.deleteLocked(id)
	if !ok {
		return Entity{}, false
	}
	e.SyncStatus = actions.SyncStatusPending
	e.UpdatedAt = s.now()
	s.tombstones[id] = e
	s.persistLocked()
	return e.clone(), true
}

// Discard deletes a live entity without a tombstone. Used when the entity was
// never confirmed remotely and its pending create was collapsed.
func (s *Store) Discard(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deleteLocked(s.resolveLocked(id)); !ok {
		return false
	}
	s.persistLocked()
	return true
}

func (s *Store) deleteLocked(id string) (Entity, bool) {
	e, ok := s.items[id]
	if !ok {
		return Entity{}, false
	}
	delete(s.items, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return e, true
}

// Tombstones returns entities whose delete is not yet confirmed, sorted by id.
func (s *Store) Tombstones() []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tombstonesLocked()
}

func (s *Store) tombstonesLocked() []Entity {
	out := make([]Entity, 0, len(s.tombstones))
	for _, e := range s.tombstones {
		out = append(out, e.clone())
	}
	slices.SortFunc(out, func(a, b Entity) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Restore brings a tombstoned entity back as a synced live entity. It is the
// manual way out of a delete the remote authority rejected.
func (s *Store) Restore(id string) (Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = s.resolveLocked(id)
	e, ok := s.tombstones[id]
	if !ok {
		return Entity{}, false
	}
	delete(s.tombstones, id)
	e.SyncStatus = actions.SyncStatusSynced
	e.UpdatedAt = s.now()
	if _, exists := s.items[id]; !exists {
		s.order = append(s.order, id)
	}
	s.items[id] = e
	s.persistLocked()
	s.log.Info().Str("id", id).Msg("Entity restored")
	return e.clone(), true
}

// Reconcile implements registry.Reconciler. The action's correlation id
// names the entity; entities that no longer exist are ignored.
func (s *Store) Reconcile(action actions.QueuedAction, success bool, result *registry.Result) {
	corrID := action.Metadata.CorrelationID
	if corrID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.persistLocked()

	id := s.resolveLocked(corrID)
	verb := action.Verb()

	if !success {
		if verb == actions.VerbDelete {
			if t, ok := s.tombstones[id]; ok {
				t.SyncStatus = actions.SyncStatusError
				t.UpdatedAt = s.now()
				s.tombstones[id] = t
			}
			return
		}
		s.setStatusLocked(id, actions.SyncStatusError)
		return
	}

	switch verb {
	case actions.VerbCreate:
		serverID := id
		if result != nil {
			if v, ok := result.String("id"); ok {
				serverID = v
			}
		}
		s.rekeyLocked(id, serverID)
		s.setStatusLocked(serverID, actions.SyncStatusSynced)
	case actions.VerbDelete:
		delete(s.tombstones, id)
	default:
		s.setStatusLocked(id, actions.SyncStatusSynced)
	}
}

func (s *Store) rekeyLocked(tempID, serverID string) {
	if tempID == serverID {
		return
	}
	s.aliases[tempID] = serverID

	if e, ok := s.items[tempID]; ok {
		delete(s.items, tempID)
		e.ID = serverID
		s.items[serverID] = e
		for i, v := range s.order {
			if v == tempID {
				s.order[i] = serverID
				break
			}
		}
	}
	if t, ok := s.tombstones[tempID]; ok {
		delete(s.tombstones, tempID)
		t.ID = serverID
		s.tombstones[serverID] = t
	}
	s.log.Debug().Str("temp_id", tempID).Str("id", serverID).Msg("Entity id confirmed")
}
