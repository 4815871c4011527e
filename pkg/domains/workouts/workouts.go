// Package workouts is the training-plan domain. Workouts are scheduled,
// marked complete (or not) and removed; each change is replayed against the
// remote /workouts resource.
package workouts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guido-cesarano/syncq/pkg/actions"
	"github.com/guido-cesarano/syncq/pkg/entities"
	"github.com/guido-cesarano/syncq/pkg/registry"
	"github.com/guido-cesarano/syncq/pkg/syncer"
)

// Domain is the action type prefix for workouts.
const Domain = "workout"

const tempPrefix = "tmp-"

// ErrNotFound is returned when an operation targets an unknown workout.
var ErrNotFound = errors.New("workout not found")

// CreatePayload is the payload of workout/create.
type CreatePayload struct {
	Name         string    `json:"name"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// TogglePayload is the payload of workout/toggle. Completed is the new state,
// not a flip.
type TogglePayload struct {
	ID        string `json:"id"`
	Completed bool   `json:"completed"`
}

// DeletePayload is the payload of workout/delete.
type DeletePayload struct {
	ID string `json:"id"`
}

// Remote performs a JSON call against the remote authority.
type Remote interface {
	Do(ctx context.Context, method, path string, body any) (registry.Result, error)
}

// Register wires the workout handlers and the store's reconciler into reg.
func Register(reg *registry.Registry, rc Remote, store *entities.Store) error {
	return reg.Domain(Domain).
		Handle(actions.VerbCreate, createHandler(rc),
			registry.WithValidator(registry.ValidateJSON(func(p CreatePayload) error {
				if strings.TrimSpace(p.Name) == "" {
					return errors.New("name is required")
				}
				return nil
			}))).
		Handle(actions.VerbToggle, toggleHandler(rc, store),
			registry.WithValidator(registry.ValidateJSON(requireID(func(p TogglePayload) string { return p.ID })))).
		Handle(actions.VerbDelete, deleteHandler(rc, store),
			registry.WithValidator(registry.ValidateJSON(requireID(func(p DeletePayload) string { return p.ID })))).
		Reconciler(store).
		Err()
}

func requireID[T any](id func(T) string) func(T) error {
	return func(p T) error {
		if id(p) == "" {
			return errors.New("id is required")
		}
		return nil
	}
}

func createHandler(rc Remote) registry.Handler {
	return func(ctx context.Context, payload json.RawMessage) (registry.Result, error) {
		p, err := registry.Decode[CreatePayload](payload)
		if err != nil {
			return registry.Result{}, err
		}
		return rc.Do(ctx, http.MethodPost, "/workouts", p)
	}
}

func toggleHandler(rc Remote, store *entities.Store) registry.Handler {
	return func(ctx context.Context, payload json.RawMessage) (registry.Result, error) {
		p, err := registry.Decode[TogglePayload](payload)
		if err != nil {
			return registry.Result{}, err
		}
		id := store.Resolve(p.ID)
		if strings.HasPrefix(id, tempPrefix) {
			return registry.Result{Error: fmt.Sprintf("workout %s is not created yet", p.ID)}, nil
		}
		return rc.Do(ctx, http.MethodPatch, "/workouts/"+url.PathEscape(id), map[string]bool{"completed": p.Completed})
	}
}

func deleteHandler(rc Remote, store *entities.Store) registry.Handler {
	return func(ctx context.Context, payload json.RawMessage) (registry.Result, error) {
		p, err := registry.Decode[DeletePayload](payload)
		if err != nil {
			return registry.Result{}, err
		}
		id := store.Resolve(p.ID)
		if strings.HasPrefix(id, tempPrefix) {
			return registry.Result{Error: fmt.Sprintf("workout %s is not created yet", p.ID)}, nil
		}
		return rc.Do(ctx, http.MethodDelete, "/workouts/"+url.PathEscape(id), nil)
	}
}

// Submitter hands an action to the sync processor.
type Submitter interface {
	Submit(ctx context.Context, actionType string, payload any, correlationID string) (syncer.SubmitResult, error)
}

// Collapser cancels a still-queued create.
type Collapser interface {
	Collapse(ctx context.Context, domain, correlationID string) (int, error)
}

// Service is the user-facing workout API.
type Service struct {
	store    *entities.Store
	submit   Submitter
	collapse Collapser
}

// NewService creates a workout service.
func NewService(store *entities.Store, sub Submitter, col Collapser) *Service {
	return &Service{store: store, submit: sub, collapse: col}
}

// List returns the local workouts.
func (s *Service) List() []entities.Entity {
	return s.store.List()
}

// Schedule creates a workout under a temporary id.
func (s *Service) Schedule(ctx context.Context, name string, at time.Time) (entities.Entity, error) {
	if strings.TrimSpace(name) == "" {
		return entities.Entity{}, errors.New("name is required")
	}
	tempID := tempPrefix + uuid.NewString()
	s.store.Put(entities.Entity{
		ID:         tempID,
		Fields:     map[string]any{"name": name, "scheduled_for": at.UTC(), "completed": false},
		SyncStatus: actions.SyncStatusPending,
	})

	p := CreatePayload{Name: name, ScheduledFor: at.UTC()}
	_, err := s.submit.Submit(ctx, actions.Type(Domain, actions.VerbCreate), p, tempID)
	e, _ := s.store.Get(tempID)
	return e, err
}

// Toggle flips the completed flag.
func (s *Service) Toggle(ctx context.Context, id string) (entities.Entity, error) {
	cur, ok := s.store.Get(id)
	if !ok {
		return entities.Entity{}, ErrNotFound
	}
	id = cur.ID
	completed, _ := cur.Fields["completed"].(bool)
	completed = !completed

	s.store.Patch(id, map[string]any{"completed": completed}, actions.SyncStatusPending)
	_, err := s.submit.Submit(ctx, actions.Type(Domain, actions.VerbToggle), TogglePayload{ID: id, Completed: completed}, id)
	e, _ := s.store.Get(id)
	return e, err
}

// Delete removes a workout, collapsing a still-queued create.
func (s *Service) Delete(ctx context.Context, id string) error {
	cur, ok := s.store.Get(id)
	if !ok {
		return ErrNotFound
	}
	id = cur.ID
	n, err := s.collapse.Collapse(ctx, Domain, id)
	if err != nil {
		return fmt.Errorf("collapse workout %s: %w", id, err)
	}
	if n > 0 {
		s.store.Discard(id)
		return nil
	}
	s.store.Remove(id)
	_, err = s.submit.Submit(ctx, actions.Type(Domain, actions.VerbDelete), DeletePayload{ID: id}, id)
	return err
}
