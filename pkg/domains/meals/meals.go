// Package meals is the meal-log domain: create, edit and delete meal records
// while offline, replayed against the remote /meals resource.
package meals

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

// Domain is the action type prefix for meals.
const Domain = "meal"

// TempIDPrefix marks ids that have not been confirmed by the remote yet.
const TempIDPrefix = "tmp-"

// ErrNotFound is returned when an operation targets an unknown meal.
var ErrNotFound = errors.New("meal not found")

// CreatePayload is the payload of meal/create.
type CreatePayload struct {
	Name     string    `json:"name"`
	Calories int       `json:"calories"`
	EatenAt  time.Time `json:"eaten_at"`
}

// UpdatePayload is the payload of meal/update. Nil fields are left unchanged.
type UpdatePayload struct {
	ID       string  `json:"id"`
	Name     *string `json:"name,omitempty"`
	Calories *int    `json:"calories,omitempty"`
}

// DeletePayload is the payload of meal/delete.
type DeletePayload struct {
	ID string `json:"id"`
}

// Remote performs a JSON call against the remote authority.
type Remote interface {
	Do(ctx context.Context, method, path string, body any) (registry.Result, error)
}

// Register wires the meal handlers, validators and the store's reconciler.
func Register(reg *registry.Registry, rc Remote, store *entities.Store) error {
	h := &handlers{remote: rc, store: store}
	return reg.Domain(Domain).
		Handle(actions.VerbCreate, h.create, registry.WithValidator(registry.ValidateJSON(validateCreate))).
		Handle(actions.VerbUpdate, h.update, registry.WithValidator(registry.ValidateJSON(validateUpdate))).
		Handle(actions.VerbDelete, h.delete, registry.WithValidator(registry.ValidateJSON(validateDelete))).
		Reconciler(store).
		Err()
}

func validateCreate(p CreatePayload) error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if p.Calories < 0 {
		errs = append(errs, errors.New("calories must not be negative"))
	}
	return errors.Join(errs...)
}

func validateUpdate(p UpdatePayload) error {
	if p.ID == "" {
		return errors.New("id is required")
	}
	if p.Name == nil && p.Calories == nil {
		return errors.New("nothing to update")
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return errors.New("name must not be empty")
	}
	if p.Calories != nil && *p.Calories < 0 {
		return errors.New("calories must not be negative")
	}
	return nil
}

func validateDelete(p DeletePayload) error {
	if p.ID == "" {
		return errors.New("id is required")
	}
	return nil
}

type handlers struct {
	remote Remote
	store  *entities.Store
}

func (h *handlers) create(ctx context.Context, payload json.RawMessage) (registry.Result, error) {
	p, err := registry.Decode[CreatePayload](payload)
	if err != nil {
		return registry.Result{}, err
	}
	return h.remote.Do(ctx, http.MethodPost, "/meals", p)
}

func (h *handlers) update(ctx context.Context, payload json.RawMessage) (registry.Result, error) {
	p, err := registry.Decode[UpdatePayload](payload)
	if err != nil {
		return registry.Result{}, err
	}
	id, ok := h.resolve(p.ID)
	if !ok {
		return registry.Result{Error: fmt.Sprintf("meal %s is not created yet", p.ID)}, nil
	}
	p.ID = id
	return h.remote.Do(ctx, http.MethodPut, "/meals/"+url.PathEscape(id), p)
}

func (h *handlers) delete(ctx context.Context, payload json.RawMessage) (registry.Result, error) {
	p, err := registry.Decode[DeletePayload](payload)
	if err != nil {
		return registry.Result{}, err
	}
	id, ok := h.resolve(p.ID)
	if !ok {
		return registry.Result{Error: fmt.Sprintf("meal %s is not created yet", p.ID)}, nil
	}
	return h.remote.Do(ctx, http.MethodDelete, "/meals/"+url.PathEscape(id), nil)
}

// resolve maps a temporary id to its server id. It fails while the create
// for that id has not been confirmed.
func (h *handlers) resolve(id string) (string, bool) {
	serverID := h.store.Resolve(id)
	return serverID, !strings.HasPrefix(serverID, TempIDPrefix)
}

// Submitter hands an action to the sync processor.
type Submitter interface {
	Submit(ctx context.Context, actionType string, payload any, correlationID string) (syncer.SubmitResult, error)
}

// Collapser cancels a still-queued create.
type Collapser interface {
	Collapse(ctx context.Context, domain, correlationID string) (int, error)
}

// Service is the user-facing meal API. Every operation updates the local
// store first and then submits the matching action.
type Service struct {
	store    *entities.Store
	submit   Submitter
	collapse Collapser
	now      func() time.Time
}

// NewService creates a meal service.
func NewService(store *entities.Store, sub Submitter, col Collapser) *Service {
	return &Service{store: store, submit: sub, collapse: col, now: time.Now}
}

// List returns the local meals.
func (s *Service) List() []entities.Entity {
	return s.store.List()
}

// Create records a meal under a temporary id.
func (s *Service) Create(ctx context.Context, name string, calories int) (entities.Entity, error) {
	p := CreatePayload{Name: name, Calories: calories, EatenAt: s.now().UTC()}
	if err := validateCreate(p); err != nil {
		return entities.Entity{}, err
	}

	tempID := TempIDPrefix + uuid.NewString()
	e := s.store.Put(entities.Entity{
		ID: tempID,
		Fields: map[string]any{
			"name":     p.Name,
			"calories": p.Calories,
			"eaten_at": p.EatenAt,
		},
		SyncStatus: actions.SyncStatusPending,
	})

	if _, err := s.submit.Submit(ctx, actions.Type(Domain, actions.VerbCreate), p, tempID); err != nil {
		return e, err
	}
	return s.current(e), nil
}

// Update changes the name and/or calories of a meal.
func (s *Service) Update(ctx context.Context, id string, name *string, calories *int) (entities.Entity, error) {
	p := UpdatePayload{ID: id, Name: name, Calories: calories}
	if err := validateUpdate(p); err != nil {
		return entities.Entity{}, err
	}

	fields := map[string]any{}
	if name != nil {
		fields["name"] = *name
	}
	if calories != nil {
		fields["calories"] = *calories
	}
	e, ok := s.store.Patch(id, fields, actions.SyncStatusPending)
	if !ok {
		return entities.Entity{}, ErrNotFound
	}
	// A confirmed meal is addressed by its server id from here on.
	p.ID = e.ID

	if _, err := s.submit.Submit(ctx, actions.Type(Domain, actions.VerbUpdate), p, e.ID); err != nil {
		return e, err
	}
	return s.current(e), nil
}

// Delete removes a meal. A meal whose create is still queued is dropped
// locally together with its queued actions; nothing is sent to the remote.
func (s *Service) Delete(ctx context.Context, id string) error {
	cur, ok := s.store.Get(id)
	if !ok {
		return ErrNotFound
	}
	id = cur.ID

	n, err := s.collapse.Collapse(ctx, Domain, id)
	if err != nil {
		return fmt.Errorf("collapse meal %s: %w", id, err)
	}
	if n > 0 {
		s.store.Discard(id)
		return nil
	}

	s.store.Remove(id)
	_, err = s.submit.Submit(ctx, actions.Type(Domain, actions.VerbDelete), DeletePayload{ID: id}, id)
	return err
}

func (s *Service) current(e entities.Entity) entities.Entity {
	if cur, ok := s.store.Get(e.ID); ok {
		return cur
	}
	return e
}
