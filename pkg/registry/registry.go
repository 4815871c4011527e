// Package registry maps queued action types to the domain code that knows how
// to perform them remotely and how to reconcile the local store afterwards.
//
// Domains register themselves at startup; the sync processor only ever talks
// to the Registry, never to a concrete domain package:
//
//	reg := registry.New()
//	err := reg.Domain("meal").
//		Handle("create", createMeal, registry.WithValidator(validateCreate)).
//		Handle("delete", deleteMeal).
//		Reconciler(mealStore).
//		Err()
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/guido-cesarano/syncq/pkg/actions"
)

// ErrDuplicateRoute is returned when a type or domain is registered twice.
var ErrDuplicateRoute = errors.New("registry: already registered")

// Result is what a handler reports back for one remote mutation.
type Result struct {
	Success bool
	Error   string
	// Extra carries any additional response fields, such as a server-issued id.
	// An "id" on a create result is the id the entity is known by from then on.
	Extra map[string]any
}

// String returns Extra[key] if it is a non-empty string.
func (r Result) String(key string) (string, bool) {
	v, ok := r.Extra[key].(string)
	return v, ok && v != ""
}

// Handler performs the remote mutation for one action payload.
// It must not touch the queue.
type Handler func(ctx context.Context, payload json.RawMessage) (Result, error)

// Validator checks that a payload has the shape its action type requires.
type Validator func(payload json.RawMessage) error

// Reconciler aligns a domain's local store with the outcome of a sync attempt.
// It is called synchronously and must only touch its own store. result is nil
// on failure.
type Reconciler interface {
	Reconcile(action actions.QueuedAction, success bool, result *Result)
}

// ReconcilerFunc adapts a function to the Reconciler interface.
type ReconcilerFunc func(action actions.QueuedAction, success bool, result *Result)

func (f ReconcilerFunc) Reconcile(action actions.QueuedAction, success bool, result *Result) {
	f(action, success, result)
}

// Route is the registration for one action type.
type Route struct {
	Type     string
	Handler  Handler
	Validate Validator
}

// RouteOption configures a Route.
type RouteOption func(*Route)

// WithValidator attaches a payload validator.
func WithValidator(v Validator) RouteOption {
	return func(r *Route) { r.Validate = v }
}

// Registry is safe for concurrent use, though registration normally
// happens once at startup.
type Registry struct {
	mu          sync.RWMutex
	routes      map[string]Route
	reconcilers map[string]Reconciler
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		routes:      make(map[string]Route),
		reconcilers: make(map[string]Reconciler),
	}
}

// Handle registers the handler for a full action type ("meal/create").
func (r *Registry) Handle(actionType string, h Handler, opts ...RouteOption) error {
	if actionType == "" || h == nil {
		return fmt.Errorf("registry: action type and handler are required")
	}
	route := Route{Type: actionType, Handler: h}
	for _, opt := range opts {
		opt(&route)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.routes[actionType]; ok {
		return fmt.Errorf("%w: handler for %q", ErrDuplicateRoute, actionType)
	}
	r.routes[actionType] = route
	return nil
}

// Reconcile registers the reconciler notified for every action of domain.
func (r *Registry) Reconcile(domain string, rc Reconciler) error {
	if domain == "" || rc == nil {
		return fmt.Errorf("registry: domain and reconciler are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reconcilers[domain]; ok {
		return fmt.Errorf("%w: reconciler for %q", ErrDuplicateRoute, domain)
	}
	r.reconcilers[domain] = rc
	return nil
}

// Lookup returns the route for an action type.
func (r *Registry) Lookup(actionType string) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[actionType]
	return route, ok
}

// ReconcilerFor returns the reconciler of the domain the action type belongs to.
func (r *Registry) ReconcilerFor(actionType string) (Reconciler, bool) {
	domain, _ := actions.SplitType(actionType)

	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.reconcilers[domain]
	return rc, ok
}

// Types lists the registered action types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.routes))
	for t := range r.routes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// DomainBuilder registers the routes of one domain. The first error sticks
// and is reported by Err.
type DomainBuilder struct {
	reg    *Registry
	domain string
	err    error
}

// Domain starts registering routes for domain.
func (r *Registry) Domain(name string) *DomainBuilder {
	return &DomainBuilder{reg: r, domain: name}
}

// Handle registers "<domain>/<verb>".
func (b *DomainBuilder) Handle(verb string, h Handler, opts ...RouteOption) *DomainBuilder {
	if b.err == nil {
		b.err = b.reg.Handle(actions.Type(b.domain, verb), h, opts...)
	}
	return b
}

// Reconciler registers the domain's reconciler.
func (b *DomainBuilder) Reconciler(rc Reconciler) *DomainBuilder {
	if b.err == nil {
		b.err = b.reg.Reconcile(b.domain, rc)
	}
	return b
}

// Err returns the first registration error.
func (b *DomainBuilder) Err() error {
	return b.err
}
