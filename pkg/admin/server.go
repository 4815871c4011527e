// Package admin exposes the offline queue over HTTP for inspection and manual
// resolution.
//
// API Endpoints:
//
//	GET    /health              - liveness, no auth
//	GET    /queue               - list queued actions in order
//	DELETE /queue               - clear the queue
//	DELETE /queue/{id}          - drop one action
//	POST   /queue/{id}/retry    - reset a failed action to pending
//	GET    /stats               - pending / retrying / failed counts
//	POST   /sync                - run the sync processor now (409 if running)
//	GET    /connectivity        - current online state
//	GET    /metrics             - Prometheus metrics
//	GET    /entities/{domain}   - local entities of a domain
//	GET    /entities/{domain}/tombstones
//	                            - deletes not yet confirmed by the remote
//	POST   /entities/{domain}/tombstones/{id}/restore
//	                            - undo a delete and drop its queued actions
//
// Every endpoint except /health requires X-API-Key when a key is configured.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guido-cesarano/syncq/pkg/actions"
	"github.com/guido-cesarano/syncq/pkg/entities"
	"github.com/guido-cesarano/syncq/pkg/httpmw"
	"github.com/guido-cesarano/syncq/pkg/logger"
	"github.com/guido-cesarano/syncq/pkg/queue"
	"github.com/guido-cesarano/syncq/pkg/syncer"
)

// Queue is the queue surface the admin API needs.
type Queue interface {
	List() []actions.QueuedAction
	Get(id string) (actions.QueuedAction, bool)
	Remove(ctx context.Context, id string) error
	UpdateMetadata(ctx context.Context, id string, patch actions.MetadataPatch) error
	Clear(ctx context.Context) error
	Stats() queue.Stats
}

// Syncer runs the sync processor.
type Syncer interface {
	ProcessQueue(ctx context.Context) (syncer.Summary, error)
}

// Signal reports connectivity.
type Signal interface {
	Online() bool
}

// EntityStore is the local entity surface of one domain.
type EntityStore interface {
	List() []entities.Entity
	Tombstones() []entities.Entity
	Restore(id string) (entities.Entity, bool)
}

// ErrNoTombstone is returned when restoring an entity that has no pending delete.
var ErrNoTombstone = errors.New("no tombstone for entity")

// Deps are the collaborators of the admin API. Signal, Gatherer and Entities
// are optional.
type Deps struct {
	Queue    Queue
	Syncer   Syncer
	Signal   Signal
	Gatherer prometheus.Gatherer
	// Entities maps a domain name to its entity store.
	Entities map[string]EntityStore
	APIKey   string
}

// NewRouter builds the admin HTTP handler.
func NewRouter(d Deps) http.Handler {
	h := &handler{deps: d}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httpmw.RequestLogger("admin"))
	r.Use(httpmw.CORS)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(httpmw.RequireAPIKey(d.APIKey))

		r.Get("/queue", h.listQueue)
		r.Delete("/queue", h.clearQueue)
		r.Delete("/queue/{id}", h.removeAction)
		r.Post("/queue/{id}/retry", h.retryAction)
		r.Get("/stats", h.stats)
		r.Post("/sync", h.sync)
		r.Get("/connectivity", h.connectivity)

		r.Route("/entities/{domain}", func(r chi.Router) {
			r.Get("/", h.listEntities)
			r.Get("/tombstones", h.listTombstones)
			r.Post("/tombstones/{id}/restore", h.restoreEntity)
		})

		if d.Gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
		}
	})

	return r
}

type handler struct {
	deps Deps
}

func (h *handler) listQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Queue.List())
}

func (h *handler) clearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Queue.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	logger.Log.Warn().Msg("Queue cleared via admin API")
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) removeAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.deps.Queue.Get(id); !ok {
		writeError(w, http.StatusNotFound, errors.New("action not found"))
		return
	}
	if err := h.deps.Queue.Remove(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	logger.Log.Info().Str("action_id", id).Msg("Action removed via admin API")
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) retryAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.deps.Queue.Get(id); !ok {
		writeError(w, http.StatusNotFound, errors.New("action not found"))
		return
	}
	if err := h.deps.Queue.UpdateMetadata(r.Context(), id, ResetPatch()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	a, _ := h.deps.Queue.Get(id)
	writeJSON(w, http.StatusOK, a)
}

func (h *handler) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Queue.Stats())
}

func (h *handler) sync(w http.ResponseWriter, r *http.Request) {
	sum, err := h.deps.Syncer.ProcessQueue(r.Context())
	switch {
	case errors.Is(err, syncer.ErrRunInProgress):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, sum)
	}
}

func (h *handler) connectivity(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Signal == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no connectivity signal configured"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.deps.Signal.Online()})
}

func (h *handler) entityStore(w http.ResponseWriter, r *http.Request) (EntityStore, bool) {
	domain := chi.URLParam(r, "domain")
	es, ok := h.deps.Entities[domain]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown domain %q", domain))
	}
	return es, ok
}

func (h *handler) listEntities(w http.ResponseWriter, r *http.Request) {
	if es, ok := h.entityStore(w, r); ok {
		writeJSON(w, http.StatusOK, es.List())
	}
}

func (h *handler) listTombstones(w http.ResponseWriter, r *http.Request) {
	if es, ok := h.entityStore(w, r); ok {
		writeJSON(w, http.StatusOK, es.Tombstones())
	}
}

func (h *handler) restoreEntity(w http.ResponseWriter, r *http.Request) {
	es, ok := h.entityStore(w, r)
	if !ok {
		return
	}
	domain, id := chi.URLParam(r, "domain"), chi.URLParam(r, "id")

	e, dropped, err := RestoreEntity(r.Context(), h.deps.Queue, domain, es, id)
	switch {
	case errors.Is(err, ErrNoTombstone):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	logger.Log.Info().
		Str("domain", domain).
		Str("id", e.ID).
		Int("dropped", dropped).
		Msg("Entity restored via admin API")
	writeJSON(w, http.StatusOK, e)
}

// RestoreEntity undoes a local delete. The tombstone becomes a live synced
// entity again and the delete actions still queued for it are removed, so a
// later run cannot delete it after all. It returns the restored entity and
// the number of removed actions.
func RestoreEntity(ctx context.Context, q Queue, domain string, es EntityStore, id string) (entities.Entity, int, error) {
	e, ok := es.Restore(id)
	if !ok {
		return entities.Entity{}, 0, fmt.Errorf("%w %s/%s", ErrNoTombstone, domain, id)
	}

	deleteType := actions.Type(domain, actions.VerbDelete)
	dropped := 0
	for _, a := range q.List() {
		if a.Type != deleteType {
			continue
		}
		if corr := a.Metadata.CorrelationID; corr != e.ID && corr != id {
			continue
		}
		if err := q.Remove(ctx, a.ID); err != nil {
			return e, dropped, fmt.Errorf("remove delete action %s: %w", a.ID, err)
		}
		dropped++
	}
	return e, dropped, nil
}

// ResetPatch returns the metadata patch that puts a failed action back into
// the pending state.
func ResetPatch() actions.MetadataPatch {
	zero := 0
	notFailed := false
	noError := ""
	return actions.MetadataPatch{RetryCount: &zero, Failed: &notFailed, Error: &noError}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
