// Package main implements a demo remote authority for syncq.
// It keeps meals and workouts in memory and assigns server ids on create.
//
// API Endpoints:
//
//	GET    /health           - liveness, no auth
//	GET    /meals            - list meals
//	POST   /meals            - create a meal, returns {"id": ...}
//	PUT    /meals/{id}       - update name and/or calories
//	DELETE /meals/{id}       - delete a meal
//	GET    /workouts         - list workouts
//	POST   /workouts         - create a workout, returns {"id": ...}
//	PATCH  /workouts/{id}    - set {"completed": bool}
//	DELETE /workouts/{id}    - delete a workout
//
// Rejections are 4xx with {"error": "..."}. With -flaky > 0 that fraction of
// mutations fails with 503 to exercise retries.
//
// Usage:
//
//	API_KEY=dev-key go run ./cmd/remote -addr :8080 -flaky 0.2
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/guido-cesarano/syncq/pkg/httpmw"
	"github.com/guido-cesarano/syncq/pkg/logger"
)

// collection is an ordered in-memory set of JSON records.
type collection struct {
	mu    sync.Mutex
	name  string
	items map[string]map[string]any
	order []string
}

func newCollection(name string) *collection {
	return &collection{name: name, items: make(map[string]map[string]any)}
}

func (c *collection) list() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

func (c *collection) create(fields map[string]any) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uuid.New().String()
	rec := map[string]any{"id": id}
	for k, v := range fields {
		if k != "id" {
			rec[k] = v
		}
	}
	rec["updated_at"] = time.Now().UTC()
	c.items[id] = rec
	c.order = append(c.order, id)
	return rec
}

func (c *collection) update(id string, fields map[string]any) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.items[id]
	if !ok {
		return nil, false
	}
	for k, v := range fields {
		if k != "id" && v != nil {
			rec[k] = v
		}
	}
	rec["updated_at"] = time.Now().UTC()
	return rec, true
}

func (c *collection) remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return false
	}
	delete(c.items, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// server holds the remote's state.
type server struct {
	meals    *collection
	workouts *collection
	// flaky is the fraction of mutations answered with 503.
	flaky float64
}

func newServer(flaky float64) *server {
	return &server{
		meals:    newCollection("meal"),
		workouts: newCollection("workout"),
		flaky:    flaky,
	}
}

// setupRouter configures the HTTP handlers.
// CORS runs before auth so preflight requests don't fail auth.
func setupRouter(s *server, apiKey string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httpmw.RequestLogger("remote"))
	r.Use(httpmw.CORS)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(httpmw.RequireAPIKey(apiKey))
		r.Use(s.chaos)

		r.Get("/meals", s.listHandler(s.meals))
		r.Post("/meals", s.createHandler(s.meals, validateMeal))
		r.Put("/meals/{id}", s.updateHandler(s.meals, validateMealUpdate))
		r.Delete("/meals/{id}", s.deleteHandler(s.meals))

		r.Get("/workouts", s.listHandler(s.workouts))
		r.Post("/workouts", s.createHandler(s.workouts, validateWorkout))
		r.Patch("/workouts/{id}", s.updateHandler(s.workouts, validateToggle))
		r.Delete("/workouts/{id}", s.deleteHandler(s.workouts))
	})

	return r
}

// chaos fails a fraction of mutations with 503.
func (s *server) chaos(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && s.flaky > 0 && rand.Float64() < s.flaky {
			logger.Log.Warn().Str("method", r.Method).Str("path", r.URL.Path).Msg("Injected failure")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type validator func(fields map[string]any) error

func validateMeal(f map[string]any) error {
	name, _ := f["name"].(string)
	if strings.TrimSpace(name) == "" {
		return errors.New("name is required")
	}
	if cal, ok := f["calories"].(float64); ok && cal < 0 {
		return errors.New("calories must not be negative")
	}
	return nil
}

func validateMealUpdate(f map[string]any) error {
	if name, ok := f["name"].(string); ok && strings.TrimSpace(name) == "" {
		return errors.New("name must not be empty")
	}
	if cal, ok := f["calories"].(float64); ok && cal < 0 {
		return errors.New("calories must not be negative")
	}
	return nil
}

func validateWorkout(f map[string]any) error {
	name, _ := f["name"].(string)
	if strings.TrimSpace(name) == "" {
		return errors.New("name is required")
	}
	return nil
}

func validateToggle(f map[string]any) error {
	if _, ok := f["completed"].(bool); !ok {
		return errors.New("completed must be a boolean")
	}
	return nil
}

func (s *server) listHandler(c *collection) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, c.list())
	}
}

func (s *server) createHandler(c *collection, validate validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fields, ok := decodeBody(w, r)
		if !ok {
			return
		}
		if err := validate(fields); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		rec := c.create(fields)
		logger.Log.Info().Str("collection", c.name).Interface("id", rec["id"]).Msg("Record created")
		writeJSON(w, http.StatusCreated, rec)
	}
}

func (s *server) updateHandler(c *collection, validate validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		fields, ok := decodeBody(w, r)
		if !ok {
			return
		}
		if err := validate(fields); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		rec, found := c.update(id, fields)
		if !found {
			writeError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", c.name, id))
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *server) deleteHandler(c *collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !c.remove(id) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", c.name, id))
			return
		}
		logger.Log.Info().Str("collection", c.name).Str("id", id).Msg("Record deleted")
		writeJSON(w, http.StatusOK, map[string]string{"id": id})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return nil, false
	}
	return fields, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flaky := flag.Float64("flaky", 0, "fraction of mutations to fail with 503 (0-1)")
	flag.Parse()

	apiKey := os.Getenv("API_KEY")
	if apiKey == "" {
		logger.Log.Warn().Msg("API_KEY not set. Authentication disabled.")
	} else {
		logger.Log.Info().Msg("API Authentication enabled.")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           setupRouter(newServer(*flaky), apiKey),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Log.Info().Str("addr", *addr).Float64("flaky", *flaky).Msg("Remote listening")
	if err := srv.ListenAndServe(); err != nil {
		logger.Log.Fatal().Err(err).Msg("Server failed")
	}
}
