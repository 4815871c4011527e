package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guido-cesarano/syncq/pkg/actions"
	"github.com/guido-cesarano/syncq/pkg/connectivity"
	"github.com/guido-cesarano/syncq/pkg/entities"
	"github.com/guido-cesarano/syncq/pkg/queue"
	"github.com/guido-cesarano/syncq/pkg/storage"
	"github.com/guido-cesarano/syncq/pkg/syncer"
)

type stubSyncer struct {
	sum syncer.Summary
	err error
}

func (s *stubSyncer) ProcessQueue(context.Context) (syncer.Summary, error) {
	return s.sum, s.err
}

func setup(t *testing.T, apiKey string) (http.Handler, *queue.Store, *stubSyncer) {
	t.Helper()
	q := queue.New(storage.NewMemory())
	s := &stubSyncer{}
	reg := prometheus.NewRegistry()
	syncer.NewMetrics(reg).ObserveQueue(q.Stats())

	router := NewRouter(Deps{
		Queue:    q,
		Syncer:   s,
		Signal:   connectivity.NewFlag(true),
		Gatherer: reg,
		APIKey:   apiKey,
	})
	return router, q, s
}

func do(h http.Handler, method, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	router, _, _ := setup(t, "secret-key")

	tests := []struct {
		name           string
		key            string
		expectedStatus int
	}{
		{name: "No API Key", key: "", expectedStatus: http.StatusUnauthorized},
		{name: "Wrong API Key", key: "wrong-key", expectedStatus: http.StatusUnauthorized},
		{name: "Correct API Key", key: "secret-key", expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodGet, "/queue", tt.key)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health", "").Code, "health needs no key")
	assert.Equal(t, http.StatusOK, do(router, http.MethodOptions, "/queue", "").Code, "preflight skips auth")
}

func TestAuthDisabled(t *testing.T) {
	router, _, _ := setup(t, "")
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/stats", "").Code)
}

func TestQueueEndpoints(t *testing.T) {
	router, q, _ := setup(t, "")
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "meal/create", map[string]string{"name": "soup"}, nil)
	require.NoError(t, err)
	other, err := q.Enqueue(ctx, "meal/delete", map[string]string{"id": "1"}, nil)
	require.NoError(t, err)

	w := do(router, http.MethodGet, "/queue", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []actions.QueuedAction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, id, list[0].ID)

	// Mark the first action terminal, then retry it by hand.
	four, failed, msg := 4, true, "E"
	require.NoError(t, q.UpdateMetadata(ctx, id, actions.MetadataPatch{RetryCount: &four, Failed: &failed, Error: &msg}))

	w = do(router, http.MethodGet, "/stats", "")
	assert.JSONEq(t, `{"pending":1,"retrying":0,"failed":1}`, w.Body.String())

	w = do(router, http.MethodPost, "/queue/"+id+"/retry", "")
	require.Equal(t, http.StatusOK, w.Code)
	a, _ := q.Get(id)
	assert.Equal(t, 0, a.Metadata.RetryCount)
	assert.False(t, a.Metadata.Failed)
	assert.Empty(t, a.Metadata.Error)

	assert.Equal(t, http.StatusNotFound, do(router, http.MethodPost, "/queue/nope/retry", "").Code)

	assert.Equal(t, http.StatusNoContent, do(router, http.MethodDelete, "/queue/"+other, "").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodDelete, "/queue/"+other, "").Code)
	assert.Equal(t, 1, q.Len())

	assert.Equal(t, http.StatusNoContent, do(router, http.MethodDelete, "/queue", "").Code)
	assert.Equal(t, 0, q.Len())
}

func TestSyncEndpoint(t *testing.T) {
	router, _, s := setup(t, "")

	s.sum = syncer.Summary{Total: 2, Synced: 2}
	w := do(router, http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sum syncer.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 2, sum.Synced)

	s.err = syncer.ErrRunInProgress
	assert.Equal(t, http.StatusConflict, do(router, http.MethodPost, "/sync", "").Code)
}

func TestConnectivityAndMetrics(t *testing.T) {
	router, _, _ := setup(t, "")

	w := do(router, http.MethodGet, "/connectivity", "")
	assert.JSONEq(t, `{"online":true}`, w.Body.String())

	w = do(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "syncq_queue_depth"))
}

func TestEntityEndpoints(t *testing.T) {
	q := queue.New(storage.NewMemory())
	store := entities.New("meal")
	router := NewRouter(Deps{
		Queue:    q,
		Syncer:   &stubSyncer{},
		Entities: map[string]EntityStore{"meal": store},
	})
	ctx := context.Background()

	store.Put(entities.Entity{ID: "srv-1", Fields: map[string]any{"name": "soup"}, SyncStatus: actions.SyncStatusSynced})
	store.Put(entities.Entity{ID: "srv-2", SyncStatus: actions.SyncStatusSynced})
	store.Remove("srv-1")
	deleteID, err := q.Enqueue(ctx, "meal/delete", map[string]string{"id": "srv-1"}, &actions.Metadata{CorrelationID: "srv-1"})
	require.NoError(t, err)
	keep, err := q.Enqueue(ctx, "meal/update", map[string]string{"id": "srv-2"}, &actions.Metadata{CorrelationID: "srv-2"})
	require.NoError(t, err)

	w := do(router, http.MethodGet, "/entities/meal", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []entities.Entity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "srv-2", list[0].ID)

	w = do(router, http.MethodGet, "/entities/meal/tombstones", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "srv-1", list[0].ID)

	w = do(router, http.MethodPost, "/entities/meal/tombstones/srv-1/restore", "")
	require.Equal(t, http.StatusOK, w.Code)
	var restored entities.Entity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &restored))
	assert.Equal(t, "srv-1", restored.ID)
	assert.Equal(t, actions.SyncStatusSynced, restored.SyncStatus)

	_, queued := q.Get(deleteID)
	assert.False(t, queued, "the queued delete is dropped with the restore")
	_, queued = q.Get(keep)
	assert.True(t, queued)
	assert.Len(t, store.List(), 2)
	assert.Empty(t, store.Tombstones())

	assert.Equal(t, http.StatusNotFound, do(router, http.MethodPost, "/entities/meal/tombstones/srv-1/restore", "").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/entities/garden", "").Code)
}
