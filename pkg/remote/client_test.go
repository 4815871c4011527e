package remote

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestDo_Success(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/meals", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "soup", body["name"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "server-1"})
	})

	c := New(Config{BaseURL: srv.URL + "/", APIKey: "secret", Timeout: time.Second})
	res, err := c.Do(context.Background(), http.MethodPost, "/meals", map[string]string{"name": "soup"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	id, ok := res.String("id")
	assert.True(t, ok)
	assert.Equal(t, "server-1", id)
}

func TestDo_Rejected(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"calories must be positive"}`))
	})

	c := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	res, err := c.Do(context.Background(), http.MethodPut, "/meals/1", map[string]int{"calories": -1})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "calories must be positive", res.Error)
}

func TestDo_RejectedWithoutBody(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	c := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	res, err := c.Do(context.Background(), http.MethodDelete, "/meals/1", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Not Found", res.Error)
}

func TestDo_ServerErrorTripsBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	c := New(Config{
		BaseURL: srv.URL,
		Timeout: time.Second,
		Breaker: BreakerConfig{MaxFailures: 2, Timeout: time.Minute, HalfOpenLimit: 1},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Do(ctx, http.MethodGet, "/meals", nil)
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	}
	assert.True(t, c.BreakerOpen())

	_, err := c.Do(ctx, http.MethodGet, "/meals", nil)
	assert.True(t, IsBreakerError(err))
	assert.Equal(t, int32(2), hits.Load(), "open breaker short-circuits")
}

func TestPing(t *testing.T) {
	healthy := atomic.Bool{}
	healthy.Store(true)
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	c := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	assert.NoError(t, c.Ping(context.Background()))

	healthy.Store(false)
	assert.Error(t, c.Ping(context.Background()))

	srv.Close()
	assert.Error(t, c.Ping(context.Background()))
}

func TestToUint32(t *testing.T) {
	tests := []struct {
		in   int
		want uint32
	}{
		{in: -1, want: 0},
		{in: 0, want: 0},
		{in: 5, want: 5},
		{in: math.MaxInt32, want: math.MaxInt32},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, toUint32(tt.in), "toUint32(%d)", tt.in)
	}
}
