package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famcal/internal/kv"
	"famcal/internal/model"
)

func sample() []model.Event {
	return []model.Event{
		{ID: "e1", Title: "Dentist", Date: "2024-03-15", Time: "10:00", Member: "A"},
		{ID: "e2", Title: "Trip", Date: "2024-03-20", Member: "B"},
	}
}

func newServer(t *testing.T) (*httptest.Server, kv.Store) {
	t.Helper()
	store := kv.NewMemoryStore()
	srv := httptest.NewServer(NewHandler(store, ""))
	t.Cleanup(srv.Close)
	return srv, store
}

func TestHTTPFetchNotFound(t *testing.T) {
	srv, _ := newServer(t)
	c := NewHTTPClient(srv.URL, "dev-1", time.Second)

	events, ok := c.FetchSnapshot(context.Background())
	assert.False(t, ok)
	assert.Nil(t, events)
}

func TestHTTPPushThenFetch(t *testing.T) {
	ctx := context.Background()
	srv, store := newServer(t)
	c := NewHTTPClient(srv.URL+"/", "dev-1", time.Second)
	c.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, c.PushSnapshot(ctx, sample()))

	raw, err := store.Get(ctx, DefaultBackupKey)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "dev-1", env.DeviceID)
	assert.Equal(t, "2024-03-01T00:00:00Z", env.LastUpdated.Format(time.RFC3339))

	events, ok := c.FetchSnapshot(ctx)
	require.True(t, ok)
	assert.True(t, model.EqualEvents(sample(), events))
}

func TestHTTPConditionalFetchUsesCache(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	h := NewHandler(store, "")

	var notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		if rec.Code == http.StatusNotModified {
			notModified.Add(1)
		}
		for k, v := range rec.Header() {
			w.Header()[k] = v
		}
		w.WriteHeader(rec.Code)
		_, _ = w.Write(rec.Body.Bytes())
	}))
	defer srv.Close()

	writer := NewHTTPClient(srv.URL, "other", time.Second)
	require.NoError(t, writer.PushSnapshot(ctx, sample()))

	c := NewHTTPClient(srv.URL, "dev-1", time.Second)
	first, ok := c.FetchSnapshot(ctx)
	require.True(t, ok)
	second, ok := c.FetchSnapshot(ctx)
	require.True(t, ok)

	assert.Equal(t, int32(1), notModified.Load())
	assert.True(t, model.EqualEvents(first, second))
}

func TestHTTPFetchFailuresAreAbsent(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{"malformed", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("{oops")) }},
		{"empty body", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewHTTPClient(srv.URL, "dev-1", 200*time.Millisecond)
			events, ok := c.FetchSnapshot(context.Background())
			assert.False(t, ok)
			assert.Nil(t, events)
		})
	}
}

func TestHTTPFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(url, "dev-1", 200*time.Millisecond)
	_, ok := c.FetchSnapshot(context.Background())
	assert.False(t, ok)
	assert.Error(t, c.PushSnapshot(context.Background(), sample()))
}

func TestHTTPPushNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewHTTPClient(srv.URL, "dev-1", time.Second).PushSnapshot(context.Background(), sample())
	assert.ErrorContains(t, err, "503")
}

func TestFetchDropsInvalidRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"events":[{"id":"ok","title":"t","date":"2024-01-01","member":"A"},{"id":"","title":"t","date":"x","member":"A"}],"deviceId":"d"}`))
	}))
	defer srv.Close()

	events, ok := NewHTTPClient(srv.URL, "dev-1", time.Second).FetchSnapshot(context.Background())
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].ID)
}

func TestHandlerRejectsMalformedPut(t *testing.T) {
	srv, store := newServer(t)

	req, err := http.NewRequest(http.MethodPut, srv.URL+SnapshotPath, strings.NewReader("not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = store.Get(context.Background(), DefaultBackupKey)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestHandlerHealth(t *testing.T) {
	srv, _ := newServer(t)
	for _, method := range []string{http.MethodGet, http.MethodHead} {
		req, err := http.NewRequest(method, srv.URL+"/health", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, method)
	}
}

func TestMirrorRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	m := NewMirror(store, "", "dev-1", time.Second)

	_, ok := m.FetchSnapshot(ctx)
	assert.False(t, ok)

	require.NoError(t, m.PushSnapshot(ctx, sample()))
	events, ok := m.FetchSnapshot(ctx)
	require.True(t, ok)
	assert.True(t, model.EqualEvents(sample(), events))

	raw, err := store.Get(ctx, DefaultBackupKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"deviceId":"dev-1"`)
	assert.Contains(t, string(raw), `"lastUpdated"`)
}

func TestMirrorMalformed(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(ctx, DefaultBackupKey, []byte("garbage")))

	_, ok := NewMirror(store, "", "dev-1", time.Second).FetchSnapshot(ctx)
	assert.False(t, ok)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com/private/blob?token=abc"))
	assert.Equal(t, "http://127.0.0.1:9090/...(redacted)", redactURL("http://127.0.0.1:9090"))
	assert.Equal(t, "remote://...(redacted)", redactURL("no-scheme"))
}
